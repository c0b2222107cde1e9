// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the serial/role/store settings for a stack binary
// from a YAML file via viper, applying the same sort of fixups the
// gateway configuration used for its serial links.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level shape for a slavesim/masterctl process: one
// serial link, one role-specific section, and logging.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	Slave  SlaveConfig  `mapstructure:"slave"`
	Master MasterConfig `mapstructure:"master"`
	Log    LogConfig    `mapstructure:"log"`
}

// LogConfig defines logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // empty means stderr
}

// SlaveConfig configures a local slave device.
type SlaveConfig struct {
	Address             byte        `mapstructure:"address"`
	LastReg             uint16      `mapstructure:"last_reg"`
	EnableCustomOpcodes bool        `mapstructure:"enable_custom_opcodes"`
	Store               StoreConfig `mapstructure:"store"`
}

// MasterConfig holds master-side settings. masterctl reads
// EnableCustomOpcodes from it; it takes the target slave address from its
// --slave flag and does not read SlaveAddress.
type MasterConfig struct {
	SlaveAddress        byte `mapstructure:"slave_address"`
	EnableCustomOpcodes bool `mapstructure:"enable_custom_opcodes"`
}

// StoreConfig selects and parameterizes the register/packet backing store.
type StoreConfig struct {
	Type string `mapstructure:"type"` // "memory" or "mmap"
	Path string `mapstructure:"path"` // file path for "mmap"
}

// SerialConfig defines RTU link settings, unchanged in shape from the
// gateway's serial section: this stack still runs over a single UART.
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// Load reads configuration from configFile, or from the default search
// path (./config.yaml, $HOME/.modbusrtu/config.yaml, /etc/modbusrtu/) when
// configFile is empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbusrtu/")
		v.AddConfigPath("$HOME/.modbusrtu")
		v.AddConfigPath(".")
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("slave.last_reg", 0x00FF)
	v.SetDefault("store.type", "memory")
	v.SetDefault("serial.baud_rate", 19200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file anywhere on the search path: fall back to the
		// defaults set above plus whatever environment overrides exist.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&cfg.Serial)
	return &cfg, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
}
