// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command slavesim runs a Modbus RTU slave over a real UART, serving a
// register and packet store that is either purely in-memory or backed by
// a memory-mapped file.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ionlattice/modbusrtu/internal/config"
	"github.com/ionlattice/modbusrtu/rtu"
	"github.com/ionlattice/modbusrtu/serialadapter"
	"github.com/ionlattice/modbusrtu/store"
)

func main() {
	app := &cli.App{
		Name:  "slavesim",
		Usage: "Run a Modbus RTU slave simulator over a serial link",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file path"},
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "override serial device"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dev := c.String("device"); dev != "" {
		cfg.Serial.Device = dev
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	slog.SetLogLoggerLevel(level)

	var backing store.Store
	switch cfg.Slave.Store.Type {
	case "mmap":
		backing, err = store.OpenMmapStore(cfg.Slave.Store.Path)
		if err != nil {
			return fmt.Errorf("open mmap store: %w", err)
		}
	default:
		backing = store.NewMemoryStore()
	}
	defer backing.Close()

	port := serialadapter.Open(serialadapter.Config{
		Device:             cfg.Serial.Device,
		BaudRate:           cfg.Serial.BaudRate,
		DataBits:           cfg.Serial.DataBits,
		Parity:             cfg.Serial.Parity,
		StopBits:           cfg.Serial.StopBits,
		Timeout:            cfg.Serial.Timeout,
		RS485:              cfg.Serial.RS485,
		DelayRtsBeforeSend: cfg.Serial.DelayRtsBeforeSend,
		DelayRtsAfterSend:  cfg.Serial.DelayRtsAfterSend,
		RtsHighDuringSend:  cfg.Serial.RtsHighDuringSend,
		RtsHighAfterSend:   cfg.Serial.RtsHighAfterSend,
		RxDuringTx:         cfg.Serial.RxDuringTx,
	})
	defer port.Close()

	standby, sendAnswer := port.SlaveCallbacks()
	slave, err := rtu.NewSlave(cfg.Slave.Address, cfg.Slave.LastReg, rtu.SlaveCallbacks{
		Standby:    standby,
		SendAnswer: sendAnswer,
		GetRegister: func(s *rtu.Slave, addr uint16) (uint16, rtu.ExceptionCode) {
			v, err := backing.GetRegister(addr)
			if err != nil {
				return 0, rtu.ExDeviceFault
			}
			return v, 0
		},
		SetRegister: func(s *rtu.Slave, addr uint16, value uint16) rtu.ExceptionCode {
			if err := backing.SetRegister(addr, value); err != nil {
				return rtu.ExDeviceFault
			}
			return 0
		},
		GetPacket: func(s *rtu.Slave) ([]byte, rtu.ExceptionCode) {
			data, err := backing.GetPacket()
			if err != nil {
				return nil, rtu.ExDeviceFault
			}
			return data, 0
		},
		SetPacket: func(s *rtu.Slave, data []byte) rtu.ExceptionCode {
			if err := backing.SetPacket(data); err != nil {
				return rtu.ExDeviceFault
			}
			return 0
		},
	}, cfg.Slave.EnableCustomOpcodes)
	if err != nil {
		return fmt.Errorf("new slave: %w", err)
	}

	slog.Info("slavesim started",
		"device", cfg.Serial.Device,
		"address", cfg.Slave.Address,
		"last_reg", fmt.Sprintf("0x%04X", cfg.Slave.LastReg),
		"store", cfg.Slave.Store.Type,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			slog.Info("shutting down")
			return nil
		case <-ticker.C:
			if err := slave.Check(); err != nil {
				slog.Debug("request dropped", "err", err)
			}
		}
	}
}
