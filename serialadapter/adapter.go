// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serialadapter wires a real UART, through grid-x/serial, to the
// rtu package's callback contract. It owns the blocking I/O the engines
// themselves never do: a background goroutine reads the line and
// reports completion back into the FSM through RxDone/RxError/TxDone,
// the same way an interrupt handler would on an embedded target.
package serialadapter

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ionlattice/modbusrtu/rtu"
)

// Config mirrors config.SerialConfig's fields one-for-one, kept separate
// so this package doesn't depend on internal/config.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration

	RS485              bool
	DelayRtsBeforeSend time.Duration
	DelayRtsAfterSend  time.Duration
	RtsHighDuringSend  bool
	RtsHighAfterSend   bool
	RxDuringTx         bool
}

func (c Config) serialConfig() serial.Config {
	sc := serial.Config{
		Address:  c.Device,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
		Timeout:  c.Timeout,
	}
	if c.RS485 {
		sc.RS485.Enabled = true
		sc.RS485.DelayRtsBeforeSend = c.DelayRtsBeforeSend
		sc.RS485.DelayRtsAfterSend = c.DelayRtsAfterSend
		sc.RS485.RtsHighDuringSend = c.RtsHighDuringSend
		sc.RS485.RtsHighAfterSend = c.RtsHighAfterSend
		sc.RS485.RxDuringTx = c.RxDuringTx
	}
	return sc
}

// Port owns one open UART and drives both a Slave and/or a Master over
// it. Opening is lazy: the line is not touched until the first Standby
// (slave) or Send (master) call.
type Port struct {
	cfg serial.Config

	mu   sync.Mutex
	port io.ReadWriteCloser

	readBuf [rtu.MaxSize]byte
}

// Open returns a Port ready to drive an rtu.Slave or rtu.Master; the
// underlying serial line is not opened until first use.
func Open(cfg Config) *Port {
	return &Port{cfg: cfg.serialConfig()}
}

func (p *Port) connect() error {
	if p.port != nil {
		return nil
	}
	port, err := serial.Open(&p.cfg)
	if err != nil {
		return fmt.Errorf("serialadapter: open %s: %w", p.cfg.Address, err)
	}
	p.port = port
	return nil
}

// Close closes the underlying line, if open.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// SlaveCallbacks returns the Standby/SendAnswer pair for an rtu.Slave
// driven by this port. Standby launches the read goroutine that reports
// back into s via RxDone/RxError.
func (p *Port) SlaveCallbacks() (func(s *rtu.Slave) error, func(s *rtu.Slave, frame []byte) error) {
	standby := func(s *rtu.Slave) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.connect(); err != nil {
			return err
		}
		go p.readLoop(func(msg []byte, n int) { s.RxDone(msg, n) }, s.RxError)
		return nil
	}
	sendAnswer := func(s *rtu.Slave, frame []byte) error {
		p.mu.Lock()
		port := p.port
		p.mu.Unlock()
		if port == nil {
			return fmt.Errorf("serialadapter: port not open")
		}
		if _, err := port.Write(frame); err != nil {
			return err
		}
		s.TxDone()
		return nil
	}
	return standby, sendAnswer
}

// MasterCallbacks returns the Send/Receive pair for an rtu.Master driven
// by this port.
func (p *Port) MasterCallbacks() (func(m *rtu.Master, frame []byte) error, func(m *rtu.Master) error) {
	send := func(m *rtu.Master, frame []byte) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.connect(); err != nil {
			return err
		}
		if _, err := p.port.Write(frame); err != nil {
			return err
		}
		m.TxDone()
		return nil
	}
	receive := func(m *rtu.Master) error {
		go p.readLoop(func(msg []byte, n int) { m.RxDone(msg, n) }, m.RxError)
		return nil
	}
	return send, receive
}

// readLoop performs exactly one blocking read and reports its outcome
// through onDone/onError, mimicking a UART's single-shot receive
// interrupt rather than a continuously streaming reader.
func (p *Port) readLoop(onDone func(msg []byte, n int), onError func()) {
	p.mu.Lock()
	port := p.port
	p.mu.Unlock()
	if port == nil {
		onError()
		return
	}
	n, err := port.Read(p.readBuf[:])
	if err != nil {
		if err != io.EOF {
			slog.Debug("serialadapter: read error", "err", err)
		}
		onError()
		return
	}
	if n >= rtu.MaxSize {
		// A read that fills the whole buffer is an overrun, not a frame.
		onError()
		return
	}
	onDone(p.readBuf[:n], n)
}
