// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

// Package loopback wires a master engine and a slave engine back to back
// over a real pseudo-terminal pair, so integration tests exercise the
// same blocking-read/blocking-write path a physical RS485 link would,
// without requiring actual serial hardware.
package loopback

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"
)

// PtyPair is a pair of file descriptors on either end of one
// pseudo-terminal: Master plays the role of one station on the bus,
// Slave the other, and bytes written to one arrive readable on the
// other.
type PtyPair struct {
	mu         sync.Mutex
	Master     *os.File
	Slave      *os.File
	MasterPath string
	SlavePath  string
}

// NewPtyPair opens a fresh pseudo-terminal pair.
func NewPtyPair() (*PtyPair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("loopback: open pty: %w", err)
	}
	return &PtyPair{
		Master:     master,
		Slave:      slave,
		MasterPath: master.Name(),
		SlavePath:  slave.Name(),
	}, nil
}

// Close closes both ends.
func (p *PtyPair) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.Master != nil {
		if e := p.Master.Close(); e != nil && err == nil {
			err = e
		}
		p.Master = nil
	}
	if p.Slave != nil {
		if e := p.Slave.Close(); e != nil && err == nil {
			err = e
		}
		p.Slave = nil
	}
	return err
}

// ReadMaster reads from the master side.
func (p *PtyPair) ReadMaster(b []byte) (int, error) {
	p.mu.Lock()
	f := p.Master
	p.mu.Unlock()
	if f == nil {
		return 0, os.ErrClosed
	}
	return f.Read(b)
}

// WriteMaster writes to the master side.
func (p *PtyPair) WriteMaster(b []byte) (int, error) {
	p.mu.Lock()
	f := p.Master
	p.mu.Unlock()
	if f == nil {
		return 0, os.ErrClosed
	}
	return f.Write(b)
}

// ReadSlave reads from the slave side.
func (p *PtyPair) ReadSlave(b []byte) (int, error) {
	p.mu.Lock()
	f := p.Slave
	p.mu.Unlock()
	if f == nil {
		return 0, os.ErrClosed
	}
	return f.Read(b)
}

// WriteSlave writes to the slave side.
func (p *PtyPair) WriteSlave(b []byte) (int, error) {
	p.mu.Lock()
	f := p.Slave
	p.mu.Unlock()
	if f == nil {
		return 0, os.ErrClosed
	}
	return f.Write(b)
}

// SetMasterReadDeadline bounds a blocking ReadMaster call, so a test
// waiting on a slave that never answers fails instead of hanging.
func (p *PtyPair) SetMasterReadDeadline(t time.Time) error {
	p.mu.Lock()
	f := p.Master
	p.mu.Unlock()
	if f == nil {
		return os.ErrClosed
	}
	return f.SetReadDeadline(t)
}

// SetSlaveReadDeadline bounds a blocking ReadSlave call.
func (p *PtyPair) SetSlaveReadDeadline(t time.Time) error {
	p.mu.Lock()
	f := p.Slave
	p.mu.Unlock()
	if f == nil {
		return os.ErrClosed
	}
	return f.SetReadDeadline(t)
}
