// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// Clock supplies the monotonic millisecond count the master uses to detect
// a timed-out transaction. Millis is called from main context (the tick);
// MillisISR is called from the interrupt context that arms the receiver.
// Both must return the same underlying count; the split exists because on
// some embedded targets the two contexts reach the counter through
// different, non-interchangeable registers.
type Clock interface {
	Millis() uint32
	MillisISR() uint32
}

// SlaveCallbacks is the capability set a Slave is constructed with. Every
// callback receives the owning stack so per-instance state can be reached
// without a global registry. None of these are ever invoked from an ISR;
// see Slave.RxDone/RxError/TxDone for the ISR-safe entry points.
type SlaveCallbacks struct {
	// Standby arms the receiver for the next request. Called once per
	// idle cycle, from the tick.
	Standby func(s *Slave) error

	// SendAnswer transmits the len(frame) bytes of a built answer.
	// Completion is reported back via Slave.TxDone.
	SendAnswer func(s *Slave, frame []byte) error

	// GetRegister reads one 16-bit register. A non-zero ExceptionCode
	// aborts the request with that code.
	GetRegister func(s *Slave, addr uint16) (uint16, ExceptionCode)

	// SetRegister writes one 16-bit register.
	SetRegister func(s *Slave, addr uint16, value uint16) ExceptionCode

	// GetPacket produces the payload for a Read Data Packet (0x64)
	// request. A result longer than 251 bytes is reported as
	// ExDeviceFault.
	GetPacket func(s *Slave) ([]byte, ExceptionCode)

	// SetPacket consumes the payload of a Write Data Packet (0x65)
	// request.
	SetPacket func(s *Slave, data []byte) ExceptionCode
}

// MasterCallbacks is the capability set a Master is constructed with.
// Send and Receive may be called from within a TxDone callback (the
// master arms the receiver there) and must themselves be ISR-safe.
type MasterCallbacks struct {
	// Send initiates transmission of len(frame) bytes. A negative-style
	// failure is reported by returning a non-nil error, which the
	// engine turns into HwError. Completion is reported via
	// Master.TxDone.
	Send func(m *Master, frame []byte) error

	// Receive arms the receiver for the answer to an in-flight
	// transaction.
	Receive func(m *Master) error
}
