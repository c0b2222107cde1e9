// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "sync/atomic"

// SlaveState names a state of the slave FSM described in spec §4.2.
type SlaveState int32

const (
	SlaveStandby SlaveState = iota
	SlaveReceiving
	SlaveReceived
	SlaveProcessing
	SlaveTransmitting
)

func (st SlaveState) String() string {
	switch st {
	case SlaveStandby:
		return "STANDBY"
	case SlaveReceiving:
		return "RECEIVING"
	case SlaveReceived:
		return "RECEIVED"
	case SlaveProcessing:
		return "PROCESSING"
	case SlaveTransmitting:
		return "TRANSMITTING"
	default:
		return "UNKNOWN"
	}
}

// Slave is one side of the Modbus RTU link: it owns a fixed ADU buffer and
// answers requests addressed to it. A Slave is a long-lived, embedded
// singleton per UART; there is no destroy path.
type Slave struct {
	// Address is this stack's Modbus address, 1..247.
	Address byte
	// LastReg is the highest register address this stack serves,
	// inclusive. Any address in [0, LastReg] is considered in range;
	// finer-grained gaps are rejected by GetRegister/SetRegister
	// returning ExIllegalAddress.
	LastReg uint16
	// EnableCustomOpcodes gates dispatch of the non-standard 0x64/0x65
	// data-packet function codes, so a conforming profile can omit them.
	EnableCustomOpcodes bool
	// UserData is opaque to the engine; it is not touched by any method
	// here, only carried for the callbacks' convenience.
	UserData any

	cb    SlaveCallbacks
	state atomic.Int32
	buf   aduBuffer
}

// NewSlave zeroes a Slave, installs address/lastReg/callbacks, and
// initializes it. It refuses an invalid address or a missing required
// callback with ErrNotInitialized.
func NewSlave(address byte, lastReg uint16, cb SlaveCallbacks, enableCustomOpcodes bool) (*Slave, error) {
	s := &Slave{
		Address:             address,
		LastReg:             lastReg,
		EnableCustomOpcodes: enableCustomOpcodes,
	}
	if err := s.Init(cb); err != nil {
		return nil, err
	}
	return s, nil
}

// Init validates callbacks and moves the engine to STANDBY. It is exposed
// separately from NewSlave so a zero-valued Slave can be embedded and
// initialized later, mirroring the teacher's create-then-init lifecycle.
func (s *Slave) Init(cb SlaveCallbacks) error {
	if s.Address < MinSlaveAddress || s.Address > MaxSlaveAddress {
		return ErrNotInitialized
	}
	if cb.Standby == nil || cb.SendAnswer == nil || cb.GetRegister == nil || cb.SetRegister == nil {
		return ErrNotInitialized
	}
	if s.EnableCustomOpcodes && (cb.GetPacket == nil || cb.SetPacket == nil) {
		return ErrNotInitialized
	}
	s.cb = cb
	s.state.Store(int32(SlaveStandby))
	return nil
}

// State returns the current FSM state. Safe to call from either context.
func (s *Slave) State() SlaveState {
	return SlaveState(s.state.Load())
}

// RxDone is the ISR-context completion callback for a finished reception.
// It never calls user code: it only copies (or recognizes the zero-copy
// alias of) the received bytes and transitions the FSM.
func (s *Slave) RxDone(msg []byte, n int) {
	if s.State() != SlaveReceiving {
		return
	}
	if n < 1 || n > MaxSize {
		s.state.Store(int32(SlaveStandby))
		return
	}
	s.buf.receive(msg[:n])
	s.state.Store(int32(SlaveReceived))
}

// RxError is the ISR-context callback for a framing or overrun error.
func (s *Slave) RxError() {
	if s.State() == SlaveReceiving {
		s.state.Store(int32(SlaveStandby))
	}
}

// TxDone is the ISR-context callback for a finished transmission.
func (s *Slave) TxDone() {
	if s.State() == SlaveTransmitting {
		s.state.Store(int32(SlaveStandby))
	}
}

// Check drives the main-context half of the FSM: arming the receiver from
// STANDBY, and parsing/dispatching/answering from RECEIVED. It returns nil
// on an idle cycle or a successfully dispatched request (including one
// answered with a Modbus exception), and ErrDiscarded when the frame that
// triggered this cycle was dropped before dispatch.
func (s *Slave) Check() error {
	switch s.State() {
	case SlaveStandby:
		if err := s.cb.Standby(s); err != nil {
			return nil
		}
		s.state.Store(int32(SlaveReceiving))
		return nil

	case SlaveReceived:
		s.state.Store(int32(SlaveProcessing))
		if !s.parse() {
			s.state.Store(int32(SlaveStandby))
			return ErrDiscarded
		}
		if s.buf.address() == BroadcastAddress {
			s.state.Store(int32(SlaveStandby))
			return nil
		}
		// Every dispatch path leaves buf.last <= 253, so the appended
		// CRC never overruns the 257-byte buffer.
		s.buf.appendCRC()
		s.state.Store(int32(SlaveTransmitting))
		if err := s.cb.SendAnswer(s, s.buf.frame()); err != nil {
			s.state.Store(int32(SlaveStandby))
			return err
		}
		return nil

	default:
		return nil
	}
}

// parse validates the received frame (length, CRC, address) and, if valid,
// dispatches it. It returns false when the frame was discarded before
// dispatch.
func (s *Slave) parse() bool {
	if s.buf.last < 3 {
		return false
	}
	if !s.buf.verifyCRC() {
		return false
	}
	addr := s.buf.address()
	if addr != s.Address && addr != BroadcastAddress {
		return false
	}
	s.buf.last -= 2 // now names the last PDU byte
	s.dispatch()
	return true
}

func (s *Slave) dispatch() {
	fc := s.buf.function()
	pdu := s.buf.pdu()

	switch fc {
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		s.handleReadRegisters(fc, pdu)
	case FuncWriteMultipleRegisters:
		s.handleWriteMultipleRegisters(pdu)
	case FuncDiagnostic:
		s.handleDiagnostic(pdu)
	case FuncReadDataPacket:
		if s.EnableCustomOpcodes {
			s.handleReadDataPacket(pdu)
		} else {
			s.exception(fc, ExIllegalOpcode)
		}
	case FuncWriteDataPacket:
		if s.EnableCustomOpcodes {
			s.handleWriteDataPacket(pdu)
		} else {
			s.exception(fc, ExIllegalOpcode)
		}
	default:
		s.exception(fc, ExIllegalOpcode)
	}
}

func (s *Slave) handleReadRegisters(fc byte, pdu []byte) {
	if len(pdu) != 4 || pdu[2] != 0 {
		s.exception(fc, ExIllegalValue)
		return
	}
	start := uint16(pdu[0])<<8 | uint16(pdu[1])
	count := uint16(pdu[3])
	if count < 1 || count > maxReadCount {
		s.exception(fc, ExIllegalValue)
		return
	}
	if uint32(start)+uint32(count)-1 > uint32(s.LastReg) {
		s.exception(fc, ExIllegalAddress)
		return
	}

	s.buf.data[1] = fc
	s.buf.data[2] = byte(count * 2)
	off := 3
	for i := uint16(0); i < count; i++ {
		val, code := s.cb.GetRegister(s, start+i)
		if code != 0 {
			s.exception(fc, code)
			return
		}
		s.buf.data[off] = byte(val >> 8)
		s.buf.data[off+1] = byte(val)
		off += 2
	}
	s.buf.last = off - 1
}

func (s *Slave) handleWriteMultipleRegisters(pdu []byte) {
	const fc = FuncWriteMultipleRegisters
	if len(pdu) < 5 || pdu[2] != 0 {
		s.exception(fc, ExIllegalValue)
		return
	}
	start := uint16(pdu[0])<<8 | uint16(pdu[1])
	count := uint16(pdu[3])
	byteCount := pdu[4]
	if count < 1 || count > maxWriteCount || byteCount != byte(count*2) || len(pdu) != 5+int(byteCount) {
		s.exception(fc, ExIllegalValue)
		return
	}
	if uint32(start)+uint32(count)-1 > uint32(s.LastReg) {
		s.exception(fc, ExIllegalAddress)
		return
	}

	data := pdu[5:]
	for i := uint16(0); i < count; i++ {
		val := uint16(data[i*2])<<8 | uint16(data[i*2+1])
		if code := s.cb.SetRegister(s, start+i, val); code != 0 {
			s.exception(fc, code)
			return
		}
	}

	echo := [4]byte{byte(start >> 8), byte(start), 0, byte(count)}
	s.setResponsePDU(fc, echo[:])
}

func (s *Slave) handleDiagnostic(pdu []byte) {
	const fc = FuncDiagnostic
	if len(pdu) < 2 {
		s.exception(fc, ExIllegalValue)
		return
	}
	sub := uint16(pdu[0])<<8 | uint16(pdu[1])
	if sub != diagSubPing {
		s.exception(fc, ExIllegalOpcode)
		return
	}
	s.setResponsePDU(fc, pdu)
}

func (s *Slave) handleReadDataPacket(pdu []byte) {
	const fc = FuncReadDataPacket
	if len(pdu) != 0 {
		s.exception(fc, ExIllegalValue)
		return
	}
	data, code := s.cb.GetPacket(s)
	if code != 0 {
		s.exception(fc, code)
		return
	}
	if len(data) > maxPacketLen {
		s.exception(fc, ExDeviceFault)
		return
	}
	s.buf.data[1] = fc
	s.buf.data[2] = byte(len(data))
	copy(s.buf.data[3:], data)
	s.buf.last = 2 + len(data)
}

func (s *Slave) handleWriteDataPacket(pdu []byte) {
	const fc = FuncWriteDataPacket
	if len(pdu) < 1 {
		s.exception(fc, ExIllegalValue)
		return
	}
	length := pdu[0]
	if int(length) != len(pdu)-1 {
		s.exception(fc, ExIllegalValue)
		return
	}
	if code := s.cb.SetPacket(s, pdu[1:]); code != 0 {
		s.exception(fc, code)
		return
	}
	s.setResponsePDU(fc, pdu[:1])
}

// setResponsePDU writes a success response function code and payload into
// the buffer, leaving the address byte (already the request's) untouched.
func (s *Slave) setResponsePDU(fc byte, payload []byte) {
	s.buf.data[1] = fc
	copy(s.buf.data[2:], payload)
	s.buf.last = 1 + len(payload)
}

// exception writes an exception response: function byte with the high bit
// set, followed by the single exception code byte.
func (s *Slave) exception(fc byte, code ExceptionCode) {
	s.buf.data[1] = fc | exceptionBit
	s.buf.data[2] = byte(code)
	s.buf.last = 2
}
