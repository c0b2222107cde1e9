// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "sync/atomic"

// MasterState names a state the FSM actually stores in the atomic word.
// Intermediate/result states that are always resolved within a single
// Check() call (PROCESSING, PROCESSED, ERR_REPORTED, TIMED_OUT) never sit
// in this word; they are reported through CheckResult.Status instead.
type MasterState int32

const (
	MasterStandby MasterState = iota
	MasterTransmitting
	MasterWaitingAnswer
	MasterReceived
	MasterCorrupted
	MasterHwError
)

func (st MasterState) String() string {
	switch st {
	case MasterStandby:
		return "STANDBY"
	case MasterTransmitting:
		return "TRANSMITTING"
	case MasterWaitingAnswer:
		return "WAITING_ANSWER"
	case MasterReceived:
		return "RECEIVED"
	case MasterCorrupted:
		return "CORRUPTED"
	case MasterHwError:
		return "HW_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Status is the terminal result of a transaction, reported by Check.
type Status int

const (
	// StatusInProgress means the transaction has not yet terminated;
	// the caller should call Check again later.
	StatusInProgress Status = iota
	StatusProcessed
	StatusErrReported
	StatusCorrupted
	StatusTimedOut
	StatusHwError
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusProcessed:
		return "PROCESSED"
	case StatusErrReported:
		return "ERR_REPORTED"
	case StatusCorrupted:
		return "CORRUPTED"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusHwError:
		return "HW_ERROR"
	default:
		return "UNKNOWN"
	}
}

// CheckResult is the out-parameter Check reports. Exception is only
// meaningful when Status is StatusErrReported.
type CheckResult struct {
	Status    Status
	Exception ExceptionCode
}

// Master is the request-issuing side of the Modbus RTU link. A single
// Master instance tracks at most one in-flight transaction at a time.
type Master struct {
	// EnableCustomOpcodes gates ReadDataPacket/WriteDataPacket.
	EnableCustomOpcodes bool
	// UserData is opaque to the engine, carried for callback convenience.
	UserData any

	cb  MasterCallbacks
	clk Clock

	state atomic.Int32
	buf   aduBuffer

	slaveAddr byte
	funcCode  byte
	start     uint16
	count     uint16
	outRegs   []uint16
	outPacket *[]byte

	rxStartTime uint32
}

// NewMaster zeroes a Master, installs its callbacks and clock, and
// initializes it.
func NewMaster(cb MasterCallbacks, clk Clock, enableCustomOpcodes bool) (*Master, error) {
	m := &Master{EnableCustomOpcodes: enableCustomOpcodes}
	if err := m.Init(cb, clk); err != nil {
		return nil, err
	}
	return m, nil
}

// Init validates callbacks and the clock, and moves the engine to STANDBY.
func (m *Master) Init(cb MasterCallbacks, clk Clock) error {
	if cb.Send == nil || cb.Receive == nil || clk == nil {
		return ErrNotInitialized
	}
	m.cb = cb
	m.clk = clk
	m.state.Store(int32(MasterStandby))
	return nil
}

// State returns the current FSM state. Safe to call from either context.
func (m *Master) State() MasterState {
	return MasterState(m.state.Load())
}

// ReadHoldingRegisters issues function 0x03 for count registers starting
// at start, to be delivered into out on a PROCESSED result.
func (m *Master) ReadHoldingRegisters(slaveAddr byte, start, count uint16, out []uint16) error {
	return m.startReadRequest(FuncReadHoldingRegisters, slaveAddr, start, count, out)
}

// ReadInputRegisters issues function 0x04, otherwise identical to
// ReadHoldingRegisters.
func (m *Master) ReadInputRegisters(slaveAddr byte, start, count uint16, out []uint16) error {
	return m.startReadRequest(FuncReadInputRegisters, slaveAddr, start, count, out)
}

func (m *Master) startReadRequest(fc byte, slaveAddr byte, start, count uint16, out []uint16) error {
	if m.State() != MasterStandby {
		return ErrBusy
	}
	if count < 1 || count > maxReadCount || out == nil || len(out) != int(count) {
		return ErrWrongParams
	}

	m.buf.data[0] = slaveAddr
	m.buf.data[1] = fc
	m.buf.data[2] = byte(start >> 8)
	m.buf.data[3] = byte(start)
	m.buf.data[4] = 0
	m.buf.data[5] = byte(count)
	m.buf.last = 5
	m.buf.appendCRC()

	m.slaveAddr = slaveAddr
	m.funcCode = fc
	m.start = start
	m.count = count
	m.outRegs = out
	m.outPacket = nil

	return m.transmit()
}

// WriteMultipleRegisters issues function 0x10 writing values starting at
// start.
func (m *Master) WriteMultipleRegisters(slaveAddr byte, start uint16, values []uint16) error {
	if m.State() != MasterStandby {
		return ErrBusy
	}
	count := len(values)
	if count < 1 || count > maxWriteCount {
		return ErrWrongParams
	}

	m.buf.data[0] = slaveAddr
	m.buf.data[1] = FuncWriteMultipleRegisters
	m.buf.data[2] = byte(start >> 8)
	m.buf.data[3] = byte(start)
	m.buf.data[4] = 0
	m.buf.data[5] = byte(count)
	m.buf.data[6] = byte(count * 2)
	off := 7
	for _, v := range values {
		m.buf.data[off] = byte(v >> 8)
		m.buf.data[off+1] = byte(v)
		off += 2
	}
	m.buf.last = off - 1
	m.buf.appendCRC()

	m.slaveAddr = slaveAddr
	m.funcCode = FuncWriteMultipleRegisters
	m.start = start
	m.count = uint16(count)
	m.outRegs = nil
	m.outPacket = nil

	return m.transmit()
}

// ReadDataPacket issues the custom 0x64 opcode; the payload is delivered
// into *out on a PROCESSED result.
func (m *Master) ReadDataPacket(slaveAddr byte, out *[]byte) error {
	if !m.EnableCustomOpcodes {
		return ErrWrongParams
	}
	if m.State() != MasterStandby {
		return ErrBusy
	}
	if out == nil {
		return ErrWrongParams
	}

	m.buf.data[0] = slaveAddr
	m.buf.data[1] = FuncReadDataPacket
	m.buf.last = 1
	m.buf.appendCRC()

	m.slaveAddr = slaveAddr
	m.funcCode = FuncReadDataPacket
	m.outPacket = out
	m.outRegs = nil

	return m.transmit()
}

// WriteDataPacket issues the custom 0x65 opcode carrying data.
func (m *Master) WriteDataPacket(slaveAddr byte, data []byte) error {
	if !m.EnableCustomOpcodes {
		return ErrWrongParams
	}
	if m.State() != MasterStandby {
		return ErrBusy
	}
	if len(data) > maxPacketLen {
		return ErrWrongParams
	}

	m.buf.data[0] = slaveAddr
	m.buf.data[1] = FuncWriteDataPacket
	m.buf.data[2] = byte(len(data))
	copy(m.buf.data[3:], data)
	m.buf.last = 2 + len(data)
	m.buf.appendCRC()

	m.slaveAddr = slaveAddr
	m.funcCode = FuncWriteDataPacket
	m.outPacket = nil
	m.outRegs = nil

	return m.transmit()
}

// transmit moves the engine to TRANSMITTING and calls Send. A hardware
// fault here is never returned synchronously: it is reported via Check as
// StatusHwError, matching the rule that master errors propagate exactly
// once per transaction, through Check's result.
func (m *Master) transmit() error {
	m.state.Store(int32(MasterTransmitting))
	if err := m.cb.Send(m, m.buf.frame()); err != nil {
		m.state.Store(int32(MasterHwError))
	}
	return nil
}

// TxDone is the ISR-context completion callback for a finished
// transmission. It arms the receiver and samples the timeout clock; it
// never parses anything.
func (m *Master) TxDone() {
	if m.State() != MasterTransmitting {
		return
	}
	m.state.Store(int32(MasterWaitingAnswer))
	m.rxStartTime = m.clk.MillisISR()
	if err := m.cb.Receive(m); err != nil {
		m.state.Store(int32(MasterHwError))
	}
}

// RxDone is the ISR-context completion callback for a finished reception.
func (m *Master) RxDone(msg []byte, n int) {
	if m.State() != MasterWaitingAnswer {
		return
	}
	if n < 1 || n > MaxSize {
		// The driver is expected to signal an overrun via RxError
		// instead; a length outside bounds here means the reception
		// itself is unusable, the same as a corrupted answer.
		m.state.Store(int32(MasterCorrupted))
		return
	}
	m.buf.receive(msg[:n])
	m.state.Store(int32(MasterReceived))
}

// RxError is the ISR-context callback for a framing or overrun error.
func (m *Master) RxError() {
	if m.State() == MasterWaitingAnswer {
		m.state.Store(int32(MasterCorrupted))
	}
}

// Check drives the main-context half of the FSM: timeout detection from
// WAITING_ANSWER, and parse/validate from RECEIVED. Any terminal result is
// reported exactly once, and the engine is back in STANDBY by the time
// Check returns, so the caller may issue the next request immediately.
func (m *Master) Check() CheckResult {
	switch m.State() {
	case MasterWaitingAnswer:
		if m.clk.Millis()-m.rxStartTime > uint32(RxTimeout.Milliseconds()) {
			m.state.Store(int32(MasterStandby))
			return CheckResult{Status: StatusTimedOut}
		}
		return CheckResult{Status: StatusInProgress}

	case MasterReceived:
		result := m.processAnswer()
		m.state.Store(int32(MasterStandby))
		return result

	case MasterCorrupted:
		m.state.Store(int32(MasterStandby))
		return CheckResult{Status: StatusCorrupted}

	case MasterHwError:
		m.state.Store(int32(MasterStandby))
		return CheckResult{Status: StatusHwError}

	default:
		return CheckResult{Status: StatusInProgress}
	}
}

func (m *Master) processAnswer() CheckResult {
	if m.buf.last < 3 {
		return CheckResult{Status: StatusCorrupted}
	}
	if m.buf.address() != m.slaveAddr {
		return CheckResult{Status: StatusCorrupted}
	}
	if !m.buf.verifyCRC() {
		return CheckResult{Status: StatusCorrupted}
	}
	m.buf.last -= 2

	fc := m.buf.function()
	if fc&^byte(exceptionBit) != m.funcCode {
		return CheckResult{Status: StatusCorrupted}
	}
	if fc&exceptionBit != 0 {
		pdu := m.buf.pdu()
		if len(pdu) < 1 {
			return CheckResult{Status: StatusCorrupted}
		}
		return CheckResult{Status: StatusErrReported, Exception: ExceptionCode(pdu[0])}
	}

	pdu := m.buf.pdu()
	switch m.funcCode {
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		return m.processReadRegisters(pdu)
	case FuncWriteMultipleRegisters:
		return m.processWriteEcho(pdu)
	case FuncReadDataPacket:
		return m.processReadDataPacket(pdu)
	case FuncWriteDataPacket:
		return m.processWriteDataPacketEcho(pdu)
	default:
		return CheckResult{Status: StatusCorrupted}
	}
}

func (m *Master) processReadRegisters(pdu []byte) CheckResult {
	if len(pdu) < 1 || pdu[0] != byte(m.count*2) || len(pdu) != 1+int(pdu[0]) {
		return CheckResult{Status: StatusCorrupted}
	}
	data := pdu[1:]
	for i := uint16(0); i < m.count; i++ {
		m.outRegs[i] = uint16(data[i*2])<<8 | uint16(data[i*2+1])
	}
	return CheckResult{Status: StatusProcessed}
}

func (m *Master) processWriteEcho(pdu []byte) CheckResult {
	if len(pdu) != 4 {
		return CheckResult{Status: StatusCorrupted}
	}
	start := uint16(pdu[0])<<8 | uint16(pdu[1])
	count := uint16(pdu[2])<<8 | uint16(pdu[3])
	if start != m.start || count != m.count {
		return CheckResult{Status: StatusCorrupted}
	}
	return CheckResult{Status: StatusProcessed}
}

func (m *Master) processReadDataPacket(pdu []byte) CheckResult {
	if len(pdu) < 1 {
		return CheckResult{Status: StatusCorrupted}
	}
	length := pdu[0]
	if int(length) != len(pdu)-1 || length > maxPacketLen {
		return CheckResult{Status: StatusCorrupted}
	}
	if m.outPacket != nil {
		data := make([]byte, length)
		copy(data, pdu[1:])
		*m.outPacket = data
	}
	return CheckResult{Status: StatusProcessed}
}

func (m *Master) processWriteDataPacketEcho(pdu []byte) CheckResult {
	if len(pdu) != 1 {
		return CheckResult{Status: StatusCorrupted}
	}
	return CheckResult{Status: StatusProcessed}
}
