// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ionlattice/modbusrtu/crc"
)

// fakeClock is a Clock driven entirely by the test, so timeout behavior
// doesn't depend on wall-clock scheduling.
type fakeClock struct{ now uint32 }

func (c *fakeClock) Millis() uint32    { return c.now }
func (c *fakeClock) MillisISR() uint32 { return c.now }
func (c *fakeClock) advance(ms uint32) { c.now += ms }

// fakeMasterRig captures the last frame given to Send and lets the test
// hand back an arbitrary answer through RxDone.
type fakeMasterRig struct {
	sent      []byte
	sendErr   error
	receiveN  int
	receiveErr error
}

func (r *fakeMasterRig) callbacks() MasterCallbacks {
	return MasterCallbacks{
		Send: func(m *Master, frame []byte) error {
			r.sent = append([]byte(nil), frame...)
			return r.sendErr
		},
		Receive: func(m *Master) error {
			r.receiveN++
			return r.receiveErr
		},
	}
}

func framed(pdu []byte) []byte {
	sum := crc.Update(pdu, crc.Seed)
	return append(append([]byte(nil), pdu...), byte(sum), byte(sum>>8))
}

func TestMasterReadHoldingRegisters(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, err := NewMaster(rig.callbacks(), clk, false)
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}

	out := make([]uint16, 1)
	if err := m.ReadHoldingRegisters(1, 0x0000, 1, out); err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	wantReq := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if !bytes.Equal(rig.sent, wantReq) {
		t.Fatalf("request = % X, want % X", rig.sent, wantReq)
	}
	if m.State() != MasterTransmitting {
		t.Fatalf("state = %v, want TRANSMITTING", m.State())
	}

	m.TxDone()
	if m.State() != MasterWaitingAnswer {
		t.Fatalf("state = %v, want WAITING_ANSWER", m.State())
	}
	if rig.receiveN != 1 {
		t.Fatalf("Receive called %d times, want 1", rig.receiveN)
	}

	answer := framed([]byte{0x01, 0x03, 0x02, 0x12, 0x34})
	m.RxDone(answer, len(answer))
	if m.State() != MasterReceived {
		t.Fatalf("state = %v, want RECEIVED", m.State())
	}

	res := m.Check()
	if res.Status != StatusProcessed {
		t.Fatalf("status = %v, want PROCESSED", res.Status)
	}
	if out[0] != 0x1234 {
		t.Fatalf("out[0] = %#x, want 0x1234", out[0])
	}
	if m.State() != MasterStandby {
		t.Fatalf("state = %v, want STANDBY", m.State())
	}
}

func TestMasterWriteMultipleRegistersEcho(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	if err := m.WriteMultipleRegisters(1, 0x0020, []uint16{0x000A, 0x0102}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}
	m.TxDone()

	answer := framed([]byte{0x01, 0x10, 0x00, 0x20, 0x00, 0x02})
	m.RxDone(answer, len(answer))
	res := m.Check()
	if res.Status != StatusProcessed {
		t.Fatalf("status = %v, want PROCESSED", res.Status)
	}
}

func TestMasterWriteEchoMismatchIsCorrupted(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	_ = m.WriteMultipleRegisters(1, 0x0020, []uint16{0x000A, 0x0102})
	m.TxDone()

	// Echo names the wrong start address.
	answer := framed([]byte{0x01, 0x10, 0x00, 0x21, 0x00, 0x02})
	m.RxDone(answer, len(answer))
	res := m.Check()
	if res.Status != StatusCorrupted {
		t.Fatalf("status = %v, want CORRUPTED", res.Status)
	}
}

func TestMasterTimeout(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	out := make([]uint16, 1)
	_ = m.ReadHoldingRegisters(1, 0, 1, out)
	m.TxDone()

	clk.advance(uint32(RxTimeout.Milliseconds()) + 1)
	res := m.Check()
	if res.Status != StatusTimedOut {
		t.Fatalf("status = %v, want TIMED_OUT", res.Status)
	}
	if m.State() != MasterStandby {
		t.Fatalf("state = %v, want STANDBY after timeout", m.State())
	}
}

func TestMasterTimeoutNotYetElapsed(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	out := make([]uint16, 1)
	_ = m.ReadHoldingRegisters(1, 0, 1, out)
	m.TxDone()

	clk.advance(1)
	res := m.Check()
	if res.Status != StatusInProgress {
		t.Fatalf("status = %v, want IN_PROGRESS", res.Status)
	}
	if m.State() != MasterWaitingAnswer {
		t.Fatalf("state = %v, want WAITING_ANSWER", m.State())
	}
}

func TestMasterCorruptedCRC(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	out := make([]uint16, 1)
	_ = m.ReadHoldingRegisters(1, 0, 1, out)
	m.TxDone()

	bad := []byte{0x01, 0x03, 0x02, 0x12, 0x34, 0x00, 0x00}
	m.RxDone(bad, len(bad))
	res := m.Check()
	if res.Status != StatusCorrupted {
		t.Fatalf("status = %v, want CORRUPTED", res.Status)
	}
}

func TestMasterRxErrorReportsAsCorrupted(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	out := make([]uint16, 1)
	_ = m.ReadHoldingRegisters(1, 0, 1, out)
	m.TxDone()
	m.RxError()
	if m.State() != MasterCorrupted {
		t.Fatalf("state = %v, want CORRUPTED", m.State())
	}
	res := m.Check()
	if res.Status != StatusCorrupted {
		t.Fatalf("status = %v, want CORRUPTED", res.Status)
	}
}

func TestMasterErrReported(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	out := make([]uint16, 1)
	_ = m.ReadHoldingRegisters(1, 0x0000, 1, out)
	m.TxDone()

	answer := framed([]byte{0x01, 0x83, byte(ExIllegalAddress)})
	m.RxDone(answer, len(answer))
	res := m.Check()
	if res.Status != StatusErrReported {
		t.Fatalf("status = %v, want ERR_REPORTED", res.Status)
	}
	if res.Exception != ExIllegalAddress {
		t.Fatalf("exception = %v, want ExIllegalAddress", res.Exception)
	}
}

func TestMasterBusyWhileInFlight(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	out := make([]uint16, 1)
	_ = m.ReadHoldingRegisters(1, 0, 1, out)
	if err := m.ReadHoldingRegisters(1, 0, 1, out); err != ErrBusy {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestMasterHwErrorOnSendFailure(t *testing.T) {
	rig := &fakeMasterRig{sendErr: errors.New("uart fault")}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	out := make([]uint16, 1)
	if err := m.ReadHoldingRegisters(1, 0, 1, out); err != nil {
		t.Fatalf("ReadHoldingRegisters returned %v, want nil (HW fault is reported via Check)", err)
	}
	if m.State() != MasterHwError {
		t.Fatalf("state = %v, want HW_ERROR", m.State())
	}
	res := m.Check()
	if res.Status != StatusHwError {
		t.Fatalf("status = %v, want HW_ERROR", res.Status)
	}
	if m.State() != MasterStandby {
		t.Fatalf("state = %v, want STANDBY after HW_ERROR reported", m.State())
	}
}

func TestMasterWrongParamsRejected(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	if err := m.ReadHoldingRegisters(1, 0, 2, make([]uint16, 1)); err != ErrWrongParams {
		t.Fatalf("err = %v, want ErrWrongParams (out length mismatch)", err)
	}
	if err := m.ReadHoldingRegisters(1, 0, 0, nil); err != ErrWrongParams {
		t.Fatalf("err = %v, want ErrWrongParams (zero count)", err)
	}
	if err := m.ReadHoldingRegisters(1, 0, maxReadCount+1, make([]uint16, maxReadCount+1)); err != ErrWrongParams {
		t.Fatalf("err = %v, want ErrWrongParams (count too large)", err)
	}
}

func TestMasterCustomOpcodesRequireFlag(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, false)

	var out []byte
	if err := m.ReadDataPacket(1, &out); err != ErrWrongParams {
		t.Fatalf("err = %v, want ErrWrongParams", err)
	}
}

func TestMasterCustomPacketRoundTrip(t *testing.T) {
	rig := &fakeMasterRig{}
	clk := &fakeClock{}
	m, _ := NewMaster(rig.callbacks(), clk, true)

	if err := m.WriteDataPacket(1, []byte{0xAA, 0xBB, 0xCC}); err != nil {
		t.Fatalf("WriteDataPacket: %v", err)
	}
	wantReq := []byte{0x01, 0x65, 0x03, 0xAA, 0xBB, 0xCC}
	if !bytes.Equal(rig.sent[:len(wantReq)], wantReq) {
		t.Fatalf("request = % X, want % X", rig.sent[:len(wantReq)], wantReq)
	}
	m.TxDone()
	answer := framed([]byte{0x01, 0x65, 0x03})
	m.RxDone(answer, len(answer))
	if res := m.Check(); res.Status != StatusProcessed {
		t.Fatalf("status = %v, want PROCESSED", res.Status)
	}

	var out []byte
	if err := m.ReadDataPacket(1, &out); err != nil {
		t.Fatalf("ReadDataPacket: %v", err)
	}
	m.TxDone()
	answer = framed([]byte{0x01, 0x64, 0x03, 0xAA, 0xBB, 0xCC})
	m.RxDone(answer, len(answer))
	if res := m.Check(); res.Status != StatusProcessed {
		t.Fatalf("status = %v, want PROCESSED", res.Status)
	}
	if !bytes.Equal(out, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("out = % X, want AA BB CC", out)
	}
}

func TestMasterInitRejectsMissingCallbacks(t *testing.T) {
	clk := &fakeClock{}
	if _, err := NewMaster(MasterCallbacks{}, clk, false); err != ErrNotInitialized {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
	rig := &fakeMasterRig{}
	if _, err := NewMaster(rig.callbacks(), nil, false); err != ErrNotInitialized {
		t.Fatalf("err = %v, want ErrNotInitialized (nil clock)", err)
	}
}
