// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the master and slave Modbus RTU state machines:
// wire framing, CRC validation, function-code dispatch, and the callback
// contract that separates the protocol logic from the UART, the register
// store, and the time source.
package rtu

import "time"

// ADU size bounds. MaxSize (257) is one byte past the largest legal ADU
// (256) and doubles as an overrun sentinel: a reception that fills the
// buffer entirely is treated as a framing overflow.
const (
	MinSize = 4
	MaxSize = 257

	BroadcastAddress = 0
	MinSlaveAddress  = 1
	MaxSlaveAddress  = 247
)

// Function codes supported by this core.
const (
	FuncReadHoldingRegisters   = 0x03
	FuncReadInputRegisters     = 0x04
	FuncWriteMultipleRegisters = 0x10
	FuncDiagnostic             = 0x08
	FuncReadDataPacket         = 0x64
	FuncWriteDataPacket        = 0x65

	exceptionBit = 0x80
)

const (
	maxReadCount  = 125
	maxWriteCount = 123
	maxPacketLen  = 251

	diagSubPing = 0x0000
)

// RxTimeout bounds how long the master waits for an answer after arming
// the receiver.
const RxTimeout = 100 * time.Millisecond
