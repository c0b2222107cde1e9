// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "fmt"

// ExceptionCode is the single PDU byte a slave returns when it replies with
// the high bit of the function code set.
type ExceptionCode byte

// Exception codes, values fixed for wire compatibility.
const (
	ExIllegalOpcode  ExceptionCode = 0x01
	ExIllegalAddress ExceptionCode = 0x02
	ExIllegalValue   ExceptionCode = 0x03
	ExDeviceFault    ExceptionCode = 0x04
)

func (e ExceptionCode) Error() string {
	switch e {
	case ExIllegalOpcode:
		return "modbus: illegal opcode"
	case ExIllegalAddress:
		return "modbus: illegal address"
	case ExIllegalValue:
		return "modbus: illegal value"
	case ExDeviceFault:
		return "modbus: device fault"
	default:
		return fmt.Sprintf("modbus: exception code %#02x", byte(e))
	}
}
