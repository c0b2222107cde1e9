// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "errors"

var (
	// ErrNotInitialized is returned by Init when a required callback is
	// missing or a configuration value is out of range.
	ErrNotInitialized = errors.New("modbus: missing callback or invalid configuration")

	// ErrBusy is returned by a master request method issued while the
	// engine is mid-transaction.
	ErrBusy = errors.New("modbus: master busy")

	// ErrWrongParams is returned by a master request method given an
	// out-of-range count or a nil destination buffer.
	ErrWrongParams = errors.New("modbus: wrong request parameters")

	// ErrDiscarded is returned by Slave.Check when the frame that
	// triggered this cycle was dropped: too short, wrong address, or a
	// bad CRC. No callback is invoked for a discarded frame.
	ErrDiscarded = errors.New("modbus: frame discarded")
)
