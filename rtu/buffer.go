// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import "github.com/ionlattice/modbusrtu/crc"

// aduBuffer is a fixed-capacity region holding one in-flight Application
// Data Unit, plus a cursor naming the index of the last meaningful byte.
// It never allocates: the backing array is part of the owning stack's
// value, so it can be handed to a DMA-capable driver by address.
type aduBuffer struct {
	data [MaxSize]byte
	last int
}

// frame returns the meaningful portion of the buffer, data[0:last+1].
func (b *aduBuffer) frame() []byte {
	return b.data[:b.last+1]
}

func (b *aduBuffer) address() byte {
	return b.data[0]
}

func (b *aduBuffer) function() byte {
	return b.data[1]
}

// pdu returns the bytes after address+function up to and including b.last.
func (b *aduBuffer) pdu() []byte {
	return b.data[2 : b.last+1]
}

// receive copies src into the buffer unless src already aliases the
// internal array (zero-copy DMA reception), and sets last = len(src)-1.
// len must satisfy 1 <= len <= MaxSize; the caller is responsible for that
// check, since the legality of the length differs between "armed to
// receive" and "overflow".
func (b *aduBuffer) receive(src []byte) {
	if len(src) > 0 && &src[0] != &b.data[0] {
		copy(b.data[:], src)
	}
	b.last = len(src) - 1
}

// appendCRC computes the CRC over frame bytes [0..last] and appends the two
// CRC bytes (low byte first, per the Modbus wire convention), advancing
// last by two. The caller must ensure last <= MaxSize-3 beforehand.
func (b *aduBuffer) appendCRC() {
	sum := crc.Update(b.data[:b.last+1], crc.Seed)
	b.data[b.last+1] = byte(sum)
	b.data[b.last+2] = byte(sum >> 8)
	b.last += 2
}

// verifyCRC reports whether the trailing two bytes of the frame match the
// CRC of the bytes preceding them. The frame must be at least MinSize long.
func (b *aduBuffer) verifyCRC() bool {
	n := b.last + 1
	sum := crc.Update(b.data[:n-2], crc.Seed)
	lo, hi := b.data[n-2], b.data[n-1]
	return uint16(hi)<<8|uint16(lo) == sum
}
