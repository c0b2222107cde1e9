// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
)

// Fixed file layout: the register file first, then a length-prefixed
// packet slot. Offsets are computed once so OpenMmapStore and the accessors agree
// on where everything lives.
const (
	sizeRegisters = 65536 * 2
	sizePacketLen = 1
	sizePacketMax = 251
	sizePacket    = sizePacketLen + sizePacketMax

	offsetRegisters = 0
	offsetPacket    = offsetRegisters + sizeRegisters

	totalSize = offsetPacket + sizePacket
)

// MmapStore is a Store backed by a memory-mapped file, so register and
// packet contents survive a process restart. Every write is followed by
// an explicit Flush, trading some write latency for not losing the last
// few writes on a crash.
type MmapStore struct {
	mu   sync.RWMutex
	file *os.File
	data mmap.MMap
}

// OpenMmapStore opens (creating if necessary) the file at path, resizes
// it to the fixed layout if needed, and maps it read-write.
func OpenMmapStore(path string) (*MmapStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat %s: %w", path, err)
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("store: resize %s: %w", path, err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: mmap %s: %w", path, err)
	}

	return &MmapStore{file: f, data: data}, nil
}

func (s *MmapStore) GetRegister(addr uint16) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	off := offsetRegisters + int(addr)*2
	return uint16(s.data[off])<<8 | uint16(s.data[off+1]), nil
}

func (s *MmapStore) SetRegister(addr uint16, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := offsetRegisters + int(addr)*2
	s.data[off] = byte(value >> 8)
	s.data[off+1] = byte(value)
	return s.data.Flush()
}

func (s *MmapStore) GetPacket() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	length := int(s.data[offsetPacket])
	if length > sizePacketMax {
		length = sizePacketMax
	}
	out := make([]byte, length)
	copy(out, s.data[offsetPacket+1:offsetPacket+1+length])
	return out, nil
}

func (s *MmapStore) SetPacket(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) > sizePacketMax {
		return fmt.Errorf("store: packet too large (%d > %d bytes)", len(data), sizePacketMax)
	}
	s.data[offsetPacket] = byte(len(data))
	copy(s.data[offsetPacket+1:], data)
	return s.data.Flush()
}

// Close unmaps the file and closes its descriptor.
func (s *MmapStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.data.Unmap(); err != nil {
		return err
	}
	return s.file.Close()
}
