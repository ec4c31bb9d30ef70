// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

//go:build linux

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapStore is a Store backed by a file mapped into memory. Reads and
// writes go through the mapping; growth remaps the file at a larger size.
type MmapStore struct {
	f      *os.File
	data   []byte
	length int64
	closed bool
}

// NewMmapStore opens or creates the file at path and maps it with room for
// at least initialLength bytes.
func NewMmapStore(path string, initialLength int64) (*MmapStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	length := info.Size()
	if length < initialLength {
		length = initialLength
	}
	s := &MmapStore{f: f, length: length}
	if err := s.remap(pageAlign(length)); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *MmapStore) remap(size int64) error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return err
		}
		s.data = nil
	}
	if size == 0 {
		size = pageSize
	}
	if err := s.f.Truncate(size); err != nil {
		return err
	}
	data, err := unix.Mmap(int(s.f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	s.data = data
	return nil
}

// Read implements Store.
func (s *MmapStore) Read(dst []byte, position int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if position < 0 || position+int64(len(dst)) > s.length {
		return 0, fmt.Errorf("read of %d bytes at %d beyond length %d: %w",
			len(dst), position, s.length, ErrOutOfRange)
	}
	n := copy(dst, s.data[position:])
	return n, nil
}

// Write implements Store.
func (s *MmapStore) Write(src []byte, position int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if position < 0 {
		return 0, fmt.Errorf("write at negative position %d: %w", position, ErrOutOfRange)
	}
	end := position + int64(len(src))
	if end > int64(len(s.data)) {
		if err := s.remap(pageAlign(end)); err != nil {
			return 0, err
		}
	}
	n := copy(s.data[position:], src)
	if end > s.length {
		s.length = end
	}
	return n, nil
}

// Length implements Store.
func (s *MmapStore) Length() int64 {
	return s.length
}

// Close implements Store.
func (s *MmapStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			s.f.Close()
			return err
		}
		s.data = nil
	}
	return s.f.Close()
}
