// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package store

import (
	"fmt"
	"io"
	"os"
)

// FileStore is a Store backed by a file, using positioned reads and writes.
// It makes no durability guarantees beyond what the OS provides.
type FileStore struct {
	f      *os.File
	length int64
	closed bool
}

// NewFileStore opens or creates the file at path and returns a store over
// it. An existing file's contents become the initial region.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileStore{f: f, length: info.Size()}, nil
}

// Read implements Store.
func (s *FileStore) Read(dst []byte, position int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if position < 0 || position+int64(len(dst)) > s.length {
		return 0, fmt.Errorf("read of %d bytes at %d beyond length %d: %w",
			len(dst), position, s.length, ErrOutOfRange)
	}
	n, err := s.f.ReadAt(dst, position)
	if err == io.EOF && n == len(dst) {
		err = nil
	}
	return n, err
}

// Write implements Store.
func (s *FileStore) Write(src []byte, position int64) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if position < 0 {
		return 0, fmt.Errorf("write at negative position %d: %w", position, ErrOutOfRange)
	}
	n, err := s.f.WriteAt(src, position)
	if err != nil {
		return n, err
	}
	if end := position + int64(n); end > s.length {
		s.length = end
	}
	return n, nil
}

// Length implements Store.
func (s *FileStore) Length() int64 {
	return s.length
}

// Close implements Store.
func (s *FileStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
