// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package store

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeapStoreReadWrite(t *testing.T) {
	s := NewHeapStore(0)
	defer s.Close()

	data := []byte{1, 2, 3, 4}
	if n, err := s.Write(data, 10); err != nil || n != 4 {
		t.Fatalf("write returned (%d, %v)", n, err)
	}
	if s.Length() != 14 {
		t.Errorf("length is %d, expected 14", s.Length())
	}

	dst := make([]byte, 4)
	if n, err := s.Read(dst, 10); err != nil || n != 4 {
		t.Fatalf("read returned (%d, %v)", n, err)
	}
	if !bytes.Equal(dst, data) {
		t.Errorf("read back % x", dst)
	}

	// The gap before the write is zero-filled.
	gap := make([]byte, 10)
	if _, err := s.Read(gap, 0); err != nil {
		t.Fatal(err)
	}
	for i, b := range gap {
		if b != 0 {
			t.Errorf("gap byte %d is %d, expected 0", i, b)
		}
	}
}

func TestHeapStoreGrowsInPages(t *testing.T) {
	s := NewHeapStore(0)
	defer s.Close()
	if _, err := s.Write([]byte{1}, pageSize+1); err != nil {
		t.Fatal(err)
	}
	if s.Length() != pageSize+2 {
		t.Errorf("length is %d, expected %d", s.Length(), pageSize+2)
	}
	// Overwriting within the grown region keeps the length.
	if _, err := s.Write([]byte{2}, 0); err != nil {
		t.Fatal(err)
	}
	if s.Length() != pageSize+2 {
		t.Errorf("length changed to %d on overwrite", s.Length())
	}
}

func TestHeapStoreReadOutOfRange(t *testing.T) {
	s := NewHeapStore(8)
	defer s.Close()
	dst := make([]byte, 4)
	if _, err := s.Read(dst, 6); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("read past end returned %v, expected ErrOutOfRange", err)
	}
	if _, err := s.Read(dst, -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("read at negative position returned %v, expected ErrOutOfRange", err)
	}
}

func TestHeapStoreClosed(t *testing.T) {
	s := NewHeapStore(8)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(make([]byte, 1), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("read on closed store returned %v, expected ErrClosed", err)
	}
	if _, err := s.Write([]byte{1}, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("write on closed store returned %v, expected ErrClosed", err)
	}
}

func TestFileStoreReadWrite(t *testing.T) {
	path := t.TempDir() + "/store.bin"
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	data := []byte{9, 8, 7}
	if _, err := s.Write(data, 5); err != nil {
		t.Fatal(err)
	}
	if s.Length() != 8 {
		t.Errorf("length is %d, expected 8", s.Length())
	}
	dst := make([]byte, 3)
	if _, err := s.Read(dst, 5); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, data) {
		t.Errorf("read back % x", dst)
	}
	if _, err := s.Read(dst, 7); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("read past end returned %v, expected ErrOutOfRange", err)
	}
}
