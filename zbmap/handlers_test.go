// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import (
	"errors"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestLongKeyHandlerRoundTrip(t *testing.T) {
	w := NewLongKeyHandler()
	w.SetKey(0xdeadbeefcafe)
	buf := make([]byte, 16)
	w.WriteTo(buf, 4)

	r := NewLongKeyHandler()
	r.ReadFrom(buf, 4)
	if r.Key() != 0xdeadbeefcafe {
		t.Errorf("read back %#x", r.Key())
	}
	if !w.EqualsKeyAt(buf, 4) {
		t.Error("EqualsKeyAt is false for the written key")
	}
	r.SetKey(1)
	if r.EqualsKeyAt(buf, 4) {
		t.Error("EqualsKeyAt is true for a different key")
	}
}

func TestLongKeyHandlerHash(t *testing.T) {
	h := NewLongKeyHandler()
	h.SetKey(7)
	first := h.Hash()
	if h.Hash() != first {
		t.Error("hash is not stable for the same key")
	}
	h.SetKey(8)
	if h.Hash() == first {
		t.Error("adjacent keys hash identically")
	}
}

func TestPackedIntKeyHandler(t *testing.T) {
	w := NewPackedIntKeyHandler(2)
	if w.KeyLength() != 8 {
		t.Fatalf("key length is %d, expected 8", w.KeyLength())
	}
	if err := w.SetKey(12, -34); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if err := w.SetKey(1); err == nil {
		t.Error("SetKey accepted a wrong component count")
	}
	// A failed SetKey leaves the staged key unchanged.
	buf := make([]byte, 8)
	w.WriteTo(buf, 0)

	r := NewPackedIntKeyHandler(2)
	r.ReadFrom(buf, 0)
	if diff := pretty.Compare(r.Key(), []int32{12, -34}); diff != "" {
		t.Errorf("read back wrong components: %s", diff)
	}
	if !w.EqualsKeyAt(buf, 0) {
		t.Error("EqualsKeyAt is false for the written key")
	}
}

func TestBytesKeyHandlerPadding(t *testing.T) {
	h := NewBytesKeyHandler(4)
	if err := h.SetKey([]byte{1, 2}); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if diff := pretty.Compare(h.Key(), []byte{1, 2, 0, 0}); diff != "" {
		t.Errorf("staged key: %s", diff)
	}

	buf := make([]byte, 4)
	h.WriteTo(buf, 0)
	// A short key equals its zero-padded stored form.
	if err := h.SetKey([]byte{1, 2, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if !h.EqualsKeyAt(buf, 0) {
		t.Error("padded key does not equal its stored form")
	}

	// Padding must overwrite residue of a longer prior key.
	if err := h.SetKey([]byte{9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	if err := h.SetKey([]byte{9}); err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare(h.Key(), []byte{9, 0, 0, 0}); diff != "" {
		t.Errorf("staged key after restage: %s", diff)
	}
}

func TestBytesKeyHandlerTooLong(t *testing.T) {
	h := NewBytesKeyHandler(2)
	if err := h.SetKey([]byte{1, 2, 3}); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("SetKey returned %v, expected ErrKeyTooLong", err)
	}
	if err := h.SetKeyBuffer([]byte{1, 2, 3, 4}, 1, 3); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("SetKeyBuffer returned %v, expected ErrKeyTooLong", err)
	}
}

func TestBytesKeyHandlerSetKeyBuffer(t *testing.T) {
	h := NewBytesKeyHandler(2)
	if err := h.SetKeyBuffer([]byte{1, 2, 3, 4}, 1, 2); err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare(h.Key(), []byte{2, 3}); diff != "" {
		t.Errorf("staged key: %s", diff)
	}
}

func TestValueHandlerRoundTrips(t *testing.T) {
	buf := make([]byte, 16)

	long := NewLongValueHandler()
	long.SetValue(123456789)
	long.WriteTo(buf, 2)
	long.SetValue(0)
	long.ReadFrom(buf, 2)
	if long.Value() != 123456789 {
		t.Errorf("long value read back %d", long.Value())
	}

	packed := NewPackedIntValueHandler(2)
	if err := packed.SetValue(-1, 2); err != nil {
		t.Fatal(err)
	}
	packed.WriteTo(buf, 0)
	packed2 := NewPackedIntValueHandler(2)
	packed2.ReadFrom(buf, 0)
	if diff := pretty.Compare(packed2.Value(), []int32{-1, 2}); diff != "" {
		t.Errorf("packed value read back: %s", diff)
	}

	bytesHandler := NewBytesValueHandler(3)
	if err := bytesHandler.SetValue([]byte{7, 8, 9, 10}); !errors.Is(err, ErrValueTooLong) {
		t.Errorf("SetValue returned %v, expected ErrValueTooLong", err)
	}
	if err := bytesHandler.SetValue([]byte{7}); err != nil {
		t.Fatal(err)
	}
	bytesHandler.WriteTo(buf, 5)
	bytesHandler2 := NewBytesValueHandler(3)
	bytesHandler2.ReadFrom(buf, 5)
	if diff := pretty.Compare(bytesHandler2.Value(), []byte{7, 0, 0}); diff != "" {
		t.Errorf("bytes value read back: %s", diff)
	}
}
