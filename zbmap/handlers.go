// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// KeyHandler is the typed accessor for keys. A handler stages one key at a
// time and knows how to hash it, compare it against a stored key, and copy
// it into and out of bucket memory. Handlers are owned by the map and
// reused across calls; the map never retains key bytes beyond an operation.
type KeyHandler interface {
	// KeyLength is the fixed stored width of a key in bytes.
	KeyLength() int
	// Hash hashes the staged key.
	Hash() uint64
	// EqualsKeyAt compares the staged key against the key stored at
	// buf[offset:].
	EqualsKeyAt(buf []byte, offset int) bool
	// ReadFrom replaces the staged key with the key stored at buf[offset:].
	ReadFrom(buf []byte, offset int)
	// WriteTo copies the staged key to buf[offset:].
	WriteTo(buf []byte, offset int)
}

// ValueHandler is the typed accessor for values, staging one value at a
// time and copying it into and out of bucket memory.
type ValueHandler interface {
	// ValueLength is the fixed stored width of a value in bytes.
	ValueLength() int
	// ReadFrom replaces the staged value with the value stored at
	// buf[offset:].
	ReadFrom(buf []byte, offset int)
	// WriteTo copies the staged value to buf[offset:].
	WriteTo(buf []byte, offset int)
}

// LongKeyHandler stages a single 64-bit key.
type LongKeyHandler struct {
	key uint64
}

// NewLongKeyHandler returns a handler for 64-bit keys.
func NewLongKeyHandler() *LongKeyHandler {
	return &LongKeyHandler{}
}

// SetKey stages k.
func (h *LongKeyHandler) SetKey(k uint64) {
	h.key = k
}

// Key returns the staged key.
func (h *LongKeyHandler) Key() uint64 {
	return h.key
}

// KeyLength implements KeyHandler.
func (h *LongKeyHandler) KeyLength() int {
	return 8
}

// Hash implements KeyHandler.
func (h *LongKeyHandler) Hash() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h.key)
	return xxhash.Sum64(buf[:])
}

// EqualsKeyAt implements KeyHandler.
func (h *LongKeyHandler) EqualsKeyAt(buf []byte, offset int) bool {
	return binary.LittleEndian.Uint64(buf[offset:]) == h.key
}

// ReadFrom implements KeyHandler.
func (h *LongKeyHandler) ReadFrom(buf []byte, offset int) {
	h.key = binary.LittleEndian.Uint64(buf[offset:])
}

// WriteTo implements KeyHandler.
func (h *LongKeyHandler) WriteTo(buf []byte, offset int) {
	binary.LittleEndian.PutUint64(buf[offset:], h.key)
}

// PackedIntKeyHandler stages a composite key of a fixed number of 32-bit
// integers packed back to back.
type PackedIntKeyHandler struct {
	keys []int32
}

// NewPackedIntKeyHandler returns a handler for keys of count packed int32s.
func NewPackedIntKeyHandler(count int) *PackedIntKeyHandler {
	return &PackedIntKeyHandler{keys: make([]int32, count)}
}

// SetKey stages the given components. The number of components must match
// the handler's count.
func (h *PackedIntKeyHandler) SetKey(keys ...int32) error {
	if len(keys) != len(h.keys) {
		return fmt.Errorf("got %d key components, want %d: %w",
			len(keys), len(h.keys), ErrKeyTooLong)
	}
	copy(h.keys, keys)
	return nil
}

// Key returns the staged components. The returned slice is reused by the
// next SetKey or ReadFrom.
func (h *PackedIntKeyHandler) Key() []int32 {
	return h.keys
}

// KeyLength implements KeyHandler.
func (h *PackedIntKeyHandler) KeyLength() int {
	return 4 * len(h.keys)
}

// Hash implements KeyHandler.
func (h *PackedIntKeyHandler) Hash() uint64 {
	var d xxhash.Digest
	d.Reset()
	var buf [4]byte
	for _, k := range h.keys {
		binary.LittleEndian.PutUint32(buf[:], uint32(k))
		d.Write(buf[:])
	}
	return d.Sum64()
}

// EqualsKeyAt implements KeyHandler.
func (h *PackedIntKeyHandler) EqualsKeyAt(buf []byte, offset int) bool {
	for i, k := range h.keys {
		if binary.LittleEndian.Uint32(buf[offset+4*i:]) != uint32(k) {
			return false
		}
	}
	return true
}

// ReadFrom implements KeyHandler.
func (h *PackedIntKeyHandler) ReadFrom(buf []byte, offset int) {
	for i := range h.keys {
		h.keys[i] = int32(binary.LittleEndian.Uint32(buf[offset+4*i:]))
	}
}

// WriteTo implements KeyHandler.
func (h *PackedIntKeyHandler) WriteTo(buf []byte, offset int) {
	for i, k := range h.keys {
		binary.LittleEndian.PutUint32(buf[offset+4*i:], uint32(k))
	}
}

// BytesKeyHandler stages byte-slice keys of up to a fixed width. Shorter
// keys are zero-padded to the stored width, so a key is equal to itself
// padded.
type BytesKeyHandler struct {
	key []byte
}

// NewBytesKeyHandler returns a handler storing keys of maxLength bytes.
func NewBytesKeyHandler(maxLength int) *BytesKeyHandler {
	return &BytesKeyHandler{key: make([]byte, maxLength)}
}

// SetKey stages k, zero-padded to the stored width. Keys longer than the
// stored width fail with ErrKeyTooLong.
func (h *BytesKeyHandler) SetKey(k []byte) error {
	return h.SetKeyBuffer(k, 0, len(k))
}

// SetKeyBuffer stages length bytes of buf starting at offset.
func (h *BytesKeyHandler) SetKeyBuffer(buf []byte, offset, length int) error {
	if length > len(h.key) {
		return fmt.Errorf("key length %d exceeds maximum %d: %w",
			length, len(h.key), ErrKeyTooLong)
	}
	n := copy(h.key, buf[offset:offset+length])
	for i := n; i < len(h.key); i++ {
		h.key[i] = 0
	}
	return nil
}

// Key returns the staged key at its full stored width. The returned slice
// is reused by the next SetKey or ReadFrom.
func (h *BytesKeyHandler) Key() []byte {
	return h.key
}

// KeyLength implements KeyHandler.
func (h *BytesKeyHandler) KeyLength() int {
	return len(h.key)
}

// Hash implements KeyHandler.
func (h *BytesKeyHandler) Hash() uint64 {
	return xxhash.Sum64(h.key)
}

// EqualsKeyAt implements KeyHandler.
func (h *BytesKeyHandler) EqualsKeyAt(buf []byte, offset int) bool {
	return bytes.Equal(h.key, buf[offset:offset+len(h.key)])
}

// ReadFrom implements KeyHandler.
func (h *BytesKeyHandler) ReadFrom(buf []byte, offset int) {
	copy(h.key, buf[offset:])
}

// WriteTo implements KeyHandler.
func (h *BytesKeyHandler) WriteTo(buf []byte, offset int) {
	copy(buf[offset:], h.key)
}

// LongValueHandler stages a single 64-bit value.
type LongValueHandler struct {
	value uint64
}

// NewLongValueHandler returns a handler for 64-bit values.
func NewLongValueHandler() *LongValueHandler {
	return &LongValueHandler{}
}

// SetValue stages v.
func (h *LongValueHandler) SetValue(v uint64) {
	h.value = v
}

// Value returns the staged value.
func (h *LongValueHandler) Value() uint64 {
	return h.value
}

// ValueLength implements ValueHandler.
func (h *LongValueHandler) ValueLength() int {
	return 8
}

// ReadFrom implements ValueHandler.
func (h *LongValueHandler) ReadFrom(buf []byte, offset int) {
	h.value = binary.LittleEndian.Uint64(buf[offset:])
}

// WriteTo implements ValueHandler.
func (h *LongValueHandler) WriteTo(buf []byte, offset int) {
	binary.LittleEndian.PutUint64(buf[offset:], h.value)
}

// PackedIntValueHandler stages a composite value of a fixed number of
// 32-bit integers packed back to back.
type PackedIntValueHandler struct {
	values []int32
}

// NewPackedIntValueHandler returns a handler for values of count packed
// int32s.
func NewPackedIntValueHandler(count int) *PackedIntValueHandler {
	return &PackedIntValueHandler{values: make([]int32, count)}
}

// SetValue stages the given components.
func (h *PackedIntValueHandler) SetValue(values ...int32) error {
	if len(values) != len(h.values) {
		return fmt.Errorf("got %d value components, want %d: %w",
			len(values), len(h.values), ErrValueTooLong)
	}
	copy(h.values, values)
	return nil
}

// Value returns the staged components. The returned slice is reused by the
// next SetValue or ReadFrom.
func (h *PackedIntValueHandler) Value() []int32 {
	return h.values
}

// ValueLength implements ValueHandler.
func (h *PackedIntValueHandler) ValueLength() int {
	return 4 * len(h.values)
}

// ReadFrom implements ValueHandler.
func (h *PackedIntValueHandler) ReadFrom(buf []byte, offset int) {
	for i := range h.values {
		h.values[i] = int32(binary.LittleEndian.Uint32(buf[offset+4*i:]))
	}
}

// WriteTo implements ValueHandler.
func (h *PackedIntValueHandler) WriteTo(buf []byte, offset int) {
	for i, v := range h.values {
		binary.LittleEndian.PutUint32(buf[offset+4*i:], uint32(v))
	}
}

// BytesValueHandler stages byte-slice values of up to a fixed width,
// zero-padded to the stored width.
type BytesValueHandler struct {
	value []byte
}

// NewBytesValueHandler returns a handler storing values of maxLength bytes.
func NewBytesValueHandler(maxLength int) *BytesValueHandler {
	return &BytesValueHandler{value: make([]byte, maxLength)}
}

// SetValue stages v, zero-padded to the stored width. Values longer than
// the stored width fail with ErrValueTooLong.
func (h *BytesValueHandler) SetValue(v []byte) error {
	if len(v) > len(h.value) {
		return fmt.Errorf("value length %d exceeds maximum %d: %w",
			len(v), len(h.value), ErrValueTooLong)
	}
	n := copy(h.value, v)
	for i := n; i < len(h.value); i++ {
		h.value[i] = 0
	}
	return nil
}

// Value returns the staged value at its full stored width. The returned
// slice is reused by the next SetValue or ReadFrom.
func (h *BytesValueHandler) Value() []byte {
	return h.value
}

// ValueLength implements ValueHandler.
func (h *BytesValueHandler) ValueLength() int {
	return len(h.value)
}

// ReadFrom implements ValueHandler.
func (h *BytesValueHandler) ReadFrom(buf []byte, offset int) {
	copy(h.value, buf[offset:])
}

// WriteTo implements ValueHandler.
func (h *BytesValueHandler) WriteTo(buf []byte, offset int) {
	copy(buf[offset:], h.value)
}
