// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import (
	"fmt"
	"math"

	"github.com/zbio/gozb/store"
)

// addressLength is the stored width of a bucket address.
const addressLength = 8

// HashTable is the map directory: a dense array of 64-bit bucket addresses
// indexed by the low log2(tableSize) bits of a key hash. It is kept loaded
// in a window over its store and written through on mutation.
type HashTable struct {
	store     store.Store
	buffer    *store.LoadedBuffer
	tableSize int64
}

// NewHashTable creates a zeroed directory of tableSize entries over s.
// tableSize must be a power of two.
func NewHashTable(s store.Store, tableSize int64) (*HashTable, error) {
	if tableSize <= 0 || tableSize&(tableSize-1) != 0 {
		return nil, fmt.Errorf("table size %d is not a power of two", tableSize)
	}
	if tableSize > math.MaxInt64/addressLength {
		return nil, fmt.Errorf("table size %d: %w", tableSize, ErrCapacityOverflow)
	}
	t := &HashTable{
		store:     s,
		buffer:    store.NewLoadedBuffer(s, 0, int(tableSize*addressLength)),
		tableSize: tableSize,
	}
	if _, err := s.Write(make([]byte, tableSize*addressLength), 0); err != nil {
		return nil, err
	}
	if err := t.buffer.EnsureLoaded(0, int(tableSize*addressLength)); err != nil {
		return nil, err
	}
	return t, nil
}

// TableSize reports the current number of directory entries.
func (t *HashTable) TableSize() int64 {
	return t.tableSize
}

// GetBucketAddress returns the bucket address stored at index.
func (t *HashTable) GetBucketAddress(index int64) int64 {
	return int64(hostEndian.Uint64(t.buffer.Bytes()[index*addressLength:]))
}

// SetBucketAddress stores address at index, writing through to the store.
func (t *HashTable) SetBucketAddress(index, address int64) error {
	entry := t.buffer.Bytes()[index*addressLength : (index+1)*addressLength]
	hostEndian.PutUint64(entry, uint64(address))
	_, err := t.store.Write(entry, index*addressLength)
	return err
}

// Resize doubles the directory until it holds newSize entries. Every new
// high half starts as a duplicate of the low half, so directory lookups
// stay consistent until a split redirects one of the aliased slots.
func (t *HashTable) Resize(newSize int64) error {
	if newSize <= 0 || newSize&(newSize-1) != 0 {
		return fmt.Errorf("table size %d is not a power of two", newSize)
	}
	if newSize > math.MaxInt64/addressLength {
		return fmt.Errorf("resize to %d entries: %w", newSize, ErrCapacityOverflow)
	}
	for t.tableSize < newSize {
		length := t.tableSize * addressLength
		if _, err := t.store.Write(t.buffer.Bytes(), length); err != nil {
			return err
		}
		if err := t.buffer.EnsureLoaded(0, int(2*length)); err != nil {
			return err
		}
		t.tableSize *= 2
	}
	return nil
}

// Clear zeroes all entries without shrinking the directory or freeing the
// backing region.
func (t *HashTable) Clear() error {
	buf := t.buffer.Bytes()
	for i := range buf {
		buf[i] = 0
	}
	return t.buffer.Write()
}

// Close releases the directory's backing store.
func (t *HashTable) Close() error {
	return t.store.Close()
}
