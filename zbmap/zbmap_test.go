// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
)

// identityKeyHandler hashes a key to itself, so tests can place keys in
// exact buckets.
type identityKeyHandler struct {
	key uint64
}

func (h *identityKeyHandler) KeyLength() int { return 8 }

func (h *identityKeyHandler) Hash() uint64 { return h.key }

func (h *identityKeyHandler) EqualsKeyAt(buf []byte, offset int) bool {
	return binary.LittleEndian.Uint64(buf[offset:]) == h.key
}

func (h *identityKeyHandler) ReadFrom(buf []byte, offset int) {
	h.key = binary.LittleEndian.Uint64(buf[offset:])
}

func (h *identityKeyHandler) WriteTo(buf []byte, offset int) {
	binary.LittleEndian.PutUint64(buf[offset:], h.key)
}

func newTestMap(t *testing.T, initialTableSize, maxTableSize int64,
	blocksPerBucket int, overflowLimit float64) *ZbMap {
	t.Helper()
	m, err := New(Config{
		InitialTableSize:        initialTableSize,
		MaxTableSize:            maxTableSize,
		MinBlockCountPerBucket:  blocksPerBucket,
		LoadFactorOverflowLimit: overflowLimit,
		NewKeyHandler:           func() KeyHandler { return &identityKeyHandler{} },
		NewValueHandler:         func() ValueHandler { return NewLongValueHandler() },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func putKV(t *testing.T, m *ZbMap, key, value uint64) bool {
	t.Helper()
	m.KeyHandler().(*identityKeyHandler).key = key
	m.ValueHandler().(*LongValueHandler).SetValue(value)
	updated, err := m.Put()
	if err != nil {
		t.Fatalf("put %d: %v", key, err)
	}
	return updated
}

func getKV(t *testing.T, m *ZbMap, key uint64) (uint64, bool) {
	t.Helper()
	m.KeyHandler().(*identityKeyHandler).key = key
	found, err := m.Get()
	if err != nil {
		t.Fatalf("get %d: %v", key, err)
	}
	if !found {
		return 0, false
	}
	return m.ValueHandler().(*LongValueHandler).Value(), true
}

func removeKV(t *testing.T, m *ZbMap, key uint64) (uint64, bool) {
	t.Helper()
	m.KeyHandler().(*identityKeyHandler).key = key
	found, err := m.Remove()
	if err != nil {
		t.Fatalf("remove %d: %v", key, err)
	}
	if !found {
		return 0, false
	}
	return m.ValueHandler().(*LongValueHandler).Value(), true
}

func TestPutGetRemove(t *testing.T) {
	m := newTestMap(t, 32, MaxTableSize, 16, 0.6)
	for i := uint64(0); i < 100; i++ {
		if updated := putKV(t, m, i, i*10); updated {
			t.Errorf("put %d reported update on first insert", i)
		}
	}
	if size := m.Size(); size != 100 {
		t.Errorf("size is %d, expected 100", size)
	}
	for i := uint64(0); i < 100; i++ {
		v, ok := getKV(t, m, i)
		if !ok || v != i*10 {
			t.Errorf("get %d returned (%d, %t), expected (%d, true)", i, v, ok, i*10)
		}
	}
	for i := uint64(0); i < 100; i += 2 {
		prior, ok := removeKV(t, m, i)
		if !ok || prior != i*10 {
			t.Errorf("remove %d returned (%d, %t), expected (%d, true)", i, prior, ok, i*10)
		}
	}
	if size := m.Size(); size != 50 {
		t.Errorf("size is %d, expected 50", size)
	}
	for i := uint64(0); i < 100; i++ {
		_, ok := getKV(t, m, i)
		if want := i%2 == 1; ok != want {
			t.Errorf("get %d after removals: found=%t, expected %t", i, ok, want)
		}
	}
}

// Four keys with hashes 0b00..0b11 into a two-entry directory with
// one-block buckets: the directory doubles exactly once and every bucket
// ends up with depth 2 and one block.
func TestSplitsDoubleDirectoryOnce(t *testing.T) {
	m := newTestMap(t, 2, MaxTableSize, 1, 0.6)
	for _, hash := range []uint64{0b00, 0b01, 0b10, 0b11} {
		putKV(t, m, hash, hash+100)
	}
	if m.TableSize() != 4 {
		t.Fatalf("table size is %d, expected 4", m.TableSize())
	}
	arr := m.BucketArray()
	if arr.BucketCount() != 4 || arr.OverflowBucketCount() != 0 {
		t.Fatalf("bucket counts are %d/%d, expected 4 primary and 0 overflow",
			arr.BucketCount(), arr.OverflowBucketCount())
	}
	bucketLength := int64(arr.BucketLength())
	for addr := int64(arenaHeaderSize); addr < arr.CountOfUsedBytes(); addr += bucketLength {
		depth, err := arr.BucketDepth(addr)
		if err != nil {
			t.Fatal(err)
		}
		fill, err := arr.BucketFillCount(addr)
		if err != nil {
			t.Fatal(err)
		}
		if depth != 2 || fill != 1 {
			t.Errorf("bucket at %d has depth %d fill %d, expected 2 and 1", addr, depth, fill)
		}
	}
	for _, hash := range []uint64{0b00, 0b01, 0b10, 0b11} {
		if v, ok := getKV(t, m, hash); !ok || v != hash+100 {
			t.Errorf("get %b returned (%d, %t)", hash, v, ok)
		}
	}
}

// With the directory capped at one entry, a filled bucket chains an
// overflow bucket as long as the load factor check permits it.
func TestOverflowChaining(t *testing.T) {
	m := newTestMap(t, 1, 1, 2, 1.5)
	for _, key := range []uint64{0, 1, 2} {
		putKV(t, m, key, key+100)
	}
	if m.TableSize() != 1 {
		t.Errorf("table size is %d, expected 1", m.TableSize())
	}
	arr := m.BucketArray()
	if arr.BucketCount() != 1 || arr.OverflowBucketCount() != 1 {
		t.Errorf("bucket counts are %d/%d, expected 1 primary and 1 overflow",
			arr.BucketCount(), arr.OverflowBucketCount())
	}
	for _, key := range []uint64{0, 1, 2} {
		if v, ok := getKV(t, m, key); !ok || v != key+100 {
			t.Errorf("get %d returned (%d, %t)", key, v, ok)
		}
	}
}

func TestPutUpdatesInPlace(t *testing.T) {
	m, err := NewBytes2BytesZbMap(Config{
		InitialTableSize: 2,
		MaxKeyLength:     1,
		MaxValueLength:   8,
	})
	if err != nil {
		t.Fatalf("NewBytes2BytesZbMap failed: %v", err)
	}
	defer m.Close()

	key := []byte{0x01}
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, 7)
	if updated, err := m.Put(key, value); err != nil || updated {
		t.Fatalf("first put returned (%t, %v)", updated, err)
	}
	binary.LittleEndian.PutUint64(value, 9)
	if updated, err := m.Put(key, value); err != nil || !updated {
		t.Fatalf("second put returned (%t, %v), expected an update", updated, err)
	}
	dst := make([]byte, 8)
	if ok, err := m.Get(key, dst); err != nil || !ok {
		t.Fatalf("get returned (%t, %v)", ok, err)
	}
	if got := binary.LittleEndian.Uint64(dst); got != 9 {
		t.Errorf("value is %d, expected 9", got)
	}
	if size := m.Map().Size(); size != 1 {
		t.Errorf("size is %d, expected 1", size)
	}
}

// Keys 0b01 and 0b11 share directory slot 1; filling their bucket forces a
// split that relocates them into the new depth-1 sibling.
func TestSplitRelocatesBlocks(t *testing.T) {
	m := newTestMap(t, 2, MaxTableSize, 2, 0.6)
	putKV(t, m, 0b01, 101)
	putKV(t, m, 0b11, 103)
	putKV(t, m, 0b00, 100) // fills slot 0's view of the shared bucket, splitting it

	arr := m.BucketArray()
	slot1 := m.HashTable().GetBucketAddress(1)
	id, err := arr.BucketID(slot1)
	if err != nil {
		t.Fatal(err)
	}
	fill, err := arr.BucketFillCount(slot1)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 || fill != 2 {
		t.Errorf("slot 1 bucket has id %d fill %d, expected id 1 with both odd keys", id, fill)
	}
	for _, key := range []uint64{0b00, 0b01, 0b11} {
		if v, ok := getKV(t, m, key); !ok || v != key+100 {
			t.Errorf("get %b returned (%d, %t)", key, v, ok)
		}
	}
}

func TestPutIdempotent(t *testing.T) {
	m := newTestMap(t, 2, MaxTableSize, 2, 0.6)
	putKV(t, m, 42, 7)
	sizeAfterFirst := m.Size()
	if updated := putKV(t, m, 42, 7); !updated {
		t.Error("repeated identical put did not report an update")
	}
	if m.Size() != sizeAfterFirst {
		t.Errorf("size changed from %d to %d on idempotent put", sizeAfterFirst, m.Size())
	}
}

func TestRemoveThenReinsert(t *testing.T) {
	m := newTestMap(t, 32, MaxTableSize, 16, 0.6)
	putKV(t, m, 1, 11)
	if prior, ok := removeKV(t, m, 1); !ok || prior != 11 {
		t.Fatalf("remove returned (%d, %t), expected (11, true)", prior, ok)
	}
	if _, ok := getKV(t, m, 1); ok {
		t.Fatal("key still mapped after remove")
	}
	putKV(t, m, 1, 12)
	if v, ok := getKV(t, m, 1); !ok || v != 12 {
		t.Errorf("get after reinsert returned (%d, %t), expected (12, true)", v, ok)
	}
}

func TestKeyTooLongDoesNotMutate(t *testing.T) {
	m, err := NewBytes2BytesZbMap(Config{
		MaxKeyLength:   4,
		MaxValueLength: 4,
	})
	if err != nil {
		t.Fatalf("NewBytes2BytesZbMap failed: %v", err)
	}
	defer m.Close()

	if _, err := m.Put([]byte{1, 2, 3, 4, 5}, []byte{1}); !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("put with oversized key returned %v, expected ErrKeyTooLong", err)
	}
	if size := m.Map().Size(); size != 0 {
		t.Errorf("size is %d after failed put, expected 0", size)
	}
}

func TestMapFull(t *testing.T) {
	m := newTestMap(t, 1, 1, 1, 0.6)
	putKV(t, m, 0, 100)
	m.KeyHandler().(*identityKeyHandler).key = 1
	m.ValueHandler().(*LongValueHandler).SetValue(101)
	if _, err := m.Put(); !errors.Is(err, ErrMapFull) {
		t.Fatalf("put into full map returned %v, expected ErrMapFull", err)
	}
	// The map stays usable for reads and removes.
	if v, ok := getKV(t, m, 0); !ok || v != 100 {
		t.Errorf("get after failed put returned (%d, %t), expected (100, true)", v, ok)
	}
	if prior, ok := removeKV(t, m, 0); !ok || prior != 100 {
		t.Errorf("remove after failed put returned (%d, %t)", prior, ok)
	}
}

// Every directory slot must point at a bucket whose id matches the slot
// under the bucket's local depth, and every block must hash into its
// bucket's id.
func TestDirectoryAndBucketInvariants(t *testing.T) {
	m := newTestMap(t, 2, MaxTableSize, 2, 0.6)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		putKV(t, m, uint64(rng.Intn(1000)), uint64(i))
	}

	table := m.HashTable()
	arr := m.BucketArray()
	if ts := table.TableSize(); ts&(ts-1) != 0 || ts > MaxTableSize {
		t.Fatalf("table size %d is not a power of two within bounds", ts)
	}
	for i := int64(0); i < table.TableSize(); i++ {
		addr := table.GetBucketAddress(i)
		id, err := arr.BucketID(addr)
		if err != nil {
			t.Fatal(err)
		}
		depth, err := arr.BucketDepth(addr)
		if err != nil {
			t.Fatal(err)
		}
		if mask := int64(1)<<uint(depth) - 1; i&mask != id {
			t.Errorf("slot %d points at bucket id %d depth %d", i, id, depth)
		}
	}

	bucketLength := int64(arr.BucketLength())
	for addr := int64(arenaHeaderSize); addr < arr.CountOfUsedBytes(); addr += bucketLength {
		id, err := arr.BucketID(addr)
		if err != nil {
			t.Fatal(err)
		}
		depth, err := arr.BucketDepth(addr)
		if err != nil {
			t.Fatal(err)
		}
		fill, err := arr.BucketFillCount(addr)
		if err != nil {
			t.Fatal(err)
		}
		for b := 0; b < fill; b++ {
			offset := bucketHeaderSize + b*arr.BlockLength()
			if err := arr.ReadKey(m.splitKeyHandler, addr, offset); err != nil {
				t.Fatal(err)
			}
			hash := m.splitKeyHandler.Hash()
			if mask := uint64(1)<<uint(depth) - 1; hash&mask != uint64(id) {
				t.Errorf("bucket id %d depth %d holds key with hash %#x", id, depth, hash)
			}
		}
	}
}

func TestRandomOperationsAgainstModel(t *testing.T) {
	m, err := NewLong2LongZbMap(Config{InitialTableSize: 4, MinBlockCountPerBucket: 4})
	if err != nil {
		t.Fatalf("NewLong2LongZbMap failed: %v", err)
	}
	defer m.Close()

	model := make(map[uint64]uint64)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20000; i++ {
		key := uint64(rng.Intn(2048))
		switch rng.Intn(3) {
		case 0:
			value := rng.Uint64()
			updated, err := m.Put(key, value)
			if err != nil {
				t.Fatalf("put %d: %v", key, err)
			}
			if _, existed := model[key]; existed != updated {
				t.Fatalf("put %d reported updated=%t, model says %t", key, updated, existed)
			}
			model[key] = value
		case 1:
			value, ok, err := m.Get(key)
			if err != nil {
				t.Fatalf("get %d: %v", key, err)
			}
			want, wantOK := model[key]
			if ok != wantOK || value != want {
				t.Fatalf("get %d returned (%d, %t), model has (%d, %t)", key, value, ok, want, wantOK)
			}
		case 2:
			prior, ok, err := m.Remove(key)
			if err != nil {
				t.Fatalf("remove %d: %v", key, err)
			}
			want, wantOK := model[key]
			if ok != wantOK || prior != want {
				t.Fatalf("remove %d returned (%d, %t), model has (%d, %t)", key, prior, ok, want, wantOK)
			}
			delete(model, key)
		}
	}
	if size := m.Map().Size(); size != int64(len(model)) {
		t.Fatalf("size is %d, model has %d entries", size, len(model))
	}
	for key, want := range model {
		value, ok, err := m.Get(key)
		if err != nil || !ok || value != want {
			t.Fatalf("final get %d returned (%d, %t, %v), expected (%d, true)", key, value, ok, err, want)
		}
	}
}

func TestClear(t *testing.T) {
	m := newTestMap(t, 2, MaxTableSize, 1, 0.6)
	for i := uint64(0); i < 8; i++ {
		putKV(t, m, i, i)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if m.Size() != 0 {
		t.Errorf("size is %d after clear, expected 0", m.Size())
	}
	for i := uint64(0); i < 8; i++ {
		if _, ok := getKV(t, m, i); ok {
			t.Errorf("key %d still mapped after clear", i)
		}
	}
	putKV(t, m, 3, 33)
	if v, ok := getKV(t, m, 3); !ok || v != 33 {
		t.Errorf("get after clear and reinsert returned (%d, %t)", v, ok)
	}
}

func TestForEach(t *testing.T) {
	m := newTestMap(t, 32, MaxTableSize, 16, 0.6)
	want := map[uint64]uint64{}
	for i := uint64(0); i < 50; i++ {
		putKV(t, m, i, i*3)
		want[i] = i * 3
	}
	got := map[uint64]uint64{}
	err := m.ForEach(func(key KeyHandler, value ValueHandler) error {
		got[key.(*identityKeyHandler).key] = value.(*LongValueHandler).Value()
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("visited %d entries, expected %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("visited (%d, %d), expected value %d", k, got[k], v)
		}
	}
}

func TestForEachFailsFastOnModification(t *testing.T) {
	m := newTestMap(t, 32, MaxTableSize, 16, 0.6)
	for i := uint64(0); i < 10; i++ {
		putKV(t, m, i, i)
	}
	err := m.ForEach(func(key KeyHandler, value ValueHandler) error {
		key.(*identityKeyHandler).key = 1000
		value.(*LongValueHandler).SetValue(1)
		_, err := m.Put()
		return err
	})
	if !errors.Is(err, ErrModified) {
		t.Fatalf("ForEach returned %v, expected ErrModified", err)
	}
}

func TestClosedMap(t *testing.T) {
	m := newTestMap(t, 32, MaxTableSize, 16, 0.6)
	if err := m.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if _, err := m.Put(); !errors.Is(err, ErrClosed) {
		t.Errorf("put on closed map returned %v, expected ErrClosed", err)
	}
	if _, err := m.Get(); !errors.Is(err, ErrClosed) {
		t.Errorf("get on closed map returned %v, expected ErrClosed", err)
	}
}

func BenchmarkPut(b *testing.B) {
	m, err := NewLong2LongZbMap(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Put(uint64(i), uint64(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	m, err := NewLong2LongZbMap(Config{})
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()
	for i := 0; i < 4096; i++ {
		if _, err := m.Put(uint64(i), uint64(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := m.Get(uint64(i % 4096)); err != nil {
			b.Fatal(err)
		}
	}
}
