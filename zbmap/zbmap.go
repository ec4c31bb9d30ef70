// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package zbmap implements an extensible-hashing map on byte-addressable
// storage. A dynamically doubling directory maps the low bits of a key
// hash to fixed-size buckets in an append-only arena; filled buckets split
// in place or chain overflow buckets depending on the load factor. Keys
// and values move through typed handlers, which are the only code that
// touches raw bucket memory.
//
// A map instance is single-writer: all operations must be called by one
// logical owner at a time. Close must be called explicitly; reclamation of
// an unclosed map is reported as a leak.
package zbmap

import (
	"fmt"
	"math/bits"
	"runtime"

	gglog "github.com/zbio/gozb/glog"
	"github.com/zbio/gozb/logger"
	"github.com/zbio/gozb/store"
)

const (
	// DefaultTableSize is the starting directory size when none is
	// configured.
	DefaultTableSize = 32
	// MaxTableSize is the hard cap on directory doubling.
	MaxTableSize = 1 << 27
	// DefaultBlocksPerBucket is the bucket block capacity when none is
	// configured.
	DefaultBlocksPerBucket = 16
	// DefaultLoadFactorOverflowLimit is the load factor below which a
	// filled bucket that cannot split in place chains an overflow bucket
	// instead of doubling the directory.
	DefaultLoadFactorOverflowLimit = 0.6
)

// Config carries the construction parameters of a map. MaxKeyLength and
// MaxValueLength are required unless handler factories are given, in which
// case the stored widths come from the handlers.
type Config struct {
	// InitialTableSize is the starting directory size, rounded up to a
	// power of two. Defaults to DefaultTableSize.
	InitialTableSize int64
	// MaxTableSize caps directory doubling; exceeding it makes inserts
	// fail with ErrMapFull. Defaults to and must not exceed MaxTableSize.
	MaxTableSize int64
	// MinBlockCountPerBucket is the number of blocks per bucket; it sets
	// the bucket byte size. Defaults to DefaultBlocksPerBucket.
	MinBlockCountPerBucket int
	// MaxKeyLength is the stored key width in bytes.
	MaxKeyLength int
	// MaxValueLength is the stored value width in bytes.
	MaxValueLength int
	// LoadFactorOverflowLimit defaults to DefaultLoadFactorOverflowLimit.
	// Below this ratio overflow chaining is preferred over directory
	// doubling.
	LoadFactorOverflowLimit float64
	// NewKeyHandler constructs the key handlers the map owns. Defaults to
	// byte-array handlers of MaxKeyLength.
	NewKeyHandler func() KeyHandler
	// NewValueHandler constructs the value handler the map owns. Defaults
	// to a byte-array handler of MaxValueLength.
	NewValueHandler func() ValueHandler
	// TableStore backs the directory. Defaults to a heap store.
	TableStore store.Store
	// BucketStore backs the bucket arena. Defaults to a heap store.
	BucketStore store.Store
	// Logger receives the leak diagnostic for unclosed maps. Defaults to
	// glog.
	Logger logger.Logger
}

// ZbMap orchestrates put/get/remove against the directory and the bucket
// arena, splitting buckets on overflow and doubling the directory when the
// load factor demands it.
type ZbMap struct {
	hashTable   *HashTable
	bucketArray *BucketArray

	keyHandler      KeyHandler
	splitKeyHandler KeyHandler
	valueHandler    ValueHandler

	tableSize               int64
	maxTableSize            int64
	mask                    uint64
	loadFactorOverflowLimit float64

	log      logger.Logger
	modCount uint64
	closed   bool
}

// New creates a map from cfg. The map exclusively owns its stores,
// directory and arena until Close.
func New(cfg Config) (*ZbMap, error) {
	if cfg.InitialTableSize == 0 {
		cfg.InitialTableSize = DefaultTableSize
	}
	if cfg.MaxTableSize == 0 {
		cfg.MaxTableSize = MaxTableSize
	}
	if cfg.MaxTableSize > MaxTableSize {
		return nil, fmt.Errorf("max table size %d exceeds %d", cfg.MaxTableSize, int64(MaxTableSize))
	}
	if cfg.MinBlockCountPerBucket == 0 {
		cfg.MinBlockCountPerBucket = DefaultBlocksPerBucket
	}
	if cfg.LoadFactorOverflowLimit == 0 {
		cfg.LoadFactorOverflowLimit = DefaultLoadFactorOverflowLimit
	}
	if cfg.NewKeyHandler == nil {
		if cfg.MaxKeyLength <= 0 {
			return nil, fmt.Errorf("max key length is required")
		}
		maxKeyLength := cfg.MaxKeyLength
		cfg.NewKeyHandler = func() KeyHandler { return NewBytesKeyHandler(maxKeyLength) }
	}
	if cfg.NewValueHandler == nil {
		if cfg.MaxValueLength <= 0 {
			return nil, fmt.Errorf("max value length is required")
		}
		maxValueLength := cfg.MaxValueLength
		cfg.NewValueHandler = func() ValueHandler { return NewBytesValueHandler(maxValueLength) }
	}
	if cfg.Logger == nil {
		cfg.Logger = &gglog.Glog{}
	}

	tableSize := int64(1) << bits.Len64(uint64(cfg.InitialTableSize-1))
	if tableSize > cfg.MaxTableSize {
		return nil, fmt.Errorf("initial table size %d exceeds max table size %d",
			tableSize, cfg.MaxTableSize)
	}

	keyHandler := cfg.NewKeyHandler()
	splitKeyHandler := cfg.NewKeyHandler()
	valueHandler := cfg.NewValueHandler()

	tableStore := cfg.TableStore
	if tableStore == nil {
		tableStore = store.NewHeapStore(tableSize * addressLength)
	}
	bucketStore := cfg.BucketStore
	if bucketStore == nil {
		bucketStore = store.NewHeapStore(0)
	}

	hashTable, err := NewHashTable(tableStore, tableSize)
	if err != nil {
		return nil, err
	}
	bucketArray, err := NewBucketArray(bucketStore,
		keyHandler.KeyLength(), valueHandler.ValueLength(), cfg.MinBlockCountPerBucket)
	if err != nil {
		return nil, err
	}

	m := &ZbMap{
		hashTable:               hashTable,
		bucketArray:             bucketArray,
		keyHandler:              keyHandler,
		splitKeyHandler:         splitKeyHandler,
		valueHandler:            valueHandler,
		tableSize:               tableSize,
		maxTableSize:            cfg.MaxTableSize,
		mask:                    uint64(tableSize - 1),
		loadFactorOverflowLimit: cfg.LoadFactorOverflowLimit,
		log:                     cfg.Logger,
	}
	if err := m.allocateInitialBucket(); err != nil {
		return nil, err
	}
	runtime.SetFinalizer(m, (*ZbMap).reportLeak)
	return m, nil
}

func (m *ZbMap) reportLeak() {
	if !m.closed {
		m.log.Errorf("zbmap: map reclaimed without Close, leaking %d bytes",
			m.bucketArray.CountOfUsedBytes())
	}
}

func (m *ZbMap) allocateInitialBucket() error {
	addr, err := m.bucketArray.AllocateNewBucket(0, 0)
	if err != nil {
		return err
	}
	for i := int64(0); i < m.tableSize; i++ {
		if err := m.hashTable.SetBucketAddress(i, addr); err != nil {
			return err
		}
	}
	return nil
}

// KeyHandler returns the handler the map stages keys in. Typed wrappers
// use it to convert strongly typed keys before each call.
func (m *ZbMap) KeyHandler() KeyHandler {
	return m.keyHandler
}

// ValueHandler returns the handler the map stages values in.
func (m *ZbMap) ValueHandler() ValueHandler {
	return m.valueHandler
}

// TableSize reports the current directory size.
func (m *ZbMap) TableSize() int64 {
	return m.tableSize
}

// Size reports the number of entries.
func (m *ZbMap) Size() int64 {
	return m.bucketArray.BlockCount()
}

// LoadFactor reports the used-to-allocated block byte ratio across primary
// buckets.
func (m *ZbMap) LoadFactor() float64 {
	return m.bucketArray.LoadFactor()
}

// BucketArray exposes the arena for size reporting and metrics.
func (m *ZbMap) BucketArray() *BucketArray {
	return m.bucketArray
}

// HashTable exposes the directory for metrics.
func (m *ZbMap) HashTable() *HashTable {
	return m.hashTable
}

// findBlock walks the target bucket of the staged key plus its overflow
// chain. The returned offset is -1 if the key is not present.
func (m *ZbMap) findBlock() (bucketAddr int64, blockOffset int, err error) {
	hash := m.keyHandler.Hash()
	addr := m.hashTable.GetBucketAddress(int64(hash & m.mask))
	return m.findBlockFrom(addr)
}

func (m *ZbMap) findBlockFrom(addr int64) (bucketAddr int64, blockOffset int, err error) {
	blockLength := m.bucketArray.BlockLength()
	for addr != 0 {
		fill, err := m.bucketArray.BucketFillCount(addr)
		if err != nil {
			return -1, -1, err
		}
		for i := 0; i < fill; i++ {
			offset := bucketHeaderSize + i*blockLength
			equal, err := m.bucketArray.KeyEquals(m.keyHandler, addr, offset)
			if err != nil {
				return -1, -1, err
			}
			if equal {
				return addr, offset, nil
			}
		}
		addr, err = m.bucketArray.OverflowPointer(addr)
		if err != nil {
			return -1, -1, err
		}
	}
	return -1, -1, nil
}

// Put inserts the staged key and value, or updates the value in place if
// the key is already mapped. It reports whether an existing entry was
// updated. Typed callers stage through the handlers returned by KeyHandler
// and ValueHandler.
func (m *ZbMap) Put() (updated bool, err error) {
	if m.closed {
		return false, ErrClosed
	}
	hash := m.keyHandler.Hash()
	for {
		bucketAddr := m.hashTable.GetBucketAddress(int64(hash & m.mask))

		// Scan phase: at most one update per key.
		addr, offset, err := m.findBlockFrom(bucketAddr)
		if err != nil {
			return false, err
		}
		if offset >= 0 {
			if err := m.bucketArray.UpdateValue(addr, offset, m.valueHandler); err != nil {
				return false, err
			}
			m.modCount++
			return true, nil
		}

		// Insert phase: first free slot in the bucket or its chain.
		for a := bucketAddr; a != 0; {
			added, err := m.bucketArray.AddBlock(a, m.keyHandler, m.valueHandler)
			if err != nil {
				return false, err
			}
			if added {
				m.modCount++
				return false, nil
			}
			a, err = m.bucketArray.OverflowPointer(a)
			if err != nil {
				return false, err
			}
		}

		// The whole chain is full. Split and re-derive the bucket id from
		// the current mask; the split may have doubled the directory.
		if err := m.splitBucket(bucketAddr); err != nil {
			return false, err
		}
	}
}

// Get copies the value mapped to the staged key into the value handler and
// reports whether the key was present.
func (m *ZbMap) Get() (found bool, err error) {
	if m.closed {
		return false, ErrClosed
	}
	addr, offset, err := m.findBlock()
	if err != nil {
		return false, err
	}
	if offset < 0 {
		return false, nil
	}
	if err := m.bucketArray.ReadValue(m.valueHandler, addr, offset); err != nil {
		return false, err
	}
	return true, nil
}

// Remove unmaps the staged key, leaving the prior value in the value
// handler, and reports whether the key was present. Overflow buckets are
// never merged back after removals.
func (m *ZbMap) Remove() (found bool, err error) {
	if m.closed {
		return false, ErrClosed
	}
	addr, offset, err := m.findBlock()
	if err != nil {
		return false, err
	}
	if offset < 0 {
		return false, nil
	}
	if err := m.bucketArray.ReadValue(m.valueHandler, addr, offset); err != nil {
		return false, err
	}
	if err := m.bucketArray.RemoveBlock(addr, offset); err != nil {
		return false, err
	}
	m.modCount++
	return true, nil
}

// splitBucket resolves a filled bucket at (id, depth): split in place when
// the sibling id fits the directory, chain an overflow bucket when the
// load factor is below the overflow limit, double the directory otherwise.
// The load factor is taken before any mutation of the split.
func (m *ZbMap) splitBucket(filledAddr int64) error {
	for {
		depth, err := m.bucketArray.BucketDepth(filledAddr)
		if err != nil {
			return err
		}
		id, err := m.bucketArray.BucketID(filledAddr)
		if err != nil {
			return err
		}
		newBucketID := id | int64(1)<<uint(depth)
		newDepth := depth + 1

		if newBucketID < m.tableSize {
			if err := m.bucketArray.SetBucketDepth(filledAddr, newDepth); err != nil {
				return err
			}
			newAddr, err := m.bucketArray.AllocateNewBucket(newBucketID, newDepth)
			if err != nil {
				return err
			}
			if err := m.distributeEntries(filledAddr, newAddr, depth); err != nil {
				return err
			}
			step := int64(1) << uint(newDepth)
			for i := newBucketID; i < m.tableSize; i += step {
				if err := m.hashTable.SetBucketAddress(i, newAddr); err != nil {
					return err
				}
			}
			return nil
		}

		if m.bucketArray.LoadFactor() < m.loadFactorOverflowLimit {
			_, err := m.bucketArray.Overflow(filledAddr)
			return err
		}

		if m.tableSize*2 <= m.maxTableSize {
			if err := m.hashTable.Resize(m.tableSize * 2); err != nil {
				return err
			}
			m.tableSize *= 2
			m.mask = uint64(m.tableSize - 1)
			continue
		}

		return ErrMapFull
	}
}

// distributeEntries walks the filled bucket and its overflow chain in
// on-disk order and relocates every block whose key hash has the old depth
// bit set into the new bucket. Relocation compacts the source in place, so
// the fill count and the block at the current offset are refetched after
// every move.
func (m *ZbMap) distributeEntries(srcAddr, dstAddr int64, oldDepth int32) error {
	splitMask := uint64(1) << uint(oldDepth)
	blockLength := m.bucketArray.BlockLength()
	addr := srcAddr
	for {
		offset := bucketHeaderSize
		for {
			fill, err := m.bucketArray.BucketFillCount(addr)
			if err != nil {
				return err
			}
			if offset >= bucketHeaderSize+fill*blockLength {
				break
			}
			if err := m.bucketArray.ReadKey(m.splitKeyHandler, addr, offset); err != nil {
				return err
			}
			if m.splitKeyHandler.Hash()&splitMask != 0 {
				// The next block shifts into this offset.
				if err := m.bucketArray.RelocateBlock(addr, offset, dstAddr); err != nil {
					return err
				}
			} else {
				offset += blockLength
			}
		}
		next, err := m.bucketArray.OverflowPointer(addr)
		if err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		addr = next
	}
}

// ForEach visits every entry through the map's own handlers. The traversal
// fails with ErrModified if the map is structurally modified while it
// runs.
func (m *ZbMap) ForEach(visit func(key KeyHandler, value ValueHandler) error) error {
	if m.closed {
		return ErrClosed
	}
	startMod := m.modCount
	blockLength := m.bucketArray.BlockLength()
	bucketLength := int64(m.bucketArray.BucketLength())
	for addr := int64(arenaHeaderSize); addr < m.bucketArray.CountOfUsedBytes(); addr += bucketLength {
		fill, err := m.bucketArray.BucketFillCount(addr)
		if err != nil {
			return err
		}
		for i := 0; i < fill; i++ {
			offset := bucketHeaderSize + i*blockLength
			if err := m.bucketArray.ReadKey(m.keyHandler, addr, offset); err != nil {
				return err
			}
			if err := m.bucketArray.ReadValue(m.valueHandler, addr, offset); err != nil {
				return err
			}
			if err := visit(m.keyHandler, m.valueHandler); err != nil {
				return err
			}
			if m.modCount != startMod {
				return ErrModified
			}
		}
	}
	return nil
}

// Clear removes all entries, keeping the directory size and the backing
// regions.
func (m *ZbMap) Clear() error {
	if m.closed {
		return ErrClosed
	}
	if err := m.bucketArray.Clear(); err != nil {
		return err
	}
	if err := m.hashTable.Clear(); err != nil {
		return err
	}
	if err := m.allocateInitialBucket(); err != nil {
		return err
	}
	m.modCount++
	return nil
}

// Close releases the directory and the arena. Close is idempotent. A map
// reclaimed by the runtime without Close is reported as a leak through the
// configured logger.
func (m *ZbMap) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	runtime.SetFinalizer(m, nil)
	err := m.hashTable.Close()
	if cerr := m.bucketArray.Close(); err == nil {
		err = cerr
	}
	return err
}
