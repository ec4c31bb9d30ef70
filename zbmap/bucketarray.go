// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import (
	"fmt"

	"github.com/zbio/gozb/store"
)

// BucketArray is an append-only arena of fixed-size buckets. A bucket's
// address, once issued, is stable for the life of the map; buckets are
// never freed. Block removal compacts only within its bucket.
type BucketArray struct {
	store  store.Store
	buffer *store.LoadedBuffer

	maxKeyLength   int
	maxValueLength int
	blocksPerBucket int
	blockLength    int
	bucketLength   int

	highWaterMark int64
	bucketCount   int64 // primary buckets
	overflowCount int64
	blockCount    int64 // all blocks
	primaryBlocks int64 // blocks resident in primary buckets

	overflow map[int64]struct{} // addresses of overflow buckets

	scratch []byte // one block, for relocation
}

// NewBucketArray creates an empty arena over s. Bucket byte size is
// bucketHeaderSize + blocksPerBucket * (blockHeaderSize + maxKeyLength +
// maxValueLength).
func NewBucketArray(s store.Store, maxKeyLength, maxValueLength, blocksPerBucket int) (*BucketArray, error) {
	if maxKeyLength <= 0 || maxValueLength < 0 {
		return nil, fmt.Errorf("invalid key/value lengths %d/%d", maxKeyLength, maxValueLength)
	}
	if blocksPerBucket <= 0 {
		return nil, fmt.Errorf("invalid block count per bucket %d", blocksPerBucket)
	}
	blockLength := blockHeaderSize + maxKeyLength + maxValueLength
	a := &BucketArray{
		store:           s,
		maxKeyLength:    maxKeyLength,
		maxValueLength:  maxValueLength,
		blocksPerBucket: blocksPerBucket,
		blockLength:     blockLength,
		bucketLength:    bucketHeaderSize + blocksPerBucket*blockLength,
		highWaterMark:   arenaHeaderSize,
		overflow:        make(map[int64]struct{}),
		scratch:         make([]byte, blockLength),
	}
	a.buffer = store.NewLoadedBuffer(s, arenaHeaderSize, a.bucketLength)
	if err := a.writeArenaHeader(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *BucketArray) writeArenaHeader() error {
	var header [arenaHeaderSize]byte
	hostEndian.PutUint64(header[arenaBucketCountOffset:], uint64(a.bucketCount+a.overflowCount))
	hostEndian.PutUint64(header[arenaHighWaterMarkOffset:], uint64(a.highWaterMark))
	_, err := a.store.Write(header[:], 0)
	return err
}

// BlockLength is the fixed byte size of one block.
func (a *BucketArray) BlockLength() int {
	return a.blockLength
}

// BucketLength is the fixed byte size of one bucket.
func (a *BucketArray) BucketLength() int {
	return a.bucketLength
}

// BlocksPerBucket is the block capacity of one bucket.
func (a *BucketArray) BlocksPerBucket() int {
	return a.blocksPerBucket
}

func (a *BucketArray) loadBucket(addr int64) ([]byte, error) {
	if err := a.buffer.EnsureLoaded(addr, a.bucketLength); err != nil {
		return nil, err
	}
	return a.buffer.Bytes(), nil
}

func (a *BucketArray) allocateBucket(id int64, depth int32, isOverflow bool) (int64, error) {
	addr := a.highWaterMark
	bucket := make([]byte, a.bucketLength)
	hostEndian.PutUint64(bucket[bucketIDOffset:], uint64(id))
	hostEndian.PutUint32(bucket[bucketDepthOffset:], uint32(depth))
	if _, err := a.store.Write(bucket, addr); err != nil {
		return 0, err
	}
	a.highWaterMark += int64(a.bucketLength)
	if isOverflow {
		a.overflowCount++
		a.overflow[addr] = struct{}{}
	} else {
		a.bucketCount++
	}
	if err := a.writeArenaHeader(); err != nil {
		return 0, err
	}
	return addr, nil
}

// AllocateNewBucket appends a zero-initialised bucket with the given id and
// depth and returns its address.
func (a *BucketArray) AllocateNewBucket(id int64, depth int32) (int64, error) {
	return a.allocateBucket(id, depth, false)
}

// Overflow appends a new bucket with the same id and depth as the bucket at
// addr and links it at the end of that bucket's overflow chain.
func (a *BucketArray) Overflow(addr int64) (int64, error) {
	last := addr
	for {
		next, err := a.OverflowPointer(last)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			break
		}
		last = next
	}
	id, err := a.BucketID(addr)
	if err != nil {
		return 0, err
	}
	depth, err := a.BucketDepth(addr)
	if err != nil {
		return 0, err
	}
	overflowAddr, err := a.allocateBucket(id, depth, true)
	if err != nil {
		return 0, err
	}
	b, err := a.loadBucket(last)
	if err != nil {
		return 0, err
	}
	hostEndian.PutUint64(b[bucketOverflowOffset:], uint64(overflowAddr))
	if err := a.buffer.Write(); err != nil {
		return 0, err
	}
	return overflowAddr, nil
}

// BucketID returns the id of the bucket at addr.
func (a *BucketArray) BucketID(addr int64) (int64, error) {
	b, err := a.loadBucket(addr)
	if err != nil {
		return 0, err
	}
	return int64(hostEndian.Uint64(b[bucketIDOffset:])), nil
}

// BucketDepth returns the local depth of the bucket at addr.
func (a *BucketArray) BucketDepth(addr int64) (int32, error) {
	b, err := a.loadBucket(addr)
	if err != nil {
		return 0, err
	}
	return int32(hostEndian.Uint32(b[bucketDepthOffset:])), nil
}

// SetBucketDepth overwrites the local depth of the bucket at addr.
func (a *BucketArray) SetBucketDepth(addr int64, depth int32) error {
	b, err := a.loadBucket(addr)
	if err != nil {
		return err
	}
	hostEndian.PutUint32(b[bucketDepthOffset:], uint32(depth))
	return a.buffer.Write()
}

// BucketFillCount returns the number of blocks in the bucket at addr.
func (a *BucketArray) BucketFillCount(addr int64) (int, error) {
	b, err := a.loadBucket(addr)
	if err != nil {
		return 0, err
	}
	return int(hostEndian.Uint32(b[bucketFillCountOffset:])), nil
}

// OverflowPointer returns the address of the next bucket in the overflow
// chain of the bucket at addr, or 0 if the chain ends there.
func (a *BucketArray) OverflowPointer(addr int64) (int64, error) {
	b, err := a.loadBucket(addr)
	if err != nil {
		return 0, err
	}
	return int64(hostEndian.Uint64(b[bucketOverflowOffset:])), nil
}

// AddBlock appends a block holding the staged key and value at the first
// free offset of the bucket at addr. It returns false without mutating
// anything if the bucket is full.
func (a *BucketArray) AddBlock(addr int64, key KeyHandler, value ValueHandler) (bool, error) {
	b, err := a.loadBucket(addr)
	if err != nil {
		return false, err
	}
	fill := int(hostEndian.Uint32(b[bucketFillCountOffset:]))
	if fill >= a.blocksPerBucket {
		return false, nil
	}
	offset := bucketHeaderSize + fill*a.blockLength
	hostEndian.PutUint32(b[offset:], uint32(a.blockLength))
	key.WriteTo(b, offset+blockHeaderSize)
	value.WriteTo(b, offset+blockHeaderSize+a.maxKeyLength)
	hostEndian.PutUint32(b[bucketFillCountOffset:], uint32(fill+1))
	if err := a.buffer.Write(); err != nil {
		return false, err
	}
	a.blockCount++
	if _, ok := a.overflow[addr]; !ok {
		a.primaryBlocks++
	}
	return true, nil
}

// UpdateValue overwrites the value bytes of the block at offset in place.
// The key width is fixed, so the offset is stable.
func (a *BucketArray) UpdateValue(addr int64, offset int, value ValueHandler) error {
	b, err := a.loadBucket(addr)
	if err != nil {
		return err
	}
	value.WriteTo(b, offset+blockHeaderSize+a.maxKeyLength)
	return a.buffer.Write()
}

// RemoveBlock removes the block at offset, shifting all trailing blocks of
// the same bucket down by one block length. Overflow chain members are not
// pulled back into the bucket.
func (a *BucketArray) RemoveBlock(addr int64, offset int) error {
	b, err := a.loadBucket(addr)
	if err != nil {
		return err
	}
	fill := int(hostEndian.Uint32(b[bucketFillCountOffset:]))
	end := bucketHeaderSize + fill*a.blockLength
	copy(b[offset:end-a.blockLength], b[offset+a.blockLength:end])
	for i := end - a.blockLength; i < end; i++ {
		b[i] = 0
	}
	hostEndian.PutUint32(b[bucketFillCountOffset:], uint32(fill-1))
	if err := a.buffer.Write(); err != nil {
		return err
	}
	a.blockCount--
	if _, ok := a.overflow[addr]; !ok {
		a.primaryBlocks--
	}
	return nil
}

// KeyEquals compares the staged key of the handler against the key of the
// block at offset.
func (a *BucketArray) KeyEquals(key KeyHandler, addr int64, offset int) (bool, error) {
	b, err := a.loadBucket(addr)
	if err != nil {
		return false, err
	}
	return key.EqualsKeyAt(b, offset+blockHeaderSize), nil
}

// ReadKey copies the key of the block at offset into the handler.
func (a *BucketArray) ReadKey(key KeyHandler, addr int64, offset int) error {
	b, err := a.loadBucket(addr)
	if err != nil {
		return err
	}
	key.ReadFrom(b, offset+blockHeaderSize)
	return nil
}

// ReadValue copies the value of the block at offset into the handler.
func (a *BucketArray) ReadValue(value ValueHandler, addr int64, offset int) error {
	b, err := a.loadBucket(addr)
	if err != nil {
		return err
	}
	value.ReadFrom(b, offset+blockHeaderSize+a.maxKeyLength)
	return nil
}

// RelocateBlock moves the block at srcOffset of the bucket at srcAddr into
// the next free slot of the bucket at dstAddr, chaining an overflow bucket
// onto dstAddr if it is full, then compacts the source bucket as if by
// RemoveBlock.
func (a *BucketArray) RelocateBlock(srcAddr int64, srcOffset int, dstAddr int64) error {
	b, err := a.loadBucket(srcAddr)
	if err != nil {
		return err
	}
	copy(a.scratch, b[srcOffset:srcOffset+a.blockLength])

	target := dstAddr
	for {
		fill, err := a.BucketFillCount(target)
		if err != nil {
			return err
		}
		if fill < a.blocksPerBucket {
			break
		}
		next, err := a.OverflowPointer(target)
		if err != nil {
			return err
		}
		if next == 0 {
			next, err = a.Overflow(target)
			if err != nil {
				return err
			}
		}
		target = next
	}

	tb, err := a.loadBucket(target)
	if err != nil {
		return err
	}
	fill := int(hostEndian.Uint32(tb[bucketFillCountOffset:]))
	offset := bucketHeaderSize + fill*a.blockLength
	copy(tb[offset:offset+a.blockLength], a.scratch)
	hostEndian.PutUint32(tb[bucketFillCountOffset:], uint32(fill+1))
	if err := a.buffer.Write(); err != nil {
		return err
	}
	a.blockCount++
	if _, ok := a.overflow[target]; !ok {
		a.primaryBlocks++
	}
	return a.RemoveBlock(srcAddr, srcOffset)
}

// LoadFactor is the ratio of used block bytes to allocated block bytes
// across all non-overflow buckets.
func (a *BucketArray) LoadFactor() float64 {
	allocated := a.bucketCount * int64(a.blocksPerBucket) * int64(a.blockLength)
	if allocated == 0 {
		return 0
	}
	return float64(a.primaryBlocks*int64(a.blockLength)) / float64(allocated)
}

// CountOfUsedBytes reports the arena bytes in use, header included.
func (a *BucketArray) CountOfUsedBytes() int64 {
	return a.highWaterMark
}

// BlockCount is the total number of blocks, overflow buckets included.
func (a *BucketArray) BlockCount() int64 {
	return a.blockCount
}

// BucketCount is the number of primary buckets.
func (a *BucketArray) BucketCount() int64 {
	return a.bucketCount
}

// OverflowBucketCount is the number of overflow buckets.
func (a *BucketArray) OverflowBucketCount() int64 {
	return a.overflowCount
}

// Clear resets the arena to empty without freeing the backing region.
func (a *BucketArray) Clear() error {
	a.highWaterMark = arenaHeaderSize
	a.bucketCount = 0
	a.overflowCount = 0
	a.blockCount = 0
	a.primaryBlocks = 0
	a.overflow = make(map[int64]struct{})
	a.buffer.Clear()
	return a.writeArenaHeader()
}

// Close releases the arena's backing store.
func (a *BucketArray) Close() error {
	return a.store.Close()
}
