// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import "encoding/binary"

// Bucket byte layout. The layout is bit-exact across instances of the same
// binary but not guaranteed stable across library versions.
//
//	off  0: int64  bucketId
//	off  8: int32  depth
//	off 12: int32  fillCount
//	off 16: int64  overflowPointer  (0 = none)
//	off 24: blocks
//
// Block byte layout:
//
//	off  0: int32  blockLength  (= header + keyLen + valueLen)
//	off  4: key bytes   (maxKeyLength wide)
//	off  4+maxKeyLength: value bytes (maxValueLength wide)
const (
	bucketIDOffset        = 0
	bucketDepthOffset     = 8
	bucketFillCountOffset = 12
	bucketOverflowOffset  = 16
	bucketHeaderSize      = 24

	blockHeaderSize = 4
)

// The arena starts with a small header so that no bucket lives at address
// zero, which is the nil overflow pointer.
//
//	off  0: int64  bucketCount  (primary + overflow)
//	off  8: int64  highWaterMark
const (
	arenaBucketCountOffset   = 0
	arenaHighWaterMarkOffset = 8
	arenaHeaderSize          = 16
)

// hostEndian is the byte order of the supported hosts. All production
// targets are little-endian; stored data does not move between hosts of
// different byte order.
var hostEndian = binary.LittleEndian
