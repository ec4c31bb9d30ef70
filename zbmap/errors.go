// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

import "errors"

var (
	// ErrKeyTooLong is returned when a caller stages a key longer than the
	// map's configured maximum key length. The map is unchanged.
	ErrKeyTooLong = errors.New("key is longer than the configured maximum key length")

	// ErrValueTooLong is returned when a caller stages a value longer than
	// the map's configured maximum value length. The map is unchanged.
	ErrValueTooLong = errors.New("value is longer than the configured maximum value length")

	// ErrMapFull is returned when an insert needs a split, the directory
	// is already at its maximum size and the filled bucket cannot chain
	// further under the load factor. The map stays usable for reads and
	// removes.
	ErrMapFull = errors.New("map is full: directory at maximum size and bucket cannot overflow")

	// ErrCapacityOverflow is returned when a directory resize would
	// overflow the addressable region.
	ErrCapacityOverflow = errors.New("table capacity overflows the addressable region")

	// ErrClosed is returned by operations on a closed map.
	ErrClosed = errors.New("map is closed")

	// ErrModified is returned by a traversal that observes a structural
	// modification of the map while it is running.
	ErrModified = errors.New("map was structurally modified during traversal")
)
