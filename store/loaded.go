// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package store

// LoadedBuffer caches one contiguous region of a Store: a position plus a
// byte window. Reloading only happens when the requested window differs
// from the cached one, so repeated operations against the same region hit
// memory. Concurrent use of a single buffer is undefined.
type LoadedBuffer struct {
	store           Store
	position        int64
	buf             []byte
	initialPosition int64
	initialLength   int
}

// NewLoadedBuffer returns a buffer over s, initially windowing length bytes
// at position. The initial window is not loaded until EnsureLoaded is
// called.
func NewLoadedBuffer(s Store, position int64, length int) *LoadedBuffer {
	return &LoadedBuffer{
		store:           s,
		position:        position,
		buf:             make([]byte, 0, length),
		initialPosition: position,
		initialLength:   length,
	}
}

// EnsureLoaded makes the window cover length bytes at position, reading
// from the store only if the current window differs. An unflushed window is
// discarded by the reload; callers flush with Write first.
func (b *LoadedBuffer) EnsureLoaded(position int64, length int) error {
	if position == b.position && length == len(b.buf) {
		return nil
	}
	if cap(b.buf) < length {
		b.buf = make([]byte, length)
	} else {
		b.buf = b.buf[:length]
	}
	if _, err := b.store.Read(b.buf, position); err != nil {
		// Leave the buffer windowing nothing rather than stale bytes.
		b.buf = b.buf[:0]
		b.position = -1
		return err
	}
	b.position = position
	return nil
}

// Write flushes the window back to the store at its current position.
func (b *LoadedBuffer) Write() error {
	if len(b.buf) == 0 {
		return nil
	}
	_, err := b.store.Write(b.buf, b.position)
	return err
}

// Clear resets the buffer to its initial window without touching the store.
func (b *LoadedBuffer) Clear() {
	b.buf = b.buf[:0]
	b.position = b.initialPosition
}

// Bytes exposes the loaded window for direct access. The slice is only
// valid until the next EnsureLoaded or Clear.
func (b *LoadedBuffer) Bytes() []byte {
	return b.buf
}

// Position reports the store position of the current window.
func (b *LoadedBuffer) Position() int64 {
	return b.position
}
