// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package zbmap

// The typed maps below convert strongly typed keys and values into handler
// state before delegating to the controller. They exist so that callers
// never touch handlers or raw memory themselves.

// Long2LongZbMap maps 64-bit keys to 64-bit values.
type Long2LongZbMap struct {
	m  *ZbMap
	kh *LongKeyHandler
	vh *LongValueHandler
}

// NewLong2LongZbMap creates a map of 64-bit keys and values. Handler
// factories and key/value lengths in cfg are overridden.
func NewLong2LongZbMap(cfg Config) (*Long2LongZbMap, error) {
	cfg.NewKeyHandler = func() KeyHandler { return NewLongKeyHandler() }
	cfg.NewValueHandler = func() ValueHandler { return NewLongValueHandler() }
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Long2LongZbMap{
		m:  m,
		kh: m.KeyHandler().(*LongKeyHandler),
		vh: m.ValueHandler().(*LongValueHandler),
	}, nil
}

// Put maps key to value and reports whether an existing entry was updated.
func (t *Long2LongZbMap) Put(key, value uint64) (updated bool, err error) {
	t.kh.SetKey(key)
	t.vh.SetValue(value)
	return t.m.Put()
}

// Get returns the value mapped to key.
func (t *Long2LongZbMap) Get(key uint64) (value uint64, ok bool, err error) {
	t.kh.SetKey(key)
	found, err := t.m.Get()
	if err != nil || !found {
		return 0, false, err
	}
	return t.vh.Value(), true, nil
}

// Remove unmaps key and returns the prior value.
func (t *Long2LongZbMap) Remove(key uint64) (prior uint64, ok bool, err error) {
	t.kh.SetKey(key)
	found, err := t.m.Remove()
	if err != nil || !found {
		return 0, false, err
	}
	return t.vh.Value(), true, nil
}

// Map exposes the underlying controller.
func (t *Long2LongZbMap) Map() *ZbMap {
	return t.m
}

// Close releases the map.
func (t *Long2LongZbMap) Close() error {
	return t.m.Close()
}

// Long2BytesZbMap maps 64-bit keys to fixed-width byte values.
type Long2BytesZbMap struct {
	m  *ZbMap
	kh *LongKeyHandler
	vh *BytesValueHandler
}

// NewLong2BytesZbMap creates a map of 64-bit keys and byte values of up to
// cfg.MaxValueLength bytes.
func NewLong2BytesZbMap(cfg Config) (*Long2BytesZbMap, error) {
	cfg.NewKeyHandler = func() KeyHandler { return NewLongKeyHandler() }
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Long2BytesZbMap{
		m:  m,
		kh: m.KeyHandler().(*LongKeyHandler),
		vh: m.ValueHandler().(*BytesValueHandler),
	}, nil
}

// Put maps key to value and reports whether an existing entry was updated.
func (t *Long2BytesZbMap) Put(key uint64, value []byte) (updated bool, err error) {
	if err := t.vh.SetValue(value); err != nil {
		return false, err
	}
	t.kh.SetKey(key)
	return t.m.Put()
}

// Get copies the value mapped to key into dst and reports whether the key
// was present. dst must be at least the configured value width.
func (t *Long2BytesZbMap) Get(key uint64, dst []byte) (ok bool, err error) {
	t.kh.SetKey(key)
	found, err := t.m.Get()
	if err != nil || !found {
		return false, err
	}
	copy(dst, t.vh.Value())
	return true, nil
}

// Remove unmaps key, copying the prior value into dst.
func (t *Long2BytesZbMap) Remove(key uint64, dst []byte) (ok bool, err error) {
	t.kh.SetKey(key)
	found, err := t.m.Remove()
	if err != nil || !found {
		return false, err
	}
	copy(dst, t.vh.Value())
	return true, nil
}

// Map exposes the underlying controller.
func (t *Long2BytesZbMap) Map() *ZbMap {
	return t.m
}

// Close releases the map.
func (t *Long2BytesZbMap) Close() error {
	return t.m.Close()
}

// Bytes2BytesZbMap maps fixed-width byte keys to fixed-width byte values.
// Keys shorter than the configured width are zero-padded, so two keys that
// differ only in trailing zero bytes collide.
type Bytes2BytesZbMap struct {
	m  *ZbMap
	kh *BytesKeyHandler
	vh *BytesValueHandler
}

// NewBytes2BytesZbMap creates a map of byte keys and values of up to
// cfg.MaxKeyLength and cfg.MaxValueLength bytes.
func NewBytes2BytesZbMap(cfg Config) (*Bytes2BytesZbMap, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Bytes2BytesZbMap{
		m:  m,
		kh: m.KeyHandler().(*BytesKeyHandler),
		vh: m.ValueHandler().(*BytesValueHandler),
	}, nil
}

// Put maps key to value and reports whether an existing entry was updated.
// Keys longer than the configured width fail with ErrKeyTooLong without
// mutating the map.
func (t *Bytes2BytesZbMap) Put(key, value []byte) (updated bool, err error) {
	if err := t.kh.SetKey(key); err != nil {
		return false, err
	}
	if err := t.vh.SetValue(value); err != nil {
		return false, err
	}
	return t.m.Put()
}

// Get copies the value mapped to key into dst and reports whether the key
// was present.
func (t *Bytes2BytesZbMap) Get(key, dst []byte) (ok bool, err error) {
	if err := t.kh.SetKey(key); err != nil {
		return false, err
	}
	found, err := t.m.Get()
	if err != nil || !found {
		return false, err
	}
	copy(dst, t.vh.Value())
	return true, nil
}

// Remove unmaps key, copying the prior value into dst.
func (t *Bytes2BytesZbMap) Remove(key, dst []byte) (ok bool, err error) {
	if err := t.kh.SetKey(key); err != nil {
		return false, err
	}
	found, err := t.m.Remove()
	if err != nil || !found {
		return false, err
	}
	copy(dst, t.vh.Value())
	return true, nil
}

// Map exposes the underlying controller.
func (t *Bytes2BytesZbMap) Map() *ZbMap {
	return t.m
}

// Close releases the map.
func (t *Bytes2BytesZbMap) Close() error {
	return t.m.Close()
}
