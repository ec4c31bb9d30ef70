// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package main

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Config is the representation of zbmapbench's YAML config file.
type Config struct {
	// Maps is the number of independent maps to drive. A map is
	// single-writer, so each gets its own goroutine.
	Maps int

	// Operations is the number of put operations per map. Every put is
	// followed by a get; a fraction of the keys is removed at the end.
	Operations int

	// KeyLength and ValueLength are the stored widths in bytes.
	KeyLength   int `yaml:"keyLength"`
	ValueLength int `yaml:"valueLength"`

	// InitialTableSize, BlocksPerBucket and LoadFactorOverflowLimit are
	// passed through to the map.
	InitialTableSize        int64   `yaml:"initialTableSize"`
	BlocksPerBucket         int     `yaml:"blocksPerBucket"`
	LoadFactorOverflowLimit float64 `yaml:"loadFactorOverflowLimit"`

	// RemoveFraction in [0,1] sets the number of removals after the put
	// phase as a share of Operations. Removed keys are drawn at random with
	// repetition, so fewer distinct keys may be removed.
	RemoveFraction float64 `yaml:"removeFraction"`
}

func parseConfig(cfg []byte) (*Config, error) {
	config := &Config{
		Maps:           1,
		Operations:     100000,
		KeyLength:      8,
		ValueLength:    16,
		RemoveFraction: 0.1,
	}
	if err := yaml.Unmarshal(cfg, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	if config.Maps <= 0 || config.Operations <= 0 {
		return nil, fmt.Errorf("maps and operations must be positive")
	}
	if config.KeyLength < 8 || config.ValueLength <= 0 {
		return nil, fmt.Errorf("keyLength must be at least 8 and valueLength positive")
	}
	if config.RemoveFraction < 0 || config.RemoveFraction > 1 {
		return nil, fmt.Errorf("removeFraction must be in [0,1]")
	}
	return config, nil
}
