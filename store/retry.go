// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package store

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryStore wraps a Store and retries failed reads and writes with
// exponential backoff. The map itself never retries; storage-level retries
// belong to the store. Errors that can only be caused by the caller
// (ErrClosed, ErrOutOfRange) are not retried.
type RetryStore struct {
	s          Store
	newBackOff func() backoff.BackOff
}

// NewRetryStore wraps s. maxElapsed bounds the total time spent retrying a
// single operation; zero picks a one-minute default.
func NewRetryStore(s Store, maxElapsed time.Duration) *RetryStore {
	if maxElapsed == 0 {
		maxElapsed = time.Minute
	}
	return &RetryStore{
		s: s,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = maxElapsed
			return bo
		},
	}
}

func retriable(err error) bool {
	return err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrOutOfRange)
}

// Read implements Store.
func (s *RetryStore) Read(dst []byte, position int64) (int, error) {
	var n int
	err := backoff.Retry(func() error {
		var err error
		n, err = s.s.Read(dst, position)
		if err != nil && !retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, s.newBackOff())
	return n, err
}

// Write implements Store.
func (s *RetryStore) Write(src []byte, position int64) (int, error) {
	var n int
	err := backoff.Retry(func() error {
		var err error
		n, err = s.s.Write(src, position)
		if err != nil && !retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, s.newBackOff())
	return n, err
}

// Length implements Store.
func (s *RetryStore) Length() int64 {
	return s.s.Length()
}

// Close implements Store.
func (s *RetryStore) Close() error {
	return s.s.Close()
}
