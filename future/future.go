// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package future provides a reusable, single-writer completion future. The
// future is the synchronisation primitive between the cooperative scheduler
// and code running outside it: one writer completes it, any number of
// waiters observe the completion exactly once. State transitions are
// lock-free; waiters queue in a bounded ring with an unbounded overflow
// list.
package future

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/zbio/gozb/monotime"
)

var (
	// ErrAlreadyCompleted is returned by a completion attempt on a future
	// that is not awaiting. The future is unchanged.
	ErrAlreadyCompleted = errors.New("future is already completed")
	// ErrBlockingNotPermitted is returned by Get when called from a
	// registered scheduler goroutine, which must never block.
	ErrBlockingNotPermitted = errors.New("blocking on a future is not permitted on a scheduler goroutine")
	// ErrUnsupported is returned by Cancel; futures cannot be cancelled,
	// Close is the lifecycle reset.
	ErrUnsupported = errors.New("cancellation is not supported")
	// ErrTimeout is returned by GetTimeout when the deadline expires
	// before completion.
	ErrTimeout = errors.New("timed out waiting for completion")
	// ErrClosed is observed by waiters and getters when the future is
	// closed; closing counts as completion for cancellation purposes.
	ErrClosed = errors.New("future is closed")
)

// State is the lifecycle state of a Future.
type State int32

// The states a future moves through. Closed to awaiting happens via Reset;
// awaiting to completing is an atomic compare-and-set and any state to
// closed an atomic swap; the remaining transitions are made by the writer
// holding the exclusive completing token.
const (
	StateClosed State = iota
	StateAwaiting
	StateCompleting
	StateCompleted
	StateCompletedExceptionally
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateAwaiting:
		return "awaiting"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateCompletedExceptionally:
		return "completed-exceptionally"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// A Waiter is signalled exactly once when the future it blocked on
// completes or closes. Signal must not block.
type Waiter interface {
	Signal()
}

// WaiterFunc adapts a function to the Waiter interface.
type WaiterFunc func()

// Signal implements Waiter.
func (f WaiterFunc) Signal() { f() }

// Future is a reusable completion future. It is created closed and armed
// with Reset. Writes to the value and failure happen-before the state
// publish, so a reader that observes a completed state may read them
// without further synchronisation. The owner reuses a future across
// completions via Close and Reset.
type Future struct {
	state   int32
	value   interface{}
	failure error
	waiters waiterQueue
}

// New returns a closed future. Call Reset to arm it.
func New() *Future {
	return &Future{state: int32(StateClosed)}
}

// State returns the current state.
func (f *Future) State() State {
	return State(atomic.LoadInt32(&f.state))
}

func (f *Future) isDone() bool {
	switch f.State() {
	case StateCompleted, StateCompletedExceptionally, StateClosed:
		return true
	}
	return false
}

// Reset clears the future and arms it for one completion. Only the owner
// may call Reset, and only when no completion is in flight.
func (f *Future) Reset() {
	f.value = nil
	f.failure = nil
	atomic.StoreInt32(&f.state, int32(StateAwaiting))
}

// Complete publishes value and signals all waiters. Exactly one completion
// attempt succeeds; the others fail with ErrAlreadyCompleted and leave the
// future unchanged.
func (f *Future) Complete(value interface{}) error {
	if !atomic.CompareAndSwapInt32(&f.state, int32(StateAwaiting), int32(StateCompleting)) {
		return fmt.Errorf("complete in state %s: %w", f.State(), ErrAlreadyCompleted)
	}
	f.value = value
	atomic.StoreInt32(&f.state, int32(StateCompleted))
	f.waiters.drain()
	return nil
}

// CompleteExceptionally publishes a failure built from message and cause
// and signals all waiters.
func (f *Future) CompleteExceptionally(message string, cause error) error {
	if !atomic.CompareAndSwapInt32(&f.state, int32(StateAwaiting), int32(StateCompleting)) {
		return fmt.Errorf("complete exceptionally in state %s: %w", f.State(), ErrAlreadyCompleted)
	}
	if cause != nil {
		f.failure = fmt.Errorf("%s: %w", message, cause)
	} else {
		f.failure = errors.New(message)
	}
	atomic.StoreInt32(&f.state, int32(StateCompletedExceptionally))
	f.waiters.drain()
	return nil
}

// Block enqueues w to be signalled on completion and reports whether the
// future was still pending at enqueue time. If the future completed before
// or during the enqueue, the enqueue path itself drains the queue, so the
// waiter is still signalled exactly once and no wakeup is lost.
func (f *Future) Block(w Waiter) bool {
	f.waiters.enqueue(w)
	if f.isDone() {
		f.waiters.drain()
		return false
	}
	return true
}

// Get spin-yields until the future completes. It must only be called from
// goroutines outside the cooperative scheduler; a registered scheduler
// goroutine fails with ErrBlockingNotPermitted.
func (f *Future) Get() (interface{}, error) {
	return f.get(0, false)
}

// GetTimeout is Get with a wall-clock deadline; it fails with ErrTimeout
// when the deadline expires first.
func (f *Future) GetTimeout(timeout time.Duration) (interface{}, error) {
	return f.get(timeout, true)
}

func (f *Future) get(timeout time.Duration, hasDeadline bool) (interface{}, error) {
	if onSchedulerGoroutine() {
		return nil, ErrBlockingNotPermitted
	}
	start := monotime.Now()
	for {
		switch f.State() {
		case StateCompleted:
			return f.value, nil
		case StateCompletedExceptionally:
			return nil, f.failure
		case StateClosed:
			return nil, ErrClosed
		}
		if hasDeadline && monotime.Since(start) >= timeout {
			return nil, ErrTimeout
		}
		runtime.Gosched()
	}
}

// Cancel fails with ErrUnsupported; the future cannot be cancelled.
func (f *Future) Cancel() error {
	return ErrUnsupported
}

// Close atomically moves the future to closed from any state, clears its
// fields and drains the waiters, which observe the closed state. Close is
// idempotent.
func (f *Future) Close() {
	old := State(atomic.SwapInt32(&f.state, int32(StateClosed)))
	if old == StateClosed {
		return
	}
	f.value = nil
	f.failure = nil
	f.waiters.drain()
}
