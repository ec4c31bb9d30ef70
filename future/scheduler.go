// Copyright (c) 2024 Zbio, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package future

import (
	"runtime"
	"sync"
)

// Scheduler goroutines cooperate and must never block on a future; Get
// detects and rejects calls from them. The scheduler marks its worker
// goroutines at startup through RegisterSchedulerGoroutine.

var schedulerGoroutines sync.Map // goroutine id -> struct{}

// RegisterSchedulerGoroutine marks the calling goroutine as a cooperative
// scheduler worker. Get fails with ErrBlockingNotPermitted on it until
// DeregisterSchedulerGoroutine is called from the same goroutine.
func RegisterSchedulerGoroutine() {
	schedulerGoroutines.Store(goroutineID(), struct{}{})
}

// DeregisterSchedulerGoroutine removes the calling goroutine's marking.
func DeregisterSchedulerGoroutine() {
	schedulerGoroutines.Delete(goroutineID())
}

func onSchedulerGoroutine() bool {
	_, ok := schedulerGoroutines.Load(goroutineID())
	return ok
}

// goroutineID parses the current goroutine's id from the stack header,
// which starts with "goroutine <id> [".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
