// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package custody

import (
	"context"
	"sync"

	"github.com/evidentia/custody/errors"
)

// Mutex is a context-aware mutex. It must not be copied. The zero
// value is ready to use.
type Mutex struct {
	initOnce sync.Once
	lockCh   chan struct{}
}

// Lock attempts to exclusively lock m. If m is already locked, it
// waits until it is unlocked. If ctx is canceled before the lock can
// be taken, Lock will not take the lock, and a non-nil error is
// returned.
func (m *Mutex) Lock(ctx context.Context) error {
	m.init()
	select {
	case m.lockCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.E(ctx.Err(), "waiting for item lock")
	}
}

// Unlock unlocks m. It must be called exactly once iff Lock returns
// nil. Unlock panics if it is called while m is not locked.
func (m *Mutex) Unlock() {
	m.init()
	select {
	case <-m.lockCh:
	default:
		panic("unlock called on mutex that is not locked")
	}
}

func (m *Mutex) init() {
	m.initOnce.Do(func() {
		m.lockCh = make(chan struct{}, 1)
	})
}

// LockMap hands out one Mutex per item ID. It backs the WithItemLock
// implementations of the package's repositories. Locks are retained
// for the lifetime of the repository, like the items they guard. The
// zero value is ready to use.
type LockMap struct {
	mu    sync.Mutex
	locks map[string]*Mutex
}

// Get returns the mutex for itemID, creating it on first use.
func (l *LockMap) Get(itemID string) *Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = map[string]*Mutex{}
	}
	m := l.locks[itemID]
	if m == nil {
		m = new(Mutex)
		l.locks[itemID] = m
	}
	return m
}
