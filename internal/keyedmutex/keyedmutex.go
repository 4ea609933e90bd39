// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keyedmutex serializes operations by an arbitrary string key while
// letting operations on distinct keys proceed concurrently.
package keyedmutex

import "sync"

// KeyedMutex serializes operations per key. The zero value is ready to use.
//
// Waiters for the same key are granted the lock in whatever order the
// per-key sync.Mutex grants it; strict FIFO order is not guaranteed. An
// entry for a key is garbage-collected once its queue empties, so the map
// never grows unbounded with respect to keys that are no longer in use.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	waiters  int // includes the current holder
}

// New creates a ready-to-use KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// WithLock runs op while holding the lock for key, excluding any other
// WithLock call for the same key. Calls for distinct keys run concurrently.
//
// If op panics, the lock is released before the panic propagates.
func (k *KeyedMutex) WithLock(key string, op func() error) error {
	e := k.acquire(key)
	defer k.release(key, e)
	return op()
}

// acquire returns the entry for key, bumping its waiter count, and locks it.
// The map's own mutex is held only long enough to look up or create the
// entry; the (possibly slow) per-key lock itself is acquired outside of it
// so unrelated keys never block on each other.
func (k *KeyedMutex) acquire(key string) *entry {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*entry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.waiters++
	k.mu.Unlock()

	e.mu.Lock()
	return e
}

// release unlocks the entry and removes it from the map once no one else is
// waiting on it.
func (k *KeyedMutex) release(key string, e *entry) {
	e.mu.Unlock()

	k.mu.Lock()
	e.waiters--
	if e.waiters == 0 {
		// Only drop the map entry if it's still the one we hold; a racing
		// acquire that already replaced it must not be clobbered.
		if cur, ok := k.entries[key]; ok && cur == e {
			delete(k.entries, key)
		}
	}
	k.mu.Unlock()
}
