// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package partialstore persists the message a workspace is currently
// streaming so it survives a crash mid-stream. At most one partial exists
// per workspace at a time.
package partialstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/cmux-sub011/internal/historystore"
	"github.com/coder/cmux-sub011/internal/keyedmutex"
	"github.com/coder/cmux-sub011/internal/message"
)

// defaultThrottle bounds how often a streaming delta results in an actual
// disk write; tool boundaries and stream-end bypass it via Flush.
const defaultThrottle = 100 * time.Millisecond

// Store holds the in-flight partial message for each workspace, throttling
// disk writes while keeping the latest value available in memory for reads.
type Store struct {
	dir      string
	history  *historystore.Store
	locks    *keyedmutex.KeyedMutex
	throttle time.Duration

	mu    sync.Mutex
	state map[string]*pendingState
}

type pendingState struct {
	value      message.Message
	hasPending bool
	lastFlush  time.Time
}

// New creates a Store rooted at dir, committing into history via h.
func New(dir string, h *historystore.Store) *Store {
	return &Store{
		dir:      dir,
		history:  h,
		locks:    keyedmutex.New(),
		throttle: defaultThrottle,
		state:    make(map[string]*pendingState),
	}
}

func (s *Store) path(workspaceID string) string {
	return filepath.Join(s.dir, workspaceID+".partial.json")
}

// WritePartial records msg as the workspace's current partial. The actual
// disk write is throttled to roughly once per s.throttle; call Flush at
// tool boundaries and on stream-end to force a write through immediately.
func (s *Store) WritePartial(workspaceID string, msg message.Message) error {
	s.mu.Lock()
	st, ok := s.state[workspaceID]
	if !ok {
		st = &pendingState{}
		s.state[workspaceID] = st
	}
	st.value = msg
	st.hasPending = true
	due := time.Since(st.lastFlush) >= s.throttle
	s.mu.Unlock()

	if due {
		return s.Flush(workspaceID)
	}
	return nil
}

// Flush forces any pending in-memory partial to disk immediately.
func (s *Store) Flush(workspaceID string) error {
	s.mu.Lock()
	st, ok := s.state[workspaceID]
	if !ok || !st.hasPending {
		s.mu.Unlock()
		return nil
	}
	msg := st.value
	st.hasPending = false
	st.lastFlush = time.Now()
	s.mu.Unlock()

	return s.locks.WithLock(workspaceID, func() error {
		return s.persist(workspaceID, msg)
	})
}

func (s *Store) persist(workspaceID string, msg message.Message) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("partialstore: mkdir: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("partialstore: marshal: %w", err)
	}

	path := s.path(workspaceID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("partialstore: write temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("partialstore: rename: %w", err)
	}
	return nil
}

// ReadPartial returns the workspace's current partial, or nil if none
// exists. The freshest in-memory value is preferred over the on-disk copy,
// which may lag by up to s.throttle.
func (s *Store) ReadPartial(workspaceID string) (*message.Message, error) {
	s.mu.Lock()
	if st, ok := s.state[workspaceID]; ok && st.hasPending {
		m := st.value
		s.mu.Unlock()
		return &m, nil
	}
	s.mu.Unlock()

	var out *message.Message
	err := s.locks.WithLock(workspaceID, func() error {
		m, err := s.loadFromDisk(workspaceID)
		out = m
		return err
	})
	return out, err
}

func (s *Store) loadFromDisk(workspaceID string) (*message.Message, error) {
	data, err := os.ReadFile(s.path(workspaceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("partialstore: read: %w", err)
	}
	var msg message.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("partialstore: parse: %w", err)
	}
	return &msg, nil
}

// CommitToHistory moves the workspace's partial into history atomically
// with respect to concurrent readers: it appends to the HistoryStore, then
// clears the partial. A no-op if no partial exists.
func (s *Store) CommitToHistory(workspaceID string) (*message.Message, error) {
	if err := s.Flush(workspaceID); err != nil {
		return nil, err
	}

	partial, err := s.ReadPartial(workspaceID)
	if err != nil {
		return nil, err
	}
	if partial == nil {
		return nil, nil
	}

	partial.Metadata.Partial = false
	committed, err := s.history.Append(workspaceID, *partial)
	if err != nil {
		return nil, fmt.Errorf("partialstore: commit to history: %w", err)
	}

	if err := s.Clear(workspaceID); err != nil {
		return nil, err
	}
	return &committed, nil
}

// Clear removes the workspace's partial, both in memory and on disk.
func (s *Store) Clear(workspaceID string) error {
	s.mu.Lock()
	delete(s.state, workspaceID)
	s.mu.Unlock()

	return s.locks.WithLock(workspaceID, func() error {
		err := os.Remove(s.path(workspaceID))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("partialstore: remove: %w", err)
		}
		return nil
	})
}
