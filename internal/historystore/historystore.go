// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package historystore persists each workspace's append-only message log:
// one JSONL file per workspace, writes serialized per workspace id.
package historystore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/coder/cmux-sub011/internal/keyedmutex"
	"github.com/coder/cmux-sub011/internal/message"
)

// ErrNotFound is returned by Update when the target message id doesn't
// exist in the workspace's history.
var ErrNotFound = errors.New("historystore: message not found")

// ErrDuplicateSequence is returned by Append when the caller supplies a
// historySequence that already exists in the workspace's history.
var ErrDuplicateSequence = errors.New("historystore: duplicate sequence")

// Store is the durable, append-only record of each workspace's
// conversation. All mutating operations for a given workspace are
// serialized through a KeyedMutex keyed on workspaceId.
type Store struct {
	dir    string
	locks  *keyedmutex.KeyedMutex
	logger *slog.Logger
}

// New creates a Store rooted at dir; one file per workspace lives at
// dir/<workspaceId>.jsonl.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, locks: keyedmutex.New(), logger: logger}
}

func (s *Store) path(workspaceID string) string {
	return filepath.Join(s.dir, workspaceID+".jsonl")
}

// Get returns the ordered messages for a workspace, skipping malformed
// trailing lines left by a crash mid-write.
func (s *Store) Get(workspaceID string) ([]message.Message, error) {
	var msgs []message.Message
	err := s.locks.WithLock(workspaceID, func() error {
		m, err := s.load(workspaceID)
		msgs = m
		return err
	})
	return msgs, err
}

func (s *Store) load(workspaceID string) ([]message.Message, error) {
	f, err := os.Open(s.path(workspaceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("historystore: open %s: %w", workspaceID, err)
	}
	defer f.Close()

	var msgs []message.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("historystore: skipping malformed line", "workspace", workspaceID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("historystore: scan %s: %w", workspaceID, err)
	}
	return msgs, nil
}

func maxSequence(msgs []message.Message) int64 {
	var max int64
	for _, m := range msgs {
		if m.Metadata.HistorySequence > max {
			max = m.Metadata.HistorySequence
		}
	}
	return max
}

// Append adds msg to the workspace's history. If msg.Metadata.HistorySequence
// is zero, it is assigned maxSeq+1; if it is already present, Append fails
// with ErrDuplicateSequence.
func (s *Store) Append(workspaceID string, msg message.Message) (message.Message, error) {
	var out message.Message
	err := s.locks.WithLock(workspaceID, func() error {
		existing, err := s.load(workspaceID)
		if err != nil {
			return err
		}

		max := maxSequence(existing)
		if msg.Metadata.HistorySequence == 0 {
			msg.Metadata.HistorySequence = max + 1
		} else {
			for _, m := range existing {
				if m.Metadata.HistorySequence == msg.Metadata.HistorySequence {
					return ErrDuplicateSequence
				}
			}
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("historystore: %w", err)
		}

		if err := s.appendLine(workspaceID, msg); err != nil {
			return err
		}
		out = msg
		return nil
	})
	return out, err
}

func (s *Store) appendLine(workspaceID string, msg message.Message) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("historystore: mkdir: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("historystore: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path(workspaceID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("historystore: open for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("historystore: append: %w", err)
	}
	return nil
}

// Update replaces the message with the same id, preserving its position and
// historySequence. Fails with ErrNotFound if no such message exists.
func (s *Store) Update(workspaceID string, msg message.Message) error {
	return s.locks.WithLock(workspaceID, func() error {
		existing, err := s.load(workspaceID)
		if err != nil {
			return err
		}

		found := false
		for i, m := range existing {
			if m.ID == msg.ID {
				msg.Metadata.HistorySequence = m.Metadata.HistorySequence
				existing[i] = msg
				found = true
				break
			}
		}
		if !found {
			return ErrNotFound
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("historystore: %w", err)
		}
		return s.rewrite(workspaceID, existing)
	})
}

// TruncateAfter removes every message strictly later (by historySequence)
// than messageID's own entry — used when a user edits a prior message.
func (s *Store) TruncateAfter(workspaceID string, messageID string) error {
	return s.locks.WithLock(workspaceID, func() error {
		existing, err := s.load(workspaceID)
		if err != nil {
			return err
		}

		cut := -1
		for i, m := range existing {
			if m.ID == messageID {
				cut = i
				break
			}
		}
		if cut == -1 {
			return ErrNotFound
		}
		return s.rewrite(workspaceID, existing[:cut+1])
	})
}

// rewrite overwrites the workspace's file with msgs in JSONL format via a
// temp-file + rename, matching the atomic-write discipline the other
// durable stores in this module use.
func (s *Store) rewrite(workspaceID string, msgs []message.Message) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("historystore: mkdir: %w", err)
	}

	path := s.path(workspaceID)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("historystore: create temp: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("historystore: encode: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("historystore: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("historystore: rename: %w", err)
	}
	return nil
}

// Delete removes workspaceId's history file entirely. Used when a workspace
// is removed (spec.md §3 "destroyed by remove ... deletes history"). A
// missing file is not an error.
func (s *Store) Delete(workspaceID string) error {
	return s.locks.WithLock(workspaceID, func() error {
		err := os.Remove(s.path(workspaceID))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("historystore: delete: %w", err)
		}
		return nil
	})
}
