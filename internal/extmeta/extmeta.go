// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package extmeta persists lightweight per-workspace metadata — recency
// and live-streaming status — consumed by the editor extension's sidebar.
// Unlike the history and partial stores, all workspaces share one file.
package extmeta

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// schemaVersion is bumped whenever Record's shape changes incompatibly.
const schemaVersion = 1

// Record is one workspace's extension-facing metadata.
type Record struct {
	ID          string    `json:"id"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	Streaming   bool      `json:"streaming"`
	StreamModel string    `json:"streamModel,omitempty"`
}

type fileFormat struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

// Store is the single-file metadata store.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]Record
}

// New loads (or initializes) the store backed by the file at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger, records: make(map[string]Record)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("extmeta: read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		s.logger.Warn("extmeta: malformed file, resetting to empty", "error", err)
		return nil
	}
	if ff.Version != schemaVersion {
		s.logger.Warn("extmeta: unrecognized schema version, resetting to empty",
			"got", ff.Version, "want", schemaVersion)
		return nil
	}
	if ff.Records != nil {
		s.records = ff.Records
	}
	return nil
}

func (s *Store) saveLocked() error {
	ff := fileFormat{Version: schemaVersion, Records: s.records}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("extmeta: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("extmeta: mkdir: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("extmeta: write temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("extmeta: rename: %w", err)
	}
	return nil
}

// UpdateRecency bumps id's lastUsedAt. If ts is the zero time, time.Now is
// used.
func (s *Store) UpdateRecency(id string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts.IsZero() {
		ts = time.Now()
	}
	rec := s.records[id]
	rec.ID = id
	rec.LastUsedAt = ts
	s.records[id] = rec
	return s.saveLocked()
}

// SetStreaming records whether id currently has an active stream, and which
// model is driving it.
func (s *Store) SetStreaming(id string, streaming bool, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[id]
	rec.ID = id
	rec.Streaming = streaming
	if streaming {
		rec.StreamModel = model
	} else {
		rec.StreamModel = ""
	}
	s.records[id] = rec
	return s.saveLocked()
}

// GetMetadata returns id's record and whether it exists.
func (s *Store) GetMetadata(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	return rec, ok
}

// GetAllOrdered returns every record, most-recently-used first.
func (s *Store) GetAllOrdered() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out
}

// Delete removes id's record entirely.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	return s.saveLocked()
}

// ClearStaleStreaming resets every record's streaming flag to false. Called
// once at startup: a record left streaming=true from a prior process'
// unclean shutdown no longer has a live stream behind it.
func (s *Store) ClearStaleStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for id, rec := range s.records {
		if rec.Streaming {
			rec.Streaming = false
			rec.StreamModel = ""
			s.records[id] = rec
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}
