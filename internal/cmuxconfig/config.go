// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cmuxconfig persists the control-plane registry at
// <home>/.cmux/config.json (spec.md §6): the set of known projects, each
// with its workspace metadata. internal/workspace mutates its workspace
// entries and internal/bridge's projects ops add and remove projects;
// everything else treats it as read-only.
package cmuxconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/cmux-sub011/internal/runtime"
)

// WorkspaceMetadata is one workspace's persisted identity and runtime
// binding, matching spec.md §3's Workspace attributes.
type WorkspaceMetadata struct {
	WorkspaceID   string         `json:"workspaceId"`
	Name          string         `json:"name"`
	ProjectPath   string         `json:"projectPath"`
	ProjectName   string         `json:"projectName"`
	RuntimeConfig runtime.Config `json:"runtimeConfig"`
	CreatedAt     time.Time      `json:"createdAt"`

	// ArchivedAt marks a workspace removed by the user but held for a grace
	// window before its worktree and history are actually deleted. Nil means
	// the workspace is live.
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// ProjectConfig is one project's registered workspaces.
type ProjectConfig struct {
	Path       string              `json:"path"`
	Workspaces []WorkspaceMetadata `json:"workspaces"`
}

// projectEntry is one (projectPath, ProjectConfig) tuple, matching spec.md
// §6's literal `{projects: [[projectPath, {...}], ...]}` wire shape.
type projectEntry struct {
	Path   string
	Config ProjectConfig
}

func (e projectEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Path, e.Config})
}

func (e *projectEntry) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &e.Path); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &e.Config)
}

type fileFormat struct {
	Projects []projectEntry `json:"projects"`
}

// Store is the atomic, mutex-guarded config.json registry.
type Store struct {
	path string

	mu       sync.Mutex
	projects []projectEntry // order preserved; index by Path via linear scan (projects are O(10))
}

// New loads (or initializes empty) the store at path.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the config file from disk, discarding any in-memory state.
// Used by internal/workspace's file watcher to pick up changes made by
// another process sharing the same home directory.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cmuxconfig: read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("cmuxconfig: parse: %w", err)
	}
	s.projects = ff.Projects
	return nil
}

func (s *Store) saveLocked() error {
	ff := fileFormat{Projects: s.projects}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("cmuxconfig: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cmuxconfig: mkdir: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("cmuxconfig: write temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cmuxconfig: rename: %w", err)
	}
	return nil
}

func (s *Store) findLocked(projectPath string) int {
	for i := range s.projects {
		if s.projects[i].Path == projectPath {
			return i
		}
	}
	return -1
}

// UpsertProject ensures projectPath is registered, creating an empty entry
// if absent. Safe to call repeatedly.
func (s *Store) UpsertProject(projectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(projectPath) >= 0 {
		return nil
	}
	s.projects = append(s.projects, projectEntry{Path: projectPath, Config: ProjectConfig{Path: projectPath}})
	return s.saveLocked()
}

// RemoveProject deletes projectPath and all of its workspace entries.
func (s *Store) RemoveProject(projectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLocked(projectPath)
	if idx < 0 {
		return nil
	}
	s.projects = append(s.projects[:idx], s.projects[idx+1:]...)
	return s.saveLocked()
}

// ListProjects returns every registered project's path and its live
// (non-archived) workspace metadata.
func (s *Store) ListProjects() []ProjectConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProjectConfig, len(s.projects))
	for i, e := range s.projects {
		cfg := ProjectConfig{Path: e.Config.Path}
		for _, w := range e.Config.Workspaces {
			if w.ArchivedAt == nil {
				cfg.Workspaces = append(cfg.Workspaces, w)
			}
		}
		out[i] = cfg
	}
	return out
}

// AddWorkspace appends meta under its ProjectPath, registering the project
// first if needed.
func (s *Store) AddWorkspace(meta WorkspaceMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLocked(meta.ProjectPath)
	if idx < 0 {
		s.projects = append(s.projects, projectEntry{Path: meta.ProjectPath, Config: ProjectConfig{Path: meta.ProjectPath}})
		idx = len(s.projects) - 1
	}
	s.projects[idx].Config.Workspaces = append(s.projects[idx].Config.Workspaces, meta)
	return s.saveLocked()
}

// RemoveWorkspace deletes workspaceId from whichever project holds it.
func (s *Store) RemoveWorkspace(workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pi := range s.projects {
		ws := s.projects[pi].Config.Workspaces
		for wi, w := range ws {
			if w.WorkspaceID == workspaceID {
				s.projects[pi].Config.Workspaces = append(ws[:wi], ws[wi+1:]...)
				return s.saveLocked()
			}
		}
	}
	return nil
}

// GetWorkspace returns workspaceId's metadata and whether it was found.
func (s *Store) GetWorkspace(workspaceID string) (WorkspaceMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.projects {
		for _, w := range p.Config.Workspaces {
			if w.WorkspaceID == workspaceID {
				return w, true
			}
		}
	}
	return WorkspaceMetadata{}, false
}

// ListWorkspaces returns every live (non-archived) workspace registered
// under projectPath.
func (s *Store) ListWorkspaces(projectPath string) []WorkspaceMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findLocked(projectPath)
	if idx < 0 {
		return nil
	}
	var out []WorkspaceMetadata
	for _, w := range s.projects[idx].Config.Workspaces {
		if w.ArchivedAt == nil {
			out = append(out, w)
		}
	}
	return out
}

// ArchiveWorkspace marks workspaceId removed as of at, without deleting its
// config entry. PurgeArchivedBefore later sweeps it for real once the grace
// window passes.
func (s *Store) ArchiveWorkspace(workspaceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pi := range s.projects {
		ws := s.projects[pi].Config.Workspaces
		for wi := range ws {
			if ws[wi].WorkspaceID == workspaceID {
				ws[wi].ArchivedAt = &at
				return s.saveLocked()
			}
		}
	}
	return fmt.Errorf("cmuxconfig: workspace %s not found", workspaceID)
}

// PurgeArchivedBefore removes every workspace entry archived before cutoff
// and returns their metadata so the caller can clean up the worktree and
// history that live outside config.json.
func (s *Store) PurgeArchivedBefore(cutoff time.Time) ([]WorkspaceMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged []WorkspaceMetadata
	changed := false
	for pi := range s.projects {
		ws := s.projects[pi].Config.Workspaces
		kept := ws[:0]
		for _, w := range ws {
			if w.ArchivedAt != nil && w.ArchivedAt.Before(cutoff) {
				purged = append(purged, w)
				changed = true
				continue
			}
			kept = append(kept, w)
		}
		s.projects[pi].Config.Workspaces = kept
	}
	if !changed {
		return purged, nil
	}
	return purged, s.saveLocked()
}
