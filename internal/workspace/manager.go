// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/events"
	"github.com/coder/cmux-sub011/internal/runtime"
)

// HistoryDeleter is the narrow historystore.Store slice PurgeArchived
// needs to wipe a purged workspace's durable log.
type HistoryDeleter interface {
	Delete(workspaceID string) error
}

// StreamStopper lets RemoveWorkspace abort any stream still active for the
// workspace being destroyed before its worktree disappears underneath it.
type StreamStopper interface {
	Abort()
}

// StreamStopperLookup resolves a workspaceId to its StreamStopper, if one
// is currently registered. Satisfied by internal/app's registry of live
// AgentSessions.
type StreamStopperLookup func(workspaceID string) (StreamStopper, bool)

// RemoveOptions configures RemoveWorkspace.
type RemoveOptions struct {
	DeleteBranch bool
}

// Manager implements spec.md §4.11's WorkspaceManager: workspace lifecycle
// operations backed by git worktrees reached through runtime.Runtime, with
// identity persisted in cmuxconfig.Store.
type Manager struct {
	store   *cmuxconfig.Store
	bus     events.EventBus
	history HistoryDeleter
	streams StreamStopperLookup
}

// New builds a Manager. history and streams may be nil if the caller
// doesn't need PurgeArchived to delete history or RemoveWorkspace to abort
// live streams (e.g. in tests exercising git operations in isolation).
func New(store *cmuxconfig.Store, bus events.EventBus, history HistoryDeleter, streams StreamStopperLookup) *Manager {
	return &Manager{store: store, bus: bus, history: history, streams: streams}
}

func (m *Manager) runtimeFor(cfg runtime.Config) (runtime.Runtime, error) {
	if cfg.Kind == "" {
		cfg.Kind = runtime.KindLocal
	}
	return runtime.New(cfg)
}

func (m *Manager) publish(ctx context.Context, eventType string, ws Workspace) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Worktree:  ws.ID,
		Payload: map[string]interface{}{
			"workspaceId":   ws.ID,
			"name":          ws.Name,
			"projectPath":   ws.ProjectPath,
			"projectName":   ws.ProjectName,
			"workspacePath": ws.WorkspacePath,
		},
	})
}

// CreateWorkspace allocates a worktree for a new branch under projectPath
// and registers it. If rtCfg.SrcBaseDir is empty, it defaults to
// filepath.Join(filepath.Dir(projectPath), ".cmux-worktrees") so local
// workspaces still land outside the main checkout.
func (m *Manager) CreateWorkspace(ctx context.Context, projectPath, name, trunkBranch string, rtCfg runtime.Config) (Workspace, error) {
	projectName := filepath.Base(projectPath)
	if rtCfg.SrcBaseDir == "" {
		rtCfg.SrcBaseDir = filepath.Join(filepath.Dir(projectPath), ".cmux-worktrees")
	}

	rt, err := m.runtimeFor(rtCfg)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace: build runtime: %w", err)
	}

	workspacePath := rt.GetWorkspacePath(projectPath, name)

	if _, err := rt.Exec(ctx, "git", []string{"worktree", "add", "-b", name, workspacePath, trunkBranch}, runtime.ExecOptions{Cwd: projectPath}); err != nil {
		return Workspace{}, fmt.Errorf("workspace: git worktree add: %w", err)
	}

	ws := Workspace{
		ID:            uuid.NewString(),
		Name:          name,
		ProjectPath:   projectPath,
		ProjectName:   projectName,
		WorkspacePath: workspacePath,
		RuntimeConfig: rtCfg,
		CreatedAt:     time.Now(),
	}

	if err := m.store.UpsertProject(projectPath); err != nil {
		return Workspace{}, fmt.Errorf("workspace: register project: %w", err)
	}
	if err := m.store.AddWorkspace(cmuxconfig.WorkspaceMetadata{
		WorkspaceID:   ws.ID,
		Name:          ws.Name,
		ProjectPath:   ws.ProjectPath,
		ProjectName:   ws.ProjectName,
		RuntimeConfig: ws.RuntimeConfig,
		CreatedAt:     ws.CreatedAt,
	}); err != nil {
		return Workspace{}, fmt.Errorf("workspace: register workspace: %w", err)
	}

	m.publish(ctx, EventWorkspaceCreated, ws)
	return ws, nil
}

// RenameWorkspace moves id's worktree to a path derived from newName and
// re-registers it under a new workspaceId, per spec.md §3 "renaming
// produces a new workspaceId". The worktree move uses `git worktree move`,
// atomic when the runtime's filesystem supports rename, copy+delete
// otherwise (git's own fallback).
func (m *Manager) RenameWorkspace(ctx context.Context, id, newName string) (Workspace, error) {
	meta, found := m.store.GetWorkspace(id)
	if !found {
		return Workspace{}, fmt.Errorf("workspace: %s not found", id)
	}

	rt, err := m.runtimeFor(meta.RuntimeConfig)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace: build runtime: %w", err)
	}

	oldPath := rt.GetWorkspacePath(meta.ProjectPath, meta.Name)
	newPath := rt.GetWorkspacePath(meta.ProjectPath, newName)

	if _, err := rt.Exec(ctx, "git", []string{"worktree", "move", oldPath, newPath}, runtime.ExecOptions{Cwd: meta.ProjectPath}); err != nil {
		return Workspace{}, fmt.Errorf("workspace: git worktree move: %w", err)
	}

	ws := Workspace{
		ID:            uuid.NewString(),
		Name:          newName,
		ProjectPath:   meta.ProjectPath,
		ProjectName:   meta.ProjectName,
		WorkspacePath: newPath,
		RuntimeConfig: meta.RuntimeConfig,
		CreatedAt:     meta.CreatedAt,
	}

	if err := m.store.RemoveWorkspace(id); err != nil {
		return Workspace{}, fmt.Errorf("workspace: deregister old id: %w", err)
	}
	if err := m.store.AddWorkspace(cmuxconfig.WorkspaceMetadata{
		WorkspaceID:   ws.ID,
		Name:          ws.Name,
		ProjectPath:   ws.ProjectPath,
		ProjectName:   ws.ProjectName,
		RuntimeConfig: ws.RuntimeConfig,
		CreatedAt:     ws.CreatedAt,
	}); err != nil {
		return Workspace{}, fmt.Errorf("workspace: register new id: %w", err)
	}

	m.publish(ctx, EventWorkspaceRenamed, ws)
	return ws, nil
}

// ForkWorkspace creates a new workspace whose branch starts at sourceId's
// current commit, copying its branch state without disturbing the source.
func (m *Manager) ForkWorkspace(ctx context.Context, sourceID, newName string) (Workspace, error) {
	meta, found := m.store.GetWorkspace(sourceID)
	if !found {
		return Workspace{}, fmt.Errorf("workspace: %s not found", sourceID)
	}

	rt, err := m.runtimeFor(meta.RuntimeConfig)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace: build runtime: %w", err)
	}
	sourcePath := rt.GetWorkspacePath(meta.ProjectPath, meta.Name)

	res, err := rt.Exec(ctx, "git", []string{"rev-parse", "HEAD"}, runtime.ExecOptions{Cwd: sourcePath})
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace: read source HEAD: %w", err)
	}
	commit := strings.TrimSpace(res.Stdout)

	ws, err := m.createWorktreeAt(ctx, meta.ProjectPath, newName, commit, meta.RuntimeConfig)
	if err != nil {
		return Workspace{}, err
	}
	m.publish(ctx, EventWorkspaceForked, ws)
	return ws, nil
}

// createWorktreeAt is CreateWorkspace's git-plumbing, reused by
// ForkWorkspace with an explicit base ref instead of a named trunk branch.
func (m *Manager) createWorktreeAt(ctx context.Context, projectPath, name, baseRef string, rtCfg runtime.Config) (Workspace, error) {
	projectName := filepath.Base(projectPath)
	rt, err := m.runtimeFor(rtCfg)
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace: build runtime: %w", err)
	}
	workspacePath := rt.GetWorkspacePath(projectPath, name)

	if _, err := rt.Exec(ctx, "git", []string{"worktree", "add", "-b", name, workspacePath, baseRef}, runtime.ExecOptions{Cwd: projectPath}); err != nil {
		return Workspace{}, fmt.Errorf("workspace: git worktree add: %w", err)
	}

	ws := Workspace{
		ID:            uuid.NewString(),
		Name:          name,
		ProjectPath:   projectPath,
		ProjectName:   projectName,
		WorkspacePath: workspacePath,
		RuntimeConfig: rtCfg,
		CreatedAt:     time.Now(),
	}
	if err := m.store.AddWorkspace(cmuxconfig.WorkspaceMetadata{
		WorkspaceID:   ws.ID,
		Name:          ws.Name,
		ProjectPath:   ws.ProjectPath,
		ProjectName:   ws.ProjectName,
		RuntimeConfig: ws.RuntimeConfig,
		CreatedAt:     ws.CreatedAt,
	}); err != nil {
		return Workspace{}, fmt.Errorf("workspace: register workspace: %w", err)
	}
	return ws, nil
}

// RemoveWorkspace stops any active stream and archives the workspace: its
// worktree and history are left on disk and its config entry is marked
// (not deleted) so a mistaken removal is still recoverable. PurgeArchived
// later sweeps archived workspaces past the grace window for real. If
// opts.DeleteBranch is set, the branch itself is deleted immediately, since
// its absence doesn't prevent recovering the rest of the workspace.
func (m *Manager) RemoveWorkspace(ctx context.Context, id string, opts RemoveOptions) error {
	meta, found := m.store.GetWorkspace(id)
	if !found {
		return fmt.Errorf("workspace: %s not found", id)
	}

	if m.streams != nil {
		if stopper, ok := m.streams(id); ok {
			stopper.Abort()
		}
	}

	rt, err := m.runtimeFor(meta.RuntimeConfig)
	if err != nil {
		return fmt.Errorf("workspace: build runtime: %w", err)
	}
	workspacePath := rt.GetWorkspacePath(meta.ProjectPath, meta.Name)

	if opts.DeleteBranch {
		// git refuses to delete a branch checked out in a worktree, so the
		// archived worktree is detached from it first.
		if _, err := rt.Exec(ctx, "git", []string{"checkout", "--detach"}, runtime.ExecOptions{Cwd: workspacePath}); err != nil {
			return fmt.Errorf("workspace: git checkout --detach: %w", err)
		}
		if _, err := rt.Exec(ctx, "git", []string{"branch", "-D", meta.Name}, runtime.ExecOptions{Cwd: meta.ProjectPath}); err != nil {
			return fmt.Errorf("workspace: git branch -D: %w", err)
		}
	}

	if err := m.store.ArchiveWorkspace(id, time.Now()); err != nil {
		return fmt.Errorf("workspace: archive: %w", err)
	}

	m.publish(ctx, EventWorkspaceRemoved, Workspace{
		ID:            id,
		Name:          meta.Name,
		ProjectPath:   meta.ProjectPath,
		ProjectName:   meta.ProjectName,
		WorkspacePath: workspacePath,
		RuntimeConfig: meta.RuntimeConfig,
		CreatedAt:     meta.CreatedAt,
	})
	return nil
}

// ArchiveGracePeriod is how long an archived workspace's worktree and
// history survive before PurgeArchived deletes them for real, mirroring
// the 7-day trash window a user would expect from any other removal.
const ArchiveGracePeriod = 7 * 24 * time.Hour

// PurgeArchived permanently deletes every workspace archived more than
// ArchiveGracePeriod ago: its worktree, its history, and finally its
// config entry. It's meant to run once at startup (so a long-stopped
// daemon still catches up) rather than on a live ticker. Deletion is
// best-effort per workspace; a git or filesystem failure is logged and
// skipped rather than aborting the whole sweep, since the config entry is
// already gone and retrying forever would just leak an empty worktree dir.
func (m *Manager) PurgeArchived(ctx context.Context, now time.Time) (int, error) {
	purged, err := m.store.PurgeArchivedBefore(now.Add(-ArchiveGracePeriod))
	if err != nil {
		return 0, fmt.Errorf("workspace: purge archived: %w", err)
	}

	for _, meta := range purged {
		rt, err := m.runtimeFor(meta.RuntimeConfig)
		if err != nil {
			log.Printf("workspace: purge %s: build runtime: %v", meta.WorkspaceID, err)
			continue
		}
		workspacePath := rt.GetWorkspacePath(meta.ProjectPath, meta.Name)
		if _, err := rt.Exec(ctx, "git", []string{"worktree", "remove", "--force", workspacePath}, runtime.ExecOptions{Cwd: meta.ProjectPath}); err != nil {
			log.Printf("workspace: purge %s: git worktree remove: %v", meta.WorkspaceID, err)
		}

		if m.history != nil {
			if err := m.history.Delete(meta.WorkspaceID); err != nil {
				log.Printf("workspace: purge %s: delete history: %v", meta.WorkspaceID, err)
			}
		}

		m.publish(ctx, EventWorkspacePurged, Workspace{
			ID:            meta.WorkspaceID,
			Name:          meta.Name,
			ProjectPath:   meta.ProjectPath,
			ProjectName:   meta.ProjectName,
			WorkspacePath: workspacePath,
			RuntimeConfig: meta.RuntimeConfig,
			CreatedAt:     meta.CreatedAt,
		})
	}
	return len(purged), nil
}

// ListBranches returns every local branch under projectPath, plus the
// branch it recommends as a new workspace's trunk: origin/HEAD's target if
// it exists locally, else "main", else "master".
func (m *Manager) ListBranches(ctx context.Context, projectPath string, rtCfg runtime.Config) (BranchList, error) {
	rt, err := m.runtimeFor(rtCfg)
	if err != nil {
		return BranchList{}, fmt.Errorf("workspace: build runtime: %w", err)
	}

	res, err := rt.Exec(ctx, "git", []string{"branch", "--format=%(refname:short)"}, runtime.ExecOptions{Cwd: projectPath})
	if err != nil {
		return BranchList{}, fmt.Errorf("workspace: git branch: %w", err)
	}
	var branches []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}

	return BranchList{
		Branches:         branches,
		RecommendedTrunk: m.recommendTrunk(ctx, rt, projectPath, branches),
	}, nil
}

func (m *Manager) recommendTrunk(ctx context.Context, rt runtime.Runtime, projectPath string, branches []string) string {
	hasBranch := func(name string) bool {
		for _, b := range branches {
			if b == name {
				return true
			}
		}
		return false
	}

	if res, err := rt.Exec(ctx, "git", []string{"symbolic-ref", "refs/remotes/origin/HEAD"}, runtime.ExecOptions{Cwd: projectPath}); err == nil {
		ref := strings.TrimSpace(res.Stdout)
		parts := strings.Split(ref, "/")
		if len(parts) > 0 {
			candidate := parts[len(parts)-1]
			if hasBranch(candidate) {
				return candidate
			}
		}
	}

	if hasBranch("main") {
		return "main"
	}
	if hasBranch("master") {
		return "master"
	}
	if len(branches) > 0 {
		return branches[0]
	}
	return "main"
}
