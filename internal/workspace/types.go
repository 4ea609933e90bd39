// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package workspace implements WorkspaceManager (spec.md §4.11): creating,
// renaming, forking, and removing workspaces, each backed by a git worktree
// reached through a runtime.Runtime and registered in cmuxconfig's
// project/workspace registry.
package workspace

import (
	"time"

	"github.com/coder/cmux-sub011/internal/runtime"
)

// Workspace is the full identity and binding described by spec.md §3: a
// stable id, its project, and the runtime that reaches its worktree.
type Workspace struct {
	ID            string
	Name          string
	ProjectPath   string
	ProjectName   string
	WorkspacePath string
	RuntimeConfig runtime.Config
	CreatedAt     time.Time
}

// BranchList is ListBranches' result: every local branch plus the one the
// manager recommends as the trunk to fork new workspaces from.
type BranchList struct {
	Branches         []string
	RecommendedTrunk string
}

// Event types published on every WorkspaceManager mutation, matching
// spec.md §4.11 "Emits workspace-metadata events on every mutation".
const (
	EventWorkspaceCreated = "workspace.created"
	EventWorkspaceRenamed = "workspace.renamed"
	EventWorkspaceForked  = "workspace.forked"
	EventWorkspaceRemoved = "workspace.removed"
	EventWorkspacePurged  = "workspace.purged"
)

// EventTypePrefix is the pattern callers subscribe to on the shared event
// bus to receive every WorkspaceManager mutation ("workspace.*").
const EventTypePrefix = "workspace."
