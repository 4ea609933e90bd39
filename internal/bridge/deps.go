// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"time"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/events"
	"github.com/coder/cmux-sub011/internal/runtime"
	"github.com/coder/cmux-sub011/internal/session"
	"github.com/coder/cmux-sub011/internal/stream"
	"github.com/coder/cmux-sub011/internal/workspace"
)

// Sessions resolves a workspace's AgentSession, creating one on first use.
// Satisfied by internal/app's session registry.
type Sessions interface {
	Get(ctx context.Context, workspaceID string) (*session.AgentSession, error)
}

// HistoryTruncater is the narrow slice of historystore.Store the
// workspace.truncateHistory op needs.
type HistoryTruncater interface {
	TruncateAfter(workspaceID, afterMessageID string) error
}

// BashExecutor runs an ad hoc shell command in a workspace, independent of
// any chat turn, for `workspace.executeBash`.
type BashExecutor interface {
	Exec(ctx context.Context, workspaceID, command string) (runtime.ExecResult, error)
}

// WorkspaceMetadataRecord is the subset of extmeta.Record workspace.getInfo
// reports back to clients.
type WorkspaceMetadataRecord struct {
	LastUsedAt  time.Time
	Streaming   bool
	StreamModel string
}

// MetadataReader exposes the subset of extmeta.Store needed to answer
// `workspace.getInfo`. Satisfied by a small adapter over extmeta.Store since
// its Record type lives in a package bridge does not otherwise depend on.
type MetadataReader interface {
	GetMetadata(workspaceID string) (WorkspaceMetadataRecord, bool)
}

// Dependencies wires every resource a bridge Router needs to serve the
// control API.
type Dependencies struct {
	Workspaces *workspace.Manager
	Config     *cmuxconfig.Store
	Sessions   Sessions
	History    HistoryTruncater
	Bash       BashExecutor
	Metadata   MetadataReader
	Providers  ProviderStore

	// ChatHub backs the workspace:chat websocket channel, one Hub per
	// active workspace. EventBus backs workspace:metadata: every
	// WorkspaceManager mutation is published there under the
	// workspace.EventTypePrefix pattern.
	ChatHub  func(workspaceID string) (*stream.Hub, bool)
	EventBus events.EventBus
}

// ProviderStore persists provider API keys (`providers.setConfig`) and
// reports which providers are configured (`providers.list`), without ever
// returning the secret value itself.
type ProviderStore interface {
	Set(provider, apiKey string) error
	Configured() []string
}
