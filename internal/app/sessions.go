// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/extmeta"
	"github.com/coder/cmux-sub011/internal/historystore"
	"github.com/coder/cmux-sub011/internal/partialstore"
	"github.com/coder/cmux-sub011/internal/runtime"
	"github.com/coder/cmux-sub011/internal/session"
	"github.com/coder/cmux-sub011/internal/stream"
	"github.com/coder/cmux-sub011/internal/tokenizer"
	"github.com/coder/cmux-sub011/internal/toolpolicy"
	"github.com/coder/cmux-sub011/internal/workspace"
)

// agentStopper adapts AgentSession.InterruptStream to workspace.StreamStopper's
// bare Abort() signature.
type agentStopper struct{ agent *session.AgentSession }

func (s agentStopper) Abort() { s.agent.InterruptStream() }

// sessionEntry bundles a workspace's AgentSession with the stream.Hub and
// toolpolicy.Registry it was built from, so the bridge can both dispatch
// control-API calls and subscribe to workspace:chat off the same hub.
type sessionEntry struct {
	agent *session.AgentSession
	hub   *stream.Hub
	tools *toolpolicy.Registry
}

// sessionRegistry lazily builds one AgentSession per workspace the first
// time it's addressed, implementing bridge.Sessions.
type sessionRegistry struct {
	mu sync.Mutex

	config     *cmuxconfig.Store
	history    *historystore.Store
	partial    *partialstore.Store
	ext        *extmeta.Store
	resolver   session.ClientResolver
	tokenizers *tokenizer.Registry

	entries map[string]*sessionEntry
}

func newSessionRegistry(
	config *cmuxconfig.Store,
	history *historystore.Store,
	partial *partialstore.Store,
	ext *extmeta.Store,
	resolver session.ClientResolver,
	tokenizers *tokenizer.Registry,
) *sessionRegistry {
	return &sessionRegistry{
		config:     config,
		history:    history,
		partial:    partial,
		ext:        ext,
		resolver:   resolver,
		tokenizers: tokenizers,
		entries:    make(map[string]*sessionEntry),
	}
}

// Get implements bridge.Sessions.
func (r *sessionRegistry) Get(ctx context.Context, workspaceID string) (*session.AgentSession, error) {
	entry, err := r.entry(workspaceID)
	if err != nil {
		return nil, err
	}
	return entry.agent, nil
}

// ChatHub implements the lookup bridge.Dependencies.ChatHub needs.
func (r *sessionRegistry) ChatHub(workspaceID string) (*stream.Hub, bool) {
	r.mu.Lock()
	entry, found := r.entries[workspaceID]
	r.mu.Unlock()
	if !found {
		return nil, false
	}
	return entry.hub, true
}

// StreamStopper implements workspace.StreamStopperLookup, letting
// RemoveWorkspace abort an active stream when its workspace is removed.
func (r *sessionRegistry) StreamStopper(workspaceID string) (workspace.StreamStopper, bool) {
	r.mu.Lock()
	entry, found := r.entries[workspaceID]
	r.mu.Unlock()
	if !found {
		return nil, false
	}
	return agentStopper{agent: entry.agent}, true
}

func (r *sessionRegistry) entry(workspaceID string) (*sessionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[workspaceID]; ok {
		return e, nil
	}

	meta, found := r.config.GetWorkspace(workspaceID)
	if !found {
		return nil, fmt.Errorf("app: workspace %s not registered", workspaceID)
	}

	rtCfg := meta.RuntimeConfig
	if rtCfg.Kind == "" {
		rtCfg.Kind = runtime.KindLocal
	}
	rt, err := runtime.New(rtCfg)
	if err != nil {
		return nil, fmt.Errorf("app: build runtime for %s: %w", workspaceID, err)
	}

	// ModeExec seeds the registry until the first sendMessage/resumeStream
	// call; AgentSession.beginStream re-applies the requested Mode's policy
	// on every call via Registry.SetPolicy.
	tools, err := toolpolicy.NewRegistry(rt, toolpolicy.PolicyForMode(toolpolicy.ModeExec))
	if err != nil {
		return nil, fmt.Errorf("app: build tool registry for %s: %w", workspaceID, err)
	}

	hub := stream.NewHub()
	agent := session.New(workspaceID, r.history, r.partial, r.ext, hub, r.resolver, tools, tools, r.tokenizers)

	entry := &sessionEntry{agent: agent, hub: hub, tools: tools}
	r.entries[workspaceID] = entry
	return entry, nil
}
