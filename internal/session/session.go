// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session implements AgentSession: the per-workspace binding of
// HistoryStore, PartialStore, ToolRegistry, and StreamManager that the
// bridge talks to. It generalizes goa-ai's Session/Store shape from
// durable-metadata-only to the full chat/stream operation set.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coder/cmux-sub011/internal/historystore"
	"github.com/coder/cmux-sub011/internal/message"
	"github.com/coder/cmux-sub011/internal/partialstore"
	"github.com/coder/cmux-sub011/internal/provider"
	"github.com/coder/cmux-sub011/internal/stream"
	"github.com/coder/cmux-sub011/internal/toolpolicy"
)

// Sentinel errors a ClientResolver returns; AgentSession classifies them
// into the Result's ErrorKind via errors.Is.
var (
	ErrAPIKeyNotFound       = errors.New("session: api key not found")
	ErrProviderNotSupported = errors.New("session: provider not supported")
	ErrInvalidModelString   = errors.New("session: invalid model string")
)

// ClientResolver turns a model string (e.g. "anthropic/claude-opus-4")
// into a provider.Client able to serve it. Concrete resolution — API key
// lookup, provider registries — lives outside this package; AgentSession
// only needs the narrow contract.
type ClientResolver interface {
	Resolve(model string) (provider.Client, error)
}

// ToolCatalog exposes the tool definitions to advertise to the provider,
// independent of dispatch (which goes through stream.ToolExecutor), and
// lets AgentSession swap the active toolpolicy.Policy per request's Mode.
// Satisfied structurally by internal/toolpolicy.Registry.
type ToolCatalog interface {
	Definitions() []provider.ToolDefinition
	SetPolicy(policy toolpolicy.Policy) error
}

// subscribeBufferSize bounds how many undelivered events a subscribeChat
// caller can accumulate before it must keep draining.
const subscribeBufferSize = 256

// SendMessageOptions carries per-call configuration for sendMessage and
// resumeStream.
type SendMessageOptions struct {
	Model             string
	Mode              toolpolicy.Mode // "" defaults to toolpolicy.ModeExec
	Thinking          provider.ThinkingLevel
	ThinkingPolicy    provider.ThinkingPolicy // nil means pass requested level through unclamped
	EditMessageID     string
	Attachments       []message.Part
	ParallelToolCalls int64
	MaxTokens         int
}

// EnsureMetadataOptions carries ensureMetadata's inputs.
type EnsureMetadataOptions struct {
	WorkspacePath string
	ProjectName   string
}

// AgentSession is the per-workspace binding spec.md §4.7 describes: one
// instance owns a workspace's history, partial, and stream lifecycle.
type AgentSession struct {
	workspaceID string
	extID       string

	history  *historystore.Store
	partial  *partialstore.Store
	ext      ExtMetaUpdater
	resolver ClientResolver
	tools    stream.ToolExecutor
	catalog  ToolCatalog

	streamMgr  *stream.Manager
	tok        *dynamicTokenizer
	tokenizers TokenizerFactory

	confMu               sync.Mutex
	pendingConfirmations map[string]chan bool
}

// ExtMetaUpdater is the narrow slice of extmeta.Store AgentSession needs,
// kept as an interface so tests can fake it without touching a real file.
type ExtMetaUpdater interface {
	UpdateRecency(id string, ts time.Time) error
}

// TokenizerFactory resolves the token counter to use for a given model.
// Satisfied by internal/tokenizer's registry.
type TokenizerFactory interface {
	ForModel(model string) stream.Tokenizer
}

// New creates an AgentSession bound to one workspace.
func New(
	workspaceID string,
	history *historystore.Store,
	partial *partialstore.Store,
	ext ExtMetaUpdater,
	hub *stream.Hub,
	resolver ClientResolver,
	tools stream.ToolExecutor,
	catalog ToolCatalog,
	tokenizers TokenizerFactory,
) *AgentSession {
	tok := &dynamicTokenizer{}
	return &AgentSession{
		workspaceID:          workspaceID,
		extID:                workspaceID,
		history:              history,
		partial:              partial,
		ext:                  ext,
		resolver:             resolver,
		tools:                tools,
		catalog:              catalog,
		streamMgr:            stream.New(workspaceID, hub, partial, tok),
		tok:                  tok,
		tokenizers:           tokenizers,
		pendingConfirmations: make(map[string]chan bool),
	}
}

// dynamicTokenizer forwards Count to whichever tokenizer was last selected
// for the model currently streaming, letting one long-lived stream.Manager
// serve requests across models without being reconstructed per call.
type dynamicTokenizer struct {
	mu  sync.Mutex
	cur stream.Tokenizer
}

func (d *dynamicTokenizer) set(t stream.Tokenizer) {
	d.mu.Lock()
	d.cur = t
	d.mu.Unlock()
}

func (d *dynamicTokenizer) Count(text string) int {
	d.mu.Lock()
	t := d.cur
	d.mu.Unlock()
	if t == nil {
		return 0
	}
	return t.Count(text)
}

// SubscribeChat emits every history message in order, then the buffered
// events of any currently-active stream (or the lone surviving partial),
// then caught-up, then live events until ctx is done.
func (s *AgentSession) SubscribeChat(ctx context.Context) Result[<-chan stream.Event] {
	out := make(chan stream.Event, subscribeBufferSize)
	go s.runChatFeed(ctx, out)
	return ok[<-chan stream.Event](out)
}

func (s *AgentSession) runChatFeed(ctx context.Context, out chan<- stream.Event) {
	defer close(out)

	send := func(e stream.Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	msgs, err := s.history.Get(s.workspaceID)
	if err != nil {
		send(stream.Event{Type: stream.EventStreamError, WorkspaceID: s.workspaceID, ErrorType: stream.ErrTypeUnknown, ErrorMsg: err.Error()})
		return
	}
	for i := range msgs {
		m := msgs[i]
		if !send(stream.Event{Type: stream.EventHistoryMessage, WorkspaceID: s.workspaceID, MessageID: m.ID, FinalMessage: &m}) {
			return
		}
	}

	// Replay's buffer snapshot and live subscription are taken atomically
	// (stream.Manager.publish and Replay share one lock), so nothing
	// published from this point on is missed, whichever branch below runs.
	buffered, live := s.streamMgr.Replay()
	if len(buffered) > 0 {
		for _, e := range buffered {
			if !send(e) {
				s.streamMgr.Unsubscribe(live)
				return
			}
		}
	} else if partial, _ := s.partial.ReadPartial(s.workspaceID); partial != nil {
		if !send(stream.Event{Type: stream.EventHistoryMessage, WorkspaceID: s.workspaceID, MessageID: partial.ID, FinalMessage: partial}) {
			s.streamMgr.Unsubscribe(live)
			return
		}
	}

	if !send(stream.Event{Type: stream.EventCaughtUp, WorkspaceID: s.workspaceID}) {
		s.streamMgr.Unsubscribe(live)
		return
	}

	defer s.streamMgr.Unsubscribe(live)
	for {
		select {
		case e, chOK := <-live:
			if !chOK {
				return
			}
			if !send(e) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// SendMessage appends a user message (after optionally truncating history
// at editMessageId and committing any outstanding partial) and begins a
// stream.
func (s *AgentSession) SendMessage(ctx context.Context, text string, opts SendMessageOptions) Result[struct{}] {
	if strings.TrimSpace(text) == "" && len(opts.Attachments) == 0 {
		return fail[struct{}](ErrKindUnknown, "message is empty and has no attachments")
	}
	if opts.Model == "" {
		return fail[struct{}](ErrKindInvalidModelString, "model is required")
	}

	if opts.EditMessageID != "" {
		if err := s.history.TruncateAfter(s.workspaceID, opts.EditMessageID); err != nil && !errors.Is(err, historystore.ErrNotFound) {
			return fail[struct{}](ErrKindUnknown, fmt.Sprintf("truncate history: %v", err))
		}
	}

	if _, err := s.partial.CommitToHistory(s.workspaceID); err != nil {
		return fail[struct{}](ErrKindUnknown, fmt.Sprintf("commit outstanding partial: %v", err))
	}

	parts := make([]message.Part, 0, 1+len(opts.Attachments))
	parts = append(parts, message.Part{Type: message.PartText, Text: text, TextState: message.TextDone})
	parts = append(parts, opts.Attachments...)

	userMsg := message.Message{
		ID:       uuid.NewString(),
		Role:     message.RoleUser,
		Parts:    parts,
		Metadata: message.Metadata{Timestamp: time.Now()},
	}
	if _, err := s.history.Append(s.workspaceID, userMsg); err != nil {
		return fail[struct{}](ErrKindUnknown, fmt.Sprintf("append user message: %v", err))
	}

	return s.beginStream(ctx, opts)
}

// ResumeStream begins a stream from existing history without appending a
// new user message; a no-op if a stream is already active.
func (s *AgentSession) ResumeStream(ctx context.Context, opts SendMessageOptions) Result[struct{}] {
	if s.streamMgr.State() != stream.StateIdle {
		return ok(struct{}{})
	}
	return s.beginStream(ctx, opts)
}

func (s *AgentSession) beginStream(ctx context.Context, opts SendMessageOptions) Result[struct{}] {
	client, err := s.resolver.Resolve(opts.Model)
	if err != nil {
		return fail[struct{}](classifyResolveError(err), err.Error())
	}

	mode := opts.Mode
	if mode == "" {
		mode = toolpolicy.ModeExec
	}
	if s.catalog != nil {
		if err := s.catalog.SetPolicy(toolpolicy.PolicyForMode(mode)); err != nil {
			return fail[struct{}](ErrKindUnknown, fmt.Sprintf("apply tool policy for mode %q: %v", mode, err))
		}
	}

	msgs, err := s.history.Get(s.workspaceID)
	if err != nil {
		return fail[struct{}](ErrKindUnknown, fmt.Sprintf("load history: %v", err))
	}

	// The dynamicTokenizer forwards to whatever ForModel resolves for this
	// call; if no factory was wired, Count falls back to zero, which only
	// affects the displayed running token total, not stream delivery.
	if s.tokenizers != nil {
		s.tok.set(s.tokenizers.ForModel(opts.Model))
	}

	thinking := opts.Thinking
	if opts.ThinkingPolicy != nil {
		thinking = opts.ThinkingPolicy.Enforce(thinking)
	}

	var tools []provider.ToolDefinition
	if s.catalog != nil {
		tools = s.catalog.Definitions()
	}

	providerOpts := provider.BuildProviderOptions(opts.Model, passthroughPolicy{thinking}, thinking, tools)

	req := stream.StartRequest{
		MessageID: uuid.NewString(),
		Client:    client,
		ProviderRequest: provider.StreamRequest{
			Model:          providerOpts.Model,
			Messages:       toRequestMessages(msgs),
			Tools:          providerOpts.Tools,
			ToolChoice:     providerOpts.ToolChoice,
			ThinkingBudget: providerOpts.ThinkingBudget,
			MaxTokens:      opts.MaxTokens,
		},
		Tools:             s.tools,
		Confirm:           s,
		ParallelToolCalls: opts.ParallelToolCalls,
	}

	go func() {
		_ = s.streamMgr.Start(ctx, req)
	}()

	return ok(struct{}{})
}

// passthroughPolicy adapts a single resolved ThinkingLevel into a
// provider.ThinkingPolicy so BuildProviderOptions' signature can stay
// uniform whether or not the caller supplied a real policy.
type passthroughPolicy struct {
	level provider.ThinkingLevel
}

func (p passthroughPolicy) Enforce(provider.ThinkingLevel) provider.ThinkingLevel { return p.level }

// InterruptStream requests the active stream (if any) abort.
func (s *AgentSession) InterruptStream() Result[struct{}] {
	s.streamMgr.Abort()
	return ok(struct{}{})
}

// EnsureMetadata idempotently records the workspace's identity in the
// extension-metadata store.
func (s *AgentSession) EnsureMetadata(opts EnsureMetadataOptions) Result[struct{}] {
	if opts.WorkspacePath == "" {
		return fail[struct{}](ErrKindUnknown, "workspacePath is required")
	}
	if err := s.ext.UpdateRecency(s.extID, time.Time{}); err != nil {
		return fail[struct{}](ErrKindUnknown, fmt.Sprintf("update recency: %v", err))
	}
	return ok(struct{}{})
}

// RequestConfirmation registers a pending confirmation for toolCallId and
// returns a channel that receives the caller's decision exactly once. Used
// by tool handlers that require interactive approval (message.Part's
// confirmationRequired field).
func (s *AgentSession) RequestConfirmation(toolCallID string) <-chan bool {
	ch := make(chan bool, 1)
	s.confMu.Lock()
	s.pendingConfirmations[toolCallID] = ch
	s.confMu.Unlock()
	return ch
}

// RespondToConfirmation resolves a pending confirmation requested via
// RequestConfirmation. Fails if no confirmation is pending for toolCallId.
func (s *AgentSession) RespondToConfirmation(toolCallID string, approved bool) Result[struct{}] {
	s.confMu.Lock()
	ch, found := s.pendingConfirmations[toolCallID]
	if found {
		delete(s.pendingConfirmations, toolCallID)
	}
	s.confMu.Unlock()

	if !found {
		return fail[struct{}](ErrKindUnknown, "no pending confirmation for tool call "+toolCallID)
	}
	ch <- approved
	close(ch)
	return ok(struct{}{})
}

func classifyResolveError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrAPIKeyNotFound):
		return ErrKindAPIKeyNotFound
	case errors.Is(err, ErrProviderNotSupported):
		return ErrKindProviderNotSupported
	case errors.Is(err, ErrInvalidModelString):
		return ErrKindInvalidModelString
	default:
		return ErrKindUnknown
	}
}

func toRequestMessages(msgs []message.Message) []provider.RequestMessage {
	out := make([]provider.RequestMessage, 0, len(msgs))
	for _, m := range msgs {
		for _, p := range m.Parts {
			switch p.Type {
			case message.PartText:
				out = append(out, provider.RequestMessage{Role: string(m.Role), Text: p.Text})
			case message.PartTool:
				if p.ToolStateValue == message.ToolOutputAvailable {
					out = append(out, provider.RequestMessage{
						Role:       string(m.Role),
						ToolCallID: p.ToolCallID,
						ToolName:   p.ToolName,
						ToolResult: p.ToolOutput,
					})
				}
			}
		}
	}
	return out
}
