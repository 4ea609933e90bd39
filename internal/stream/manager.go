// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/coder/cmux-sub011/internal/message"
	"github.com/coder/cmux-sub011/internal/partialstore"
	"github.com/coder/cmux-sub011/internal/provider"
)

// State is a stream's position in the idle→starting→streaming→
// committing/aborted/errored→idle state machine.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateStreaming  State = "streaming"
	StateCommitting State = "committing"
	StateAborted    State = "aborted"
	StateErrored    State = "errored"
)

// ErrAlreadyStreaming is returned by Start when a stream is already active
// for the workspace.
var ErrAlreadyStreaming = errors.New("stream: already streaming")

// Tokenizer counts tokens in text; satisfied structurally by
// internal/tokenizer.Tokenizer.
type Tokenizer interface {
	Count(text string) int
}

// ToolExecutor dispatches a single tool call and returns its JSON result.
// Satisfied structurally by internal/toolpolicy.Registry.
type ToolExecutor interface {
	Execute(ctx context.Context, toolCallID, toolName string, input json.RawMessage) (json.RawMessage, error)
}

// confirmationChecker is an optional capability of ToolExecutor: a tool
// executor that gates some of its tools behind interactive approval (e.g.
// internal/toolpolicy.Registry marking bash/write_file/edit_file) reports
// which tool names need it. Checked with a type assertion so fakes that
// only implement Execute keep compiling unchanged.
type confirmationChecker interface {
	RequiresConfirmation(toolName string) bool
}

// ConfirmationGate pauses a tool call pending a caller's approve/deny
// decision. Satisfied structurally by internal/session.AgentSession's
// RequestConfirmation.
type ConfirmationGate interface {
	RequestConfirmation(toolCallID string) <-chan bool
}

// StartRequest carries everything needed to drive one stream.
type StartRequest struct {
	MessageID         string
	Client            provider.Client
	ProviderRequest   provider.StreamRequest
	Tools             ToolExecutor
	Confirm           ConfirmationGate
	ParallelToolCalls int64
}

// Manager drives one workspace's stream lifecycle: at most one active
// stream at a time, enforced by a single-permit semaphore. History is
// reached only through partial.CommitToHistory, keeping a single write path
// into the durable log.
type Manager struct {
	workspaceID string
	hub         *Hub
	partial     *partialstore.Store
	tokenizer   Tokenizer
	slot        *semaphore.Weighted

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	// bufMu also serializes publish() against Replay(), so a replaying
	// subscriber's buffer snapshot and its live subscription are gapless:
	// no event can land between the snapshot read and the Hub.Subscribe
	// call.
	bufMu  sync.Mutex
	buffer []Event
}

// New creates a Manager for one workspace.
func New(workspaceID string, hub *Hub, partial *partialstore.Store, tok Tokenizer) *Manager {
	return &Manager{
		workspaceID: workspaceID,
		hub:         hub,
		partial:     partial,
		tokenizer:   tok,
		slot:        semaphore.NewWeighted(1),
		state:       StateIdle,
	}
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// publish records event into the current message's replay buffer (reset at
// every stream-start) and fans it out over the Hub.
func (m *Manager) publish(event Event) {
	m.bufMu.Lock()
	if event.Type == EventStreamStart {
		m.buffer = nil
	}
	m.buffer = append(m.buffer, event)
	m.hub.Publish(event)
	m.bufMu.Unlock()
}

// Replay returns the buffered events of the currently-active message (empty
// if none) together with a live subscription that will receive everything
// published from this instant on — gapless with the buffer snapshot.
func (m *Manager) Replay() ([]Event, chan Event) {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	buffered := append([]Event(nil), m.buffer...)
	return buffered, m.hub.Subscribe()
}

// Start drives req to completion (commit, abort, or error), publishing
// events to the Hub as it goes. It returns once the stream reaches a
// terminal state; callers typically invoke it in its own goroutine.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	if !m.slot.TryAcquire(1) {
		return ErrAlreadyStreaming
	}
	defer m.slot.Release(1)

	streamCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.state = StateStarting
	m.cancel = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		cancel()
	}()

	providerStream, err := req.Client.Stream(streamCtx, req.ProviderRequest)
	if err != nil {
		return m.fail(ErrTypeUnknown, err.Error())
	}
	defer providerStream.Close()

	m.setState(StateStreaming)
	m.publish(Event{Type: EventStreamStart, WorkspaceID: m.workspaceID, MessageID: req.MessageID})

	partial := message.Message{
		ID:   req.MessageID,
		Role: message.RoleAssistant,
		Metadata: message.Metadata{
			Timestamp: time.Now(),
			Model:     req.ProviderRequest.Model,
			Partial:   true,
		},
	}

	var toolsGroup errgroup.Group
	var toolSem *semaphore.Weighted
	if req.ParallelToolCalls < 1 {
		req.ParallelToolCalls = 1
	}
	toolSem = semaphore.NewWeighted(req.ParallelToolCalls)

	activeText := -1      // index of the Part currently accumulating text
	activeReasoning := -1 // index of the Part currently accumulating reasoning
	toolPartIndex := make(map[string]int)

	// partialMu guards partial.Parts against concurrent access: the main
	// loop below appends/mutates it synchronously, while dispatched tool
	// calls write their result into it from their own goroutine once done.
	var partialMu sync.Mutex

	for {
		chunk, nextErr := providerStream.Next(streamCtx)
		if nextErr != nil {
			if errors.Is(nextErr, io.EOF) {
				break
			}
			if streamCtx.Err() != nil {
				return m.abort(&partial)
			}
			_ = toolsGroup.Wait()
			errType := classifyProviderError(nextErr)
			return m.fail(errType, nextErr.Error())
		}

		partialMu.Lock()
		switch chunk.Type {
		case provider.ChunkTextDelta:
			if activeText == -1 {
				partial.Parts = append(partial.Parts, message.Part{Type: message.PartText, TextState: message.TextStreaming})
				activeText = len(partial.Parts) - 1
			}
			partial.Parts[activeText].Text += chunk.TextDelta

		case provider.ChunkReasoningDelta:
			if activeReasoning == -1 {
				partial.Parts = append(partial.Parts, message.Part{Type: message.PartReasoning})
				activeReasoning = len(partial.Parts) - 1
			}
			partial.Parts[activeReasoning].Reasoning += chunk.ReasoningDelta

		case provider.ChunkReasoningEnd:
			activeReasoning = -1

		case provider.ChunkToolCallStart:
			part := message.Part{
				Type:           message.PartTool,
				ToolCallID:     chunk.ToolCallID,
				ToolName:       chunk.ToolName,
				ToolInput:      json.RawMessage(chunk.ToolInputJSON),
				ToolStateValue: message.ToolInputStreaming,
			}
			partial.Parts = append(partial.Parts, part)
			toolPartIndex[chunk.ToolCallID] = len(partial.Parts) - 1

		case provider.ChunkToolCallDelta:
			if idx, ok := toolPartIndex[chunk.ToolCallID]; ok {
				partial.Parts[idx].ToolInput = json.RawMessage(chunk.ToolInputJSON)
			}

		case provider.ChunkToolCallEnd:
			if idx, ok := toolPartIndex[chunk.ToolCallID]; ok {
				partial.Parts[idx].ToolStateValue = message.ToolInputAvailable
				partial.Parts[idx].ToolInput = json.RawMessage(chunk.ToolInputJSON)
			}

		case provider.ChunkUsage:
			if chunk.Usage != nil {
				partial.Metadata.Usage = &message.Usage{
					InputTokens:     chunk.Usage.InputTokens,
					OutputTokens:    chunk.Usage.OutputTokens,
					ReasoningTokens: chunk.Usage.ReasoningTokens,
				}
			}
		}
		snapshot := partial.Clone()
		partialMu.Unlock()

		switch chunk.Type {
		case provider.ChunkTextDelta:
			tokens := 0
			if m.tokenizer != nil {
				tokens = m.tokenizer.Count(chunk.TextDelta)
			}
			m.publish(Event{Type: EventStreamDelta, WorkspaceID: m.workspaceID, MessageID: req.MessageID, Delta: chunk.TextDelta, TokenCount: tokens})
		case provider.ChunkReasoningDelta:
			m.publish(Event{Type: EventReasoningDelta, WorkspaceID: m.workspaceID, MessageID: req.MessageID, Delta: chunk.ReasoningDelta})
		case provider.ChunkReasoningEnd:
			m.publish(Event{Type: EventReasoningEnd, WorkspaceID: m.workspaceID, MessageID: req.MessageID})
		case provider.ChunkToolCallStart:
			m.publish(Event{Type: EventToolCallStart, WorkspaceID: m.workspaceID, MessageID: req.MessageID,
				ToolCallID: chunk.ToolCallID, ToolName: chunk.ToolName, ToolInput: chunk.ToolInputJSON})
		case provider.ChunkToolCallDelta:
			m.publish(Event{Type: EventToolCallDelta, WorkspaceID: m.workspaceID, MessageID: req.MessageID,
				ToolCallID: chunk.ToolCallID, ToolInput: chunk.ToolInputJSON})
		case provider.ChunkToolCallEnd:
			idx, ok := toolPartIndex[chunk.ToolCallID]
			if !ok {
				idx = -1
			}
			m.dispatchTool(streamCtx, &toolsGroup, toolSem, &partialMu, req, &partial, idx, chunk.ToolCallID, chunk.ToolName, json.RawMessage(chunk.ToolInputJSON))
		}

		if err := m.partial.WritePartial(m.workspaceID, snapshot); err != nil {
			return m.fail(ErrTypeUnknown, fmt.Sprintf("persist partial: %v", err))
		}
	}

	if err := toolsGroup.Wait(); err != nil {
		return m.fail(ErrTypeUnknown, err.Error())
	}

	partialMu.Lock()
	finalSnapshot := partial.Clone()
	partialMu.Unlock()
	if err := m.partial.WritePartial(m.workspaceID, finalSnapshot); err != nil {
		return m.fail(ErrTypeUnknown, fmt.Sprintf("persist partial: %v", err))
	}
	if err := m.partial.Flush(m.workspaceID); err != nil {
		return m.fail(ErrTypeUnknown, fmt.Sprintf("flush partial: %v", err))
	}

	return m.commit(req.MessageID)
}

// dispatchTool runs one tool call asynchronously, bounded by toolSem, and
// writes its result back into partial once complete. partialMu must be held
// whenever partial.Parts is touched, since the main loop keeps mutating it
// concurrently with dispatched calls.
func (m *Manager) dispatchTool(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted, partialMu *sync.Mutex, req StartRequest, partial *message.Message, idx int, toolCallID, toolName string, input json.RawMessage) {
	if req.Tools == nil || idx < 0 {
		return
	}
	g.Go(func() error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		defer sem.Release(1)

		if gate, ok := req.Tools.(confirmationChecker); ok && gate.RequiresConfirmation(toolName) {
			approved, err := m.awaitConfirmation(ctx, &req, partialMu, partial, idx, toolCallID, toolName)
			if err != nil {
				return nil
			}
			if !approved {
				partialMu.Lock()
				partial.Parts[idx].ToolStateValue = message.ToolErrored
				partial.Parts[idx].ToolError = "tool call denied by user"
				partialMu.Unlock()
				m.publish(Event{Type: EventToolCallEnd, WorkspaceID: m.workspaceID, MessageID: req.MessageID,
					ToolCallID: toolCallID, ToolName: toolName, ToolError: "tool call denied by user"})
				return nil
			}
		}

		output, err := req.Tools.Execute(ctx, toolCallID, toolName, input)

		partialMu.Lock()
		defer partialMu.Unlock()
		if err != nil {
			partial.Parts[idx].ToolStateValue = message.ToolErrored
			partial.Parts[idx].ToolError = err.Error()
			m.publish(Event{Type: EventToolCallEnd, WorkspaceID: m.workspaceID, MessageID: req.MessageID,
				ToolCallID: toolCallID, ToolName: toolName, ToolError: err.Error()})
			return nil
		}
		partial.Parts[idx].ToolStateValue = message.ToolOutputAvailable
		partial.Parts[idx].ToolOutput = output
		m.publish(Event{Type: EventToolCallEnd, WorkspaceID: m.workspaceID, MessageID: req.MessageID,
			ToolCallID: toolCallID, ToolName: toolName, ToolOutput: string(output)})
		return nil
	})
}

// awaitConfirmation marks toolCallID awaiting approval, publishes
// tool-call-confirmation-required, and blocks until req.Confirm resolves it
// or ctx is cancelled. No Confirm wired is treated as a deny, since a tool
// flagged RequiresConfirmation must never run unattended.
func (m *Manager) awaitConfirmation(ctx context.Context, req *StartRequest, partialMu *sync.Mutex, partial *message.Message, idx int, toolCallID, toolName string) (bool, error) {
	partialMu.Lock()
	partial.Parts[idx].ConfirmationRequired = true
	partial.Parts[idx].ToolStateValue = message.ToolAwaitingConfirmation
	partialMu.Unlock()
	m.publish(Event{Type: EventToolCallConfirm, WorkspaceID: m.workspaceID, MessageID: req.MessageID,
		ToolCallID: toolCallID, ToolName: toolName})

	if req.Confirm == nil {
		return false, nil
	}
	select {
	case approved := <-req.Confirm.RequestConfirmation(toolCallID):
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// commit converts the partial to a completed message and appends it to
// history.
func (m *Manager) commit(messageID string) error {
	m.setState(StateCommitting)
	committed, err := m.partial.CommitToHistory(m.workspaceID)
	if err != nil {
		return m.fail(ErrTypeUnknown, err.Error())
	}
	m.setState(StateIdle)
	m.publish(Event{Type: EventStreamEnd, WorkspaceID: m.workspaceID, MessageID: messageID, FinalMessage: committed})
	return nil
}

// abort persists the partial (state preserved as partial=true) and emits
// stream-abort, leaving the partial on disk for the next sendMessage or
// commitToHistory call to pick up.
func (m *Manager) abort(partial *message.Message) error {
	_ = m.partial.WritePartial(m.workspaceID, *partial)
	_ = m.partial.Flush(m.workspaceID)
	m.setState(StateAborted)
	m.publish(Event{Type: EventStreamAbort, WorkspaceID: m.workspaceID, MessageID: partial.ID})
	m.setState(StateIdle)
	return nil
}

// fail classifies a terminal error, preserves the partial (flushing the
// last snapshot written to the partial store, so it stays on disk as after
// an abort), and emits stream-error.
func (m *Manager) fail(errType StreamErrorType, msg string) error {
	_ = m.partial.Flush(m.workspaceID)
	m.setState(StateErrored)
	m.publish(Event{Type: EventStreamError, WorkspaceID: m.workspaceID, ErrorType: errType, ErrorMsg: msg})
	m.setState(StateIdle)
	return fmt.Errorf("stream: %s: %s", errType, msg)
}

// Unsubscribe detaches a channel previously returned by Replay or Hub.Subscribe.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.hub.Unsubscribe(ch)
}

// Abort requests cancellation of the active stream, if any. No-op if idle.
func (m *Manager) Abort() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func classifyProviderError(err error) StreamErrorType {
	switch {
	case errors.Is(err, provider.ErrAuthentication):
		return ErrTypeAuthentication
	case errors.Is(err, provider.ErrQuota):
		return ErrTypeQuota
	case errors.Is(err, provider.ErrModelNotFound):
		return ErrTypeModelNotFound
	case errors.Is(err, provider.ErrContextExceeded):
		return ErrTypeContextExceeded
	case errors.Is(err, provider.ErrNetwork):
		return ErrTypeNetwork
	default:
		return ErrTypeUnknown
	}
}
