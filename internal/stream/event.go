// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package stream drives one workspace's LLM streaming exchange: translating
// provider chunks into a typed event stream, buffering the in-progress
// message into the partial store, dispatching tool calls, and committing
// the result to history on completion.
package stream

import "github.com/coder/cmux-sub011/internal/message"

// EventType discriminates the Event tagged union emitted per workspace.
type EventType string

const (
	EventStreamStart     EventType = "stream-start"
	EventStreamDelta     EventType = "stream-delta"
	EventReasoningDelta  EventType = "reasoning-delta"
	EventReasoningEnd    EventType = "reasoning-end"
	EventToolCallStart   EventType = "tool-call-start"
	EventToolCallDelta   EventType = "tool-call-delta"
	EventToolCallConfirm EventType = "tool-call-confirmation-required"
	EventToolCallEnd     EventType = "tool-call-end"
	EventStreamEnd       EventType = "stream-end"
	EventStreamAbort     EventType = "stream-abort"
	EventStreamError     EventType = "stream-error"
	EventCaughtUp        EventType = "caught-up"

	// EventHistoryMessage carries one already-committed history message (or
	// a lone surviving partial) during subscribeChat's catch-up replay,
	// ahead of the live tail. FinalMessage holds the message itself.
	EventHistoryMessage EventType = "history-message"
)

// StreamErrorType classifies a terminal stream failure.
type StreamErrorType string

const (
	ErrTypeAuthentication  StreamErrorType = "authentication"
	ErrTypeQuota           StreamErrorType = "quota"
	ErrTypeModelNotFound   StreamErrorType = "model_not_found"
	ErrTypeContextExceeded StreamErrorType = "context_exceeded"
	ErrTypeAborted         StreamErrorType = "aborted"
	ErrTypeNetwork         StreamErrorType = "network"
	ErrTypeUnknown         StreamErrorType = "unknown"
)

// Event is one item in a workspace's live event stream.
type Event struct {
	Type        EventType
	WorkspaceID string
	MessageID   string

	// stream-delta / reasoning-delta
	Delta      string
	TokenCount int

	// tool-call-start/delta/end
	ToolCallID string
	ToolName   string
	ToolInput  string // accumulated JSON so far (delta) or final (end/start initial args)
	ToolOutput string
	ToolError  string

	// stream-end
	FinalMessage *message.Message

	// stream-error
	ErrorType StreamErrorType
	ErrorMsg  string
}
