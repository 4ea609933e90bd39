// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package message defines the durable conversation data model shared by the
// history store, the partial store, and the stream manager: messages made up
// of an ordered sequence of tagged parts.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates the tagged union of Part variants.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartTool      PartType = "tool"
	PartFile      PartType = "file"
)

// ToolState is the lifecycle of a tool part.
type ToolState string

const (
	ToolInputStreaming       ToolState = "input-streaming"
	ToolInputAvailable       ToolState = "input-available"
	ToolAwaitingConfirmation ToolState = "awaiting-confirmation"
	ToolOutputAvailable      ToolState = "output-available"
	ToolErrored              ToolState = "errored"
)

// TextState is the lifecycle of a text part while it streams.
type TextState string

const (
	TextStreaming TextState = "streaming"
	TextDone      TextState = "done"
)

// Part is one element of a Message's content, a discriminated union over
// {text, reasoning, tool, file}. Exactly one of the concrete fields is
// meaningful for a given Type; the others are left at their zero value.
type Part struct {
	Type PartType `json:"type"`

	// text
	Text      string    `json:"text,omitempty"`
	TextState TextState `json:"state,omitempty"`

	// reasoning
	Reasoning string `json:"reasoning,omitempty"`

	// tool
	ToolCallID            string          `json:"toolCallId,omitempty"`
	ToolName              string          `json:"toolName,omitempty"`
	ToolInput             json.RawMessage `json:"input,omitempty"`
	ToolOutput            json.RawMessage `json:"output,omitempty"`
	ToolStateValue        ToolState       `json:"toolState,omitempty"`
	ToolError             string          `json:"toolError,omitempty"`
	ConfirmationRequired  bool            `json:"confirmationRequired,omitempty"`

	// file
	FileURL       string `json:"url,omitempty"`
	FileMediaType string `json:"mediaType,omitempty"`
}

// Metadata carries out-of-band information about a Message that isn't part
// of its rendered content.
type Metadata struct {
	Timestamp        time.Time       `json:"timestamp"`
	HistorySequence  int64           `json:"historySequence"`
	Model            string          `json:"model,omitempty"`
	Usage            *Usage          `json:"usage,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
	Partial          bool            `json:"partial,omitempty"`
}

// Usage records token accounting for a completed assistant turn.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	ReasoningTokens int `json:"reasoningTokens,omitempty"`
}

// Message is one turn in a workspace's conversation history.
type Message struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Parts    []Part   `json:"parts"`
	Metadata Metadata `json:"metadata"`
}

// Text concatenates all text parts' content, ignoring reasoning/tool/file
// parts. Convenient for tests and for tokenizer input.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Clone returns a deep-enough copy of m suitable for safe concurrent reads:
// the Parts slice and its ToolInput/ToolOutput raw bytes are copied.
func (m Message) Clone() Message {
	out := m
	out.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		out.Parts[i] = p
		if p.ToolInput != nil {
			out.Parts[i].ToolInput = append(json.RawMessage(nil), p.ToolInput...)
		}
		if p.ToolOutput != nil {
			out.Parts[i].ToolOutput = append(json.RawMessage(nil), p.ToolOutput...)
		}
	}
	return out
}

// Validate checks the structural invariants a Message must satisfy before it
// is accepted by the history or partial store.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message: id is required")
	}
	switch m.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("message %s: invalid role %q", m.ID, m.Role)
	}
	for i, p := range m.Parts {
		switch p.Type {
		case PartText, PartReasoning, PartTool, PartFile:
		default:
			return fmt.Errorf("message %s: part %d has invalid type %q", m.ID, i, p.Type)
		}
	}
	return nil
}
