// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokenizer

import (
	"encoding/json"
	"sort"

	"github.com/coder/cmux-sub011/internal/message"
	"github.com/coder/cmux-sub011/internal/provider"
)

// Counter is the narrow token-counting contract ConsumerCalculator needs,
// satisfied by Tokenizer.
type Counter interface {
	Count(text string) int
}

// ConsumerEntry is one line of the per-consumer token breakdown spec.md
// §4.10 describes.
type ConsumerEntry struct {
	Name          string
	Tokens        int
	FixedTokens   int
	VariableTokens int
	Percentage    float64
}

const (
	consumerUser               = "User"
	consumerAssistant          = "Assistant"
	consumerAssistantReasoning = "Assistant (reasoning)"
)

// CalculateConsumers attributes every message's tokens to a named
// consumer — User, Assistant, Assistant (reasoning), or one entry per tool
// name in use — and returns the entries sorted by total tokens descending.
// toolDefs contributes a fixed per-unique-tool overhead (its serialized
// description+schema, counted once regardless of call count); tool calls
// additionally contribute variable tokens for their serialized input and
// output.
func CalculateConsumers(history []message.Message, counter Counter, toolDefs []provider.ToolDefinition) []ConsumerEntry {
	totals := make(map[string]*ConsumerEntry)
	get := func(name string) *ConsumerEntry {
		e, ok := totals[name]
		if !ok {
			e = &ConsumerEntry{Name: name}
			totals[name] = e
		}
		return e
	}

	toolsInUse := make(map[string]bool)

	for _, msg := range history {
		for _, p := range msg.Parts {
			switch p.Type {
			case message.PartText:
				name := consumerAssistant
				if msg.Role == message.RoleUser {
					name = consumerUser
				}
				n := counter.Count(p.Text)
				e := get(name)
				e.Tokens += n
				e.VariableTokens += n
			case message.PartReasoning:
				n := counter.Count(p.Reasoning)
				e := get(consumerAssistantReasoning)
				e.Tokens += n
				e.VariableTokens += n
			case message.PartTool:
				toolsInUse[p.ToolName] = true
				n := counter.Count(string(p.ToolInput)) + counter.Count(string(p.ToolOutput))
				e := get(p.ToolName)
				e.Tokens += n
				e.VariableTokens += n
			}
		}
	}

	for _, def := range toolDefs {
		if !toolsInUse[def.Name] {
			continue
		}
		fixed := counter.Count(def.Description) + counter.Count(schemaText(def.InputSchema))
		e := get(def.Name)
		e.Tokens += fixed
		e.FixedTokens += fixed
	}

	var grandTotal int
	for _, e := range totals {
		grandTotal += e.Tokens
	}

	out := make([]ConsumerEntry, 0, len(totals))
	for _, e := range totals {
		if grandTotal > 0 {
			e.Percentage = 100 * float64(e.Tokens) / float64(grandTotal)
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tokens != out[j].Tokens {
			return out[i].Tokens > out[j].Tokens
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func schemaText(schema json.RawMessage) string {
	if len(schema) == 0 {
		return ""
	}
	return string(schema)
}
