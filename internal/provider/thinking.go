// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package provider

// ThinkingPolicy clamps a requested thinking level to what a given model
// actually supports.
type ThinkingPolicy interface {
	Enforce(requested ThinkingLevel) ThinkingLevel
}

// FixedThinkingPolicy always returns Level regardless of what's requested —
// used for models that only ever reason at one fixed effort.
type FixedThinkingPolicy struct {
	Level ThinkingLevel
}

// Enforce implements ThinkingPolicy. A fixed-high model returns high for
// every input, including off: the model has no way to turn reasoning off.
func (p FixedThinkingPolicy) Enforce(ThinkingLevel) ThinkingLevel {
	return p.Level
}

// SelectableThinkingPolicy allows a subset of levels, with a fallback for
// anything outside that subset.
type SelectableThinkingPolicy struct {
	Allowed []ThinkingLevel
	Default ThinkingLevel
}

// Enforce implements ThinkingPolicy. off always passes through (every
// selectable model can be asked not to reason); any other requested level
// passes through if allowed, else falls back to Default.
func (p SelectableThinkingPolicy) Enforce(requested ThinkingLevel) ThinkingLevel {
	if requested == ThinkingOff {
		return ThinkingOff
	}
	for _, lvl := range p.Allowed {
		if lvl == requested {
			return requested
		}
	}
	return p.Default
}

// thinkingBudgets maps a unified level to an illustrative provider reasoning
// budget in tokens. A concrete provider adapter may remap this further (e.g.
// to an "effort" string); this is the abstract default used by the
// ProviderOptions builder below.
var thinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:    0,
	ThinkingLow:    1024,
	ThinkingMedium: 4096,
	ThinkingHigh:   16384,
}

// ProviderOptions is the fully-resolved set of parameters a StreamRequest is
// built from, after applying ToolPolicy and ThinkingPolicy.
type ProviderOptions struct {
	Model          string
	ThinkingLevel  ThinkingLevel
	ThinkingBudget int
	Tools          []ToolDefinition
	ToolChoice     ToolChoice
}

// BuildProviderOptions resolves requestedThinking against policy and
// attaches the already-filtered tool set, producing the options a
// StreamRequest is constructed from.
func BuildProviderOptions(model string, policy ThinkingPolicy, requestedThinking ThinkingLevel, tools []ToolDefinition) ProviderOptions {
	level := requestedThinking
	if policy != nil {
		level = policy.Enforce(requestedThinking)
	}

	choice := ToolChoice{Mode: "auto"}
	if len(tools) == 0 {
		choice = ToolChoice{Mode: "none"}
	}

	return ProviderOptions{
		Model:          model,
		ThinkingLevel:  level,
		ThinkingBudget: thinkingBudgets[level],
		Tools:          tools,
		ToolChoice:     choice,
	}
}
