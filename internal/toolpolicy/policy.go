// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package toolpolicy filters the tool set offered to a model by mode, and
// dispatches tool calls against a workspace's runtime. A Policy is an
// ordered list of {pattern, action} rules (spec.md §4.8); a Registry holds
// the concrete tool handlers and applies a Policy to produce the allowed
// subset.
package toolpolicy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/hjson/hjson-go/v4"
)

// Action is what a Rule does to tools matching its Pattern.
type Action string

const (
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
	ActionRequire Action = "require"
)

// Rule matches tool names against Pattern and applies Action. Within a
// Policy, later rules take precedence over earlier ones for any tool both
// match.
type Rule struct {
	Pattern *regexp.Regexp
	Action  Action
}

// MustRule builds a Rule from a regex pattern string, panicking on an
// invalid pattern. Intended for building canonical policies at init time.
func MustRule(pattern string, action Action) Rule {
	return Rule{Pattern: regexp.MustCompile(pattern), Action: action}
}

// Policy is an ordered list of rules applied to a candidate tool set.
type Policy struct {
	Rules []Rule
}

// ErrMultipleRequired is returned by Apply when two or more distinct tools
// match a `require` rule.
type ErrMultipleRequired struct {
	Tools []string
}

func (e *ErrMultipleRequired) Error() string {
	return fmt.Sprintf("toolpolicy: multiple tools matched require rules: %v", e.Tools)
}

// Apply filters candidates (tool names) per spec.md §4.8: for each tool,
// the last matching rule wins; unmatched tools are enabled. If exactly one
// tool matches a require rule, the result is reduced to that tool alone.
// Two or more distinct require matches is an error. Zero require matches
// falls back to ordinary enable/disable filtering. The returned slice
// preserves candidates' relative order.
func (p Policy) Apply(candidates []string) ([]string, error) {
	required := make([]string, 0, 1)
	seenRequired := make(map[string]bool)
	enabled := make(map[string]bool, len(candidates))

	for _, name := range candidates {
		action, matched := p.lastMatch(name)
		if !matched {
			enabled[name] = true
			continue
		}
		switch action {
		case ActionEnable:
			enabled[name] = true
		case ActionDisable:
			enabled[name] = false
		case ActionRequire:
			enabled[name] = true
			if !seenRequired[name] {
				seenRequired[name] = true
				required = append(required, name)
			}
		}
	}

	if len(required) == 1 {
		return required, nil
	}
	if len(required) > 1 {
		return nil, &ErrMultipleRequired{Tools: required}
	}

	out := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if enabled[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func (p Policy) lastMatch(name string) (Action, bool) {
	var action Action
	matched := false
	for _, r := range p.Rules {
		if r.Pattern.MatchString(name) {
			action = r.Action
			matched = true
		}
	}
	return action, matched
}

// Mode names the canonical policies spec.md §4.8 prescribes.
type Mode string

const (
	ModePlan Mode = "plan"
	ModeExec Mode = "exec"
)

//go:embed policies.hjson
var embeddedPolicies []byte

// policyDocEntry is the on-disk HJSON shape for one mode's policy: a flat
// list of {pattern, action} rules, last-match-wins per Policy.Apply.
type policyDocEntry struct {
	Mode  string         `json:"mode"`
	Rules []ruleDocEntry `json:"rules"`
}

type ruleDocEntry struct {
	Pattern string `json:"pattern"`
	Action  string `json:"action"`
}

// parsePolicyDocument normalizes HJSON to JSON then unmarshals to a typed
// struct, the same two-step trellis' config.Loader.Load uses to let
// operators comment their files (internal/slashcmd.LoadDefinitions instead
// unmarshals HJSON straight into its typed struct).
func parsePolicyDocument(data []byte) (map[Mode]Policy, error) {
	var raw interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}
	var entries []policyDocEntry
	if err := json.Unmarshal(jsonData, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal policy document: %w", err)
	}

	out := make(map[Mode]Policy, len(entries))
	for _, entry := range entries {
		rules := make([]Rule, 0, len(entry.Rules))
		for _, r := range entry.Rules {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", r.Pattern, err)
			}
			rules = append(rules, Rule{Pattern: re, Action: Action(r.Action)})
		}
		out[Mode(entry.Mode)] = Policy{Rules: rules}
	}
	return out, nil
}

var (
	policiesMu sync.RWMutex
	policies   map[Mode]Policy
)

func init() {
	parsed, err := parsePolicyDocument(embeddedPolicies)
	if err != nil {
		panic(fmt.Sprintf("toolpolicy: embedded policies.hjson: %v", err))
	}
	policies = parsed
}

// LoadOverride reads an operator policy file (the same HJSON shape as the
// embedded canonical document) and replaces any mode it defines. A missing
// file is not an error: it means no override is configured, per
// SPEC_FULL.md §6.8's "operator can override via ~/.cmux/policies.hjson".
func LoadOverride(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("toolpolicy: read override: %w", err)
	}
	override, err := parsePolicyDocument(data)
	if err != nil {
		return fmt.Errorf("toolpolicy: parse override %s: %w", path, err)
	}

	policiesMu.Lock()
	defer policiesMu.Unlock()
	for mode, p := range override {
		policies[mode] = p
	}
	return nil
}

// PolicyForMode returns the canonical Policy for mode, as authored in the
// embedded policies.hjson document and possibly replaced by an operator's
// LoadOverride call.
func PolicyForMode(mode Mode) Policy {
	policiesMu.RLock()
	defer policiesMu.RUnlock()
	return policies[mode]
}
