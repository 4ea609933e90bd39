// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package slashcmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hjson/hjson-go/v4"
)

// Handler runs a resolved command against its arguments.
type Handler func(ctx context.Context, args []string) (string, error)

// Suggest returns completion candidates for a partially typed token.
type Suggest func(partial string) []string

// Definition is one entry in the registry (spec.md §6): a key, its
// description, optional nested subcommands, an optional handler, an
// optional suggestion source, and whether accepting it should append a
// trailing space to the input (set for leaf commands, cleared for
// commands with children so the user can keep typing a subcommand).
type Definition struct {
	Key         string
	Description string
	Children    []Definition
	Handler     Handler
	Suggestions Suggest
	AppendSpace bool
}

// Registry holds the set of top-level slash command definitions.
type Registry struct {
	defs map[string]Definition
	keys []string
}

// NewRegistry builds a Registry from a list of top-level definitions.
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.defs[d.Key] = d
		r.keys = append(r.keys, d.Key)
	}
	sort.Strings(r.keys)
	return r
}

// Definitions returns the top-level definitions in key order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.defs[k])
	}
	return out
}

// definitionFileEntry is the on-disk HJSON shape for a registry file
// (SPEC_FULL.md §6.12): a flat list of top-level commands with optional
// nested children, no handlers or suggestion functions (those are wired
// in code after load, keyed by Key).
type definitionFileEntry struct {
	Key         string                 `json:"key"`
	Description string                 `json:"description"`
	AppendSpace bool                   `json:"appendSpace"`
	Children    []definitionFileEntry  `json:"children,omitempty"`
}

// LoadDefinitions reads a registry file in HJSON format and returns the
// bare definitions it describes (handlers and suggestion sources absent;
// callers attach those after loading via WithHandler/WithSuggestions).
func LoadDefinitions(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("slashcmd: read registry file: %w", err)
	}
	var entries []definitionFileEntry
	if err := hjson.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("slashcmd: parse registry file: %w", err)
	}
	return toDefinitions(entries), nil
}

func toDefinitions(entries []definitionFileEntry) []Definition {
	out := make([]Definition, 0, len(entries))
	for _, e := range entries {
		out = append(out, Definition{
			Key:         e.Key,
			Description: e.Description,
			AppendSpace: e.AppendSpace,
			Children:    toDefinitions(e.Children),
		})
	}
	return out
}

// WithHandler returns a copy of defs with handler attached to the
// top-level or nested definition matching key path (e.g. "model set").
func WithHandler(defs []Definition, keyPath string, handler Handler) []Definition {
	return mapDefinition(defs, keyPath, func(d Definition) Definition {
		d.Handler = handler
		return d
	})
}

// WithSuggestions attaches a suggestion source the same way WithHandler
// attaches a handler.
func WithSuggestions(defs []Definition, keyPath string, suggest Suggest) []Definition {
	return mapDefinition(defs, keyPath, func(d Definition) Definition {
		d.Suggestions = suggest
		return d
	})
}

func mapDefinition(defs []Definition, keyPath string, fn func(Definition) Definition) []Definition {
	tokens, _ := Tokenize(keyPath)
	out := make([]Definition, len(defs))
	copy(out, defs)
	if len(tokens) == 0 {
		return out
	}
	for i, d := range out {
		if d.Key != tokens[0] {
			continue
		}
		if len(tokens) == 1 {
			out[i] = fn(d)
		} else {
			rest := tokens[1:]
			joined := ""
			for j, t := range rest {
				if j > 0 {
					joined += " "
				}
				joined += t
			}
			d.Children = mapDefinition(d.Children, joined, fn)
			out[i] = d
		}
		return out
	}
	return out
}
