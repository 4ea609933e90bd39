// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokenizer implements the unified Tokenizer contract spec.md §9
// calls for: load per-model encoders synchronously at startup, falling back
// to a ceil(len/4) approximation if no encoder is registered for a model.
package tokenizer

import (
	"strings"
	"sync"
)

// Tokenizer counts tokens in text. Name identifies which encoding backs the
// count (e.g. "cl100k_base", "approximate") for display purposes.
type Tokenizer struct {
	name  string
	count func(string) int
}

// Name reports which encoding this Tokenizer uses.
func (t Tokenizer) Name() string { return t.name }

// Count returns the token count for text.
func (t Tokenizer) Count(text string) int {
	if t.count == nil {
		return approximate(text)
	}
	return t.count(text)
}

// approximate is the fallback used when no encoder is loaded for a model:
// ceil(len(text)/4).
func approximate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Approximate returns a Tokenizer backed only by the ceil(len/4)
// approximation, used for any model with no registered encoder.
func Approximate() Tokenizer {
	return Tokenizer{name: "approximate", count: approximate}
}

// EncoderFunc counts tokens for one specific model family's encoding.
type EncoderFunc func(text string) int

// Registry resolves a model string to the Tokenizer that should count its
// tokens, falling back to Approximate() for unrecognized models. Encoders
// are registered once at startup (spec.md §9 "load synchronously at
// startup"); Registry itself holds no mutable state after construction
// beyond the lookup map, so ForModel is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	encoders map[string]Tokenizer
	matchers []modelMatcher
}

type modelMatcher struct {
	prefix string
	tok    Tokenizer
}

// NewRegistry returns an empty Registry; call Register to add encoders.
func NewRegistry() *Registry {
	return &Registry{encoders: make(map[string]Tokenizer)}
}

// Register binds an exact model string to a Tokenizer.
func (r *Registry) Register(model string, name string, count EncoderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[model] = Tokenizer{name: name, count: count}
}

// RegisterPrefix binds every model string starting with prefix to a
// Tokenizer, for provider families that share one encoding across model
// variants (e.g. all "anthropic/..." models).
func (r *Registry) RegisterPrefix(prefix string, name string, count EncoderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers = append(r.matchers, modelMatcher{prefix: prefix, tok: Tokenizer{name: name, count: count}})
}

// ForModel returns the Tokenizer registered for model, the longest matching
// prefix's Tokenizer, or Approximate() if nothing matches.
func (r *Registry) ForModel(model string) Tokenizer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tok, ok := r.encoders[model]; ok {
		return tok
	}

	best := -1
	var bestTok Tokenizer
	for _, m := range r.matchers {
		if strings.HasPrefix(model, m.prefix) && len(m.prefix) > best {
			best = len(m.prefix)
			bestTok = m.tok
		}
	}
	if best >= 0 {
		return bestTok
	}
	return Approximate()
}
