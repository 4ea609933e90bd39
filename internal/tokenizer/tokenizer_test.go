// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproximate_CeilsLenOverFour(t *testing.T) {
	assert.Equal(t, 0, Approximate().Count(""))
	assert.Equal(t, 1, Approximate().Count("abcd"))
	assert.Equal(t, 2, Approximate().Count("abcde"))
	assert.Equal(t, 3, Approximate().Count("123456789"))
}

func TestRegistry_ForModel_ExactMatch(t *testing.T) {
	r := NewRegistry()
	r.Register("mock:planner", "mock-exact", func(s string) int { return len(s) })

	tok := r.ForModel("mock:planner")
	assert.Equal(t, "mock-exact", tok.Name())
	assert.Equal(t, 5, tok.Count("hello"))
}

func TestRegistry_ForModel_PrefixMatch(t *testing.T) {
	r := NewRegistry()
	r.RegisterPrefix("anthropic/", "anthropic-cl100k", func(s string) int { return len(s) * 2 })

	tok := r.ForModel("anthropic/claude-opus-4")
	assert.Equal(t, "anthropic-cl100k", tok.Name())
	assert.Equal(t, 10, tok.Count("abcde"))
}

func TestRegistry_ForModel_LongestPrefixWins(t *testing.T) {
	r := NewRegistry()
	r.RegisterPrefix("anthropic/", "generic", func(s string) int { return 1 })
	r.RegisterPrefix("anthropic/claude-opus", "opus-specific", func(s string) int { return 2 })

	tok := r.ForModel("anthropic/claude-opus-4")
	assert.Equal(t, "opus-specific", tok.Name())
}

func TestRegistry_ForModel_FallsBackToApproximate(t *testing.T) {
	r := NewRegistry()
	tok := r.ForModel("unknown/model")
	assert.Equal(t, "approximate", tok.Name())
	assert.Equal(t, Approximate().Count("hello world"), tok.Count("hello world"))
}
