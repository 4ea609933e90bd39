// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mock implements provider.Client deterministically, so the stream
// manager and agent session can be exercised against the scripted scenarios
// without a real model backend.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/coder/cmux-sub011/internal/provider"
)

// Script is a scripted response for one model: a sequence of chunks,
// optionally followed by a terminal error instead of a clean io.EOF.
type Script struct {
	Chunks []provider.StreamChunk
	Err    error

	// Delay is applied before each chunk is yielded, simulating network
	// arrival spacing so interrupt scenarios have a window to fire in.
	Delay time.Duration
}

// plannerScript is scenario S1: "List 3 programming languages" answered as
// four text deltas.
func plannerScript() Script {
	return Script{
		Delay: 5 * time.Millisecond,
		Chunks: []provider.StreamChunk{
			{Type: provider.ChunkTextDelta, TextDelta: "Here are three programming languages:\n"},
			{Type: provider.ChunkTextDelta, TextDelta: "1. Python\n"},
			{Type: provider.ChunkTextDelta, TextDelta: "2. JavaScript\n"},
			{Type: provider.ChunkTextDelta, TextDelta: "3. Rust"},
		},
	}
}

// ErrAuthentication is the terminal error a script returns for scenario S4.
// It is the shared provider.ErrAuthentication sentinel so the stream
// manager's classifier recognizes it the same way a real adapter's error
// would be recognized.
var ErrAuthentication = provider.ErrAuthentication

// Client is a provider.Client backed by per-model scripts.
type Client struct {
	mu      sync.Mutex
	scripts map[string]Script
}

// New returns a Client preloaded with the default "mock:planner" script.
func New() *Client {
	return &Client{scripts: map[string]Script{
		"mock:planner": plannerScript(),
	}}
}

// SetScript registers (or replaces) the script driven for model.
func (c *Client) SetScript(model string, s Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = cloneScripts(c.scripts)
	c.scripts[model] = s
}

func cloneScripts(in map[string]Script) map[string]Script {
	out := make(map[string]Script, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Stream implements provider.Client.
func (c *Client) Stream(ctx context.Context, req provider.StreamRequest) (provider.Stream, error) {
	c.mu.Lock()
	script, ok := c.scripts[req.Model]
	c.mu.Unlock()
	if !ok {
		return nil, errors.New("mock: no script registered for model " + req.Model)
	}

	return &stream{script: script}, nil
}

type stream struct {
	script Script
	idx    int
}

// Next implements provider.Stream. It yields the next scripted chunk,
// sleeping for script.Delay first (interruptible by ctx), then io.EOF or
// script.Err once exhausted.
func (s *stream) Next(ctx context.Context) (provider.StreamChunk, error) {
	if s.idx >= len(s.script.Chunks) {
		if s.script.Err != nil {
			return provider.StreamChunk{}, s.script.Err
		}
		return provider.StreamChunk{}, io.EOF
	}

	if s.script.Delay > 0 {
		select {
		case <-ctx.Done():
			return provider.StreamChunk{}, ctx.Err()
		case <-time.After(s.script.Delay):
		}
	}

	chunk := s.script.Chunks[s.idx]
	s.idx++
	return chunk, nil
}

func (s *stream) Close() error { return nil }
