// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package toolpolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/coder/cmux-sub011/internal/provider"
	"github.com/coder/cmux-sub011/internal/runtime"
)

// maxToolOutputBytes bounds a single tool result; oversized output is
// truncated with a trailing marker per spec.md §4.6 "Tool dispatch".
const maxToolOutputBytes = 64 * 1024

const truncationMarker = "\n... [output truncated]"

// Handler executes one tool call against rt and returns its JSON result.
type Handler func(ctx context.Context, rt runtime.Runtime, input json.RawMessage) (json.RawMessage, error)

// ToolSpec is one registered tool: its provider-facing definition plus the
// handler that executes it.
type ToolSpec struct {
	Definition provider.ToolDefinition
	Handler    Handler

	// RequiresConfirmation marks a tool whose effects are hard to reverse
	// (it writes or runs something) — stream.Manager.dispatchTool gates
	// these behind AgentSession.RequestConfirmation before calling Execute.
	RequiresConfirmation bool
}

// Registry holds the full tool set available to a session and applies a
// Policy to compute what is offered to the model. It also dispatches
// accepted tool calls, satisfying stream.ToolExecutor structurally.
type Registry struct {
	rt      runtime.Runtime
	tools   map[string]ToolSpec
	policy  Policy
	allowed map[string]bool
}

// NewRegistry builds a Registry bound to rt with the built-in tool set
// registered, then applies policy.
func NewRegistry(rt runtime.Runtime, policy Policy) (*Registry, error) {
	r := &Registry{rt: rt, tools: builtinTools(), policy: policy}
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetPolicy replaces the active policy and recomputes the allowed set.
func (r *Registry) SetPolicy(policy Policy) error {
	r.policy = policy
	return r.refresh()
}

func (r *Registry) refresh() error {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	allowedNames, err := r.policy.Apply(names)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(allowedNames))
	for _, n := range allowedNames {
		allowed[n] = true
	}
	r.allowed = allowed
	return nil
}

// Definitions returns the provider-facing tool definitions currently
// allowed by the active policy, sorted by name for determinism.
func (r *Registry) Definitions() []provider.ToolDefinition {
	names := make([]string, 0, len(r.allowed))
	for name := range r.allowed {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]provider.ToolDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name].Definition)
	}
	return out
}

// RequiresConfirmation reports whether toolName's handler runs with
// caller-approval-gated effects. Unknown tool names report false;
// Execute itself still rejects them.
func (r *Registry) RequiresConfirmation(toolName string) bool {
	return r.tools[toolName].RequiresConfirmation
}

// Execute dispatches toolName with input against rt, clamping oversized
// output. Fails if toolName is unknown or disallowed by the active policy.
func (r *Registry) Execute(ctx context.Context, toolCallID, toolName string, input json.RawMessage) (json.RawMessage, error) {
	spec, known := r.tools[toolName]
	if !known {
		return nil, fmt.Errorf("toolpolicy: unknown tool %q", toolName)
	}
	if !r.allowed[toolName] {
		return nil, fmt.Errorf("toolpolicy: tool %q is not enabled by the active policy", toolName)
	}

	out, err := spec.Handler(ctx, r.rt, input)
	if err != nil {
		return nil, err
	}
	return clampOutput(out), nil
}

func clampOutput(out json.RawMessage) json.RawMessage {
	if len(out) <= maxToolOutputBytes {
		return out
	}
	// The result is a JSON value, not necessarily a string; truncating its
	// raw bytes would produce invalid JSON, so re-wrap as a string result
	// carrying the marker instead.
	clamped, _ := json.Marshal(string(out[:maxToolOutputBytes]) + truncationMarker)
	return clamped
}

func builtinTools() map[string]ToolSpec {
	specs := []ToolSpec{
		{
			Definition: provider.ToolDefinition{
				Name:        "bash",
				Description: "Run a shell command in the workspace and return its output.",
				InputSchema: mustSchema(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"command":     map[string]any{"type": "string"},
						"cwd":         map[string]any{"type": "string"},
						"timeout_secs": map[string]any{"type": "integer"},
						"niceness":    map[string]any{"type": "integer"},
					},
					"required": []string{"command"},
				}),
			},
			Handler:              bashHandler,
			RequiresConfirmation: true,
		},
		{
			Definition: provider.ToolDefinition{
				Name:        "read_file",
				Description: "Read a file's contents from the workspace filesystem.",
				InputSchema: mustSchema(map[string]any{
					"type":       "object",
					"properties": map[string]any{"path": map[string]any{"type": "string"}},
					"required":   []string{"path"},
				}),
			},
			Handler: readFileHandler,
		},
		{
			Definition: provider.ToolDefinition{
				Name:        "write_file",
				Description: "Write (overwrite) a file in the workspace filesystem.",
				InputSchema: mustSchema(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":    map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
					"required": []string{"path", "content"},
				}),
			},
			Handler:              writeFileHandler,
			RequiresConfirmation: true,
		},
		{
			Definition: provider.ToolDefinition{
				Name:        "edit_file",
				Description: "Replace the first occurrence of a string in a file.",
				InputSchema: mustSchema(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":    map[string]any{"type": "string"},
						"search":  map[string]any{"type": "string"},
						"replace": map[string]any{"type": "string"},
					},
					"required": []string{"path", "search", "replace"},
				}),
			},
			Handler:              editFileHandler,
			RequiresConfirmation: true,
		},
		{
			Definition: provider.ToolDefinition{
				Name:        "propose_plan",
				Description: "Submit a proposed plan for the user's approval before any edits are made.",
				InputSchema: mustSchema(map[string]any{
					"type":       "object",
					"properties": map[string]any{"plan": map[string]any{"type": "string"}},
					"required":   []string{"plan"},
				}),
			},
			Handler: proposePlanHandler,
		},
		{
			Definition: provider.ToolDefinition{
				Name:        "compact",
				Description: "Summarize and compact the conversation history to free context.",
			},
			Handler: compactHandler,
		},
		{
			Definition: provider.ToolDefinition{
				Name:        "web_search",
				Description: "Search the web and return a list of results.",
				InputSchema: mustSchema(map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
					"required":   []string{"query"},
				}),
			},
			Handler: webSearchHandler,
		},
	}

	out := make(map[string]ToolSpec, len(specs))
	for _, s := range specs {
		out[s.Definition.Name] = s
	}
	return out
}

func mustSchema(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type bashInput struct {
	Command     string `json:"command"`
	Cwd         string `json:"cwd"`
	TimeoutSecs int    `json:"timeout_secs"`
	Niceness    int    `json:"niceness"`
}

type bashOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

func bashHandler(ctx context.Context, rt runtime.Runtime, input json.RawMessage) (json.RawMessage, error) {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("bash: invalid input: %w", err)
	}
	opts := runtime.ExecOptions{
		Cwd:      in.Cwd,
		Niceness: in.Niceness,
	}
	if in.TimeoutSecs > 0 {
		opts.Timeout = time.Duration(in.TimeoutSecs) * time.Second
	}
	res, err := rt.Exec(ctx, "sh", []string{"-c", in.Command}, opts)
	if err != nil {
		return nil, fmt.Errorf("bash: %w", err)
	}
	return mustSchema(bashOutput{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}), nil
}

func readFileHandler(ctx context.Context, rt runtime.Runtime, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("read_file: invalid input: %w", err)
	}
	rc, err := rt.ReadFile(ctx, in.Path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	return mustSchema(map[string]string{"content": string(data)}), nil
}

func writeFileHandler(ctx context.Context, rt runtime.Runtime, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("write_file: invalid input: %w", err)
	}
	if err := rt.WriteFile(ctx, in.Path, strings.NewReader(in.Content)); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return mustSchema(map[string]bool{"ok": true}), nil
}

func editFileHandler(ctx context.Context, rt runtime.Runtime, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Path    string `json:"path"`
		Search  string `json:"search"`
		Replace string `json:"replace"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("edit_file: invalid input: %w", err)
	}
	rc, err := rt.ReadFile(ctx, in.Path)
	if err != nil {
		return nil, fmt.Errorf("edit_file: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("edit_file: %w", err)
	}

	content := string(data)
	idx := strings.Index(content, in.Search)
	if idx < 0 {
		return nil, fmt.Errorf("edit_file: search string not found in %s", in.Path)
	}
	updated := content[:idx] + in.Replace + content[idx+len(in.Search):]

	if err := rt.WriteFile(ctx, in.Path, strings.NewReader(updated)); err != nil {
		return nil, fmt.Errorf("edit_file: %w", err)
	}
	return mustSchema(map[string]bool{"ok": true}), nil
}

func proposePlanHandler(_ context.Context, _ runtime.Runtime, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Plan string `json:"plan"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("propose_plan: invalid input: %w", err)
	}
	return mustSchema(map[string]string{"status": "awaiting-approval"}), nil
}

func compactHandler(_ context.Context, _ runtime.Runtime, _ json.RawMessage) (json.RawMessage, error) {
	return mustSchema(map[string]string{"status": "compacted"}), nil
}

func webSearchHandler(_ context.Context, _ runtime.Runtime, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("web_search: invalid input: %w", err)
	}
	// No concrete search backend is in scope (spec.md §1 excludes "provider
	// SDK wire formats"); this registers the contract and returns an empty
	// result set rather than a live lookup.
	return mustSchema(map[string]any{"query": in.Query, "results": []any{}}), nil
}

