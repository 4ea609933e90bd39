// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coder/cmux-sub011/internal/historystore"
	"github.com/coder/cmux-sub011/internal/partialstore"
	"github.com/coder/cmux-sub011/internal/provider"
	"github.com/coder/cmux-sub011/internal/provider/mock"
)

func newStores(t *testing.T) (*historystore.Store, *partialstore.Store) {
	t.Helper()
	h := historystore.New(t.TempDir(), nil)
	p := partialstore.New(t.TempDir(), h)
	return h, p
}

func drain(t *testing.T, ch chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			out = append(out, e)
			if e.Type == EventStreamEnd || e.Type == EventStreamAbort || e.Type == EventStreamError {
				return out
			}
		case <-deadline:
			return out
		}
	}
}

func TestManagerHappyPathCommitsScenarioS1(t *testing.T) {
	_, partial := newStores(t)
	hub := NewHub()
	sub := hub.Subscribe()
	m := New("ws-1", hub, partial, nil)

	client := mock.New()
	req := StartRequest{
		MessageID:       uuid.NewString(),
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:planner"},
	}

	err := m.Start(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StateIdle, m.State())

	events := drain(t, sub, 2*time.Second)
	require.NotEmpty(t, events)
	require.Equal(t, EventStreamStart, events[0].Type)

	var deltas []string
	var end *Event
	for i := range events {
		switch events[i].Type {
		case EventStreamDelta:
			deltas = append(deltas, events[i].Delta)
		case EventStreamEnd:
			end = &events[i]
		}
	}
	require.Equal(t, []string{
		"Here are three programming languages:\n",
		"1. Python\n",
		"2. JavaScript\n",
		"3. Rust",
	}, deltas)

	require.NotNil(t, end)
	require.NotNil(t, end.FinalMessage)
	require.Equal(t, "Here are three programming languages:\n1. Python\n2. JavaScript\n3. Rust", end.FinalMessage.Text())
	require.False(t, end.FinalMessage.Metadata.Partial)
}

func TestManagerInterruptProducesAbortAndPreservesPartial(t *testing.T) {
	history, partial := newStores(t)
	hub := NewHub()
	sub := hub.Subscribe()
	m := New("ws-2", hub, partial, nil)

	client := mock.New()
	client.SetScript("mock:slow", mock.Script{
		Delay: 50 * time.Millisecond,
		Chunks: []provider.StreamChunk{
			{Type: provider.ChunkTextDelta, TextDelta: "partial answer"},
			{Type: provider.ChunkTextDelta, TextDelta: " more text"},
			{Type: provider.ChunkTextDelta, TextDelta: " even more"},
		},
	})

	msgID := uuid.NewString()
	req := StartRequest{
		MessageID:       msgID,
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:slow"},
	}

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background(), req) }()

	// Let the first delta land, then interrupt.
	time.Sleep(75 * time.Millisecond)
	m.Abort()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return within 2s of Abort")
	}

	events := drain(t, sub, 2*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventStreamAbort, last.Type)

	p, err := partial.ReadPartial("ws-2")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.Metadata.Partial)
	require.Equal(t, msgID, p.ID)

	msgs, err := history.Get("ws-2")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestManagerScriptedAuthenticationErrorYieldsStreamError(t *testing.T) {
	_, partial := newStores(t)
	hub := NewHub()
	sub := hub.Subscribe()
	m := New("ws-3", hub, partial, nil)

	client := mock.New()
	client.SetScript("mock:broken", mock.Script{
		Chunks: []provider.StreamChunk{
			{Type: provider.ChunkTextDelta, TextDelta: "start of a reply"},
		},
		Err: mock.ErrAuthentication,
	})

	req := StartRequest{
		MessageID:       uuid.NewString(),
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:broken"},
	}

	err := m.Start(context.Background(), req)
	require.Error(t, err)

	events := drain(t, sub, 2*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventStreamError, last.Type)
	require.Equal(t, ErrTypeAuthentication, last.ErrorType)
}

func TestManagerRejectsConcurrentStart(t *testing.T) {
	_, partial := newStores(t)
	hub := NewHub()
	m := New("ws-4", hub, partial, nil)

	client := mock.New()
	client.SetScript("mock:slow2", mock.Script{
		Delay:  100 * time.Millisecond,
		Chunks: []provider.StreamChunk{{Type: provider.ChunkTextDelta, TextDelta: "x"}},
	})

	req := StartRequest{
		MessageID:       uuid.NewString(),
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:slow2"},
	}

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background(), req) }()
	time.Sleep(10 * time.Millisecond)

	err := m.Start(context.Background(), StartRequest{
		MessageID:       uuid.NewString(),
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:slow2"},
	})
	require.ErrorIs(t, err, ErrAlreadyStreaming)

	<-done
}

func TestManagerReplayIsGaplessAcrossSubscribe(t *testing.T) {
	_, partial := newStores(t)
	hub := NewHub()
	m := New("ws-5", hub, partial, nil)

	client := mock.New()
	req := StartRequest{
		MessageID:       uuid.NewString(),
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:planner"},
	}

	require.NoError(t, m.Start(context.Background(), req))

	buffered, live := m.Replay()
	require.NotEmpty(t, buffered)
	require.Equal(t, EventStreamStart, buffered[0].Type)
	require.Equal(t, EventStreamEnd, buffered[len(buffered)-1].Type)

	select {
	case _, ok := <-live:
		require.True(t, ok, "live channel should not be closed immediately")
	default:
	}
}

type fakeToolExecutor struct {
	concurrent int32
	maxSeen    int32
	delay      time.Duration
}

func (f *fakeToolExecutor) Execute(ctx context.Context, toolCallID, toolName string, input json.RawMessage) (json.RawMessage, error) {
	n := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		cur := atomic.LoadInt32(&f.maxSeen)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxSeen, cur, n) {
			break
		}
	}
	time.Sleep(f.delay)
	return json.RawMessage(`{"ok":true}`), nil
}

func TestManagerBoundsToolConcurrencyByParallelToolCalls(t *testing.T) {
	_, partial := newStores(t)
	hub := NewHub()
	sub := hub.Subscribe()
	m := New("ws-6", hub, partial, nil)

	client := mock.New()
	chunks := []provider.StreamChunk{}
	for i := 0; i < 4; i++ {
		id := uuid.NewString()
		chunks = append(chunks,
			provider.StreamChunk{Type: provider.ChunkToolCallStart, ToolCallID: id, ToolName: "noop", ToolInputJSON: `{}`},
			provider.StreamChunk{Type: provider.ChunkToolCallEnd, ToolCallID: id, ToolInputJSON: `{}`},
		)
	}
	client.SetScript("mock:tools", mock.Script{Chunks: chunks})

	exec := &fakeToolExecutor{delay: 40 * time.Millisecond}
	req := StartRequest{
		MessageID:         uuid.NewString(),
		Client:            client,
		ProviderRequest:   provider.StreamRequest{Model: "mock:tools"},
		Tools:             exec,
		ParallelToolCalls: 2,
	}

	require.NoError(t, m.Start(context.Background(), req))
	drain(t, sub, 2*time.Second)

	require.LessOrEqual(t, atomic.LoadInt32(&exec.maxSeen), int32(2))
}

// gatedToolExecutor requires confirmation for every tool name it's told to,
// and records whether Execute ever actually ran.
type gatedToolExecutor struct {
	gated map[string]bool
	ran   int32
}

func (f *gatedToolExecutor) RequiresConfirmation(toolName string) bool { return f.gated[toolName] }

func (f *gatedToolExecutor) Execute(ctx context.Context, toolCallID, toolName string, input json.RawMessage) (json.RawMessage, error) {
	atomic.AddInt32(&f.ran, 1)
	return json.RawMessage(`{"ok":true}`), nil
}

// fakeConfirmationGate answers every RequestConfirmation with a fixed verdict.
type fakeConfirmationGate struct{ approve bool }

func (g fakeConfirmationGate) RequestConfirmation(toolCallID string) <-chan bool {
	ch := make(chan bool, 1)
	ch <- g.approve
	return ch
}

func TestManagerGatesConfirmationRequiredToolBehindApproval(t *testing.T) {
	_, partial := newStores(t)
	hub := NewHub()
	sub := hub.Subscribe()
	m := New("ws-7", hub, partial, nil)

	client := mock.New()
	toolCallID := uuid.NewString()
	client.SetScript("mock:tools", mock.Script{Chunks: []provider.StreamChunk{
		{Type: provider.ChunkToolCallStart, ToolCallID: toolCallID, ToolName: "bash", ToolInputJSON: `{}`},
		{Type: provider.ChunkToolCallEnd, ToolCallID: toolCallID, ToolInputJSON: `{}`},
	}})

	exec := &gatedToolExecutor{gated: map[string]bool{"bash": true}}
	req := StartRequest{
		MessageID:       uuid.NewString(),
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:tools"},
		Tools:           exec,
		Confirm:         fakeConfirmationGate{approve: true},
	}

	require.NoError(t, m.Start(context.Background(), req))
	events := drain(t, sub, 2*time.Second)

	var sawConfirm bool
	for _, e := range events {
		if e.Type == EventToolCallConfirm {
			sawConfirm = true
		}
	}
	require.True(t, sawConfirm, "expected a tool-call-confirmation-required event")
	require.Equal(t, int32(1), atomic.LoadInt32(&exec.ran), "approved tool call should still execute")
}

func TestManagerDeniesConfirmationRequiredToolWithoutGate(t *testing.T) {
	_, partial := newStores(t)
	hub := NewHub()
	sub := hub.Subscribe()
	m := New("ws-8", hub, partial, nil)

	client := mock.New()
	toolCallID := uuid.NewString()
	client.SetScript("mock:tools", mock.Script{Chunks: []provider.StreamChunk{
		{Type: provider.ChunkToolCallStart, ToolCallID: toolCallID, ToolName: "bash", ToolInputJSON: `{}`},
		{Type: provider.ChunkToolCallEnd, ToolCallID: toolCallID, ToolInputJSON: `{}`},
	}})

	exec := &gatedToolExecutor{gated: map[string]bool{"bash": true}}
	req := StartRequest{
		MessageID:       uuid.NewString(),
		Client:          client,
		ProviderRequest: provider.StreamRequest{Model: "mock:tools"},
		Tools:           exec,
	}

	require.NoError(t, m.Start(context.Background(), req))
	drain(t, sub, 2*time.Second)

	require.Equal(t, int32(0), atomic.LoadInt32(&exec.ran), "unattended tool call without a confirmation gate must not run")
}
