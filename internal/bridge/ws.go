// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coder/cmux-sub011/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	channelChat     = "workspace:chat"
	channelMetadata = "workspace:metadata"
)

// wsFrame is a subscribe/unsubscribe frame per spec.md §6:
// `{type, channel, workspaceId?}`.
type wsFrame struct {
	Type        string `json:"type"`
	Channel     string `json:"channel"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// wsEnvelope wraps every event pushed down the socket with the channel (and
// workspace, for per-workspace channels) it was published on, so one socket
// can multiplex several subscriptions.
type wsEnvelope struct {
	Channel     string      `json:"channel"`
	WorkspaceID string      `json:"workspaceId,omitempty"`
	Event       interface{} `json:"event"`
}

// subscription key identifies one active subscription on a connection:
// channel name plus (for workspace:chat) the workspace it targets.
type subKey struct {
	channel     string
	workspaceID string
}

func wsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan wsEnvelope, 256)
		var mu sync.Mutex
		cancels := make(map[subKey]context.CancelFunc)

		defer func() {
			mu.Lock()
			for _, c := range cancels {
				c()
			}
			mu.Unlock()
		}()

		go writeLoop(conn, out, ctx.Done())

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		pingTicker := time.NewTicker(54 * time.Second)
		defer pingTicker.Stop()
		go func() {
			for {
				select {
				case <-pingTicker.C:
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}

			key := subKey{channel: frame.Channel, workspaceID: frame.WorkspaceID}
			switch frame.Type {
			case "subscribe":
				subCtx, subCancel := context.WithCancel(ctx)
				mu.Lock()
				if prior, ok := cancels[key]; ok {
					prior()
				}
				cancels[key] = subCancel
				mu.Unlock()
				go runSubscription(subCtx, deps, frame, out)
			case "unsubscribe":
				mu.Lock()
				if c, ok := cancels[key]; ok {
					c()
					delete(cancels, key)
				}
				mu.Unlock()
			}
		}
	}
}

func writeLoop(conn *websocket.Conn, out <-chan wsEnvelope, done <-chan struct{}) {
	for {
		select {
		case env, ok := <-out:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func runSubscription(ctx context.Context, deps Dependencies, frame wsFrame, out chan<- wsEnvelope) {
	switch frame.Channel {
	case channelChat:
		runChatSubscription(ctx, deps, frame.WorkspaceID, out)
	case channelMetadata:
		runMetadataSubscription(ctx, deps, out)
	}
}

func runChatSubscription(ctx context.Context, deps Dependencies, workspaceID string, out chan<- wsEnvelope) {
	if deps.ChatHub == nil {
		return
	}
	hub, found := deps.ChatHub(workspaceID)
	if !found {
		return
	}
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			send(out, wsEnvelope{Channel: channelChat, WorkspaceID: workspaceID, Event: e})
		case <-ctx.Done():
			return
		}
	}
}

func runMetadataSubscription(ctx context.Context, deps Dependencies, out chan<- wsEnvelope) {
	if deps.EventBus == nil {
		return
	}
	evCh := make(chan events.Event, 256)
	subID, err := deps.EventBus.SubscribeAsync("workspace.*", func(_ context.Context, ev events.Event) error {
		select {
		case evCh <- ev:
		default:
		}
		return nil
	}, 256)
	if err != nil {
		return
	}
	defer deps.EventBus.Unsubscribe(subID)

	for {
		select {
		case ev := <-evCh:
			send(out, wsEnvelope{Channel: channelMetadata, Event: ev})
		case <-ctx.Done():
			return
		}
	}
}

func send(out chan<- wsEnvelope, env wsEnvelope) {
	select {
	case out <- env:
	default:
		// subscriber-lagged: drop rather than block the publisher
		// (spec.md §4.6's backpressure policy, applied at the bridge too).
	}
}
