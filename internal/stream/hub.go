// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import "sync"

// subscriberBufferSize bounds how many undelivered events a slow subscriber
// can accumulate before events start getting dropped for it.
const subscriberBufferSize = 100

// Hub is a per-workspace broadcast point: any number of subscribers receive
// every event published, each over its own bounded channel so one slow
// reader can't back-pressure the others or the publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Subscribe returns a new channel that receives every subsequently
// published event. The caller must eventually call Unsubscribe.
func (h *Hub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBufferSize)
	h.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch. Safe to call more than once.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; ok {
		delete(h.subscribers, ch)
		close(ch)
	}
}

// Publish fans event out to every current subscriber. A subscriber whose
// buffer is full has the event dropped rather than blocking the publisher.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// CloseAll closes and removes every subscriber, used when a workspace is
// torn down.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = make(map[chan Event]struct{})
}

// SubscriberCount reports the current number of live subscribers; used by
// tests and diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
