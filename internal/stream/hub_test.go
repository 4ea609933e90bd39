// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubFanOutToMultipleSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()
	require.Equal(t, 2, h.SubscriberCount())

	h.Publish(Event{Type: EventStreamDelta, Delta: "hi"})

	ea := <-a
	eb := <-b
	require.Equal(t, "hi", ea.Delta)
	require.Equal(t, "hi", eb.Delta)
}

func TestHubDropsOnFullBuffer(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()

	for i := 0; i < subscriberBufferSize+10; i++ {
		h.Publish(Event{Type: EventStreamDelta, Delta: "x"})
	}

	require.Len(t, ch, subscriberBufferSize)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, h.SubscriberCount())
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)
	require.NotPanics(t, func() { h.Unsubscribe(ch) })
}
