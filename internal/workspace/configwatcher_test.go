// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/events"
)

func TestConfigWatcher_ReloadsOnExternalWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	store, err := cmuxconfig.New(path)
	require.NoError(t, err)
	require.Empty(t, store.ListProjects())

	bus := newTestBus(t)

	reloaded := make(chan struct{}, 4)
	_, err = bus.SubscribeAsync(EventConfigReloaded, func(ctx context.Context, ev events.Event) error {
		reloaded <- struct{}{}
		return nil
	}, 4)
	require.NoError(t, err)

	w, err := NewConfigWatcher(store, bus, path, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	other, err := cmuxconfig.New(path)
	require.NoError(t, err)
	require.NoError(t, other.UpsertProject("/tmp/some-project"))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload event")
	}

	require.Len(t, store.ListProjects(), 1)
	require.Equal(t, "/tmp/some-project", store.ListProjects()[0].Path)
}

func TestConfigWatcher_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	store, err := cmuxconfig.New(path)
	require.NoError(t, err)

	w, err := NewConfigWatcher(store, nil, path, 10*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
