// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package e2e drives the cmux daemon end to end through its HTTP bridge,
// the way a real client would, rather than unit-testing any one package.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder/cmux-sub011/internal/app"
)

type ipcResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func postIPC(t *testing.T, srv *httptest.Server, channel string, args ...interface{}) ipcResponse {
	t.Helper()
	if args == nil {
		args = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{"args": args})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/ipc/"+channel, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env ipcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func gitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "init")
	return dir
}

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CMUX_TEST_ROOT", home)

	a, err := app.New(app.Options{Host: "127.0.0.1", Port: 0, Version: "test"})
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// TestE2E_ProjectAndWorkspaceLifecycle drives project registration,
// workspace creation over a real git worktree, bash execution inside it,
// and teardown entirely through the bridge's HTTP surface (spec.md §6).
func TestE2E_ProjectAndWorkspaceLifecycle(t *testing.T) {
	srv := newTestApp(t)
	repo := gitRepo(t)
	srcBase := t.TempDir()

	created := postIPC(t, srv, "projects.create", repo)
	require.True(t, created.Success, created.Error)

	listed := postIPC(t, srv, "projects.list")
	require.True(t, listed.Success)
	var projects []map[string]interface{}
	require.NoError(t, json.Unmarshal(listed.Data, &projects))
	require.Len(t, projects, 1)

	wsResp := postIPC(t, srv, "workspace.create", repo, "feature-a", "main", map[string]interface{}{
		"kind":       "local",
		"srcBaseDir": srcBase,
	})
	require.True(t, wsResp.Success, wsResp.Error)
	var ws struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		WorkspacePath string `json:"workspacePath"`
	}
	require.NoError(t, json.Unmarshal(wsResp.Data, &ws))
	assert.Equal(t, "feature-a", ws.Name)
	assert.DirExists(t, ws.WorkspacePath)

	info := postIPC(t, srv, "workspace.getInfo", ws.ID)
	require.True(t, info.Success, info.Error)
	var infoData struct {
		WorkspaceID string `json:"workspaceId"`
		Name        string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(info.Data, &infoData))
	assert.Equal(t, ws.ID, infoData.WorkspaceID)

	bashResp := postIPC(t, srv, "workspace.executeBash", ws.ID, "echo hello-from-workspace")
	require.True(t, bashResp.Success, bashResp.Error)
	var bashData struct {
		Stdout string `json:"Stdout"`
	}
	require.NoError(t, json.Unmarshal(bashResp.Data, &bashData))
	assert.Contains(t, bashData.Stdout, "hello-from-workspace")

	// Sending a message against a provider with no configured API key
	// surfaces session's api_key_not_found classification through the
	// bridge as a {success:false} envelope, not an HTTP error status.
	sendResp := postIPC(t, srv, "workspace.sendMessage", ws.ID, "hello", map[string]interface{}{
		"model": "anthropic/claude-test",
	})
	assert.False(t, sendResp.Success)
	assert.Contains(t, sendResp.Error, "api_key_not_found")

	interruptResp := postIPC(t, srv, "workspace.interruptStream", ws.ID)
	assert.True(t, interruptResp.Success, interruptResp.Error)

	// Removal archives the workspace rather than deleting it outright: the
	// worktree survives cmux's grace window, and getInfo still resolves it
	// (now carrying an archivedAt timestamp) until a daemon startup after
	// the grace window purges it.
	removeResp := postIPC(t, srv, "workspace.remove", ws.ID, true)
	require.True(t, removeResp.Success, removeResp.Error)
	assert.DirExists(t, ws.WorkspacePath)

	infoAfterRemove := postIPC(t, srv, "workspace.getInfo", ws.ID)
	require.True(t, infoAfterRemove.Success, infoAfterRemove.Error)
	var infoAfterRemoveData struct {
		ArchivedAt *time.Time `json:"archivedAt"`
	}
	require.NoError(t, json.Unmarshal(infoAfterRemove.Data, &infoAfterRemoveData))
	require.NotNil(t, infoAfterRemoveData.ArchivedAt)
}

func TestE2E_ProvidersSetThenSendMessageResolves(t *testing.T) {
	srv := newTestApp(t)

	setResp := postIPC(t, srv, "providers.setConfig", "anthropic", "sk-test-key")
	require.True(t, setResp.Success, setResp.Error)

	listResp := postIPC(t, srv, "providers.list")
	require.True(t, listResp.Success)
	var configured []string
	require.NoError(t, json.Unmarshal(listResp.Data, &configured))
	assert.Contains(t, configured, "anthropic")

	repo := gitRepo(t)
	wsResp := postIPC(t, srv, "workspace.create", repo, "feature-b", "main", map[string]interface{}{
		"kind":       "local",
		"srcBaseDir": t.TempDir(),
	})
	require.True(t, wsResp.Success, wsResp.Error)
	var ws struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(wsResp.Data, &ws))

	// The resolver now has a key for "anthropic", so the model string
	// parses and the provider is recognized; since no provider/mock
	// script is registered for this exact model string, the stream
	// itself fails once it starts — but beginStream's initial Result
	// still reports ok() because staging the stream is asynchronous
	// (stream.Manager.Start runs in its own goroutine).
	sendResp := postIPC(t, srv, "workspace.sendMessage", ws.ID, "hello", map[string]interface{}{
		"model": "anthropic/claude-test",
	})
	assert.True(t, sendResp.Success, sendResp.Error)
}

func TestE2E_UnknownChannelIs404(t *testing.T) {
	srv := newTestApp(t)
	resp, err := http.Post(srv.URL+"/ipc/does.not.exist", "application/json", bytes.NewReader([]byte(`{"args":[]}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
