// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSSH installs a shim binary named "ssh" on PATH that, instead of
// connecting anywhere, strips the leading host argument and runs the
// remaining remote-command string through the local shell. This exercises
// the exact command-construction logic in SSH.Exec/ReadFile/WriteFile/Stat
// without requiring network access or a real remote host.
func fakeSSH(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shim relies on a posix shell")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		"while [ \"$1\" = \"-i\" ] || [ \"$1\" = \"-p\" ]; do shift; shift; done\n" +
		"shift\n" + // drop the host argument
		"exec sh -c \"$1\"\n"
	path := filepath.Join(dir, "ssh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
}

func TestSSHExecRunsRemoteCommand(t *testing.T) {
	fakeSSH(t)
	s, err := NewSSH(Config{Kind: KindSSH, Host: "example.internal", SrcBaseDir: "/srv/cmux"})
	require.NoError(t, err)

	res, err := s.Exec(context.Background(), "echo", []string{"hello world"}, ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, "hello world\n", res.Stdout)
}

// TestSSHBinaryRoundTrip is scenario S6 run against the SSH runtime variant:
// write, stat, then read back a binary payload over the base64 pipeline.
func TestSSHBinaryRoundTrip(t *testing.T) {
	fakeSSH(t)
	dir := t.TempDir()
	s, err := NewSSH(Config{Kind: KindSSH, Host: "example.internal", SrcBaseDir: dir})
	require.NoError(t, err)

	path := filepath.Join(dir, "nested", "blob.bin")
	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte((i * 7) % 256)
	}

	require.NoError(t, s.WriteFile(context.Background(), path, bytes.NewReader(payload)))

	info, err := s.Stat(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), info.Size)
	require.False(t, info.IsDirectory)

	rc, err := s.ReadFile(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	require.Equal(t, payload, buf.Bytes())
}

func TestSSHReadFileNotFound(t *testing.T) {
	fakeSSH(t)
	s, err := NewSSH(Config{Kind: KindSSH, Host: "example.internal", SrcBaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = s.ReadFile(context.Background(), "/no/such/file")
	require.Error(t, err)
}

func TestNewSSHRequiresHost(t *testing.T) {
	_, err := NewSSH(Config{Kind: KindSSH})
	require.Error(t, err)
}
