// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires every cmux component — config registry, workspace
// manager, per-workspace agent sessions, and the bridge — into one running
// server, the way trellis/internal/app ties its service/worktree/workflow
// managers to an api.Server.
package app

import (
	"os"
	"path/filepath"
)

// cmuxHome resolves the root directory every on-disk store lives under.
// CMUX_TEST_ROOT overrides it for tests (spec.md §6's environment
// variables); otherwise it's <home>/.cmux.
func cmuxHome() (string, error) {
	if root := os.Getenv("CMUX_TEST_ROOT"); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cmux"), nil
}

type paths struct {
	configFile    string
	historyDir    string
	partialDir    string
	extMetaFile   string
	policiesFile  string
	providersFile string
}

func resolvePaths(home string) paths {
	return paths{
		configFile:    filepath.Join(home, "config.json"),
		historyDir:    filepath.Join(home, "history"),
		partialDir:    filepath.Join(home, "partial"),
		extMetaFile:   filepath.Join(home, "extensionMetadata.json"),
		policiesFile:  filepath.Join(home, "policies.hjson"),
		providersFile: filepath.Join(home, "providers.yaml"),
	}
}
