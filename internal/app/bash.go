// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/runtime"
)

// bashExecutor implements bridge.BashExecutor: running an ad hoc shell
// command in a workspace outside of any chat turn or tool policy
// (`workspace.executeBash`, spec.md §6's Control API).
type bashExecutor struct {
	config *cmuxconfig.Store
}

func (b *bashExecutor) Exec(ctx context.Context, workspaceID, command string) (runtime.ExecResult, error) {
	meta, found := b.config.GetWorkspace(workspaceID)
	if !found {
		return runtime.ExecResult{}, fmt.Errorf("app: workspace %s not registered", workspaceID)
	}

	rtCfg := meta.RuntimeConfig
	if rtCfg.Kind == "" {
		rtCfg.Kind = runtime.KindLocal
	}
	rt, err := runtime.New(rtCfg)
	if err != nil {
		return runtime.ExecResult{}, fmt.Errorf("app: build runtime for %s: %w", workspaceID, err)
	}

	workspacePath := rt.GetWorkspacePath(meta.ProjectPath, meta.Name)
	return rt.Exec(ctx, "sh", []string{"-c", command}, runtime.ExecOptions{Cwd: workspacePath})
}
