// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"

	"github.com/coder/cmux-sub011/internal/runtime"
)

func opProjectsCreate(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	if err := deps.Config.UpsertProject(path); err != nil {
		return nil, err
	}
	return deps.Config.ListProjects(), nil
}

func opProjectsRemove(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return nil, deps.Config.RemoveProject(path)
}

func opProjectsList(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	return deps.Config.ListProjects(), nil
}

func opProjectsListBranches(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	path, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	var rtCfg runtime.Config
	if err := argInto(args, 1, &rtCfg); err != nil {
		return nil, err
	}
	if rtCfg.Kind == "" {
		rtCfg.Kind = runtime.KindLocal
	}
	return deps.Workspaces.ListBranches(ctx, path, rtCfg)
}
