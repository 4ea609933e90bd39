// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/cmux-sub011/internal/runtime"
	"github.com/coder/cmux-sub011/internal/session"
)

func opWorkspaceCreate(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	projectPath, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	name, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	trunkBranch, err := argString(args, 2)
	if err != nil {
		return nil, err
	}
	var rtCfg runtime.Config
	if err := argInto(args, 3, &rtCfg); err != nil {
		return nil, err
	}
	return deps.Workspaces.CreateWorkspace(ctx, projectPath, name, trunkBranch, rtCfg)
}

func opWorkspaceRemove(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	deleteBranch, err := argBool(args, 1)
	if err != nil {
		return nil, err
	}
	return nil, deps.Workspaces.RemoveWorkspace(ctx, id, removeOptionsFrom(deleteBranch))
}

func opWorkspaceRename(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	newName, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return deps.Workspaces.RenameWorkspace(ctx, id, newName)
}

func opWorkspaceFork(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	newName, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return deps.Workspaces.ForkWorkspace(ctx, id, newName)
}

func opWorkspaceList(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	projectPath, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	return deps.Config.ListWorkspaces(projectPath), nil
}

type workspaceInfo struct {
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"name"`
	ProjectPath string     `json:"projectPath"`
	Recency     int64      `json:"recency,omitempty"`
	Streaming   bool       `json:"streaming"`
	LastModel   string     `json:"lastModel,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
}

func opWorkspaceGetInfo(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	meta, found := deps.Config.GetWorkspace(id)
	if !found {
		return nil, fmt.Errorf("bridge: workspace %s not found", id)
	}
	info := workspaceInfo{WorkspaceID: meta.WorkspaceID, Name: meta.Name, ProjectPath: meta.ProjectPath, ArchivedAt: meta.ArchivedAt}
	if deps.Metadata != nil {
		if rec, ok := deps.Metadata.GetMetadata(id); ok {
			info.Recency, info.Streaming, info.LastModel = rec.LastUsedAt.Unix(), rec.Streaming, rec.StreamModel
		}
	}
	return info, nil
}

type sendMessageArgs struct {
	Model             string `json:"model"`
	Mode              string `json:"mode"`
	Thinking          string `json:"thinking"`
	EditMessageID     string `json:"editMessageId"`
	ParallelToolCalls int64  `json:"parallelToolCalls"`
	MaxTokens         int    `json:"maxTokens"`
}

func opWorkspaceSendMessage(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	text, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	var opts sendMessageArgs
	if err := argInto(args, 2, &opts); err != nil {
		return nil, err
	}

	sess, err := deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := sess.SendMessage(ctx, text, sendOptionsFrom(opts))
	return resultToResponse(result)
}

func opWorkspaceResumeStream(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	var opts sendMessageArgs
	if err := argInto(args, 1, &opts); err != nil {
		return nil, err
	}
	sess, err := deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := sess.ResumeStream(ctx, sendOptionsFrom(opts))
	return resultToResponse(result)
}

func opWorkspaceRespondToConfirmation(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	toolCallID, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	approved, err := argBool(args, 2)
	if err != nil {
		return nil, err
	}
	sess, err := deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := sess.RespondToConfirmation(toolCallID, approved)
	return resultToResponse(result)
}

func opWorkspaceInterruptStream(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	sess, err := deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result := sess.InterruptStream()
	return resultToResponse(result)
}

func opWorkspaceExecuteBash(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	command, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	if deps.Bash == nil {
		return nil, fmt.Errorf("bridge: executeBash not available")
	}
	return deps.Bash.Exec(ctx, id, command)
}

func opWorkspaceTruncateHistory(ctx context.Context, deps Dependencies, args []json.RawMessage) (interface{}, error) {
	id, err := argString(args, 0)
	if err != nil {
		return nil, err
	}
	afterMessageID, err := argString(args, 1)
	if err != nil {
		return nil, err
	}
	return nil, deps.History.TruncateAfter(id, afterMessageID)
}

// resultToResponse turns a session.Result's tagged ok/err shape into the
// plain (value, error) every op returns, so a failing SendMessageOptions
// reaches the client as an {success:false, error} IPC response rather than
// a nested object the client would have to unwrap twice.
func resultToResponse[T any](r session.Result[T]) (interface{}, error) {
	if !r.OK() {
		return nil, r.Err
	}
	return r.Value, nil
}
