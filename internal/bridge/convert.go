// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"github.com/coder/cmux-sub011/internal/provider"
	"github.com/coder/cmux-sub011/internal/session"
	"github.com/coder/cmux-sub011/internal/toolpolicy"
	"github.com/coder/cmux-sub011/internal/workspace"
)

func removeOptionsFrom(deleteBranch bool) workspace.RemoveOptions {
	return workspace.RemoveOptions{DeleteBranch: deleteBranch}
}

func sendOptionsFrom(a sendMessageArgs) session.SendMessageOptions {
	return session.SendMessageOptions{
		Model:             a.Model,
		Mode:              toolpolicy.Mode(a.Mode),
		Thinking:          provider.ThinkingLevel(a.Thinking),
		EditMessageID:     a.EditMessageID,
		ParallelToolCalls: a.ParallelToolCalls,
		MaxTokens:         a.MaxTokens,
	}
}
