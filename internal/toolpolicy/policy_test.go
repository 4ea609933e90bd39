// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package toolpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyApply_LastMatchWins(t *testing.T) {
	p := Policy{Rules: []Rule{
		MustRule(`^tool_.*$`, ActionDisable),
		MustRule(`^tool_b$`, ActionEnable),
	}}
	out, err := p.Apply([]string{"tool_a", "tool_b", "tool_c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool_b"}, out)
}

func TestPolicyApply_UnmatchedEnabledByDefault(t *testing.T) {
	p := Policy{Rules: []Rule{MustRule(`^tool_a$`, ActionDisable)}}
	out, err := p.Apply([]string{"tool_a", "tool_b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool_b"}, out)
}

func TestPolicyApply_SingleRequireReducesToOne(t *testing.T) {
	p := Policy{Rules: []Rule{MustRule(`^tool_b$`, ActionRequire)}}
	out, err := p.Apply([]string{"tool_a", "tool_b", "tool_c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool_b"}, out)
}

func TestPolicyApply_MultipleRequireErrors(t *testing.T) {
	p := Policy{Rules: []Rule{
		MustRule(`^tool_a$`, ActionRequire),
		MustRule(`^tool_b$`, ActionRequire),
	}}
	_, err := p.Apply([]string{"tool_a", "tool_b", "tool_c"})
	require.Error(t, err)
	var merr *ErrMultipleRequired
	require.ErrorAs(t, err, &merr)
	assert.ElementsMatch(t, []string{"tool_a", "tool_b"}, merr.Tools)
}

func TestPolicyApply_ZeroRequireMatchesFallsBackToEnableDisable(t *testing.T) {
	p := Policy{Rules: []Rule{
		MustRule(`^nonexistent$`, ActionRequire),
		MustRule(`^tool_a$`, ActionDisable),
	}}
	out, err := p.Apply([]string{"tool_a", "tool_b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tool_b"}, out)
}

func TestPolicyForMode_Plan(t *testing.T) {
	p := PolicyForMode(ModePlan)
	out, err := p.Apply([]string{"write_file", "edit_file", "bash", "compact", "propose_plan"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bash", "propose_plan"}, out)
}

func TestPolicyForMode_Exec(t *testing.T) {
	p := PolicyForMode(ModeExec)
	out, err := p.Apply([]string{"write_file", "edit_file", "bash", "compact", "propose_plan"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"write_file", "edit_file", "bash", "compact"}, out)
}
