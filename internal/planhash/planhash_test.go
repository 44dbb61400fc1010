/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package planhash

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/agentvault/approvald/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() model.ApprovalScope {
	return model.ApprovalScope{
		SchemaVersion: model.CurrentScopeSchemaVersion,
		WorkItemID:    "wi-1",
		WorkspaceRoot: "/work/project",
		AgentName:     "builder",
		ToolsetMode:   "full",
	}
}

func testCalls() []model.DeferredToolCall {
	return []model.DeferredToolCall{
		{ToolCallID: "c1", ToolName: "write_file", Args: json.RawMessage(`{"path":"a.txt"}`)},
		{ToolCallID: "c2", ToolName: "run_command", Args: json.RawMessage(`{"cmd":"make"}`)},
	}
}

func TestCanonicalize_SortedKeysCompact(t *testing.T) {
	got, err := Canonicalize(map[string]any{"b": 1, "a": []any{true, nil}})
	require.Nil(t, err)
	assert.Equal(t, `{"a":[true,null],"b":1}`, string(got))
}

func TestCanonicalize_ASCIIOnly(t *testing.T) {
	got, err := Canonicalize(map[string]any{"msg": "héllo\nwörld \U0001f600"})
	require.Nil(t, err)
	assert.Equal(t, `{"msg":"h\u00e9llo\nw\u00f6rld \ud83d\ude00"}`, string(got))
}

func TestCanonicalize_EquivalentStructuresMatch(t *testing.T) {
	// Semantically equal trees built in different key orders must
	// canonicalize to identical bytes.
	a, err := Canonicalize(map[string]any{"x": 1, "y": map[string]any{"p": "q", "r": "s"}})
	require.Nil(t, err)
	b, err := Canonicalize(map[string]any{"y": map[string]any{"r": "s", "p": "q"}, "x": 1})
	require.Nil(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalize_RejectsNaN(t *testing.T) {
	_, err := Canonicalize(map[string]any{"v": math.NaN()})
	assert.NotNil(t, err)

	_, err = Canonicalize(map[string]any{"v": math.Inf(1)})
	assert.NotNil(t, err)
}

func TestPlanHash_Deterministic(t *testing.T) {
	h1, err := PlanHash(testScope(), testCalls())
	require.Nil(t, err)
	h2, err := PlanHash(testScope(), testCalls())
	require.Nil(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestPlanHash_RebindsToolCallIDs(t *testing.T) {
	// The ids recorded on the scope must not matter: the hash always binds
	// the governed calls' ids.
	stale := testScope().WithToolCallIDs([]string{"other"})
	h1, err := PlanHash(stale, testCalls())
	require.Nil(t, err)
	h2, err := PlanHash(testScope(), testCalls())
	require.Nil(t, err)
	assert.Equal(t, h1, h2)
}

func TestPlanHash_SensitiveToScopeDrift(t *testing.T) {
	h1, err := PlanHash(testScope(), testCalls())
	require.Nil(t, err)

	drifted := testScope()
	drifted.WorkspaceRoot = "/work/elsewhere"
	h2, err := PlanHash(drifted, testCalls())
	require.Nil(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestPlanHash_SensitiveToCallOrder(t *testing.T) {
	calls := testCalls()
	h1, err := PlanHash(testScope(), calls)
	require.Nil(t, err)

	reversed := []model.DeferredToolCall{calls[1], calls[0]}
	h2, err := PlanHash(testScope(), reversed)
	require.Nil(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestPlanHash_SensitiveToArgs(t *testing.T) {
	h1, err := PlanHash(testScope(), testCalls())
	require.Nil(t, err)

	changed := testCalls()
	changed[0].Args = json.RawMessage(`{"path":"b.txt"}`)
	h2, err := PlanHash(testScope(), changed)
	require.Nil(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "deadbeef", Prefix("deadbeef0123456789"))
	assert.Equal(t, "abc", Prefix("abc"))
}
