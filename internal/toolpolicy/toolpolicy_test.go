/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package toolpolicy

import (
	"encoding/json"
	"testing"

	"github.com/agentvault/approvald/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_DefaultsToSideEffecting(t *testing.T) {
	r, err := NewRegistry()
	require.Nil(t, err)

	assert.Equal(t, ReadOnly, r.Classify("read_file"))
	assert.Equal(t, SideEffecting, r.Classify("write_file"))
	assert.Equal(t, SideEffecting, r.Classify("some_future_tool"))
}

func TestClassify_ExtraReadOnly(t *testing.T) {
	r, err := NewRegistry("peek_cache")
	require.Nil(t, err)

	assert.Equal(t, ReadOnly, r.Classify("peek_cache"))
}

func TestValidateDeferredCalls(t *testing.T) {
	r, err := NewRegistry()
	require.Nil(t, err)

	ok := []model.DeferredToolCall{
		{ToolCallID: "c1", ToolName: "write_file", Args: json.RawMessage(`{"path":"a.txt"}`)},
		{ToolCallID: "c2", ToolName: "run_command", Args: json.RawMessage(`{"cmd":"make"}`)},
	}
	assert.Nil(t, r.ValidateDeferredCalls(ok))

	assert.ErrorIs(t, r.ValidateDeferredCalls(nil), ErrEmptyBatch)

	readonly := []model.DeferredToolCall{
		{ToolCallID: "c1", ToolName: "read_file", Args: json.RawMessage(`{}`)},
	}
	assert.ErrorIs(t, r.ValidateDeferredCalls(readonly), ErrReadOnlyTool)

	dup := []model.DeferredToolCall{
		{ToolCallID: "c1", ToolName: "write_file", Args: json.RawMessage(`{}`)},
		{ToolCallID: "c1", ToolName: "run_command", Args: json.RawMessage(`{}`)},
	}
	assert.ErrorIs(t, r.ValidateDeferredCalls(dup), ErrDuplicateID)

	missing := []model.DeferredToolCall{
		{ToolCallID: "", ToolName: "write_file", Args: json.RawMessage(`{}`)},
	}
	assert.ErrorIs(t, r.ValidateDeferredCalls(missing), ErrMalformedCall)
}
