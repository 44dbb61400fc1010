/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package toolpolicy classifies tool names as read-only or side-effecting.
// The registry is allow-listed for read-only: unknown names default to
// side-effecting, so a new tool can never silently bypass approval.
package toolpolicy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentvault/approvald/internal/domain/model"
	"github.com/agentvault/approvald/internal/util"
	"github.com/agentvault/approvald/resources"
)

// Classification of a tool name.
type Classification int

const (
	SideEffecting Classification = iota
	ReadOnly
)

func (c Classification) String() string {
	if c == ReadOnly {
		return "read_only"
	}
	return "side_effecting"
}

var (
	ErrReadOnlyTool  = errors.New("deferred approval requested for a read-only tool")
	ErrEmptyBatch    = errors.New("deferred approval batch is empty")
	ErrDuplicateID   = errors.New("duplicate tool call id in batch")
	ErrMalformedCall = errors.New("malformed deferred tool call")
)

// Registry holds the read-only allow-list.
type Registry struct {
	readOnly util.Set[string]
}

// NewRegistry builds a registry from the embedded default allow-list plus
// any extra read-only tool names.
func NewRegistry(extraReadOnly ...string) (*Registry, error) {
	var names []string
	if err := json.Unmarshal(resources.ReadOnlyToolsJSON, &names); err != nil {
		return nil, fmt.Errorf("parse embedded read-only tool list: %w", err)
	}
	set := util.NewSet[string]()
	for _, name := range names {
		set.Add(name)
	}
	for _, name := range extraReadOnly {
		set.Add(name)
	}
	return &Registry{readOnly: set}, nil
}

// Classify returns the classification for a tool name. Unknown names are
// side-effecting.
func (r *Registry) Classify(toolName string) Classification {
	if r.readOnly.Has(toolName) {
		return ReadOnly
	}
	return SideEffecting
}

// ValidateDeferredCalls rejects malformed deferred-approval batches. A
// read-only tool in the batch is a bug upstream, not a security event:
// read-only tools never require human approval, so seeing one here means
// the agent layer misclassified its own request.
func (r *Registry) ValidateDeferredCalls(calls []model.DeferredToolCall) error {
	if len(calls) == 0 {
		return ErrEmptyBatch
	}
	seen := util.NewSet[string]()
	for _, call := range calls {
		if call.ToolCallID == "" || call.ToolName == "" {
			return fmt.Errorf("%w: missing tool_call_id or tool_name", ErrMalformedCall)
		}
		if seen.Has(call.ToolCallID) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, call.ToolCallID)
		}
		seen.Add(call.ToolCallID)
		if r.Classify(call.ToolName) == ReadOnly {
			return fmt.Errorf("%w: %s", ErrReadOnlyTool, call.ToolName)
		}
	}
	return nil
}
