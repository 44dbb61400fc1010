/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "encoding/json"

// CurrentScopeSchemaVersion is the only scope schema this build understands.
// Submissions carrying any other version are rejected before verification.
const CurrentScopeSchemaVersion = 1

// ApprovalScope is the execution context a batch of deferred tool calls was
// produced in. An approval is valid only for the exact scope it was granted
// for; the scope is hashed into the plan hash at issuance and recomputed from
// live state at consumption time.
type ApprovalScope struct {
	SchemaVersion    int      `json:"schema_version"`
	WorkItemID       string   `json:"work_item_id"`
	WorkspaceRoot    string   `json:"workspace_root"`
	AgentName        string   `json:"agent_name"`
	ToolCallIDs      []string `json:"tool_call_ids"`
	ToolsetMode      string   `json:"toolset_mode"`
	AllowedPaths     []string `json:"allowed_paths,omitempty"`
	CostCeilingCents *int64   `json:"cost_ceiling_cents,omitempty"`
	ParentEnvelopeID string   `json:"parent_envelope_id,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// WithToolCallIDs returns a copy of the scope with ToolCallIDs rebound.
// The scope is built once per pending request and once again per consumption
// attempt; both copies must hash identically when nothing drifted, so the
// rebinding is the only permitted mutation and it always goes through here.
func (s ApprovalScope) WithToolCallIDs(ids []string) ApprovalScope {
	rebound := s
	rebound.ToolCallIDs = append([]string(nil), ids...)
	return rebound
}

// DeferredToolCall is the exact side-effecting request the agent proposed.
// Args stays raw JSON at the boundary; it is canonicalized only for hashing.
type DeferredToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
}

// ToolCallIDs returns the ordered ids of the given calls.
func ToolCallIDs(calls []DeferredToolCall) []string {
	ids := make([]string, len(calls))
	for i, c := range calls {
		ids[i] = c.ToolCallID
	}
	return ids
}
