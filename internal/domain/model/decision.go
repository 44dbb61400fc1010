/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// SignedDecision carries the minimal fields the approval signature covers.
type SignedDecision struct {
	ToolCallID string `json:"tool_call_id" cbor:"tool_call_id"`
	Approved   bool   `json:"approved" cbor:"approved"`
}

// SubmittedDecision is a SignedDecision plus the free-text denial message.
// DenialMessage is deliberately outside the signature: its wording cannot
// affect the authorization outcome, so a relay may alter it undetected.
// Accepted risk.
type SubmittedDecision struct {
	ToolCallID    string `json:"tool_call_id"`
	Approved      bool   `json:"approved"`
	DenialMessage string `json:"denial_message,omitempty"`
}

// Signed returns the projection of the submitted decision that the
// signature covers.
func (d SubmittedDecision) Signed() SignedDecision {
	return SignedDecision{ToolCallID: d.ToolCallID, Approved: d.Approved}
}

// SignedProjection maps submitted decisions onto their signed fields,
// preserving order.
func SignedProjection(decisions []SubmittedDecision) []SignedDecision {
	signed := make([]SignedDecision, len(decisions))
	for i, d := range decisions {
		signed[i] = d.Signed()
	}
	return signed
}
