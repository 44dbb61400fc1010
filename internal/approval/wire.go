/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package approval

import (
	"bytes"
	"encoding/json"

	"github.com/agentvault/approvald/internal/domain/model"
	"github.com/agentvault/approvald/internal/util"
)

// DeferredRequestPayload is what the human-facing layer receives: the nonce,
// a short plan-hash prefix for display, and the proposed calls. The full
// plan hash never leaves storage.
type DeferredRequestPayload struct {
	Nonce          string                   `json:"nonce"`
	PlanHashPrefix string                   `json:"plan_hash_prefix"`
	Requests       []model.DeferredToolCall `json:"requests"`
}

// SubmissionPayload is what the human-facing layer returns: per-call
// decisions for one envelope.
type SubmissionPayload struct {
	Nonce     string                    `json:"nonce"`
	Decisions []model.SubmittedDecision `json:"decisions"`
}

// ParseSubmission performs the one exhaustive parse step for an incoming
// submission. Anything malformed fails here with invalid_submission; no
// loosely-typed payload travels past this boundary.
func ParseSubmission(raw []byte) (*SubmissionPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var payload SubmissionPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, verificationErr(CodeInvalidSubmission, "parse submission: %v", err)
	}
	if dec.More() {
		return nil, verificationErr(CodeInvalidSubmission, "trailing data after submission")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Validate checks the structural invariants of a submission.
func (p *SubmissionPayload) Validate() error {
	if p.Nonce == "" {
		return verificationErr(CodeInvalidSubmission, "missing nonce")
	}
	if len(p.Decisions) == 0 {
		return verificationErr(CodeInvalidSubmission, "no decisions")
	}
	seen := util.NewSet[string]()
	for i, d := range p.Decisions {
		if d.ToolCallID == "" {
			return verificationErr(CodeInvalidSubmission, "decision %d: missing tool_call_id", i)
		}
		if seen.Has(d.ToolCallID) {
			return verificationErr(CodeInvalidSubmission, "duplicate decision for %s", d.ToolCallID)
		}
		seen.Add(d.ToolCallID)
	}
	return nil
}

// ToolCallIDs returns the ordered ids the submission decides on.
func (p *SubmissionPayload) ToolCallIDs() []string {
	ids := make([]string, len(p.Decisions))
	for i, d := range p.Decisions {
		ids[i] = d.ToolCallID
	}
	return ids
}
