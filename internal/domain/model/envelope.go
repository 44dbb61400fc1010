/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// EnvelopeState is the lifecycle state of an approval envelope.
type EnvelopeState string

const (
	// EnvelopeStatePending is the initial state set at issuance.
	EnvelopeStatePending EnvelopeState = "pending"
	// EnvelopeStateConsumed is terminal; set by a successful verify-and-consume.
	EnvelopeStateConsumed EnvelopeState = "consumed"
	// EnvelopeStateExpired is terminal; set by the time sweep or key rotation.
	EnvelopeStateExpired EnvelopeState = "expired"
)

// ApprovalEnvelope is the persistent unit of the approval store: one batch of
// deferred tool calls, the scope they were proposed in, and the signature
// state accumulated over the envelope lifecycle.
//
// PlanHash is fixed at issuance and never recomputed in place; verification
// recomputes it independently from the live scope and compares.
type ApprovalEnvelope struct {
	EnvelopeID   string
	Nonce        string
	Scope        ApprovalScope
	ToolCalls    []DeferredToolCall
	PlanHash     string
	KeyID        string
	SignedObject []byte
	Signature    []byte
	State        EnvelopeState
	IssuedAt     time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
}
