/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentvault/approvald/internal/domain/model"
)

// EnvelopeRepository handles approval-envelope persistence. All mutation of
// envelope rows goes through these methods; callers never touch the table
// directly.
type EnvelopeRepository struct {
	db *sql.DB
}

func NewEnvelopeRepository(db *sql.DB) *EnvelopeRepository {
	return &EnvelopeRepository{db: db}
}

// Create inserts a new pending envelope.
func (r *EnvelopeRepository) Create(ctx context.Context, e *model.ApprovalEnvelope) error {
	scopeJSON, err := json.Marshal(e.Scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	callsJSON, err := json.Marshal(e.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}

	const q = `
		INSERT INTO approval_envelopes
			(envelope_id, nonce, scope_json, tool_calls_json, plan_hash, key_id,
			 signed_object, signature, state, issued_at, expires_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, q,
		e.EnvelopeID, e.Nonce, string(scopeJSON), string(callsJSON), e.PlanHash, e.KeyID,
		e.SignedObject, e.Signature, string(e.State), e.IssuedAt, e.ExpiresAt, e.ConsumedAt)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

const envelopeSelect = `
	SELECT envelope_id, nonce, scope_json, tool_calls_json, plan_hash, key_id,
	       signed_object, signature, state, issued_at, expires_at, consumed_at
	FROM approval_envelopes
`

func scanEnvelope(row interface{ Scan(...any) error }) (*model.ApprovalEnvelope, error) {
	var (
		e          model.ApprovalEnvelope
		scopeJSON  string
		callsJSON  string
		state      string
		consumedAt sql.NullTime
	)
	if err := row.Scan(&e.EnvelopeID, &e.Nonce, &scopeJSON, &callsJSON, &e.PlanHash, &e.KeyID,
		&e.SignedObject, &e.Signature, &state, &e.IssuedAt, &e.ExpiresAt, &consumedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan envelope: %w", err)
	}
	if err := json.Unmarshal([]byte(scopeJSON), &e.Scope); err != nil {
		return nil, fmt.Errorf("unmarshal scope: %w", err)
	}
	if err := json.Unmarshal([]byte(callsJSON), &e.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	e.State = model.EnvelopeState(state)
	if consumedAt.Valid {
		t := consumedAt.Time
		e.ConsumedAt = &t
	}
	return &e, nil
}

// FindByNonce returns the envelope for a nonce, or nil when none exists.
func (r *EnvelopeRepository) FindByNonce(ctx context.Context, nonce string) (*model.ApprovalEnvelope, error) {
	row := r.db.QueryRowContext(ctx, envelopeSelect+" WHERE nonce = ? LIMIT 1", nonce)
	return scanEnvelope(row)
}

// ListPending returns all envelopes still pending and unexpired at now,
// oldest first.
func (r *EnvelopeRepository) ListPending(ctx context.Context, now time.Time) ([]*model.ApprovalEnvelope, error) {
	rows, err := r.db.QueryContext(ctx,
		envelopeSelect+" WHERE state = 'pending' AND expires_at > ? ORDER BY issued_at ASC", now)
	if err != nil {
		return nil, fmt.Errorf("list pending envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []*model.ApprovalEnvelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, e)
	}
	return envelopes, rows.Err()
}

// AttachSignature writes the signed object and signature onto a still-pending
// row. Returns false when the row is missing or no longer pending.
func (r *EnvelopeRepository) AttachSignature(ctx context.Context, nonce string, signedObject, signature []byte) (bool, error) {
	const q = `
		UPDATE approval_envelopes
		SET signed_object = ?, signature = ?
		WHERE nonce = ? AND state = 'pending'
	`
	res, err := r.db.ExecContext(ctx, q, signedObject, signature, nonce)
	if err != nil {
		return false, fmt.Errorf("attach signature: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Consume atomically moves a pending, unexpired envelope to consumed. This
// single conditional update is the only concurrency-safety mechanism: a
// compare-and-swap expressed as a storage-layer write, so two simultaneous
// consumption attempts can never both see one row affected.
func (r *EnvelopeRepository) Consume(ctx context.Context, nonce string, now time.Time) (bool, error) {
	const q = `
		UPDATE approval_envelopes
		SET state = 'consumed', consumed_at = ?
		WHERE nonce = ? AND state = 'pending' AND expires_at > ?
	`
	res, err := r.db.ExecContext(ctx, q, now, nonce, now)
	if err != nil {
		return false, fmt.Errorf("consume envelope: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpireAllPending marks every still-pending envelope expired. Used during
// key rotation.
func (r *EnvelopeRepository) ExpireAllPending(ctx context.Context) (int64, error) {
	const q = `
		UPDATE approval_envelopes
		SET state = 'expired'
		WHERE state = 'pending'
	`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("expire pending envelopes: %w", err)
	}
	return res.RowsAffected()
}

// ExpireDue marks pending envelopes whose TTL has elapsed as expired.
func (r *EnvelopeRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	const q = `
		UPDATE approval_envelopes
		SET state = 'expired'
		WHERE state = 'pending' AND expires_at <= ?
	`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("expire due envelopes: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredBefore deletes expired envelopes whose expiry is older than
// the cutoff. Consumed rows are kept as an audit trail.
func (r *EnvelopeRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
		DELETE FROM approval_envelopes
		WHERE state = 'expired' AND expires_at < ?
	`
	res, err := r.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune expired envelopes: %w", err)
	}
	return res.RowsAffected()
}
