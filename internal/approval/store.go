/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package approval implements the envelope state machine: issue, co-sign,
// verify-and-consume, expire, prune. An envelope is created pending by the
// agent layer, signed by the key manager on behalf of a human decision, and
// consumed exactly once at execution-resume time.
package approval

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agentvault/approvald/internal/domain/model"
	"github.com/agentvault/approvald/internal/infra/sqlite"
	"github.com/agentvault/approvald/internal/keymanager"
	"github.com/agentvault/approvald/internal/planhash"
	"github.com/agentvault/approvald/internal/toolpolicy"
	"github.com/agentvault/approvald/internal/util"
	"github.com/google/uuid"
)

const nonceLen = 32

// Limits is the time policy of the store. Retention must cover the TTL plus
// the clock-skew allowance, or a row could be pruned while a lagging clock
// still considers it live.
type Limits struct {
	TTL       time.Duration
	Retention time.Duration
	ClockSkew time.Duration
}

// Validate rejects a retention window too small for the TTL.
func (l Limits) Validate() error {
	if l.TTL <= 0 {
		return errors.New("approval ttl must be positive")
	}
	if l.Retention < l.TTL+l.ClockSkew {
		return fmt.Errorf("retention %s is shorter than ttl %s + clock skew %s",
			l.Retention, l.TTL, l.ClockSkew)
	}
	return nil
}

// Store owns approval-envelope rows. All envelope mutation goes through it.
type Store struct {
	repo   *sqlite.EnvelopeRepository
	keys   *keymanager.Manager
	policy *toolpolicy.Registry
	limits Limits
	logger *log.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewStore wires the store over an initialized database. Limits are
// validated here; a bad retention configuration is a startup error, not a
// runtime condition.
func NewStore(db *sql.DB, keys *keymanager.Manager, policy *toolpolicy.Registry, limits Limits, logger *log.Logger) (*Store, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		repo:   sqlite.NewEnvelopeRepository(db),
		keys:   keys,
		policy: policy,
		limits: limits,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Second)
		},
	}, nil
}

func generateNonce() (string, error) {
	raw := make([]byte, nonceLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// CreateEnvelope issues a new pending envelope for a batch of deferred tool
// calls and returns its nonce and full plan hash. The scope's tool_call_ids
// are rebound to the calls' ids before hashing.
func (s *Store) CreateEnvelope(ctx context.Context, scope model.ApprovalScope, calls []model.DeferredToolCall) (nonce, hash string, err error) {
	if scope.SchemaVersion != model.CurrentScopeSchemaVersion {
		return "", "", verificationErr(CodeScopeSchemaUnsupported,
			"scope schema version %d, want %d", scope.SchemaVersion, model.CurrentScopeSchemaVersion)
	}
	if err := s.policy.ValidateDeferredCalls(calls); err != nil {
		if errors.Is(err, toolpolicy.ErrReadOnlyTool) {
			return "", "", verificationErr(CodeToolPolicyViolation, "%v", err)
		}
		return "", "", verificationErr(CodeInvalidSubmission, "%v", err)
	}

	keyID, err := s.keys.ActiveKeyID()
	if err != nil {
		return "", "", fmt.Errorf("resolve active key: %w", err)
	}
	nonce, err = generateNonce()
	if err != nil {
		return "", "", err
	}

	bound := scope.WithToolCallIDs(model.ToolCallIDs(calls))
	hash, err = planhash.PlanHash(bound, calls)
	if err != nil {
		return "", "", err
	}

	issued := s.now()
	envelope := &model.ApprovalEnvelope{
		EnvelopeID: uuid.NewString(),
		Nonce:      nonce,
		Scope:      bound,
		ToolCalls:  calls,
		PlanHash:   hash,
		KeyID:      keyID,
		State:      model.EnvelopeStatePending,
		IssuedAt:   issued,
		ExpiresAt:  issued.Add(s.limits.TTL),
	}
	if err := s.repo.Create(ctx, envelope); err != nil {
		return "", "", err
	}
	s.logger.Printf("issued envelope %s (plan %s, %d calls)",
		envelope.EnvelopeID, planhash.Prefix(hash), len(calls))
	return nonce, hash, nil
}

// DeferredRequest builds the wire payload shown to the human-facing layer
// for one pending envelope.
func (s *Store) DeferredRequest(ctx context.Context, nonce string) (*DeferredRequestPayload, error) {
	envelope, err := s.repo.FindByNonce(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, ErrUnknownNonce
	}
	return deferredRequestFor(envelope), nil
}

// PendingRequests lists the wire payloads of all pending, unexpired
// envelopes.
func (s *Store) PendingRequests(ctx context.Context) ([]*DeferredRequestPayload, error) {
	envelopes, err := s.repo.ListPending(ctx, s.now())
	if err != nil {
		return nil, err
	}
	payloads := make([]*DeferredRequestPayload, len(envelopes))
	for i, envelope := range envelopes {
		payloads[i] = deferredRequestFor(envelope)
	}
	return payloads, nil
}

func deferredRequestFor(envelope *model.ApprovalEnvelope) *DeferredRequestPayload {
	return &DeferredRequestPayload{
		Nonce:          envelope.Nonce,
		PlanHashPrefix: planhash.Prefix(envelope.PlanHash),
		Requests:       envelope.ToolCalls,
	}
}

// StoreSignedApproval signs the human's decisions and records them on the
// still-pending envelope. Signing does not consume: consumption happens only
// at execution-resume time, potentially much later.
func (s *Store) StoreSignedApproval(ctx context.Context, nonce string, decisions []model.SubmittedDecision) error {
	submission := SubmissionPayload{Nonce: nonce, Decisions: decisions}
	if err := submission.Validate(); err != nil {
		return err
	}

	envelope, err := s.repo.FindByNonce(ctx, nonce)
	if err != nil {
		return err
	}
	if envelope == nil {
		return ErrUnknownNonce
	}
	if envelope.State != model.EnvelopeStatePending {
		return verificationErr(CodeExpiredOrConsumed, "envelope is %s", envelope.State)
	}

	// Stale-key guard: decisions signed with a key that is no longer active
	// are rejected outright.
	activeKeyID, err := s.keys.ActiveKeyID()
	if err != nil {
		return fmt.Errorf("resolve active key: %w", err)
	}
	if activeKeyID != envelope.KeyID {
		return verificationErr(CodeUnknownKeyID,
			"envelope was issued under key %s, active key is %s", envelope.KeyID, activeKeyID)
	}

	_, signedBytes, err := s.keys.SignedObject(envelope.Nonce, envelope.PlanHash, model.SignedProjection(decisions))
	if err != nil {
		return err
	}
	signature, err := s.keys.SignPayload(signedBytes)
	if err != nil {
		return err
	}

	ok, err := s.repo.AttachSignature(ctx, nonce, signedBytes, signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrExpiredOrConsumed
	}
	s.logger.Printf("stored signed approval for envelope %s", envelope.EnvelopeID)
	return nil
}

// VerifyAndConsume checks a submission against the envelope and the live
// scope recomputed at resumption time, then consumes the envelope. The four
// verification stages run in order, each with its own failure code, and only
// the final conditional update mutates state — so a context-drift failure
// never burns the nonce.
func (s *Store) VerifyAndConsume(ctx context.Context, submission *SubmissionPayload, liveScope model.ApprovalScope) ([]model.SubmittedDecision, error) {
	if submission == nil {
		return nil, ErrInvalidSubmission
	}
	if err := submission.Validate(); err != nil {
		return nil, err
	}
	if liveScope.SchemaVersion != model.CurrentScopeSchemaVersion {
		return nil, verificationErr(CodeScopeSchemaUnsupported,
			"scope schema version %d, want %d", liveScope.SchemaVersion, model.CurrentScopeSchemaVersion)
	}

	envelope, err := s.repo.FindByNonce(ctx, submission.Nonce)
	if err != nil {
		return nil, err
	}
	if envelope == nil {
		return nil, ErrUnknownNonce
	}

	// Stage 1: the signature must be present and verify against a key
	// resolvable from the active key or the keyring.
	if envelope.KeyID == "" || len(envelope.SignedObject) == 0 || len(envelope.Signature) == 0 {
		return nil, verificationErr(CodeInvalidSignature, "envelope has no signed approval")
	}
	if err := s.keys.VerifySignature(envelope.KeyID, envelope.SignedObject, envelope.Signature); err != nil {
		if errors.Is(err, keymanager.ErrUnknownKeyID) {
			return nil, verificationErr(CodeUnknownKeyID, "key %s is not resolvable", envelope.KeyID)
		}
		return nil, verificationErr(CodeInvalidSignature, "%v", err)
	}

	// Stage 2: the signed object must match the stored row, and its
	// decisions must equal the projection of the submitted decisions
	// exactly. This catches post-signing tampering with approve/deny flags.
	signedObj, err := keymanager.DecodeSignedObject(envelope.SignedObject)
	if err != nil {
		return nil, verificationErr(CodeInvalidSignature, "%v", err)
	}
	if signedObj.Ctx != keymanager.SignedObjectCtx ||
		signedObj.Nonce != envelope.Nonce ||
		signedObj.PlanHash != envelope.PlanHash ||
		signedObj.KeyID != envelope.KeyID {
		return nil, verificationErr(CodeInvalidSignature, "signed object does not match envelope")
	}
	if !signedDecisionsEqual(signedObj.Decisions, model.SignedProjection(submission.Decisions)) {
		return nil, verificationErr(CodeBijectionMismatch,
			"submitted decisions differ from the signed decision set")
	}

	// Stage 3: context drift. Recompute the plan hash from the live scope,
	// rebound with the stored tool-call ids, against the stored calls. Runs
	// before any mutation: a drift failure leaves the envelope consumable.
	liveBound := liveScope.WithToolCallIDs(envelope.Scope.ToolCallIDs)
	liveHash, err := planhash.PlanHash(liveBound, envelope.ToolCalls)
	if err != nil {
		return nil, err
	}
	if liveHash != envelope.PlanHash {
		return nil, verificationErr(CodeContextDrift,
			"plan hash %s does not match approved %s",
			planhash.Prefix(liveHash), planhash.Prefix(envelope.PlanHash))
	}

	// Stage 4: bijection. Submitted ids must equal the stored ids — same
	// set, same order, no omissions or additions.
	if !util.SameOrder(submission.ToolCallIDs(), model.ToolCallIDs(envelope.ToolCalls)) {
		return nil, verificationErr(CodeBijectionMismatch,
			"submitted tool-call ids do not match the requested sequence")
	}

	// Stage 5: atomic consume. Exactly one row moves pending -> consumed,
	// or someone else already won (or the TTL elapsed).
	ok, err := s.repo.Consume(ctx, envelope.Nonce, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrExpiredOrConsumed
	}
	s.logger.Printf("consumed envelope %s", envelope.EnvelopeID)
	return submission.Decisions, nil
}

func signedDecisionsEqual(a, b []model.SignedDecision) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ExpirePendingEnvelopes marks every still-pending envelope expired. Invoked
// from the key-rotation callback so no pending approval outlives its key's
// trust chain.
func (s *Store) ExpirePendingEnvelopes(ctx context.Context) error {
	n, err := s.repo.ExpireAllPending(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Printf("expired %d pending envelopes", n)
	}
	return nil
}

// ExpireDueEnvelopes sweeps pending envelopes past their TTL.
func (s *Store) ExpireDueEnvelopes(ctx context.Context) (int64, error) {
	return s.repo.ExpireDue(ctx, s.now())
}

// PruneExpiredEnvelopes deletes expired envelopes older than the retention
// window.
func (s *Store) PruneExpiredEnvelopes(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.limits.Retention)
	return s.repo.DeleteExpiredBefore(ctx, cutoff)
}
