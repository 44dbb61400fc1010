/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package approval

import "fmt"

// Code is the stable identifier of a verification failure. The set is
// closed: callers match on these instead of comparing message strings.
type Code string

const (
	CodeUnknownNonce           Code = "unknown_nonce"
	CodeExpiredOrConsumed      Code = "expired_or_consumed"
	CodeUnknownKeyID           Code = "unknown_key_id"
	CodeInvalidSignature       Code = "invalid_signature"
	CodeBijectionMismatch      Code = "bijection_mismatch"
	CodeContextDrift           Code = "context_drift"
	CodeInvalidSubmission      Code = "invalid_submission"
	CodeScopeSchemaUnsupported Code = "scope_schema_unsupported"
	CodeToolPolicyViolation    Code = "tool_policy_violation"
)

// VerificationError is a verification failure with its stable code. None of
// these are retried automatically; context_drift is the one code callers are
// expected to retry with a corrected scope, since it never consumes the
// nonce.
type VerificationError struct {
	Code    Code
	Message string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches any VerificationError with the same code, so
// errors.Is(err, ErrContextDrift) works regardless of message.
func (e *VerificationError) Is(target error) bool {
	t, ok := target.(*VerificationError)
	return ok && t.Code == e.Code
}

func verificationErr(code Code, format string, args ...any) *VerificationError {
	return &VerificationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinel values for errors.Is matching, one per taxonomy entry.
var (
	ErrUnknownNonce           = &VerificationError{Code: CodeUnknownNonce, Message: "no envelope for nonce"}
	ErrExpiredOrConsumed      = &VerificationError{Code: CodeExpiredOrConsumed, Message: "envelope expired or already consumed"}
	ErrUnknownKeyID           = &VerificationError{Code: CodeUnknownKeyID, Message: "key id is not resolvable"}
	ErrInvalidSignature       = &VerificationError{Code: CodeInvalidSignature, Message: "signature verification failed"}
	ErrBijectionMismatch      = &VerificationError{Code: CodeBijectionMismatch, Message: "decisions do not match requested tool calls"}
	ErrContextDrift           = &VerificationError{Code: CodeContextDrift, Message: "live scope differs from approved scope"}
	ErrInvalidSubmission      = &VerificationError{Code: CodeInvalidSubmission, Message: "malformed submission payload"}
	ErrScopeSchemaUnsupported = &VerificationError{Code: CodeScopeSchemaUnsupported, Message: "unsupported scope schema version"}
	ErrToolPolicyViolation    = &VerificationError{Code: CodeToolPolicyViolation, Message: "read-only tool in deferred approval request"}
)
