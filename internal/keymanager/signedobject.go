/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keymanager

import (
	"fmt"

	"github.com/agentvault/approvald/internal/domain/model"
	"github.com/fxamacker/cbor/v2"
)

// SignedObjectCtx tags the signed-object format. Bytes signed under any other
// ctx can never be mistaken for an approval decision set.
const SignedObjectCtx = "approvald/signed-object/v1"

// SignedObject is the exact structure the approval signature covers. The
// denial message is deliberately absent: its wording cannot affect the
// authorization outcome.
type SignedObject struct {
	Ctx       string                 `cbor:"ctx"`
	Nonce     string                 `cbor:"nonce"`
	PlanHash  string                 `cbor:"plan_hash"`
	KeyID     string                 `cbor:"key_id"`
	Decisions []model.SignedDecision `cbor:"decisions"`
}

// encMode is the deterministic encoder: same object, same bytes, always.
var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("keymanager: init cbor enc mode: %v", err))
	}
	encMode = mode
}

// SignedObject builds the structure that gets signed for the given nonce,
// plan hash and decisions, stamped with the active key id, and returns both
// the structure and its deterministic encoding. The returned bytes are the
// exact payload passed to SignPayload.
func (m *Manager) SignedObject(nonce, planHash string, decisions []model.SignedDecision) (*SignedObject, []byte, error) {
	keyID, err := m.ActiveKeyID()
	if err != nil {
		return nil, nil, err
	}
	obj := &SignedObject{
		Ctx:       SignedObjectCtx,
		Nonce:     nonce,
		PlanHash:  planHash,
		KeyID:     keyID,
		Decisions: decisions,
	}
	raw, err := EncodeSignedObject(obj)
	if err != nil {
		return nil, nil, err
	}
	return obj, raw, nil
}

// EncodeSignedObject serializes a signed object deterministically.
func EncodeSignedObject(obj *SignedObject) ([]byte, error) {
	raw, err := encMode.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode signed object: %w", err)
	}
	return raw, nil
}

// DecodeSignedObject parses stored signed-object bytes back into the
// structure for field-by-field integrity comparison.
func DecodeSignedObject(raw []byte) (*SignedObject, error) {
	var obj SignedObject
	if err := cbor.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode signed object: %w", err)
	}
	return &obj, nil
}
