/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// KeyringEntry is one record of the append-only keyring: a historical public
// key kept for verifying signatures made before a rotation. Never used for
// signing.
type KeyringEntry struct {
	KeyID        string     `json:"key_id"`
	PublicKeyHex string     `json:"public_key_hex"`
	CreatedAt    time.Time  `json:"created_at"`
	RetiredAt    *time.Time `json:"retired_at"`
}

// Retired reports whether the entry has been rotated out of active use.
func (e KeyringEntry) Retired() bool {
	return e.RetiredAt != nil
}
