/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keymanager

import "errors"

var (
	ErrKeyExists          = errors.New("signing key files already exist")
	ErrNoKey              = errors.New("no signing key has been created")
	ErrLocked             = errors.New("key manager is locked")
	ErrWrongPassphrase    = errors.New("wrong passphrase")
	ErrPassphraseTooShort = errors.New("passphrase is too short")
	ErrMalformedKeyFile   = errors.New("malformed key file")
	ErrKeyIDMismatch      = errors.New("private key does not match stored public key")
	ErrUnknownKeyID       = errors.New("unknown key id")
	ErrBadSignature       = errors.New("signature verification failed")
)
