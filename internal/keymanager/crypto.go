/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keymanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"
)

// Key derivation policy. Argon2id is preferred; scrypt parameters exist only
// to read (and transparently upgrade) files written under the fallback
// policy.
const (
	kdfArgon2id = "argon2id"
	kdfScrypt   = "scrypt"

	argon2Time     = 3
	argon2MemoryKB = 64 * 1024
	argon2Threads  = 1

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	derivedKeyLen = 32
	saltLen       = 16
	gcmNonceLen   = 12

	aeadName = "aesgcm"
)

// privateKeyAAD is the fixed associated-data tag bound into every AEAD seal,
// so ciphertext from a different file format can never be misinterpreted as
// a private key.
var privateKeyAAD = []byte("approvald/private-key/v1")

// kdfParams captures the persisted key-derivation record. Exactly one of the
// Argon2 or scrypt parameter sets is meaningful, selected by Name.
type kdfParams struct {
	Name     string `json:"name"`
	SaltB64  string `json:"salt_b64"`
	Time     uint32 `json:"time,omitempty"`
	MemoryKB uint32 `json:"memory_kb,omitempty"`
	Threads  uint8  `json:"threads,omitempty"`
	N        int    `json:"n,omitempty"`
	R        int    `json:"r,omitempty"`
	P        int    `json:"p,omitempty"`
}

// currentKDFParams returns a fresh Argon2id parameter record with a random
// salt.
func currentKDFParams() (kdfParams, []byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return kdfParams{}, nil, fmt.Errorf("generate salt: %w", err)
	}
	return kdfParams{
		Name:     kdfArgon2id,
		SaltB64:  b64(salt),
		Time:     argon2Time,
		MemoryKB: argon2MemoryKB,
		Threads:  argon2Threads,
	}, salt, nil
}

// deriveKey turns a passphrase into the AEAD key under the given parameters.
func deriveKey(passphrase string, params kdfParams, salt []byte) ([]byte, error) {
	switch params.Name {
	case kdfArgon2id:
		return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKB, params.Threads, derivedKeyLen), nil
	case kdfScrypt:
		key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, derivedKeyLen)
		if err != nil {
			return nil, fmt.Errorf("scrypt: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unknown kdf %q", ErrMalformedKeyFile, params.Name)
	}
}

// weakerThanPolicy reports whether a stored KDF record falls below the
// current policy and must be transparently re-encrypted on unlock.
func weakerThanPolicy(params kdfParams) bool {
	if params.Name != kdfArgon2id {
		return true
	}
	return params.Time < argon2Time || params.MemoryKB < argon2MemoryKB
}

// sealPrivateKey encrypts raw private-key bytes with AES-256-GCM under the
// derived key. Returns the random nonce and the ciphertext.
func sealPrivateKey(derived, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcmNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, privateKeyAAD), nil
}

// openPrivateKey decrypts a sealed private key. An authentication failure is
// reported as ErrWrongPassphrase: with AEAD there is no way to tell a bad
// passphrase from tampered ciphertext, and the caller-facing meaning is the
// same.
func openPrivateKey(derived, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcmNonceLen {
		return nil, ErrMalformedKeyFile
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, privateKeyAAD)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
