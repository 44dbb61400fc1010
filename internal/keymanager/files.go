/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keymanager

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	keyFileVersion = 1

	privateKeyFileName = "private_key.json"
	publicKeyFileName  = "public_key.json"
	keyringFileName    = "keyring.json"
)

// privateKeyFile is the persisted encrypted private half.
type privateKeyFile struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	KDF       kdfParams `json:"kdf"`
	AEAD      aeadMeta  `json:"aead"`
	Ciphertext string   `json:"ciphertext_b64"`
}

type aeadMeta struct {
	Name     string `json:"name"`
	NonceB64 string `json:"nonce_b64"`
}

// publicKeyFile is the persisted public half.
type publicKeyFile struct {
	Version      int       `json:"version"`
	KeyID        string    `json:"key_id"`
	PublicKeyHex string    `json:"public_key_hex"`
	CreatedAt    time.Time `json:"created_at"`
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func fromB64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64", ErrMalformedKeyFile)
	}
	return b, nil
}

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedKeyFile, filepath.Base(path), err)
	}
	return nil
}

func (f *privateKeyFile) validate() error {
	if f.Version != keyFileVersion {
		return fmt.Errorf("%w: unsupported private key version %d", ErrMalformedKeyFile, f.Version)
	}
	if f.AEAD.Name != aeadName {
		return fmt.Errorf("%w: unsupported aead %q", ErrMalformedKeyFile, f.AEAD.Name)
	}
	if f.KDF.SaltB64 == "" || f.Ciphertext == "" {
		return fmt.Errorf("%w: missing salt or ciphertext", ErrMalformedKeyFile)
	}
	return nil
}

func (f *publicKeyFile) validate() error {
	if f.Version != keyFileVersion {
		return fmt.Errorf("%w: unsupported public key version %d", ErrMalformedKeyFile, f.Version)
	}
	if f.KeyID == "" || f.PublicKeyHex == "" {
		return fmt.Errorf("%w: missing key_id or public_key_hex", ErrMalformedKeyFile)
	}
	return nil
}
