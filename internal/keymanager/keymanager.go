/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package keymanager owns the signing keypair lifecycle: creation, unlock,
// rotation, and the historical keyring used to verify signatures made before
// a rotation. The private half exists unencrypted only inside a Manager that
// performed a successful Unlock, and is wiped on Close.
package keymanager

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// MinPassphraseLen is the minimum accepted passphrase length.
const MinPassphraseLen = 12

// Manager holds the active signing key and its file locations.
type Manager struct {
	keyDir string
	logger *log.Logger

	priv      ed25519.PrivateKey // nil while locked
	keyID     string
	createdAt time.Time
}

// New constructs a locked Manager over the given key directory.
func New(keyDir string, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{keyDir: keyDir, logger: logger}
}

func (m *Manager) pathTo(name string) string {
	return filepath.Join(m.keyDir, name)
}

func (m *Manager) privateKeyPath() string { return m.pathTo(privateKeyFileName) }
func (m *Manager) publicKeyPath() string  { return m.pathTo(publicKeyFileName) }

// KeyIDFor derives the key id of a raw Ed25519 public key.
func KeyIDFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// CreateInitialKey generates the first Ed25519 keypair, encrypts the private
// half under the passphrase, and writes the private, public and keyring
// files. Fails if key files already exist.
func (m *Manager) CreateInitialKey(passphrase string) error {
	if len(passphrase) < MinPassphraseLen {
		return fmt.Errorf("%w: need at least %d characters", ErrPassphraseTooShort, MinPassphraseLen)
	}
	for _, path := range []string{m.privateKeyPath(), m.publicKeyPath()} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := m.persistKeypair(pub, priv, passphrase, now); err != nil {
		return err
	}
	if err := m.appendKeyringEntry(KeyIDFor(pub), hex.EncodeToString(pub), now); err != nil {
		return err
	}

	m.priv = priv
	m.keyID = KeyIDFor(pub)
	m.createdAt = now
	m.logger.Printf("created signing key %s", m.keyID)
	return nil
}

// persistKeypair writes both key files for the given pair.
func (m *Manager) persistKeypair(pub ed25519.PublicKey, priv ed25519.PrivateKey, passphrase string, createdAt time.Time) error {
	params, salt, err := currentKDFParams()
	if err != nil {
		return err
	}
	derived, err := deriveKey(passphrase, params, salt)
	if err != nil {
		return err
	}
	defer zeroBytes(derived)

	nonce, ciphertext, err := sealPrivateKey(derived, priv.Seed())
	if err != nil {
		return fmt.Errorf("encrypt private key: %w", err)
	}

	privFile := privateKeyFile{
		Version:    keyFileVersion,
		CreatedAt:  createdAt,
		KDF:        params,
		AEAD:       aeadMeta{Name: aeadName, NonceB64: b64(nonce)},
		Ciphertext: b64(ciphertext),
	}
	if err := writeJSONFile(m.privateKeyPath(), &privFile); err != nil {
		return fmt.Errorf("write private key file: %w", err)
	}

	pubFile := publicKeyFile{
		Version:      keyFileVersion,
		KeyID:        KeyIDFor(pub),
		PublicKeyHex: hex.EncodeToString(pub),
		CreatedAt:    createdAt,
	}
	if err := writeJSONFile(m.publicKeyPath(), &pubFile); err != nil {
		return fmt.Errorf("write public key file: %w", err)
	}
	return nil
}

// Unlock decrypts the stored private key into memory. It verifies that the
// derived key id matches the stored public key file, catching corrupted or
// mismatched file pairs, and transparently re-encrypts the private file
// under current KDF policy when the stored parameters are weaker.
func (m *Manager) Unlock(passphrase string) error {
	var privFile privateKeyFile
	if err := readJSONFile(m.privateKeyPath(), &privFile); err != nil {
		if os.IsNotExist(err) {
			return ErrNoKey
		}
		return err
	}
	if err := privFile.validate(); err != nil {
		return err
	}

	var pubFile publicKeyFile
	if err := readJSONFile(m.publicKeyPath(), &pubFile); err != nil {
		if os.IsNotExist(err) {
			return ErrNoKey
		}
		return err
	}
	if err := pubFile.validate(); err != nil {
		return err
	}

	salt, err := fromB64(privFile.KDF.SaltB64)
	if err != nil {
		return err
	}
	nonce, err := fromB64(privFile.AEAD.NonceB64)
	if err != nil {
		return err
	}
	ciphertext, err := fromB64(privFile.Ciphertext)
	if err != nil {
		return err
	}

	derived, err := deriveKey(passphrase, privFile.KDF, salt)
	if err != nil {
		return err
	}
	defer zeroBytes(derived)

	seed, err := openPrivateKey(derived, nonce, ciphertext)
	if err != nil {
		return err
	}
	if len(seed) != ed25519.SeedSize {
		zeroBytes(seed)
		return fmt.Errorf("%w: bad private key length", ErrMalformedKeyFile)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	zeroBytes(seed)

	keyID := KeyIDFor(priv.Public().(ed25519.PublicKey))
	if keyID != pubFile.KeyID {
		zeroBytes(priv)
		return ErrKeyIDMismatch
	}

	if weakerThanPolicy(privFile.KDF) {
		if err := m.persistKeypair(priv.Public().(ed25519.PublicKey), priv, passphrase, privFile.CreatedAt); err != nil {
			zeroBytes(priv)
			return fmt.Errorf("upgrade key encryption: %w", err)
		}
		m.logger.Printf("re-encrypted signing key %s under current KDF policy", keyID)
	}

	m.priv = priv
	m.keyID = keyID
	m.createdAt = privFile.CreatedAt
	return nil
}

// RotateKey replaces the active keypair. The old key is unlocked with its
// passphrase, its keyring entry is retired, a fresh pair is generated and
// persisted under the new passphrase, and expirePending is invoked so the
// approval store can expire every envelope still pending under the retiring
// key. Rotation must not leave signable-but-unverifiable pending approvals.
func (m *Manager) RotateKey(currentPassphrase, newPassphrase string, expirePending func() error) error {
	if len(newPassphrase) < MinPassphraseLen {
		return fmt.Errorf("%w: need at least %d characters", ErrPassphraseTooShort, MinPassphraseLen)
	}
	if err := m.Unlock(currentPassphrase); err != nil {
		return err
	}
	oldPriv := m.priv
	oldKeyID := m.keyID

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	now := time.Now().UTC().Truncate(time.Second)

	if err := m.retireActiveEntries(now); err != nil {
		return err
	}
	if err := m.persistKeypair(pub, priv, newPassphrase, now); err != nil {
		return err
	}
	if err := m.appendKeyringEntry(KeyIDFor(pub), hex.EncodeToString(pub), now); err != nil {
		return err
	}

	if expirePending != nil {
		if err := expirePending(); err != nil {
			return fmt.Errorf("expire pending envelopes: %w", err)
		}
	}

	zeroBytes(oldPriv)
	m.priv = priv
	m.keyID = KeyIDFor(pub)
	m.createdAt = now
	m.logger.Printf("rotated signing key %s -> %s", oldKeyID, m.keyID)
	return nil
}

// SignPayload signs an exact byte string with the unlocked private key.
func (m *Manager) SignPayload(payload []byte) ([]byte, error) {
	if m.priv == nil {
		return nil, ErrLocked
	}
	return ed25519.Sign(m.priv, payload), nil
}

// VerifySignature verifies a raw Ed25519 signature over payload. The public
// key is resolved by key id from the active key or the keyring, so envelopes
// signed before a rotation remain verifiable.
func (m *Manager) VerifySignature(keyID string, payload, signature []byte) error {
	pubHex, err := m.resolvePublicKey(keyID)
	if err != nil {
		return err
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key for %s", ErrMalformedKeyFile, keyID)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, signature) {
		return ErrBadSignature
	}
	return nil
}

func (m *Manager) resolvePublicKey(keyID string) (string, error) {
	var pubFile publicKeyFile
	if err := readJSONFile(m.publicKeyPath(), &pubFile); err == nil && pubFile.KeyID == keyID {
		return pubFile.PublicKeyHex, nil
	}
	return m.keyringLookup(keyID)
}

// ActiveKeyID returns the key id of the currently persisted public key. It
// works whether or not the manager is unlocked.
func (m *Manager) ActiveKeyID() (string, error) {
	if m.keyID != "" {
		return m.keyID, nil
	}
	var pubFile publicKeyFile
	if err := readJSONFile(m.publicKeyPath(), &pubFile); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoKey
		}
		return "", err
	}
	if err := pubFile.validate(); err != nil {
		return "", err
	}
	return pubFile.KeyID, nil
}

// Unlocked reports whether private key material is resident.
func (m *Manager) Unlocked() bool {
	return m.priv != nil
}

// Close wipes the in-memory private key. The Manager reverts to locked.
func (m *Manager) Close() {
	if m.priv != nil {
		zeroBytes(m.priv)
		m.priv = nil
	}
	m.keyID = ""
}
