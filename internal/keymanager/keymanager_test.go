/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keymanager

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"testing"
	"time"

	"github.com/agentvault/approvald/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/scrypt"
)

const testPassphrase = "correct horse battery"

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return New(t.TempDir(), log.Default())
}

func TestCreateInitialKey_RejectsShortPassphrase(t *testing.T) {
	m := newTestManager(t)
	err := m.CreateInitialKey("short")
	assert.ErrorIs(t, err, ErrPassphraseTooShort)
}

func TestCreateInitialKey_WritesFilesOnce(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))

	for _, path := range []string{m.privateKeyPath(), m.publicKeyPath(), m.keyringPath()} {
		_, err := os.Stat(path)
		assert.Nil(t, err, "expected %s to exist", path)
	}

	entries, err := m.KeyringEntries()
	require.Nil(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Retired())

	// second creation over the same directory must fail
	err = m.CreateInitialKey(testPassphrase)
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestUnlock_WrongPassphrase(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	m.Close()

	err := m.Unlock("not the passphrase")
	assert.ErrorIs(t, err, ErrWrongPassphrase)
	assert.False(t, m.Unlocked())
}

func TestUnlock_Roundtrip(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	keyID, err := m.ActiveKeyID()
	require.Nil(t, err)
	m.Close()
	assert.False(t, m.Unlocked())

	require.Nil(t, m.Unlock(testPassphrase))
	assert.True(t, m.Unlocked())
	unlockedID, err := m.ActiveKeyID()
	require.Nil(t, err)
	assert.Equal(t, keyID, unlockedID)
}

func TestUnlock_DetectsMismatchedFilePair(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	m.Close()

	// overwrite the public file with a key from a different pair
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.Nil(t, err)
	pubFile := publicKeyFile{
		Version:      keyFileVersion,
		KeyID:        KeyIDFor(otherPub),
		PublicKeyHex: hex.EncodeToString(otherPub),
		CreatedAt:    time.Now().UTC(),
	}
	require.Nil(t, writeJSONFile(m.publicKeyPath(), &pubFile))

	err = m.Unlock(testPassphrase)
	assert.ErrorIs(t, err, ErrKeyIDMismatch)
}

func TestUnlock_MalformedFile(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	m.Close()

	require.Nil(t, os.WriteFile(m.privateKeyPath(), []byte("{not json"), 0o600))
	err := m.Unlock(testPassphrase)
	assert.ErrorIs(t, err, ErrMalformedKeyFile)
}

func TestUnlock_UpgradesLegacyScryptFile(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	keyID, err := m.ActiveKeyID()
	require.Nil(t, err)
	seed := m.priv.Seed()
	createdAt := m.createdAt
	m.Close()

	// rewrite the private file as a scrypt-era record
	salt := make([]byte, saltLen)
	_, err = rand.Read(salt)
	require.Nil(t, err)
	params := kdfParams{Name: kdfScrypt, SaltB64: b64(salt), N: scryptN, R: scryptR, P: scryptP}
	derived, err := scrypt.Key([]byte(testPassphrase), salt, scryptN, scryptR, scryptP, derivedKeyLen)
	require.Nil(t, err)
	nonce, ciphertext, err := sealPrivateKey(derived, seed)
	require.Nil(t, err)
	legacy := privateKeyFile{
		Version:    keyFileVersion,
		CreatedAt:  createdAt,
		KDF:        params,
		AEAD:       aeadMeta{Name: aeadName, NonceB64: b64(nonce)},
		Ciphertext: b64(ciphertext),
	}
	require.Nil(t, writeJSONFile(m.privateKeyPath(), &legacy))

	// unlock succeeds and transparently re-encrypts under current policy
	require.Nil(t, m.Unlock(testPassphrase))
	upgradedID, err := m.ActiveKeyID()
	require.Nil(t, err)
	assert.Equal(t, keyID, upgradedID)

	var rewritten privateKeyFile
	require.Nil(t, readJSONFile(m.privateKeyPath(), &rewritten))
	assert.Equal(t, kdfArgon2id, rewritten.KDF.Name)
	assert.Equal(t, uint32(argon2Time), rewritten.KDF.Time)
	assert.Equal(t, uint32(argon2MemoryKB), rewritten.KDF.MemoryKB)

	// and the upgraded file still unlocks with the same passphrase
	m.Close()
	require.Nil(t, m.Unlock(testPassphrase))
}

func TestSignVerify_Roundtrip(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	keyID, err := m.ActiveKeyID()
	require.Nil(t, err)

	payload := []byte("payload under test")
	sig, err := m.SignPayload(payload)
	require.Nil(t, err)

	assert.Nil(t, m.VerifySignature(keyID, payload, sig))
	assert.ErrorIs(t, m.VerifySignature(keyID, []byte("tampered"), sig), ErrBadSignature)
	assert.ErrorIs(t, m.VerifySignature("0000", payload, sig), ErrUnknownKeyID)
}

func TestSignPayload_RequiresUnlock(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	m.Close()

	_, err := m.SignPayload([]byte("x"))
	assert.ErrorIs(t, err, ErrLocked)
}

func TestRotateKey_RetiresOldAndKeepsItVerifiable(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))
	oldKeyID, err := m.ActiveKeyID()
	require.Nil(t, err)

	payload := []byte("signed before rotation")
	oldSig, err := m.SignPayload(payload)
	require.Nil(t, err)

	expired := false
	newPassphrase := "rotated passphrase 42"
	require.Nil(t, m.RotateKey(testPassphrase, newPassphrase, func() error {
		expired = true
		return nil
	}))
	assert.True(t, expired, "expire-pending callback must run")

	newKeyID, err := m.ActiveKeyID()
	require.Nil(t, err)
	assert.NotEqual(t, oldKeyID, newKeyID)

	entries, err := m.KeyringEntries()
	require.Nil(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Retired())
	assert.False(t, entries[1].Retired())

	// old signature still verifies through the keyring
	assert.Nil(t, m.VerifySignature(oldKeyID, payload, oldSig))

	// new key signs and verifies
	sig, err := m.SignPayload(payload)
	require.Nil(t, err)
	assert.Nil(t, m.VerifySignature(newKeyID, payload, sig))

	// the new passphrase owns the private file now
	m.Close()
	assert.ErrorIs(t, m.Unlock(testPassphrase), ErrWrongPassphrase)
	require.Nil(t, m.Unlock(newPassphrase))
}

func TestSignedObject_DeterministicBytes(t *testing.T) {
	m := newTestManager(t)
	require.Nil(t, m.CreateInitialKey(testPassphrase))

	decisions := []model.SignedDecision{
		{ToolCallID: "c1", Approved: true},
		{ToolCallID: "c2", Approved: false},
	}
	obj1, raw1, err := m.SignedObject("nonce-1", "hash-1", decisions)
	require.Nil(t, err)
	_, raw2, err := m.SignedObject("nonce-1", "hash-1", decisions)
	require.Nil(t, err)

	assert.Equal(t, raw1, raw2)
	assert.Equal(t, SignedObjectCtx, obj1.Ctx)

	decoded, err := DecodeSignedObject(raw1)
	require.Nil(t, err)
	assert.Equal(t, obj1, decoded)
}
