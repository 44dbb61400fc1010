/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keymanager

import (
	"fmt"
	"os"
	"time"

	"github.com/agentvault/approvald/internal/domain/model"
)

// keyringFile is the append-only log of historical public keys. It exists
// only for signature verification; rotation appends, nothing ever removes.
type keyringFile struct {
	Version int                  `json:"version"`
	Keys    []model.KeyringEntry `json:"keys"`
}

func (m *Manager) keyringPath() string {
	return m.pathTo(keyringFileName)
}

// loadKeyring reads the keyring file. A missing file is an empty keyring;
// it only comes into existence with the first key generation.
func (m *Manager) loadKeyring() (*keyringFile, error) {
	var ring keyringFile
	if err := readJSONFile(m.keyringPath(), &ring); err != nil {
		if os.IsNotExist(err) {
			return &keyringFile{Version: keyFileVersion}, nil
		}
		return nil, err
	}
	if ring.Version != keyFileVersion {
		return nil, fmt.Errorf("%w: unsupported keyring version %d", ErrMalformedKeyFile, ring.Version)
	}
	return &ring, nil
}

func (m *Manager) saveKeyring(ring *keyringFile) error {
	return writeJSONFile(m.keyringPath(), ring)
}

// appendKeyringEntry records a newly generated key as active.
func (m *Manager) appendKeyringEntry(keyID, publicKeyHex string, createdAt time.Time) error {
	ring, err := m.loadKeyring()
	if err != nil {
		return err
	}
	ring.Keys = append(ring.Keys, model.KeyringEntry{
		KeyID:        keyID,
		PublicKeyHex: publicKeyHex,
		CreatedAt:    createdAt,
	})
	return m.saveKeyring(ring)
}

// retireActiveEntries marks every not-yet-retired entry retired. Called on
// rotation so exactly one active entry remains afterwards.
func (m *Manager) retireActiveEntries(retiredAt time.Time) error {
	ring, err := m.loadKeyring()
	if err != nil {
		return err
	}
	for i := range ring.Keys {
		if ring.Keys[i].RetiredAt == nil {
			t := retiredAt
			ring.Keys[i].RetiredAt = &t
		}
	}
	return m.saveKeyring(ring)
}

// keyringLookup resolves a public key hex by key id, active or retired.
func (m *Manager) keyringLookup(keyID string) (string, error) {
	ring, err := m.loadKeyring()
	if err != nil {
		return "", err
	}
	for _, entry := range ring.Keys {
		if entry.KeyID == keyID {
			return entry.PublicKeyHex, nil
		}
	}
	return "", ErrUnknownKeyID
}

// KeyringEntries returns a copy of all keyring entries, oldest first.
func (m *Manager) KeyringEntries() ([]model.KeyringEntry, error) {
	ring, err := m.loadKeyring()
	if err != nil {
		return nil, err
	}
	return append([]model.KeyringEntry(nil), ring.Keys...), nil
}
