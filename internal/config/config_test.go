/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8070", cfg.Addr)
	assert.Equal(t, time.Hour, cfg.TTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention)
	assert.Equal(t, time.Minute, cfg.ClockSkew)
	assert.Equal(t, "approvald.db", cfg.StorePath)
	assert.NotEmpty(t, cfg.KeyDir)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APPROVALD_ADDR", "127.0.0.1:9000")
	t.Setenv("APPROVALD_TTL_SECONDS", "120")
	t.Setenv("APPROVALD_RETENTION_SECONDS", "600")
	t.Setenv("APPROVALD_CLOCK_SKEW_SECONDS", "5")
	t.Setenv("APPROVALD_KEY_DIR", "/tmp/keys")
	t.Setenv("APPROVALD_STORE_URL", "sqlite3:///var/lib/approvald/store.db")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 2*time.Minute, cfg.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
	assert.Equal(t, 5*time.Second, cfg.ClockSkew)
	assert.Equal(t, "/tmp/keys", cfg.KeyDir)
	assert.Equal(t, "/var/lib/approvald/store.db", cfg.StorePath)
}

func TestFromEnvRejectsBadSeconds(t *testing.T) {
	t.Setenv("APPROVALD_TTL_SECONDS", "soon")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("APPROVALD_TTL_SECONDS", "-1")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestParseStoreURL(t *testing.T) {
	for raw, want := range map[string]string{
		"sqlite3://approvald.db": "approvald.db",
		"sqlite3:///abs/path.db": "/abs/path.db",
		":memory:":               ":memory:",
		"relative/path.db":       "relative/path.db",
	} {
		got, err := ParseStoreURL(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "sqlite3://", "postgres://db"} {
		_, err := ParseStoreURL(raw)
		assert.Error(t, err, raw)
	}
}
