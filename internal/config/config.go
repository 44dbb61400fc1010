/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAddr             = ":8070"
	defaultTTLSeconds       = 3600
	defaultRetentionSeconds = 604800
	defaultClockSkewSeconds = 60
	defaultStoreURL         = "sqlite3://approvald.db"
)

// Config captures the tunables required to start the approval daemon.
type Config struct {
	Addr      string
	KeyDir    string
	StorePath string
	TTL       time.Duration
	Retention time.Duration
	ClockSkew time.Duration
	Logger    *log.Logger
}

// FromEnv reads configuration from APPROVALD_* environment variables,
// falling back to defaults. Limit cross-validation (retention vs ttl) is the
// approval store's job; FromEnv only rejects values it cannot parse.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr: envOr("APPROVALD_ADDR", defaultAddr),
	}

	var err error
	if cfg.TTL, err = envSeconds("APPROVALD_TTL_SECONDS", defaultTTLSeconds); err != nil {
		return Config{}, err
	}
	if cfg.Retention, err = envSeconds("APPROVALD_RETENTION_SECONDS", defaultRetentionSeconds); err != nil {
		return Config{}, err
	}
	if cfg.ClockSkew, err = envSeconds("APPROVALD_CLOCK_SKEW_SECONDS", defaultClockSkewSeconds); err != nil {
		return Config{}, err
	}

	cfg.KeyDir = os.Getenv("APPROVALD_KEY_DIR")
	if cfg.KeyDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory for key dir: %w", err)
		}
		cfg.KeyDir = filepath.Join(home, ".approvald", "keys")
	}

	cfg.StorePath, err = ParseStoreURL(envOr("APPROVALD_STORE_URL", defaultStoreURL))
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseStoreURL resolves a store URL to a SQLite DSN. Accepted forms are
// "sqlite3://<path>", a bare path, and ":memory:".
func ParseStoreURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty store url")
	}
	if raw == ":memory:" {
		return raw, nil
	}
	if path, ok := strings.CutPrefix(raw, "sqlite3://"); ok {
		if path == "" {
			return "", fmt.Errorf("store url %q has no path", raw)
		}
		return path, nil
	}
	if strings.Contains(raw, "://") {
		return "", fmt.Errorf("unsupported store url scheme in %q", raw)
	}
	return raw, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envSeconds(key string, fallback int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(fallback) * time.Second, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative integer", key, raw)
	}
	return time.Duration(n) * time.Second, nil
}
