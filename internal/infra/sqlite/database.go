/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// envelopeTable is the single table owned by the approval store.
const envelopeTable = "approval_envelopes"

// envelopeColumns is the expected column set, in schema order. A persisted
// table with any other column set triggers the migration path.
var envelopeColumns = []string{
	"envelope_id",
	"nonce",
	"scope_json",
	"tool_calls_json",
	"plan_hash",
	"key_id",
	"signed_object",
	"signature",
	"state",
	"issued_at",
	"expires_at",
	"consumed_at",
}

// InitDB initializes the SQLite database, creating or migrating the envelope
// schema as needed.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Connection-level pragmas to improve concurrency and reliability.
	// WAL gives multiple readers plus a serialized writer, which is what the
	// conditional-update consume relies on across processes.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA busy_timeout: %w", err)
	}

	if err := migrateSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

func createStatement() string {
	return `
	CREATE TABLE IF NOT EXISTS ` + envelopeTable + ` (
		envelope_id TEXT PRIMARY KEY,
		nonce TEXT UNIQUE NOT NULL,
		scope_json TEXT NOT NULL,
		tool_calls_json TEXT NOT NULL,
		plan_hash TEXT NOT NULL,
		key_id TEXT NOT NULL,
		signed_object BLOB,
		signature BLOB,
		state TEXT NOT NULL DEFAULT 'pending',
		issued_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		consumed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_approval_envelopes_nonce ON ` + envelopeTable + `(nonce);
	CREATE INDEX IF NOT EXISTS idx_approval_envelopes_state ON ` + envelopeTable + `(state);
	CREATE INDEX IF NOT EXISTS idx_approval_envelopes_expires_at ON ` + envelopeTable + `(expires_at);
	CREATE INDEX IF NOT EXISTS idx_approval_envelopes_key_id ON ` + envelopeTable + `(key_id);
	`
}

// tableColumns returns the column names of a table in definition order, or
// nil when the table does not exist.
func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return nil, fmt.Errorf("scan table_info: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

// migrateSchema creates the envelope table, or migrates an incompatible one
// in place: rename, recreate, copy rows across, remap still-pending legacy
// rows to expired, drop the legacy table. A row that was pending under an
// old schema can never be trusted to resume safely.
func migrateSchema(ctx context.Context, db *sql.DB) error {
	existing, err := tableColumns(ctx, db, envelopeTable)
	if err != nil {
		return err
	}
	if existing != nil && sameColumnSet(existing, envelopeColumns) {
		// schema is current; still ensure indexes exist
		_, err := db.ExecContext(ctx, createStatement())
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if existing == nil {
		if _, err := tx.ExecContext(ctx, createStatement()); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
		return tx.Commit()
	}

	// incompatible column set: rename + recreate + copy
	legacy := envelopeTable + "_legacy"
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", envelopeTable, legacy)); err != nil {
		return fmt.Errorf("rename legacy table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createStatement()); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	legacySet := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		legacySet[c] = struct{}{}
	}
	selectExprs := make([]string, len(envelopeColumns))
	for i, col := range envelopeColumns {
		if _, ok := legacySet[col]; ok {
			selectExprs[i] = col
			continue
		}
		// column absent in the legacy schema: fill a safe default
		switch col {
		case "signed_object", "signature", "consumed_at":
			selectExprs[i] = "NULL"
		case "issued_at", "expires_at":
			selectExprs[i] = "CURRENT_TIMESTAMP"
		case "state":
			selectExprs[i] = "'expired'"
		default:
			selectExprs[i] = "''"
		}
	}
	copyStmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		envelopeTable,
		strings.Join(envelopeColumns, ", "),
		strings.Join(selectExprs, ", "),
		legacy,
	)
	if _, err := tx.ExecContext(ctx, copyStmt); err != nil {
		return fmt.Errorf("copy legacy rows: %w", err)
	}

	// pending rows from an incompatible schema become expired, explicitly
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET state = 'expired' WHERE state = 'pending'", envelopeTable)); err != nil {
		return fmt.Errorf("remap legacy pending rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", legacy)); err != nil {
		return fmt.Errorf("drop legacy table: %w", err)
	}

	return tx.Commit()
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
