/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package planhash binds an approval scope and its tool calls into one
// reproducible digest. The plan hash is the cryptographic anchor between
// "what was approved" and "what will execute": any two semantically equal
// structures must canonicalize byte-for-byte identically, or equality of the
// stored and recomputed hashes proves nothing.
package planhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agentvault/approvald/internal/domain/model"
)

// PrefixLen is the number of leading hex characters shown to humans.
const PrefixLen = 8

// PlanHash computes the hex sha256 digest over the canonical form of
// {"scope": scope, "tool_calls": calls}. The scope's tool_call_ids are always
// rebound to the governed calls' ids first, so hash equality also proves
// id-set equality.
func PlanHash(scope model.ApprovalScope, calls []model.DeferredToolCall) (string, error) {
	bound := scope.WithToolCallIDs(model.ToolCallIDs(calls))
	canonical, err := Canonicalize(map[string]any{
		"scope":      bound,
		"tool_calls": calls,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize plan: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Prefix returns the short display form of a plan hash. The full value never
// leaves storage; the human-facing layer only sees this prefix.
func Prefix(hash string) string {
	if len(hash) < PrefixLen {
		return hash
	}
	return hash[:PrefixLen]
}

// Canonicalize serializes v as canonical JSON: lexicographically sorted
// object keys, compact separators, ASCII-only escaping. NaN and Infinity are
// rejected (json.Marshal refuses them before we ever see the tree).
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	// Round-trip through json.Number so numeric literals keep the exact
	// representation Marshal produced.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		writeCanonicalString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical JSON: unsupported type %T", v)
	}
	return nil
}

// writeCanonicalString quotes s with ASCII-only output: the two mandatory
// escapes, short escapes for common controls, and \u00XX / \uXXXX for
// everything else outside printable ASCII.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 || r > 0x7e {
				if r > 0xffff {
					r1, r2 := utf16Split(r)
					fmt.Fprintf(buf, `\u%04x\u%04x`, r1, r2)
				} else {
					fmt.Fprintf(buf, `\u%04x`, r)
				}
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func utf16Split(r rune) (rune, rune) {
	r -= 0x10000
	return 0xd800 + (r >> 10), 0xdc00 + (r & 0x3ff)
}
