// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared types for the transform service:
// records, configs, model chats, processing runs, and processing events.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EncodeRecord returns the stable identity of a record input.
//
// The identity is the first 16 hex characters of the SHA-256 hash of the
// canonical JSON encoding of the input. encoding/json sorts map keys at
// every nesting level, so the identity is invariant under key reordering.
func EncodeRecord(input map[string]any) string {
	raw, err := json.Marshal(input)
	if err != nil {
		// Non-serializable inputs are rejected at the transport layer;
		// fall back to the fmt rendering so the id is still deterministic.
		raw = []byte(fmt.Sprintf("%v", input))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// Record is one bare input unit of data to transform.
//
// Records are identified by a content hash of the input (see EncodeRecord)
// which is used as an idempotency key across record pools.
type Record struct {
	Input map[string]any `json:"input"`

	// id caches the content hash. Records are owned by a single
	// processing goroutine, so no lock is needed.
	id string
}

// NewRecord creates a Record for the given input.
func NewRecord(input map[string]any) *Record {
	return &Record{Input: input}
}

// RecordID returns the stable content-hash identity of the record.
func (r *Record) RecordID() string {
	if r.id == "" {
		r.id = EncodeRecord(r.Input)
	}
	return r.id
}

// Prompt renders the record for inclusion in a model prompt.
func (r *Record) Prompt() string {
	return fmt.Sprintf("_id_:`%s` | _input_:`%s`", r.RecordID(), compactJSON(r.Input))
}

// ExampleRecord is a Record with a ground-truth output attached.
type ExampleRecord struct {
	Record
	Output map[string]any `json:"output"`
}

// NewExampleRecord creates an ExampleRecord for the given input and output.
func NewExampleRecord(input, output map[string]any) *ExampleRecord {
	return &ExampleRecord{Record: Record{Input: input}, Output: output}
}

// Prompt renders the example, including its output, for a model prompt.
func (r *ExampleRecord) Prompt() string {
	return fmt.Sprintf("_id_:`%s` | _input_:`%s` | _output_:`%s`",
		r.RecordID(), compactJSON(r.Input), compactJSON(r.Output))
}

// compactJSON renders a JSON object on one line with sorted keys.
func compactJSON(obj map[string]any) string {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(raw)
}

// DeepEqualJSON reports whether two JSON objects are structurally equal:
// same key sets and equal values. Field order and map key order are not
// significant. Numbers compare by their canonical JSON rendering.
func DeepEqualJSON(a, b map[string]any) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(rawA) == string(rawB)
}
