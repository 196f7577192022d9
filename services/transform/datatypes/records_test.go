// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRecord_StableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"first": 1.0, "second": "two", "third": []any{"a", "b"}}
	b := map[string]any{"third": []any{"a", "b"}, "second": "two", "first": 1.0}

	assert.Equal(t, EncodeRecord(a), EncodeRecord(b))
}

func TestEncodeRecord_SixteenHexChars(t *testing.T) {
	id := EncodeRecord(map[string]any{"value": 42.0})
	require.Len(t, id, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", id)
}

func TestEncodeRecord_DifferentInputsDiffer(t *testing.T) {
	a := EncodeRecord(map[string]any{"value": 1.0})
	b := EncodeRecord(map[string]any{"value": 2.0})
	assert.NotEqual(t, a, b)
}

func TestRecordID_Memoized(t *testing.T) {
	record := NewRecord(map[string]any{"value": 1.0})
	first := record.RecordID()

	// Mutating the input after the first read must not change the id.
	record.Input["value"] = 2.0
	assert.Equal(t, first, record.RecordID())
}

func TestDeepEqualJSON(t *testing.T) {
	a := map[string]any{"nested": map[string]any{"x": 1.0, "y": []any{"a"}}}
	b := map[string]any{"nested": map[string]any{"y": []any{"a"}, "x": 1.0}}
	c := map[string]any{"nested": map[string]any{"x": 2.0, "y": []any{"a"}}}

	assert.True(t, DeepEqualJSON(a, b))
	assert.False(t, DeepEqualJSON(a, c))
}

func TestExampleRecordPrompt(t *testing.T) {
	example := NewExampleRecord(
		map[string]any{"in": 1.0},
		map[string]any{"out": 2.0},
	)
	prompt := example.Prompt()
	assert.Contains(t, prompt, `{"in":1}`)
	assert.Contains(t, prompt, `{"out":2}`)
}
