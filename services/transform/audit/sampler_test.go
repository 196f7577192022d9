// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autotransform/services/llm"
	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/registry"
)

// fixedLLM always answers with the same content.
type fixedLLM struct {
	response string
	calls    int
}

func (f *fixedLLM) Complete(ctx context.Context, chat []llm.Message) (string, error) {
	f.calls++
	return f.response, nil
}

func (f *fixedLLM) Stream(ctx context.Context, chat []llm.Message, onDelta func(string)) (string, error) {
	return f.Complete(ctx, chat)
}

func auditConfig(qaPct float64, minQA int) *datatypes.TransformConfig {
	return &datatypes.TransformConfig{
		ConfigID: uuid.New(),
		Name:     "adder",
		Code:     &datatypes.Code{Code: "function transform(input) { return { sum: input.a + input.b }; }"},
		OutputSchema: datatypes.OutputSchema{Schema: map[string]any{
			"type": "object",
		}},
		CodeQA: datatypes.CodeQa{QAPct: qaPct, MinQA: minQA},
	}
}

func TestMaybeAudit_SkippedWhenDrawMisses(t *testing.T) {
	client := &fixedLLM{response: `{"sum": 3}`}
	reg := registry.New()
	sampler := NewWithDraw(client, reg, func() float64 { return 0.99 })
	config := auditConfig(0.2, 0)
	record := datatypes.NewRecord(map[string]any{"a": 1.0, "b": 2.0})
	config.AddCurrentRecord(record)

	audited, err := sampler.MaybeAudit(context.Background(), record, map[string]any{"sum": 3.0}, config, 0, 0, 10)
	require.NoError(t, err)
	assert.False(t, audited)
	assert.Zero(t, client.calls)
	assert.Len(t, config.CurrentRecords, 1)
}

func TestMaybeAudit_Agreement(t *testing.T) {
	client := &fixedLLM{response: `{"sum": 3}`}
	reg := registry.New()
	sampler := NewWithDraw(client, reg, func() float64 { return 0.0 })
	config := auditConfig(0.2, 0)
	record := datatypes.NewRecord(map[string]any{"a": 1.0, "b": 2.0})
	config.AddCurrentRecord(record)

	audited, err := sampler.MaybeAudit(context.Background(), record, map[string]any{"sum": 3.0}, config, 0, 0, 10)
	require.NoError(t, err)
	assert.True(t, audited)

	// The audited record becomes a labeled bot example.
	assert.Empty(t, config.CurrentRecords)
	require.Len(t, config.BotProvidedRecords, 1)
	assert.Equal(t, map[string]any{"sum": 3.0}, config.BotProvidedRecords[0].Output)
}

func TestMaybeAudit_Disagreement(t *testing.T) {
	client := &fixedLLM{response: `{"sum": 4}`}
	reg := registry.New()
	sampler := NewWithDraw(client, reg, func() float64 { return 0.0 })
	config := auditConfig(0.2, 0)
	reg.Register(config.ConfigID, datatypes.NewProcessingMessage(uuid.New(), config.ConfigID, 1))
	record := datatypes.NewRecord(map[string]any{"a": 1.0, "b": 2.0})
	config.AddCurrentRecord(record)

	audited, err := sampler.MaybeAudit(context.Background(), record, map[string]any{"sum": 3.0}, config, 0, 0, 1)
	assert.True(t, audited)
	assert.ErrorIs(t, err, ErrLogicDefect)

	// Even a disagreeing derivation is kept as a labeled example.
	require.Len(t, config.BotProvidedRecords, 1)
	assert.Equal(t, map[string]any{"sum": 4.0}, config.BotProvidedRecords[0].Output)

	message, ok := reg.Snapshot(config.ConfigID)
	require.True(t, ok)
	require.Len(t, message.Runs, 1)
	assert.Equal(t, datatypes.StatusFailed, message.Runs[0].Status)
	require.Len(t, message.Runs[0].LogicErrors, 1)
	assert.Equal(t, map[string]any{"sum": 3.0}, message.Runs[0].LogicErrors[0].ActualOutput)
}

func TestMaybeAudit_MinimumGuaranteeBackLoaded(t *testing.T) {
	client := &fixedLLM{response: `{"sum": 3}`}
	reg := registry.New()
	// Draw never fires; only the guarantee can trigger an audit.
	sampler := NewWithDraw(client, reg, func() float64 { return 0.99 })
	config := auditConfig(0.0, 2)
	record := datatypes.NewRecord(map[string]any{"a": 1.0, "b": 2.0})

	// 10 records, none audited yet: positions 0..7 leave more than
	// min_qa records remaining, so no audit is forced.
	audited, err := sampler.MaybeAudit(context.Background(), record, map[string]any{"sum": 3.0}, config, 0, 7, 10)
	require.NoError(t, err)
	assert.False(t, audited)

	// Position 8 leaves exactly 2 remaining with 0 audits done: forced.
	audited, err = sampler.MaybeAudit(context.Background(), record, map[string]any{"sum": 3.0}, config, 0, 8, 10)
	require.NoError(t, err)
	assert.True(t, audited)

	// With the guarantee already met, the tail is not forced.
	audited, err = sampler.MaybeAudit(context.Background(), record, map[string]any{"sum": 3.0}, config, 2, 9, 10)
	require.NoError(t, err)
	assert.False(t, audited)
}

func TestMaybeAudit_UnparseableDerivation(t *testing.T) {
	client := &fixedLLM{response: "no json here"}
	reg := registry.New()
	sampler := NewWithDraw(client, reg, func() float64 { return 0.0 })
	config := auditConfig(1.0, 0)
	record := datatypes.NewRecord(map[string]any{"a": 1.0, "b": 2.0})
	config.AddCurrentRecord(record)

	audited, err := sampler.MaybeAudit(context.Background(), record, map[string]any{"sum": 3.0}, config, 0, 0, 1)
	assert.True(t, audited)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLogicDefect)
	// The record stays in the current pool; nothing was derived for it.
	assert.Len(t, config.CurrentRecords, 1)
}
