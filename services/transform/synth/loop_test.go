// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autotransform/services/llm"
	"github.com/AleutianAI/autotransform/services/transform/check"
	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/registry"
	"github.com/AleutianAI/autotransform/services/transform/sandbox"
	"github.com/AleutianAI/autotransform/services/transform/validate"
)

// scriptedLLM replays a fixed sequence of responses and records every
// chat it was asked to complete.
type scriptedLLM struct {
	responses []string
	calls     [][]llm.Message
}

func (s *scriptedLLM) next(chat []llm.Message) (string, error) {
	s.calls = append(s.calls, chat)
	if len(s.responses) == 0 {
		return "", context.DeadlineExceeded
	}
	response := s.responses[0]
	s.responses = s.responses[1:]
	return response, nil
}

func (s *scriptedLLM) Complete(ctx context.Context, chat []llm.Message) (string, error) {
	return s.next(chat)
}

func (s *scriptedLLM) Stream(ctx context.Context, chat []llm.Message, onDelta func(string)) (string, error) {
	content, err := s.next(chat)
	if err == nil && onDelta != nil {
		onDelta(content)
	}
	return content, err
}

func fenced(code string) string {
	return "```javascript\n" + code + "\n```"
}

const goodSum = `function transform(input) { return { sum: input.a + input.b }; }`
const badSum = `function transform(input) { return { sum: input.a * input.b }; }`

func sumConfig() *datatypes.TransformConfig {
	return &datatypes.TransformConfig{
		ConfigID: uuid.New(),
		Name:     "adder",
		OutputSchema: datatypes.OutputSchema{Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sum": map[string]any{"type": "number"},
			},
			"required": []any{"sum"},
		}},
		UserProvidedRecords: []*datatypes.ExampleRecord{
			datatypes.NewExampleRecord(map[string]any{"a": 1.0, "b": 2.0}, map[string]any{"sum": 3.0}),
		},
		CodeQA: datatypes.DefaultCodeQa(),
	}
}

func newGenerator(client llm.LLMClient, maxAttempts int) (*Generator, *registry.Registry) {
	reg := registry.New()
	checker := check.New(validate.New(sandbox.New(0)), reg)
	return New(client, checker, reg, maxAttempts), reg
}

func TestExtractCode(t *testing.T) {
	code, ok := ExtractCode("notes\n```javascript\nfunction transform(input) {}\n```\ntrailing")
	require.True(t, ok)
	assert.Equal(t, "function transform(input) {}", code)

	code, ok = ExtractCode("```js\nvar x = 1;\n```")
	require.True(t, ok)
	assert.Equal(t, "var x = 1;", code)

	_, ok = ExtractCode("no fence here")
	assert.False(t, ok)
}

func TestGenerateAndTest_FirstDraftPasses(t *testing.T) {
	client := &scriptedLLM{responses: []string{fenced(goodSum)}}
	generator, reg := newGenerator(client, 0)
	config := sumConfig()
	reg.Register(config.ConfigID, datatypes.NewProcessingMessage(uuid.New(), config.ConfigID, 0))

	err := generator.GenerateAndTest(context.Background(), config, nil)
	require.NoError(t, err)
	require.NotNil(t, config.Code)
	assert.Equal(t, goodSum, config.Code.Code)

	message, ok := reg.Snapshot(config.ConfigID)
	require.True(t, ok)
	require.Len(t, message.Runs, 1)
	assert.Equal(t, datatypes.StatusRunning, message.Runs[0].Status)
}

func TestGenerateAndTest_RepairsAfterLogicFailure(t *testing.T) {
	client := &scriptedLLM{responses: []string{fenced(badSum), fenced(goodSum)}}
	generator, reg := newGenerator(client, 0)
	config := sumConfig()
	reg.Register(config.ConfigID, datatypes.NewProcessingMessage(uuid.New(), config.ConfigID, 0))

	err := generator.GenerateAndTest(context.Background(), config, nil)
	require.NoError(t, err)
	assert.Equal(t, goodSum, config.Code.Code)

	// The second draft request carries the failure report back to the model.
	require.Len(t, client.calls, 2)
	lastMessage := client.calls[1][len(client.calls[1])-1]
	assert.Contains(t, lastMessage.Content, "**Logic Errors**:")

	message, _ := reg.Snapshot(config.ConfigID)
	require.Len(t, message.Runs, 2)
	assert.Equal(t, datatypes.StatusFailed, message.Runs[0].Status)
	assert.Equal(t, datatypes.StatusRunning, message.Runs[1].Status)
}

func TestGenerateAndTest_AttemptBudgetExhausted(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		fenced(badSum), fenced(badSum), fenced(badSum),
	}}
	generator, reg := newGenerator(client, 3)
	config := sumConfig()
	reg.Register(config.ConfigID, datatypes.NewProcessingMessage(uuid.New(), config.ConfigID, 0))

	err := generator.GenerateAndTest(context.Background(), config, nil)
	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.Nil(t, config.Code)

	message, _ := reg.Snapshot(config.ConfigID)
	assert.Len(t, message.Runs, 3)
}

func TestGenerateAndTest_NoCodeFence(t *testing.T) {
	client := &scriptedLLM{responses: []string{"I would rather describe the approach in prose."}}
	generator, _ := newGenerator(client, 0)

	err := generator.GenerateAndTest(context.Background(), sumConfig(), nil)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestGenerateAndTest_SchemaRevision(t *testing.T) {
	// The schema requires an impossible constant, so the first draft
	// fails structurally; the model then revises the schema and the
	// next draft passes against it.
	config := sumConfig()
	config.OutputSchema = datatypes.OutputSchema{Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sum": map[string]any{"type": "string"},
		},
		"required": []any{"sum"},
	}}

	revised := "```json\n{\"type\": \"object\", \"properties\": {\"sum\": {\"type\": \"number\"}}, \"required\": [\"sum\"]}\n```"
	client := &scriptedLLM{responses: []string{
		fenced(goodSum), // violates the string-typed schema
		revised,         // schema revision
		fenced(goodSum), // passes against the revised schema
	}}
	generator, reg := newGenerator(client, 0)
	reg.Register(config.ConfigID, datatypes.NewProcessingMessage(uuid.New(), config.ConfigID, 0))

	err := generator.GenerateAndTest(context.Background(), config, nil)
	require.NoError(t, err)
	require.NotNil(t, config.Code)

	properties := config.OutputSchema.Schema["properties"].(map[string]any)
	sum := properties["sum"].(map[string]any)
	assert.Equal(t, "number", sum["type"])

	// The passing attempt records the revised schema.
	message, _ := reg.Snapshot(config.ConfigID)
	last := message.Runs[len(message.Runs)-1]
	require.NotNil(t, last.OutputSchema)
}

func TestGenerateAndTest_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedLLM{responses: []string{fenced(goodSum)}}
	generator, _ := newGenerator(client, 0)

	err := generator.GenerateAndTest(ctx, sumConfig(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
