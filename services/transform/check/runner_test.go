// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package check

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/sandbox"
	"github.com/AleutianAI/autotransform/services/transform/validate"
)

type recordedRun struct {
	configID uuid.UUID
	runID    uuid.UUID
	update   datatypes.RunUpdate
}

type fakeRecorder struct {
	runs []recordedRun
}

func (f *fakeRecorder) AddRun(configID, runID uuid.UUID, update datatypes.RunUpdate) {
	f.runs = append(f.runs, recordedRun{configID: configID, runID: runID, update: update})
}

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
			datatypes.NewExampleRecord(map[string]any{"a": 5.0, "b": 5.0}, map[string]any{"sum": 10.0}),
		},
		CurrentRecords: []*datatypes.Record{
			datatypes.NewRecord(map[string]any{"a": 7.0, "b": 8.0}),
		},
		CodeQA: datatypes.DefaultCodeQa(),
	}
}

func newRunner(recorder RunRecorder) *Runner {
	return New(validate.New(sandbox.New(0)), recorder)
}

func TestRun_Pass(t *testing.T) {
	recorder := &fakeRecorder{}
	runner := newRunner(recorder)
	config := sumConfig()
	runID := uuid.New()

	passed, report := runner.Run(config, `function transform(input) { return { sum: input.a + input.b }; }`, runID)
	assert.True(t, passed)
	assert.Equal(t, SuccessReport, report)

	require.Len(t, recorder.runs, 1)
	assert.Equal(t, config.ConfigID, recorder.runs[0].configID)
	assert.Equal(t, runID, recorder.runs[0].runID)
	assert.Empty(t, recorder.runs[0].update.SchemaErrors)
	assert.Empty(t, recorder.runs[0].update.ExecutionErrors)
	assert.Empty(t, recorder.runs[0].update.LogicErrors)
}

func TestRun_LogicFailure(t *testing.T) {
	recorder := &fakeRecorder{}
	runner := newRunner(recorder)
	config := sumConfig()

	passed, report := runner.Run(config, `function transform(input) { return { sum: input.a * input.b }; }`, uuid.New())
	assert.False(t, passed)
	assert.Contains(t, report, "**Logic Errors**:")
	assert.NotContains(t, report, SchemaErrorsHeader)

	require.Len(t, recorder.runs, 1)
	// 1*2=2 and 5*5=25 both disagree with the expected sums.
	assert.Len(t, recorder.runs[0].update.LogicErrors, 2)
}

func TestRun_ExecutionFailure(t *testing.T) {
	recorder := &fakeRecorder{}
	runner := newRunner(recorder)
	config := sumConfig()

	passed, report := runner.Run(config, `function transform(input) { throw new Error("nope"); }`, uuid.New())
	assert.False(t, passed)
	assert.Contains(t, report, "**Execution Errors**:")
	// Faults are reported for every potential input and every example.
	assert.Len(t, recorder.runs[0].update.ExecutionErrors, 3)
}

func TestRun_SchemaFailureMentionsHeader(t *testing.T) {
	recorder := &fakeRecorder{}
	runner := newRunner(recorder)
	config := sumConfig()

	passed, report := runner.Run(config, `function transform(input) { return { sum: "text" }; }`, uuid.New())
	assert.False(t, passed)
	assert.Contains(t, report, SchemaErrorsHeader)
}

func TestReport_EmptyListsPass(t *testing.T) {
	passed, report := Report(nil, nil, nil)
	assert.True(t, passed)
	assert.Equal(t, SuccessReport, report)
}

func TestReport_RendersAllSections(t *testing.T) {
	record := datatypes.NewRecord(map[string]any{"value": 1.0})
	passed, report := Report(
		[]datatypes.SchemaError{{Record: record, Message: "bad shape"}},
		[]datatypes.ExecutionError{{Record: record, Message: "bad call"}},
		[]datatypes.LogicError{{
			Record:         record,
			ActualOutput:   map[string]any{"x": 1.0},
			ExpectedOutput: map[string]any{"x": 2.0},
		}},
	)
	assert.False(t, passed)
	assert.Contains(t, report, SchemaErrorsHeader)
	assert.Contains(t, report, "**Execution Errors**:")
	assert.Contains(t, report, "**Logic Errors**:")
	assert.Contains(t, report, "bad shape")
	assert.Contains(t, report, "bad call")
}
