// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/sandbox"
)

const identityProgram = `function transform(input) { return { total: input.amount }; }`

func totalSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	schema, err := CompileSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"total": map[string]any{"type": "number"},
		},
		"required":             []any{"total"},
		"additionalProperties": false,
	})
	require.NoError(t, err)
	return schema
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema(map[string]any{"type": 12345})
	assert.Error(t, err)
}

func TestExecute_CleanOutput(t *testing.T) {
	v := New(sandbox.New(0))
	record := datatypes.NewRecord(map[string]any{"amount": 4.0})

	outcome := v.Execute(identityProgram, totalSchema(t), record)
	require.True(t, outcome.Clean())
	// Outputs are normalized to decoded-JSON representation.
	assert.Equal(t, 4.0, outcome.Output["total"])
}

func TestExecute_SchemaViolation(t *testing.T) {
	v := New(sandbox.New(0))
	program := `function transform(input) { return { total: "not a number" }; }`
	record := datatypes.NewRecord(map[string]any{"amount": 4.0})

	outcome := v.Execute(program, totalSchema(t), record)
	require.NotNil(t, outcome.SchemaError)
	assert.Nil(t, outcome.ExecutionError)
	assert.False(t, outcome.Clean())
}

func TestExecute_ExecutionFault(t *testing.T) {
	v := New(sandbox.New(0))
	program := `function transform(input) { return input.missing.deeply; }`
	record := datatypes.NewRecord(map[string]any{"amount": 4.0})

	outcome := v.Execute(program, totalSchema(t), record)
	require.NotNil(t, outcome.ExecutionError)
	assert.Nil(t, outcome.SchemaError)
}

func TestExecute_NilSchemaIsSchemaDefect(t *testing.T) {
	v := New(sandbox.New(0))
	record := datatypes.NewRecord(map[string]any{"amount": 4.0})

	outcome := v.Execute(identityProgram, nil, record)
	require.NotNil(t, outcome.SchemaError)
	assert.Contains(t, outcome.SchemaError.Message, "not a valid jsonschema")
}

func TestValidateExample_LogicDefect(t *testing.T) {
	v := New(sandbox.New(0))
	example := datatypes.NewExampleRecord(
		map[string]any{"amount": 4.0},
		map[string]any{"total": 5.0},
	)

	outcome := v.ValidateExample(identityProgram, totalSchema(t), example)
	require.NotNil(t, outcome.LogicError)
	assert.Equal(t, map[string]any{"total": 4.0}, outcome.LogicError.ActualOutput)
	assert.Equal(t, map[string]any{"total": 5.0}, outcome.LogicError.ExpectedOutput)
}

func TestValidateExample_Agreement(t *testing.T) {
	v := New(sandbox.New(0))
	example := datatypes.NewExampleRecord(
		map[string]any{"amount": 4.0},
		map[string]any{"total": 4.0},
	)

	outcome := v.ValidateExample(identityProgram, totalSchema(t), example)
	assert.True(t, outcome.Clean())
}
