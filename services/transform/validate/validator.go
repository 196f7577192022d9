// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate classifies one sandbox execution against the config's
// structural schema and, for labeled examples, against ground truth.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/sandbox"
)

// Outcome is the typed classification of one execution. At most one of the
// three defect fields is set; a schema or execution defect suppresses the
// logic comparison since there is nothing correct to compare.
type Outcome struct {
	Output         map[string]any
	SchemaError    *datatypes.SchemaError
	ExecutionError *datatypes.ExecutionError
	LogicError     *datatypes.LogicError
}

// Clean reports whether the execution produced no defect.
func (o Outcome) Clean() bool {
	return o.SchemaError == nil && o.ExecutionError == nil && o.LogicError == nil
}

// Validator runs a program through the sandbox and classifies the result.
type Validator struct {
	runner *sandbox.Runner
}

// New creates a Validator backed by the given sandbox runner.
func New(runner *sandbox.Runner) *Validator {
	return &Validator{runner: runner}
}

// CompileSchema compiles an output schema document for validation.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal output schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output_schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add output schema resource: %w", err)
	}
	compiled, err := compiler.Compile("output_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	return compiled, nil
}

// Execute runs the program against the record and classifies the outcome
// structurally: an execution fault or a schema violation. The logic check
// is the caller's concern (see ValidateExample).
//
// A nil compiled schema means the schema document itself did not compile;
// that is reported as a schema defect so the synthesis loop routes it to
// schema revision.
func (v *Validator) Execute(program string, schema *jsonschema.Schema, record *datatypes.Record) Outcome {
	output, fault := v.runner.Execute(program, record.Input)
	if fault != "" {
		return Outcome{
			Output:         output,
			ExecutionError: &datatypes.ExecutionError{Record: record, Message: fault},
		}
	}

	normalized := normalizeJSON(output)
	if schema == nil {
		return Outcome{
			Output:      normalized,
			SchemaError: &datatypes.SchemaError{Record: record, Message: "output schema is not a valid jsonschema"},
		}
	}
	if err := schema.Validate(normalized); err != nil {
		return Outcome{
			Output:      normalized,
			SchemaError: &datatypes.SchemaError{Record: record, Message: err.Error()},
		}
	}
	return Outcome{Output: normalized}
}

// ValidateExample runs the full check for a labeled example: structural
// classification first, then deep equality against the expected output.
func (v *Validator) ValidateExample(program string, schema *jsonschema.Schema, example *datatypes.ExampleRecord) Outcome {
	outcome := v.Execute(program, schema, &example.Record)
	if !outcome.Clean() {
		return outcome
	}
	if !datatypes.DeepEqualJSON(outcome.Output, example.Output) {
		outcome.LogicError = &datatypes.LogicError{
			Record:         &example.Record,
			ActualOutput:   outcome.Output,
			ExpectedOutput: example.Output,
		}
	}
	return outcome
}

// normalizeJSON round-trips a sandbox result through encoding/json so the
// value uses the same representation as decoded request data (float64
// numbers, map[string]any objects). Required both for schema validation
// and for deterministic deep equality.
func normalizeJSON(obj map[string]any) map[string]any {
	raw, err := json.Marshal(obj)
	if err != nil {
		return obj
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return obj
	}
	return normalized
}
