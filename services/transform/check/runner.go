// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package check runs the validator over every known record and labeled
// example of a config and aggregates a pass/fail verdict with a
// human-and-model-readable error report.
package check

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/validate"
)

// SuccessReport is the fixed sentinel returned when every check passes.
const SuccessReport = "No errors found, code is ready for use"

// SchemaErrorsHeader opens the schema section of a failing report. The
// synthesis loop keys its schema-revision path off this header.
const SchemaErrorsHeader = "**Output Schema Errors**:"

// RunRecorder receives the defect lists for the attempt under check.
// Satisfied by the run registry.
type RunRecorder interface {
	AddRun(configID, runID uuid.UUID, update datatypes.RunUpdate)
}

// Runner is the check suite runner.
type Runner struct {
	validator *validate.Validator
	recorder  RunRecorder
}

// New creates a Runner.
func New(validator *validate.Validator, recorder RunRecorder) *Runner {
	return &Runner{validator: validator, recorder: recorder}
}

// Run checks the candidate program against every record in the config's
// pools (schema and execution checks) and every labeled example (full
// checks including logic), records the aggregated defect lists on the
// attempt, and returns the verdict with the rendered report.
//
// passed is true iff all three defect lists are empty, and the report is
// SuccessReport exactly in that case.
func (r *Runner) Run(config *datatypes.TransformConfig, code string, runID uuid.UUID) (passed bool, report string) {
	slog.Info("Running checks", "config_id", config.ConfigID, "run_id", runID)

	var schemaErrors []datatypes.SchemaError
	var executionErrors []datatypes.ExecutionError
	var logicErrors []datatypes.LogicError

	schema, err := validate.CompileSchema(config.OutputSchema.Schema)
	if err != nil {
		slog.Warn("Output schema failed to compile", "config_id", config.ConfigID, "error", err)
		schema = nil
	}

	for _, record := range config.PotentialInputs() {
		outcome := r.validator.Execute(code, schema, record)
		if outcome.SchemaError != nil {
			schemaErrors = append(schemaErrors, *outcome.SchemaError)
		}
		if outcome.ExecutionError != nil {
			executionErrors = append(executionErrors, *outcome.ExecutionError)
		}
	}

	for _, example := range config.Examples() {
		outcome := r.validator.ValidateExample(code, schema, example)
		if outcome.SchemaError != nil {
			schemaErrors = append(schemaErrors, *outcome.SchemaError)
		}
		if outcome.ExecutionError != nil {
			executionErrors = append(executionErrors, *outcome.ExecutionError)
		}
		if outcome.LogicError != nil {
			logicErrors = append(logicErrors, *outcome.LogicError)
		}
	}

	r.recorder.AddRun(config.ConfigID, runID, datatypes.RunUpdate{
		SchemaErrors:    schemaErrors,
		ExecutionErrors: executionErrors,
		LogicErrors:     logicErrors,
	})

	passed, report = Report(schemaErrors, executionErrors, logicErrors)
	slog.Info("Checks complete", "config_id", config.ConfigID, "run_id", runID, "passed", passed)
	return passed, report
}

// Report renders the three defect lists deterministically. The rendering
// is fed back to the model verbatim as repair feedback.
func Report(
	schemaErrors []datatypes.SchemaError,
	executionErrors []datatypes.ExecutionError,
	logicErrors []datatypes.LogicError,
) (passed bool, report string) {
	var b strings.Builder

	if len(schemaErrors) > 0 {
		prompts := make([]string, len(schemaErrors))
		for i, e := range schemaErrors {
			prompts[i] = e.Prompt()
		}
		b.WriteString("\n" + SchemaErrorsHeader + "\n" + strings.Join(prompts, "\n"))
	}
	if len(executionErrors) > 0 {
		prompts := make([]string, len(executionErrors))
		for i, e := range executionErrors {
			prompts[i] = e.Prompt()
		}
		b.WriteString("\n**Execution Errors**:\n" + strings.Join(prompts, "\n"))
	}
	if len(logicErrors) > 0 {
		prompts := make([]string, len(logicErrors))
		for i, e := range logicErrors {
			prompts[i] = e.Prompt()
		}
		b.WriteString("\n**Logic Errors**:\n" + strings.Join(prompts, "\n"))
	}

	report = b.String()
	if report == "" {
		return true, SuccessReport
	}
	return false, report
}
