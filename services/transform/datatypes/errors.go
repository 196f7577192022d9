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

import "fmt"

// SchemaError records a structural defect: an output that violated the
// config's output schema. Repairable by schema revision.
type SchemaError struct {
	Record  *Record `json:"record"`
	Message string  `json:"error"`
}

// Prompt renders the defect for the model-readable error report.
func (e SchemaError) Prompt() string {
	return fmt.Sprintf("*%s* had a schema error `%s`", e.Record.RecordID(), e.Message)
}

// ExecutionError records an execution fault: a runtime error raised by the
// generated program. Repairable by a code patch.
type ExecutionError struct {
	Record  *Record `json:"record"`
	Message string  `json:"error"`
}

// Prompt renders the fault for the model-readable error report.
func (e ExecutionError) Prompt() string {
	return fmt.Sprintf("*%s* had error `%s`", e.Record.RecordID(), e.Message)
}

// LogicError records a logic defect: a structurally valid output that does
// not match the expected output. Repairable by a code patch, or flags an
// audit disagreement during live processing.
type LogicError struct {
	Record         *Record        `json:"record"`
	ActualOutput   map[string]any `json:"actual_output"`
	ExpectedOutput map[string]any `json:"expected_output"`
}

// Prompt renders the mismatch for the model-readable error report.
func (e LogicError) Prompt() string {
	return fmt.Sprintf("*%s* had output `%s` but the correct output is `%s`",
		e.Record.RecordID(), compactJSON(e.ActualOutput), compactJSON(e.ExpectedOutput))
}
