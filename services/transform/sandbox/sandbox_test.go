// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_SimpleTransform(t *testing.T) {
	runner := New(0)
	program := `function transform(input) { return { total: input.a + input.b }; }`

	output, fault := runner.Execute(program, map[string]any{"a": 2.0, "b": 3.0})
	require.Empty(t, fault)
	assert.Equal(t, int64(5), output["total"])
}

func TestExecute_CompileError(t *testing.T) {
	runner := New(0)
	_, fault := runner.Execute(`function transform(input { return input; }`, map[string]any{})
	assert.NotEmpty(t, fault)
}

func TestExecute_ThrownException(t *testing.T) {
	runner := New(0)
	program := `function transform(input) { throw new Error("bad record"); }`

	output, fault := runner.Execute(program, map[string]any{})
	assert.Contains(t, fault, "bad record")
	assert.Empty(t, output)
}

func TestExecute_MissingEntryPoint(t *testing.T) {
	runner := New(0)
	_, fault := runner.Execute(`function other(input) { return input; }`, map[string]any{})
	assert.Contains(t, fault, "transform")
}

func TestExecute_NonObjectResult(t *testing.T) {
	runner := New(0)
	_, fault := runner.Execute(`function transform(input) { return 42; }`, map[string]any{})
	assert.Contains(t, fault, "expected an object")
}

func TestExecute_InfiniteLoopInterrupted(t *testing.T) {
	runner := New(50 * time.Millisecond)
	program := `function transform(input) { while (true) {} }`

	start := time.Now()
	_, fault := runner.Execute(program, map[string]any{})
	assert.NotEmpty(t, fault)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_FreshVMPerCall(t *testing.T) {
	runner := New(0)
	// The first call mutates global state; the second must not see it.
	first := `var leaked = "yes"; function transform(input) { return { leaked: "yes" }; }`
	_, fault := runner.Execute(first, map[string]any{})
	require.Empty(t, fault)

	second := `function transform(input) { return { leaked: typeof leaked }; }`
	output, fault := runner.Execute(second, map[string]any{})
	require.Empty(t, fault)
	assert.Equal(t, "undefined", output["leaked"])
}
