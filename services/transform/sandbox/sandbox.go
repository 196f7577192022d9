// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs untrusted generated programs against one input
// record in isolation from the caller's state.
//
// Each call evaluates the program in a fresh goja JavaScript VM, so a
// program cannot observe or mutate anything beyond the single input value
// it is handed. Any compile error, thrown exception, interrupt, or
// malformed result is reported as a fault string; the sandbox never
// panics to its caller.
package sandbox

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// EntryPoint is the function every generated program must define.
const EntryPoint = "transform"

// DefaultTimeout is the wall-clock cap for a single execution.
const DefaultTimeout = 5 * time.Second

// Runner executes generated programs. The zero value is not usable; use New.
type Runner struct {
	timeout time.Duration
}

// New creates a Runner. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{timeout: timeout}
}

// Execute runs the program's transform function with input as its sole
// argument. It returns the produced output object and an empty fault, or
// an empty object and a non-empty fault describing the failure.
func (r *Runner) Execute(program string, input map[string]any) (output map[string]any, fault string) {
	output = map[string]any{}

	// goja can panic on pathological programs (e.g. stack exhaustion);
	// convert that to a fault like any other runtime failure.
	defer func() {
		if rec := recover(); rec != nil {
			fault = fmt.Sprintf("panic during execution: %v", rec)
			output = map[string]any{}
		}
	}()

	vm := goja.New()
	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer timer.Stop()

	if _, err := vm.RunString(program); err != nil {
		return map[string]any{}, err.Error()
	}

	fn, ok := goja.AssertFunction(vm.Get(EntryPoint))
	if !ok {
		return map[string]any{}, fmt.Sprintf("program does not define a function %s(input)", EntryPoint)
	}

	result, err := fn(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return map[string]any{}, err.Error()
	}

	exported := result.Export()
	obj, ok := exported.(map[string]any)
	if !ok {
		return map[string]any{}, fmt.Sprintf("%s returned %T, expected an object", EntryPoint, exported)
	}
	return obj, ""
}
