// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit probabilistically routes live batch outputs to the model
// service for independent re-derivation, catching silent logic errors
// while the program runs against production inputs.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/llm"
	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/registry"
)

// ErrLogicDefect is returned when an audited output disagrees with the
// model's independent derivation. The batch processor treats it as cause
// for re-synthesis.
var ErrLogicDefect = errors.New("audit disagrees with program output")

const qaSystemPrompt = `FACTS:
- You are an expert javascript developer
- You will be given the following information:
    - OUTPUT_FORMAT: a json schema representing the expected output format
    - EXAMPLES: A list of ` + "`input`s" + ` and their corresponding ` + "`output`s" + `
    - INPUT: the ` + "`input`" + ` of the record you are being asked to produce the ` + "`output`" + ` for

RULES:
- Your task is to generate the ` + "`output`" + ` for the given ` + "`input`" + ` as a json object
- Only return a json object, nothing else
`

// QAPrompt builds the zero-shot re-derivation prompt for one record.
// Distinct from the synthesis prompt: the model sees only the schema,
// the examples, and the single input.
func QAPrompt(config *datatypes.TransformConfig, input map[string]any) []llm.Message {
	return []llm.Message{
		llm.System(qaSystemPrompt),
		llm.User(config.QAPrompt(input)),
	}
}

// Sampler decides which outputs to audit and performs the audits.
type Sampler struct {
	llm      llm.LLMClient
	registry *registry.Registry

	// draw returns a uniform random number in [0, 1). Injectable so the
	// minimum-guarantee path is testable.
	draw func() float64
}

// New creates a Sampler using the default random source.
func New(client llm.LLMClient, reg *registry.Registry) *Sampler {
	return &Sampler{llm: client, registry: reg, draw: rand.Float64}
}

// NewWithDraw creates a Sampler with an injected random source.
func NewWithDraw(client llm.LLMClient, reg *registry.Registry, draw func() float64) *Sampler {
	return &Sampler{llm: client, registry: reg, draw: draw}
}

// MaybeAudit audits the record's output when the random draw falls under
// the config's sample fraction, or when fewer than the guaranteed minimum
// audits have occurred and only that many records remain (back-loading
// the guarantee toward the end of short batches).
//
// When audited, the record always moves from the current pool to the
// bot-provided examples, labeled with the model's derivation. A
// disagreement is recorded as a failed attempt and returned as
// ErrLogicDefect; agreement returns (true, nil); no audit returns
// (false, nil).
func (s *Sampler) MaybeAudit(
	ctx context.Context,
	record *datatypes.Record,
	actualOutput map[string]any,
	config *datatypes.TransformConfig,
	auditedSoFar, position, total int,
) (bool, error) {
	guarantee := auditedSoFar < config.CodeQA.MinQA && total-position <= config.CodeQA.MinQA
	if s.draw() >= config.CodeQA.QAPct && !guarantee {
		return false, nil
	}

	chat := QAPrompt(config, record.Input)
	raw, err := s.llm.Complete(ctx, chat)
	if err != nil {
		return true, fmt.Errorf("audit derivation failed: %w", err)
	}
	modelOutput, err := llm.ParseJSONOutput(raw)
	if err != nil {
		return true, fmt.Errorf("audit derivation unparseable: %w", err)
	}

	// The record is now a labeled example, not a bare input; it
	// strengthens future synthesis context regardless of agreement.
	config.RemoveCurrentRecord(record)
	config.BotProvidedRecords = append(config.BotProvidedRecords,
		datatypes.NewExampleRecord(record.Input, modelOutput))

	if !datatypes.DeepEqualJSON(modelOutput, actualOutput) {
		runID := uuid.New()
		slog.Info("Adding run for logic error", "run_id", runID, "config_id", config.ConfigID)
		var code string
		if config.Code != nil {
			code = config.Code.Code
		}
		s.registry.AddRun(config.ConfigID, runID, datatypes.RunUpdate{
			Code: &code,
			LogicErrors: []datatypes.LogicError{{
				Record:         record,
				ActualOutput:   actualOutput,
				ExpectedOutput: modelOutput,
			}},
		})
		s.registry.RunFailed(config.ConfigID)
		return true, ErrLogicDefect
	}
	return true, nil
}
