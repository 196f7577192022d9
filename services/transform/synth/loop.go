// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synth implements the iterative synthesis loop: draft a program
// from the model service, run the check suite, and on failure either ask
// for a patch or revise the schema first, bounded by a maximum attempt
// count.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/llm"
	"github.com/AleutianAI/autotransform/services/transform/check"
	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/gitclient"
	"github.com/AleutianAI/autotransform/services/transform/registry"
)

// DefaultMaxAttempts is the default synthesis round budget.
const DefaultMaxAttempts = 5

var (
	// ErrCodeNotFound means the model stream for a program draft failed
	// or returned no code fence.
	ErrCodeNotFound = errors.New("no code found in model response")

	// ErrSchemaNotFound means the model stream for a schema revision
	// failed or returned no parseable schema.
	ErrSchemaNotFound = errors.New("no schema found in model response")

	// ErrMaxAttempts means the attempt budget was exhausted without a
	// passing program. Fatal to the processing event.
	ErrMaxAttempts = errors.New("maximum synthesis attempts exceeded")
)

var codeFencePattern = regexp.MustCompile("(?s)```(?:javascript|js)(.*?)```")

// ExtractCode pulls the program source out of a fenced model response.
func ExtractCode(content string) (string, bool) {
	groups := codeFencePattern.FindStringSubmatch(content)
	if groups == nil {
		return "", false
	}
	return strings.TrimSpace(groups[1]), true
}

// Generator drives the synthesis state machine for one config at a time.
type Generator struct {
	llm         llm.LLMClient
	checker     *check.Runner
	registry    *registry.Registry
	maxAttempts int
}

// New creates a Generator. maxAttempts <= 0 falls back to
// DefaultMaxAttempts.
func New(client llm.LLMClient, checker *check.Runner, reg *registry.Registry, maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{llm: client, checker: checker, registry: reg, maxAttempts: maxAttempts}
}

// GenerateAndTest runs synthesis rounds until a candidate program passes
// the check suite, then installs it as the config's current program.
//
// Each round opens one attempt. A failing round whose report contains
// schema errors revises the schema before the next draft (any schema
// error present takes precedence over simultaneous execution or logic
// defects); any other failure repairs the code with the accumulated chat
// plus the latest report. git may be nil; when set, every drafted program
// and every schema revision is committed to the per-run branch.
func (g *Generator) GenerateAndTest(ctx context.Context, config *datatypes.TransformConfig, git gitclient.Client) error {
	codeChat := CodeGenPrompt(config)
	var schemaChat []llm.Message
	var errorReport string
	schemaChanged := false
	passed := false
	attempts := 0

	for !passed {
		// Checkpoint between rounds for cooperative cancellation.
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		runID := uuid.New()
		slog.Info("Starting synthesis run", "run_id", runID, "config_id", config.ConfigID, "attempt", attempts)

		if errorReport != "" && strings.Contains(errorReport, "Output Schema Errors") {
			if schemaChat == nil {
				schemaChat = SchemaChangePrompt(config)
			}
			schemaChat = append(schemaChat, llm.User(errorReport))
			newSchema, err := g.updateSchema(ctx, &schemaChat)
			if err != nil {
				return err
			}
			if !schemaChanged && !datatypes.DeepEqualJSON(newSchema, config.OutputSchema.Schema) {
				schemaChanged = true
			}
			config.OutputSchema = datatypes.OutputSchema{Schema: newSchema}
			// The prior program matched the old schema; draft fresh.
			config.Code = nil
			codeChat = CodeGenPrompt(config)
		}

		// Once the schema has changed it shows up on every later attempt.
		if schemaChanged {
			g.registry.AddRun(config.ConfigID, runID, datatypes.RunUpdate{
				OutputSchema: config.OutputSchema.Schema,
			})
		}

		code, err := g.generateCode(ctx, config.ConfigID, runID, &codeChat)
		if err != nil {
			return err
		}
		var report string
		passed, report = g.checker.Run(config, code, runID)
		errorReport = report
		codeChat = append(codeChat, llm.User(errorReport))

		var codeCommitURI, schemaCommitURI *string
		if git != nil {
			uri, err := git.Commit(ctx, code, git.CodeFilePath(),
				fmt.Sprintf("updated code, run_id=%s", runID), "")
			if err != nil {
				return fmt.Errorf("commit code: %w", err)
			}
			codeCommitURI = &uri
			if schemaChanged {
				schemaRaw, err := json.MarshalIndent(config.OutputSchema.Schema, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal output schema: %w", err)
				}
				schemaURI, err := git.Commit(ctx, string(schemaRaw), git.SchemaFilePath(),
					fmt.Sprintf("updated schema, run_id=%s", runID), "")
				if err != nil {
					return fmt.Errorf("commit schema: %w", err)
				}
				schemaCommitURI = &schemaURI
			}
		}

		g.registry.AddRun(config.ConfigID, runID, datatypes.RunUpdate{
			CodeCommitURI:   codeCommitURI,
			SchemaCommitURI: schemaCommitURI,
		})
		if !passed {
			g.registry.RunFailed(config.ConfigID)
			if attempts >= g.maxAttempts {
				return ErrMaxAttempts
			}
			continue
		}

		config.Code = &datatypes.Code{Code: code, Commit: codeCommitURI}
	}

	slog.Info("Code generation complete", "config_id", config.ConfigID, "attempts", attempts)
	return nil
}

// generateCode streams a draft from the model service, publishing partial
// program text into the attempt as it arrives so observers can watch the
// draft grow. Appends the assistant response to the chat.
func (g *Generator) generateCode(ctx context.Context, configID, runID uuid.UUID, chat *[]llm.Message) (string, error) {
	content, err := g.llm.Stream(ctx, *chat, func(partial string) {
		partialCopy := partial
		g.registry.AddRun(configID, runID, datatypes.RunUpdate{Code: &partialCopy})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeNotFound, err)
	}
	*chat = append(*chat, llm.Assistant(content))

	code, ok := ExtractCode(content)
	if !ok {
		return "", ErrCodeNotFound
	}
	slog.Info("Generated code", "config_id", configID, "run_id", runID)
	return code, nil
}

// updateSchema asks the model service for a revised schema document.
// Appends the assistant response to the chat.
func (g *Generator) updateSchema(ctx context.Context, chat *[]llm.Message) (map[string]any, error) {
	content, err := g.llm.Stream(ctx, *chat, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaNotFound, err)
	}
	*chat = append(*chat, llm.Assistant(content))

	schema, err := llm.ParseJSONOutput(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaNotFound, err)
	}
	return schema, nil
}
