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

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Code is the current generated program of a transform config.
type Code struct {
	Code   string  `json:"code"`
	Commit *string `json:"commit,omitempty"`
}

// OutputSchema is the structural contract a transform output must satisfy.
// The schema document is an arbitrary JSON-Schema object and is mutable
// over the lifetime of a config.
type OutputSchema struct {
	Schema map[string]any `json:"output_schema"`
	Commit *string        `json:"commit,omitempty"`
}

// Prompt renders the schema document for inclusion in a model prompt.
func (s OutputSchema) Prompt() string {
	return compactJSON(s.Schema)
}

// GitConfig identifies the repository a config's generated assets are
// committed to. Optional per config.
type GitConfig struct {
	Owner             string `json:"owner"`
	RepoName          string `json:"repo_name"`
	PrimaryBranchName string `json:"primary_branch_name"`
	BlockHumanReview  bool   `json:"block_human_review"`
}

// CodeQa is the live-audit policy applied while processing a batch.
type CodeQa struct {
	// QAPct is the probability that any individual output is audited.
	QAPct float64 `json:"qa_pct"`
	// MinQA is the guaranteed minimum number of audits per batch.
	MinQA int `json:"min_qa"`
}

// DefaultCodeQa returns the default audit policy.
func DefaultCodeQa() CodeQa {
	return CodeQa{QAPct: 0.2, MinQA: 1}
}

// TransformConfig is the durable definition of one transform service.
//
// The config and its record pools are exclusively owned by the batch
// processor for the duration of one processing event and persisted back
// atomically on success.
type TransformConfig struct {
	ConfigID            uuid.UUID        `json:"config_id"`
	Name                string           `json:"name"`
	Code                *Code            `json:"code,omitempty"`
	OutputSchema        OutputSchema     `json:"output_schema"`
	PreviousRecords     []*Record        `json:"previous_records,omitempty"`
	CurrentRecords      []*Record        `json:"current_records,omitempty"`
	UserProvidedRecords []*ExampleRecord `json:"user_provided_records,omitempty"`
	BotProvidedRecords  []*ExampleRecord `json:"bot_provided_records,omitempty"`
	GitConfig           *GitConfig       `json:"git_config,omitempty"`
	CodeQA              CodeQa           `json:"code_qa"`
}

// AddCurrentRecord registers a record into the current pool, idempotent by
// record identity. A record already present in either pool is not added
// again, so an identity appears at most once across previous ∪ current.
func (c *TransformConfig) AddCurrentRecord(record *Record) {
	id := record.RecordID()
	for _, existing := range c.CurrentRecords {
		if existing.RecordID() == id {
			return
		}
	}
	for _, existing := range c.PreviousRecords {
		if existing.RecordID() == id {
			return
		}
	}
	c.CurrentRecords = append(c.CurrentRecords, record)
}

// RemoveCurrentRecord removes the record with the given identity from the
// current pool, if present. Used by the audit sampler when a record is
// promoted to a bot-provided example.
func (c *TransformConfig) RemoveCurrentRecord(record *Record) {
	id := record.RecordID()
	for i, existing := range c.CurrentRecords {
		if existing.RecordID() == id {
			c.CurrentRecords = append(c.CurrentRecords[:i], c.CurrentRecords[i+1:]...)
			return
		}
	}
}

// RunComplete merges the current record pool into the previous pool.
// Called only when a processing event ends successfully; on failure the
// current pool is discarded with the rest of the config mutations.
func (c *TransformConfig) RunComplete() {
	c.PreviousRecords = append(c.PreviousRecords, c.CurrentRecords...)
	c.CurrentRecords = nil
}

// PotentialInputs returns every known bare record: the current pool
// followed by the previous pool.
func (c *TransformConfig) PotentialInputs() []*Record {
	inputs := make([]*Record, 0, len(c.CurrentRecords)+len(c.PreviousRecords))
	inputs = append(inputs, c.CurrentRecords...)
	inputs = append(inputs, c.PreviousRecords...)
	return inputs
}

// Examples returns every labeled example: user-provided followed by
// bot-provided.
func (c *TransformConfig) Examples() []*ExampleRecord {
	examples := make([]*ExampleRecord, 0, len(c.UserProvidedRecords)+len(c.BotProvidedRecords))
	examples = append(examples, c.UserProvidedRecords...)
	examples = append(examples, c.BotProvidedRecords...)
	return examples
}

// basePrompt renders the schema and examples shared by every prompt built
// from this config.
func (c *TransformConfig) basePrompt() string {
	var examples strings.Builder
	for _, example := range c.Examples() {
		examples.WriteString(example.Prompt())
		examples.WriteString("\n")
	}
	return fmt.Sprintf("**OUTPUT_FORMAT**: `%s`\n\n**EXAMPLES**:\n\n%s", c.OutputSchema.Prompt(), examples.String())
}

// Prompt renders the full synthesis context: schema, examples, known
// inputs, and the existing program when one is present.
func (c *TransformConfig) Prompt() string {
	var inputs strings.Builder
	for _, record := range c.PotentialInputs() {
		inputs.WriteString(record.Prompt())
		inputs.WriteString("\n")
	}
	message := fmt.Sprintf("%s\n\n**POTENTIAL_INPUTS**:\n\n%s", c.basePrompt(), inputs.String())
	if c.Code != nil {
		message += fmt.Sprintf("\n**EXISTING_CODE**:\n```javascript\n%s\n```", c.Code.Code)
	}
	return message
}

// QAPrompt renders the zero-shot re-derivation context for one input.
func (c *TransformConfig) QAPrompt(input map[string]any) string {
	return fmt.Sprintf("%s\n\nINPUT: %s\n", c.basePrompt(), compactJSON(input))
}

// UpsertConfig is the request body for creating or updating a config.
type UpsertConfig struct {
	ConfigID            *uuid.UUID       `json:"config_id,omitempty"`
	Name                string           `json:"name" binding:"required"`
	OutputSchema        map[string]any   `json:"output_schema" binding:"required"`
	UserProvidedRecords []*ExampleRecord `json:"user_provided_records,omitempty"`
	GitConfig           *GitConfig       `json:"git_config,omitempty"`
}

// ConfigMetadata is the list-view projection of a config.
type ConfigMetadata struct {
	ConfigID    uuid.UUID `json:"config_id"`
	Name        string    `json:"name"`
	LastUpdated string    `json:"last_updated"`
}

// ConfigResponse is the detail view of a config: the config itself plus
// its processing event history, newest first.
type ConfigResponse struct {
	History []ProcessEventMetadata `json:"history"`
	Config  *TransformConfig       `json:"config"`
}
