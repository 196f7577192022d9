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
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is the lifecycle state of a processing event or run.
type ProcessingStatus string

const (
	StatusRunning        ProcessingStatus = "running"
	StatusCompleted      ProcessingStatus = "completed"
	StatusFailed         ProcessingStatus = "failed"
	StatusStopped        ProcessingStatus = "stopped"
	StatusAwaitingReview ProcessingStatus = "awaiting_review"
)

// DataType distinguishes the two bulk data streams stored per run.
type DataType string

const (
	DataTypeInput  DataType = "input"
	DataTypeOutput DataType = "output"
)

// ProcessingRun is one attempt: a candidate program, the schema in effect
// at that point, and the defects produced by validation. Attempts are
// append-only within a processing event; an update only adds to the
// failure lists or replaces the program/schema, never removes history.
type ProcessingRun struct {
	RunID          uuid.UUID        `json:"run_id"`
	OutputSchema   *OutputSchema    `json:"output_schema,omitempty"`
	Code           Code             `json:"code"`
	SchemaErrors   []SchemaError    `json:"output_schema_errors"`
	ExecutionError []ExecutionError `json:"execution_errors"`
	LogicErrors    []LogicError     `json:"logic_errors"`
	Timestamp      time.Time        `json:"timestamp"`
	Status         ProcessingStatus `json:"status"`
}

// RunUpdate carries the partial fields merged into an attempt by
// ProcessingMessage.AddRun. Nil fields are left untouched; error lists
// are concatenated onto the attempt, never replaced.
type RunUpdate struct {
	OutputSchema    map[string]any
	Code            *string
	SchemaErrors    []SchemaError
	ExecutionErrors []ExecutionError
	LogicErrors     []LogicError
	CodeCommitURI   *string
	SchemaCommitURI *string
}

// ProcessEventMetadata is the summary view of one processing event.
type ProcessEventMetadata struct {
	ID             uuid.UUID        `json:"id"`
	ConfigID       uuid.UUID        `json:"config_id"`
	InputCount     int              `json:"input_count"`
	OutputCount    *int             `json:"output_count,omitempty"`
	Status         ProcessingStatus `json:"status"`
	StartTimestamp time.Time        `json:"start_timestamp"`
	Timestamp      time.Time        `json:"timestamp"`
	PRUri          *string          `json:"pr_uri,omitempty"`
}

// ProcessingMessage is the full state of one processing event: its
// metadata plus the ordered attempt list. While a run is live the run
// registry is the single writer; callers must hold the registry lock for
// every mutation.
type ProcessingMessage struct {
	ProcessEventMetadata
	Runs []*ProcessingRun `json:"runs"`
}

// NewProcessingMessage creates a running event for a freshly accepted batch.
func NewProcessingMessage(id, configID uuid.UUID, inputCount int) *ProcessingMessage {
	now := time.Now()
	return &ProcessingMessage{
		ProcessEventMetadata: ProcessEventMetadata{
			ID:             id,
			ConfigID:       configID,
			InputCount:     inputCount,
			Status:         StatusRunning,
			StartTimestamp: now,
			Timestamp:      now,
		},
	}
}

// AddRun upserts an attempt. If an attempt with runID exists the non-nil
// update fields are merged in and its timestamp refreshed; otherwise a new
// running attempt with empty failure lists is appended and merged the
// same way.
func (m *ProcessingMessage) AddRun(runID uuid.UUID, update RunUpdate) {
	for _, run := range m.Runs {
		if run.RunID == runID {
			applyRunUpdate(run, update)
			return
		}
	}
	run := &ProcessingRun{
		RunID:          runID,
		SchemaErrors:   []SchemaError{},
		ExecutionError: []ExecutionError{},
		LogicErrors:    []LogicError{},
		Timestamp:      time.Now(),
		Status:         StatusRunning,
	}
	applyRunUpdate(run, update)
	m.Runs = append(m.Runs, run)
}

func applyRunUpdate(run *ProcessingRun, update RunUpdate) {
	if update.OutputSchema != nil {
		run.OutputSchema = &OutputSchema{Schema: update.OutputSchema}
	}
	if update.Code != nil {
		run.Code.Code = *update.Code
	}
	run.SchemaErrors = append(run.SchemaErrors, update.SchemaErrors...)
	run.ExecutionError = append(run.ExecutionError, update.ExecutionErrors...)
	run.LogicErrors = append(run.LogicErrors, update.LogicErrors...)
	if update.SchemaCommitURI != nil && run.OutputSchema != nil {
		run.OutputSchema.Commit = update.SchemaCommitURI
	}
	if update.CodeCommitURI != nil {
		run.Code.Commit = update.CodeCommitURI
	}
	run.Timestamp = time.Now()
}

// cleanup stamps a terminal status on the event and propagates it into the
// last attempt if that attempt is still running.
func (m *ProcessingMessage) cleanup(status ProcessingStatus) {
	m.Status = status
	m.Timestamp = time.Now()
	if last := m.lastRun(); last != nil && last.Status == StatusRunning {
		last.Status = status
		last.Timestamp = m.Timestamp
	}
}

func (m *ProcessingMessage) lastRun() *ProcessingRun {
	if len(m.Runs) == 0 {
		return nil
	}
	return m.Runs[len(m.Runs)-1]
}

// Stop marks the event stopped by external request.
func (m *ProcessingMessage) Stop() { m.cleanup(StatusStopped) }

// Fail marks the event failed.
func (m *ProcessingMessage) Fail() { m.cleanup(StatusFailed) }

// Complete marks the event completed with the given output count.
func (m *ProcessingMessage) Complete(outputCount int) {
	m.OutputCount = &outputCount
	m.cleanup(StatusCompleted)
}

// AwaitReview marks the event as awaiting human review of its pull
// request, with the given output count.
func (m *ProcessingMessage) AwaitReview(outputCount int) {
	m.OutputCount = &outputCount
	m.cleanup(StatusAwaitingReview)
}

// RunFailed marks the last attempt failed if it is still running. The
// event itself stays running.
func (m *ProcessingMessage) RunFailed() {
	if last := m.lastRun(); last != nil && last.Status == StatusRunning {
		last.Status = StatusFailed
		last.Timestamp = time.Now()
	}
}

// Metadata returns the summary view of the event.
func (m *ProcessingMessage) Metadata() ProcessEventMetadata {
	return m.ProcessEventMetadata
}

// Clone returns a deep-enough copy of the message for publishing outside
// the registry lock: the attempt slice is copied, attempt structs are
// copied by value.
func (m *ProcessingMessage) Clone() *ProcessingMessage {
	clone := *m
	clone.Runs = make([]*ProcessingRun, len(m.Runs))
	for i, run := range m.Runs {
		r := *run
		clone.Runs[i] = &r
	}
	return &clone
}

// ProcessingEvent is the status-stream snapshot: the event plus small
// input/output previews for the UI.
type ProcessingEvent struct {
	Message    *ProcessingMessage `json:"message"`
	InputData  []map[string]any   `json:"input_data"`
	OutputData []map[string]any   `json:"output_data,omitempty"`
}

// DataToProcess is the batch-submission request body.
type DataToProcess struct {
	Records  []map[string]any `json:"records" binding:"required,min=1"`
	ConfigID uuid.UUID        `json:"config_id" binding:"required"`
}
