// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package processor orchestrates the life of a processing event: admission
// of a batch, synthesis of a passing program, transformation of every
// record with live audits, and the terminal transition with persistence
// and version-control completion.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/llm"
	"github.com/AleutianAI/autotransform/services/transform/audit"
	"github.com/AleutianAI/autotransform/services/transform/check"
	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/filestore"
	"github.com/AleutianAI/autotransform/services/transform/gitclient"
	"github.com/AleutianAI/autotransform/services/transform/registry"
	"github.com/AleutianAI/autotransform/services/transform/sandbox"
	"github.com/AleutianAI/autotransform/services/transform/storage"
	"github.com/AleutianAI/autotransform/services/transform/synth"
	"github.com/AleutianAI/autotransform/services/transform/validate"
)

var (
	// ErrEventActive means the config already has a running or
	// review-pending processing event; one batch per config at a time.
	ErrEventActive = errors.New("config already has an active processing event")

	// ErrNotRunning means a stop request targeted a config with no
	// running event.
	ErrNotRunning = errors.New("config has no running processing event")
)

// Processor owns the batch processing lifecycle for every config.
type Processor struct {
	store      storage.Store
	files      *filestore.Client
	registry   *registry.Registry
	llm        llm.LLMClient
	gitFactory gitclient.Factory

	validator *validate.Validator
	generator *synth.Generator
	sampler   *audit.Sampler

	maxAttempts int
}

// New creates a Processor. gitFactory may be nil when no version-control
// provider is configured; configs carrying a git_config are then processed
// without commits. maxAttempts <= 0 falls back to synth.DefaultMaxAttempts.
func New(
	store storage.Store,
	files *filestore.Client,
	reg *registry.Registry,
	client llm.LLMClient,
	gitFactory gitclient.Factory,
	maxAttempts int,
) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = synth.DefaultMaxAttempts
	}
	validator := validate.New(sandbox.New(sandbox.DefaultTimeout))
	return &Processor{
		store:       store,
		files:       files,
		registry:    reg,
		llm:         client,
		gitFactory:  gitFactory,
		validator:   validator,
		generator:   synth.New(client, check.New(validator, reg), reg, maxAttempts),
		sampler:     audit.New(client, reg),
		maxAttempts: maxAttempts,
	}
}

// Registry exposes the live event table, for status observers.
func (p *Processor) Registry() *registry.Registry { return p.registry }

// Start admits a batch for a config and launches its processing event in
// the background. Admission is refused while the config has a running
// event, or while its latest persisted event still awaits review.
func (p *Processor) Start(ctx context.Context, request *datatypes.DataToProcess) (*datatypes.ProcessingMessage, error) {
	config, err := p.store.LoadConfig(ctx, request.ConfigID)
	if err != nil {
		return nil, err
	}

	if status, ok := p.registry.Status(config.ConfigID); ok && status == datatypes.StatusRunning {
		return nil, ErrEventActive
	}
	latest, err := p.store.LatestEvent(ctx, config.ConfigID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if latest != nil && (latest.Status == datatypes.StatusRunning || latest.Status == datatypes.StatusAwaitingReview) {
		return nil, ErrEventActive
	}

	message, err := p.store.InsertEvent(ctx, config.ConfigID, len(request.Records))
	if err != nil {
		return nil, err
	}
	p.registry.Register(config.ConfigID, message)

	if err := p.files.Save(request.Records, config.ConfigID, message.ID, datatypes.DataTypeInput); err != nil {
		p.registry.Fail(config.ConfigID)
		p.persistEvent(config.ConfigID)
		return nil, fmt.Errorf("save input data: %w", err)
	}

	records := make([]*datatypes.Record, len(request.Records))
	for i, input := range request.Records {
		records[i] = datatypes.NewRecord(input)
	}

	eventID := message.ID
	snapshot := message.Clone()
	p.registry.StartTask(config.ConfigID, func(taskCtx context.Context) {
		p.execute(taskCtx, config, eventID, records)
	})
	return snapshot, nil
}

// Stop requests cancellation of a processing event. A live task observes
// the cancellation at its next checkpoint; an in-flight model call or
// sandbox execution finishes first. The persisted copy of the named
// event is stopped directly, so an event orphaned in running state (for
// example by a crash) can still be finalized.
func (p *Processor) Stop(ctx context.Context, configID, runID uuid.UUID) error {
	canceled := false
	if status, ok := p.registry.Status(configID); ok && status == datatypes.StatusRunning {
		p.registry.CancelTask(configID)
		canceled = true
	}

	event, err := p.store.GetEvent(ctx, configID, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if canceled {
				return nil
			}
			return ErrNotRunning
		}
		return err
	}
	if event.Status == datatypes.StatusRunning {
		// The live task, if one exists, re-persists its own terminal
		// state at its next checkpoint.
		event.Stop()
		return p.store.UpdateEvent(ctx, event)
	}
	if !canceled {
		return ErrNotRunning
	}
	return nil
}

// execute runs one processing event to a terminal state.
func (p *Processor) execute(ctx context.Context, config *datatypes.TransformConfig, eventID uuid.UUID, records []*datatypes.Record) {
	started := time.Now()
	logger := slog.With("config_id", config.ConfigID, "event_id", eventID)
	logger.Info("Processing event started", "records", len(records))

	git := p.gitClientFor(config, eventID, logger)
	p.refreshFromGit(ctx, config, git, logger)

	outputs, err := p.transformAll(ctx, config, records, git)
	if err != nil {
		p.finishFailed(ctx, config, eventID, git, err, logger)
		recordRunMetrics(context.Background(), config.Name, p.finalStatus(config.ConfigID), time.Since(started), len(outputs))
		return
	}

	if saveErr := p.files.Save(outputs, config.ConfigID, eventID, datatypes.DataTypeOutput); saveErr != nil {
		p.finishFailed(ctx, config, eventID, git, fmt.Errorf("save output data: %w", saveErr), logger)
		recordRunMetrics(context.Background(), config.Name, p.finalStatus(config.ConfigID), time.Since(started), len(outputs))
		return
	}

	merged := true
	if git != nil {
		prURI, wasMerged, prErr := git.Complete(context.Background(), true)
		if prErr != nil {
			p.finishFailed(ctx, config, eventID, nil, fmt.Errorf("complete pull request: %w", prErr), logger)
			recordRunMetrics(context.Background(), config.Name, p.finalStatus(config.ConfigID), time.Since(started), len(outputs))
			return
		}
		p.registry.SetPRUri(config.ConfigID, &prURI)
		merged = wasMerged
	}

	if merged {
		p.registry.Complete(config.ConfigID, len(outputs))
	} else {
		p.registry.AwaitReview(config.ConfigID, len(outputs))
	}

	config.RunComplete()
	if saveErr := p.store.SaveConfig(context.Background(), config); saveErr != nil {
		logger.Error("Failed to persist config after run", "error", saveErr)
	}
	p.persistEvent(config.ConfigID)
	recordRunMetrics(context.Background(), config.Name, p.finalStatus(config.ConfigID), time.Since(started), len(outputs))
	logger.Info("Processing event finished", "outputs", len(outputs), "merged", merged)
}

// transformAll synthesizes a program if the config has none, then runs
// every record through it. Any live defect (execution fault, schema
// violation, audit disagreement) triggers a re-synthesis and a restart
// from the first record, bounded by the attempt budget.
func (p *Processor) transformAll(
	ctx context.Context,
	config *datatypes.TransformConfig,
	records []*datatypes.Record,
	git gitclient.Client,
) ([]map[string]any, error) {
	attempts := 0
	if config.Code == nil {
		attempts++
		recordSynthesisRound(ctx, config.Name)
		if err := p.generator.GenerateAndTest(ctx, config, git); err != nil {
			return nil, err
		}
	}

	for {
		outputs, defect, err := p.runBatch(ctx, config, records)
		if err != nil {
			return outputs, err
		}
		if !defect {
			return outputs, nil
		}

		attempts++
		if attempts >= p.maxAttempts {
			return outputs, synth.ErrMaxAttempts
		}
		// The defect lives in the config's record pools now; the next
		// round must pass it. The current program stays on the config so
		// the drafting prompt can seed from it.
		recordSynthesisRound(ctx, config.Name)
		if err := p.generator.GenerateAndTest(ctx, config, git); err != nil {
			return outputs, err
		}
	}
}

// runBatch runs the config's current program over the whole batch.
// Returns defect=true when a record surfaced a live defect that has been
// recorded and requires re-synthesis.
func (p *Processor) runBatch(
	ctx context.Context,
	config *datatypes.TransformConfig,
	records []*datatypes.Record,
) (outputs []map[string]any, defect bool, err error) {
	schema, schemaErr := validate.CompileSchema(config.OutputSchema.Schema)
	if schemaErr != nil {
		schema = nil
	}
	code := config.Code.Code
	audited := 0
	outputs = make([]map[string]any, 0, len(records))

	for i, record := range records {
		// Checkpoint between records for cooperative cancellation.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outputs, false, ctxErr
		}

		config.AddCurrentRecord(record)
		outcome := p.validator.Execute(code, schema, record)
		if outcome.SchemaError != nil {
			p.recordDefect(config, datatypes.RunUpdate{
				Code:         &code,
				SchemaErrors: []datatypes.SchemaError{*outcome.SchemaError},
			})
			return outputs, true, nil
		}
		if outcome.ExecutionError != nil {
			p.recordDefect(config, datatypes.RunUpdate{
				Code:            &code,
				ExecutionErrors: []datatypes.ExecutionError{*outcome.ExecutionError},
			})
			return outputs, true, nil
		}

		wasAudited, auditErr := p.sampler.MaybeAudit(ctx, record, outcome.Output, config, audited, i, len(records))
		if wasAudited {
			audited++
		}
		if errors.Is(auditErr, audit.ErrLogicDefect) {
			return outputs, true, nil
		}
		if auditErr != nil {
			// A failed audit call is not a program defect; keep going.
			slog.Warn("Audit skipped", "config_id", config.ConfigID, "error", auditErr)
		}
		outputs = append(outputs, outcome.Output)
	}
	return outputs, false, nil
}

// recordDefect opens a failed attempt for a live defect found outside the
// synthesis loop.
func (p *Processor) recordDefect(config *datatypes.TransformConfig, update datatypes.RunUpdate) {
	runID := uuid.New()
	slog.Info("Recording live defect", "run_id", runID, "config_id", config.ConfigID)
	p.registry.AddRun(config.ConfigID, runID, update)
	p.registry.RunFailed(config.ConfigID)
}

// finishFailed drives the event to its terminal failed or stopped state,
// opens a failing pull request when a git client is bound, and persists.
func (p *Processor) finishFailed(ctx context.Context, config *datatypes.TransformConfig, eventID uuid.UUID, git gitclient.Client, cause error, logger *slog.Logger) {
	if errors.Is(cause, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("Processing event stopped")
		p.registry.Stop(config.ConfigID)
	} else {
		logger.Error("Processing event failed", "error", cause)
		p.registry.Fail(config.ConfigID)
	}

	if git != nil {
		prURI, _, prErr := git.Complete(context.Background(), false)
		if prErr != nil {
			logger.Error("Failed to open pull request for failed run", "error", prErr)
		} else {
			p.registry.SetPRUri(config.ConfigID, &prURI)
		}
	}
	p.persistEvent(config.ConfigID)
}

// persistEvent writes the live event's current state through to storage.
func (p *Processor) persistEvent(configID uuid.UUID) {
	message, ok := p.registry.Snapshot(configID)
	if !ok {
		return
	}
	if err := p.store.UpdateEvent(context.Background(), message); err != nil {
		slog.Error("Failed to persist processing event", "config_id", configID, "error", err)
	}
}

func (p *Processor) finalStatus(configID uuid.UUID) datatypes.ProcessingStatus {
	status, ok := p.registry.Status(configID)
	if !ok {
		return datatypes.StatusFailed
	}
	return status
}

// gitClientFor binds a version-control client to the event's branch, or
// returns nil when the config or the deployment has no provider.
func (p *Processor) gitClientFor(config *datatypes.TransformConfig, eventID uuid.UUID, logger *slog.Logger) gitclient.Client {
	if p.gitFactory == nil || config.GitConfig == nil {
		return nil
	}
	client, err := p.gitFactory.For(config, &eventID)
	if err != nil {
		logger.Error("Version control unavailable for run", "error", err)
		return nil
	}
	return client
}

// refreshFromGit replaces the config's schema and program with whatever
// was last merged to the primary branch, so an externally reviewed change
// takes effect on the next batch.
func (p *Processor) refreshFromGit(ctx context.Context, config *datatypes.TransformConfig, git gitclient.Client, logger *slog.Logger) {
	if git == nil {
		return
	}
	schema, code, err := git.LatestAssets(ctx)
	if err != nil {
		logger.Info("No committed assets to refresh from", "error", err)
		return
	}
	if schema.Schema != nil {
		config.OutputSchema = schema
	}
	if code != nil {
		config.Code = code
	}
}

// SyncReviewState reconciles a config whose latest event awaits human
// review: when the pull request was merged the event completes and the
// merged assets become current; when it was closed unmerged the event
// fails. No-op for every other state.
func (p *Processor) SyncReviewState(ctx context.Context, config *datatypes.TransformConfig) error {
	latest, err := p.store.LatestEvent(ctx, config.ConfigID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if latest.Status != datatypes.StatusAwaitingReview {
		return nil
	}
	if p.gitFactory == nil || config.GitConfig == nil {
		return nil
	}

	git, err := p.gitFactory.For(config, &latest.ID)
	if err != nil {
		return err
	}
	status, err := git.CheckPRStatus(ctx)
	if err != nil {
		return err
	}
	switch status {
	case datatypes.StatusCompleted:
		latest.Status = datatypes.StatusCompleted
		latest.Timestamp = time.Now()
		p.refreshFromGit(ctx, config, git, slog.With("config_id", config.ConfigID))
		if err := p.store.SaveConfig(ctx, config); err != nil {
			return err
		}
	case datatypes.StatusFailed:
		latest.Fail()
	default:
		return nil
	}
	p.registry.Register(config.ConfigID, latest)
	return p.store.UpdateEvent(ctx, latest)
}
