// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry tracks live processing events in memory.
//
// The registry is the single writer to a processing event while its run is
// active. One mutex guards every read-modify-write on the mapping and on
// an event's attempt list; the lock is never held across an external call.
// Events stay resident after they finish so status observers can read the
// final state; they are replaced when the next batch for the same config
// is admitted.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

// Registry is an in-memory, concurrency-safe table of processing events
// keyed by config id, plus the cancellation handles of the goroutines
// executing them. Construct once per process with New and inject it into
// every component that needs it.
type Registry struct {
	mu      sync.Mutex
	events  map[uuid.UUID]*datatypes.ProcessingMessage
	cancels map[uuid.UUID]*taskHandle
}

// taskHandle wraps a cancel func so handles compare by identity when an
// old task races with its replacement on cleanup.
type taskHandle struct {
	cancel context.CancelFunc
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		events:  make(map[uuid.UUID]*datatypes.ProcessingMessage),
		cancels: make(map[uuid.UUID]*taskHandle),
	}
}

// Register installs the live event for a config, replacing any finished
// event left from a previous run.
func (r *Registry) Register(configID uuid.UUID, message *datatypes.ProcessingMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[configID] = message
}

// Snapshot returns a copy of the live event for a config, safe to publish
// without holding the lock.
func (r *Registry) Snapshot(configID uuid.UUID) (*datatypes.ProcessingMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.events[configID]
	if !ok {
		return nil, false
	}
	return message.Clone(), true
}

// Status returns the status of the live event for a config, if one is
// resident.
func (r *Registry) Status(configID uuid.UUID) (datatypes.ProcessingStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.events[configID]
	if !ok {
		return "", false
	}
	return message.Status, true
}

// AddRun upserts an attempt on the live event for a config. Merge
// semantics are those of ProcessingMessage.AddRun: error lists are
// concatenated, non-nil fields replace, timestamps refresh. Unknown
// configs are ignored.
func (r *Registry) AddRun(configID, runID uuid.UUID, update datatypes.RunUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.events[configID]; ok {
		message.AddRun(runID, update)
	}
}

// RunFailed marks the last attempt of the live event failed if it is
// still running.
func (r *Registry) RunFailed(configID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.events[configID]; ok {
		message.RunFailed()
	}
}

// SetPRUri records the pull request URI on the live event.
func (r *Registry) SetPRUri(configID uuid.UUID, uri *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.events[configID]; ok {
		message.PRUri = uri
	}
}

// Stop transitions the live event to stopped.
func (r *Registry) Stop(configID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.events[configID]; ok {
		message.Stop()
	}
}

// Fail transitions the live event to failed.
func (r *Registry) Fail(configID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.events[configID]; ok {
		message.Fail()
	}
}

// Complete transitions the live event to completed with the output count.
func (r *Registry) Complete(configID uuid.UUID, outputCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.events[configID]; ok {
		message.Complete(outputCount)
	}
}

// AwaitReview transitions the live event to awaiting_review with the
// output count.
func (r *Registry) AwaitReview(configID uuid.UUID, outputCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message, ok := r.events[configID]; ok {
		message.AwaitReview(outputCount)
	}
}

// StartTask runs task in its own goroutine with a cancelable context,
// recording the cancel handle so a stop request can reach it. Any
// previous task handle for the config is replaced.
func (r *Registry) StartTask(configID uuid.UUID, task func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &taskHandle{cancel: cancel}
	r.mu.Lock()
	r.cancels[configID] = handle
	r.mu.Unlock()

	go func() {
		defer r.clearTask(configID, handle)
		task(ctx)
	}()
}

// CancelTask signals the task for a config to cease at its next
// checkpoint. Cancellation is cooperative: an in-flight model call or
// sandbox execution finishes before the task observes it.
func (r *Registry) CancelTask(configID uuid.UUID) {
	r.mu.Lock()
	handle, ok := r.cancels[configID]
	r.mu.Unlock()
	if ok {
		handle.cancel()
	}
}

func (r *Registry) clearTask(configID uuid.UUID, handle *taskHandle) {
	handle.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	// A newer task may have replaced the handle already.
	if current, ok := r.cancels[configID]; ok && current == handle {
		delete(r.cancels, configID)
	}
}
