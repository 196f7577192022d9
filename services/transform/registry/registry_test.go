// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

func TestSnapshot_IsolatedCopy(t *testing.T) {
	reg := New()
	configID := uuid.New()
	reg.Register(configID, datatypes.NewProcessingMessage(uuid.New(), configID, 1))

	snapshot, ok := reg.Snapshot(configID)
	require.True(t, ok)

	reg.Fail(configID)
	assert.Equal(t, datatypes.StatusRunning, snapshot.Status)

	failed, _ := reg.Snapshot(configID)
	assert.Equal(t, datatypes.StatusFailed, failed.Status)
}

func TestSnapshot_UnknownConfig(t *testing.T) {
	reg := New()
	_, ok := reg.Snapshot(uuid.New())
	assert.False(t, ok)
}

func TestAddRun_UnknownConfigIgnored(t *testing.T) {
	reg := New()
	// Must not panic.
	reg.AddRun(uuid.New(), uuid.New(), datatypes.RunUpdate{})
	reg.RunFailed(uuid.New())
	reg.Stop(uuid.New())
}

func TestRegister_ReplacesFinishedEvent(t *testing.T) {
	reg := New()
	configID := uuid.New()
	first := datatypes.NewProcessingMessage(uuid.New(), configID, 1)
	reg.Register(configID, first)
	reg.Complete(configID, 1)

	second := datatypes.NewProcessingMessage(uuid.New(), configID, 2)
	reg.Register(configID, second)

	snapshot, _ := reg.Snapshot(configID)
	assert.Equal(t, second.ID, snapshot.ID)
	assert.Equal(t, datatypes.StatusRunning, snapshot.Status)
}

func TestStartTask_CancelReachesTask(t *testing.T) {
	reg := New()
	configID := uuid.New()

	started := make(chan struct{})
	done := make(chan struct{})
	reg.StartTask(configID, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(done)
	})

	<-started
	reg.CancelTask(configID)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestStartTask_HandleClearedAfterExit(t *testing.T) {
	reg := New()
	configID := uuid.New()

	done := make(chan struct{})
	reg.StartTask(configID, func(ctx context.Context) { close(done) })
	<-done

	// Give the deferred cleanup a moment, then verify a second task can
	// be started and canceled normally.
	time.Sleep(20 * time.Millisecond)
	reg.CancelTask(configID) // no-op, must not panic

	second := make(chan struct{})
	reg.StartTask(configID, func(ctx context.Context) {
		<-ctx.Done()
		close(second)
	})
	reg.CancelTask(configID)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement task did not observe cancellation")
	}
}

func TestConcurrentMutation(t *testing.T) {
	reg := New()
	configID := uuid.New()
	reg.Register(configID, datatypes.NewProcessingMessage(uuid.New(), configID, 1))
	runID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code := "function transform(input) { return input; }"
			reg.AddRun(runID, runID, datatypes.RunUpdate{}) // unknown config, ignored
			reg.AddRun(configID, runID, datatypes.RunUpdate{Code: &code})
			reg.Snapshot(configID)
		}()
	}
	wg.Wait()

	snapshot, _ := reg.Snapshot(configID)
	assert.Len(t, snapshot.Runs, 1)
}
