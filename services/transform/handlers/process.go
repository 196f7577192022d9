// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/filestore"
	"github.com/AleutianAI/autotransform/services/transform/processor"
	"github.com/AleutianAI/autotransform/services/transform/storage"
)

const (
	statusPollInterval = 1 * time.Second
	previewRecords     = 10
)

// StartProcessing admits a batch of records and launches the processing
// event in the background. Returns 202 with the initial event state.
func StartProcessing(p *processor.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DataToProcess
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		message, err := p.Start(c.Request.Context(), &req)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "Config not found"})
			case errors.Is(err, processor.ErrEventActive):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				slog.Error("Failed to start processing", "config_id", req.ConfigID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		slog.Info("Processing started", "config_id", req.ConfigID, "event_id", message.ID, "records", message.InputCount)
		c.JSON(http.StatusAccepted, message)
	}
}

// StopProcessing requests cancellation of a processing event. The event
// transitions to stopped at the task's next checkpoint.
func StopProcessing(p *processor.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		configID, err := uuid.Parse(c.Param("configId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config id"})
			return
		}
		runID, err := uuid.Parse(c.Param("runId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
			return
		}

		if err := p.Stop(c.Request.Context(), configID, runID); err != nil {
			if errors.Is(err, processor.ErrNotRunning) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Failed to stop processing", "config_id", configID, "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Processing stop requested", "config_id", configID, "run_id", runID)
		c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
	}
}

// StreamStatus streams the state of one processing event as server-sent
// events, polling once per second until the event reaches a terminal
// state or the client disconnects. The live registry serves the snapshot
// only while its event is the requested run; otherwise every poll falls
// back to persisted storage, so historical runs — and events finalized
// by another process — stay observable. Each frame carries the attempt
// list plus small input/output previews.
func StreamStatus(p *processor.Processor, store storage.Store, files *filestore.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		configID, err := uuid.Parse(c.Param("configId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config id"})
			return
		}
		runID, err := uuid.Parse(c.Param("runId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
			return
		}

		resolve := func() (*datatypes.ProcessingMessage, error) {
			if live, ok := p.Registry().Snapshot(configID); ok && live.ID == runID {
				return live, nil
			}
			return store.GetEvent(c.Request.Context(), configID, runID)
		}

		message, err := resolve()
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Processing event not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		ticker := time.NewTicker(statusPollInterval)
		defer ticker.Stop()

		for {
			c.SSEvent("status", statusSnapshot(message, files))
			c.Writer.Flush()

			if message.Status != datatypes.StatusRunning {
				return
			}
			select {
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
			}
			if next, resolveErr := resolve(); resolveErr == nil {
				message = next
			}
		}
	}
}

// statusSnapshot decorates an event with input/output previews. Preview
// reads are cached by the filestore, so the poll loop stays cheap.
func statusSnapshot(message *datatypes.ProcessingMessage, files *filestore.Client) *datatypes.ProcessingEvent {
	event := &datatypes.ProcessingEvent{Message: message}
	if inputs, err := files.ReadFirstN(message.ConfigID, message.ID, datatypes.DataTypeInput, previewRecords); err == nil {
		event.InputData = inputs
	}
	if outputs, err := files.ReadFirstN(message.ConfigID, message.ID, datatypes.DataTypeOutput, previewRecords); err == nil {
		event.OutputData = outputs
	}
	return event
}
