// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists transform configs and processing event history.
//
// Events are written incrementally throughout a run (write-before-remove:
// an event's final state is durable before the live registry entry is
// considered replaceable), so a crash mid-run leaves a recoverable
// last-known state.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

// ErrNotFound is returned when a config or event does not exist.
var ErrNotFound = errors.New("not found")

// Store is the record store keyed by config id and run id.
type Store interface {
	// SaveConfig persists the config atomically, refreshing its
	// last-updated timestamp.
	SaveConfig(ctx context.Context, config *datatypes.TransformConfig) error

	// LoadConfig returns the config, or ErrNotFound.
	LoadConfig(ctx context.Context, configID uuid.UUID) (*datatypes.TransformConfig, error)

	// ListConfigs returns metadata for every config, most recently
	// updated first.
	ListConfigs(ctx context.Context) ([]datatypes.ConfigMetadata, error)

	// InsertEvent creates and persists a new running processing event for
	// a batch of inputCount records.
	InsertEvent(ctx context.Context, configID uuid.UUID, inputCount int) (*datatypes.ProcessingMessage, error)

	// UpdateEvent persists the current state of an event.
	UpdateEvent(ctx context.Context, message *datatypes.ProcessingMessage) error

	// GetEvent returns one event, or ErrNotFound.
	GetEvent(ctx context.Context, configID, runID uuid.UUID) (*datatypes.ProcessingMessage, error)

	// LatestEvent returns the most recently updated event for a config,
	// or ErrNotFound when the config has no events.
	LatestEvent(ctx context.Context, configID uuid.UUID) (*datatypes.ProcessingMessage, error)

	// ListEventHistory returns event metadata for a config, most recent
	// first.
	ListEventHistory(ctx context.Context, configID uuid.UUID) ([]datatypes.ProcessEventMetadata, error)

	// Close releases the underlying database.
	Close() error
}
