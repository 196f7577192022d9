// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

// BadgerStore implements Store on an embedded BadgerDB instance.
//
// Key layout:
//
//	config/<config_id>            -> configEnvelope JSON
//	event/<config_id>/<run_id>    -> ProcessingMessage JSON
type BadgerStore struct {
	db *badger.DB
}

// configEnvelope wraps a config with its last-updated timestamp.
type configEnvelope struct {
	Config    *datatypes.TransformConfig `json:"config"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Open opens a persistent store at path, creating the directory if
// needed.
func Open(path string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1)
	opts = withLogger(opts, logger)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens an in-memory store. Useful for testing.
func OpenInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts = withLogger(opts, nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func withLogger(opts badger.Options, logger *slog.Logger) badger.Options {
	if logger == nil {
		return opts.WithLogger(nil)
	}
	return opts.WithLogger(&badgerLogger{logger: logger})
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func configKey(configID uuid.UUID) []byte {
	return []byte("config/" + configID.String())
}

func eventKey(configID, runID uuid.UUID) []byte {
	return []byte("event/" + configID.String() + "/" + runID.String())
}

func eventPrefix(configID uuid.UUID) []byte {
	return []byte("event/" + configID.String() + "/")
}

func (s *BadgerStore) setJSON(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
}

func (s *BadgerStore) getJSON(key []byte, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// SaveConfig implements Store.
func (s *BadgerStore) SaveConfig(ctx context.Context, config *datatypes.TransformConfig) error {
	envelope := configEnvelope{Config: config, UpdatedAt: time.Now()}
	if err := s.setJSON(configKey(config.ConfigID), envelope); err != nil {
		return fmt.Errorf("save config %s: %w", config.ConfigID, err)
	}
	return nil
}

// LoadConfig implements Store.
func (s *BadgerStore) LoadConfig(ctx context.Context, configID uuid.UUID) (*datatypes.TransformConfig, error) {
	var envelope configEnvelope
	if err := s.getJSON(configKey(configID), &envelope); err != nil {
		return nil, err
	}
	return envelope.Config, nil
}

// ListConfigs implements Store.
func (s *BadgerStore) ListConfigs(ctx context.Context) ([]datatypes.ConfigMetadata, error) {
	type entry struct {
		meta      datatypes.ConfigMetadata
		updatedAt time.Time
	}
	var entries []entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("config/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var envelope configEnvelope
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &envelope)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry{
				meta: datatypes.ConfigMetadata{
					ConfigID:    envelope.Config.ConfigID,
					Name:        envelope.Config.Name,
					LastUpdated: envelope.UpdatedAt.Format(time.RFC3339),
				},
				updatedAt: envelope.UpdatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.After(entries[j].updatedAt)
	})
	metas := make([]datatypes.ConfigMetadata, len(entries))
	for i, e := range entries {
		metas[i] = e.meta
	}
	return metas, nil
}

// InsertEvent implements Store.
func (s *BadgerStore) InsertEvent(ctx context.Context, configID uuid.UUID, inputCount int) (*datatypes.ProcessingMessage, error) {
	message := datatypes.NewProcessingMessage(uuid.New(), configID, inputCount)
	if err := s.UpdateEvent(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

// UpdateEvent implements Store.
func (s *BadgerStore) UpdateEvent(ctx context.Context, message *datatypes.ProcessingMessage) error {
	if err := s.setJSON(eventKey(message.ConfigID, message.ID), message); err != nil {
		return fmt.Errorf("update event %s: %w", message.ID, err)
	}
	return nil
}

// GetEvent implements Store.
func (s *BadgerStore) GetEvent(ctx context.Context, configID, runID uuid.UUID) (*datatypes.ProcessingMessage, error) {
	var message datatypes.ProcessingMessage
	if err := s.getJSON(eventKey(configID, runID), &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// LatestEvent implements Store.
func (s *BadgerStore) LatestEvent(ctx context.Context, configID uuid.UUID) (*datatypes.ProcessingMessage, error) {
	messages, err := s.listEvents(configID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNotFound
	}
	return messages[0], nil
}

// ListEventHistory implements Store.
func (s *BadgerStore) ListEventHistory(ctx context.Context, configID uuid.UUID) ([]datatypes.ProcessEventMetadata, error) {
	messages, err := s.listEvents(configID)
	if err != nil {
		return nil, err
	}
	history := make([]datatypes.ProcessEventMetadata, len(messages))
	for i, message := range messages {
		history[i] = message.Metadata()
	}
	return history, nil
}

// listEvents returns every event for a config, most recently updated
// first.
func (s *BadgerStore) listEvents(configID uuid.UUID) ([]*datatypes.ProcessingMessage, error) {
	var messages []*datatypes.ProcessingMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix(configID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var message datatypes.ProcessingMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			})
			if err != nil {
				return err
			}
			m := message
			messages = append(messages, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", configID, err)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.After(messages[j].Timestamp)
	})
	return messages, nil
}
