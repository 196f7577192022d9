// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filestore stores the raw input/output records of each run as
// line-delimited JSON files, with a small bounded read-ahead cache so
// repeated UI preview polls are served cheaply.
package filestore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

const (
	previewCacheTTL     = 5 * time.Minute
	previewCacheMaxSize = 1000
)

// Client reads and writes per-run JSONL data files.
type Client struct {
	root string

	mu    sync.Mutex
	cache map[string]previewEntry
}

type previewEntry struct {
	records   []map[string]any
	expiresAt time.Time
}

// New creates a Client rooted at dir.
func New(dir string) *Client {
	return &Client{root: dir, cache: make(map[string]previewEntry)}
}

func (c *Client) path(configID, runID uuid.UUID, kind datatypes.DataType) string {
	return filepath.Join(c.root, configID.String(), runID.String(), string(kind)+".jsonl")
}

// Save writes the records as one JSONL file, replacing any existing file
// for the same run and kind.
func (c *Client) Save(records []map[string]any, configID, runID uuid.UUID, kind datatypes.DataType) error {
	path := c.path(configID, runID, kind)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create data file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("write data row: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush data file: %w", err)
	}
	return nil
}

// ReadAll opens the JSONL file for streaming. The caller must close the
// returned reader.
func (c *Client) ReadAll(configID, runID uuid.UUID, kind datatypes.DataType) (io.ReadCloser, error) {
	file, err := os.Open(c.path(configID, runID, kind))
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	return file, nil
}

// ReadFirstN returns up to n leading records of the file. Results are
// cached briefly keyed by path, so the 1-second status poll does not
// re-read the file on every tick.
func (c *Client) ReadFirstN(configID, runID uuid.UUID, kind datatypes.DataType, n int) ([]map[string]any, error) {
	path := c.path(configID, runID, kind)

	c.mu.Lock()
	entry, ok := c.cache[path]
	c.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.records, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() && len(records) < n {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("parse data row: %w", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}

	c.mu.Lock()
	c.pruneLocked()
	c.cache[path] = previewEntry{records: records, expiresAt: time.Now().Add(previewCacheTTL)}
	c.mu.Unlock()
	return records, nil
}

// pruneLocked evicts expired entries and, if the cache is still at
// capacity, drops it entirely. Callers must hold c.mu.
func (c *Client) pruneLocked() {
	now := time.Now()
	for path, entry := range c.cache {
		if now.After(entry.expiresAt) {
			delete(c.cache, path)
		}
	}
	if len(c.cache) >= previewCacheMaxSize {
		c.cache = make(map[string]previewEntry)
	}
}
