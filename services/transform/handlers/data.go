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
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/filestore"
)

// ExportData streams the full input or output data of one processing
// event as newline-delimited JSON. kind is "input" or "output".
func ExportData(files *filestore.Client) gin.HandlerFunc {
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
		kind := datatypes.DataType(c.Param("kind"))
		if kind != datatypes.DataTypeInput && kind != datatypes.DataTypeOutput {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Data kind must be input or output"})
			return
		}

		reader, err := files.ReadAll(configID, runID, kind)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{"error": "No data for run"})
				return
			}
			slog.Error("Failed to open run data", "config_id", configID, "run_id", runID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer reader.Close()

		c.Header("Content-Type", "application/x-ndjson")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s.jsonl", runID, kind))
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, reader); err != nil {
			slog.Warn("Data export interrupted", "config_id", configID, "run_id", runID, "error", err)
		}
	}
}
