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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
	"github.com/AleutianAI/autotransform/services/transform/gitclient"
	"github.com/AleutianAI/autotransform/services/transform/processor"
	"github.com/AleutianAI/autotransform/services/transform/storage"
	"github.com/AleutianAI/autotransform/services/transform/validate"
)

// UpsertConfig creates a transform config or updates an existing one. The
// output schema document must itself be a valid JSON Schema, and every
// labeled record's output must conform to it. Replacing the schema of an
// existing config retires its generated program, since that program
// targeted the old contract. When a git config is present the primary
// branch is kept current: newly configured version control gets initial
// commits of the schema (and the program, when one exists), and a schema
// replacement is committed as an update.
func UpsertConfig(store storage.Store, gitFactory gitclient.Factory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpsertConfig
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		schema, err := validate.CompileSchema(req.OutputSchema)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "output_schema is not a valid jsonschema: " + err.Error()})
			return
		}
		for _, example := range req.UserProvidedRecords {
			if err := schema.Validate(example.Output); err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error": "Labeled record does not comply with provided schema: " + err.Error(),
				})
				return
			}
		}

		var config *datatypes.TransformConfig
		gitWasConfigured := false
		schemaChanged := false
		if req.ConfigID != nil {
			existing, err := store.LoadConfig(c.Request.Context(), *req.ConfigID)
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Config not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			config = existing
			gitWasConfigured = config.GitConfig != nil
			if !datatypes.DeepEqualJSON(config.OutputSchema.Schema, req.OutputSchema) {
				schemaChanged = true
				config.OutputSchema = datatypes.OutputSchema{Schema: req.OutputSchema}
				config.Code = nil
			}
			config.Name = req.Name
			config.GitConfig = req.GitConfig
			if req.UserProvidedRecords != nil {
				config.UserProvidedRecords = req.UserProvidedRecords
			}
		} else {
			config = &datatypes.TransformConfig{
				ConfigID:            uuid.New(),
				Name:                req.Name,
				OutputSchema:        datatypes.OutputSchema{Schema: req.OutputSchema},
				UserProvidedRecords: req.UserProvidedRecords,
				GitConfig:           req.GitConfig,
				CodeQA:              datatypes.DefaultCodeQa(),
			}
		}

		if config.GitConfig != nil && gitFactory != nil {
			if err := syncPrimaryBranch(c.Request.Context(), gitFactory, config, gitWasConfigured, schemaChanged); err != nil {
				slog.Error("Failed to commit config assets", "config_id", config.ConfigID, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		if err := store.SaveConfig(c.Request.Context(), config); err != nil {
			slog.Error("Failed to save config", "config_id", config.ConfigID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("Config saved", "config_id", config.ConfigID, "name", config.Name)
		c.JSON(http.StatusOK, config)
	}
}

// syncPrimaryBranch keeps the primary branch aligned with the config:
// newly configured version control seeds it with the current schema and
// program, a later schema replacement is committed as an update.
func syncPrimaryBranch(ctx context.Context, gitFactory gitclient.Factory, config *datatypes.TransformConfig, gitWasConfigured, schemaChanged bool) error {
	git, err := gitFactory.For(config, nil)
	if err != nil {
		return err
	}

	commitSchema := func(message string) error {
		schemaRaw, err := json.MarshalIndent(config.OutputSchema.Schema, "", "  ")
		if err != nil {
			return err
		}
		uri, err := git.Commit(ctx, string(schemaRaw), git.SchemaFilePath(), message, git.PrimaryBranch())
		if err != nil {
			return err
		}
		config.OutputSchema.Commit = &uri
		return nil
	}

	switch {
	case !gitWasConfigured:
		if err := commitSchema("[at bot] Initial output schema commit"); err != nil {
			return err
		}
		if config.Code != nil {
			uri, err := git.Commit(ctx, config.Code.Code, git.CodeFilePath(),
				"[at bot] Initial code commit", git.PrimaryBranch())
			if err != nil {
				return err
			}
			config.Code.Commit = &uri
		}
	case schemaChanged:
		if err := commitSchema("[at bot] Update output schema commit"); err != nil {
			return err
		}
	}
	return nil
}

// ListConfigs returns metadata for every config, most recently updated
// first.
func ListConfigs(store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := store.ListConfigs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, configs)
	}
}

// GetConfig returns one config with its processing event history. When
// the latest event awaits human review the pull request state is
// reconciled first, so a merge or close performed on the forge shows up
// here without any other trigger.
func GetConfig(store storage.Store, p *processor.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		configID, err := uuid.Parse(c.Param("configId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config id"})
			return
		}

		config, err := store.LoadConfig(c.Request.Context(), configID)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Config not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := p.SyncReviewState(c.Request.Context(), config); err != nil {
			slog.Warn("Failed to reconcile review state", "config_id", configID, "error", err)
		}

		history, err := store.ListEventHistory(c.Request.Context(), configID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, datatypes.ConfigResponse{History: history, Config: config})
	}
}
