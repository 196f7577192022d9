// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform assembles the transform service: storage, bulk data
// files, the live run registry, the model client, version control, the
// batch processor, and the HTTP surface.
package transform

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/autotransform/services/llm"
	"github.com/AleutianAI/autotransform/services/transform/filestore"
	"github.com/AleutianAI/autotransform/services/transform/gitclient"
	"github.com/AleutianAI/autotransform/services/transform/processor"
	"github.com/AleutianAI/autotransform/services/transform/registry"
	"github.com/AleutianAI/autotransform/services/transform/routes"
	"github.com/AleutianAI/autotransform/services/transform/storage"
)

// Config is the deployment configuration of the transform service.
type Config struct {
	// Port is the HTTP server port. Default: 12260
	Port int

	// DBPath is the Badger database directory. Default: "./data/db"
	DBPath string

	// DataDir is the root directory for per-run JSONL data files.
	// Default: "./data/runs"
	DataDir string

	// GitProvider selects the version-control provider for configs that
	// carry a git_config. Currently only "github". Empty disables
	// version control.
	GitProvider string

	// GitToken authenticates against the provider. Falls back to the
	// GIT_PROVIDER_SECRET environment variable.
	GitToken string

	// GitBaseURL is the externally reachable base URL of this service,
	// used for result links in pull request bodies.
	GitBaseURL string

	// MaxAttempts bounds synthesis rounds per processing event.
	// Default: 5
	MaxAttempts int

	// GinMode sets the Gin framework mode. Default: uses GIN_MODE env
	// var or "debug".
	GinMode string
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12260
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/db"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/runs"
	}
	if cfg.GitToken == "" {
		cfg.GitToken = os.Getenv("GIT_PROVIDER_SECRET")
	}
	return cfg
}

// Service is the assembled transform service.
type Service struct {
	config    Config
	router    *gin.Engine
	store     storage.Store
	processor *processor.Processor
}

// New wires the service together. The model client requires its API key
// at construction; the version-control factory is optional.
func New(cfg Config) (*Service, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	store, err := storage.Open(cfg.DBPath, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	llmClient, err := llm.NewOpenAIClient()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize model client: %w", err)
	}

	var gitFactory gitclient.Factory
	if cfg.GitProvider != "" {
		gitFactory, err = gitclient.NewFactory(cfg.GitProvider, cfg.GitToken, cfg.GitBaseURL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("initialize version control: %w", err)
		}
	} else {
		slog.Info("No git provider configured, generated assets will not be committed")
	}

	files := filestore.New(cfg.DataDir)
	proc := processor.New(store, files, registry.New(), llmClient, gitFactory, cfg.MaxAttempts)

	router := gin.Default()
	routes.SetupRoutes(router, store, files, gitFactory, proc)

	return &Service{
		config:    cfg,
		router:    router,
		store:     store,
		processor: proc,
	}, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *Service) Run() error {
	slog.Info("Starting transform service", "port", s.config.Port)
	return s.router.Run(fmt.Sprintf(":%d", s.config.Port))
}

// Close releases the database.
func (s *Service) Close() error {
	return s.store.Close()
}
