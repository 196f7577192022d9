// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command autotransform starts the transform HTTP server.
//
// # Environment Variables
//
//   - TRANSFORM_PORT: HTTP server port (default: 12260)
//   - TRANSFORM_DB_PATH: Badger database directory (default: ./data/db)
//   - TRANSFORM_DATA_DIR: per-run data file directory (default: ./data/runs)
//   - GIT_PROVIDER: version control provider, "github" or empty (default: empty)
//   - GIT_PROVIDER_SECRET: provider access token
//   - GIT_BASE_URL: externally reachable base URL of this service, used
//     for result links in pull request bodies (optional)
//   - OPENAI_API_KEY: model service API key (required)
//   - OPENAI_MODEL: model name (default: gpt-4o-mini)
//
// # Usage
//
//	go build -o autotransform ./cmd/autotransform
//	./autotransform serve
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/autotransform/services/transform"
)

var rootCmd = &cobra.Command{
	Use:   "autotransform",
	Short: "A service that derives and maintains data transformation programs from examples",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transform HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		slog.SetDefault(logger)

		cfg := transform.Config{
			Port:        getEnvInt("TRANSFORM_PORT", 12260),
			DBPath:      getEnvString("TRANSFORM_DB_PATH", "./data/db"),
			DataDir:     getEnvString("TRANSFORM_DATA_DIR", "./data/runs"),
			GitProvider: os.Getenv("GIT_PROVIDER"),
			GinMode:     os.Getenv("GIN_MODE"),
		}

		svc, err := transform.New(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()
		return svc.Run()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
