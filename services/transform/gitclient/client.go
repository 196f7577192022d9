// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitclient commits generated assets to a hosting provider and
// manages the per-run pull request. The engine depends only on the
// capability interface; one concrete implementation exists per provider.
package gitclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

// Client is the version-control capability used by the synthesis loop and
// the batch processor.
type Client interface {
	// Commit writes fileContent to filePath on the client's per-run
	// branch (or the given branch when no run branch is bound) and
	// returns the commit URI.
	Commit(ctx context.Context, fileContent, filePath, message, branch string) (string, error)

	// Complete opens the per-run pull request, merging it when the run
	// passed and human review is not blocked. Returns the PR URI and
	// whether it was merged.
	Complete(ctx context.Context, executionPassed bool) (prURI string, merged bool, err error)

	// CheckPRStatus reports the review outcome of the per-run pull
	// request: completed when merged, failed when closed unmerged,
	// awaiting_review otherwise.
	CheckPRStatus(ctx context.Context) (datatypes.ProcessingStatus, error)

	// LatestAssets reads the schema and program committed to the primary
	// branch. The program is nil when none has been committed yet.
	LatestAssets(ctx context.Context) (datatypes.OutputSchema, *datatypes.Code, error)

	// CodeFilePath is the repository path of the generated program.
	CodeFilePath() string

	// SchemaFilePath is the repository path of the output schema.
	SchemaFilePath() string

	// PrimaryBranch is the branch pull requests merge into.
	PrimaryBranch() string
}

// Factory binds a provider to a config and, optionally, a processing
// event. eventID nil means no per-run branch: commits go to the branch
// named by the caller.
type Factory interface {
	For(config *datatypes.TransformConfig, eventID *uuid.UUID) (Client, error)
}

// NewFactory creates a Factory for the named provider. Supported
// providers: "github". baseURL is the externally visible URL of this
// service, used in pull request bodies.
func NewFactory(provider, token, baseURL string) (Factory, error) {
	switch provider {
	case "github":
		if token == "" {
			return nil, fmt.Errorf("a GitHub token is required to be set as GIT_PROVIDER_SECRET in order to use github")
		}
		return &githubFactory{token: token, baseURL: baseURL}, nil
	default:
		return nil, fmt.Errorf("unsupported git provider: %q", provider)
	}
}
