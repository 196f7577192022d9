// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

const githubAPIBase = "https://api.github.com"

type githubFactory struct {
	token   string
	baseURL string
}

// For implements Factory.
func (f *githubFactory) For(config *datatypes.TransformConfig, eventID *uuid.UUID) (Client, error) {
	if config.GitConfig == nil {
		return nil, fmt.Errorf("config %s has no git config", config.ConfigID)
	}
	basePath := fmt.Sprintf("%s-%s", config.Name, config.ConfigID.String()[:4])
	client := &GithubClient{
		http:             &http.Client{Timeout: 30 * time.Second},
		apiBase:          githubAPIBase,
		token:            f.token,
		baseURL:          f.baseURL,
		owner:            config.GitConfig.Owner,
		repo:             config.GitConfig.RepoName,
		primaryBranch:    config.GitConfig.PrimaryBranchName,
		blockHumanReview: config.GitConfig.BlockHumanReview,
		serviceName:      config.Name,
		serviceID:        config.ConfigID,
		schemaFilePath:   basePath + "/output_schema.json",
		codeFilePath:     basePath + "/service.js",
	}
	if eventID != nil {
		id := *eventID
		client.eventID = &id
		client.branchName = fmt.Sprintf("%s-%s", config.Name, id)
	}
	return client, nil
}

// GithubClient implements Client against the GitHub REST v3 API.
type GithubClient struct {
	http             *http.Client
	apiBase          string
	token            string
	baseURL          string
	owner            string
	repo             string
	primaryBranch    string
	blockHumanReview bool
	serviceName      string
	serviceID        uuid.UUID
	eventID          *uuid.UUID
	branchName       string
	schemaFilePath   string
	codeFilePath     string
}

func (c *GithubClient) CodeFilePath() string   { return c.codeFilePath }
func (c *GithubClient) SchemaFilePath() string { return c.schemaFilePath }
func (c *GithubClient) PrimaryBranch() string  { return c.primaryBranch }

// Commit implements Client.
func (c *GithubClient) Commit(ctx context.Context, fileContent, filePath, message, branch string) (string, error) {
	branchToUse := c.branchName
	if branchToUse == "" {
		branchToUse = branch
	}
	if branchToUse == "" {
		return "", fmt.Errorf("branch name is not set")
	}
	if branchToUse != c.primaryBranch {
		if err := c.createBranch(ctx, branchToUse); err != nil {
			return "", err
		}
	}
	return c.upsertFile(ctx, fileContent, filePath, message, branchToUse)
}

// Complete implements Client.
func (c *GithubClient) Complete(ctx context.Context, executionPassed bool) (string, bool, error) {
	if c.branchName == "" {
		return "", false, fmt.Errorf("branch name is not set")
	}
	verdict := "FAIL"
	if executionPassed {
		verdict = "PASS"
	}
	title := fmt.Sprintf("AutoTransform [%s] %s event=%s", verdict, c.serviceName, c.eventID)
	body := fmt.Sprintf("You can view the code generation process and results [here](%s/run/%s/%s)",
		c.baseURL, c.serviceID, c.eventID)

	number, uri, err := c.createPullRequest(ctx, title, body, c.branchName)
	if err != nil {
		return "", false, err
	}
	if executionPassed && !c.blockHumanReview {
		if err := c.mergePullRequest(ctx, number); err != nil {
			return uri, false, err
		}
		return uri, true, nil
	}
	return uri, false, nil
}

// CheckPRStatus implements Client.
func (c *GithubClient) CheckPRStatus(ctx context.Context) (datatypes.ProcessingStatus, error) {
	if c.branchName == "" {
		return "", fmt.Errorf("branch name is not set")
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=all&head=%s:%s", c.owner, c.repo, c.owner, c.branchName)
	var pulls []struct {
		Merged   bool   `json:"merged"`
		MergedAt string `json:"merged_at"`
		State    string `json:"state"`
		Head     struct {
			Ref string `json:"ref"`
		} `json:"head"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &pulls); err != nil {
		return "", err
	}
	for _, pr := range pulls {
		if pr.Head.Ref != c.branchName {
			continue
		}
		switch {
		case pr.Merged || pr.MergedAt != "":
			return datatypes.StatusCompleted, nil
		case pr.State == "closed":
			return datatypes.StatusFailed, nil
		default:
			return datatypes.StatusAwaitingReview, nil
		}
	}
	return "", fmt.Errorf("pull request for branch %s not found", c.branchName)
}

// LatestAssets implements Client.
func (c *GithubClient) LatestAssets(ctx context.Context) (datatypes.OutputSchema, *datatypes.Code, error) {
	schemaRaw, schemaURI, err := c.fileContents(ctx, c.schemaFilePath, c.primaryBranch)
	if err != nil {
		return datatypes.OutputSchema{}, nil, err
	}
	var schemaDoc map[string]any
	if err := json.Unmarshal([]byte(schemaRaw), &schemaDoc); err != nil {
		return datatypes.OutputSchema{}, nil, fmt.Errorf("parse committed output schema: %w", err)
	}
	schema := datatypes.OutputSchema{Schema: schemaDoc, Commit: &schemaURI}

	codeRaw, codeURI, err := c.fileContents(ctx, c.codeFilePath, c.primaryBranch)
	if err != nil {
		if isNotFound(err) {
			return schema, nil, nil
		}
		return datatypes.OutputSchema{}, nil, err
	}
	return schema, &datatypes.Code{Code: codeRaw, Commit: &codeURI}, nil
}

func (c *GithubClient) createBranch(ctx context.Context, branchName string) error {
	var branch struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", c.owner, c.repo, c.primaryBranch)
	if err := c.do(ctx, http.MethodGet, path, nil, &branch); err != nil {
		return fmt.Errorf("resolve primary branch: %w", err)
	}

	payload := map[string]string{
		"ref": "refs/heads/" + branchName,
		"sha": branch.Commit.SHA,
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", c.owner, c.repo), payload, nil)
	if err != nil && strings.Contains(err.Error(), "Reference already exists") {
		slog.Warn("Branch already exists", "branch", branchName)
		return nil
	}
	return err
}

func (c *GithubClient) upsertFile(ctx context.Context, fileContent, filePath, message, branchName string) (string, error) {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(fileContent)),
		"branch":  branchName,
	}

	// Updating an existing file requires its blob sha.
	var existing struct {
		SHA string `json:"sha"`
	}
	getPath := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", c.owner, c.repo, filePath, branchName)
	if err := c.do(ctx, http.MethodGet, getPath, nil, &existing); err == nil {
		payload["sha"] = existing.SHA
	} else if !isNotFound(err) {
		return "", err
	}

	var response struct {
		Commit struct {
			HTMLURL string `json:"html_url"`
		} `json:"commit"`
	}
	putPath := fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, c.repo, filePath)
	if err := c.do(ctx, http.MethodPut, putPath, payload, &response); err != nil {
		return "", fmt.Errorf("upsert %s: %w", filePath, err)
	}
	return response.Commit.HTMLURL, nil
}

func (c *GithubClient) createPullRequest(ctx context.Context, title, body, branchName string) (int, string, error) {
	payload := map[string]string{
		"title": title,
		"body":  body,
		"head":  branchName,
		"base":  c.primaryBranch,
	}
	var response struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls", c.owner, c.repo)
	if err := c.do(ctx, http.MethodPost, path, payload, &response); err != nil {
		return 0, "", fmt.Errorf("create pull request: %w", err)
	}
	return response.Number, response.HTMLURL, nil
}

func (c *GithubClient) mergePullRequest(ctx context.Context, number int) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", c.owner, c.repo, number)
	if err := c.do(ctx, http.MethodPut, path, map[string]string{}, nil); err != nil {
		return fmt.Errorf("merge pull request %d: %w", number, err)
	}
	return nil
}

func (c *GithubClient) fileContents(ctx context.Context, filePath, ref string) (content, uri string, err error) {
	var response struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		HTMLURL string `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", c.owner, c.repo, filePath, ref)
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return "", "", err
	}
	if response.Type != "file" {
		return "", "", fmt.Errorf("file %s is a directory", filePath)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(response.Content, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("decode contents of %s: %w", filePath, err)
	}
	return string(decoded), response.HTMLURL, nil
}

// statusError carries the HTTP status of a failed API call so callers can
// distinguish missing objects from real failures.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("github api returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (c *GithubClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal github payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("build github request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read github response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode github response: %w", err)
		}
	}
	return nil
}
