// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model service client used for program
// synthesis, schema revision, and output audits.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one message in a model conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System is a convenience constructor for a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User is a convenience constructor for a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant is a convenience constructor for an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Complete returns a single completion for the chat.
	Complete(ctx context.Context, chat []Message) (string, error)

	// Stream returns a completion for the chat, invoking onDelta with the
	// accumulated content after every received chunk. The final content is
	// returned once the stream terminates. A terminal stream error is
	// returned as-is; partial content already passed to onDelta stands.
	Stream(ctx context.Context, chat []Message, onDelta func(content string)) (string, error)
}
