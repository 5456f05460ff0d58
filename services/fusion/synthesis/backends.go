// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Backend renders a Composition into the final response text. Backends may
// be unavailable; the router probes Healthy before dispatching and falls
// through its chain on failure.
type Backend interface {
	Name() string
	Healthy(ctx context.Context) bool
	Render(ctx context.Context, query string, comp Composition) (string, error)
}

// TemplateBackend renders the engine's deterministic text verbatim. It is
// always available and never errors, which makes it the standard fallback
// for diagnostic answers.
type TemplateBackend struct{}

func (TemplateBackend) Name() string { return "template" }

func (TemplateBackend) Healthy(ctx context.Context) bool { return true }

func (TemplateBackend) Render(ctx context.Context, query string, comp Composition) (string, error) {
	return comp.Text, nil
}

// AckBackend is the terminal fallback: it acknowledges the query and asks
// for more signal. It can never be unavailable, so a fallback chain ending
// in AckBackend always produces a response.
type AckBackend struct{}

func (AckBackend) Name() string { return "ack" }

func (AckBackend) Healthy(ctx context.Context) bool { return true }

func (AckBackend) Render(ctx context.Context, query string, comp Composition) (string, error) {
	if comp.Insufficient {
		return comp.Text, nil
	}
	return "Your query has been recorded against this diagnostic session. " +
		"The synthesis backends are currently unavailable; the session state " +
		"has been updated and a full answer will be available on retry.", nil
}

// OpenAIBackend paraphrases the composed explanation through a chat model.
// The facts (causes, probabilities, evidence) come exclusively from the
// Composition; the model only rewords them. Unconfigured or unreachable
// instances report unhealthy and the router falls through.
type OpenAIBackend struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIBackend builds a backend against an OpenAI-compatible endpoint.
// Returns nil when no API key or base URL is configured.
func NewOpenAIBackend(baseURL, apiKey, model string) *OpenAIBackend {
	if apiKey == "" && baseURL == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: 15 * time.Second,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

// Healthy probes the models endpoint with a short deadline.
func (b *OpenAIBackend) Healthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := b.client.ListModels(probeCtx); err != nil {
		slog.Debug("openai backend unhealthy", "error", err)
		return false
	}
	return true
}

const synthesisSystemPrompt = "You are a diagnostic assistant for production incidents. " +
	"Reword the provided analysis into a clear, concise answer for an engineer. " +
	"Do not invent causes, probabilities, or steps that are not in the analysis. " +
	"Keep the stated confidence and the ranked order of causes."

func (b *OpenAIBackend) Render(ctx context.Context, query string, comp Composition) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var user strings.Builder
	fmt.Fprintf(&user, "Engineer's question: %s\n\nAnalysis:\n%s", query, comp.Text)

	resp, err := b.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: synthesisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai synthesis failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai synthesis returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}
