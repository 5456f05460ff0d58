// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router classifies incoming queries by intent and dispatches to a
// fixed-priority chain of synthesis backends. Every chain terminates in the
// ack backend, so routing never fails: the worst outcome of total backend
// unavailability is a degraded acknowledgment, never an error.
package router

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/synthesis"
)

// Intent is the coarse category of a query, derived from its wording.
type Intent string

const (
	// IntentDiagnostic covers "something is broken, what is the cause"
	// queries. They benefit most from the deterministic template output.
	IntentDiagnostic Intent = "diagnostic"
	// IntentSynthesis covers explanatory or summarizing queries where a
	// language model adds the most value.
	IntentSynthesis Intent = "synthesis"
	// IntentUnclassified is the default when neither taxonomy matches.
	IntentUnclassified Intent = "unclassified"
)

var diagnosticMarkers = []string{
	"error", "fail", "failing", "failure", "crash", "timeout", "timing out",
	"down", "outage", "broken", "slow", "latency", "lag", "stuck",
	"exception", "panic", "leak", "restart", "alert", "5xx", "unavailable",
	"root cause", "why is", "why are", "why does", "not working",
}

var synthesisMarkers = []string{
	"summarize", "summary", "explain", "explanation", "overview",
	"compare", "describe", "document", "write up", "what is", "what are",
	"how does", "how do", "walk me through",
}

// Classify maps a query to an intent via ordered keyword taxonomies.
// Diagnostic markers win over synthesis markers: "explain why payments is
// down" is a diagnostic query.
func Classify(query string) Intent {
	q := strings.ToLower(query)
	for _, m := range diagnosticMarkers {
		if strings.Contains(q, m) {
			return IntentDiagnostic
		}
	}
	for _, m := range synthesisMarkers {
		if strings.Contains(q, m) {
			return IntentSynthesis
		}
	}
	return IntentUnclassified
}

// Decision records which backend answered and whether the preferred one was
// skipped. Fallback drives the response's degraded flag.
type Decision struct {
	Intent   Intent
	Backend  string
	Fallback bool
}

// Router holds one backend chain per intent, ordered by preference.
type Router struct {
	chains map[Intent][]synthesis.Backend
}

// New builds the standard chains. Diagnostic and unclassified queries
// prefer the deterministic template; synthesis queries prefer the language
// model when one is configured. llm may be nil.
func New(llm synthesis.Backend) *Router {
	template := synthesis.TemplateBackend{}
	ack := synthesis.AckBackend{}

	synthChain := []synthesis.Backend{template, ack}
	if llm != nil {
		synthChain = append([]synthesis.Backend{llm}, synthChain...)
	}
	return &Router{chains: map[Intent][]synthesis.Backend{
		IntentDiagnostic:   {template, ack},
		IntentSynthesis:    synthChain,
		IntentUnclassified: {template, ack},
	}}
}

// NewWithChains builds a router from explicit chains, for tests and
// nonstandard deployments. Each chain must end in a backend that cannot
// fail; callers that break that rule get the canned last-resort text.
func NewWithChains(chains map[Intent][]synthesis.Backend) *Router {
	return &Router{chains: chains}
}

// Degraded probes every configured backend except the terminal ack and
// returns the names of those failing their health check, sorted. An empty
// result means full service.
func (r *Router) Degraded(ctx context.Context) []string {
	seen := make(map[string]bool)
	var down []string
	for _, chain := range r.chains {
		for _, b := range chain {
			name := b.Name()
			if name == "ack" || seen[name] {
				continue
			}
			seen[name] = true
			if !b.Healthy(ctx) {
				down = append(down, name)
			}
		}
	}
	sort.Strings(down)
	return down
}

// Respond classifies the query, walks the chain for that intent, and
// returns the first successful rendering. Unhealthy backends are skipped
// and render errors fall through to the next backend. Respond never
// returns an error.
func (r *Router) Respond(ctx context.Context, query string, comp synthesis.Composition) (string, Decision) {
	intent := Classify(query)
	chain := r.chains[intent]
	if chain == nil {
		chain = r.chains[IntentUnclassified]
	}

	for i, b := range chain {
		if !b.Healthy(ctx) {
			slog.Warn("synthesis backend unavailable, falling through",
				"backend", b.Name(), "intent", intent)
			continue
		}
		text, err := b.Render(ctx, query, comp)
		if err != nil {
			slog.Warn("synthesis backend failed, falling through",
				"backend", b.Name(), "intent", intent, "error", err)
			continue
		}
		return text, Decision{Intent: intent, Backend: b.Name(), Fallback: i > 0}
	}

	// Unreachable with the standard chains; guards custom chains without a
	// terminal ack backend.
	return "The diagnostic engine recorded your query but no synthesis " +
		"backend is available to answer right now.", Decision{Intent: intent, Backend: "none", Fallback: true}
}
