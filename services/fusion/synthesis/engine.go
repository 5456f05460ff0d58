// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package synthesis fuses retrieved evidence and session hypotheses into a
// single ranked, confidence-scored response.
package synthesis

import (
	"fmt"
	"strings"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// Composition is the deterministic output of the fusion step: everything a
// backend needs to render a response. Confidence equals the top
// hypothesis's probability, or 0 when no hypothesis exists; the engine
// never fabricates a cause.
type Composition struct {
	Text         string
	Confidence   float64
	Hypotheses   []datatypes.HypothesisSummary
	Evidence     []datatypes.EvidenceSummary
	NextSteps    []string
	Insufficient bool
}

// Engine selects the top hypotheses and evidence and composes a structured
// explanation. Deterministic: identical session state and evidence always
// produce an identical Composition.
type Engine struct {
	TopHypotheses int
	TopEvidence   int
}

// NewEngine creates an engine with the given selection widths.
func NewEngine(topHypotheses, topEvidence int) *Engine {
	return &Engine{TopHypotheses: topHypotheses, TopEvidence: topEvidence}
}

// Compose fuses the session's hypotheses with this turn's evidence.
func (e *Engine) Compose(sess *datatypes.Session, evidence []datatypes.EvidenceRef) Composition {
	comp := Composition{
		Hypotheses: e.summarizeHypotheses(sess),
		Evidence:   e.summarizeEvidence(evidence),
	}

	top := sess.TopHypothesis()
	if top == nil {
		comp.Insufficient = true
		comp.Text = insufficientText
		return comp
	}

	comp.Confidence = top.Probability
	comp.NextSteps = e.nextSteps(top, evidence)
	comp.Text = e.explain(sess, top, comp.NextSteps, evidence)
	return comp
}

const insufficientText = "I don't have enough information to suggest a cause yet. " +
	"No matching historical cases or documentation were found. Please share " +
	"more detail about the symptoms, affected services, and recent changes."

func (e *Engine) summarizeHypotheses(sess *datatypes.Session) []datatypes.HypothesisSummary {
	n := e.TopHypotheses
	if n > len(sess.Hypotheses) {
		n = len(sess.Hypotheses)
	}
	out := make([]datatypes.HypothesisSummary, n)
	for i := 0; i < n; i++ {
		out[i] = datatypes.HypothesisSummary{
			Cause:       sess.Hypotheses[i].CauseLabel,
			Probability: sess.Hypotheses[i].Probability,
		}
	}
	return out
}

func (e *Engine) summarizeEvidence(evidence []datatypes.EvidenceRef) []datatypes.EvidenceSummary {
	n := e.TopEvidence
	if n > len(evidence) {
		n = len(evidence)
	}
	out := make([]datatypes.EvidenceSummary, n)
	for i := 0; i < n; i++ {
		out[i] = datatypes.EvidenceSummary{
			Source:     string(evidence[i].Source),
			Similarity: evidence[i].Similarity,
			Snippet:    evidence[i].Snippet,
		}
	}
	return out
}

// nextSteps prefers the top hypothesis's own steps; when it carries none,
// the best-matching case's resolution steps stand in.
func (e *Engine) nextSteps(top *datatypes.Hypothesis, evidence []datatypes.EvidenceRef) []string {
	if len(top.NextSteps) > 0 {
		return top.NextSteps
	}
	for i := range evidence {
		if evidence[i].Source != datatypes.SourceCase {
			continue
		}
		if steps := evidence[i].Metadata["next_steps"]; steps != "" {
			return strings.Split(steps, "\n")
		}
	}
	return nil
}

func (e *Engine) explain(sess *datatypes.Session, top *datatypes.Hypothesis, steps []string, evidence []datatypes.EvidenceRef) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Most likely cause: %s (confidence %.0f%%).\n",
		top.CauseLabel, top.Probability*100)

	if n := min(len(evidence), e.TopEvidence); n > 0 {
		b.WriteString("\nSupporting evidence:\n")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "  - [%s %s, similarity %.2f] %s\n",
				evidence[i].Source, evidence[i].SourceID, evidence[i].Similarity, evidence[i].Snippet)
		}
	}

	if len(steps) > 0 {
		b.WriteString("\nSuggested next steps:\n")
		for i, step := range steps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}

	if n := min(len(sess.Hypotheses), e.TopHypotheses); n > 1 {
		b.WriteString("\nAlternative causes considered:\n")
		for i := 1; i < n; i++ {
			fmt.Fprintf(&b, "  - %s (%.0f%%)\n",
				sess.Hypotheses[i].CauseLabel, sess.Hypotheses[i].Probability*100)
		}
	}

	if sess.State == datatypes.BeliefConverged {
		b.WriteString("\nThis diagnosis has been stable across turns.\n")
	}
	return b.String()
}
