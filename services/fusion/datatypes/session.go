// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// EvidenceSource identifies which store a piece of evidence came from.
type EvidenceSource string

const (
	SourceCase           EvidenceSource = "case"
	SourceDocument       EvidenceSource = "document"
	SourceClusterPattern EvidenceSource = "cluster_pattern"
)

// SourcePriority orders evidence sources for deterministic tie-breaking:
// cases outrank documents, documents outrank cluster patterns.
func (s EvidenceSource) SourcePriority() int {
	switch s {
	case SourceCase:
		return 0
	case SourceDocument:
		return 1
	case SourceClusterPattern:
		return 2
	}
	return 3
}

// EvidenceRef points at one retrieved piece of supporting evidence. It is
// immutable once attached to a session's evidence history. Metadata carries
// a bounded set of source-kind specific fields (cause_label, next step
// hints) rather than a freeform tag bag.
type EvidenceRef struct {
	Source     EvidenceSource    `json:"source"`
	SourceID   string            `json:"source_id"`
	Similarity float64           `json:"similarity"`
	Snippet    string            `json:"snippet"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CauseLabel returns the candidate root cause this evidence suggests, or ""
// when the evidence carries none (plain document chunks usually don't).
func (e *EvidenceRef) CauseLabel() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata["cause_label"]
}

// Hypothesis is a candidate root cause with an associated probability.
// Probability is mutated only through the belief tracker's update rule.
type Hypothesis struct {
	CauseLabel         string   `json:"cause_label"`
	Probability        float64  `json:"probability"`
	SupportingEvidence []string `json:"supporting_evidence_ids"`
	NextSteps          []string `json:"next_steps,omitempty"`
}

// BeliefState is the belief tracker's per-session state machine position.
type BeliefState string

const (
	BeliefNoHypotheses BeliefState = "no_hypotheses"
	BeliefActive       BeliefState = "active"
	BeliefConverged    BeliefState = "converged"
)

// Session tracks one ongoing multi-turn diagnostic conversation. The session
// store owns expiry; the belief tracker and synthesis engine mutate it once
// per completed turn. Active hypothesis probabilities always sum to <= 1;
// the unallocated remainder represents unexplained mass.
type Session struct {
	SessionID       string        `json:"session_id"`
	State           BeliefState   `json:"state"`
	Hypotheses      []Hypothesis  `json:"hypotheses"`
	Eliminated      []Hypothesis  `json:"eliminated_causes"`
	EvidenceHistory []EvidenceRef `json:"evidence_history"`
	TurnCount       int           `json:"turn_count"`
	TopCause        string        `json:"top_cause,omitempty"`
	TopStreak       int           `json:"top_streak"`
	CreatedAt       time.Time     `json:"created_at"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// TopHypothesis returns the highest-probability active hypothesis, or nil
// when the session has none.
func (s *Session) TopHypothesis() *Hypothesis {
	if len(s.Hypotheses) == 0 {
		return nil
	}
	return &s.Hypotheses[0]
}

// Clone returns a deep copy so a turn can be computed off-lock and committed
// atomically.
func (s *Session) Clone() Session {
	out := *s
	out.Hypotheses = cloneHypotheses(s.Hypotheses)
	out.Eliminated = cloneHypotheses(s.Eliminated)
	out.EvidenceHistory = make([]EvidenceRef, len(s.EvidenceHistory))
	copy(out.EvidenceHistory, s.EvidenceHistory)
	return out
}

func cloneHypotheses(in []Hypothesis) []Hypothesis {
	out := make([]Hypothesis, len(in))
	for i, h := range in {
		out[i] = h
		out[i].SupportingEvidence = append([]string(nil), h.SupportingEvidence...)
		out[i].NextSteps = append([]string(nil), h.NextSteps...)
	}
	return out
}
