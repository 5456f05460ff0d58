// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package belief maintains per-session weighted hypotheses about candidate
// root causes and updates their probabilities as new evidence arrives.
//
// # State machine
//
// Each session moves between three states:
//
//   - no_hypotheses: nothing has suggested a cause yet
//   - active: one or more hypotheses carry probability mass
//   - converged: the top hypothesis has held a probability above the
//     confidence threshold for at least two consecutive turns
//
// # Update rule
//
// For each evidence item carrying a cause label:
//
//	posterior = prior * (1 + reliability(source) * similarity)
//
// and a new hypothesis starts at initialScale * reliability * similarity.
// The multiplier is always >= 1, so evidence can only reinforce, never
// penalize; decay happens through renormalization when competing causes
// gain mass. After all updates, if the total active mass exceeds 1 the set
// is scaled back to sum to exactly 1; a total below 1 is left alone. The
// remainder is unexplained mass, deliberately never forced to 1.
//
// Exact numeric calibration (reliability weights, initial scale) is a
// tunable configuration, not hidden behavior; the defaults are pinned by
// unit tests.
package belief

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// Config holds the tunable parameters of the update rule.
//
// # Fields
//
//   - Reliability: per-source weight of evidence. Cases are first-hand
//     incident records and weigh most; document chunks and cluster
//     patterns are circumstantial.
//   - InitialScale: scales the first probability of a freshly created
//     hypothesis.
//   - MinProbability: the elimination floor. Hypotheses dropping below it
//     are frozen onto the eliminated list and excluded from future
//     renormalization, which keeps long sessions bounded.
//   - ConvergenceThreshold: top-hypothesis probability required for the
//     converged state.
//   - ConvergenceTurns: consecutive turns the same cause must stay on top.
type Config struct {
	Reliability          map[datatypes.EvidenceSource]float64
	InitialScale         float64
	MinProbability       float64
	ConvergenceThreshold float64
	ConvergenceTurns     int
}

// DefaultConfig returns the calibration the engine ships with.
func DefaultConfig() Config {
	return Config{
		Reliability: map[datatypes.EvidenceSource]float64{
			datatypes.SourceCase:           1.0,
			datatypes.SourceDocument:       0.6,
			datatypes.SourceClusterPattern: 0.8,
		},
		InitialScale:         0.5,
		MinProbability:       0.02,
		ConvergenceThreshold: 0.85,
		ConvergenceTurns:     2,
	}
}

// Tracker applies the update rule to session state. It is stateless itself
// and safe for concurrent use; all mutable state lives in the Session,
// which the caller holds under its per-session lock.
type Tracker struct {
	cfg Config
}

// NewTracker creates a tracker with the given calibration.
func NewTracker(cfg Config) *Tracker {
	if cfg.Reliability == nil {
		cfg = DefaultConfig()
	}
	return &Tracker{cfg: cfg}
}

// Likelihood is the configured scoring function: the multiplicative factor
// applied to a prior when evidence of the given source and similarity
// reinforces it. Monotonic in similarity, always >= 1.
func (t *Tracker) Likelihood(source datatypes.EvidenceSource, similarity float64) float64 {
	return 1 + t.cfg.Reliability[source]*similarity
}

// InitialProbability is the mass assigned to a brand-new hypothesis.
func (t *Tracker) InitialProbability(source datatypes.EvidenceSource, similarity float64) float64 {
	p := t.cfg.InitialScale * t.cfg.Reliability[source] * similarity
	if p >= 1 {
		p = 0.99
	}
	return p
}

// Update applies one turn of evidence to the session: reinforcing or
// creating hypotheses, renormalizing, eliminating floored causes, and
// advancing the state machine. The evidence is appended to the session's
// history. The caller must hold the session's lock.
func (t *Tracker) Update(sess *datatypes.Session, evidence []datatypes.EvidenceRef) {
	for i := range evidence {
		ev := &evidence[i]
		cause := ev.CauseLabel()
		if cause == "" || ev.Similarity <= 0 {
			continue
		}
		if h := findHypothesis(sess.Hypotheses, cause); h != nil {
			h.Probability *= t.Likelihood(ev.Source, ev.Similarity)
			h.SupportingEvidence = append(h.SupportingEvidence, ev.SourceID)
			mergeNextSteps(h, ev)
		} else {
			sess.Hypotheses = append(sess.Hypotheses, datatypes.Hypothesis{
				CauseLabel:         cause,
				Probability:        t.InitialProbability(ev.Source, ev.Similarity),
				SupportingEvidence: []string{ev.SourceID},
				NextSteps:          nextSteps(ev),
			})
		}
	}
	sess.EvidenceHistory = append(sess.EvidenceHistory, evidence...)

	renormalize(sess)
	t.eliminate(sess)
	sortHypotheses(sess.Hypotheses)
	t.transition(sess)
}

// renormalize scales active probabilities down to sum to 1 when their total
// exceeds it. A total below 1 stays as-is: the gap is unexplained mass.
func renormalize(sess *datatypes.Session) {
	var total float64
	for i := range sess.Hypotheses {
		total += sess.Hypotheses[i].Probability
	}
	if total <= 1 {
		return
	}
	for i := range sess.Hypotheses {
		sess.Hypotheses[i].Probability /= total
	}
}

// eliminate freezes hypotheses below the floor onto the eliminated list.
// Frozen weights keep the value they held at elimination time, for audit.
func (t *Tracker) eliminate(sess *datatypes.Session) {
	kept := sess.Hypotheses[:0]
	for _, h := range sess.Hypotheses {
		if h.Probability < t.cfg.MinProbability {
			sess.Eliminated = append(sess.Eliminated, h)
			continue
		}
		kept = append(kept, h)
	}
	sess.Hypotheses = kept
}

// transition advances the state machine and the top-cause streak counter.
func (t *Tracker) transition(sess *datatypes.Session) {
	top := sess.TopHypothesis()
	if top == nil {
		sess.State = datatypes.BeliefNoHypotheses
		sess.TopCause = ""
		sess.TopStreak = 0
		return
	}

	if top.CauseLabel == sess.TopCause {
		sess.TopStreak++
	} else {
		sess.TopCause = top.CauseLabel
		sess.TopStreak = 1
	}

	if top.Probability >= t.cfg.ConvergenceThreshold && sess.TopStreak >= t.cfg.ConvergenceTurns {
		sess.State = datatypes.BeliefConverged
		return
	}
	sess.State = datatypes.BeliefActive
}

// TotalMass returns the sum of active hypothesis probabilities; always <= 1
// after an Update.
func TotalMass(sess *datatypes.Session) float64 {
	var total float64
	for i := range sess.Hypotheses {
		total += sess.Hypotheses[i].Probability
	}
	return total
}

// CheckInvariant verifies the probability-mass invariant, for use in tests
// and debug assertions.
func CheckInvariant(sess *datatypes.Session) error {
	const epsilon = 1e-9
	if total := TotalMass(sess); total > 1+epsilon {
		return fmt.Errorf("belief: hypothesis mass %v exceeds 1", total)
	}
	return nil
}

func findHypothesis(hs []datatypes.Hypothesis, cause string) *datatypes.Hypothesis {
	for i := range hs {
		if hs[i].CauseLabel == cause {
			return &hs[i]
		}
	}
	return nil
}

func nextSteps(ev *datatypes.EvidenceRef) []string {
	if ev.Metadata == nil || ev.Metadata["next_steps"] == "" {
		return nil
	}
	return strings.Split(ev.Metadata["next_steps"], "\n")
}

func mergeNextSteps(h *datatypes.Hypothesis, ev *datatypes.EvidenceRef) {
	for _, step := range nextSteps(ev) {
		exists := false
		for _, have := range h.NextSteps {
			if have == step {
				exists = true
				break
			}
		}
		if !exists {
			h.NextSteps = append(h.NextSteps, step)
		}
	}
}

func sortHypotheses(hs []datatypes.Hypothesis) {
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].Probability != hs[j].Probability {
			return hs[i].Probability > hs[j].Probability
		}
		return hs[i].CauseLabel < hs[j].CauseLabel
	})
}
