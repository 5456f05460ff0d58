// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

func sessionWithHypotheses() *datatypes.Session {
	return &datatypes.Session{
		SessionID: "s1",
		State:     datatypes.BeliefActive,
		Hypotheses: []datatypes.Hypothesis{
			{CauseLabel: "kafka consumer timeout", Probability: 0.62,
				SupportingEvidence: []string{"c1"},
				NextSteps:          []string{"increase session timeout", "restart consumer group"}},
			{CauseLabel: "disk pressure", Probability: 0.21, SupportingEvidence: []string{"c3"}},
		},
	}
}

func turnEvidence() []datatypes.EvidenceRef {
	return []datatypes.EvidenceRef{
		{Source: datatypes.SourceCase, SourceID: "c1", Similarity: 0.83,
			Snippet:  "Consumer group rebalance storm after broker restart",
			Metadata: map[string]string{"cause_label": "kafka consumer timeout"}},
		{Source: datatypes.SourceDocument, SourceID: "d1#0", Similarity: 0.54,
			Snippet: "Tuning session.timeout.ms for high-latency networks"},
	}
}

func TestCompose_ConfidenceEqualsTopProbability(t *testing.T) {
	e := NewEngine(3, 5)
	comp := e.Compose(sessionWithHypotheses(), turnEvidence())

	assert.InDelta(t, 0.62, comp.Confidence, 1e-9)
	assert.False(t, comp.Insufficient)
	require.Len(t, comp.Hypotheses, 2)
	assert.Equal(t, "kafka consumer timeout", comp.Hypotheses[0].Cause)
}

func TestCompose_Deterministic(t *testing.T) {
	e := NewEngine(3, 5)
	sess := sessionWithHypotheses()
	ev := turnEvidence()

	first := e.Compose(sess, ev)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Compose(sess, ev))
	}
}

func TestCompose_TextNamesCauseEvidenceAndSteps(t *testing.T) {
	e := NewEngine(3, 5)
	comp := e.Compose(sessionWithHypotheses(), turnEvidence())

	assert.Contains(t, comp.Text, "kafka consumer timeout")
	assert.Contains(t, comp.Text, "confidence 62%")
	assert.Contains(t, comp.Text, "Consumer group rebalance storm")
	assert.Contains(t, comp.Text, "1. increase session timeout")
	assert.Contains(t, comp.Text, "disk pressure")
}

func TestCompose_NoHypothesesReportsInsufficientData(t *testing.T) {
	e := NewEngine(3, 5)
	sess := &datatypes.Session{SessionID: "s1", State: datatypes.BeliefNoHypotheses}

	comp := e.Compose(sess, nil)

	assert.True(t, comp.Insufficient)
	assert.Zero(t, comp.Confidence)
	assert.Empty(t, comp.Hypotheses)
	assert.Contains(t, comp.Text, "enough information")
}

func TestCompose_StepsFallBackToMatchedCase(t *testing.T) {
	e := NewEngine(3, 5)
	sess := &datatypes.Session{
		SessionID:  "s1",
		State:      datatypes.BeliefActive,
		Hypotheses: []datatypes.Hypothesis{{CauseLabel: "tls expiry", Probability: 0.4}},
	}
	ev := []datatypes.EvidenceRef{{
		Source: datatypes.SourceCase, SourceID: "c9", Similarity: 0.7,
		Snippet:  "Certificate rotation missed on edge gateway",
		Metadata: map[string]string{"cause_label": "tls expiry", "next_steps": "rotate certs\nreload gateway"},
	}}

	comp := e.Compose(sess, ev)
	assert.Equal(t, []string{"rotate certs", "reload gateway"}, comp.NextSteps)
}

func TestCompose_TruncatesToConfiguredWidths(t *testing.T) {
	e := NewEngine(1, 1)
	comp := e.Compose(sessionWithHypotheses(), turnEvidence())

	assert.Len(t, comp.Hypotheses, 1)
	assert.Len(t, comp.Evidence, 1)
}

func TestBackends_TemplateAndAckAlwaysAvailable(t *testing.T) {
	ctx := context.Background()
	comp := NewEngine(3, 5).Compose(sessionWithHypotheses(), turnEvidence())

	for _, b := range []Backend{TemplateBackend{}, AckBackend{}} {
		assert.True(t, b.Healthy(ctx), b.Name())
		out, err := b.Render(ctx, "why is my consumer lagging", comp)
		require.NoError(t, err, b.Name())
		assert.NotEmpty(t, out, b.Name())
	}
}

func TestTemplateBackend_RendersCompositionVerbatim(t *testing.T) {
	comp := NewEngine(3, 5).Compose(sessionWithHypotheses(), turnEvidence())
	out, err := TemplateBackend{}.Render(context.Background(), "q", comp)
	require.NoError(t, err)
	assert.Equal(t, comp.Text, out)
}

func TestNewOpenAIBackend_NilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewOpenAIBackend("", "", "gpt-4o-mini"))
	assert.NotNil(t, NewOpenAIBackend("http://localhost:11434/v1", "", "llama3"))
}
