// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/vectorizer"
)

func seededStore(t *testing.T) (*store.MemoryCaseStore, *vectorizer.Vectorizer) {
	t.Helper()
	vec := vectorizer.New(256)
	s := store.NewMemoryCaseStore(vec)

	kafka := []string{"kafka consumer timeout", "kafka broker unreachable", "kafka consumer lag growing"}
	tls := []string{"tls certificate expired", "tls handshake failure", "certificate chain invalid"}
	disk := []string{"disk pressure on node", "disk full on data volume", "node disk io saturation"}

	add := func(prefix string, titles []string, resolution string, svc string, tags ...string) {
		for i, title := range titles {
			require.NoError(t, s.Add(datatypes.Case{
				ID:               fmt.Sprintf("%s-%d", prefix, i),
				Title:            title,
				AffectedServices: []string{svc},
				SymptomTags:      tags,
				ResolutionSteps:  []string{resolution},
				CreatedAt:        time.Now(),
			}, ""))
		}
	}
	add("kafka", kafka, "restart consumer group", "kafka", "kafka", "consumer", "broker")
	add("tls", tls, "rotate certificate", "ingress", "tls", "certificate", "handshake")
	add("disk", disk, "expand volume", "storage", "disk", "volume", "node")
	return s, vec
}

func TestRebuild_EveryCaseAssignedOnce(t *testing.T) {
	s, _ := seededStore(t)
	r := NewRebuilder(s, 3, 50)

	require.NoError(t, r.Rebuild(context.Background()))
	idx := r.Current()
	require.NotNil(t, idx)

	assert.Len(t, idx.Assignments, s.Len())
	for _, c := range s.ListCases() {
		a, ok := idx.Assignments[c.ID]
		require.True(t, ok, "case %s has no assignment", c.ID)
		assert.GreaterOrEqual(t, a.ClusterID, 0)
		assert.Less(t, a.ClusterID, len(idx.Centroids))
	}
}

func TestRebuild_GroupsSimilarCases(t *testing.T) {
	s, _ := seededStore(t)
	r := NewRebuilder(s, 3, 50)
	require.NoError(t, r.Rebuild(context.Background()))
	idx := r.Current()

	// All kafka cases should land in the same cluster.
	kafkaCluster := idx.Assignments["kafka-0"].ClusterID
	assert.Equal(t, kafkaCluster, idx.Assignments["kafka-1"].ClusterID)
	assert.Equal(t, kafkaCluster, idx.Assignments["kafka-2"].ClusterID)

	// And the tls cases in a different one.
	assert.NotEqual(t, kafkaCluster, idx.Assignments["tls-0"].ClusterID)
}

func TestRebuild_VersionIsMonotonic(t *testing.T) {
	s, _ := seededStore(t)
	r := NewRebuilder(s, 3, 50)

	require.NoError(t, r.Rebuild(context.Background()))
	v1 := r.Current().Version
	require.NoError(t, r.Rebuild(context.Background()))
	v2 := r.Current().Version
	assert.Greater(t, v2, v1)
}

func TestRebuild_InsufficientDataKeepsPreviousIndex(t *testing.T) {
	s, _ := seededStore(t)
	r := NewRebuilder(s, 3, 50)
	require.NoError(t, r.Rebuild(context.Background()))
	prev := r.Current()

	empty := store.NewMemoryCaseStore(vectorizer.New(256))
	r2 := NewRebuilder(empty, 3, 50)
	assert.ErrorIs(t, r2.Rebuild(context.Background()), ErrInsufficientData)
	assert.Nil(t, r2.Current())

	// The populated rebuilder still serves its last good index.
	assert.Same(t, prev, r.Current())
}

func TestStats_DominantResolution(t *testing.T) {
	s, _ := seededStore(t)
	r := NewRebuilder(s, 3, 50)
	require.NoError(t, r.Rebuild(context.Background()))
	idx := r.Current()

	kafkaCluster := idx.Assignments["kafka-0"].ClusterID
	st := idx.Stats[kafkaCluster]
	assert.Equal(t, 3, st.MemberCount)
	assert.Equal(t, "restart consumer group", st.DominantResolution)
	assert.InDelta(t, 1.0, st.ResolutionShare, 1e-9)
	assert.Contains(t, st.TopServices, "kafka")
}

func TestNearestClusters(t *testing.T) {
	s, vec := seededStore(t)
	r := NewRebuilder(s, 3, 50)
	require.NoError(t, r.Rebuild(context.Background()))
	idx := r.Current()

	q, _ := vec.Vectorize("kafka consumer timeout")
	nearest := idx.NearestClusters(q, 2)
	require.Len(t, nearest, 2)
	assert.Equal(t, idx.Assignments["kafka-0"].ClusterID, nearest[0])
}

func TestTrigger_SecondImmediateCallThrottled(t *testing.T) {
	s, _ := seededStore(t)
	r := NewRebuilder(s, 3, 50)

	require.NoError(t, r.Trigger(context.Background()))
	err := r.Trigger(context.Background())
	assert.Error(t, err)
}
