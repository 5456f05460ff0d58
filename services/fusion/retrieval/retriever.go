// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval merges case, document and cluster-pattern matches into
// one ranked evidence list.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/cluster"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/observability"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
)

// minSimilarity filters out matches with effectively no term overlap.
const minSimilarity = 0.05

// ClusterIndexProvider exposes the live cluster index snapshot. A nil index
// simply disables cluster narrowing and cluster-pattern evidence.
type ClusterIndexProvider interface {
	Current() *cluster.Index
}

// Retriever fans a query vector out to the case store, document store and
// cluster index and returns one ranked evidence list. Reads are lock-free
// against versioned snapshots; store calls are bounded by Timeout and
// retried once with a narrower scope before giving up on that source.
type Retriever struct {
	Cases    store.CaseSearcher
	Chunks   store.ChunkSearcher
	Clusters ClusterIndexProvider

	// CaseCount reports the case corpus size, used with NarrowThreshold to
	// decide when to restrict the case scan to the nearest clusters. The
	// narrowed scan trades recall for speed and is an explicit,
	// configuration-controlled approximation.
	CaseCount       func() int
	NarrowThreshold int
	Timeout         time.Duration

	// Metrics may be nil; the helpers accept a nil receiver.
	Metrics *observability.FusionMetrics
}

// Retrieve returns the topK evidence items for the query vector. An empty
// result is a valid, non-exceptional outcome; per-source timeouts degrade
// to partial evidence rather than failing the turn.
func (r *Retriever) Retrieve(ctx context.Context, query datatypes.Vector, queryVersion int64, topK int) ([]datatypes.EvidenceRef, error) {
	if topK <= 0 {
		return []datatypes.EvidenceRef{}, nil
	}
	idx := r.currentIndex()

	var caseRefs, chunkRefs, patternRefs []datatypes.EvidenceRef
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		refs, err := r.searchCases(gctx, idx, query, queryVersion, topK)
		if err != nil {
			return err
		}
		caseRefs = refs
		return nil
	})
	g.Go(func() error {
		refs, err := r.searchChunks(gctx, query, queryVersion, topK)
		if err != nil {
			return err
		}
		chunkRefs = refs
		return nil
	})
	g.Go(func() error {
		patternRefs = r.clusterPatterns(idx, query, topK)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]datatypes.EvidenceRef, 0, len(caseRefs)+len(chunkRefs)+len(patternRefs))
	merged = append(merged, caseRefs...)
	merged = append(merged, chunkRefs...)
	merged = append(merged, patternRefs...)
	SortEvidence(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// SortEvidence orders evidence by similarity descending, breaking ties by
// source priority (case > document > cluster_pattern) then source ID
// ascending. The ordering is total, so identical inputs always produce
// identical output.
func SortEvidence(refs []datatypes.EvidenceRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Similarity != refs[j].Similarity {
			return refs[i].Similarity > refs[j].Similarity
		}
		pi, pj := refs[i].Source.SourcePriority(), refs[j].Source.SourcePriority()
		if pi != pj {
			return pi < pj
		}
		return refs[i].SourceID < refs[j].SourceID
	})
}

func (r *Retriever) currentIndex() *cluster.Index {
	if r.Clusters == nil {
		return nil
	}
	return r.Clusters.Current()
}

// searchCases scans the case store, narrowing to the two nearest clusters
// for large corpora. A timeout is retried once with the single nearest
// cluster; if that also times out the turn proceeds without case evidence.
func (r *Retriever) searchCases(ctx context.Context, idx *cluster.Index, query datatypes.Vector, queryVersion int64, topK int) ([]datatypes.EvidenceRef, error) {
	var scope map[string]bool
	if idx != nil && r.CaseCount != nil && r.CaseCount() > r.NarrowThreshold {
		scope = scopeFromClusters(idx, query, 2)
	}

	hits, err := r.searchCasesOnce(ctx, query, queryVersion, scope)
	if isTimeout(err) {
		// Retry once with a tighter scope before surfacing partial evidence.
		if idx != nil {
			scope = scopeFromClusters(idx, query, 1)
		}
		r.Metrics.RecordRetrievalTimeout("case")
		slog.Warn("case search timed out, retrying narrowed", "scoped_cases", len(scope))
		hits, err = r.searchCasesOnce(ctx, query, queryVersion, scope)
	}
	if isTimeout(err) {
		r.Metrics.RecordRetrievalTimeout("case")
		slog.Warn("case search timed out after retry, continuing without case evidence")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	refs := make([]datatypes.EvidenceRef, 0, topK)
	for _, h := range hits {
		if h.Similarity < minSimilarity {
			break
		}
		refs = append(refs, caseEvidence(h))
		if len(refs) == topK {
			break
		}
	}
	return refs, nil
}

func (r *Retriever) searchCasesOnce(ctx context.Context, query datatypes.Vector, queryVersion int64, scope map[string]bool) ([]store.CaseHit, error) {
	sctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	return r.Cases.SearchCases(sctx, query, queryVersion, scope)
}

func (r *Retriever) searchChunks(ctx context.Context, query datatypes.Vector, queryVersion int64, topK int) ([]datatypes.EvidenceRef, error) {
	sctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	hits, err := r.Chunks.SearchChunks(sctx, query, queryVersion)
	if isTimeout(err) {
		r.Metrics.RecordRetrievalTimeout("document")
		slog.Warn("document search timed out, continuing without document evidence")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	refs := make([]datatypes.EvidenceRef, 0, topK)
	for _, h := range hits {
		if h.Similarity < minSimilarity {
			break
		}
		refs = append(refs, datatypes.EvidenceRef{
			Source:     datatypes.SourceDocument,
			SourceID:   h.Chunk.ID,
			Similarity: h.Similarity,
			Snippet:    snippet(h.Chunk.Text),
			Metadata:   h.Chunk.Metadata,
		})
		if len(refs) == topK {
			break
		}
	}
	return refs, nil
}

// clusterPatterns turns the nearest cluster's summary statistics into a
// pattern evidence item ("N similar cases, share resolved by X").
func (r *Retriever) clusterPatterns(idx *cluster.Index, query datatypes.Vector, topK int) []datatypes.EvidenceRef {
	if idx == nil || topK < 1 {
		return nil
	}
	refs := make([]datatypes.EvidenceRef, 0, 1)
	for _, cid := range idx.NearestClusters(query, 1) {
		st := idx.Stats[cid]
		if st.MemberCount < 2 || st.DominantResolution == "" {
			continue
		}
		sim := 1 - cluster.CosineDistance(query, idx.Centroids[cid])
		if sim < minSimilarity {
			continue
		}
		refs = append(refs, datatypes.EvidenceRef{
			Source:     datatypes.SourceClusterPattern,
			SourceID:   fmt.Sprintf("cluster-%d@v%d", cid, idx.Version),
			Similarity: sim,
			Snippet: fmt.Sprintf("%d similar historical cases; %.0f%% resolved by %q",
				st.MemberCount, st.ResolutionShare*100, st.DominantResolution),
			Metadata: map[string]string{
				"cause_label": st.DominantResolution,
				"next_steps":  st.DominantResolution,
			},
		})
	}
	return refs
}

func caseEvidence(h store.CaseHit) datatypes.EvidenceRef {
	md := map[string]string{
		"cause_label": h.Case.Title,
	}
	if len(h.Case.ResolutionSteps) > 0 {
		md["next_steps"] = strings.Join(h.Case.ResolutionSteps, "\n")
	}
	return datatypes.EvidenceRef{
		Source:     datatypes.SourceCase,
		SourceID:   h.Case.ID,
		Similarity: h.Similarity,
		Snippet:    snippet(h.Case.Title + ": " + h.Case.Description),
		Metadata:   md,
	}
}

func scopeFromClusters(idx *cluster.Index, query datatypes.Vector, n int) map[string]bool {
	scope := make(map[string]bool)
	for _, cid := range idx.NearestClusters(query, n) {
		for id := range idx.Members(cid) {
			scope[id] = true
		}
	}
	return scope
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (r *Retriever) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 2 * time.Second
}

const snippetLen = 200

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetLen {
		return text
	}
	return text[:snippetLen] + "…"
}
