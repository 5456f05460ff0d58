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
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/vectorizer"
)

// ErrRebuildInProgress is returned when a rebuild trigger arrives while a
// rebuild is already running.
var ErrRebuildInProgress = fmt.Errorf("cluster: rebuild already in progress")

// ErrRebuildThrottled is returned when triggers arrive faster than the
// configured rate allows.
var ErrRebuildThrottled = fmt.Errorf("cluster: rebuild trigger throttled")

// Stats summarizes one cluster for pattern lookups: how many member cases
// it holds, the resolution step most of them share, and the service tags
// that co-occur in it.
type Stats struct {
	ClusterID          int      `json:"cluster_id"`
	MemberCount        int      `json:"member_count"`
	DominantResolution string   `json:"dominant_resolution"`
	ResolutionShare    float64  `json:"resolution_share"`
	TopServices        []string `json:"top_services"`
}

// Index is one immutable, fully-built clustering of the case corpus.
// Version increases monotonically across rebuilds; retrieval always reads a
// single consistent Index through the rebuilder's atomic pointer.
type Index struct {
	Version           int64
	VectorizerVersion int64
	Centroids         []datatypes.Vector
	Assignments       map[string]datatypes.ClusterAssignment
	Stats             []Stats
	BuiltAt           time.Time
}

// NearestClusters returns the cluster IDs closest to the query vector, best
// first, limited to n.
func (idx *Index) NearestClusters(query datatypes.Vector, n int) []int {
	type scored struct {
		id  int
		sim float64
	}
	all := make([]scored, len(idx.Centroids))
	for i, c := range idx.Centroids {
		all[i] = scored{id: i, sim: vectorizer.Cosine(query, c)}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].sim != all[j].sim {
			return all[i].sim > all[j].sim
		}
		return all[i].id < all[j].id
	})
	if n > len(all) {
		n = len(all)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].id
	}
	return out
}

// Members returns the case IDs assigned to a cluster.
func (idx *Index) Members(clusterID int) map[string]bool {
	out := make(map[string]bool)
	for id, a := range idx.Assignments {
		if a.ClusterID == clusterID {
			out[id] = true
		}
	}
	return out
}

// Rebuilder owns the live Index and runs rebuilds off the serving path.
// Readers call Current and never block; the only writer is the rebuild
// goroutine, which publishes a complete Index in one pointer swap. A failed
// rebuild keeps the previous index serving.
type Rebuilder struct {
	cases   store.CaseLister
	k       int
	maxIter int

	idx      atomic.Pointer[Index]
	version  atomic.Int64
	mu       sync.Mutex // guards inflight
	inflight bool
	limiter  *rate.Limiter
}

// NewRebuilder creates a rebuilder with no index yet. Triggers are limited
// to one per ten seconds; the external scheduler is expected to be coarse.
func NewRebuilder(cases store.CaseLister, k, maxIter int) *Rebuilder {
	return &Rebuilder{
		cases:   cases,
		k:       k,
		maxIter: maxIter,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Current returns the live index, or nil when none has been built yet.
func (r *Rebuilder) Current() *Index {
	return r.idx.Load()
}

// Version returns the live index version, 0 when no index exists.
func (r *Rebuilder) Version() int64 {
	if idx := r.idx.Load(); idx != nil {
		return idx.Version
	}
	return 0
}

// Trigger starts an asynchronous rebuild and returns immediately. Returns
// ErrRebuildThrottled or ErrRebuildInProgress when the trigger is dropped;
// both are advisory, not failures of the serving path.
func (r *Rebuilder) Trigger(ctx context.Context) error {
	if !r.limiter.Allow() {
		return ErrRebuildThrottled
	}
	r.mu.Lock()
	if r.inflight {
		r.mu.Unlock()
		return ErrRebuildInProgress
	}
	r.inflight = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.inflight = false
			r.mu.Unlock()
		}()
		if err := r.Rebuild(ctx); err != nil {
			slog.Error("cluster rebuild failed, previous index retained",
				"error", err, "serving_version", r.Version())
		}
	}()
	return nil
}

// Rebuild builds a complete new index and publishes it. Exposed for tests
// and for the synchronous startup build; the serving path uses Trigger.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	start := time.Now()
	vectors, vecVersion := r.cases.CaseVectors()

	k := r.k
	if k > len(vectors) {
		k = len(vectors)
	}
	if k < 1 {
		return ErrInsufficientData
	}

	centroids, assign, err := kmeans(vectors, k, r.maxIter)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	assignments := make(map[string]datatypes.ClusterAssignment, len(assign))
	for id, c := range assign {
		assignments[id] = datatypes.ClusterAssignment{
			CaseID:             id,
			ClusterID:          c,
			DistanceToCentroid: CosineDistance(vectors[id], centroids[c]),
		}
	}

	next := &Index{
		Version:           r.version.Add(1),
		VectorizerVersion: vecVersion,
		Centroids:         centroids,
		Assignments:       assignments,
		Stats:             r.buildStats(assign, k),
		BuiltAt:           time.Now(),
	}
	r.idx.Store(next)

	slog.Info("cluster index rebuilt",
		"version", next.Version,
		"clusters", k,
		"cases", len(assignments),
		"duration", time.Since(start))
	return nil
}

// buildStats derives per-cluster pattern statistics from the assignments:
// the most common first resolution step and the most frequent service tags.
func (r *Rebuilder) buildStats(assign map[string]int, k int) []Stats {
	resolutions := make([]map[string]int, k)
	services := make([]map[string]int, k)
	counts := make([]int, k)
	for i := 0; i < k; i++ {
		resolutions[i] = make(map[string]int)
		services[i] = make(map[string]int)
	}

	for id, c := range assign {
		counts[c]++
		rec, ok := r.cases.CaseByID(id)
		if !ok {
			continue
		}
		if len(rec.ResolutionSteps) > 0 {
			resolutions[c][rec.ResolutionSteps[0]]++
		}
		for _, svc := range rec.AffectedServices {
			services[c][svc]++
		}
	}

	stats := make([]Stats, k)
	for i := 0; i < k; i++ {
		dominant, share := topEntry(resolutions[i], counts[i])
		stats[i] = Stats{
			ClusterID:          i,
			MemberCount:        counts[i],
			DominantResolution: dominant,
			ResolutionShare:    share,
			TopServices:        topN(services[i], 3),
		}
	}
	return stats
}

func topEntry(freq map[string]int, total int) (string, float64) {
	best, bestN := "", 0
	for k, n := range freq {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	if total == 0 || best == "" {
		return "", 0
	}
	return best, float64(bestN) / float64(total)
}

func topN(freq map[string]int, n int) []string {
	type kv struct {
		k string
		n int
	}
	all := make([]kv, 0, len(freq))
	for k, v := range freq {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n != all[j].n {
			return all[i].n > all[j].n
		}
		return all[i].k < all[j].k
	})
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].k
	}
	return out
}
