// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cluster partitions the case corpus into similarity clusters for
// fast coarse retrieval and pattern statistics. The index is rebuilt
// wholesale off the serving path and published with an atomic pointer swap;
// readers never see partial state.
package cluster

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/vectorizer"
)

// ErrInsufficientData is returned when there are fewer cases than clusters.
var ErrInsufficientData = errors.New("cluster: not enough cases to build an index")

// stabilityThreshold stops Lloyd iterations once the fraction of vectors
// changing cluster drops below it.
const stabilityThreshold = 0.01

// kmeans runs k-means++ seeding followed by Lloyd's iterations under cosine
// distance. Input order is fixed by sorting IDs, and the RNG is seeded from
// the corpus size, so a rebuild over an unchanged corpus is deterministic.
func kmeans(vectors map[string]datatypes.Vector, k, maxIter int) (centroids []datatypes.Vector, assign map[string]int, err error) {
	if len(vectors) < k {
		return nil, nil, ErrInsufficientData
	}

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rng := rand.New(rand.NewSource(int64(len(ids))))
	centroids = seedPlusPlus(ids, vectors, k, rng)

	assign = make(map[string]int, len(ids))
	for iter := 0; iter < maxIter; iter++ {
		changed := 0
		for _, id := range ids {
			best := nearestCentroid(vectors[id], centroids)
			if prev, ok := assign[id]; !ok || prev != best {
				changed++
			}
			assign[id] = best
		}

		centroids = recomputeCentroids(ids, vectors, assign, k, rng)

		if float64(changed)/float64(len(ids)) < stabilityThreshold {
			break
		}
	}
	return centroids, assign, nil
}

// seedPlusPlus picks k initial centroids with k-means++ weighting: the
// first uniformly, each next proportional to squared distance from the
// nearest centroid chosen so far.
func seedPlusPlus(ids []string, vectors map[string]datatypes.Vector, k int, rng *rand.Rand) []datatypes.Vector {
	centroids := make([]datatypes.Vector, 0, k)
	first := ids[rng.Intn(len(ids))]
	centroids = append(centroids, cloneVector(vectors[first]))

	for len(centroids) < k {
		weights := make([]float64, len(ids))
		var total float64
		for i, id := range ids {
			d := distanceToNearest(vectors[id], centroids)
			weights[i] = d * d
			total += weights[i]
		}
		if total == 0 {
			// All remaining vectors coincide with a centroid; duplicate one.
			centroids = append(centroids, cloneVector(vectors[ids[rng.Intn(len(ids))]]))
			continue
		}
		target := rng.Float64() * total
		var acc float64
		picked := ids[len(ids)-1]
		for i, id := range ids {
			acc += weights[i]
			if acc >= target {
				picked = id
				break
			}
		}
		centroids = append(centroids, cloneVector(vectors[picked]))
	}
	return centroids
}

func recomputeCentroids(ids []string, vectors map[string]datatypes.Vector, assign map[string]int, k int, rng *rand.Rand) []datatypes.Vector {
	dim := len(vectors[ids[0]])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for _, id := range ids {
		c := assign[id]
		counts[c]++
		for j, x := range vectors[id] {
			sums[c][j] += float64(x)
		}
	}

	centroids := make([]datatypes.Vector, k)
	for i := range centroids {
		centroids[i] = make(datatypes.Vector, dim)
		if counts[i] == 0 {
			// Empty cluster: re-seed from a random member of the corpus.
			copy(centroids[i], vectors[ids[rng.Intn(len(ids))]])
			continue
		}
		for j := range centroids[i] {
			centroids[i][j] = float32(sums[i][j] / float64(counts[i]))
		}
	}
	return centroids
}

// CosineDistance is 1 - cosine similarity.
func CosineDistance(a, b datatypes.Vector) float64 {
	return 1 - vectorizer.Cosine(a, b)
}

func nearestCentroid(v datatypes.Vector, centroids []datatypes.Vector) int {
	best, bestDist := 0, CosineDistance(v, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := CosineDistance(v, centroids[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func distanceToNearest(v datatypes.Vector, centroids []datatypes.Vector) float64 {
	best := CosineDistance(v, centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := CosineDistance(v, centroids[i]); d < best {
			best = d
		}
	}
	return best
}

func cloneVector(v datatypes.Vector) datatypes.Vector {
	out := make(datatypes.Vector, len(v))
	copy(out, v)
	return out
}
