// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vectorizer converts free text into fixed-length term-weighted
// vectors for similarity comparison.
//
// The scheme is hashed TF-IDF: tokens are hashed into a fixed number of
// buckets, weighted by term frequency and inverse document frequency over a
// corpus-statistics snapshot, and L2-normalized. Hashing keeps the dimension
// fixed without a vocabulary table, so any two vectors produced under the
// same snapshot are directly comparable.
//
// Corpus statistics are immutable snapshots published through an atomic
// pointer. Refit builds a new snapshot with a bumped version; vectors carry
// the version they were produced under, and comparing across versions is an
// ErrConfigMismatch that callers resolve by re-vectorizing.
package vectorizer

import (
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// ErrConfigMismatch is returned when two vectors from different snapshot
// versions are compared. It is local to the engine and never surfaced to
// callers; stores react by lazily re-vectorizing the stale side.
var ErrConfigMismatch = errors.New("vectorizer: vector versions do not match")

// Snapshot is an immutable corpus-statistics capture. DocFreq maps hashed
// term buckets to the number of corpus documents containing that bucket.
type Snapshot struct {
	Version  int64
	Dim      int
	DocCount int
	DocFreq  map[uint32]int
}

// Vectorizer produces deterministic vectors for a given snapshot. All
// methods are safe for concurrent use; Refit publishes a new snapshot with
// a single atomic swap and never blocks readers.
type Vectorizer struct {
	dim  int
	snap atomic.Pointer[Snapshot]
}

// New creates a vectorizer with an empty corpus-statistics snapshot at
// version 1. With no statistics every bucket gets a flat IDF, which is still
// a valid (purely TF-based) weighting.
func New(dim int) *Vectorizer {
	v := &Vectorizer{dim: dim}
	v.snap.Store(&Snapshot{Version: 1, Dim: dim, DocFreq: map[uint32]int{}})
	return v
}

// Version returns the live snapshot version.
func (v *Vectorizer) Version() int64 {
	return v.snap.Load().Version
}

// Vectorize converts text into a unit-length vector and reports the
// snapshot version it was produced under. Deterministic for a fixed
// snapshot and input.
func (v *Vectorizer) Vectorize(text string) (datatypes.Vector, int64) {
	snap := v.snap.Load()
	vec := make(datatypes.Vector, snap.Dim)

	counts := map[uint32]int{}
	for _, tok := range Tokenize(text) {
		counts[hashToken(tok)%uint32(snap.Dim)]++
	}
	for bucket, tf := range counts {
		vec[bucket] = float32(float64(tf) * snap.idf(bucket))
	}
	normalize(vec)
	return vec, snap.Version
}

// Refit rebuilds corpus statistics from the given documents and publishes
// the result as a new snapshot. Returns the new version. Previously issued
// vectors become stale and must be recomputed before they can be compared
// against vectors from the new snapshot.
func (v *Vectorizer) Refit(docs []string) int64 {
	old := v.snap.Load()
	next := &Snapshot{
		Version:  old.Version + 1,
		Dim:      v.dim,
		DocCount: len(docs),
		DocFreq:  make(map[uint32]int),
	}
	for _, doc := range docs {
		seen := map[uint32]bool{}
		for _, tok := range Tokenize(doc) {
			seen[hashToken(tok)%uint32(v.dim)] = true
		}
		for bucket := range seen {
			next.DocFreq[bucket]++
		}
	}
	v.snap.Store(next)
	return next.Version
}

// Compare returns the cosine similarity of two vectors, rejecting the
// comparison when they come from different snapshot versions.
func Compare(a datatypes.Vector, aVer int64, b datatypes.Vector, bVer int64) (float64, error) {
	if aVer != bVer {
		return 0, ErrConfigMismatch
	}
	return Cosine(a, b), nil
}

// Cosine computes cosine similarity clamped to [0, 1]. Both inputs are
// expected to be unit-normalized, but the denominator is computed anyway to
// stay correct for raw vectors (e.g., cluster centroids before
// re-normalization).
func Cosine(a, b datatypes.Vector) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Tokenize lowercases and splits on non-alphanumeric runes, dropping
// single-character tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// idf is a smoothed inverse document frequency. With an empty snapshot it
// degrades to a constant, making vectors purely TF-weighted.
func (s *Snapshot) idf(bucket uint32) float64 {
	return math.Log(1 + float64(s.DocCount+1)/float64(s.DocFreq[bucket]+1))
}

func hashToken(tok string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return h.Sum32()
}

func normalize(vec datatypes.Vector) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
