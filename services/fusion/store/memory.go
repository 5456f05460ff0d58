// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/vectorizer"
)

// vectored pairs a record's cached vector with the snapshot version it was
// produced under. Stale vectors are recomputed lazily on first use.
type vectored struct {
	vec     datatypes.Vector
	version int64
}

// MemoryCaseStore is the in-memory case store. Cases are immutable after
// Add; a superseding case freezes the old record by setting its
// SupersededBy pointer rather than editing it.
type MemoryCaseStore struct {
	mu      sync.RWMutex
	vec     *vectorizer.Vectorizer
	cases   map[string]*datatypes.Case
	vectors map[string]vectored
}

// NewMemoryCaseStore creates an empty case store bound to a vectorizer.
func NewMemoryCaseStore(vec *vectorizer.Vectorizer) *MemoryCaseStore {
	return &MemoryCaseStore{
		vec:     vec,
		cases:   make(map[string]*datatypes.Case),
		vectors: make(map[string]vectored),
	}
}

// Add ingests a case. When supersedes names an existing case, that record's
// SupersededBy pointer is set to the new ID; the old record otherwise stays
// untouched and searchable for audit.
func (s *MemoryCaseStore) Add(c datatypes.Case, supersedes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("case %q: %w", c.ID, ErrDuplicateID)
	}
	v, ver := s.vec.Vectorize(c.SearchText())
	s.cases[c.ID] = &c
	s.vectors[c.ID] = vectored{vec: v, version: ver}

	if supersedes != "" {
		if old, ok := s.cases[supersedes]; ok {
			old.SupersededBy = c.ID
		} else {
			slog.Warn("superseded case not found", "case_id", c.ID, "supersedes", supersedes)
		}
	}
	return nil
}

// SearchCases scores every case (or only the scoped subset) against the
// query vector. Vectors cached under an older snapshot version are
// recomputed before comparison so a refit never poisons similarity scores.
func (s *MemoryCaseStore) SearchCases(ctx context.Context, query datatypes.Vector, queryVersion int64, scope map[string]bool) ([]CaseHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := make([]CaseHit, 0, len(s.cases))
	for id, c := range s.cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if scope != nil && !scope[id] {
			continue
		}
		vr := s.vectors[id]
		sim, err := vectorizer.Compare(query, queryVersion, vr.vec, vr.version)
		if err != nil {
			// Stale cached vector; recompute under the live snapshot.
			fresh, ver := s.vec.Vectorize(c.SearchText())
			vr = vectored{vec: fresh, version: ver}
			s.vectors[id] = vr
			sim, err = vectorizer.Compare(query, queryVersion, vr.vec, vr.version)
			if err != nil {
				return nil, fmt.Errorf("case %q still stale after recompute: %w", id, err)
			}
		}
		hits = append(hits, CaseHit{Case: c, Similarity: sim})
	}
	sortCaseHits(hits)
	return hits, nil
}

// ListCases returns all cases in ID order.
func (s *MemoryCaseStore) ListCases() []*datatypes.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*datatypes.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CaseVectors returns a copy of every case vector under the live snapshot
// version, recomputing stale entries. Used by the cluster rebuilder, which
// needs one consistent vector space.
func (s *MemoryCaseStore) CaseVectors() (map[string]datatypes.Vector, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.vec.Version()
	out := make(map[string]datatypes.Vector, len(s.cases))
	for id, c := range s.cases {
		vr := s.vectors[id]
		if vr.version != current {
			fresh, ver := s.vec.Vectorize(c.SearchText())
			vr = vectored{vec: fresh, version: ver}
			s.vectors[id] = vr
		}
		out[id] = vr.vec
	}
	return out, current
}

// CaseByID looks up a single case.
func (s *MemoryCaseStore) CaseByID(id string) (*datatypes.Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	return c, ok
}

// Len reports the number of stored cases.
func (s *MemoryCaseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}

// SearchTexts returns the indexable text of every case, for vectorizer
// refits.
func (s *MemoryCaseStore) SearchTexts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c.SearchText())
	}
	return out
}

func sortCaseHits(hits []CaseHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Case.ID < hits[j].Case.ID
	})
}

// MemoryChunkStore is the in-memory document store. It shares the case
// store's vector-search contract.
type MemoryChunkStore struct {
	mu      sync.RWMutex
	vec     *vectorizer.Vectorizer
	chunks  map[string]*datatypes.DocumentChunk
	vectors map[string]vectored
	// byDoc indexes chunk IDs by parent document for retraction.
	byDoc map[string][]string
}

// NewMemoryChunkStore creates an empty document store bound to a vectorizer.
func NewMemoryChunkStore(vec *vectorizer.Vectorizer) *MemoryChunkStore {
	return &MemoryChunkStore{
		vec:     vec,
		chunks:  make(map[string]*datatypes.DocumentChunk),
		vectors: make(map[string]vectored),
		byDoc:   make(map[string][]string),
	}
}

// chunkSize is the approximate token count per document chunk.
const chunkSize = 120

// AddDocument chunks the document text and stores each chunk, all sharing
// the document's metadata. Returns the number of chunks created.
func (s *MemoryChunkStore) AddDocument(docID, text string, metadata map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byDoc[docID]) > 0 {
		return 0, fmt.Errorf("document %q: %w", docID, ErrDuplicateID)
	}

	words := strings.Fields(text)
	n := 0
	for off := 0; off < len(words); off += chunkSize {
		end := off + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunk := &datatypes.DocumentChunk{
			ID:               fmt.Sprintf("%s#%d", docID, n),
			SourceDocumentID: docID,
			Text:             strings.Join(words[off:end], " "),
			Offset:           off,
			Metadata:         metadata,
		}
		v, ver := s.vec.Vectorize(chunk.Text)
		s.chunks[chunk.ID] = chunk
		s.vectors[chunk.ID] = vectored{vec: v, version: ver}
		s.byDoc[docID] = append(s.byDoc[docID], chunk.ID)
		n++
	}
	return n, nil
}

// RetractDocument removes every chunk of the given parent document.
func (s *MemoryChunkStore) RetractDocument(docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byDoc[docID]
	for _, id := range ids {
		delete(s.chunks, id)
		delete(s.vectors, id)
	}
	delete(s.byDoc, docID)
	return len(ids)
}

// SearchChunks scores every chunk against the query vector, recomputing
// stale cached vectors on the way.
func (s *MemoryChunkStore) SearchChunks(ctx context.Context, query datatypes.Vector, queryVersion int64) ([]ChunkHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := make([]ChunkHit, 0, len(s.chunks))
	for id, ch := range s.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vr := s.vectors[id]
		sim, err := vectorizer.Compare(query, queryVersion, vr.vec, vr.version)
		if err != nil {
			fresh, ver := s.vec.Vectorize(ch.Text)
			vr = vectored{vec: fresh, version: ver}
			s.vectors[id] = vr
			sim, err = vectorizer.Compare(query, queryVersion, vr.vec, vr.version)
			if err != nil {
				return nil, fmt.Errorf("chunk %q still stale after recompute: %w", id, err)
			}
		}
		hits = append(hits, ChunkHit{Chunk: ch, Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	return hits, nil
}

// ChunksOf returns the chunks of one document in offset order, with their
// cached vectors. Used by the persistence mirror after ingestion.
func (s *MemoryChunkStore) ChunksOf(docID string) []ChunkHit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChunkHit, 0, len(s.byDoc[docID]))
	for _, id := range s.byDoc[docID] {
		out = append(out, ChunkHit{Chunk: s.chunks[id]})
	}
	return out
}

// VectorOf returns the cached vector for a chunk ID, if present.
func (s *MemoryChunkStore) VectorOf(chunkID string) (datatypes.Vector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vr, ok := s.vectors[chunkID]
	return vr.vec, ok
}

// Texts returns every chunk's text, for vectorizer refits.
func (s *MemoryChunkStore) Texts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.chunks))
	for _, ch := range s.chunks {
		out = append(out, ch.Text)
	}
	return out
}

// Len reports the number of stored chunks.
func (s *MemoryChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
