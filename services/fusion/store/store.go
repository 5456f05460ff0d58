// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store holds the case and document stores. Records are immutable
// once ingested; only their cached vectors are refreshed when the
// vectorizer snapshot moves.
package store

import (
	"context"
	"errors"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// ErrDuplicateID is returned when an ingested record reuses an existing ID.
var ErrDuplicateID = errors.New("store: record with this id already exists")

// CaseHit is one scored case match.
type CaseHit struct {
	Case       *datatypes.Case
	Similarity float64
}

// ChunkHit is one scored document chunk match.
type ChunkHit struct {
	Chunk      *datatypes.DocumentChunk
	Similarity float64
}

// CaseSearcher is the read contract the evidence retriever uses against the
// case store. Scope restricts the search to the given case IDs; a nil scope
// searches everything.
type CaseSearcher interface {
	SearchCases(ctx context.Context, query datatypes.Vector, queryVersion int64, scope map[string]bool) ([]CaseHit, error)
}

// ChunkSearcher is the read contract against the document store.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, query datatypes.Vector, queryVersion int64) ([]ChunkHit, error)
}

// CaseLister exposes the full case set for cluster rebuilds and vectorizer
// refits.
type CaseLister interface {
	ListCases() []*datatypes.Case
	CaseVectors() (map[string]datatypes.Vector, int64)
	CaseByID(id string) (*datatypes.Case, bool)
	Len() int
}
