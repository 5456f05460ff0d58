// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared data model for the diagnostic fusion
// engine: historical cases, document chunks, evidence references, hypotheses
// and session state, plus the HTTP request/response shapes.
package datatypes

import "time"

// Vector is a fixed-length term-weighted representation of a piece of text.
// Two vectors are only comparable if they were produced by the same
// vectorizer snapshot version.
type Vector []float32

// Case is an immutable historical incident record. Corrections never mutate
// a stored case; they create a new case whose SupersededBy pointer on the
// old record links the two versions.
type Case struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	AffectedServices []string  `json:"affected_services"`
	SymptomTags      []string  `json:"symptom_tags"`
	ResolutionSteps  []string  `json:"resolution_steps"`
	Confidence       float64   `json:"confidence"`
	SupersededBy     string    `json:"superseded_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SearchText returns the text the vectorizer indexes for this case.
func (c *Case) SearchText() string {
	text := c.Title + " " + c.Description
	for _, tag := range c.SymptomTags {
		text += " " + tag
	}
	for _, svc := range c.AffectedServices {
		text += " " + svc
	}
	return text
}

// DocumentChunk is an immutable slice of free-text knowledge (a guide or
// post-mortem). Chunks are deleted only when the parent document is
// retracted.
type DocumentChunk struct {
	ID               string `json:"id"`
	SourceDocumentID string `json:"source_document_id"`
	Text             string `json:"text"`
	Offset           int    `json:"offset"`
	// Metadata is the ingestion payload's metadata, shared by every chunk
	// of the document and carried onto evidence built from the chunk.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ClusterAssignment maps one case to the cluster it belongs to. Assignment
// sets are rebuilt wholesale on every clustering run and published
// atomically; they are never patched in place.
type ClusterAssignment struct {
	CaseID             string  `json:"case_id"`
	ClusterID          int     `json:"cluster_id"`
	DistanceToCentroid float64 `json:"distance_to_centroid"`
}
