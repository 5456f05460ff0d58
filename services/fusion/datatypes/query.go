// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// QueryRequest is the body of POST /query. SessionId is omitted on the
// first call; the server generates one and returns it in the response.
type QueryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionId string `json:"session_id"`
	TopK      int    `json:"top_k"`
}

// HypothesisSummary is the caller-facing view of one active hypothesis.
type HypothesisSummary struct {
	Cause       string  `json:"cause"`
	Probability float64 `json:"probability"`
}

// EvidenceSummary is the caller-facing view of one retrieved evidence item.
type EvidenceSummary struct {
	Source     string  `json:"source"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet"`
}

// QueryResponse is the body returned by POST /query. Degraded is true when
// the answer came from a fallback backend rather than the preferred path.
type QueryResponse struct {
	Response   string              `json:"response"`
	SessionId  string              `json:"session_id"`
	Hypotheses []HypothesisSummary `json:"hypotheses"`
	Evidence   []EvidenceSummary   `json:"evidence"`
	Confidence float64             `json:"confidence"`
	Degraded   bool                `json:"degraded"`
	Backend    string              `json:"backend,omitempty"`
}

// IngestCaseRequest is the ingestion collaborator's payload for a historical
// case. Text extraction from binary formats happens upstream; this engine
// only vectorizes and stores.
type IngestCaseRequest struct {
	ID               string   `json:"id" binding:"required"`
	Title            string   `json:"title" binding:"required"`
	Description      string   `json:"description"`
	AffectedServices []string `json:"affected_services"`
	SymptomTags      []string `json:"symptom_tags"`
	ResolutionSteps  []string `json:"resolution_steps"`
	Confidence       float64  `json:"confidence"`
	Supersedes       string   `json:"supersedes,omitempty"`
}

// IngestDocumentRequest is the ingestion collaborator's payload for a
// free-text knowledge unit. The engine chunks, vectorizes and stores it.
type IngestDocumentRequest struct {
	ID       string            `json:"id" binding:"required"`
	Text     string            `json:"text" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

// HealthResponse reports serving status and the live snapshot versions.
type HealthResponse struct {
	Status              string   `json:"status"`
	ClusterIndexVersion int64    `json:"cluster_index_version"`
	VectorizerVersion   int64    `json:"vectorizer_version"`
	DegradedBackends    []string `json:"degraded_backends,omitempty"`
}
