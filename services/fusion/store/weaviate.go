// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// WeaviateMirror persists ingested cases and chunks to a Weaviate instance
// so the corpus survives restarts. The in-memory stores remain the serving
// path; the mirror is written asynchronously and read once at startup.
// When no Weaviate URL is configured the engine runs in lightweight mode
// with no mirror at all.
type WeaviateMirror struct {
	client *weaviate.Client
}

// NewWeaviateMirror wraps an existing Weaviate client.
func NewWeaviateMirror(client *weaviate.Client) *WeaviateMirror {
	return &WeaviateMirror{client: client}
}

// EnsureSchema creates the DiagnosticCase and KnowledgeChunk classes if they
// do not exist. Vectorizer is "none": the engine supplies its own vectors.
func (m *WeaviateMirror) EnsureSchema(ctx context.Context) error {
	for _, class := range []*models.Class{caseSchema(), chunkSchema()} {
		exists, err := m.client.Schema().ClassExistenceChecker().
			WithClassName(class.Class).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to check class %s: %w", class.Class, err)
		}
		if exists {
			continue
		}
		if err := m.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("failed to create class %s: %w", class.Class, err)
		}
		slog.Info("created Weaviate class", "class", class.Class)
	}
	return nil
}

// SaveCase mirrors one case record. Called asynchronously after the
// in-memory store accepted the record; failures are logged by the caller
// and never block the serving path.
func (m *WeaviateMirror) SaveCase(ctx context.Context, c *datatypes.Case, vec datatypes.Vector) error {
	properties := map[string]interface{}{
		"case_id":           c.ID,
		"title":             c.Title,
		"description":       c.Description,
		"affected_services": strings.Join(c.AffectedServices, ","),
		"symptom_tags":      strings.Join(c.SymptomTags, ","),
		"resolution_steps":  strings.Join(c.ResolutionSteps, "\n"),
		"confidence":        c.Confidence,
		"created_at":        c.CreatedAt.UnixMilli(),
	}
	_, err := m.client.Data().Creator().
		WithClassName("DiagnosticCase").
		WithProperties(properties).
		WithVector([]float32(vec)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save case %s to Weaviate: %w", c.ID, err)
	}
	return nil
}

// SaveChunk mirrors one document chunk.
func (m *WeaviateMirror) SaveChunk(ctx context.Context, ch *datatypes.DocumentChunk, vec datatypes.Vector) error {
	properties := map[string]interface{}{
		"chunk_id":    ch.ID,
		"document_id": ch.SourceDocumentID,
		"text":        ch.Text,
		"offset":      ch.Offset,
		"metadata":    metadataText(ch.Metadata),
		"ingested_at": time.Now().UnixMilli(),
	}
	_, err := m.client.Data().Creator().
		WithClassName("KnowledgeChunk").
		WithProperties(properties).
		WithVector([]float32(vec)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save chunk %s to Weaviate: %w", ch.ID, err)
	}
	return nil
}

func metadataText(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	b, err := json.Marshal(md)
	if err != nil {
		return ""
	}
	return string(b)
}

func caseSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "DiagnosticCase",
		Description: "An immutable historical troubleshooting case.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "case_id",
				DataType:        []string{"text"},
				Description:     "Stable engine-assigned case identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:         "description",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:     "affected_services",
				DataType: []string{"text"},
			},
			{
				Name:     "symptom_tags",
				DataType: []string{"text"},
			},
			{
				Name:     "resolution_steps",
				DataType: []string{"text"},
			},
			{
				Name:     "confidence",
				DataType: []string{"number"},
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func chunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "KnowledgeChunk",
		Description: "A chunk of free-text troubleshooting knowledge.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Parent document; chunks are deleted when it is retracted.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:     "offset",
				DataType: []string{"int"},
			},
			{
				Name:        "metadata",
				DataType:    []string{"text"},
				Description: "Ingestion metadata, JSON-encoded.",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				IndexFilterable: indexFilterable,
			},
		},
	}
}
