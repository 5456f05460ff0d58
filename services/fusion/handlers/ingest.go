// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
)

// CreateCase ingests one historical case. The in-memory store is the
// serving path; the Weaviate mirror is written asynchronously and its
// failures never fail the request.
func CreateCase(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestCaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid case: " + err.Error()})
			return
		}

		newCase := datatypes.Case{
			ID:               req.ID,
			Title:            req.Title,
			Description:      req.Description,
			AffectedServices: req.AffectedServices,
			SymptomTags:      req.SymptomTags,
			ResolutionSteps:  req.ResolutionSteps,
			Confidence:       req.Confidence,
			CreatedAt:        time.Now(),
		}
		if err := d.Cases.Add(newCase, req.Supersedes); err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				c.JSON(http.StatusConflict, gin.H{"error": "case id already exists", "id": req.ID})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("case ingested", "id", req.ID, "supersedes", req.Supersedes)

		mirrorCase(d, req.ID)

		c.JSON(http.StatusCreated, gin.H{
			"status":      "created",
			"id":          req.ID,
			"case_count":  d.Cases.Len(),
			"cluster_ver": d.Rebuilder.Version(),
		})
	}
}

// CreateDocument ingests one free-text knowledge unit, chunked and
// vectorized on the way in.
func CreateDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document: " + err.Error()})
			return
		}

		chunks, err := d.Chunks.AddDocument(req.ID, req.Text, req.Metadata)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				c.JSON(http.StatusConflict, gin.H{"error": "document id already exists", "id": req.ID})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("document ingested", "id", req.ID, "chunks", chunks)

		mirrorDocument(d, req.ID)

		c.JSON(http.StatusCreated, gin.H{"status": "created", "id": req.ID, "chunks": chunks})
	}
}

// DeleteDocument retracts a document and all of its chunks.
func DeleteDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("documentId")
		removed := d.Chunks.RetractDocument(id)
		if removed == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found", "id": id})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "id": id, "chunks_removed": removed})
	}
}

func mirrorCase(d Deps, id string) {
	if d.Mirror == nil {
		return
	}
	stored, ok := d.Cases.CaseByID(id)
	if !ok {
		return
	}
	vec, _ := d.Vectorizer.Vectorize(stored.SearchText())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Mirror.SaveCase(ctx, stored, vec); err != nil {
			slog.Warn("weaviate mirror write failed for case", "id", id, "error", err)
		}
	}()
}

func mirrorDocument(d Deps, docID string) {
	if d.Mirror == nil {
		return
	}
	hits := d.Chunks.ChunksOf(docID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, h := range hits {
			vec, ok := d.Chunks.VectorOf(h.Chunk.ID)
			if !ok {
				continue
			}
			if err := d.Mirror.SaveChunk(ctx, h.Chunk, vec); err != nil {
				slog.Warn("weaviate mirror write failed for chunk", "id", h.Chunk.ID, "error", err)
				return
			}
		}
	}()
}
