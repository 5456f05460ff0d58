// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/cluster"
)

// RebuildClusters triggers an asynchronous cluster index rebuild. The call
// returns 202 immediately; queries keep serving from the previous index
// until the new one is published.
func RebuildClusters(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := d.Rebuilder.Trigger(c.Request.Context())
		switch {
		case errors.Is(err, cluster.ErrRebuildThrottled):
			d.Metrics.RecordRebuild("throttled")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rebuild throttled, try again later",
			})
			return
		case errors.Is(err, cluster.ErrRebuildInProgress):
			c.JSON(http.StatusConflict, gin.H{
				"error": "a rebuild is already in progress",
			})
			return
		case err != nil:
			d.Metrics.RecordRebuild("failure")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		d.Metrics.RecordRebuild("success")
		c.JSON(http.StatusAccepted, gin.H{
			"status":          "accepted",
			"serving_version": d.Rebuilder.Version(),
		})
	}
}

// RefitVectorizer recomputes document frequencies over the current corpus
// and bumps the vectorizer version. Stored vectors go stale and are
// recomputed lazily on their next comparison; a cluster rebuild is
// triggered so the index catches up too.
func RefitVectorizer(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs := append(d.Cases.SearchTexts(), d.Chunks.Texts()...)
		version := d.Vectorizer.Refit(docs)
		slog.Info("vectorizer refit", "version", version, "corpus_docs", len(docs))

		if err := d.Rebuilder.Trigger(c.Request.Context()); err != nil {
			slog.Warn("post-refit cluster rebuild not started", "error", err)
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":             "accepted",
			"vectorizer_version": version,
		})
	}
}
