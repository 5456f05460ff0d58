// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/router"
)

// HandleQuery runs one diagnostic turn: lock the session, retrieve
// evidence, update beliefs, compose and route the answer, then commit the
// session in a single step. A turn that fails or is cancelled releases the
// session untouched.
func HandleQuery(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		topK := req.TopK
		if topK <= 0 {
			topK = d.Config.TopK
		}
		sessionID := req.SessionId
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		turn, err := d.Sessions.Begin(sessionID, true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open session"})
			return
		}

		queryVec, queryVer := d.Vectorizer.Vectorize(req.Query)
		evidence, err := d.Retriever.Retrieve(c.Request.Context(), queryVec, queryVer, topK)
		if err != nil {
			turn.Release()
			slog.Error("evidence retrieval failed", "session", sessionID, "error", err)
			d.Metrics.RecordQuery(string(router.Classify(req.Query)), false, time.Since(start).Seconds())
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "evidence retrieval unavailable"})
			return
		}

		turn.Session.TurnCount++
		d.Tracker.Update(&turn.Session, evidence)
		comp := d.Engine.Compose(&turn.Session, evidence)
		text, decision := d.Router.Respond(c.Request.Context(), req.Query, comp)

		// A client that disconnected mid-turn gets nothing persisted; the
		// session stays exactly as the previous turn left it.
		if c.Request.Context().Err() != nil {
			turn.Release()
			slog.Warn("query cancelled before commit, session unchanged", "session", sessionID)
			return
		}
		turn.Commit()

		recordTurnMetrics(d, decision, evidence, start)

		c.JSON(http.StatusOK, datatypes.QueryResponse{
			Response:   text,
			SessionId:  sessionID,
			Hypotheses: comp.Hypotheses,
			Evidence:   comp.Evidence,
			Confidence: comp.Confidence,
			Degraded:   decision.Fallback,
			Backend:    decision.Backend,
		})
	}
}

func recordTurnMetrics(d Deps, decision router.Decision, evidence []datatypes.EvidenceRef, start time.Time) {
	d.Metrics.RecordQuery(string(decision.Intent), true, time.Since(start).Seconds())
	if decision.Fallback {
		d.Metrics.RecordFallback(decision.Backend)
	}
	bySource := map[string]int{}
	for _, ev := range evidence {
		bySource[string(ev.Source)]++
	}
	for source, n := range bySource {
		d.Metrics.RecordEvidence(source, n)
	}
	d.Metrics.SetActiveSessions(d.Sessions.Len())
}
