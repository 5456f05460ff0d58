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

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/sessionstore"
)

// GetSession returns the full diagnostic state of one session.
func GetSession(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		sess, err := d.Sessions.Get(id)
		if errors.Is(err, sessionstore.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "session_id": id})
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DeleteSession removes a session immediately, ahead of its expiry window.
func DeleteSession(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "sessionId", id)

		if err := d.Sessions.Delete(id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "session_id": id})
			return
		}
		d.Metrics.SetActiveSessions(d.Sessions.Len())
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
	}
}

// ListSessions returns a summary of every live session.
func ListSessions(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := d.Sessions.List()
		type summary struct {
			SessionID string `json:"session_id"`
			State     string `json:"state"`
			TurnCount int    `json:"turn_count"`
			TopCause  string `json:"top_cause,omitempty"`
		}
		out := make([]summary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, summary{
				SessionID: s.SessionID,
				State:     string(s.State),
				TurnCount: s.TurnCount,
				TopCause:  s.TopCause,
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
	}
}
