// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// HealthCheck reports serving status and the live snapshot versions. The
// engine serves from memory, so it always answers; the status drops to
// "degraded" when a configured synthesis backend fails its health probe.
// A zero cluster index version means no index has been built yet and
// retrieval runs unnarrowed.
func HealthCheck(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := datatypes.HealthResponse{
			Status:              "healthy",
			ClusterIndexVersion: d.Rebuilder.Version(),
			VectorizerVersion:   d.Vectorizer.Version(),
		}
		if down := d.Router.Degraded(c.Request.Context()); len(down) > 0 {
			resp.Status = "degraded"
			resp.DegradedBackends = down
		}
		c.JSON(http.StatusOK, resp)
	}
}
