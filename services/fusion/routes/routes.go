// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/handlers"
)

func SetupRoutes(router *gin.Engine, d handlers.Deps) {
	router.GET("/health", handlers.HealthCheck(d))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/query", handlers.HandleQuery(d))
	router.GET("/session/:sessionId", handlers.GetSession(d))
	router.DELETE("/session/:sessionId", handlers.DeleteSession(d))
	router.GET("/sessions", handlers.ListSessions(d))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/cases", handlers.CreateCase(d))
		v1.POST("/documents", handlers.CreateDocument(d))
		v1.DELETE("/documents/:documentId", handlers.DeleteDocument(d))
	}

	admin := router.Group("/admin")
	{
		admin.POST("/rebuild-clusters", handlers.RebuildClusters(d))
		admin.POST("/refit-vectorizer", handlers.RefitVectorizer(d))
	}
}
