// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the fusion engine. Each
// handler is a closure over a shared dependency bundle, bound at route
// setup time.
package handlers

import (
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/belief"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/cluster"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/config"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/observability"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/retrieval"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/router"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/sessionstore"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/synthesis"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/vectorizer"
)

// Deps bundles every component a handler may need. Metrics and Mirror are
// optional; nil disables them without changing handler behavior.
type Deps struct {
	Config     *config.Config
	Vectorizer *vectorizer.Vectorizer
	Cases      *store.MemoryCaseStore
	Chunks     *store.MemoryChunkStore
	Mirror     *store.WeaviateMirror
	Retriever  *retrieval.Retriever
	Tracker    *belief.Tracker
	Sessions   *sessionstore.Store
	Engine     *synthesis.Engine
	Router     *router.Router
	Rebuilder  *cluster.Rebuilder
	Metrics    *observability.FusionMetrics
}
