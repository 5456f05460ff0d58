// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jidemobell/atensaiknowledgebase-sub000/pkg/logging"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/belief"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/cluster"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/config"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/handlers"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/ingest"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/observability"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/retrieval"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/router"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/routes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/sessionstore"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/synthesis"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/vectorizer"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("fusion-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateMirror builds the optional persistence mirror. An unset or
// invalid URL means lightweight mode: everything serves from memory.
func newWeaviateMirror(rawURL string) *store.WeaviateMirror {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Running in lightweight mode (in-memory only).")
		return nil
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running in lightweight mode.",
			"url", rawURL, "error", err)
		return nil
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	mirror := store.NewWeaviateMirror(client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mirror.EnsureSchema(ctx); err != nil {
		slog.Warn("Weaviate schema check failed, mirror disabled", "error", err)
		return nil
	}
	return mirror
}

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("FUSION_LOG_DIR"),
		Service: "fusion",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// --- Init the tracer ---
	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	metrics := observability.InitMetrics()

	vec := vectorizer.New(cfg.VectorDim)
	cases := store.NewMemoryCaseStore(vec)
	chunks := store.NewMemoryChunkStore(vec)
	mirror := newWeaviateMirror(cfg.WeaviateURL)

	rebuilder := cluster.NewRebuilder(cases, cfg.ClusterK, cfg.ClusterMaxIter)
	retriever := &retrieval.Retriever{
		Cases:           cases,
		Chunks:          chunks,
		Clusters:        rebuilder,
		CaseCount:       cases.Len,
		NarrowThreshold: cfg.NarrowThreshold,
		Timeout:         cfg.RetrievalTimeout,
		Metrics:         metrics,
	}

	sessions := sessionstore.New(cfg.SessionWindow, sessionstore.RealClock())
	tracker := belief.NewTracker(belief.DefaultConfig())
	engine := synthesis.NewEngine(3, cfg.TopK)

	var llm synthesis.Backend
	if b := synthesis.NewOpenAIBackend(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel); b != nil {
		slog.Info("Using OpenAI-compatible synthesis backend", "model", cfg.OpenAIModel)
		llm = b
	} else {
		slog.Info("No LLM configured, synthesis uses the template backend")
	}
	queryRouter := router.New(llm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sessionstore.NewSweeper(sessions, cfg.SweepInterval).Run(ctx)

	deps := handlers.Deps{
		Config:     cfg,
		Vectorizer: vec,
		Cases:      cases,
		Chunks:     chunks,
		Mirror:     mirror,
		Retriever:  retriever,
		Tracker:    tracker,
		Sessions:   sessions,
		Engine:     engine,
		Router:     queryRouter,
		Rebuilder:  rebuilder,
		Metrics:    metrics,
	}

	if cfg.WatchDir != "" {
		watcher, err := ingest.NewWatcher(cfg.WatchDir, cases, chunks, rebuilder)
		if err != nil {
			log.Fatalf("failed to watch ingest directory %q: %v", cfg.WatchDir, err)
		}
		go watcher.Run(ctx)
	}

	// Build an initial index if a watcher preloaded any cases. An empty
	// corpus is fine; retrieval runs unnarrowed until the first rebuild.
	if err := rebuilder.Rebuild(ctx); err != nil && !errors.Is(err, cluster.ErrInsufficientData) {
		slog.Warn("initial cluster build failed", "error", err)
	}

	ginRouter := gin.Default()
	ginRouter.Use(otelgin.Middleware("fusion-service"))
	routes.SetupRoutes(ginRouter, deps)

	log.Println("Starting the fusion server on port ", cfg.Port)
	if err := ginRouter.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
