// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the fusion service configuration from environment
// variables, with validated defaults suitable for a local deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every tunable of the fusion engine. Fields are populated
// from environment variables and validated once at startup.
type Config struct {
	Port string `validate:"required"`

	// Vectorizer
	VectorDim int `validate:"gte=16,lte=4096"`

	// Retrieval
	TopK             int           `validate:"gte=1,lte=100"`
	RetrievalTimeout time.Duration `validate:"gt=0"`
	// NarrowThreshold is the case count above which retrieval restricts the
	// case search to the nearest clusters instead of scanning every case.
	NarrowThreshold int `validate:"gte=1"`

	// Clustering
	ClusterK       int `validate:"gte=2,lte=256"`
	ClusterMaxIter int `validate:"gte=1,lte=500"`

	// Sessions
	SessionWindow time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`

	// Synthesis
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Storage
	WeaviateURL string

	// Ingestion
	WatchDir string

	// Observability
	OTLPEndpoint string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             envOr("FUSION_PORT", "12310"),
		VectorDim:        envInt("FUSION_VECTOR_DIM", 256),
		TopK:             envInt("FUSION_TOP_K", 5),
		RetrievalTimeout: envDuration("FUSION_RETRIEVAL_TIMEOUT", 2*time.Second),
		NarrowThreshold:  envInt("FUSION_NARROW_THRESHOLD", 500),
		ClusterK:         envInt("FUSION_CLUSTER_K", 8),
		ClusterMaxIter:   envInt("FUSION_CLUSTER_MAX_ITER", 50),
		SessionWindow:    envDuration("FUSION_SESSION_WINDOW", 30*time.Minute),
		SweepInterval:    envDuration("FUSION_SWEEP_INTERVAL", time.Minute),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      envOr("OPENAI_MODEL", "gpt-4o-mini"),
		WeaviateURL:      os.Getenv("WEAVIATE_SERVICE_URL"),
		WatchDir:         os.Getenv("FUSION_WATCH_DIR"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid fusion configuration: %w", err)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
