// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest loads diagnostic knowledge from a watched directory.
// JSON files are historical cases; markdown and plain-text files are
// free-text documents chunked on the way in. The directory is scanned once
// at startup and then followed live via fsnotify.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/cluster"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/store"
)

// settleDelay lets a dropped file finish writing before it is read.
const settleDelay = 200 * time.Millisecond

// Watcher ingests knowledge files from one directory.
type Watcher struct {
	dir       string
	fsw       *fsnotify.Watcher
	cases     *store.MemoryCaseStore
	chunks    *store.MemoryChunkStore
	rebuilder *cluster.Rebuilder
}

// NewWatcher creates a watcher over dir. The directory must exist.
func NewWatcher(dir string, cases *store.MemoryCaseStore, chunks *store.MemoryChunkStore, rebuilder *cluster.Rebuilder) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{dir: dir, fsw: fsw, cases: cases, chunks: chunks, rebuilder: rebuilder}, nil
}

// Run scans the directory once, then processes file events until the
// context is cancelled. Intended to be launched as a goroutine from main.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	if n := w.scan(); n > 0 {
		slog.Info("preloaded knowledge files", "dir", w.dir, "files", n)
		w.triggerRebuild(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingest watcher stopping", "reason", ctx.Err())
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			time.Sleep(settleDelay)
			if w.ingestFile(event.Name) {
				w.triggerRebuild(ctx)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("ingest watcher error", "error", err)
		}
	}
}

func (w *Watcher) scan() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("failed to scan ingest directory", "dir", w.dir, "error", err)
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if w.ingestFile(filepath.Join(w.dir, e.Name())) {
			n++
		}
	}
	return n
}

// ingestFile loads one file by extension. Duplicate IDs are expected for
// rewritten files and are not errors.
func (w *Watcher) ingestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return w.ingestCase(path)
	case ".md", ".txt":
		return w.ingestDocument(path)
	default:
		return false
	}
}

func (w *Watcher) ingestCase(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read case file", "path", path, "error", err)
		return false
	}
	var req datatypes.IngestCaseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("skipping malformed case file", "path", path, "error", err)
		return false
	}
	if req.ID == "" || req.Title == "" {
		slog.Warn("skipping case file without id or title", "path", path)
		return false
	}

	err = w.cases.Add(datatypes.Case{
		ID:               req.ID,
		Title:            req.Title,
		Description:      req.Description,
		AffectedServices: req.AffectedServices,
		SymptomTags:      req.SymptomTags,
		ResolutionSteps:  req.ResolutionSteps,
		Confidence:       req.Confidence,
		CreatedAt:        time.Now(),
	}, req.Supersedes)
	if errors.Is(err, store.ErrDuplicateID) {
		return false
	}
	if err != nil {
		slog.Warn("failed to ingest case file", "path", path, "error", err)
		return false
	}
	slog.Info("ingested case file", "path", path, "id", req.ID)
	return true
}

func (w *Watcher) ingestDocument(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read document file", "path", path, "error", err)
		return false
	}
	docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	metadata := map[string]string{"source_file": filepath.Base(path)}
	n, err := w.chunks.AddDocument(docID, string(data), metadata)
	if errors.Is(err, store.ErrDuplicateID) {
		// Rewritten document: retract the old chunks and re-add.
		w.chunks.RetractDocument(docID)
		n, err = w.chunks.AddDocument(docID, string(data), metadata)
	}
	if err != nil {
		slog.Warn("failed to ingest document file", "path", path, "error", err)
		return false
	}
	slog.Info("ingested document file", "path", path, "id", docID, "chunks", n)
	return true
}

func (w *Watcher) triggerRebuild(ctx context.Context) {
	if err := w.rebuilder.Trigger(ctx); err != nil {
		slog.Debug("post-ingest rebuild not started", "error", err)
	}
}
