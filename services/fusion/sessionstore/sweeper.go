// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sessionstore

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts expired sessions in the background. One
// sweeper runs per store; it holds no state of its own beyond the ticker.
type Sweeper struct {
	store    *Store
	interval time.Duration
}

// NewSweeper creates a sweeper for the given store.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Run blocks, sweeping on every tick until the context is cancelled.
// Intended to be launched as a goroutine from main.
func (w *Sweeper) Run(ctx context.Context) {
	slog.Info("session sweeper started",
		"interval", w.interval, "window", w.store.window)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			if removed := w.store.Sweep(); removed > 0 {
				slog.Info("swept expired sessions",
					"removed", removed, "remaining", w.store.Len())
			}
		}
	}
}
