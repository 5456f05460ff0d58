// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sessionstore owns all mutable per-session diagnostic state and
// enforces the inactivity expiry policy.
//
// Session state is the only shared mutable resource in the engine. Each
// session carries its own lock; different sessions never contend. A turn
// acquires the session lock, computes on a deep copy, and either commits
// the updated copy in one step or releases without writing. Cancellation
// mid-turn can therefore never leave a session partially updated.
package sessionstore

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// ErrSessionNotFound is returned for unknown or expired session IDs. The
// caller should treat it as "start a new session".
var ErrSessionNotFound = errors.New("sessionstore: session not found")

// Clock abstracts time for expiry decisions, injectable for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns a Clock backed by time.Now.
func RealClock() Clock { return realClock{} }

type entry struct {
	mu sync.Mutex
	// last mirrors sess.LastUpdated as unix nanoseconds so expiry checks
	// never need the entry lock. An entry lock is held for a whole turn,
	// and taking it under the store lock would stall every other session
	// behind one slow turn.
	last atomic.Int64
	sess datatypes.Session
}

func newEntry(sess datatypes.Session) *entry {
	e := &entry{sess: sess}
	e.last.Store(sess.LastUpdated.UnixNano())
	return e
}

// Store keeps sessions in memory keyed by session ID. The store-level
// RWMutex only guards the map structure; all session data is protected by
// the per-entry lock.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	window  time.Duration
	clock   Clock
}

// New creates a store whose sessions expire after the given inactivity
// window.
func New(window time.Duration, clock Clock) *Store {
	if clock == nil {
		clock = RealClock()
	}
	return &Store{
		entries: make(map[string]*entry),
		window:  window,
		clock:   clock,
	}
}

// Turn is a locked handle on one session for the duration of one query
// turn. Exactly one of Commit or Release must be called.
type Turn struct {
	store   *Store
	entry   *entry
	id      string
	Session datatypes.Session
	Created bool
	done    bool
}

// Begin locks the session and hands back a deep copy to compute the turn
// on. A missing or expired session is (re)created fresh when create is
// true, and reported as ErrSessionNotFound otherwise.
//
// The store lock is released before the entry lock is taken, so a Begin
// waiting behind an in-flight turn never stalls unrelated sessions.
func (s *Store) Begin(sessionID string, create bool) (*Turn, error) {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if ok && s.expired(e) {
		// Lazy expiry: a session past its window is gone even if the
		// sweeper has not visited it yet.
		delete(s.entries, sessionID)
		ok = false
	}
	created := false
	if !ok {
		if !create {
			s.mu.Unlock()
			return nil, ErrSessionNotFound
		}
		now := s.clock.Now()
		e = newEntry(datatypes.Session{
			SessionID:   sessionID,
			State:       datatypes.BeliefNoHypotheses,
			CreatedAt:   now,
			LastUpdated: now,
		})
		s.entries[sessionID] = e
		created = true
	}
	// Beginning a turn counts as activity, so neither Sweep nor a later
	// Begin can expire the session while this turn waits for the lock.
	e.last.Store(s.clock.Now().UnixNano())
	s.mu.Unlock()

	e.mu.Lock()
	return &Turn{
		store:   s,
		entry:   e,
		id:      sessionID,
		Session: e.sess.Clone(),
		Created: created,
	}, nil
}

// Commit atomically persists the turn's session copy and unlocks.
func (t *Turn) Commit() {
	if t.done {
		return
	}
	now := t.store.clock.Now()
	t.Session.LastUpdated = now
	t.entry.sess = t.Session
	t.entry.last.Store(now.UnixNano())
	t.entry.mu.Unlock()
	t.done = true
}

// Release unlocks without persisting anything; the session keeps the state
// it had before Begin. Used for cancelled or failed turns.
func (t *Turn) Release() {
	if t.done {
		return
	}
	t.entry.mu.Unlock()
	t.done = true
}

// Get returns a copy of the session state, or ErrSessionNotFound when the
// session is unknown or idle past the expiry window.
func (s *Store) Get(sessionID string) (datatypes.Session, error) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok || s.expired(e) {
		return datatypes.Session{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

// Delete removes the session immediately.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if ok {
		delete(s.entries, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	// Wait out any in-flight turn so its commit lands on the detached
	// entry and is discarded with it.
	e.mu.Lock()
	e.mu.Unlock() //nolint:staticcheck // handoff barrier, not a critical section
	return nil
}

// List returns a summary copy of every live session.
func (s *Store) List() []datatypes.Session {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]datatypes.Session, 0, len(ids))
	for _, id := range ids {
		if sess, err := s.Get(id); err == nil {
			out = append(out, sess)
		}
	}
	return out
}

// Len reports the number of sessions currently held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep evicts every session idle beyond the expiry window and returns the
// count removed. Activity timestamps are read atomically, so the sweep
// never waits on an entry lock; a session mid-turn is never idle because
// Begin refreshes its timestamp.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// expired is lock-free and safe to call while holding s.mu.
func (s *Store) expired(e *entry) bool {
	return s.clock.Now().UnixNano()-e.last.Load() > s.window.Nanoseconds()
}
