// Copyright (C) 2025 ATensAI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sessionstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jidemobell/atensaiknowledgebase-sub000/services/fusion/datatypes"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBeginCommit_PersistsState(t *testing.T) {
	s := New(30*time.Minute, newFakeClock())

	turn, err := s.Begin("s1", true)
	require.NoError(t, err)
	assert.True(t, turn.Created)

	turn.Session.TurnCount = 1
	turn.Session.Hypotheses = []datatypes.Hypothesis{{CauseLabel: "kafka timeout", Probability: 0.4}}
	turn.Commit()

	got, err := s.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TurnCount)
	require.Len(t, got.Hypotheses, 1)
	assert.Equal(t, "kafka timeout", got.Hypotheses[0].CauseLabel)
}

func TestBeginRelease_DiscardsPartialTurn(t *testing.T) {
	s := New(30*time.Minute, newFakeClock())

	turn, err := s.Begin("s1", true)
	require.NoError(t, err)
	turn.Session.TurnCount = 1
	turn.Commit()

	// A cancelled turn releases without committing; nothing it wrote to
	// its copy may leak into the stored session.
	turn2, err := s.Begin("s1", true)
	require.NoError(t, err)
	turn2.Session.TurnCount = 99
	turn2.Session.Hypotheses = []datatypes.Hypothesis{{CauseLabel: "bogus", Probability: 0.9}}
	turn2.Release()

	got, err := s.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TurnCount)
	assert.Empty(t, got.Hypotheses)
}

func TestBegin_NoCreateOnUnknownSession(t *testing.T) {
	s := New(30*time.Minute, newFakeClock())
	_, err := s.Begin("nope", false)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGet_ExpiredSessionIsGone(t *testing.T) {
	clock := newFakeClock()
	s := New(30*time.Minute, clock)

	turn, err := s.Begin("s1", true)
	require.NoError(t, err)
	turn.Commit()

	clock.Advance(31 * time.Minute)
	_, err = s.Get("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweep_EvictsOnlyIdleSessions(t *testing.T) {
	clock := newFakeClock()
	s := New(30*time.Minute, clock)

	for _, id := range []string{"old1", "old2"} {
		turn, err := s.Begin(id, true)
		require.NoError(t, err)
		turn.Commit()
	}
	clock.Advance(20 * time.Minute)
	turn, err := s.Begin("fresh", true)
	require.NoError(t, err)
	turn.Commit()

	clock.Advance(15 * time.Minute) // old: 35m idle, fresh: 15m idle
	removed := s.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len())

	_, err = s.Get("fresh")
	assert.NoError(t, err)
}

func TestDelete_ImmediateRemoval(t *testing.T) {
	s := New(30*time.Minute, newFakeClock())
	turn, err := s.Begin("s1", true)
	require.NoError(t, err)
	turn.Commit()

	require.NoError(t, s.Delete("s1"))
	_, err = s.Get("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, s.Delete("s1"), ErrSessionNotFound)
}

func TestConcurrentTurns_SameSessionSerialize(t *testing.T) {
	s := New(30*time.Minute, newFakeClock())

	const workers = 8
	const turnsEach = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < turnsEach; i++ {
				turn, err := s.Begin("shared", true)
				if err != nil {
					t.Error(err)
					return
				}
				turn.Session.TurnCount++
				turn.Commit()
			}
		}()
	}
	wg.Wait()

	got, err := s.Get("shared")
	require.NoError(t, err)
	assert.Equal(t, workers*turnsEach, got.TurnCount)
}

// A turn can hold its session lock for seconds (a slow synthesis backend).
// Waiters on that session must park on the entry lock only; other sessions
// have to keep beginning turns unimpeded the whole time.
func TestBegin_InFlightTurnDoesNotBlockOtherSessions(t *testing.T) {
	s := New(30*time.Minute, newFakeClock())

	turn, err := s.Begin("s1", true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		waiter, err := s.Begin("s1", true)
		if err != nil {
			t.Error(err)
			return
		}
		waiter.Release()
	}()
	// Let the second s1 turn park on the entry lock.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		other, err := s.Begin("s2", true)
		if err != nil {
			t.Error(err)
			return
		}
		other.Session.TurnCount = 1
		other.Commit()
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Begin on an idle session blocked behind an in-flight turn on another session")
	}

	turn.Commit()
	wg.Wait()
}

func TestConcurrentSessions_DoNotContend(t *testing.T) {
	s := New(30*time.Minute, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			turn, err := s.Begin(id, true)
			if err != nil {
				t.Error(err)
				return
			}
			turn.Session.TurnCount = 1
			turn.Commit()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, s.Len())
}
