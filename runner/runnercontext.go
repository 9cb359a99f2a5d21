// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"encoding/hex"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/crypto/blake2b"
)

// dedupKeyInlineLimit bounds how much of an opaque runner-supplied id we
// keep verbatim as a map key; longer ids are folded through blake2b so a
// pathological runner can't blow up the context's memory footprint.
const dedupKeyInlineLimit = 128

// RunnerContext is the per-query state shared by every runner answering
// one query. It is handed to jobs by reference; reset() swaps in a fresh,
// private copy so writes from stale jobs become silent no-ops instead of
// corrupting the context the UI is currently reading.
type RunnerContext struct {
	mu sync.RWMutex

	valid   atomic.Bool
	query   string
	matches []*QueryMatch
	byID    map[string]*QueryMatch

	singleRunnerMode      bool
	ignoreForHistory      bool
	requestedQueryText    string
	requestedCursor       int
	jobStartTS            int64
	insertionSeq          uint64

	onDirty func() // invoked (without holding mu) whenever a match is added

	runners map[string]Runner // id -> producing runner, for gate/weak lookups
}

// NewRunnerContext constructs a context for a fresh query. onDirty is
// called by the scheduler to collapse notifications into the throttled
// matches_changed emission.
func NewRunnerContext(query string, onDirty func()) *RunnerContext {
	rc := &RunnerContext{
		query:   query,
		byID:    make(map[string]*QueryMatch),
		onDirty: onDirty,
		runners: make(map[string]Runner),
	}
	rc.valid.Store(true)
	return rc
}

func (rc *RunnerContext) Query() string { return rc.query }

func (rc *RunnerContext) IsValid() bool { return rc.valid.Load() }

// Invalidate marks the context as superseded. Safe to call concurrently;
// subsequent AddMatch calls silently fail.
func (rc *RunnerContext) Invalidate() { rc.valid.Store(false) }

func (rc *RunnerContext) SetSingleRunnerMode(v bool) { rc.singleRunnerMode = v }
func (rc *RunnerContext) SingleRunnerMode() bool     { return rc.singleRunnerMode }

// IgnoreCurrentMatchForHistory lets a runner's Run implementation opt the
// activation out of history recording (e.g. a calculator's scratch query).
func (rc *RunnerContext) IgnoreCurrentMatchForHistory() { rc.ignoreForHistory = true }
func (rc *RunnerContext) ShouldIgnoreForHistory() bool  { return rc.ignoreForHistory }

// RequestQueryStringUpdate lets a runner ask the UI to replace the text
// in the search field (e.g. expanding an abbreviation).
func (rc *RunnerContext) RequestQueryStringUpdate(text string, cursor int) {
	rc.requestedQueryText = text
	rc.requestedCursor = cursor
}

func (rc *RunnerContext) RequestedQueryString() (string, int, bool) {
	if rc.requestedQueryText == "" {
		return "", 0, false
	}
	return rc.requestedQueryText, rc.requestedCursor, true
}

func (rc *RunnerContext) SetJobStartTS(ts int64) { rc.jobStartTS = ts }
func (rc *RunnerContext) JobStartTS() int64      { return rc.jobStartTS }

func dedupKey(id string) string {
	if len(id) <= dedupKeyInlineLimit {
		return id
	}
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// AddMatches appends matches produced by runner. Bails out (returns
// false) if the context has been invalidated by a newer query, matching
// the "writes to an invalid context are silently discarded" rule.
func (rc *RunnerContext) AddMatches(producer Runner, matches []*QueryMatch) bool {
	if len(matches) == 0 || !rc.IsValid() {
		return false
	}

	rc.mu.Lock()
	for _, m := range matches {
		rc.addMatchLocked(producer, m)
	}
	rc.mu.Unlock()

	if rc.onDirty != nil {
		rc.onDirty()
	}
	return true
}

func (rc *RunnerContext) AddMatch(producer Runner, m *QueryMatch) bool {
	return rc.AddMatches(producer, []*QueryMatch{m})
}

// addMatchLocked implements the de-dup rule: every match is tracked in
// byID; a new match with an id already present replaces the incumbent
// only if the new match's producer advertised unique results and the
// incumbent's producer advertised weak results.
func (rc *RunnerContext) addMatchLocked(producer Runner, m *QueryMatch) {
	rc.insertionSeq++
	m.insertionSeq = rc.insertionSeq

	if producer != nil {
		if _, ok := rc.runners[m.RunnerID]; !ok {
			rc.runners[m.RunnerID] = producer
		}
	}

	key := dedupKey(m.ID)
	if existing, ok := rc.byID[key]; ok {
		existingRunner := rc.runners[existing.RunnerID]
		if producer != nil && producer.Metadata().UniqueResults &&
			existingRunner != nil && existingRunner.Metadata().WeakResults {
			rc.removeMatchLocked(existing)
			rc.matches = append(rc.matches, m)
			rc.byID[key] = m
		}
		// Otherwise the incumbent wins; the new match is dropped.
		return
	}

	rc.byID[key] = m
	rc.matches = append(rc.matches, m)
}

func (rc *RunnerContext) removeMatchLocked(target *QueryMatch) {
	for i, m := range rc.matches {
		if m == target {
			rc.matches = append(rc.matches[:i], rc.matches[i+1:]...)
			return
		}
	}
}

// Matches returns a snapshot of the current match list in insertion
// order. Callers apply MatchStore's category/relevance projection on top
// of this.
func (rc *RunnerContext) Matches() []*QueryMatch {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make([]*QueryMatch, len(rc.matches))
	copy(out, rc.matches)
	return out
}

// Match looks up a single match by id, used by RunnerManager.Run(id).
func (rc *RunnerContext) Match(id string) *QueryMatch {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if m, ok := rc.byID[dedupKey(id)]; ok {
		return m
	}
	for _, m := range rc.matches {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (rc *RunnerContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.matches)
}

// ProducerOf returns the runner that inserted id's match, if still known.
func (rc *RunnerContext) ProducerOf(runnerID string) Runner {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.runners[runnerID]
}
