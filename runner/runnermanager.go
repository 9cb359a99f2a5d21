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
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v4"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// QueryStringUpdate is delivered on RunnerManager's update channel when a
// runner asks the UI to replace the text in the search field.
type QueryStringUpdate struct {
	Text   string
	Cursor int
}

// RunnerManager is the public façade: the only type embedding
// applications talk to. It owns the runner registry and the allow-list,
// delegates scheduling to Scheduler, and fans signals out over channels
// rather than callbacks so callers can select across them alongside their
// own event loop.
type RunnerManager struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	scope   tally.Scope
	runners map[string]Runner
	allowed map[string]bool // nil means "all loaded runners allowed"

	favorites *MatchStore
	history   *History
	scheduler *Scheduler

	rc             *RunnerContext
	limit          int
	singleRunnerID string

	matchesChanged     chan []*QueryMatch
	queryFinished      chan struct{}
	queryStringUpdated chan QueryStringUpdate
}

// NewRunnerManager constructs a façade backed by store for persisted state
// (history and launch counts). Pass runner.NewInMemoryStore() for a
// single-process default, or a store.PostgresStore for a shared one.
func NewRunnerManager(logger *zap.Logger, scope tally.Scope, kv KVGroup, resultLimit int) *RunnerManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RunnerManager{
		logger:    logger,
		scope:     scope,
		runners:   make(map[string]Runner),
		favorites: NewMatchStore(nil),
		history:   NewHistory(logger, kv, 5),
		limit:     resultLimit,

		matchesChanged:     make(chan []*QueryMatch, 1),
		queryFinished:      make(chan struct{}, 1),
		queryStringUpdated: make(chan QueryStringUpdate, 1),
	}
	m.scheduler = NewScheduler(logger, scope, m.handleMatchesChanged, m.handleQueryFinished, m.handleRunCompleted)
	return m
}

// MatchesChanged is signalled (non-blocking, latest value wins) whenever
// the flattened, category-grouped match list changes.
func (m *RunnerManager) MatchesChanged() <-chan []*QueryMatch { return m.matchesChanged }

// QueryFinished is signalled once all runners have returned for the
// current query.
func (m *RunnerManager) QueryFinished() <-chan struct{} { return m.queryFinished }

// RequestedQueryStringUpdated is signalled when a runner calls
// RunnerContext.RequestQueryStringUpdate during a Run.
func (m *RunnerManager) RequestedQueryStringUpdated() <-chan QueryStringUpdate {
	return m.queryStringUpdated
}

// Shutdown stops the scheduler's event loop goroutine. Callers should
// invoke it once during process shutdown; the manager is unusable
// afterwards.
func (m *RunnerManager) Shutdown() {
	m.scheduler.Shutdown()
}

// boostedForDisplay returns copies of raw with each match's launch-count
// relevance bonus applied. A query's throttled emissions all read from
// the same context-owned matches, so the bonus is applied to a per-call
// copy rather than mutated in place; otherwise a match present across
// several emissions of the same query would have its bonus re-added and
// compounded on every one of them.
func (m *RunnerManager) boostedForDisplay(raw []*QueryMatch) []*QueryMatch {
	out := make([]*QueryMatch, len(raw))
	for i, match := range raw {
		cp := *match
		if bonus := m.history.Bonus(cp.ID); bonus > 0 {
			cp.Relevance += bonus
			cp.Clamp()
		}
		out[i] = &cp
	}
	return out
}

func (m *RunnerManager) handleMatchesChanged(raw []*QueryMatch) {
	flattened := m.favorites.Flatten(m.boostedForDisplay(raw), m.limit)
	select {
	case <-m.matchesChanged:
	default:
	}
	select {
	case m.matchesChanged <- flattened:
	default:
	}
}

func (m *RunnerManager) handleQueryFinished() {
	select {
	case m.queryFinished <- struct{}{}:
	default:
	}
}

func (m *RunnerManager) handleRunCompleted(rc runCompletion) {
	if !rc.rc.ShouldIgnoreForHistory() {
		query := rc.rc.Query()
		if query != "" {
			m.history.RecordRun(query)
		}
		m.history.IncrementLaunchCount(rc.match.ID)
	}

	if text, cursor, ok := rc.rc.RequestedQueryString(); ok {
		select {
		case <-m.queryStringUpdated:
		default:
		}
		select {
		case m.queryStringUpdated <- QueryStringUpdate{Text: text, Cursor: cursor}:
		default:
		}
	}
}

// LoadRunner registers r. If a session is active, r's Prepare is not
// retroactively called; it'll pick up the next LaunchQuery cycle.
func (m *RunnerManager) LoadRunner(r Runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runners[r.Metadata().ID] = r
}

// UnloadRunner detaches id, draining any in-flight job for it without
// waiting on the runner to notice cancellation.
func (m *RunnerManager) UnloadRunner(id string) {
	m.mu.Lock()
	delete(m.runners, id)
	m.mu.Unlock()
	m.scheduler.UnloadRunner(id)
}

// SetAllowedRunners restricts matching to ids. An empty/nil slice allows
// every loaded runner, which is the default.
func (m *RunnerManager) SetAllowedRunners(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		m.allowed = nil
		return
	}
	m.allowed = make(map[string]bool, len(ids))
	for _, id := range ids {
		m.allowed[id] = true
	}
}

func (m *RunnerManager) AllowedRunners() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.allowed == nil {
		out := make([]string, 0, len(m.runners))
		for id := range m.runners {
			out = append(out, id)
		}
		return out
	}
	out := make([]string, 0, len(m.allowed))
	for id := range m.allowed {
		out = append(out, id)
	}
	return out
}

func (m *RunnerManager) eligibleRunners(singleRunnerID string) []Runner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Runner, 0, len(m.runners))
	for id, r := range m.runners {
		if singleRunnerID != "" && id != singleRunnerID {
			continue
		}
		if singleRunnerID == "" && m.allowed != nil && !m.allowed[id] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SetupMatchSession starts a session's prepare phase, calling Prepare on
// every eligible runner (or only singleRunnerID's, for single-runner
// mode).
func (m *RunnerManager) SetupMatchSession(singleRunnerID string) {
	m.singleRunnerID = singleRunnerID
	m.scheduler.SetupMatchSession(m.eligibleRunners(singleRunnerID), singleRunnerID)
}

// MatchSessionComplete requests teardown once in-flight jobs drain.
func (m *RunnerManager) MatchSessionComplete() {
	m.scheduler.MatchSessionComplete()
}

// LaunchQuery dispatches term to every eligible runner (or, if
// singleRunnerID is set, to that runner alone, falling back to its
// DefaultExampleQuery when term is empty).
func (m *RunnerManager) LaunchQuery(term string, singleRunnerID string) {
	runners := m.eligibleRunners(singleRunnerID)

	if term == "" && singleRunnerID != "" {
		m.mu.RLock()
		if r, ok := m.runners[singleRunnerID]; ok {
			term = r.Metadata().DefaultExampleQuery
		}
		m.mu.RUnlock()
	}

	rc := m.scheduler.LaunchQuery(term, runners, singleRunnerID)
	m.mu.Lock()
	m.rc = rc
	m.mu.Unlock()
}

// Reset clears the current query without starting a new one.
func (m *RunnerManager) Reset() {
	rc := m.scheduler.LaunchQuery("", nil, "")
	m.mu.Lock()
	m.rc = rc
	m.mu.Unlock()
}

// Run activates the match identified by matchID, applying actionID if
// non-empty, and reports whether the launcher should close. A deferred
// run (because the producing runner's job is still in flight) returns
// false immediately; its real outcome surfaces later via history side
// effects only, matching the original's fire-and-forget run() contract.
func (m *RunnerManager) Run(matchID string, actionID string) (bool, error) {
	m.mu.RLock()
	rc := m.rc
	m.mu.RUnlock()
	if rc == nil {
		return false, fmt.Errorf("runner: no active query context")
	}

	match := rc.Match(matchID)
	if match == nil {
		return false, fmt.Errorf("runner: unknown match id %q", matchID)
	}

	var action *Action
	if actionID != "" {
		for _, a := range match.Actions {
			if a.ID == actionID {
				action = a
				break
			}
		}
		if action == nil {
			return false, fmt.Errorf("runner: unknown action id %q on match %q", actionID, matchID)
		}
	} else {
		action = match.SelectedAction
	}

	return m.scheduler.Run(rc, match, action), nil
}

// Matches returns the current flattened, limited view (the same payload
// last sent on MatchesChanged), useful for a client reconnecting mid
// session.
func (m *RunnerManager) Matches() []*QueryMatch {
	m.mu.RLock()
	rc := m.rc
	m.mu.RUnlock()
	if rc == nil {
		return nil
	}
	return m.favorites.Flatten(m.boostedForDisplay(rc.Matches()), m.limit)
}

func (m *RunnerManager) SetFavoriteRunners(ids []string) { m.favorites.SetFavorites(ids) }

func (m *RunnerManager) History() *History { return m.history }

func (m *RunnerManager) SetHistoryEnabled(enabled bool) { m.history.SetEnabled(enabled) }

func (m *RunnerManager) RemoveFromHistory(index int) { m.history.RemoveEntry(index) }

func (m *RunnerManager) HistorySuggestion(prefix string) string { return m.history.Suggest(prefix) }

// SetHistoryEnvironmentIdentifier scopes the history bucket to the
// caller's environment, accepting either a bare identifier or a JWT whose
// "sub" claim names it. The token is never verified here —
// RunnerManager trusts its caller the way the original trusts its
// desktop session; verification belongs to whatever issued the token.
func (m *RunnerManager) SetHistoryEnvironmentIdentifier(tokenOrID string) {
	if tokenOrID == "" {
		m.history.SetEnvironmentIdentifier("")
		return
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenOrID, claims); err == nil {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			m.history.SetEnvironmentIdentifier(sub)
			return
		}
	}
	m.history.SetEnvironmentIdentifier(tokenOrID)
}
