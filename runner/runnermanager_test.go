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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunnerManagerEndToEndQueryAndRun(t *testing.T) {
	m := NewRunnerManager(zap.NewNop(), nil, NewInMemoryStore(), 0)
	defer m.scheduler.Shutdown()

	r := newBlockingRunner("calc")
	m.LoadRunner(r)

	m.LaunchQuery("2+2", "")

	select {
	case <-m.QueryFinished():
	case <-time.After(2 * time.Second):
		t.Fatal("query never finished")
	}

	matches := m.Matches()
	require.Len(t, matches, 1)

	shouldClose, err := m.Run(matches[0].ID, "")
	assert.NoError(t, err)
	assert.False(t, shouldClose)

	select {
	case action := <-r.ran:
		assert.Nil(t, action)
	case <-time.After(time.Second):
		t.Fatal("runner's Run was never invoked")
	}

	assert.Contains(t, m.History().Entries(), "2+2")
}

func TestRunnerManagerUnknownMatchReturnsError(t *testing.T) {
	m := NewRunnerManager(zap.NewNop(), nil, NewInMemoryStore(), 0)
	defer m.scheduler.Shutdown()

	m.LaunchQuery("anything", "")
	<-m.QueryFinished()

	_, err := m.Run("does-not-exist", "")
	assert.Error(t, err)
}

// gatedRunner only ever matches the in-process test's expectations if its
// gates (min letter count / regex) were honored; single-runner mode must
// bypass them (scenario S4).
type gatedRunner struct {
	meta Metadata
	ran  chan struct{}
}

func (r *gatedRunner) Metadata() Metadata { return r.meta }

func (r *gatedRunner) Match(ctx context.Context, rc *RunnerContext) {
	rc.AddMatch(r, NewQueryMatch(r.meta.ID, "m", "match"))
}

func (r *gatedRunner) Run(rc *RunnerContext, m *QueryMatch, action *Action) bool { return false }
func (r *gatedRunner) ReloadConfiguration()                                      {}
func (r *gatedRunner) Prepare()                                                  {}
func (r *gatedRunner) Teardown()                                                 {}

func TestRunnerManagerSingleRunnerModeBypassesGatesAndIsolatesResults(t *testing.T) {
	m := NewRunnerManager(zap.NewNop(), nil, NewInMemoryStore(), 0)
	defer m.scheduler.Shutdown()

	gated := &gatedRunner{meta: Metadata{ID: "gated", MinLetterCount: 50}}
	other := newBlockingRunner("other")
	m.LoadRunner(gated)
	m.LoadRunner(other)

	// "foo" is far shorter than MinLetterCount=50, so a normal dispatch
	// would skip gated entirely; single-runner mode must bypass the gate.
	m.LaunchQuery("foo", "gated")
	<-m.QueryFinished()

	matches := m.Matches()
	require.Len(t, matches, 1)
	assert.Equal(t, "gated", matches[0].RunnerID)
}

// TestRunnerManagerHistoryBonusDoesNotCompoundAcrossEmissions covers a
// query that emits matches_changed more than once (the normal throttled
// case): the launch-count bonus must be applied once per match, not once
// per emission, and the context-owned QueryMatch must never be mutated.
func TestRunnerManagerHistoryBonusDoesNotCompoundAcrossEmissions(t *testing.T) {
	m := NewRunnerManager(zap.NewNop(), nil, NewInMemoryStore(), 0)
	defer m.scheduler.Shutdown()

	m.history.IncrementLaunchCount("foo_m")
	m.history.IncrementLaunchCount("foo_m")
	m.history.IncrementLaunchCount("foo_m")

	match := NewQueryMatch("foo", "m", "match")
	match.Relevance = 0.1
	raw := []*QueryMatch{match}

	m.handleMatchesChanged(raw)
	first := <-m.MatchesChanged()
	require.Len(t, first, 1)
	firstRelevance := first[0].Relevance
	assert.Greater(t, firstRelevance, 0.1)

	m.handleMatchesChanged(raw)
	second := <-m.MatchesChanged()
	require.Len(t, second, 1)
	assert.Equal(t, firstRelevance, second[0].Relevance)

	assert.Equal(t, 0.1, match.Relevance)
}

func TestRunnerManagerSetAllowedRunnersRestrictsDispatch(t *testing.T) {
	m := NewRunnerManager(zap.NewNop(), nil, NewInMemoryStore(), 0)
	defer m.scheduler.Shutdown()

	allowed := newBlockingRunner("allowed")
	blocked := newBlockingRunner("blocked")
	m.LoadRunner(allowed)
	m.LoadRunner(blocked)
	m.SetAllowedRunners([]string{"allowed"})

	m.LaunchQuery("hi", "")
	<-m.QueryFinished()

	matches := m.Matches()
	require.Len(t, matches, 1)
	assert.Equal(t, "allowed", matches[0].RunnerID)
}
