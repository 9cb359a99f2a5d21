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
)

// blockingRunner produces one match per Match() call, optionally blocking
// until release is closed so tests can control job completion timing.
type blockingRunner struct {
	meta     Metadata
	release  chan struct{}
	ran      chan *Action
	teardown chan struct{}
}

func newBlockingRunner(id string) *blockingRunner {
	return &blockingRunner{meta: Metadata{ID: id}, ran: make(chan *Action, 1), teardown: make(chan struct{}, 1)}
}

func (r *blockingRunner) Metadata() Metadata { return r.meta }

func (r *blockingRunner) Match(ctx context.Context, rc *RunnerContext) {
	if r.release != nil {
		<-r.release
	}
	rc.AddMatch(r, NewQueryMatch(r.meta.ID, "m", "match"))
}

func (r *blockingRunner) Run(rc *RunnerContext, m *QueryMatch, action *Action) bool {
	r.ran <- action
	return false
}

func (r *blockingRunner) ReloadConfiguration() {}
func (r *blockingRunner) Prepare()             {}
func (r *blockingRunner) Teardown() {
	select {
	case r.teardown <- struct{}{}:
	default:
	}
}

func newTestScheduler() (*Scheduler, chan []*QueryMatch, chan struct{}, chan runCompletion) {
	matches := make(chan []*QueryMatch, 8)
	finished := make(chan struct{}, 8)
	completed := make(chan runCompletion, 8)

	s := NewScheduler(nil, nil,
		func(m []*QueryMatch) { matches <- m },
		func() { finished <- struct{}{} },
		func(rc runCompletion) { completed <- rc },
	)
	return s, matches, finished, completed
}

func TestSchedulerLaunchQueryEmitsMatchesAndFinishes(t *testing.T) {
	s, matches, finished, _ := newTestScheduler()
	defer s.Shutdown()

	r := newBlockingRunner("r1")
	rc := s.LaunchQuery("hello", []Runner{r}, "")
	require.NotNil(t, rc)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for query to finish")
	}

	var got []*QueryMatch
	for {
		select {
		case m := <-matches:
			got = m
			continue
		default:
		}
		break
	}
	require.Len(t, got, 1)
	assert.Equal(t, "r1_m", got[0].ID)
}

func TestSchedulerEmptyQueryFinishesWithoutDispatch(t *testing.T) {
	s, _, finished, _ := newTestScheduler()
	defer s.Shutdown()

	r := newBlockingRunner("r1")
	r.release = make(chan struct{}) // would hang forever if ever dispatched

	s.LaunchQuery("", []Runner{r}, "")

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("empty query never finished")
	}
}

func TestSchedulerDefersRunUntilJobCompletes(t *testing.T) {
	s, _, _, completed := newTestScheduler()
	defer s.Shutdown()

	r := newBlockingRunner("r1")
	r.release = make(chan struct{})

	rc := s.LaunchQuery("hello", []Runner{r}, "")

	m := NewQueryMatch("r1", "m", "match")
	result := s.Run(rc, m, nil)
	assert.False(t, result) // a deferred run always reports false synchronously

	select {
	case <-completed:
		t.Fatal("run completed before the in-flight job finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(r.release)

	select {
	case finishedRun := <-completed:
		assert.Equal(t, m.ID, finishedRun.match.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("deferred run never completed after the job finished")
	}
}

// delayedRunner emits a single match after a fixed delay, so tests can
// observe the throttle's empty emit-at-250ms / emit-on-finish behavior
// (scenario seed S1: a runner that replies after 300ms).
type delayedRunner struct {
	meta  Metadata
	delay time.Duration
}

func (r *delayedRunner) Metadata() Metadata { return r.meta }

func (r *delayedRunner) Match(ctx context.Context, rc *RunnerContext) {
	time.Sleep(r.delay)
	rc.AddMatch(r, NewQueryMatch(r.meta.ID, "m", "match"))
}

func (r *delayedRunner) Run(rc *RunnerContext, m *QueryMatch, action *Action) bool { return false }
func (r *delayedRunner) ReloadConfiguration()                                      {}
func (r *delayedRunner) Prepare()                                                  {}
func (r *delayedRunner) Teardown()                                                 {}

func TestSchedulerThrottlesEmptyEmitThenFinalMatch(t *testing.T) {
	s, matches, finished, _ := newTestScheduler()
	defer s.Shutdown()

	r := &delayedRunner{meta: Metadata{ID: "slowpoke"}, delay: 300 * time.Millisecond}
	start := time.Now()
	s.LaunchQuery("fooDelay300", []Runner{r}, "")

	var first []*QueryMatch
	select {
	case first = <-matches:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected an initial empty matches_changed around 250ms")
	}
	firstAt := time.Since(start)
	assert.Empty(t, first)
	assert.GreaterOrEqual(t, firstAt, 200*time.Millisecond)

	var second []*QueryMatch
	select {
	case second = <-matches:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected the final matches_changed with one match")
	}
	require.Len(t, second, 1)

	select {
	case <-finished:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("query_finished never arrived")
	}

	assert.LessOrEqual(t, time.Since(start), 600*time.Millisecond)
}

func TestSchedulerUnloadRunnerDrainsActiveJobs(t *testing.T) {
	s, _, finished, _ := newTestScheduler()
	defer s.Shutdown()

	r := newBlockingRunner("r1")
	r.release = make(chan struct{})

	s.LaunchQuery("hello", []Runner{r}, "")
	s.UnloadRunner("r1")

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("unloading the only in-flight runner should let teardown/finish proceed")
	}
	close(r.release)
}

// TestSchedulerTeardownReachesEveryPreparedRunnerNotJustProducers covers a
// runner that was prepared for the session but never produces a match for
// the final query (gated out by MinLetterCount here). It must still
// receive Teardown: every runner that was prepared is owed one, not only
// the ones whose matches ended up in the last context's producer map.
func TestSchedulerTeardownReachesEveryPreparedRunnerNotJustProducers(t *testing.T) {
	s, _, finished, _ := newTestScheduler()
	defer s.Shutdown()

	producer := newBlockingRunner("producer")
	gated := newBlockingRunner("gated")
	gated.meta.MinLetterCount = 50

	s.SetupMatchSession([]Runner{producer, gated}, "")
	s.LaunchQuery("hi", []Runner{producer, gated}, "")

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("query never finished")
	}

	s.MatchSessionComplete()

	select {
	case <-producer.teardown:
	case <-time.After(time.Second):
		t.Fatal("producing runner was never torn down")
	}
	select {
	case <-gated.teardown:
	case <-time.After(time.Second):
		t.Fatal("gated-out runner (never a match producer) was never torn down")
	}
}
