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
	"runtime"
	"sync"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// sessionPhase is the session lifecycle state machine:
// Idle -> Preparing -> Active -> TearingDown -> Idle.
type sessionPhase int32

const (
	phaseIdle sessionPhase = iota
	phasePreparing
	phaseActive
	phaseTearingDown
)

const (
	slowGateDelay           = 400 * time.Millisecond
	matchesThrottleGap      = 250 * time.Millisecond
	slowDemoteThreshold     = 1500 * time.Millisecond
	fastPromoteThreshold    = 250 * time.Millisecond
	fastPromoteStreakNeeded = 3
	fastPromoteMinQueryLen  = 3
)

// runCompletion is delivered once per Run call (immediate or deferred) so
// the façade can record history exactly once per activation.
type runCompletion struct {
	rc     *RunnerContext
	match  *QueryMatch
	result bool
}

// Scheduler is the query scheduler: a bounded worker pool, the
// per-runner concurrency cap, the slow-runner gate, the session lifecycle
// state machine, and the throttled matches_changed emission. All public
// methods are safe to call from any goroutine; internally they hand off
// to a single event-loop goroutine that owns all mutable state, mirroring
// the command-channel loop pattern in match_handler.go.
type Scheduler struct {
	logger *zap.Logger
	scope  tally.Scope

	poolSize     int
	perRunnerCap int
	workerSem    chan struct{}

	speedMu    sync.Mutex
	speedOf    map[string]SpeedHint
	fastStreak map[string]int
	perRunner  map[string]chan struct{}

	onMatchesChanged func([]*QueryMatch)
	onQueryFinished  func()
	onRunCompleted   func(runCompletion)

	cmdCh     chan func(*schedState)
	jobDoneCh chan jobResult
	stopCh    chan struct{}
	stopOnce  sync.Once
}

type deferredRun struct {
	match    *QueryMatch
	action   *Action
	runnerID string
}

// schedState holds everything only the event-loop goroutine touches.
type schedState struct {
	phase sessionPhase
	rc    *RunnerContext

	singleRunnerID string
	prepared       map[string]Runner // runners that received Prepare and are owed Teardown

	active   map[*Job]struct{}
	draining map[*Job]struct{}

	gateGeneration int
	gateCh         chan struct{}
	gateTimer      *time.Timer

	throttleTimer *time.Timer
	lastEmit      time.Time
	haveEmitted   bool

	teardownRequested bool
	deferred          *deferredRun

	unloaded map[string]struct{} // runner ids removed mid-session
}

func NewScheduler(logger *zap.Logger, scope tally.Scope, onMatchesChanged func([]*QueryMatch), onQueryFinished func(), onRunCompleted func(runCompletion)) *Scheduler {
	poolSize := runtime.GOMAXPROCS(0)
	if poolSize < 1 {
		poolSize = 1
	}
	perRunnerCap := poolSize / 2
	if perRunnerCap < 2 {
		perRunnerCap = 2
	}

	s := &Scheduler{
		logger:       logger,
		scope:        scope,
		poolSize:     poolSize,
		perRunnerCap: perRunnerCap,
		workerSem:    make(chan struct{}, poolSize),
		speedOf:      make(map[string]SpeedHint),
		fastStreak:   make(map[string]int),
		perRunner:    make(map[string]chan struct{}),

		onMatchesChanged: onMatchesChanged,
		onQueryFinished:  onQueryFinished,
		onRunCompleted:   onRunCompleted,

		cmdCh:     make(chan func(*schedState), 64),
		jobDoneCh: make(chan jobResult, 64),
		stopCh:    make(chan struct{}),
	}

	st := &schedState{
		phase:    phaseIdle,
		prepared: make(map[string]Runner),
		active:   make(map[*Job]struct{}),
		draining: make(map[*Job]struct{}),
		unloaded: make(map[string]struct{}),
	}
	go s.loop(st)
	return s
}

func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// do runs f on the event-loop goroutine and blocks until it completes.
func (s *Scheduler) do(f func(*schedState)) {
	done := make(chan struct{})
	select {
	case s.cmdCh <- func(st *schedState) { f(st); close(done) }:
	case <-s.stopCh:
		return
	}
	select {
	case <-done:
	case <-s.stopCh:
	}
}

func (s *Scheduler) loop(st *schedState) {
	for {
		var throttleC <-chan time.Time
		if st.throttleTimer != nil {
			throttleC = st.throttleTimer.C
		}
		var gateC <-chan time.Time
		if st.gateTimer != nil {
			gateC = st.gateTimer.C
		}

		select {
		case <-s.stopCh:
			return
		case cmd := <-s.cmdCh:
			cmd(st)
		case res := <-s.jobDoneCh:
			s.handleJobDone(st, res)
		case <-throttleC:
			st.throttleTimer = nil
			s.emitNow(st)
		case <-gateC:
			st.gateTimer = nil
			s.unblockSlowJobs(st)
		}
	}
}

// SetupMatchSession begins a session, calling Prepare on every runner in
// runners (or just the single-mode runner) the first time it's invoked;
// subsequent calls while a session is already Active only withdraw a
// pending MatchSessionComplete request.
func (s *Scheduler) SetupMatchSession(runners []Runner, singleRunnerID string) {
	s.do(func(st *schedState) {
		st.teardownRequested = false
		if st.phase != phaseIdle {
			return
		}
		st.phase = phasePreparing
		st.singleRunnerID = singleRunnerID

		targets := runners
		if singleRunnerID != "" {
			targets = filterRunners(runners, singleRunnerID)
		}
		for _, r := range targets {
			r.Prepare()
			st.prepared[r.Metadata().ID] = r
		}
		st.phase = phaseActive
	})
}

func filterRunners(runners []Runner, id string) []Runner {
	for _, r := range runners {
		if r.Metadata().ID == id {
			return []Runner{r}
		}
	}
	return nil
}

// MatchSessionComplete requests teardown once all in-flight jobs drain.
func (s *Scheduler) MatchSessionComplete() {
	s.do(func(st *schedState) {
		if st.phase == phaseIdle {
			return
		}
		st.teardownRequested = true
		s.checkTeardown(st)
	})
}

func (s *Scheduler) checkTeardown(st *schedState) {
	if !st.teardownRequested {
		return
	}
	if len(st.active) != 0 || len(st.draining) != 0 {
		return
	}

	for _, r := range st.prepared {
		r.Teardown()
	}
	st.prepared = make(map[string]Runner)

	st.phase = phaseIdle
	st.teardownRequested = false
	if s.onQueryFinished != nil {
		s.onQueryFinished()
	}
}

// LaunchQuery resets the context, selects runnable runners and enqueues
// their jobs. Returns the new RunnerContext the caller should publish.
func (s *Scheduler) LaunchQuery(query string, runners []Runner, singleRunnerID string) *RunnerContext {
	var rc *RunnerContext
	s.do(func(st *schedState) {
		rc = s.resetLocked(st)
		rc.query = query
		rc.SetSingleRunnerMode(singleRunnerID != "")
		st.rc = rc
		st.singleRunnerID = singleRunnerID

		if query == "" {
			s.emitEmptyNow(st)
			return
		}

		targets := runners
		if singleRunnerID != "" {
			targets = filterRunners(runners, singleRunnerID)
		}

		st.gateGeneration++
		st.gateCh = make(chan struct{})
		if st.gateTimer != nil {
			st.gateTimer.Stop()
		}
		gen := st.gateGeneration
		st.gateTimer = time.AfterFunc(slowGateDelay, func() {
			s.do(func(st2 *schedState) {
				if st2.gateGeneration == gen {
					s.unblockSlowJobs(st2)
				}
			})
		})

		for _, r := range targets {
			if suspendable, ok := r.(Suspendable); ok && suspendable.MatchingSuspended() {
				continue
			}
			if gateSkip(r.Metadata(), rc) {
				continue
			}
			s.startJob(st, r, rc)
		}

		if len(st.active) == 0 {
			// No runner produced a job at all: nothing will ever call
			// back to drain this query, so tell the caller immediately.
			s.emitNow(st)
			if s.onQueryFinished != nil {
				s.onQueryFinished()
			}
		} else {
			// Arm the throttle gap from query start, not from the first
			// dirty write: a runner that takes its time (scenario S1's
			// 300ms responder) must still produce an outbound
			// matches_changed at the 250ms mark even if nothing has been
			// added yet, rather than going silent until its first match.
			s.armInitialThrottle(st)
		}
	})
	return rc
}

// armInitialThrottle starts the throttle gap's clock at query launch so
// the 250ms emission cadence doesn't wait on the first matches_dirty
// write to begin counting.
func (s *Scheduler) armInitialThrottle(st *schedState) {
	if st.throttleTimer != nil {
		return
	}
	st.lastEmit = time.Now()
	st.haveEmitted = true
	st.throttleTimer = time.AfterFunc(matchesThrottleGap, func() {
		s.do(func(st2 *schedState) {
			st2.throttleTimer = nil
			s.emitNow(st2)
		})
	})
}

func (s *Scheduler) resetLocked(st *schedState) *RunnerContext {
	for job := range st.active {
		st.draining[job] = struct{}{}
	}
	st.active = make(map[*Job]struct{})

	if old := st.rc; old != nil {
		old.Invalidate()
	}

	if st.deferred != nil {
		// A query reset beats a deferred run from the previous query.
		st.deferred = nil
	}

	rc := NewRunnerContext("", func() { s.onDirty() })
	st.haveEmitted = false
	return rc
}

func (s *Scheduler) onDirty() {
	s.do(func(st *schedState) { s.scheduleEmit(st) })
}

func (s *Scheduler) scheduleEmit(st *schedState) {
	if st.throttleTimer != nil {
		return
	}
	elapsed := time.Since(st.lastEmit)
	if !st.haveEmitted || elapsed >= matchesThrottleGap {
		s.emitNow(st)
		return
	}
	st.throttleTimer = time.AfterFunc(matchesThrottleGap-elapsed, func() {
		s.do(func(st2 *schedState) {
			st2.throttleTimer = nil
			s.emitNow(st2)
		})
	})
}

func (s *Scheduler) emitNow(st *schedState) {
	st.lastEmit = time.Now()
	st.haveEmitted = true
	if st.throttleTimer != nil {
		st.throttleTimer.Stop()
		st.throttleTimer = nil
	}
	if s.onMatchesChanged != nil && st.rc != nil {
		s.onMatchesChanged(st.rc.Matches())
	}
}

func (s *Scheduler) emitEmptyNow(st *schedState) {
	st.lastEmit = time.Now()
	st.haveEmitted = true
	if s.onMatchesChanged != nil {
		s.onMatchesChanged(nil)
	}
	if s.onQueryFinished != nil {
		s.onQueryFinished()
	}
}

func (s *Scheduler) startJob(st *schedState, r Runner, rc *RunnerContext) {
	job := newJob(r, rc)
	st.active[job] = struct{}{}

	gateCh := st.gateCh
	needsGate := s.currentSpeed(r) == SpeedSlow

	go func() {
		if needsGate && gateCh != nil {
			<-gateCh
		}

		s.workerSem <- struct{}{}
		defer func() { <-s.workerSem }()

		sem := s.perRunnerSem(r.Metadata().ID)
		sem <- struct{}{}
		defer func() { <-sem }()

		runJob(context.Background(), job, s.jobDoneCh)
	}()
}

func (s *Scheduler) perRunnerSem(id string) chan struct{} {
	s.speedMu.Lock()
	defer s.speedMu.Unlock()
	sem, ok := s.perRunner[id]
	if !ok {
		sem = make(chan struct{}, s.perRunnerCap)
		s.perRunner[id] = sem
	}
	return sem
}

func (s *Scheduler) unblockSlowJobs(st *schedState) {
	if st.gateCh != nil {
		close(st.gateCh)
		st.gateCh = nil
	}
}

func (s *Scheduler) handleJobDone(st *schedState, res jobResult) {
	job := res.job
	if _, ok := st.active[job]; ok {
		delete(st.active, job)
	} else {
		delete(st.draining, job)
	}

	s.reclassifySpeed(job.Runner, job.Context.Query(), res.elapsed)

	if s.scope != nil {
		s.scope.Timer("runner_match_duration").Record(res.elapsed)
	}

	if st.deferred != nil && st.deferred.runnerID == job.Runner.Metadata().ID && !s.hasActiveJobForRunner(st, st.deferred.runnerID) {
		d := st.deferred
		st.deferred = nil
		s.executeRun(st, job.Runner, d.match, d.action)
	}

	s.finishIfIdle(st)
}

// finishIfIdle emits the deferred matches_changed (if any) and
// query_finished once the current context has no active jobs left,
// whether they completed normally or were detached by UnloadRunner.
func (s *Scheduler) finishIfIdle(st *schedState) {
	if len(st.active) != 0 {
		return
	}
	if st.rc != nil && st.rc.Len() == 0 {
		// No job produced any match: the throttle would otherwise never
		// fire for an all-empty query.
		s.emitNow(st)
	}
	if st.throttleTimer != nil {
		st.throttleTimer.Stop()
		st.throttleTimer = nil
		s.emitNow(st)
	}
	if s.onQueryFinished != nil {
		s.onQueryFinished()
	}
	s.checkTeardown(st)
}

func (s *Scheduler) hasActiveJobForRunner(st *schedState, runnerID string) bool {
	for job := range st.active {
		if job.Runner.Metadata().ID == runnerID {
			return true
		}
	}
	return false
}

func (s *Scheduler) currentSpeed(r Runner) SpeedHint {
	s.speedMu.Lock()
	defer s.speedMu.Unlock()
	if hint, ok := s.speedOf[r.Metadata().ID]; ok {
		return hint
	}
	return r.Metadata().SpeedHint
}

// reclassifySpeed implements the demotion/promotion rule for a runner's
// speed hint based on how long its recent Match calls actually took.
func (s *Scheduler) reclassifySpeed(r Runner, query string, elapsed time.Duration) {
	id := r.Metadata().ID
	s.speedMu.Lock()
	defer s.speedMu.Unlock()

	current, ok := s.speedOf[id]
	if !ok {
		current = r.Metadata().SpeedHint
	}

	switch current {
	case SpeedNormal:
		if elapsed > slowDemoteThreshold {
			s.speedOf[id] = SpeedSlow
			s.fastStreak[id] = 0
			if s.logger != nil {
				s.logger.Debug("demoting runner to slow", zap.String("runner", id), zap.Duration("elapsed", elapsed))
			}
		}
	case SpeedSlow:
		if elapsed < fastPromoteThreshold && len(query) >= fastPromoteMinQueryLen {
			s.fastStreak[id]++
			if s.fastStreak[id] >= fastPromoteStreakNeeded {
				s.speedOf[id] = SpeedNormal
				s.fastStreak[id] = 0
				if s.logger != nil {
					s.logger.Debug("promoting runner back to normal", zap.String("runner", id))
				}
			}
		} else {
			s.fastStreak[id] = 0
		}
	}
}

// Run activates match. If a job for match's runner is currently in
// flight, the run is deferred until that job finishes; the actual result
// (and any history recording) is delivered later through onRunCompleted
// rather than this call's return value.
func (s *Scheduler) Run(rc *RunnerContext, m *QueryMatch, action *Action) bool {
	var immediateResult bool
	var ranImmediately bool

	s.do(func(st *schedState) {
		if s.hasActiveJobForRunner(st, m.RunnerID) {
			st.deferred = &deferredRun{match: m, action: action, runnerID: m.RunnerID}
			return
		}
		if producer := rc.ProducerOf(m.RunnerID); producer != nil {
			ranImmediately = true
			immediateResult = s.executeRun(st, producer, m, action)
		}
	})

	if ranImmediately {
		return immediateResult
	}
	return false
}

func (s *Scheduler) executeRun(st *schedState, r Runner, m *QueryMatch, action *Action) bool {
	result := r.Run(st.rc, m, action)
	if s.onRunCompleted != nil {
		s.onRunCompleted(runCompletion{rc: st.rc, match: m, result: result})
	}
	return result
}

// UnloadRunner detaches any in-flight jobs for id so a runner can be
// freed without waiting for its Match call to return, following
// original_source/src/runnermanager.cpp's DelayedJobCleaner.
func (s *Scheduler) UnloadRunner(id string) {
	s.do(func(st *schedState) {
		st.unloaded[id] = struct{}{}
		for job := range st.active {
			if job.Runner.Metadata().ID == id {
				delete(st.active, job)
				st.draining[job] = struct{}{}
			}
		}
		s.finishIfIdle(st)
	})
}
