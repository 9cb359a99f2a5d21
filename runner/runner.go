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
	"regexp"
	"strings"
)

// SpeedHint is a runner's declared (or scheduler-demoted/promoted) speed
// class; it governs whether the scheduler gates the runner's jobs behind
// the slow-gate timer.
type SpeedHint int8

const (
	SpeedNormal SpeedHint = iota
	SpeedSlow
)

// Metadata is the runner's static description, populated either
// in-process or from an out-of-process plugin's key-value metadata file.
type Metadata struct {
	ID          string
	Name        string
	Description string
	Icon        string

	UniqueResults bool
	WeakResults   bool

	MinLetterCount int
	MatchRegex     *regexp.Regexp

	RequestActionsOnce bool
	SpeedHint          SpeedHint
	PriorityHint       int

	TriggerWords []string

	// DefaultExampleQuery fills in an empty query term in single-runner
	// mode, mirroring defaultSyntax()->exampleQueries() from a runner's
	// declared syntaxes.
	DefaultExampleQuery string
}

// TriggerWordRegex compiles the metadata's trigger words into a
// `^(w1|w2|…)` match_regex form and returns the shortest trigger word's
// length as the matching MinLetterCount. It does not modify m.
func (m *Metadata) TriggerWordRegex() (*regexp.Regexp, int) {
	if len(m.TriggerWords) == 0 {
		return nil, 0
	}
	escaped := make([]string, len(m.TriggerWords))
	shortest := -1
	for i, w := range m.TriggerWords {
		escaped[i] = regexp.QuoteMeta(w)
		if shortest == -1 || len(w) < shortest {
			shortest = len(w)
		}
	}
	pattern := "^(" + strings.Join(escaped, "|") + ")"
	re := regexp.MustCompile(pattern)
	return re, shortest
}

// Runner is the in-process plugin contract. Match must be safe to
// invoke concurrently — the scheduler may have several overlapping
// invocations in flight from rapid keystrokes — and should poll
// rc.IsValid() in any long inner loop to cooperate with cancellation.
type Runner interface {
	Metadata() Metadata

	Match(ctx context.Context, rc *RunnerContext)

	// Run performs the side-effectful activation and reports whether the
	// launcher should close.
	Run(rc *RunnerContext, m *QueryMatch, action *Action) bool

	ReloadConfiguration()

	// Prepare/Teardown bracket a session's prepare/teardown signals;
	// called on the façade goroutine.
	Prepare()
	Teardown()
}

// MimeDataProvider is an optional capability: runners whose matches can
// be dragged out of the launcher implement it.
type MimeDataProvider interface {
	MimeDataFor(m *QueryMatch) (data []byte, mimeType string)
}

// Suspendable is an optional capability letting a runner pause matching
// without being unloaded (e.g. while its backing process restarts).
type Suspendable interface {
	MatchingSuspended() bool
}

// gateSkip reports whether the scheduler should skip dispatching a job to
// runner for the given context. Gates are bypassed entirely in
// single-runner mode.
func gateSkip(meta Metadata, rc *RunnerContext) bool {
	if rc.SingleRunnerMode() {
		return false
	}
	if meta.MinLetterCount > 0 && len(rc.Query()) < meta.MinLetterCount {
		return true
	}
	if meta.MatchRegex != nil && !meta.MatchRegex.MatchString(rc.Query()) {
		return true
	}
	return false
}
