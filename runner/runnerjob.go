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
	"time"

	"github.com/gofrs/uuid/v5"
)

// Job pairs a runner with the RunnerContext it is matching against. Its
// only write target is the shared context; everything else about the
// job is immutable once dispatched.
type Job struct {
	ID        string
	Runner    Runner
	Context   *RunnerContext
	StartedAt time.Time
}

func newJob(r Runner, rc *RunnerContext) *Job {
	id, _ := uuid.NewV4()
	return &Job{ID: id.String(), Runner: r, Context: rc, StartedAt: time.Now()}
}

// jobResult is what a worker goroutine reports back to the scheduler's
// event loop once Match returns.
type jobResult struct {
	job      *Job
	elapsed  time.Duration
	detached bool // runner was unloaded while the job was draining
}

// runJob is the body executed on a worker goroutine. It never touches
// scheduler state directly; all it does is call the runner and report
// timing back over done.
func runJob(ctx context.Context, job *Job, done chan<- jobResult) {
	start := time.Now()
	job.Runner.Match(ctx, job.Context)
	done <- jobResult{job: job, elapsed: time.Since(start)}
}
