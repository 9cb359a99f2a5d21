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

package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kelsonlabs/runnerd/runner"
)

func TestAdapterLocalIDStripsRunnerPrefix(t *testing.T) {
	a := NewAdapter("calc", NewRegistry(), nil)

	m := runner.NewQueryMatch("calc", "2+2", "text")
	assert.Equal(t, "2+2", a.localID(m))

	verbatim := &runner.QueryMatch{ID: "already-local"}
	assert.Equal(t, "already-local", a.localID(verbatim))
}

// TestAdapterShouldRefreshActionsHonorsRequestActionsOnce exercises the
// Actions() caching lifecycle named alongside the wire contract: a runner
// that asked to be fetched once keeps its first answer, everyone else is
// re-fetched every session the same way DBusRunner::requestActions runs
// again each time prepare() fires.
func TestAdapterShouldRefreshActionsHonorsRequestActionsOnce(t *testing.T) {
	a := NewAdapter("calc", NewRegistry(), nil)

	assert.True(t, a.shouldRefreshActions(runner.Metadata{RequestActionsOnce: true}))
	assert.True(t, a.shouldRefreshActions(runner.Metadata{RequestActionsOnce: false}))

	a.actionsFetched = true

	assert.False(t, a.shouldRefreshActions(runner.Metadata{RequestActionsOnce: true}))
	assert.True(t, a.shouldRefreshActions(runner.Metadata{RequestActionsOnce: false}))
}

func TestAdapterMatchingNotSuspendedByDefault(t *testing.T) {
	a := NewAdapter("calc", NewRegistry(), nil)
	assert.False(t, a.MatchingSuspended())
}
