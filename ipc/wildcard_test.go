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
	"github.com/stretchr/testify/require"

	"github.com/kelsonlabs/runnerd/runner"
)

func TestWildcardAdapterMatchingSuspendedWhenNoServicesRegistered(t *testing.T) {
	reg := NewRegistry()
	w := NewWildcardAdapter("org.example.*", "org.example.", runner.Metadata{ID: "org.example.*"}, reg, nil)

	assert.True(t, w.MatchingSuspended())

	reg.Register("org.example.calc", "localhost:9001")
	assert.False(t, w.MatchingSuspended())

	reg.Unregister("org.example.calc")
	assert.True(t, w.MatchingSuspended())
}

// TestWildcardAdapterTagsMatchesByOriginatingService exercises the case
// where two distinct services under the same wildcard each contribute a match,
// and every match produced carries the id of the service that answered it
// so Run can be routed back correctly.
func TestWildcardAdapterTagsMatchesByOriginatingService(t *testing.T) {
	reg := NewRegistry()
	w := NewWildcardAdapter("org.example.*", "org.example.", runner.Metadata{ID: "org.example.*"}, reg, nil)

	calcMatches := w.toQueryMatches("org.example.calc", []RemoteMatch{{ID: "x", Text: "calc result", Enabled: true}})
	filesMatches := w.toQueryMatches("org.example.files", []RemoteMatch{{ID: "y", Text: "file result", Enabled: true}})

	require.Len(t, calcMatches, 1)
	require.Len(t, filesMatches, 1)

	assert.Equal(t, "org.example.calc", calcMatches[0].Data)
	assert.Equal(t, "org.example.files", filesMatches[0].Data)
	assert.Equal(t, "org.example.*_x", calcMatches[0].ID)
	assert.Equal(t, "org.example.*_y", filesMatches[0].ID)
}

func TestWildcardAdapterLocalIDStripsRunnerPrefix(t *testing.T) {
	reg := NewRegistry()
	w := NewWildcardAdapter("org.example.*", "org.example.", runner.Metadata{ID: "org.example.*"}, reg, nil)

	m := runner.NewQueryMatch("org.example.*", "local-id", "text")
	assert.Equal(t, "local-id", w.localID(m))

	verbatim := &runner.QueryMatch{ID: "already-local"}
	assert.Equal(t, "already-local", w.localID(verbatim))
}

func TestWildcardAdapterRunWithoutServiceTagFails(t *testing.T) {
	reg := NewRegistry()
	w := NewWildcardAdapter("org.example.*", "org.example.", runner.Metadata{ID: "org.example.*"}, reg, nil)

	m := runner.NewQueryMatch("org.example.*", "x", "text")
	ok := w.Run(nil, m, nil)
	assert.False(t, ok)
}
