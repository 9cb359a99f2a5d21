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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubRunner struct {
	meta Metadata
}

func (r *stubRunner) Metadata() Metadata                 { return r.meta }
func (r *stubRunner) Match(context.Context, *RunnerContext) {}
func (r *stubRunner) Run(*RunnerContext, *QueryMatch, *Action) bool { return false }
func (r *stubRunner) ReloadConfiguration()                {}
func (r *stubRunner) Prepare()                            {}
func (r *stubRunner) Teardown()                           {}

func TestRunnerContextAddMatchesAppendsInOrder(t *testing.T) {
	rc := NewRunnerContext("hi", nil)
	r := &stubRunner{meta: Metadata{ID: "a"}}

	rc.AddMatch(r, NewQueryMatch("a", "1", "one"))
	rc.AddMatch(r, NewQueryMatch("a", "2", "two"))

	got := rc.Matches()
	assert.Len(t, got, 2)
	assert.Equal(t, "a_1", got[0].ID)
	assert.Equal(t, "a_2", got[1].ID)
}

func TestRunnerContextInvalidateDropsFurtherWrites(t *testing.T) {
	rc := NewRunnerContext("hi", nil)
	r := &stubRunner{meta: Metadata{ID: "a"}}

	rc.Invalidate()
	ok := rc.AddMatch(r, NewQueryMatch("a", "1", "one"))

	assert.False(t, ok)
	assert.Equal(t, 0, rc.Len())
}

func TestRunnerContextUniqueResultsStrongWins(t *testing.T) {
	rc := NewRunnerContext("hi", nil)
	strong := &stubRunner{meta: Metadata{ID: "strong", UniqueResults: true}}
	other := &stubRunner{meta: Metadata{ID: "strong"}} // same producer id, second add

	rc.AddMatch(strong, NewUniqueQueryMatch("strong", "dup", "first"))
	rc.AddMatch(other, NewUniqueQueryMatch("strong", "dup", "second"))

	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, "first", rc.Matches()[0].Text)
}

func TestRunnerContextWeakResultsGetReplaced(t *testing.T) {
	rc := NewRunnerContext("hi", nil)
	weak := &stubRunner{meta: Metadata{ID: "weak", UniqueResults: true, WeakResults: true}}

	rc.AddMatch(weak, NewUniqueQueryMatch("weak", "dup", "first"))
	rc.AddMatch(weak, NewUniqueQueryMatch("weak", "dup", "second"))

	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, "second", rc.Matches()[0].Text)
}

func TestRunnerContextDedupKeyFoldsLongIDs(t *testing.T) {
	long := strings.Repeat("x", dedupKeyInlineLimit+1)
	key := dedupKey(long)
	assert.Len(t, key, 64) // blake2b-256 hex
	assert.NotEqual(t, long, key)

	short := "abc"
	assert.Equal(t, short, dedupKey(short))
}

func TestRunnerContextMatchLookup(t *testing.T) {
	rc := NewRunnerContext("hi", nil)
	r := &stubRunner{meta: Metadata{ID: "a"}}
	m := NewQueryMatch("a", "1", "one")
	rc.AddMatch(r, m)

	assert.Same(t, m, rc.Match("a_1"))
	assert.Nil(t, rc.Match("missing"))
}
