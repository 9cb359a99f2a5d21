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
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHistoryDropsLeadingWhitespaceQueriesEntirely(t *testing.T) {
	h := NewHistory(zap.NewNop(), NewInMemoryStore(), 100)

	for _, q := range []string{"test", " test", "test", "test2", "test"} {
		h.RecordRun(q)
	}

	assert.Equal(t, []string{"test", "test2"}, h.Entries())
}

func TestHistoryBonusIsMonotoneAndCapped(t *testing.T) {
	h := NewHistory(zap.NewNop(), NewInMemoryStore(), 1)

	assert.Equal(t, 0.0, h.Bonus("foo"))

	var last float64
	for i := 0; i < 5; i++ {
		h.IncrementLaunchCount("foo")
		b := h.Bonus("foo")
		assert.GreaterOrEqual(t, b, last)
		assert.LessOrEqual(t, b, 0.5)
		last = b
	}
}

func TestHistorySuggestReturnsFirstPrefixMatch(t *testing.T) {
	h := NewHistory(zap.NewNop(), NewInMemoryStore(), 100)
	h.RecordRun("firefox")
	h.RecordRun("file manager")

	assert.Equal(t, "file manager", h.Suggest("file"))
	assert.Equal(t, "", h.Suggest("zzz"))
}

func TestHistoryPersistsAfterChangeCountThreshold(t *testing.T) {
	store := NewInMemoryStore()
	h := NewHistory(zap.NewNop(), store, 2)

	h.RecordRun("one")
	if _, ok, _ := store.Get(h.group(), historyEntriesKey); ok {
		t.Fatal("expected no persisted write before threshold reached")
	}

	h.RecordRun("two")
	raw, ok, err := store.Get(h.group(), historyEntriesKey)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, "two")
}
