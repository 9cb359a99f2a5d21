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
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	launchCountGroup = "PlasmaRunnerManager"
	launchCountKey   = "LaunchCounts"
	historyEntriesKey = "Entries"

	// launchCountBonusK tunes the monotone curve; only the 0.5 cap and
	// monotonicity are load-bearing, not the exact shape of the curve.
	launchCountBonusK = 0.15
	maxRelevanceBonus = 0.5
)

// History tracks per-environment recent queries and a global launch-count
// table used to boost relevance for frequently launched matches.
type History struct {
	mu     sync.Mutex
	logger *zap.Logger
	store  KVGroup

	enabled                 bool
	envID                   string
	changeCountBeforeSaving int
	dirtyWrites             int

	entriesLoaded bool
	entries       []string

	countsLoaded bool
	counts       map[string]int
}

func NewHistory(logger *zap.Logger, store KVGroup, changeCountBeforeSaving int) *History {
	if changeCountBeforeSaving <= 0 {
		changeCountBeforeSaving = 1
	}
	return &History{
		logger:                  logger,
		store:                   store,
		enabled:                 true,
		changeCountBeforeSaving: changeCountBeforeSaving,
		counts:                  make(map[string]int),
	}
}

func (h *History) SetEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = enabled
}

func (h *History) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// SetEnvironmentIdentifier switches the active per-environment history
// bucket, discarding the cached entry list so it reloads on next access.
func (h *History) SetEnvironmentIdentifier(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == h.envID {
		return
	}
	h.envID = id
	h.entriesLoaded = false
	h.entries = nil
}

func (h *History) group() string { return "History-" + h.envID }

func (h *History) ensureEntriesLoadedLocked() {
	if h.entriesLoaded {
		return
	}
	h.entriesLoaded = true
	raw, ok, err := h.store.Get(h.group(), historyEntriesKey)
	if err != nil {
		h.logger.Warn("failed to load history", zap.Error(err))
		return
	}
	if !ok || raw == "" {
		h.entries = nil
		return
	}
	h.entries = strings.Split(raw, "\n")
}

func (h *History) ensureCountsLoadedLocked() {
	if h.countsLoaded {
		return
	}
	h.countsLoaded = true
	raw, ok, err := h.store.Get(launchCountGroup, launchCountKey)
	if err != nil {
		h.logger.Warn("failed to load launch counts", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		h.counts[parts[1]] = n
	}
}

// Entries returns the current environment's history, most-recent first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureEntriesLoadedLocked()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) RemoveEntry(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureEntriesLoadedLocked()
	if index < 0 || index >= len(h.entries) {
		return
	}
	h.entries = append(h.entries[:index], h.entries[index+1:]...)
	h.persistEntriesLocked()
}

// Suggest returns the first history entry starting with prefix, or "".
func (h *History) Suggest(prefix string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureEntriesLoadedLocked()
	for _, e := range h.entries {
		if strings.HasPrefix(e, prefix) {
			return e
		}
	}
	return ""
}

// RecordRun is called when a match is run with a non-empty query. rawQuery
// is the context's untrimmed query text; entries starting with whitespace
// are never recorded.
func (h *History) RecordRun(rawQuery string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled || rawQuery == "" || rawQuery[0] == ' ' || rawQuery[0] == '\t' {
		return
	}
	trimmed := strings.TrimSpace(rawQuery)
	if trimmed == "" {
		return
	}

	h.ensureEntriesLoadedLocked()
	for i, e := range h.entries {
		if e == trimmed {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			break
		}
	}
	h.entries = append([]string{trimmed}, h.entries...)
	h.markDirtyLocked()
}

// IncrementLaunchCount bumps the global launch count for term (a match's
// text or id, caller's choice, but must be used consistently with Bonus).
func (h *History) IncrementLaunchCount(term string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureCountsLoadedLocked()
	h.counts[term]++
	h.markDirtyLocked()
}

// Bonus returns the monotone, 0.5-capped relevance bonus for term:
// bonus = min(0.5, log2(1+count) * k).
func (h *History) Bonus(term string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureCountsLoadedLocked()
	count := h.counts[term]
	if count <= 0 {
		return 0
	}
	bonus := math.Log2(1+float64(count)) * launchCountBonusK
	if bonus > maxRelevanceBonus {
		bonus = maxRelevanceBonus
	}
	return bonus
}

func (h *History) markDirtyLocked() {
	h.dirtyWrites++
	if h.dirtyWrites < h.changeCountBeforeSaving {
		return
	}
	h.dirtyWrites = 0
	h.persistEntriesLocked()
	h.persistCountsLocked()
}

func (h *History) persistEntriesLocked() {
	if err := h.store.Set(h.group(), historyEntriesKey, strings.Join(h.entries, "\n")); err != nil {
		h.logger.Warn("failed to persist history", zap.Error(err))
	}
}

func (h *History) persistCountsLocked() {
	terms := make([]string, 0, len(h.counts))
	for term := range h.counts {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var b strings.Builder
	for _, term := range terms {
		b.WriteString(strconv.Itoa(h.counts[term]))
		b.WriteByte(' ')
		b.WriteString(term)
		b.WriteByte('\n')
	}
	if err := h.store.Set(launchCountGroup, launchCountKey, strings.TrimRight(b.String(), "\n")); err != nil {
		h.logger.Warn("failed to persist launch counts", zap.Error(err))
	}
}
