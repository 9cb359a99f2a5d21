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

import "strings"

// QueryMatch is a single result row produced by a runner during Match.
//
// RunnerID is deliberately not an owning reference: a match can outlive
// the runner that produced it (the runner may be unloaded while the UI
// still holds the match in its model), so callers resolve RunnerID
// through the manager's runner table rather than dereferencing a pointer
// stashed here.
type QueryMatch struct {
	RunnerID        string
	ID              string
	Text            string
	Subtext         string
	IconSource      Icon
	CategoryLabel   string
	CategoryRelevance float64 // 0..100
	Relevance       float64 // 0..1
	Actions         []*Action
	SelectedAction  *Action
	Data            interface{}
	URLs            []string
	Enabled         bool
	Multiline       bool
	MimeHint        string

	// insertionSeq is assigned by RunnerContext.addMatch and used as the
	// intra-category tie-break for equal relevance.
	insertionSeq uint64
}

// NewQueryMatch builds a match with its id namespaced to the runner, as
// required unless the runner advertises unique results (in which case
// the caller should use NewUniqueQueryMatch instead).
func NewQueryMatch(runnerID, localID, text string) *QueryMatch {
	return &QueryMatch{
		RunnerID: runnerID,
		ID:       namespaceID(runnerID, localID),
		Text:     text,
		Enabled:  true,
	}
}

// NewUniqueQueryMatch uses localID verbatim as the match id, for runners
// whose metadata sets UniqueResults.
func NewUniqueQueryMatch(runnerID, localID, text string) *QueryMatch {
	return &QueryMatch{
		RunnerID: runnerID,
		ID:       localID,
		Text:     text,
		Enabled:  true,
	}
}

func namespaceID(runnerID, localID string) string {
	var b strings.Builder
	b.Grow(len(runnerID) + len(localID) + 1)
	b.WriteString(runnerID)
	b.WriteByte('_')
	b.WriteString(localID)
	return b.String()
}

// Clamp keeps Relevance within [0,1] after a bonus has been applied.
func (m *QueryMatch) Clamp() {
	if m.Relevance < 0 {
		m.Relevance = 0
	} else if m.Relevance > 1 {
		m.Relevance = 1
	}
}
