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
)

// category is the internal grouping used while projecting a flat match
// list into the category x match view.
type category struct {
	label     string
	matches   []*QueryMatch
	topRunner string
	effective float64
}

// MatchStore derives the category-grouped, favorite-aware, limited view
// of a RunnerContext's matches. It holds no state of its own beyond the
// favorites list; everything else is recomputed from the context.
type MatchStore struct {
	favorites []string // runner ids, most-preferred first
}

func NewMatchStore(favorites []string) *MatchStore {
	return &MatchStore{favorites: favorites}
}

func (s *MatchStore) SetFavorites(ids []string) { s.favorites = ids }

func (s *MatchStore) favoriteIndex(runnerID string) int {
	for i, id := range s.favorites {
		if id == runnerID {
			return i
		}
	}
	return -1
}

// Flatten projects matches into the limited, sorted, flattened list the
// UI consumes. limit <= 0 means no cap.
func (s *MatchStore) Flatten(matches []*QueryMatch, limit int) []*QueryMatch {
	cats := s.groupAndScore(matches)
	s.sortCategories(cats)

	caps := s.distributeLimit(len(cats), limit)

	out := make([]*QueryMatch, 0, len(matches))
	for i, c := range cats {
		n := len(c.matches)
		if limit > 0 && n > caps[i] {
			n = caps[i]
		}
		out = append(out, c.matches[:n]...)
	}
	return out
}

// Categories exposes the stable-ordered category labels for UI section
// headers, without applying the limit.
func (s *MatchStore) Categories(matches []*QueryMatch) []string {
	cats := s.groupAndScore(matches)
	s.sortCategories(cats)
	labels := make([]string, len(cats))
	for i, c := range cats {
		labels[i] = c.label
	}
	return labels
}

func (s *MatchStore) groupAndScore(matches []*QueryMatch) []*category {
	order := make([]string, 0)
	byLabel := make(map[string]*category)

	for _, m := range matches {
		c, ok := byLabel[m.CategoryLabel]
		if !ok {
			c = &category{label: m.CategoryLabel}
			byLabel[m.CategoryLabel] = c
			order = append(order, m.CategoryLabel)
		}
		c.matches = append(c.matches, m)
		if m.CategoryRelevance > c.effective {
			c.effective = m.CategoryRelevance
			c.topRunner = m.RunnerID
		}
	}

	cats := make([]*category, 0, len(order))
	for _, label := range order {
		c := byLabel[label]
		s.applyFavoriteFactor(c)
		s.sortWithinCategory(c)
		cats = append(cats, c)
	}
	return cats
}

func (s *MatchStore) applyFavoriteFactor(c *category) {
	idx := s.favoriteIndex(c.topRunner)
	if idx < 0 {
		return
	}
	factor := 1 + 0.2*float64(len(s.favorites)-idx)
	c.effective *= factor
}

func (s *MatchStore) sortWithinCategory(c *category) {
	sort.SliceStable(c.matches, func(i, j int) bool {
		if c.matches[i].Relevance != c.matches[j].Relevance {
			return c.matches[i].Relevance > c.matches[j].Relevance
		}
		return c.matches[i].insertionSeq < c.matches[j].insertionSeq
	})
}

// sortCategories orders categories by effective score, with any category
// whose top match came from a favorited runner always outranking a
// non-favorite one regardless of raw score.
func (s *MatchStore) sortCategories(cats []*category) {
	favorite := func(c *category) bool { return s.favoriteIndex(c.topRunner) >= 0 }

	sort.SliceStable(cats, func(i, j int) bool {
		fi, fj := favorite(cats[i]), favorite(cats[j])
		if fi != fj {
			return fi
		}
		return cats[i].effective > cats[j].effective
	})
}

// distributeLimit computes, for n categories sorted by effective score,
// the maximum contribution of category i (0-based): the first category
// may take at most half the limit, the second at most a third, and so
// on, each at least one match.
func (s *MatchStore) distributeLimit(n, limit int) []int {
	caps := make([]int, n)
	if limit <= 0 || n == 0 {
		for i := range caps {
			caps[i] = math.MaxInt32
		}
		return caps
	}

	sumBefore := 0
	ceilDivL := ceilDiv(limit, n)
	for i := 0; i < n; i++ {
		byPosition := ceilDiv(limit, i+2)
		remaining := limit - sumBefore - ceilDivL
		c := byPosition
		if remaining < c {
			c = remaining
		}
		if c < 1 {
			c = 1
		}
		caps[i] = c
		sumBefore += c
	}
	return caps
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
