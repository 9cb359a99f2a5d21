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

// Package ipc is the out-of-process runner adapter: it speaks to runner
// plugins hosted in their own binary over gRPC. The wire shapes below
// mirror runner.QueryMatch's fields one for one so the adapter can
// translate between the two without losing information.
package ipc

// RemoteImage is the wire form of a runner-supplied icon bitmap.
type RemoteImage struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RowStride     int    `json:"row_stride"`
	HasAlpha      bool   `json:"has_alpha"`
	BitsPerSample int    `json:"bits_per_sample"`
	Channels      int    `json:"channels"`
	Data          []byte `json:"data"`
}

// RemoteAction mirrors QueryMatch's nested action list over the wire.
type RemoteAction struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	IconSource string `json:"icon_source"`
}

// RemoteMatch is a single match as reported by a remote runner process.
// Field names deliberately match the local runner.QueryMatch where the
// concepts line up 1:1.
type RemoteMatch struct {
	ID                string        `json:"id"`
	Text              string        `json:"text"`
	Subtext           string        `json:"subtext"`
	IconSource        string        `json:"icon_source"`
	InlineIcon        *RemoteImage  `json:"inline_icon,omitempty"`
	CategoryLabel     string        `json:"category_label"`
	CategoryRelevance float64       `json:"category_relevance"`
	Relevance         float64       `json:"relevance"`
	Actions           []RemoteAction `json:"actions,omitempty"`
	URLs              []string      `json:"urls,omitempty"`
	Enabled           bool          `json:"enabled"`
	Multiline         bool          `json:"multiline"`
	MimeHint          string        `json:"mime_hint,omitempty"`
}

// RemoteMetadata is returned by the Config RPC and mirrors the static
// description a local runner.Metadata exposes.
type RemoteMetadata struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Icon                string   `json:"icon"`
	UniqueResults       bool     `json:"unique_results"`
	WeakResults         bool     `json:"weak_results"`
	MinLetterCount      int      `json:"min_letter_count"`
	MatchRegex          string   `json:"match_regex,omitempty"`
	RequestActionsOnce  bool     `json:"request_actions_once"`
	SpeedHint           string   `json:"speed_hint"` // "normal" | "slow"
	PriorityHint        int      `json:"priority_hint"`
	TriggerWords        []string `json:"trigger_words,omitempty"`
	DefaultExampleQuery string   `json:"default_example_query,omitempty"`
}

// MatchRequest is sent for every Match RPC.
type MatchRequest struct {
	Query              string `json:"query"`
	SingleRunnerMode   bool   `json:"single_runner_mode"`
}

type MatchResponse struct {
	Matches []RemoteMatch `json:"matches"`
}

// RunRequest carries the match's unmangled local id (the portion after
// the runner id prefix, see adapter.go's localID) and the
// selected action, if any.
type RunRequest struct {
	MatchID  string        `json:"match_id"`
	ActionID string        `json:"action_id,omitempty"`
}

type RunResponse struct {
	ShouldClose bool `json:"should_close"`
}

type ActionsRequest struct {
	MatchID string `json:"match_id"`
}

type ActionsResponse struct {
	Actions []RemoteAction `json:"actions"`
}

type Empty struct{}
