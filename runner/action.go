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

// Action is a non-default activation a match can offer in addition to
// running it directly, e.g. "copy path" or "open containing folder".
type Action struct {
	ID         string
	Text       string
	IconSource string
}

func NewAction(id, text, iconSource string) *Action {
	return &Action{ID: id, Text: text, IconSource: iconSource}
}
