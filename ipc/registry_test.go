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
)

type registryEvent struct {
	id, target string
	added      bool
}

func TestRegistryRegisterNotifiesAdd(t *testing.T) {
	r := NewRegistry()
	var events []registryEvent
	r.Watch(func(id, target string, added bool) {
		events = append(events, registryEvent{id, target, added})
	})

	r.Register("calc", "localhost:9001")

	require.Len(t, events, 1)
	assert.Equal(t, registryEvent{"calc", "localhost:9001", true}, events[0])

	target, ok := r.Lookup("calc")
	assert.True(t, ok)
	assert.Equal(t, "localhost:9001", target)
}

func TestRegistryReRegisterWithNewTargetNotifiesRemoveThenAdd(t *testing.T) {
	r := NewRegistry()
	r.Register("calc", "localhost:9001")

	var events []registryEvent
	r.Watch(func(id, target string, added bool) {
		events = append(events, registryEvent{id, target, added})
	})

	r.Register("calc", "localhost:9002")

	require.Len(t, events, 2)
	assert.Equal(t, registryEvent{"calc", "localhost:9001", false}, events[0])
	assert.Equal(t, registryEvent{"calc", "localhost:9002", true}, events[1])
}

func TestRegistryReRegisterWithSameTargetIsSilent(t *testing.T) {
	r := NewRegistry()
	r.Register("calc", "localhost:9001")

	var events []registryEvent
	r.Watch(func(id, target string, added bool) {
		events = append(events, registryEvent{id, target, added})
	})

	r.Register("calc", "localhost:9001")

	assert.Empty(t, events)
}

func TestRegistryUnregisterNotifiesRemoveOnlyIfPresent(t *testing.T) {
	r := NewRegistry()
	r.Register("calc", "localhost:9001")

	var events []registryEvent
	r.Watch(func(id, target string, added bool) {
		events = append(events, registryEvent{id, target, added})
	})

	r.Unregister("missing")
	assert.Empty(t, events)

	r.Unregister("calc")
	require.Len(t, events, 1)
	assert.False(t, events[0].added)

	_, ok := r.Lookup("calc")
	assert.False(t, ok)
}

func TestRegistryMatchingServicesFiltersByPrefix(t *testing.T) {
	r := NewRegistry()
	r.Register("org.example.calc", "localhost:9001")
	r.Register("org.example.files", "localhost:9002")
	r.Register("org.other.thing", "localhost:9003")

	got := r.MatchingServices("org.example.")
	assert.ElementsMatch(t, []string{"org.example.calc", "org.example.files"}, got)
}
