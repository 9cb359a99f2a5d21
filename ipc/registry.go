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
	"strings"
	"sync"
)

// Registry tracks which gRPC dial targets currently answer for which
// runner ids: runner plugin processes come and go independently of this
// process's lifetime, and the adapter layer needs to notice without
// polling.
type Registry struct {
	mu       sync.RWMutex
	services map[string]string // runner id -> dial target, e.g. "localhost:8420"
	watchers []func(id, target string, added bool)
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[string]string)}
}

// Register announces that a runner process for id is reachable at
// target. Re-registering the same id with a new target is treated as a
// restart: watchers see a remove followed by an add. Re-registering the
// same id with the same target changes nothing and notifies no one.
func (r *Registry) Register(id, target string) {
	r.mu.Lock()
	old, existed := r.services[id]
	r.services[id] = target
	watchers := append([]func(string, string, bool){}, r.watchers...)
	r.mu.Unlock()

	if existed && old == target {
		return
	}
	if existed && old != target {
		notify(watchers, id, old, false)
	}
	notify(watchers, id, target, true)
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	target, ok := r.services[id]
	if ok {
		delete(r.services, id)
	}
	watchers := append([]func(string, string, bool){}, r.watchers...)
	r.mu.Unlock()

	if ok {
		notify(watchers, id, target, false)
	}
}

func notify(watchers []func(string, string, bool), id, target string, added bool) {
	for _, w := range watchers {
		w(id, target, added)
	}
}

func (r *Registry) Lookup(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.services[id]
	return t, ok
}

// MatchingServices returns every registered runner id whose id has
// prefix, letting a caller discover every plugin under a shared namespace
// without enumerating ids one at a time.
func (r *Registry) MatchingServices(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id := range r.services {
		if strings.HasPrefix(id, prefix) {
			out = append(out, id)
		}
	}
	return out
}

// Watch registers fn to be called (synchronously, from whichever
// goroutine calls Register/Unregister) whenever a service appears or
// disappears.
func (r *Registry) Watch(fn func(id, target string, added bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}
