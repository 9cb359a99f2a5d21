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
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/kelsonlabs/runnerd/config"
	"github.com/kelsonlabs/runnerd/runner"
)

// BuildRunner turns a config.RunnerEntry describing an out-of-process
// plugin into a runner.Runner: a single-service Adapter for a fixed
// X-DBusRunner-Service, or a WildcardAdapter fanning out across every
// service currently registered under a "prefix*" pattern. Registration
// of the backing service(s) with registry happens separately, whenever
// the plugin process actually announces itself.
func BuildRunner(entry config.RunnerEntry, registry *Registry, logger *zap.Logger) (runner.Runner, error) {
	if !entry.IsIPC() {
		return nil, fmt.Errorf("ipc: entry %q is not an IPC runner (X-API=%q)", entry.ID, entry.XAPI)
	}

	meta := metadataFromEntry(entry)

	if entry.IsWildcard() {
		return NewWildcardAdapter(entry.ID, entry.ServicePrefix(), meta, registry, logger), nil
	}

	// A single-service Adapter uses one id both as its registry lookup key
	// and as the runner id reported to the façade (Adapter has no separate
	// notion of "transport name" vs "logical id" the way WildcardAdapter's
	// prefix does), so the plugin is expected to register itself in the
	// IPC registry under entry.ID, not X-DBusRunner-Service verbatim.
	a := NewAdapter(entry.ID, registry, logger)
	a.mu.Lock()
	a.meta = meta
	a.mu.Unlock()
	return a, nil
}

func metadataFromEntry(entry config.RunnerEntry) runner.Metadata {
	meta := runner.Metadata{
		ID:                 entry.ID,
		Name:               entry.Name,
		Description:        entry.Description,
		Icon:               entry.Icon,
		UniqueResults:      entry.XRunnerUniqueResults,
		WeakResults:        entry.XRunnerWeakResults,
		MinLetterCount:     entry.XRunnerMinLetterCount,
		RequestActionsOnce: entry.XRequestActionsOnce,
	}
	if entry.XRunnerMatchRegex != "" {
		if re, err := regexp.Compile(entry.XRunnerMatchRegex); err == nil {
			meta.MatchRegex = re
		}
	}
	if len(entry.XRunnerSyntaxes) > 0 {
		meta.DefaultExampleQuery = entry.XRunnerSyntaxes[0]
	}
	return meta
}
