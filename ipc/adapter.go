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
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kelsonlabs/runnerd/runner"
)

const defaultCallTimeout = 2 * time.Second

// Adapter makes a single out-of-process runner plugin satisfy
// runner.Runner: Match fans a query out over the wire, Run sends the
// activation back to whichever process produced the match, and the match
// ids this adapter hands out are namespaced so RunnerContext's dedup
// logic can't confuse two different plugins' ids.
type Adapter struct {
	id       string
	registry *Registry
	logger   *zap.Logger

	mu             sync.RWMutex
	target         string
	client         *client
	meta           runner.Metadata
	suspended      bool
	cachedActions  []*runner.Action
	actionsFetched bool
}

// NewAdapter constructs an adapter for the plugin registered under id in
// registry. It dials lazily on first use so a plugin that hasn't started
// yet doesn't block startup.
func NewAdapter(id string, registry *Registry, logger *zap.Logger) *Adapter {
	a := &Adapter{id: id, registry: registry, logger: logger}
	registry.Watch(func(wid, target string, added bool) {
		if wid != id {
			return
		}
		a.mu.Lock()
		if added {
			a.target = target
			a.client = nil // reconnect lazily
			a.suspended = false
		} else if a.target == target {
			a.suspended = true
		}
		a.mu.Unlock()
	})
	return a
}

func (a *Adapter) connect() (*client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	if a.target == "" {
		if t, ok := a.registry.Lookup(a.id); ok {
			a.target = t
		}
	}
	if a.target == "" {
		return nil, errNoTarget(a.id)
	}
	c, err := dial(a.target)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// shouldRefreshActions decides whether refreshActions needs to hit the
// wire again: a runner that only wants to be asked once keeps whatever it
// returned the first time, every other runner refreshes on each new
// query session's Prepare call.
func (a *Adapter) shouldRefreshActions(meta runner.Metadata) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !(meta.RequestActionsOnce && a.actionsFetched)
}

type errNoTarget string

func (e errNoTarget) Error() string { return "ipc: no registered service for runner " + string(e) }

// MatchingSuspended implements runner.Suspendable: a plugin whose process
// disappeared is suspended rather than unloaded, so a restart under the
// same id resumes matching without the façade re-registering it.
func (a *Adapter) MatchingSuspended() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.suspended
}

func (a *Adapter) ReloadConfiguration() {
	c, err := a.connect()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	rm, err := c.Config(ctx)
	if err != nil {
		a.logger.Warn("ipc: failed to reload runner configuration", zap.String("runner", a.id), zap.Error(err))
		return
	}
	a.mu.Lock()
	a.meta = toMetadata(a.id, rm)
	a.mu.Unlock()
}

func (a *Adapter) Metadata() runner.Metadata {
	a.mu.RLock()
	meta := a.meta
	a.mu.RUnlock()
	if meta.ID == "" {
		a.ReloadConfiguration()
		a.mu.RLock()
		meta = a.meta
		a.mu.RUnlock()
	}
	return meta
}

func toMetadata(id string, rm *RemoteMetadata) runner.Metadata {
	meta := runner.Metadata{
		ID:                  id,
		Name:                rm.Name,
		Description:         rm.Description,
		Icon:                rm.Icon,
		UniqueResults:       rm.UniqueResults,
		WeakResults:         rm.WeakResults,
		MinLetterCount:      rm.MinLetterCount,
		RequestActionsOnce:  rm.RequestActionsOnce,
		PriorityHint:        rm.PriorityHint,
		TriggerWords:        rm.TriggerWords,
		DefaultExampleQuery: rm.DefaultExampleQuery,
	}
	if rm.SpeedHint == "slow" {
		meta.SpeedHint = runner.SpeedSlow
	}
	if rm.MatchRegex != "" {
		if re, err := regexp.Compile(rm.MatchRegex); err == nil {
			meta.MatchRegex = re
		}
	}
	return meta
}

// Match fans the query out to the remote plugin and feeds whatever comes
// back into rc, namespacing ids per the runner's unique_results setting
// the same way an in-process runner.QueryMatch constructor would.
func (a *Adapter) Match(ctx context.Context, rc *runner.RunnerContext) {
	c, err := a.connect()
	if err != nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	resp, err := c.Match(callCtx, &MatchRequest{
		Query:            rc.Query(),
		SingleRunnerMode: rc.SingleRunnerMode(),
	})
	if err != nil {
		a.logger.Debug("ipc: runner match failed", zap.String("runner", a.id), zap.Error(err))
		return
	}

	meta := a.Metadata()
	matches := make([]*runner.QueryMatch, 0, len(resp.Matches))
	for _, rm := range resp.Matches {
		var qm *runner.QueryMatch
		if meta.UniqueResults {
			qm = runner.NewUniqueQueryMatch(a.id, rm.ID, rm.Text)
		} else {
			qm = runner.NewQueryMatch(a.id, rm.ID, rm.Text)
		}
		qm.Subtext = rm.Subtext
		qm.CategoryLabel = rm.CategoryLabel
		qm.CategoryRelevance = rm.CategoryRelevance
		qm.Relevance = rm.Relevance
		qm.Clamp()
		qm.URLs = rm.URLs
		qm.Enabled = rm.Enabled
		qm.Multiline = rm.Multiline
		qm.MimeHint = rm.MimeHint
		if rm.IconSource != "" {
			qm.IconSource = runner.NamedIcon(rm.IconSource)
		} else if rm.InlineIcon != nil {
			qm.IconSource = runner.InlineIcon(&runner.RemoteImage{
				Width:         rm.InlineIcon.Width,
				Height:        rm.InlineIcon.Height,
				RowStride:     rm.InlineIcon.RowStride,
				HasAlpha:      rm.InlineIcon.HasAlpha,
				BitsPerSample: rm.InlineIcon.BitsPerSample,
				Channels:      rm.InlineIcon.Channels,
				Data:          rm.InlineIcon.Data,
			})
		}
		for _, ra := range rm.Actions {
			qm.Actions = append(qm.Actions, runner.NewAction(ra.ID, ra.Text, ra.IconSource))
		}
		a.mu.RLock()
		qm.Actions = append(qm.Actions, a.cachedActions...)
		a.mu.RUnlock()
		matches = append(matches, qm)
	}

	rc.AddMatches(a, matches)
}

// localID strips this adapter's namespace prefix off a QueryMatch id so
// the remote process sees the bare id it originally reported, mirroring
// dbusrunner.cpp's `match.id().mid(id().length() + 1)` unmangling.
func (a *Adapter) localID(m *runner.QueryMatch) string {
	prefix := a.id + "_"
	if strings.HasPrefix(m.ID, prefix) {
		return strings.TrimPrefix(m.ID, prefix)
	}
	return m.ID
}

func (a *Adapter) Run(rc *runner.RunnerContext, m *runner.QueryMatch, action *runner.Action) bool {
	c, err := a.connect()
	if err != nil {
		a.logger.Warn("ipc: run failed, runner unreachable", zap.String("runner", a.id), zap.Error(err))
		return false
	}

	req := &RunRequest{MatchID: a.localID(m)}
	if action != nil {
		req.ActionID = action.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	resp, err := c.Run(ctx, req)
	if err != nil {
		a.logger.Warn("ipc: run call failed", zap.String("runner", a.id), zap.Error(err))
		return false
	}
	return resp.ShouldClose
}

func (a *Adapter) Prepare() {
	c, err := a.connect()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	if err := c.Prepare(ctx); err != nil {
		a.logger.Debug("ipc: prepare failed", zap.String("runner", a.id), zap.Error(err))
	}
	a.refreshActions()
}

// refreshActions fetches the plugin's session-wide action list, mirroring
// DBusRunner::requestActions firing off the prepare signal. A runner whose
// metadata sets RequestActionsOnce only pays for this call the first time
// it's prepared; everyone else re-fetches on every new query session.
func (a *Adapter) refreshActions() {
	meta := a.Metadata()
	if !a.shouldRefreshActions(meta) {
		return
	}

	c, err := a.connect()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	resp, err := c.Actions(ctx, &ActionsRequest{})
	if err != nil {
		a.logger.Debug("ipc: fetching actions failed", zap.String("runner", a.id), zap.Error(err))
		return
	}

	actions := make([]*runner.Action, 0, len(resp.Actions))
	for _, ra := range resp.Actions {
		actions = append(actions, runner.NewAction(ra.ID, ra.Text, ra.IconSource))
	}
	a.mu.Lock()
	a.cachedActions = actions
	a.actionsFetched = true
	a.mu.Unlock()
}

func (a *Adapter) Teardown() {
	c, err := a.connect()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	if err := c.Teardown(ctx); err != nil {
		a.logger.Debug("ipc: teardown failed", zap.String("runner", a.id), zap.Error(err))
	}
}
