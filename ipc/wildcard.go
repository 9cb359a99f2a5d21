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
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kelsonlabs/runnerd/runner"
)

// WildcardAdapter fans a single logical runner id out across every
// currently registered service whose id carries the runner's configured
// prefix (an X-DBusRunner-Service entry ending in "*"). Every match
// is tagged (via QueryMatch.Data) with the service id that produced it so
// Run can route the activation back to the right backend process; the
// fan-in set itself is whatever Registry.MatchingServices(prefix) reports
// at the moment a query runs, so services that register or deregister
// between queries are picked up without restarting anything.
type WildcardAdapter struct {
	id       string // the runner id reported to the façade (the pattern's logical name)
	prefix   string // X-DBusRunner-Service with the trailing "*" stripped
	registry *Registry
	logger   *zap.Logger
	meta     runner.Metadata

	mu      sync.Mutex
	clients map[string]*client // service id -> client
}

// NewWildcardAdapter constructs a fan-in adapter for every service under
// prefix. meta is fixed at construction: unlike a single-service Adapter,
// there is no one backend whose Config() RPC could define this runner's
// gating metadata, so it comes from the runner's own metadata entry the
// same way an in-process runner's does.
func NewWildcardAdapter(id, prefix string, meta runner.Metadata, registry *Registry, logger *zap.Logger) *WildcardAdapter {
	w := &WildcardAdapter{
		id:       id,
		prefix:   prefix,
		registry: registry,
		logger:   logger,
		meta:     meta,
		clients:  make(map[string]*client),
	}
	registry.Watch(func(serviceID, target string, added bool) {
		if !strings.HasPrefix(serviceID, prefix) {
			return
		}
		w.mu.Lock()
		if !added {
			if c, ok := w.clients[serviceID]; ok {
				c.Close()
				delete(w.clients, serviceID)
			}
		}
		w.mu.Unlock()
	})
	return w
}

func (w *WildcardAdapter) Metadata() runner.Metadata { return w.meta }

func (w *WildcardAdapter) ReloadConfiguration() {}

// MatchingSuspended implements runner.Suspendable: a wildcard runner with
// no currently registered backends contributes nothing, but it is never
// unloaded outright since a backend may reappear on the next query.
func (w *WildcardAdapter) MatchingSuspended() bool {
	return len(w.registry.MatchingServices(w.prefix)) == 0
}

func (w *WildcardAdapter) connect(serviceID string) (*client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.clients[serviceID]; ok {
		return c, nil
	}
	target, ok := w.registry.Lookup(serviceID)
	if !ok {
		return nil, errNoTarget(serviceID)
	}
	c, err := dial(target)
	if err != nil {
		return nil, err
	}
	w.clients[serviceID] = c
	return c, nil
}

type fanOutResult struct {
	serviceID string
	resp      *MatchResponse
	err       error
}

// Match fans Match(query) out to every service currently under prefix in
// parallel and waits for all replies (bounded by ctx/defaultCallTimeout);
// a service that errors or times out simply contributes nothing to this
// query rather than failing the whole fan-out.
func (w *WildcardAdapter) Match(ctx context.Context, rc *runner.RunnerContext) {
	services := w.registry.MatchingServices(w.prefix)
	if len(services) == 0 {
		return
	}

	results := make(chan fanOutResult, len(services))
	var wg sync.WaitGroup
	for _, serviceID := range services {
		wg.Add(1)
		go func(serviceID string) {
			defer wg.Done()
			c, err := w.connect(serviceID)
			if err != nil {
				results <- fanOutResult{serviceID: serviceID, err: err}
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
			defer cancel()
			resp, err := c.Match(callCtx, &MatchRequest{
				Query:            rc.Query(),
				SingleRunnerMode: rc.SingleRunnerMode(),
			})
			results <- fanOutResult{serviceID: serviceID, resp: resp, err: err}
		}(serviceID)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			if w.logger != nil {
				w.logger.Debug("ipc: wildcard fan-out match failed", zap.String("service", res.serviceID), zap.Error(res.err))
			}
			continue
		}
		rc.AddMatches(w, w.toQueryMatches(res.serviceID, res.resp.Matches))
	}
}

func (w *WildcardAdapter) toQueryMatches(serviceID string, remote []RemoteMatch) []*runner.QueryMatch {
	out := make([]*runner.QueryMatch, 0, len(remote))
	for _, rm := range remote {
		var qm *runner.QueryMatch
		if w.meta.UniqueResults {
			qm = runner.NewUniqueQueryMatch(w.id, rm.ID, rm.Text)
		} else {
			qm = runner.NewQueryMatch(w.id, rm.ID, rm.Text)
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
		// Data tags the originating service so Run can route the
		// activation back to the right backend.
		qm.Data = serviceID
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
		out = append(out, qm)
	}
	return out
}

func (w *WildcardAdapter) localID(m *runner.QueryMatch) string {
	prefix := w.id + "_"
	if strings.HasPrefix(m.ID, prefix) {
		return strings.TrimPrefix(m.ID, prefix)
	}
	return m.ID
}

// Run routes the activation back to the service tagged on m.Data, which
// Match set when it appended the match.
func (w *WildcardAdapter) Run(rc *runner.RunnerContext, m *runner.QueryMatch, action *runner.Action) bool {
	serviceID, ok := m.Data.(string)
	if !ok || serviceID == "" {
		if w.logger != nil {
			w.logger.Warn("ipc: wildcard run with no originating service tag", zap.String("match", m.ID))
		}
		return false
	}

	c, err := w.connect(serviceID)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("ipc: wildcard run failed, service unreachable", zap.String("service", serviceID), zap.Error(err))
		}
		return false
	}

	req := &RunRequest{MatchID: w.localID(m)}
	if action != nil {
		req.ActionID = action.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
	defer cancel()
	resp, err := c.Run(ctx, req)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("ipc: wildcard run call failed", zap.String("service", serviceID), zap.Error(err))
		}
		return false
	}
	return resp.ShouldClose
}

// Prepare signals every currently registered backend under prefix. A
// service that appears later (after this session already started) is
// treated as a fresh lifecycle and gets its own Prepare the next time
// SetupMatchSession runs.
func (w *WildcardAdapter) Prepare() {
	for _, serviceID := range w.registry.MatchingServices(w.prefix) {
		c, err := w.connect(serviceID)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		if err := c.Prepare(ctx); err != nil && w.logger != nil {
			w.logger.Debug("ipc: wildcard prepare failed", zap.String("service", serviceID), zap.Error(err))
		}
		cancel()
	}
}

func (w *WildcardAdapter) Teardown() {
	for _, serviceID := range w.registry.MatchingServices(w.prefix) {
		c, err := w.connect(serviceID)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		if err := c.Teardown(ctx); err != nil && w.logger != nil {
			w.logger.Debug("ipc: wildcard teardown failed", zap.String("service", serviceID), zap.Error(err))
		}
		cancel()
	}
}

var _ runner.Runner = (*WildcardAdapter)(nil)
var _ runner.Suspendable = (*WildcardAdapter)(nil)
