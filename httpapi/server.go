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

// Package httpapi is a thin HTTP front door standing in for a native
// desktop UI: a JSON POST/GET surface for issuing queries and activating
// matches, plus a websocket stream of matches_changed/query_finished
// events, wired with gorilla/mux and gorilla/handlers.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kelsonlabs/runnerd/ipc"
	"github.com/kelsonlabs/runnerd/runner"
)

// Server exposes RunnerManager over HTTP.
type Server struct {
	logger   *zap.Logger
	manager  *runner.RunnerManager
	registry *ipc.Registry
	upgrader websocket.Upgrader
	router   *mux.Router
}

// New builds the front door. registry may be nil if this host never loads
// out-of-process plugins, in which case the IPC registration endpoint
// reports unavailable rather than panicking.
func New(logger *zap.Logger, manager *runner.RunnerManager, registry *ipc.Registry) *Server {
	s := &Server{
		logger:   logger,
		manager:  manager,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/v1/query", s.handleQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/run", s.handleRun).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/ipc/services", s.handleRegisterService).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/ipc/services/{id}", s.handleUnregisterService).Methods(http.MethodDelete)
	return s
}

// Handler returns the wrapped http.Handler, with access-logging and
// recovery middleware from gorilla/handlers chained around the router.
func (s *Server) Handler() http.Handler {
	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(zapStdWriter{s.logger}, s.router))
}

type zapStdWriter struct{ logger *zap.Logger }

func (w zapStdWriter) Write(p []byte) (int, error) {
	w.logger.Info(string(p))
	return len(p), nil
}

type queryRequest struct {
	Term           string `json:"term"`
	SingleRunnerID string `json:"single_runner_id,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SingleRunnerID != "" {
		s.manager.SetupMatchSession(req.SingleRunnerID)
	}
	s.manager.LaunchQuery(req.Term, req.SingleRunnerID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

type runRequest struct {
	MatchID  string `json:"match_id"`
	ActionID string `json:"action_id,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	shouldClose, err := s.manager.Run(req.MatchID, req.ActionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"should_close": shouldClose})
}

type wsEvent struct {
	Type    string             `json:"type"`
	Matches []*runner.QueryMatch `json:"matches,omitempty"`
}

// handleEvents streams matches_changed and query_finished over a
// websocket until the client disconnects, with a periodic ping to detect
// dead connections the way session_ws.go's pingPeriod ticker does.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("httpapi: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case matches, ok := <-s.manager.MatchesChanged():
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsEvent{Type: "matches_changed", Matches: matches}); err != nil {
				return
			}
		case _, ok := <-s.manager.QueryFinished():
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsEvent{Type: "query_finished"}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type registerServiceRequest struct {
	ID     string `json:"id"`
	Target string `json:"target"`
}

// handleRegisterService lets an out-of-process runner plugin announce
// itself (or a restart under the same id) once it's up and listening.
// The concrete session IPC transport a plugin uses to reach this host is
// out of scope here; this daemon still has to offer *some* door for a
// plugin process to knock on.
func (s *Server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "ipc registry not configured on this host", http.StatusServiceUnavailable)
		return
	}
	var req registerServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Target == "" {
		http.Error(w, "id and target are required", http.StatusBadRequest)
		return
	}
	s.registry.Register(req.ID, req.Target)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "registered"})
}

func (s *Server) handleUnregisterService(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "ipc registry not configured on this host", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	s.registry.Unregister(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
