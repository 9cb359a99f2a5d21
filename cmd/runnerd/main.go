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

// Command runnerd hosts the query dispatcher as a standalone daemon:
// config + logging setup, an optional Postgres-backed history store, the
// runner façade, and the HTTP/websocket front door.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/kelsonlabs/runnerd/config"
	"github.com/kelsonlabs/runnerd/httpapi"
	"github.com/kelsonlabs/runnerd/ipc"
	"github.com/kelsonlabs/runnerd/logging"
	"github.com/kelsonlabs/runnerd/runner"
	"github.com/kelsonlabs/runnerd/store"
)

func main() {
	bootstrap := zap.NewExample()
	cfg := config.ParseArgs(bootstrap, os.Args)
	if err := config.Validate(cfg); err != nil {
		bootstrap.Fatal("invalid configuration", zap.Error(err))
	}

	logger, _ := logging.Setup(bootstrap, cfg)
	defer logger.Sync()

	logger.Info("runnerd starting", zap.String("name", cfg.GetName()))

	var kv runner.KVGroup
	if cfg.GetDatabase().Address != "" {
		db, err := store.Connect(logger, cfg)
		if err != nil {
			logger.Warn("could not connect to database, falling back to in-memory history", zap.Error(err))
			kv = runner.NewInMemoryStore()
		} else {
			if err := store.Migrate(logger, db); err != nil {
				logger.Fatal("database migration failed", zap.Error(err))
			}
			kv = store.NewPostgresStore(db)
		}
	} else {
		kv = runner.NewInMemoryStore()
	}

	scope, closer := tally.NewRootScope(tally.ScopeOptions{Prefix: "runnerd"}, time.Second)
	defer closer.Close()

	manager := runner.NewRunnerManager(logger, scope, kv, cfg.GetScheduler().ResultLimit)
	manager.SetHistoryEnabled(cfg.GetHistory().Enabled)

	registry := ipc.NewRegistry()
	loadIPCRunners(logger, cfg.GetRunners().MetadataDir, registry, manager)

	srv := httpapi.New(logger, manager, registry)
	httpServer := &http.Server{
		Addr:         portAddr(cfg.GetHTTP().Port),
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http front door listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("runnerd shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	manager.Shutdown()
}

func portAddr(port int) string {
	if port <= 0 {
		port = 7370
	}
	return fmt.Sprintf(":%d", port)
}

// loadIPCRunners reads every *.runner metadata file under dir and
// registers the resulting out-of-process adapter with manager. A missing
// or empty directory just means this host has no plugins installed yet;
// nothing here is fatal to the query path.
func loadIPCRunners(logger *zap.Logger, dir string, registry *ipc.Registry, manager *runner.RunnerManager) {
	if dir == "" {
		return
	}
	entries, err := config.LoadRunnerEntries(dir)
	if err != nil {
		logger.Warn("could not load runner metadata, continuing without it", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, entry := range entries {
		r, err := ipc.BuildRunner(entry, registry, logger)
		if err != nil {
			logger.Warn("skipping invalid runner entry", zap.String("id", entry.ID), zap.Error(err))
			continue
		}
		manager.LoadRunner(r)
		logger.Info("loaded runner", zap.String("id", entry.ID), zap.Bool("wildcard", entry.IsWildcard()))
	}
}
