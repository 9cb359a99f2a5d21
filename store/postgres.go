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

// Package store is the persisted backing for runner.KVGroup: a single
// Postgres table shared by history, launch counts, and plugin-private
// state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"

	"github.com/kelsonlabs/runnerd/config"
)

// Connect opens the Postgres connection pool described by cfg and pings
// it. It does not migrate; callers should run Migrate before serving
// traffic.
func Connect(logger *zap.Logger, cfg config.Config) (*sql.DB, error) {
	dc := cfg.GetDatabase()
	db, err := sql.Open("pgx", dc.Address)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(dc.MaxOpenConns)
	db.SetMaxIdleConns(dc.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(dc.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("store: could not ping database", zap.Error(err))
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

// PostgresStore implements runner.KVGroup against the kv_groups table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(group, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_groups WHERE group_name = $1 AND key_name = $2`,
		group, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s/%s: %w", group, key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(group, key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_groups (group_name, key_name, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (group_name, key_name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		group, key, value,
	)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", group, key, err)
	}
	return nil
}
