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

package store

import (
	"database/sql"
	"embed"

	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

const migrationTable = "runnerd_migration_info"

// Migrate applies every pending migration under sql/ to db, following the
// teacher's migrate/migrate.go startup check.
func Migrate(logger *zap.Logger, db *sql.DB) error {
	migrate.SetTable(migrationTable)
	migrate.SetIgnoreUnknown(true)

	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "sql",
	}

	applied, err := migrate.Exec(db, "postgres", source, migrate.Up)
	if err != nil {
		return err
	}
	if applied > 0 {
		logger.Info("store: applied migrations", zap.Int("count", applied))
	}
	return nil
}
