// Copyright 2017 The Nakama Authors
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

// Package config holds runnerd's daemon configuration: the YAML file
// format, its flag.FlagSet overrides, and sane defaults, following the
// teacher's config.go layering (file first, flags win).
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is runnerd's top level configuration.
type Config interface {
	GetName() string
	GetLogger() *LoggerConfig
	GetDatabase() *DatabaseConfig
	GetHTTP() *HTTPConfig
	GetScheduler() *SchedulerConfig
	GetHistory() *HistoryConfig
	GetRunners() *RunnersConfig
}

type LoggerConfig struct {
	Level      string `yaml:"level" usage:"Minimum log level to output: DEBUG, INFO, WARN, or ERROR."`
	Format     string `yaml:"format" usage:"Log line encoding: 'json' or 'stackdriver'."`
	Stdout     bool   `yaml:"stdout" usage:"Also echo file-bound logs to stdout."`
	File       string `yaml:"file" usage:"Path to the log file. Empty disables file logging."`
	Rotation   bool   `yaml:"rotation" usage:"Enable size/age based log rotation via lumberjack."`
	MaxSize    int    `yaml:"max_size" usage:"Maximum size in megabytes before a log file is rotated."`
	MaxAge     int    `yaml:"max_age" usage:"Maximum number of days to retain old log files."`
	MaxBackups int    `yaml:"max_backups" usage:"Maximum number of old log files to retain."`
	LocalTime  bool   `yaml:"local_time" usage:"Use local time for rotated file timestamps."`
	Compress   bool   `yaml:"compress" usage:"gzip rotated log files."`
}

func NewLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:      "info",
		Format:     "json",
		Stdout:     true,
		MaxSize:    100,
		MaxAge:     28,
		MaxBackups: 3,
	}
}

type DatabaseConfig struct {
	Address         string `yaml:"address" usage:"Postgres connection string backing the persisted key-value groups (history, launch counts, plugin state)."`
	MaxOpenConns    int    `yaml:"max_open_conns" usage:"Maximum open Postgres connections."`
	MaxIdleConns    int    `yaml:"max_idle_conns" usage:"Maximum idle Postgres connections."`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_sec" usage:"Maximum connection lifetime in seconds."`
}

func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Address:         "postgres://root@localhost:5432/runnerd?sslmode=disable",
		MaxOpenConns:    20,
		MaxIdleConns:    20,
		ConnMaxLifetime: 3600,
	}
}

type HTTPConfig struct {
	Port int `yaml:"port" usage:"Port the query/run/websocket front door listens on."`
}

func NewHTTPConfig() *HTTPConfig {
	return &HTTPConfig{Port: 7370}
}

type SchedulerConfig struct {
	ResultLimit int `yaml:"result_limit" usage:"Maximum number of matches returned per query; 0 means unlimited."`
}

func NewSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{ResultLimit: 20}
}

type HistoryConfig struct {
	Enabled                 bool `yaml:"enabled" usage:"Record launched queries in history; launch counts are kept either way."`
	ChangeCountBeforeSaving int  `yaml:"change_count_before_saving" usage:"Number of dirty writes batched before history is persisted."`
}

func NewHistoryConfig() *HistoryConfig {
	return &HistoryConfig{Enabled: true, ChangeCountBeforeSaving: 5}
}

// RunnersConfig locates the metadata describing out-of-process runner
// plugins this daemon should load at startup, one "*.runner" file per
// plugin.
type RunnersConfig struct {
	MetadataDir string `yaml:"metadata_dir" usage:"Directory of *.runner metadata files for out-of-process runner plugins."`
}

func NewRunnersConfig() *RunnersConfig {
	return &RunnersConfig{MetadataDir: ""}
}

type config struct {
	Name      string           `yaml:"name" usage:"This node's name, used in logs only."`
	Config    string           `yaml:"config" usage:"Path to a YAML config file to load before flag overrides are applied."`
	Logger    *LoggerConfig    `yaml:"logger" usage:"Logging settings."`
	Database  *DatabaseConfig  `yaml:"database" usage:"Persisted key-value group settings."`
	HTTP      *HTTPConfig      `yaml:"http" usage:"Front door HTTP/websocket settings."`
	Scheduler *SchedulerConfig `yaml:"scheduler" usage:"Query scheduler settings."`
	History   *HistoryConfig   `yaml:"history" usage:"History and launch-count settings."`
	Runners   *RunnersConfig   `yaml:"runners" usage:"Out-of-process runner plugin discovery settings."`
}

// NewConfig returns a config populated with runnerd's defaults.
func NewConfig() *config {
	id, _ := uuid.NewV4()
	return &config{
		Name:      "runnerd-" + strings.Split(id.String(), "-")[0],
		Logger:    NewLoggerConfig(),
		Database:  NewDatabaseConfig(),
		HTTP:      NewHTTPConfig(),
		Scheduler: NewSchedulerConfig(),
		History:   NewHistoryConfig(),
		Runners:   NewRunnersConfig(),
	}
}

func (c *config) GetName() string              { return c.Name }
func (c *config) GetLogger() *LoggerConfig     { return c.Logger }
func (c *config) GetDatabase() *DatabaseConfig { return c.Database }
func (c *config) GetHTTP() *HTTPConfig         { return c.HTTP }
func (c *config) GetScheduler() *SchedulerConfig { return c.Scheduler }
func (c *config) GetHistory() *HistoryConfig   { return c.History }
func (c *config) GetRunners() *RunnersConfig   { return c.Runners }

// ParseArgs loads defaults, layers a --config YAML file if named in args,
// then applies flag.FlagSet overrides, so a file value can still be
// overridden at the command line.
func ParseArgs(logger *zap.Logger, args []string) Config {
	cfg := NewConfig()

	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			data, err := os.ReadFile(args[i+1])
			if err != nil {
				logger.Error("could not read config file, using defaults", zap.Error(err))
				break
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				logger.Error("could not parse config file, using defaults", zap.Error(err))
				break
			}
			cfg.Config = args[i+1]
			break
		}
	}

	fs := flag.NewFlagSet("runnerd", flag.ContinueOnError)
	fs.StringVar(&cfg.Config, "config", cfg.Config, "Path to a YAML config file to load before flag overrides are applied.")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "This node's name, used in logs only.")
	fs.StringVar(&cfg.Logger.Level, "logger.level", cfg.Logger.Level, "Minimum log level to output.")
	fs.StringVar(&cfg.Logger.Format, "logger.format", cfg.Logger.Format, "Log line encoding.")
	fs.StringVar(&cfg.Logger.File, "logger.file", cfg.Logger.File, "Path to the log file.")
	fs.BoolVar(&cfg.Logger.Rotation, "logger.rotation", cfg.Logger.Rotation, "Enable log rotation.")
	fs.StringVar(&cfg.Database.Address, "database.address", cfg.Database.Address, "Postgres connection string.")
	fs.IntVar(&cfg.HTTP.Port, "http.port", cfg.HTTP.Port, "Front door HTTP port.")
	fs.IntVar(&cfg.Scheduler.ResultLimit, "scheduler.result_limit", cfg.Scheduler.ResultLimit, "Maximum matches returned per query.")
	fs.BoolVar(&cfg.History.Enabled, "history.enabled", cfg.History.Enabled, "Record launched queries in history.")
	fs.StringVar(&cfg.Runners.MetadataDir, "runners.metadata_dir", cfg.Runners.MetadataDir, "Directory of *.runner metadata files.")

	if len(args) > 1 {
		if err := fs.Parse(args[1:]); err != nil && err != flag.ErrHelp {
			logger.Error("could not parse command line arguments, ignoring overrides", zap.Error(err))
		}
	}

	return cfg
}

// Validate reports configuration combinations ParseArgs can't catch at
// the flag level, e.g. rotation requested without a file destination.
func Validate(c Config) error {
	if c.GetLogger().Rotation && c.GetLogger().File == "" {
		return fmt.Errorf("config: logger.rotation is enabled but logger.file is empty")
	}
	if c.GetHTTP().Port <= 0 {
		return fmt.Errorf("config: http.port must be positive")
	}
	return nil
}
