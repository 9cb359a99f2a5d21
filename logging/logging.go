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

// Package logging sets up runnerd's zap loggers from config.Config:
// JSON/stackdriver encoding, console/file output, and optional rotation.
package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kelsonlabs/runnerd/config"
)

type Format int8

const (
	JSONFormat Format = iota - 1
	StackdriverFormat
)

// Setup builds the console logger and, if configured, a file logger tee'd
// alongside it. It returns (logger-used-for-most-messages, startup-logger
// used while the final destination is still being decided).
func Setup(bootstrap *zap.Logger, cfg config.Config) (*zap.Logger, *zap.Logger) {
	lc := cfg.GetLogger()

	level := zapcore.InfoLevel
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		bootstrap.Fatal("logger level invalid, must be one of: DEBUG, INFO, WARN, or ERROR")
	}

	format := JSONFormat
	switch strings.ToLower(lc.Format) {
	case "", "json":
		format = JSONFormat
	case "stackdriver":
		format = StackdriverFormat
	default:
		bootstrap.Fatal("logger format invalid, must be one of: '', 'json', or 'stackdriver'")
	}

	consoleLogger := NewJSONLogger(os.Stdout, level, format)

	var fileLogger *zap.Logger
	if lc.Rotation {
		fileLogger = newRotatingFileLogger(consoleLogger, cfg, level, format)
	} else if lc.File != "" {
		fileLogger = newPlainFileLogger(consoleLogger, lc.File, level, format)
	}

	if fileLogger == nil {
		RedirectStdLog(consoleLogger)
		return consoleLogger, consoleLogger
	}

	multi := NewMultiLogger(consoleLogger, fileLogger)
	if lc.Stdout {
		RedirectStdLog(multi)
		return multi, multi
	}
	RedirectStdLog(fileLogger)
	return fileLogger, multi
}

func newPlainFileLogger(bootstrap *zap.Logger, fileName string, level zapcore.Level, format Format) *zap.Logger {
	output, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		bootstrap.Error("could not create log file", zap.Error(err))
		return nil
	}
	return NewJSONLogger(output, level, format)
}

func newRotatingFileLogger(bootstrap *zap.Logger, cfg config.Config, level zapcore.Level, format Format) *zap.Logger {
	lc := cfg.GetLogger()
	if lc.File == "" {
		bootstrap.Error("log rotation enabled but logger.file is empty")
		return nil
	}

	logDir := filepath.Dir(lc.File)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			bootstrap.Error("could not create log directory", zap.Error(err))
			return nil
		}
	}

	writeSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSize,
		MaxAge:     lc.MaxAge,
		MaxBackups: lc.MaxBackups,
		LocalTime:  lc.LocalTime,
		Compress:   lc.Compress,
	})
	core := zapcore.NewCore(newEncoder(format), writeSyncer, level)
	return zap.New(core, zap.AddCaller())
}

func NewJSONLogger(output *os.File, level zapcore.Level, format Format) *zap.Logger {
	core := zapcore.NewCore(newEncoder(format), zapcore.Lock(output), level)
	return zap.New(core, zap.AddCaller())
}

func NewMultiLogger(loggers ...*zap.Logger) *zap.Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, l := range loggers {
		cores = append(cores, l.Core())
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func newEncoder(format Format) zapcore.Encoder {
	if format == StackdriverFormat {
		return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "severity",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			EncodeLevel:    stackdriverLevelEncoder,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	}
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

func stackdriverLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	default:
		enc.AppendString("CRITICAL")
	}
}

type redirectWriter struct{ logger *zap.Logger }

func (r *redirectWriter) Write(p []byte) (int, error) {
	s := string(bytes.TrimSpace(p))
	if strings.HasPrefix(s, "http: panic serving") {
		r.logger.Error(s)
	} else {
		r.logger.Info(s)
	}
	return len(p), nil
}

// RedirectStdLog sends anything written through the standard library's
// log package (grpc's default logger included) through logger instead.
func RedirectStdLog(logger *zap.Logger) {
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(&redirectWriter{logger.WithOptions(zap.AddCallerSkip(3))})
}
