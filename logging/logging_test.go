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

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kelsonlabs/runnerd/config"
)

func TestStackdriverLevelEncoderMapsToUppercaseNames(t *testing.T) {
	cases := map[zapcore.Level]string{
		zapcore.DebugLevel: "DEBUG",
		zapcore.InfoLevel:  "INFO",
		zapcore.WarnLevel:  "WARNING",
		zapcore.ErrorLevel: "ERROR",
		zapcore.FatalLevel: "CRITICAL",
	}
	for level, want := range cases {
		enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{})
		_ = enc // EncodeLevel is exercised through the function directly below
		var got string
		stackdriverLevelEncoder(level, sliceEncoder{set: &got})
		assert.Equal(t, want, got)
	}
}

// sliceEncoder is the smallest possible zapcore.PrimitiveArrayEncoder that
// captures a single AppendString call, enough to observe the level encoder's
// output without constructing a full zap entry.
type sliceEncoder struct {
	zapcore.PrimitiveArrayEncoder
	set *string
}

func (s sliceEncoder) AppendString(v string) { *s.set = v }

func TestNewJSONLoggerWritesToGivenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	defer f.Close()

	logger := NewJSONLogger(f, zapcore.InfoLevel, JSONFormat)
	logger.Info("hello there")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello there")
	assert.Contains(t, string(data), `"msg"`)
}

func TestSetupWritesToConfiguredFileAndEchoesStdout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runnerd.log")

	cfg := config.NewConfig()
	cfg.Logger.File = path
	cfg.Logger.Stdout = true

	logger, _ := Setup(zap.NewNop(), cfg)
	logger.Info("setup wrote this")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "setup wrote this")
}
