/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gotest.tools/v3/assert"
)

func TestIsNopLogger(t *testing.T) {
	testLogger, err := zap.NewDevelopment()
	assert.NilError(t, err, "dev logger init failed")
	assert.Equal(t, false, isNopLogger(testLogger))

	assert.Equal(t, true, isNopLogger(zap.NewNop()))

	testLogger, err = zap.NewProduction()
	assert.NilError(t, err, "prod logger init failed")
	assert.Equal(t, false, isNopLogger(testLogger))
}

func TestUpdateLoggingConfig(t *testing.T) {
	defer UpdateLoggingConfig(map[string]string{})

	UpdateLoggingConfig(map[string]string{
		"log.level":             "info",
		"log.radb.level":        "debug",
		"log.fitter.level":      "error",
		"log.radb.claims.level": "warn",
		"log.rest.level":        "nonsense",
		"unrelated.key":         "debug",
	})
	assert.Equal(t, true, IsDebugEnabled(Database), "radb.database inherits from radb")
	assert.Equal(t, true, IsDebugEnabled(Tasks), "radb.tasks inherits from radb")
	assert.Equal(t, false, IsDebugEnabled(Claims), "radb.claims has its own level")
	assert.Equal(t, false, Log(Claims).Core().Enabled(zapcore.InfoLevel))
	assert.Equal(t, true, Log(Claims).Core().Enabled(zapcore.WarnLevel))
	assert.Equal(t, false, Log(Fitter).Core().Enabled(zapcore.WarnLevel))
	assert.Equal(t, false, IsDebugEnabled(REST), "invalid level must fall back to the default")
	assert.Equal(t, true, Log(REST).Core().Enabled(zapcore.InfoLevel))
	assert.Equal(t, false, IsDebugEnabled(Root))

	// reset to defaults
	UpdateLoggingConfig(map[string]string{})
	assert.Equal(t, false, IsDebugEnabled(Database))
	assert.Equal(t, true, Log(Fitter).Core().Enabled(zapcore.WarnLevel))
}

func TestLogHandleCaching(t *testing.T) {
	first := Log(Tasks)
	assert.Assert(t, first == Log(Tasks), "logger must be cached per handle")
	assert.Assert(t, Log(nil) == Log(Root), "nil handle is the root logger")
	assert.Equal(t, "radb.tasks", Tasks.Name())
}

func TestHandleCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	core := handleCore{LevelEnabler: level, inner: inner}
	logger := zap.New(core).With(zap.String("component", "test"))

	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept too")
	assert.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "kept", entries[0].Message)
	assert.Equal(t, "test", entries[0].ContextMap()["component"])
	assert.Equal(t, false, core.Enabled(zapcore.InfoLevel))
	assert.Equal(t, true, core.Enabled(zapcore.ErrorLevel))

	// the level is shared: lowering it applies to the existing logger
	level.SetLevel(zapcore.InfoLevel)
	logger.Info("kept after update")
	assert.Equal(t, 3, logs.Len())
}

func TestUpdateReachesCachedLoggers(t *testing.T) {
	defer UpdateLoggingConfig(map[string]string{})
	logger := Log(Janitor)
	assert.Equal(t, false, logger.Core().Enabled(zapcore.DebugLevel))
	UpdateLoggingConfig(map[string]string{"log.janitor.level": "debug"})
	assert.Assert(t, logger == Log(Janitor), "update must not replace cached loggers")
	assert.Equal(t, true, logger.Core().Enabled(zapcore.DebugLevel))
}
