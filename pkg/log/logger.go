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
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerHandle identifies a named sub-logger. Levels can be set per handle name, names are
// dot separated and inherit the level of their closest configured parent.
type LoggerHandle struct {
	id   int
	name string
}

// Name of the handle as used in the logging configuration.
func (h *LoggerHandle) Name() string {
	return h.name
}

// Defined loggers: when adding new loggers, ids must be sequential, and all must be added to the
// loggers slice in the same order.
var (
	Root       = &LoggerHandle{id: 0, name: ""}
	Database   = &LoggerHandle{id: 1, name: "radb.database"}
	Claims     = &LoggerHandle{id: 2, name: "radb.claims"}
	Tasks      = &LoggerHandle{id: 3, name: "radb.tasks"}
	Usage      = &LoggerHandle{id: 4, name: "radb.usage"}
	Catalog    = &LoggerHandle{id: 5, name: "radb.catalog"}
	Fitter     = &LoggerHandle{id: 6, name: "fitter"}
	Config     = &LoggerHandle{id: 7, name: "config"}
	REST       = &LoggerHandle{id: 8, name: "rest"}
	Entrypoint = &LoggerHandle{id: 9, name: "entrypoint"}
	Janitor    = &LoggerHandle{id: 10, name: "janitor"}
	Metrics    = &LoggerHandle{id: 11, name: "metrics"}
	Trace      = &LoggerHandle{id: 12, name: "trace"}
	Cmd        = &LoggerHandle{id: 13, name: "cmd"}
)

var loggers = []*LoggerHandle{
	Root, Database, Claims, Tasks, Usage, Catalog, Fitter, Config, REST, Entrypoint, Janitor, Metrics, Trace, Cmd,
}

const defaultLevel = zapcore.InfoLevel

var (
	once       sync.Once
	rootLogger *zap.Logger
	aLevel     *zap.AtomicLevel

	lock         sync.RWMutex
	levelMap     = map[string]zapcore.Level{}
	defLevel     = defaultLevel
	logCache     = make([]*zap.Logger, len(loggers))
	handleLevels = newHandleLevels()
)

func newHandleLevels() []zap.AtomicLevel {
	result := make([]zap.AtomicLevel, len(loggers))
	for i := range result {
		result[i] = zap.NewAtomicLevelAt(defaultLevel)
	}
	return result
}

// Log returns the logger for the given handle, creating it on first use.
func Log(handle *LoggerHandle) *zap.Logger {
	once.Do(initLogger)
	if handle == nil {
		handle = Root
	}
	lock.RLock()
	cached := logCache[handle.id]
	lock.RUnlock()
	if cached != nil {
		return cached
	}

	lock.Lock()
	defer lock.Unlock()
	if logCache[handle.id] != nil {
		return logCache[handle.id]
	}
	core := handleCore{LevelEnabler: handleLevels[handle.id], inner: rootLogger.Core()}
	l := rootLogger.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	if handle.name != "" {
		l = l.Named(handle.name)
	}
	logCache[handle.id] = l
	return l
}

// Logger returns the root logger.
func Logger() *zap.Logger {
	return Log(Root)
}

func initLogger() {
	if rootLogger = zap.L(); isNopLogger(rootLogger) {
		// no global logger was provided by an embedding process: build our own
		zapConfig := createConfig()
		var err error
		rootLogger, err = zapConfig.Build()
		// this should really not happen so just write to stdout and set a Nop logger
		if err != nil {
			fmt.Printf("Logging disabled, logger init failed with error: %v\n", err)
			rootLogger = zap.NewNop()
		}
	}
}

// UpdateLoggingConfig replaces the level configuration. Keys are "log.level" for the default and
// "log.<handle name>.level" for a handle, values are zap level names. Unknown levels are reported
// and skipped. Loggers already returned by Log pick up the new levels.
func UpdateLoggingConfig(config map[string]string) {
	once.Do(initLogger)
	newLevels := make(map[string]zapcore.Level)
	newDefault := defaultLevel
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !strings.HasPrefix(k, "log.") || !strings.HasSuffix(k, ".level") {
			continue
		}
		level, err := zapcore.ParseLevel(config[k])
		if err != nil {
			rootLogger.Warn("invalid log level in configuration, ignored",
				zap.String("key", k),
				zap.String("value", config[k]))
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(k, "log."), "level")
		name = strings.TrimSuffix(name, ".")
		if name == "" {
			newDefault = level
			continue
		}
		newLevels[name] = level
	}

	lock.Lock()
	defer lock.Unlock()
	levelMap = newLevels
	defLevel = newDefault
	if aLevel != nil {
		aLevel.SetLevel(minLevel(newDefault, newLevels))
	}
	for _, h := range loggers {
		handleLevels[h.id].SetLevel(levelFor(h.name))
	}
}

// IsDebugEnabled returns true if the given handle logs at debug level.
func IsDebugEnabled(handle *LoggerHandle) bool {
	return Log(handle).Core().Enabled(zapcore.DebugLevel)
}

// levelFor walks up the dotted name until a configured level is found. Caller holds the lock.
func levelFor(name string) zapcore.Level {
	for name != "" {
		if level, ok := levelMap[name]; ok {
			return level
		}
		idx := strings.LastIndex(name, ".")
		if idx < 0 {
			break
		}
		name = name[:idx]
	}
	return defLevel
}

func minLevel(def zapcore.Level, levels map[string]zapcore.Level) zapcore.Level {
	result := def
	for _, l := range levels {
		if l < result {
			result = l
		}
	}
	return result
}

// Returns true if the logger is a noop, which means no global logger was set with
// zap.ReplaceGlobals() by an embedding process.
func isNopLogger(logger *zap.Logger) bool {
	return reflect.DeepEqual(zap.NewNop(), logger)
}

// The root config logs everything at debug and higher: filtering per handle is done by the
// handleCore wrapping the root core.
func createConfig() *zap.Config {
	atomicLevel := zap.NewAtomicLevelAt(zap.DebugLevel)
	aLevel = &atomicLevel

	return &zap.Config{
		Level:       atomicLevel,
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "message",
			LevelKey:       "level",
			TimeKey:        "time",
			NameKey:        "name",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
}

// InitializeLogger replaces the root logger with one built by an embedding process. Handle levels
// still apply on top of it.
func InitializeLogger(logger *zap.Logger, zapConfig *zap.Config) {
	once.Do(func() {})
	lock.Lock()
	defer lock.Unlock()
	rootLogger = logger
	if zapConfig != nil {
		aLevel = &zapConfig.Level
	}
	for i := range logCache {
		logCache[i] = nil
	}
	rootLogger.Info("custom logger initialized")
}
