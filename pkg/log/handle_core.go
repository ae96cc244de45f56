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

import "go.uber.org/zap/zapcore"

// handleCore sits between a handle logger and the shared root core. The level enabler is owned by
// the handle, so a configuration update reaches every logger already handed out.
type handleCore struct {
	zapcore.LevelEnabler
	inner zapcore.Core
}

var _ zapcore.Core = handleCore{}

func (c handleCore) Enabled(level zapcore.Level) bool {
	return c.LevelEnabler.Enabled(level) && c.inner.Enabled(level)
}

func (c handleCore) With(fields []zapcore.Field) zapcore.Core {
	return handleCore{LevelEnabler: c.LevelEnabler, inner: c.inner.With(fields)}
}

func (c handleCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.LevelEnabler.Enabled(entry.Level) {
		return ce
	}
	return c.inner.Check(entry, ce)
}

func (c handleCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.inner.Write(entry, fields)
}

func (c handleCore) Sync() error {
	return c.inner.Sync()
}
