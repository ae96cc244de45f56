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
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// RateLimitedLogger passes on at most one message per interval. The first message let through
// after a quiet period carries the number of messages dropped in between.
type RateLimitedLogger struct {
	logger     *zap.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// RateLimitedLog wraps the logger of the handle, allowing one message every interval.
func RateLimitedLog(handle *LoggerHandle, every time.Duration) *RateLimitedLogger {
	return &RateLimitedLogger{
		logger:  Log(handle),
		limiter: rate.NewLimiter(rate.Every(every), 1),
	}
}

func (rl *RateLimitedLogger) Debug(msg string, fields ...zap.Field) {
	rl.write(zapcore.DebugLevel, msg, fields)
}

func (rl *RateLimitedLogger) Info(msg string, fields ...zap.Field) {
	rl.write(zapcore.InfoLevel, msg, fields)
}

func (rl *RateLimitedLogger) Warn(msg string, fields ...zap.Field) {
	rl.write(zapcore.WarnLevel, msg, fields)
}

func (rl *RateLimitedLogger) Error(msg string, fields ...zap.Field) {
	rl.write(zapcore.ErrorLevel, msg, fields)
}

// Suppressed returns the number of messages dropped since the last one was written.
func (rl *RateLimitedLogger) Suppressed() int64 {
	return rl.suppressed.Load()
}

func (rl *RateLimitedLogger) write(level zapcore.Level, msg string, fields []zap.Field) {
	// disabled levels do not use up the allowance
	ce := rl.logger.Check(level, msg)
	if ce == nil {
		return
	}
	if !rl.limiter.Allow() {
		rl.suppressed.Add(1)
		return
	}
	if n := rl.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Int64("suppressed", n))
	}
	ce.Write(fields...)
}
