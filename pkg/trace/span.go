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

package trace

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
)

const (
	LevelKey = "level"
	NameKey  = "name"
	StateKey = "state"

	DatabaseLevel = "database"
	FitterLevel   = "fitter"
	RESTLevel     = "rest"

	OKState    = "ok"
	ErrorState = "error"
)

// StartSpan starts a span for an operation as a child of the span in the context, if any, using the
// global tracer. The level tag is always set, the name tag only when not empty:
//
//	span, ctx := trace.StartSpan(ctx, trace.DatabaseLevel, "InsertResourceClaims", "")
//	defer func() { trace.FinishSpan(span, err) }()
func StartSpan(ctx context.Context, level, operation, name string) (opentracing.Span, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "["+level+"]"+operation)
	span.SetTag(LevelKey, level)
	if name != "" {
		span.SetTag(NameKey, name)
	}
	return span, ctx
}

// FinishSpan sets the result state and finishes the span.
func FinishSpan(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.SetTag(StateKey, ErrorState)
		span.LogFields(otlog.Error(err))
	} else {
		span.SetTag(StateKey, OKState)
	}
	span.Finish()
}
