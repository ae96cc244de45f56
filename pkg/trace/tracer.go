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
	"io"
	"sync"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/log"
)

// RADBTracer owns the tracer used for database operations and requests.
type RADBTracer interface {
	Tracer() opentracing.Tracer
	Close()
}

var _ RADBTracer = &RADBTracerImpl{}

type RADBTracerImpl struct {
	tracer opentracing.Tracer
	closer io.Closer
	sync.RWMutex
}

func (r *RADBTracerImpl) Tracer() opentracing.Tracer {
	r.RLock()
	defer r.RUnlock()
	return r.tracer
}

func (r *RADBTracerImpl) Close() {
	r.Lock()
	defer r.Unlock()
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			log.Log(log.Trace).Warn("failed to close tracer", zap.Error(err))
		}
		r.closer = nil
	}
}

// NewRADBTracer creates the tracer for the configuration: a jaeger tracer when tracing is enabled,
// a no-op tracer otherwise.
func NewRADBTracer(conf configs.TracingConfig) (RADBTracer, error) {
	if !conf.Enabled {
		return &RADBTracerImpl{tracer: opentracing.NoopTracer{}}, nil
	}
	tracer, closer, err := NewJaegerTracer(conf)
	if err != nil {
		return nil, err
	}
	log.Log(log.Trace).Info("tracing enabled",
		zap.String("serviceName", conf.ServiceName),
		zap.String("sampler", conf.SamplerType))
	return &RADBTracerImpl{
		tracer: tracer,
		closer: closer,
	}, nil
}
