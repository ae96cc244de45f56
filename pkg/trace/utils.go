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
	"fmt"
	"io"
	"sync"

	"github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerzap "github.com/uber/jaeger-client-go/log/zap"
	jaegermetrics "github.com/uber/jaeger-lib/metrics"
	jaegerprom "github.com/uber/jaeger-lib/metrics/prometheus"

	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/metrics"
)

var (
	metricsOnce   sync.Once
	tracerMetrics jaegermetrics.Factory
)

// The prometheus factory caches its collectors: all tracers must share one factory or the second
// tracer fails to register its counters.
func tracerMetricsFactory() jaegermetrics.Factory {
	metricsOnce.Do(func() {
		tracerMetrics = jaegerprom.New().Namespace(jaegermetrics.NSOptions{Name: metrics.Namespace})
	})
	return tracerMetrics
}

// NewJaegerTracer creates a jaeger tracer. Sampling and the agent endpoint come from the JAEGER_*
// environment variables unless the configuration sets a sampler. The tracer reports its own
// counters in the radb prometheus namespace.
func NewJaegerTracer(conf configs.TracingConfig) (opentracing.Tracer, io.Closer, error) {
	if len(conf.ServiceName) == 0 {
		return nil, nil, fmt.Errorf("service name is empty")
	}
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	cfg.ServiceName = conf.ServiceName
	if conf.SamplerType != "" {
		cfg.Sampler = &jaegercfg.SamplerConfig{
			Type:  conf.SamplerType,
			Param: conf.SamplerParam,
		}
	}
	if conf.LogSpans {
		if cfg.Reporter == nil {
			cfg.Reporter = &jaegercfg.ReporterConfig{}
		}
		cfg.Reporter.LogSpans = true
	}
	return cfg.NewTracer(
		jaegercfg.Logger(jaegerzap.NewLogger(log.Log(log.Trace))),
		jaegercfg.Metrics(tracerMetricsFactory()),
	)
}
