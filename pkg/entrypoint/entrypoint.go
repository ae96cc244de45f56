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

package entrypoint

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/radb"
	"github.com/apache/yunikorn-radb/pkg/trace"
	"github.com/apache/yunikorn-radb/pkg/webservice"
)

// options used to control how services are started
type startupOptions struct {
	clock           clock.Clock
	startWebAppFlag bool
	catalog         *configs.CatalogConfig
}

type Option func(*startupOptions)

// WithClock sets the clock used by the database and the janitor.
func WithClock(c clock.Clock) Option {
	return func(o *startupOptions) {
		o.clock = c
	}
}

// WithoutWebApp starts the service without the REST endpoint, whatever the configuration says.
func WithoutWebApp() Option {
	return func(o *startupOptions) {
		o.startWebAppFlag = false
	}
}

// WithCatalog loads the resource catalog after the database is opened.
func WithCatalog(catalog *configs.CatalogConfig) Option {
	return func(o *startupOptions) {
		o.catalog = catalog
	}
}

// StartAllServices opens the database and starts the janitor and the web application for the
// configuration. A nil configuration uses all defaults.
func StartAllServices(ctx context.Context, conf *configs.RADBConfig, opts ...Option) (*ServiceContext, error) {
	if conf == nil {
		conf = configs.DefaultConfig()
	}
	options := startupOptions{
		clock:           clock.New(),
		startWebAppFlag: !conf.WebService.Disabled,
	}
	for _, opt := range opts {
		opt(&options)
	}
	log.Log(log.Entrypoint).Info("ServiceContext start all services",
		zap.String("database", conf.Database.Path))
	return startAllServicesWithParameters(ctx, conf, options)
}

// StartAllServicesWithLogger installs the logger of an embedding process before starting.
func StartAllServicesWithLogger(ctx context.Context, logger *zap.Logger, zapConfig *zap.Config, conf *configs.RADBConfig, opts ...Option) (*ServiceContext, error) {
	log.InitializeLogger(logger, zapConfig)
	return StartAllServices(ctx, conf, opts...)
}

func startAllServicesWithParameters(ctx context.Context, conf *configs.RADBConfig, opts startupOptions) (*ServiceContext, error) {
	configs.ConfigContext.Set(conf)
	log.UpdateLoggingConfig(conf.LoggingConfig())

	conf.Tracing.Enabled = common.GetBoolEnvVar(configs.TracingEnabledEnv, conf.Tracing.Enabled)
	tracer, err := trace.NewRADBTracer(conf.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	opentracing.SetGlobalTracer(tracer.Tracer())

	db, err := radb.Open(ctx, conf, radb.WithClock(opts.clock))
	if err != nil {
		tracer.Close()
		return nil, err
	}
	svc := &ServiceContext{
		DB:     db,
		Tracer: tracer,
	}
	if err = db.ApplyAllocationConfig(ctx, conf.Allocation); err != nil {
		_ = svc.StopAll()
		return nil, fmt.Errorf("failed to apply allocation configuration: %w", err)
	}
	if opts.catalog != nil {
		var summary radb.CatalogSummary
		if summary, err = db.LoadCatalog(ctx, opts.catalog); err != nil {
			_ = svc.StopAll()
			return nil, fmt.Errorf("failed to load resource catalog: %w", err)
		}
		log.Log(log.Entrypoint).Info("resource catalog loaded",
			zap.Int("groups", summary.Groups),
			zap.Int("resources", summary.Resources),
			zap.Int("memberships", summary.Memberships))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, runCtx := errgroup.WithContext(runCtx)
	svc.cancel = cancel
	svc.group = group

	if conf.Janitor.Interval > 0 {
		log.Log(log.Entrypoint).Info("ServiceContext start janitor",
			zap.Duration("interval", conf.Janitor.Interval))
		svc.Janitor = NewJanitor(db, opts.clock, conf.Janitor.Interval)
		group.Go(func() error {
			return svc.Janitor.Run(runCtx)
		})
	}

	if opts.startWebAppFlag {
		log.Log(log.Entrypoint).Info("ServiceContext start web application service")
		webapp := webservice.NewWebApp(db, conf.WebService)
		if err = webapp.StartWebApp(); err != nil {
			_ = svc.StopAll()
			return nil, fmt.Errorf("failed to start web application: %w", err)
		}
		svc.WebApp = webapp
	}
	return svc, nil
}
