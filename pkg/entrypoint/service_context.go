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

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/radb"
	"github.com/apache/yunikorn-radb/pkg/trace"
	"github.com/apache/yunikorn-radb/pkg/webservice"
)

type ServiceContext struct {
	DB      *radb.Database
	WebApp  *webservice.WebService
	Janitor *Janitor
	Tracer  trace.RADBTracer

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Wait blocks until the background services stop, which only happens after StopAll.
func (s *ServiceContext) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// StopAll stops the web application first so no request reaches a closed database. The returned
// error combines the failures of all services.
func (s *ServiceContext) StopAll() error {
	log.Log(log.Entrypoint).Info("ServiceContext stop all services")
	var errs error
	if s.WebApp != nil {
		if err := s.WebApp.StopWebApp(); err != nil {
			log.Log(log.Entrypoint).Error("failed to stop web-app",
				zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	if s.cancel != nil {
		s.cancel()
		errs = multierr.Append(errs, s.group.Wait())
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Log(log.Entrypoint).Error("failed to close database",
				zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	if s.Tracer != nil {
		s.Tracer.Close()
	}
	return errs
}
