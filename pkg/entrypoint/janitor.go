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
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/log"
)

type claimPruner interface {
	PruneObsoleteClaims(ctx context.Context) (int, error)
}

// Janitor periodically removes the ended claims of terminated tasks.
type Janitor struct {
	db      claimPruner
	ticker  *clock.Ticker
	failLog *log.RateLimitedLogger
}

// NewJanitor creates the janitor and its ticker. The ticker starts counting at creation.
func NewJanitor(db claimPruner, c clock.Clock, interval time.Duration) *Janitor {
	return &Janitor{
		db:      db,
		ticker:  c.Ticker(interval),
		failLog: log.RateLimitedLog(log.Janitor, 5*time.Minute),
	}
}

// Run prunes on every tick until the context is cancelled. Prune failures are logged, they never
// stop the loop.
func (j *Janitor) Run(ctx context.Context) error {
	defer j.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Log(log.Janitor).Info("janitor stopped")
			return nil
		case <-j.ticker.C:
			j.prune(ctx)
		}
	}
}

func (j *Janitor) prune(ctx context.Context) {
	count, err := j.db.PruneObsoleteClaims(ctx)
	if err != nil {
		if ctx.Err() == nil {
			j.failLog.Warn("pruning obsolete claims failed", zap.Error(err))
		}
		return
	}
	if count > 0 {
		log.Log(log.Janitor).Debug("janitor run done", zap.Int("pruned", count))
	}
}
