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

package radb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/metrics"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/trace"
)

// SQLClient is the part of a connection or transaction the queries need.
type SQLClient interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// window is the part of the claimed timeline of a resource that changed in a transaction.
type window struct {
	start time.Time
	end   time.Time
}

// txn is one attempt of a transaction. All statements run on a single connection. Besides the
// connection it collects the pending conflict cascade work: the changed windows of the claimed
// timelines and the tasks of which a claim entered or left conflict.
type txn struct {
	client       SQLClient
	ctx          context.Context
	db           *Database
	now          time.Time
	writable     bool
	resources    map[int64]*objects.Resource
	windows      map[int64]*window
	pendingTasks map[int64]bool
}

func newTxn(ctx context.Context, d *Database, client SQLClient, writable bool) *txn {
	return &txn{
		client:       client,
		ctx:          ctx,
		db:           d,
		now:          d.now(),
		writable:     writable,
		resources:    make(map[int64]*objects.Resource),
		windows:      make(map[int64]*window),
		pendingTasks: make(map[int64]bool),
	}
}

func (t *txn) exec(query string, args ...interface{}) (sql.Result, error) {
	return t.client.ExecContext(t.ctx, query, args...)
}

func (t *txn) query(query string, args ...interface{}) (*sql.Rows, error) {
	return t.client.QueryContext(t.ctx, query, args...)
}

func (t *txn) queryRow(query string, args ...interface{}) *sql.Row {
	return t.client.QueryRowContext(t.ctx, query, args...)
}

// markWindow records a change of the claimed usage of a resource in [start, end).
func (t *txn) markWindow(resourceID int64, start, end time.Time) {
	if w, ok := t.windows[resourceID]; ok {
		w.start = common.MinTime(w.start, start)
		w.end = common.MaxTime(w.end, end)
		return
	}
	t.windows[resourceID] = &window{start: start, end: end}
}

func (t *txn) markTask(taskID int64) {
	t.pendingTasks[taskID] = true
}

func (d *Database) write(ctx context.Context, operation string, fn func(tx *txn) error) error {
	return d.run(ctx, operation, true, fn)
}

func (d *Database) read(ctx context.Context, operation string, fn func(tx *txn) error) error {
	return d.run(ctx, operation, false, fn)
}

func (d *Database) newBackOff(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retry.InitialInterval
	policy.MaxInterval = d.retry.MaxInterval
	policy.MaxElapsedTime = d.retry.MaxElapsedTime
	return backoff.WithContext(policy, ctx)
}

// run executes fn in a transaction, retrying the whole transaction with exponential backoff while
// the database is locked by another connection. fn must be safe to run more than once: results
// must be reset at the start of each attempt. Other errors roll back and are returned as is.
// Write transactions are serialised in process and take the database write lock when they start
// to avoid lock upgrades half way.
func (d *Database) run(ctx context.Context, operation string, writable bool, fn func(tx *txn) error) (err error) {
	if d.closed.Load() {
		return common.ErrDatabaseClosed
	}
	span, ctx := trace.StartSpan(ctx, trace.DatabaseLevel, operation, "")
	defer func() {
		trace.FinishSpan(span, err)
	}()
	m := metrics.GetRADBMetrics()
	defer m.ObserveTransactionLatency(operation, time.Now())

	if writable {
		d.writeLock.Lock()
		defer d.writeLock.Unlock()
	}
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		txErr := d.runOnce(ctx, writable, fn)
		if txErr == nil {
			return nil
		}
		if isBusy(txErr) {
			m.IncTransactionRetry()
			d.busyLog.Warn("database is locked, retrying transaction",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(txErr))
			return txErr
		}
		return backoff.Permanent(txErr)
	}, d.newBackOff(ctx))

	switch {
	case err == nil:
		if writable {
			m.IncTransactionCommitted()
		}
	case isBusy(err):
		m.IncTransactionBusy()
		log.Log(log.Database).Warn("transaction abandoned, database stayed locked",
			zap.String("operation", operation),
			zap.Int("attempts", attempt))
		err = fmt.Errorf("%w: %s failed after %d attempts: %v", common.ErrConcurrentWrite, operation, attempt, err)
	default:
		if writable {
			m.IncTransactionRolledBack()
		}
	}
	return err
}

// runOnce runs one attempt on a dedicated connection. Write transactions settle the conflict
// cascade before they commit.
func (d *Database) runOnce(ctx context.Context, writable bool, fn func(tx *txn) error) (err error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Log(log.Database).Debug("failed to return connection", zap.Error(closeErr))
		}
	}()
	begin := "BEGIN"
	if writable {
		begin = "BEGIN IMMEDIATE"
	}
	if _, err = conn.ExecContext(ctx, begin); err != nil {
		return err
	}
	tx := newTxn(ctx, d, conn, writable)
	err = fn(tx)
	if err == nil && writable {
		err = tx.settle()
	}
	if err == nil {
		_, err = conn.ExecContext(ctx, "COMMIT")
	}
	if err != nil {
		rollback(conn)
	}
	return err
}

// rollback uses a fresh context: the request context may be the reason the transaction failed. A
// connection that cannot be rolled back is discarded instead of returned to the pool.
func rollback(conn *sql.Conn) {
	if _, err := conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
		log.Log(log.Database).Debug("rollback failed, discarding connection", zap.Error(err))
		_ = conn.Raw(func(interface{}) error { //nolint:errcheck
			return driver.ErrBadConn
		})
	}
}
