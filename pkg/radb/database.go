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
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/log"
)

const driverName = "sqlite"

// Database is the resource assignment store: specifications, tasks, claims, the usage timelines
// derived from the claims and the resource catalog. It is safe for concurrent use, also by several
// processes that open the same database file: every change runs in one write transaction.
type Database struct {
	id        string
	path      string
	db        *sql.DB
	retry     configs.RetryConfig
	clock     clock.Clock
	writeLock sync.Mutex
	closed    atomic.Bool
	busyLog   *log.RateLimitedLogger
}

type Option func(*Database)

// WithClock replaces the wall clock used for "now": misc usage, current usage and claim pruning.
func WithClock(c clock.Clock) Option {
	return func(d *Database) {
		d.clock = c
	}
}

// Open migrates the schema to the latest version and opens the database.
func Open(ctx context.Context, conf *configs.RADBConfig, opts ...Option) (*Database, error) {
	if conf == nil {
		conf = configs.DefaultConfig()
	}
	dsn := DataSourceName(conf.Database)
	if err := MigrateUp(dsn); err != nil {
		return nil, fmt.Errorf("failed to migrate database %s: %w", conf.Database.Path, err)
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(conf.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(conf.Database.MaxOpenConns)
	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", conf.Database.Path, err)
	}
	d := &Database{
		id:      common.GetNewUUID(),
		path:    conf.Database.Path,
		db:      sqlDB,
		retry:   conf.Retry,
		clock:   clock.New(),
		busyLog: log.RateLimitedLog(log.Database, 10*time.Second),
	}
	for _, opt := range opts {
		opt(d)
	}
	log.Log(log.Database).Info("database opened",
		zap.String("path", d.path),
		zap.String("instanceID", d.id))
	return d, nil
}

// DataSourceName builds the sqlite connection string: every connection waits for the busy timeout
// before reporting a locked database, uses write-ahead logging and enforces foreign keys.
func DataSourceName(conf configs.DatabaseConfig) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", conf.BusyTimeout.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	return conf.Path + "?" + params.Encode()
}

// Close closes the connection pool. Calls after Close fail with ErrDatabaseClosed.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Log(log.Database).Info("database closed",
		zap.String("path", d.path),
		zap.String("instanceID", d.id))
	return d.db.Close()
}

// InstanceID identifies this open database handle in logs.
func (d *Database) InstanceID() string {
	return d.id
}

// Path of the database file.
func (d *Database) Path() string {
	return d.path
}

func (d *Database) now() time.Time {
	return d.clock.Now().UTC()
}

// isBusy returns true for errors caused by another connection holding the database lock.
func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// translateError maps constraint violations onto the error taxonomy.
func translateError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		code, text := sqliteErr.Code(), sqliteErr.Error()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(text, "UNIQUE constraint"):
			return fmt.Errorf("%w: %s: %v", common.ErrDuplicate, msg, err)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(text, "FOREIGN KEY constraint"):
			return fmt.Errorf("%w: %s: %v", common.ErrReference, msg, err)
		case code == sqlite3.SQLITE_CONSTRAINT_CHECK || strings.Contains(text, "CHECK constraint"):
			return fmt.Errorf("%w: %s: %v", common.ErrValidation, msg, err)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
