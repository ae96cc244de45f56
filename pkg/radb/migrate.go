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
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/log"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// getMigrations opens a dedicated connection pool for the migration: the migrate driver closes the
// database it was given.
func getMigrations(dsn string) (*migrate.Migrate, error) {
	files, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	migrations, err := migrate.NewWithInstance("iofs", files, "sqlite", driver)
	if err != nil {
		return nil, multierr.Append(err, driver.Close())
	}
	return migrations, nil
}

func closeMigrations(migrations *migrate.Migrate) error {
	srcErr, dbErr := migrations.Close()
	return multierr.Append(srcErr, dbErr)
}

// MigrateUp applies all migrations that have not been applied yet.
func MigrateUp(dsn string) error {
	migrations, err := getMigrations(dsn)
	if err != nil {
		return err
	}
	err = migrations.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		err = nil
	}
	if err == nil {
		version, dirty, verr := migrations.Version()
		if verr == nil {
			log.Log(log.Database).Debug("database schema is up to date",
				zap.Uint("version", version),
				zap.Bool("dirty", dirty))
		}
	}
	return multierr.Append(err, closeMigrations(migrations))
}

// MigrateDown reverts all migrations: every table is dropped.
func MigrateDown(dsn string) error {
	migrations, err := getMigrations(dsn)
	if err != nil {
		return err
	}
	err = migrations.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		err = nil
	}
	return multierr.Append(err, closeMigrations(migrations))
}

// SchemaVersion returns the applied migration version and whether the last migration failed half way.
func SchemaVersion(dsn string) (uint, bool, error) {
	migrations, err := getMigrations(dsn)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrations.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		err = nil
	}
	return version, dirty, multierr.Append(err, closeMigrations(migrations))
}
