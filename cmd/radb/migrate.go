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

package main

import (
	"github.com/spf13/cobra"

	"github.com/apache/yunikorn-radb/pkg/radb"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema to the latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := root.loadConfig()
			if err != nil {
				return err
			}
			dsn := radb.DataSourceName(conf.Database)
			if down {
				err = radb.MigrateDown(dsn)
			} else {
				err = radb.MigrateUp(dsn)
			}
			if err != nil {
				return err
			}
			version, dirty, err := radb.SchemaVersion(dsn)
			if err != nil {
				return err
			}
			cmd.Printf("schema version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert all migrations, dropping every table")
	return cmd
}
