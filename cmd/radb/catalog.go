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

	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/radb"
)

func newCatalogCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the resource catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Load resource groups, resources and memberships from a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := configs.LoadCatalogFile(args[0])
			if err != nil {
				return err
			}
			return withDatabase(cmd, root, func(db *radb.Database) error {
				summary, err := db.LoadCatalog(cmd.Context(), catalog)
				if err != nil {
					return err
				}
				cmd.Printf("loaded %d groups, %d resources, %d memberships\n",
					summary.Groups, summary.Resources, summary.Memberships)
				return nil
			})
		},
	})
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect service configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a configuration file and print it with all defaults applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := configs.LoadConfigFile(args[0])
			if err != nil {
				return err
			}
			out, err := conf.ToYAML()
			if err != nil {
				return err
			}
			cmd.Print(out)
			return nil
		},
	})
	return cmd
}
