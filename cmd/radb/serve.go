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
	"github.com/apache/yunikorn-radb/pkg/entrypoint"
	"github.com/apache/yunikorn-radb/pkg/log"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST service and the claim janitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := root.loadConfig()
			if err != nil {
				return err
			}
			var opts []entrypoint.Option
			if catalogPath != "" {
				catalog, err := configs.LoadCatalogFile(catalogPath)
				if err != nil {
					return err
				}
				opts = append(opts, entrypoint.WithCatalog(catalog))
			}
			svc, err := entrypoint.StartAllServices(cmd.Context(), conf, opts...)
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			log.Log(log.Cmd).Info("shutdown requested")
			return svc.StopAll()
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "resource catalog to load before serving")
	return cmd
}
