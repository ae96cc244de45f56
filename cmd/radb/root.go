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
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/log"
)

type rootOptions struct {
	configPath   string
	databasePath string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "radb",
		Short:         "Resource assignment database",
		Long:          `Stores specifications, tasks and their resource claims, and keeps the resource usage timelines.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"configuration file, defaults to $"+configs.ConfigPathEnv+" or "+configs.DefaultConfigPath)
	rootCmd.PersistentFlags().StringVar(&opts.databasePath, "database", "",
		"database file, overrides the configured path")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newRebuildCmd(opts))
	rootCmd.AddCommand(newVerifyCmd(opts))
	rootCmd.AddCommand(newCatalogCmd(opts))
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

// loadConfig reads the configuration file named by the flag or the environment. Without either
// a missing default file means all defaults.
func (o *rootOptions) loadConfig() (*configs.RADBConfig, error) {
	path := o.configPath
	explicit := path != ""
	if !explicit {
		path, explicit = os.LookupEnv(configs.ConfigPathEnv)
	}
	if !explicit {
		path = configs.DefaultConfigPath
	}
	conf, err := configs.LoadConfigFile(path)
	switch {
	case err == nil:
		log.Log(log.Cmd).Info("configuration loaded", zap.String("path", path))
	case !explicit && errors.Is(err, fs.ErrNotExist):
		conf = configs.DefaultConfig()
	default:
		return nil, err
	}
	if o.databasePath != "" {
		conf.Database.Path = o.databasePath
	}
	log.UpdateLoggingConfig(conf.LoggingConfig())
	return conf, nil
}
