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

package configs

import "sync"

const (
	ConfigPathEnv     = "RADB_CONFIG"
	DefaultConfigPath = "/etc/radb/radb.yaml"
	// overrides tracing.enabled of the configuration file
	TracingEnabledEnv = "RADB_TRACING_ENABLED"
)

var ConfigContext *RADBConfigContext

func init() {
	ConfigContext = &RADBConfigContext{
		lock: &sync.RWMutex{},
	}
}

// RADBConfigContext provides thread-safe access to the configuration the service runs with.
type RADBConfigContext struct {
	config *RADBConfig
	lock   *sync.RWMutex
}

func (ctx *RADBConfigContext) Set(config *RADBConfig) {
	ctx.lock.Lock()
	defer ctx.lock.Unlock()
	ctx.config = config
}

// Get returns the active configuration, or the defaults when nothing was set.
func (ctx *RADBConfigContext) Get() *RADBConfig {
	ctx.lock.RLock()
	defer ctx.lock.RUnlock()
	if ctx.config == nil {
		return DefaultConfig()
	}
	return ctx.config
}
