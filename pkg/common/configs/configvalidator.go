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

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/apache/yunikorn-radb/pkg/objects"
)

// Group and resource names as used in the station catalog: letters, digits and the separators
// seen in names like "CS001_bandwidth" or "cep4storage".
var NameRegExp = regexp.MustCompile("^[a-zA-Z0-9][a-zA-Z0-9_.:-]{0,127}$")

// Validate checks the configuration after defaults have been applied. All problems are returned
// together.
func Validate(conf *RADBConfig) error {
	if conf == nil {
		return fmt.Errorf("configuration is nil")
	}
	var err error
	err = multierr.Append(err, checkDatabase(conf.Database))
	err = multierr.Append(err, checkRetry(conf.Retry))
	err = multierr.Append(err, checkWebService(conf.WebService))
	err = multierr.Append(err, checkTracing(conf.Tracing))
	err = multierr.Append(err, checkLog(conf.Log))
	err = multierr.Append(err, checkAllocation(conf.Allocation))
	return err
}

func checkDatabase(db DatabaseConfig) error {
	var err error
	if strings.TrimSpace(db.Path) == "" {
		err = multierr.Append(err, fmt.Errorf("database path must be set"))
	}
	if db.BusyTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("database busy timeout cannot be negative: %s", db.BusyTimeout))
	}
	if db.MaxOpenConns < 1 {
		err = multierr.Append(err, fmt.Errorf("database max open connections must be positive: %d", db.MaxOpenConns))
	}
	return err
}

func checkRetry(retry RetryConfig) error {
	var err error
	for name, value := range map[string]time.Duration{
		"initialInterval": retry.InitialInterval,
		"maxInterval":     retry.MaxInterval,
		"maxElapsedTime":  retry.MaxElapsedTime,
	} {
		if value <= 0 {
			err = multierr.Append(err, fmt.Errorf("retry %s must be positive: %s", name, value))
		}
	}
	if retry.MaxInterval > 0 && retry.InitialInterval > retry.MaxInterval {
		err = multierr.Append(err, fmt.Errorf("retry initialInterval %s larger than maxInterval %s",
			retry.InitialInterval, retry.MaxInterval))
	}
	return err
}

func checkWebService(ws WebServiceConfig) error {
	if ws.Disabled {
		return nil
	}
	var err error
	if _, port, splitErr := net.SplitHostPort(ws.Address); splitErr != nil {
		err = multierr.Append(err, fmt.Errorf("invalid webservice address '%s': %w", ws.Address, splitErr))
	} else if port == "" {
		err = multierr.Append(err, fmt.Errorf("webservice address '%s' has no port", ws.Address))
	}
	if ws.ReadTimeout <= 0 || ws.WriteTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("webservice timeouts must be positive"))
	}
	if ws.MaxHeavyRequestsPerHost > ws.MaxHeavyRequests {
		err = multierr.Append(err, fmt.Errorf("maxHeavyRequestsPerHost %d exceeds maxHeavyRequests %d",
			ws.MaxHeavyRequestsPerHost, ws.MaxHeavyRequests))
	}
	return err
}

var samplerTypes = map[string]bool{"const": true, "probabilistic": true, "ratelimiting": true, "remote": true}

func checkTracing(tc TracingConfig) error {
	if tc.SamplerType != "" && !samplerTypes[tc.SamplerType] {
		return fmt.Errorf("unknown tracing sampler type '%s'", tc.SamplerType)
	}
	if tc.SamplerType == "probabilistic" && (tc.SamplerParam < 0 || tc.SamplerParam > 1) {
		return fmt.Errorf("probabilistic sampler param %v outside [0, 1]", tc.SamplerParam)
	}
	return nil
}

func checkLog(lc LogConfig) error {
	var err error
	if _, parseErr := zapcore.ParseLevel(lc.Level); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("invalid log level: %w", parseErr))
	}
	for _, name := range sortedKeys(lc.Loggers) {
		if _, parseErr := zapcore.ParseLevel(lc.Loggers[name]); parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("invalid log level for logger %s: %w", name, parseErr))
		}
	}
	return err
}

// Fill ratio keys are "<group>_<resource type>", the group name itself may contain underscores.
func checkAllocation(alloc AllocationConfig) error {
	var err error
	for _, key := range sortedKeys(alloc.MaxFillRatios) {
		ratio := alloc.MaxFillRatios[key]
		idx := strings.LastIndex(key, "_")
		if idx <= 0 || idx == len(key)-1 {
			err = multierr.Append(err, fmt.Errorf("max fill ratio key '%s' is not <group>_<resource type>", key))
			continue
		}
		if _, typeErr := objects.ParseResourceType(key[idx+1:]); typeErr != nil {
			err = multierr.Append(err, fmt.Errorf("max fill ratio key '%s': %w", key, typeErr))
		}
		if ratio <= 0 || ratio > 1 {
			err = multierr.Append(err, fmt.Errorf("max fill ratio for '%s' must be in (0, 1]: %v", key, ratio))
		}
	}
	return err
}
