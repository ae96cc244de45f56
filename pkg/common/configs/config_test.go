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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestEmptyConfigGetsDefaults(t *testing.T) {
	conf, err := ParseAndValidateConfig([]byte(""))
	assert.NilError(t, err, "empty configuration should be valid")
	assert.DeepEqual(t, conf, DefaultConfig())
	assert.Equal(t, conf.Database.Path, DefaultDatabasePath)
	assert.Equal(t, conf.Retry.MaxElapsedTime, DefaultRetryMaxElapsed)
	assert.Equal(t, conf.Janitor.Interval, DefaultJanitorInterval)
}

func TestParseFullConfig(t *testing.T) {
	data := `
database:
  path: /var/lib/radb/radb.db
  busyTimeout: 2s
  maxOpenConns: 4
retry:
  initialInterval: 5ms
  maxInterval: 100ms
  maxElapsedTime: 3s
webservice:
  address: 127.0.0.1:9090
  readTimeout: 1s
  writeTimeout: 2s
janitor:
  interval: 30s
tracing:
  enabled: true
  serviceName: radb-test
log:
  level: warn
  loggers:
    radb.claims: debug
allocation:
  maxFillRatios:
    CEP4_storage: 0.95
`
	conf, err := ParseAndValidateConfig([]byte(data))
	assert.NilError(t, err)
	assert.Equal(t, conf.Database.Path, "/var/lib/radb/radb.db")
	assert.Equal(t, conf.Database.BusyTimeout, 2*time.Second)
	assert.Equal(t, conf.Database.MaxOpenConns, 4)
	assert.Equal(t, conf.Retry.InitialInterval, 5*time.Millisecond)
	assert.Equal(t, conf.WebService.Address, "127.0.0.1:9090")
	assert.Equal(t, conf.Janitor.Interval, 30*time.Second)
	assert.Assert(t, conf.Tracing.Enabled)
	assert.Equal(t, conf.Tracing.ServiceName, "radb-test")

	ratio, ok := conf.MaxFillRatio("CEP4", "storage")
	assert.Assert(t, ok)
	assert.Equal(t, ratio, 0.95)
	_, ok = conf.MaxFillRatio("CEP4", "bandwidth")
	assert.Assert(t, !ok)

	logging := conf.LoggingConfig()
	assert.Equal(t, logging["log.level"], "warn")
	assert.Equal(t, logging["log.radb.claims.level"], "debug")
}

func TestUnknownFieldRejected(t *testing.T) {
	data := `
database:
  path: radb.db
  unknown: true
`
	_, err := ParseAndValidateConfig([]byte(data))
	assert.ErrorContains(t, err, "field unknown not found")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(conf *RADBConfig)
		errMsg string
	}{
		{"valid", func(conf *RADBConfig) {}, ""},
		{"empty path", func(conf *RADBConfig) { conf.Database.Path = " " }, "database path must be set"},
		{"connections", func(conf *RADBConfig) { conf.Database.MaxOpenConns = -1 }, "max open connections"},
		{"retry negative", func(conf *RADBConfig) { conf.Retry.MaxInterval = -time.Second }, "retry maxInterval must be positive"},
		{"retry order", func(conf *RADBConfig) { conf.Retry.InitialInterval = time.Minute }, "larger than maxInterval"},
		{"address", func(conf *RADBConfig) { conf.WebService.Address = "localhost" }, "invalid webservice address"},
		{"address disabled", func(conf *RADBConfig) {
			conf.WebService.Address = "localhost"
			conf.WebService.Disabled = true
		}, ""},
		{"heavy requests", func(conf *RADBConfig) { conf.WebService.MaxHeavyRequestsPerHost = 10 }, "exceeds maxHeavyRequests 4"},
		{"sampler type", func(conf *RADBConfig) { conf.Tracing.SamplerType = "always" }, "unknown tracing sampler type 'always'"},
		{"sampler param", func(conf *RADBConfig) {
			conf.Tracing.SamplerType = "probabilistic"
			conf.Tracing.SamplerParam = 2
		}, "probabilistic sampler param 2 outside [0, 1]"},
		{"log level", func(conf *RADBConfig) { conf.Log.Level = "loud" }, "invalid log level"},
		{"logger level", func(conf *RADBConfig) { conf.Log.Loggers = map[string]string{"fitter": "loud"} }, "invalid log level for logger fitter"},
		{"ratio range", func(conf *RADBConfig) {
			conf.Allocation.MaxFillRatios = map[string]float64{"CEP4_storage": 1.5}
		}, "must be in (0, 1]"},
		{"ratio type", func(conf *RADBConfig) {
			conf.Allocation.MaxFillRatios = map[string]float64{"CEP4_disk": 0.5}
		}, "unknown resource type 'disk'"},
		{"ratio key", func(conf *RADBConfig) {
			conf.Allocation.MaxFillRatios = map[string]float64{"storage": 0.5}
		}, "is not <group>_<resource type>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := DefaultConfig()
			tt.modify(conf)
			err := Validate(conf)
			if tt.errMsg == "" {
				assert.NilError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	conf := DefaultConfig()
	conf.Database.Path = ""
	conf.Log.Level = "loud"
	err := Validate(conf)
	assert.ErrorContains(t, err, "database path must be set")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestConfigChecksum(t *testing.T) {
	data := []byte("database:\n  path: radb.db\n")
	conf, err := LoadConfigFromByteArray(data)
	assert.NilError(t, err)
	assert.Equal(t, len(conf.Checksum), 64)

	withChecksum := append([]byte("checksum: "+conf.Checksum+"\n"), data...)
	assert.Equal(t, GetConfigurationString(withChecksum), "\n"+string(data))
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "radb.yaml")
	assert.NilError(t, os.WriteFile(path, []byte("janitor:\n  interval: -1s\n"), 0o600))
	conf, err := LoadConfigFile(path)
	assert.NilError(t, err)
	assert.Equal(t, conf.Janitor.Interval, -time.Second)

	_, err = LoadConfigFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read configuration")
}

func TestConfigToYAML(t *testing.T) {
	out, err := DefaultConfig().ToYAML()
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(out, "path: radb.db"), "unexpected yaml: %s", out)
}

func TestConfigContext(t *testing.T) {
	ctx := &RADBConfigContext{lock: ConfigContext.lock}
	assert.DeepEqual(t, ctx.Get(), DefaultConfig())
	conf := DefaultConfig()
	conf.Database.Path = "other.db"
	ctx.Set(conf)
	assert.Equal(t, ctx.Get().Database.Path, "other.db")
}
