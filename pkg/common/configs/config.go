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
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/apache/yunikorn-radb/pkg/log"
)

const (
	DefaultDatabasePath     = "radb.db"
	DefaultBusyTimeout      = 5 * time.Second
	DefaultMaxOpenConns     = 8
	DefaultRetryInitial     = 10 * time.Millisecond
	DefaultRetryMax         = 500 * time.Millisecond
	DefaultRetryMaxElapsed  = 10 * time.Second
	DefaultWebServiceAddr   = ":9080"
	DefaultWebServiceTimout = 10 * time.Second
	DefaultHeavyRequests    = 4
	DefaultHeavyPerHost     = 2
	DefaultJanitorInterval  = time.Minute
	DefaultServiceName      = "radb"
	DefaultLogLevel         = "info"
)

// RADBConfig is the service configuration:
// - the database location and connection settings
// - the retry policy for write transactions that find the database locked
// - the web service endpoint
// - the janitor that prunes obsolete claims
// - tracing and logging
// - allocation limits per resource group and type
type RADBConfig struct {
	Database   DatabaseConfig   `yaml:"database,omitempty" json:"database,omitempty"`
	Retry      RetryConfig      `yaml:"retry,omitempty" json:"retry,omitempty"`
	WebService WebServiceConfig `yaml:"webservice,omitempty" json:"webservice,omitempty"`
	Janitor    JanitorConfig    `yaml:"janitor,omitempty" json:"janitor,omitempty"`
	Tracing    TracingConfig    `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Log        LogConfig        `yaml:"log,omitempty" json:"log,omitempty"`
	Allocation AllocationConfig `yaml:"allocation,omitempty" json:"allocation,omitempty"`
	Checksum   string           `yaml:",omitempty" json:",omitempty"`
}

type DatabaseConfig struct {
	Path         string        `yaml:"path,omitempty" json:"path,omitempty"`
	BusyTimeout  time.Duration `yaml:"busyTimeout,omitempty" json:"busyTimeout,omitempty"`
	MaxOpenConns int           `yaml:"maxOpenConns,omitempty" json:"maxOpenConns,omitempty"`
}

type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval,omitempty" json:"initialInterval,omitempty"`
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty" json:"maxInterval,omitempty"`
	MaxElapsedTime  time.Duration `yaml:"maxElapsedTime,omitempty" json:"maxElapsedTime,omitempty"`
}

type WebServiceConfig struct {
	Disabled     bool          `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Address      string        `yaml:"address,omitempty" json:"address,omitempty"`
	ReadTimeout  time.Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout time.Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	// concurrent fit, rebuild and verify requests, in total and per client host
	MaxHeavyRequests        uint64 `yaml:"maxHeavyRequests,omitempty" json:"maxHeavyRequests,omitempty"`
	MaxHeavyRequestsPerHost uint64 `yaml:"maxHeavyRequestsPerHost,omitempty" json:"maxHeavyRequestsPerHost,omitempty"`
}

// JanitorConfig controls the periodic removal of ended claims of terminated tasks. A negative interval
// disables the janitor.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// TracingConfig enables jaeger tracing. Without a sampler type the JAEGER_* environment decides
// the sampling.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	SamplerType  string  `yaml:"samplerType,omitempty" json:"samplerType,omitempty"`
	SamplerParam float64 `yaml:"samplerParam,omitempty" json:"samplerParam,omitempty"`
	LogSpans     bool    `yaml:"logSpans,omitempty" json:"logSpans,omitempty"`
}

// LogConfig sets the default level and the levels of named loggers, for example
// "radb.claims: debug".
type LogConfig struct {
	Level   string            `yaml:"level,omitempty" json:"level,omitempty"`
	Loggers map[string]string `yaml:"loggers,omitempty" json:"loggers,omitempty"`
}

// AllocationConfig caps the capacity claims may use: keys are "<group>_<resource type>" and values
// the fraction of the total capacity of every resource of that type under the group.
type AllocationConfig struct {
	MaxFillRatios map[string]float64 `yaml:"maxFillRatios,omitempty" json:"maxFillRatios,omitempty"`
}

// ApplyDefaults fills in every value that was not set.
func (c *RADBConfig) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = DefaultBusyTimeout
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = DefaultRetryInitial
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = DefaultRetryMax
	}
	if c.Retry.MaxElapsedTime == 0 {
		c.Retry.MaxElapsedTime = DefaultRetryMaxElapsed
	}
	if c.WebService.Address == "" {
		c.WebService.Address = DefaultWebServiceAddr
	}
	if c.WebService.ReadTimeout == 0 {
		c.WebService.ReadTimeout = DefaultWebServiceTimout
	}
	if c.WebService.WriteTimeout == 0 {
		c.WebService.WriteTimeout = DefaultWebServiceTimout
	}
	if c.WebService.MaxHeavyRequests == 0 {
		c.WebService.MaxHeavyRequests = DefaultHeavyRequests
	}
	if c.WebService.MaxHeavyRequestsPerHost == 0 {
		c.WebService.MaxHeavyRequestsPerHost = DefaultHeavyPerHost
	}
	if c.Janitor.Interval == 0 {
		c.Janitor.Interval = DefaultJanitorInterval
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// LoggingConfig converts the log section into the flat key/value form used by the logger.
func (c *RADBConfig) LoggingConfig() map[string]string {
	result := map[string]string{"log.level": c.Log.Level}
	for name, level := range c.Log.Loggers {
		result[fmt.Sprintf("log.%s.level", name)] = level
	}
	return result
}

// MaxFillRatio returns the configured ratio for the group and resource type. The boolean is false
// when no ratio is configured.
func (c *RADBConfig) MaxFillRatio(group, resourceType string) (float64, bool) {
	ratio, ok := c.Allocation.MaxFillRatios[group+"_"+resourceType]
	return ratio, ok
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *RADBConfig {
	conf := &RADBConfig{}
	conf.ApplyDefaults()
	return conf
}

// LoadConfigFile reads, parses and validates the configuration file.
func LoadConfigFile(path string) (*RADBConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	return LoadConfigFromByteArray(content)
}

func LoadConfigFromByteArray(content []byte) (*RADBConfig, error) {
	conf, err := ParseAndValidateConfig(content)
	if err != nil {
		return nil, err
	}
	// Create a sha256 checksum for this validated config
	SetChecksum(content, conf)
	return conf, err
}

func SetChecksum(content []byte, conf *RADBConfig) {
	noChecksumContent := GetConfigurationString(content)
	conf.Checksum = fmt.Sprintf("%X", sha256.Sum256([]byte(noChecksumContent)))
}

func ParseAndValidateConfig(content []byte) (*RADBConfig, error) {
	conf := &RADBConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true) // Enable strict unmarshaling behavior
	err := decoder.Decode(conf)
	if err != nil && !errors.Is(err, io.EOF) { // empty content may have EOF error, skip it
		log.Log(log.Config).Error("failed to parse configuration",
			zap.Error(err))
		return nil, err
	}
	conf.ApplyDefaults()
	// validate the config
	err = Validate(conf)
	if err != nil {
		log.Log(log.Config).Error("configuration validation failed",
			zap.Error(err))
		return nil, err
	}
	return conf, nil
}

// GetConfigurationString removes a checksum line from the content.
func GetConfigurationString(requestBytes []byte) string {
	conf := string(requestBytes)
	checksum := "checksum: "
	checksumLength := 64 + len(checksum)
	if strings.Contains(conf, checksum) {
		checksum += strings.Split(conf, checksum)[1]
		checksum = strings.TrimRight(checksum, "\n")
		if len(checksum) > checksumLength {
			checksum = checksum[:checksumLength]
		}
	}
	return strings.ReplaceAll(conf, checksum, "")
}

// ToYAML returns the configuration as it would be written, keys sorted.
func (c *RADBConfig) ToYAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sortedKeys returns the map keys in order, used to report validation errors deterministically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
