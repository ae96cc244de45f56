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
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// CatalogConfig describes the resource hierarchy used to bootstrap a database. Groups form a
// DAG: a group or resource listed a second time under another parent only adds the membership and
// must not repeat its definition.
type CatalogConfig struct {
	Groups []GroupConfig `yaml:"groups" json:"groups"`
}

type GroupConfig struct {
	Name      string           `yaml:"name" json:"name"`
	Type      string           `yaml:"type,omitempty" json:"type,omitempty"`
	Groups    []GroupConfig    `yaml:"groups,omitempty" json:"groups,omitempty"`
	Resources []ResourceConfig `yaml:"resources,omitempty" json:"resources,omitempty"`
}

type ResourceConfig struct {
	Name      string `yaml:"name" json:"name"`
	Type      string `yaml:"type,omitempty" json:"type,omitempty"`
	Total     int64  `yaml:"total,omitempty" json:"total,omitempty"`
	Available *int64 `yaml:"available,omitempty" json:"available,omitempty"`
	Active    *bool  `yaml:"active,omitempty" json:"active,omitempty"`
}

// IsReference is true for an entry that only names a group defined elsewhere.
func (g *GroupConfig) IsReference() bool {
	return g.Type == "" && len(g.Groups) == 0 && len(g.Resources) == 0
}

// IsReference is true for an entry that only names a resource defined elsewhere.
func (r *ResourceConfig) IsReference() bool {
	return r.Type == "" && r.Total == 0 && r.Available == nil && r.Active == nil
}

// IsActive defaults to true when not set.
func (r *ResourceConfig) IsActive() bool {
	return r.Active == nil || *r.Active
}

// AvailableCapacity defaults to the total when not set.
func (r *ResourceConfig) AvailableCapacity() int64 {
	if r.Available == nil {
		return r.Total
	}
	return *r.Available
}

func LoadCatalogFile(path string) (*CatalogConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseAndValidateCatalog(content)
}

func ParseAndValidateCatalog(content []byte) (*CatalogConfig, error) {
	catalog := &CatalogConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	err := decoder.Decode(catalog)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Log(log.Config).Error("failed to parse catalog",
			zap.Error(err))
		return nil, err
	}
	if err = ValidateCatalog(catalog); err != nil {
		log.Log(log.Config).Error("catalog validation failed",
			zap.Error(err))
		return nil, err
	}
	return catalog, nil
}

// ValidateCatalog checks names, types and capacities and that every reference resolves to a
// definition and no group contains itself.
func ValidateCatalog(catalog *CatalogConfig) error {
	v := &catalogValidator{
		groups:    make(map[string]bool),
		resources: make(map[string]bool),
	}
	for i := range catalog.Groups {
		v.checkGroup(&catalog.Groups[i], nil)
	}
	for _, name := range sortedKeys(v.groups) {
		if !v.groups[name] {
			v.err = multierr.Append(v.err, fmt.Errorf("group '%s' is referenced but never defined", name))
		}
	}
	for _, name := range sortedKeys(v.resources) {
		if !v.resources[name] {
			v.err = multierr.Append(v.err, fmt.Errorf("resource '%s' is referenced but never defined", name))
		}
	}
	return v.err
}

type catalogValidator struct {
	// name -> defined
	groups    map[string]bool
	resources map[string]bool
	err       error
}

func (v *catalogValidator) checkGroup(group *GroupConfig, path []string) {
	if !NameRegExp.MatchString(group.Name) {
		v.err = multierr.Append(v.err, fmt.Errorf("invalid group name '%s'", group.Name))
		return
	}
	for _, parent := range path {
		if parent == group.Name {
			v.err = multierr.Append(v.err, fmt.Errorf("group '%s' contains itself", group.Name))
			return
		}
	}
	if group.IsReference() {
		if _, ok := v.groups[group.Name]; !ok {
			v.groups[group.Name] = false
		}
		return
	}
	if v.groups[group.Name] {
		v.err = multierr.Append(v.err, fmt.Errorf("group '%s' is defined more than once", group.Name))
		return
	}
	v.groups[group.Name] = true
	if group.Type == "" {
		v.err = multierr.Append(v.err, fmt.Errorf("group '%s' has no type", group.Name))
	}
	path = append(path, group.Name)
	for i := range group.Groups {
		v.checkGroup(&group.Groups[i], path)
	}
	for i := range group.Resources {
		v.checkResource(&group.Resources[i])
	}
}

func (v *catalogValidator) checkResource(res *ResourceConfig) {
	if !NameRegExp.MatchString(res.Name) {
		v.err = multierr.Append(v.err, fmt.Errorf("invalid resource name '%s'", res.Name))
		return
	}
	if res.IsReference() {
		if _, ok := v.resources[res.Name]; !ok {
			v.resources[res.Name] = false
		}
		return
	}
	if v.resources[res.Name] {
		v.err = multierr.Append(v.err, fmt.Errorf("resource '%s' is defined more than once", res.Name))
		return
	}
	v.resources[res.Name] = true
	if _, err := objects.ParseResourceType(res.Type); err != nil {
		v.err = multierr.Append(v.err, fmt.Errorf("resource '%s': %w", res.Name, err))
	}
	if res.Total < 0 {
		v.err = multierr.Append(v.err, fmt.Errorf("resource '%s' has negative total capacity", res.Name))
	}
	if available := res.AvailableCapacity(); available < 0 || available > res.Total {
		v.err = multierr.Append(v.err, fmt.Errorf("resource '%s' available capacity %d outside [0, %d]",
			res.Name, available, res.Total))
	}
}
