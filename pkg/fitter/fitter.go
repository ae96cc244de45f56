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

package fitter

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// summable claim properties are added up when claims are merged or an estimate is collapsed
var summableProperties = map[string]bool{
	"nr_of_uv_files":   true,
	"nr_of_cs_files":   true,
	"nr_of_is_files":   true,
	"nr_of_im_files":   true,
	"nr_of_img_files":  true,
	"nr_of_pulp_files": true,
}

// FileGroup describes the files of one data product type, optionally for one sub array pointing.
type FileGroup struct {
	SAPNr      *int                `json:"sap_nr,omitempty"`
	Properties map[string]Quantity `json:"properties"`
}

// Estimate is an abstract need: the resource types map to a quantity, the whole set is placed
// ResourceCount times somewhere under the root resource group. RCUs is a bit pattern of the rcu
// boards used, its claim size is the number of set bits.
type Estimate struct {
	RootResourceGroup string                 `json:"root_resource_group"`
	ResourceCount     int                    `json:"resource_count"`
	ResourceTypes     Capacity               `json:"resource_types"`
	RCUs              string                 `json:"rcus,omitempty"`
	InputFiles        map[string][]FileGroup `json:"input_files,omitempty"`
	OutputFiles       map[string][]FileGroup `json:"output_files,omitempty"`
}

func (e *Estimate) validate() error {
	if e.RootResourceGroup == "" {
		return common.NewValidationError("estimate without root_resource_group")
	}
	if e.ResourceCount < 1 {
		return common.NewValidationError("resource_count %d must be at least 1", e.ResourceCount)
	}
	if len(e.ResourceTypes) == 0 && e.RCUs == "" {
		return common.NewValidationError("estimate without resource types")
	}
	for rt, q := range e.ResourceTypes {
		if q < 0 {
			return common.NewValidationError("negative quantity %d for %s", q, rt)
		}
	}
	if strings.Trim(e.RCUs, "01") != "" {
		return common.NewValidationError("rcus '%s' is not a bit pattern", e.RCUs)
	}
	return nil
}

// needs returns the quantity per needed type, the rcu need counts the set bits of the pattern.
func (e *Estimate) needs() Capacity {
	needs := e.ResourceTypes.Clone()
	if e.RCUs != "" {
		needs[objects.RCU] = Quantity(strings.Count(e.RCUs, "1"))
	}
	return needs
}

// fileProperties converts the file descriptions into claim properties, inputs first.
func (e *Estimate) fileProperties() []objects.ClaimProperty {
	var properties []objects.ClaimProperty
	for _, files := range []struct {
		groups map[string][]FileGroup
		io     objects.IOType
	}{{e.InputFiles, objects.Input}, {e.OutputFiles, objects.Output}} {
		dataProducts := make([]string, 0, len(files.groups))
		for dp := range files.groups {
			dataProducts = append(dataProducts, dp)
		}
		sort.Strings(dataProducts)
		for _, dp := range dataProducts {
			for _, group := range files.groups[dp] {
				names := make([]string, 0, len(group.Properties))
				for name := range group.Properties {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					properties = append(properties, objects.ClaimProperty{
						Type:   name,
						Value:  int64(group.Properties[name]),
						IOType: files.io,
						SAPNr:  group.SAPNr,
					})
				}
			}
		}
	}
	return properties
}

// Resource is the fitter view of a catalog resource for the requested window.
type Resource struct {
	ID        int64
	Type      objects.ResourceType
	Active    bool
	Claimable int64
	Available int64
}

// Snapshot is the read-only input of a fit: the resources and the group graph.
type Snapshot struct {
	Resources map[int64]*Resource
	Groups    map[int64]*objects.ResourceGroup
}

// NewSnapshot builds a snapshot from catalog records. Resources without a claimable capacity have
// nothing to claim.
func NewSnapshot(resources []*objects.Resource, memberships *objects.GroupMemberships) *Snapshot {
	s := &Snapshot{
		Resources: make(map[int64]*Resource, len(resources)),
		Groups:    make(map[int64]*objects.ResourceGroup),
	}
	for _, r := range resources {
		var claimable int64
		if r.ClaimableCapacity != nil {
			claimable = *r.ClaimableCapacity
		}
		s.Resources[r.ID] = &Resource{
			ID:        r.ID,
			Type:      r.Type,
			Active:    r.Active,
			Claimable: claimable,
			Available: r.AvailableCapacity,
		}
	}
	if memberships != nil {
		s.Groups = memberships.Groups
	}
	return s
}

func (s *Snapshot) groupByName(name string) (*objects.ResourceGroup, error) {
	for _, g := range s.Groups {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, common.NewValidationError("%s '%s'", common.UnknownRootGroup, name)
}

// candidate is a set of resources in one group, one per needed type
type candidate map[objects.ResourceType]*Resource

// view is the capacity of a snapshot minus what the fit consumed so far. The snapshot itself is
// never changed.
type view struct {
	snapshot *Snapshot
	used     map[int64]Quantity
}

func newView(snapshot *Snapshot) *view {
	return &view{snapshot: snapshot, used: make(map[int64]Quantity)}
}

func (v *view) claimable(r *Resource) Quantity {
	return Quantity(r.Claimable) - v.used[r.ID]
}

func (v *view) capacity(c candidate) Capacity {
	capacity := make(Capacity, len(c))
	for rt, r := range c {
		capacity[rt] = v.claimable(r)
	}
	return capacity
}

// candidates walks the group graph breadth first from the root. Every group with an active, not full
// resource for each needed type is a candidate, the last matching resource of a type wins.
func (v *view) candidates(root *objects.ResourceGroup, needs Capacity) []candidate {
	var result []candidate
	visited := map[int64]bool{root.ID: true}
	queue := []*objects.ResourceGroup{root}
	for len(queue) > 0 {
		group := queue[0]
		queue = queue[1:]
		c := candidate{}
		for _, id := range group.ResourceIDs {
			r, ok := v.snapshot.Resources[id]
			if !ok {
				continue
			}
			if _, needed := needs[r.Type]; needed && r.Active && r.Available > 0 {
				c[r.Type] = r
			}
		}
		if len(c) == len(needs) {
			result = append(result, c)
		}
		for _, childID := range group.ChildIDs {
			if child, ok := v.snapshot.Groups[childID]; ok && !visited[childID] {
				visited[childID] = true
				queue = append(queue, child)
			}
		}
	}
	return result
}

func sortType(needs Capacity) objects.ResourceType {
	if _, ok := needs[objects.Storage]; ok {
		return objects.Storage
	}
	return needs.types()[0]
}

func onlyRCU(needs Capacity) bool {
	_, ok := needs[objects.RCU]
	return ok && len(needs) == 1
}

// fitOne places one instance of the needs on the candidate with the most claimable capacity of the
// sort type that has room for every type. Rcu needs are not checked against capacity, an rcu only
// need without room yields no claims.
func (v *view) fitOne(needs Capacity, rcus string, candidates []candidate, properties []objects.ClaimProperty) ([]*objects.ResourceClaim, error) {
	if len(candidates) == 0 {
		if onlyRCU(needs) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: no candidate resources for %s", common.ErrCouldNotFindClaim, needs)
	}
	st := sortType(needs)
	sort.SliceStable(candidates, func(i, j int) bool {
		l, r := candidates[i][st], candidates[j][st]
		if lc, rc := v.claimable(l), v.claimable(r); lc != rc {
			return lc > rc
		}
		return l.ID < r.ID
	})
	for _, c := range candidates {
		if !FitIn(v.capacity(c), needs, objects.RCU) {
			continue
		}
		claims := make([]*objects.ResourceClaim, 0, len(needs))
		for _, rt := range needs.types() {
			r := c[rt]
			claim := &objects.ResourceClaim{
				ResourceID:   r.ID,
				ResourceType: rt,
				Size:         int64(needs[rt]),
				Status:       objects.Tentative,
			}
			if rt == objects.RCU {
				claim.UsedRCUs = rcus
			}
			if rt == objects.Storage && len(properties) > 0 {
				claim.Properties = append([]objects.ClaimProperty(nil), properties...)
			}
			v.used[r.ID] += needs[rt]
			claims = append(claims, claim)
		}
		return claims, nil
	}
	if onlyRCU(needs) {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: no resources with enough capacity for %s", common.ErrCouldNotFindClaim, needs)
}

func (v *view) fitEstimate(e *Estimate) ([]*objects.ResourceClaim, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	root, err := v.snapshot.groupByName(e.RootResourceGroup)
	if err != nil {
		return nil, err
	}
	needs := e.needs()
	properties := e.fileProperties()
	candidates := v.candidates(root, needs)
	count := e.ResourceCount
	// a single location gets the whole estimate as one claim per type
	if len(candidates) == 1 && count > 1 {
		needs = needs.MultiplyBy(count, objects.RCU)
		for i := range properties {
			if summableProperties[properties[i].Type] {
				properties[i].Value *= int64(count)
			}
		}
		count = 1
	}
	log.Log(log.Fitter).Debug("fitting estimate",
		zap.String("rootGroup", e.RootResourceGroup),
		zap.Stringer("needs", needs),
		zap.Int("count", count),
		zap.Int("candidates", len(candidates)))
	var claims []*objects.ResourceClaim
	for i := 0; i < count; i++ {
		fitted, err := v.fitOne(needs, e.RCUs, candidates, properties)
		if err != nil {
			return nil, fmt.Errorf("instance %d of %d: %w", i+1, count, err)
		}
		claims = append(claims, fitted...)
	}
	return claims, nil
}

// Fit finds tentative claims for all estimates. Estimates are placed in order, each one sees the
// capacity taken by the ones before it. Any estimate that does not fit fails the whole fit. Claims
// on the same resource are merged, the returned claims have no window.
func Fit(estimates []*Estimate, snapshot *Snapshot) ([]*objects.ResourceClaim, error) {
	v := newView(snapshot)
	var claims []*objects.ResourceClaim
	for i, e := range estimates {
		fitted, err := v.fitEstimate(e)
		if err != nil {
			return nil, fmt.Errorf("estimate %d: %w", i, err)
		}
		claims = append(claims, fitted...)
	}
	return mergeClaims(claims), nil
}

// mergeClaims combines claims on the same resource into one claim, in resource id order.
func mergeClaims(claims []*objects.ResourceClaim) []*objects.ResourceClaim {
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].ResourceID < claims[j].ResourceID
	})
	var merged []*objects.ResourceClaim
	for _, c := range claims {
		if n := len(merged); n > 0 && merged[n-1].ResourceID == c.ResourceID {
			last := merged[n-1]
			last.Size += c.Size
			last.Properties = mergeProperties(last.Properties, c.Properties)
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

func sameSAP(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// mergeProperties adds the properties of other to base: summable values of the same type, sap and
// io type are added, other duplicates are kept once.
func mergeProperties(base, other []objects.ClaimProperty) []objects.ClaimProperty {
	result := append([]objects.ClaimProperty(nil), base...)
	for _, p := range other {
		found := false
		for i := range result {
			if result[i].Type != p.Type || result[i].IOType != p.IOType || !sameSAP(result[i].SAPNr, p.SAPNr) {
				continue
			}
			if summableProperties[p.Type] {
				result[i].Value += p.Value
			} else if result[i].Value != p.Value {
				log.Log(log.Fitter).Warn("same claim property with different values, keeping the first",
					zap.String("type", p.Type),
					zap.Int64("kept", result[i].Value),
					zap.Int64("dropped", p.Value))
			}
			found = true
			break
		}
		if !found {
			result = append(result, p)
		}
	}
	return result
}
