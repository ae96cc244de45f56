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

package radb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// FillRatioPrefix starts the name of every max fill ratio in the allocation config, the full name is
// max_fill_ratio_<group name>_<resource type>.
const FillRatioPrefix = "max_fill_ratio_"

// ResourceTypeInfo names a resource type and its unit.
type ResourceTypeInfo struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// CatalogSummary counts the records a catalog load created or refreshed.
type CatalogSummary struct {
	Groups      int `json:"groups"`
	Resources   int `json:"resources"`
	Memberships int `json:"memberships"`
}

func (t *txn) groupExists(id int64) error {
	var found int64
	err := t.queryRow(`SELECT id FROM resource_group WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return common.NewNotFoundError("resource group", id)
	}
	return err
}

// insertGroupMembership links a child group to a parent group, refusing links that would make the
// group graph cyclic. Linking twice is not an error.
func (t *txn) insertGroupMembership(childID, parentID int64) error {
	for _, id := range []int64{childID, parentID} {
		if err := t.groupExists(id); err != nil {
			return err
		}
	}
	var cyclic int
	err := t.queryRow(`WITH RECURSIVE descendants(id) AS (
			SELECT ?
			UNION
			SELECT m.child_id FROM resource_group_membership m JOIN descendants d ON m.parent_id = d.id
		) SELECT COUNT(*) FROM descendants WHERE id = ?`, childID, parentID).Scan(&cyclic)
	if err != nil {
		return err
	}
	if cyclic > 0 {
		return common.NewValidationError("group %d cannot become a child of group %d, the group graph would contain a cycle", childID, parentID)
	}
	_, err = t.exec(`INSERT OR IGNORE INTO resource_group_membership (child_id, parent_id) VALUES (?, ?)`, childID, parentID)
	return translateError(err, "failed to link group %d to parent %d", childID, parentID)
}

func (t *txn) insertResourceMembership(resourceID, groupID int64) error {
	if _, err := t.resource(resourceID); err != nil {
		return err
	}
	if err := t.groupExists(groupID); err != nil {
		return err
	}
	_, err := t.exec(`INSERT OR IGNORE INTO resource_membership (resource_id, group_id) VALUES (?, ?)`, resourceID, groupID)
	return translateError(err, "failed to link resource %d to group %d", resourceID, groupID)
}

// InsertResourceGroup adds a group under the given parents and returns its id.
func (d *Database) InsertResourceGroup(ctx context.Context, name, groupType string, parentIDs []int64) (int64, error) {
	var id int64
	err := d.write(ctx, "InsertResourceGroup", func(tx *txn) error {
		if !configs.NameRegExp.MatchString(name) {
			return common.NewValidationError("invalid group name '%s'", name)
		}
		if groupType == "" {
			return common.NewValidationError("group '%s' has no type", name)
		}
		res, err := tx.exec(`INSERT INTO resource_group (name, type) VALUES (?, ?)`, name, groupType)
		if err != nil {
			return translateError(err, "failed to insert group '%s'", name)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, parentID := range parentIDs {
			if err = tx.insertGroupMembership(id, parentID); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// InsertResource adds a resource as a member of the given groups and returns its id.
func (d *Database) InsertResource(ctx context.Context, resource objects.Resource, groupIDs []int64) (int64, error) {
	var id int64
	err := d.write(ctx, "InsertResource", func(tx *txn) error {
		if !configs.NameRegExp.MatchString(resource.Name) {
			return common.NewValidationError("invalid resource name '%s'", resource.Name)
		}
		if err := validateCapacity(resource.TotalCapacity, resource.AvailableCapacity); err != nil {
			return err
		}
		res, err := tx.exec(`INSERT INTO resource (name, type, active, total_capacity, available_capacity) VALUES (?, ?, ?, ?, ?)`,
			resource.Name, resource.Type.String(), resource.Active, resource.TotalCapacity, resource.AvailableCapacity)
		if err != nil {
			return translateError(err, "failed to insert resource '%s'", resource.Name)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, groupID := range groupIDs {
			if err = tx.insertResourceMembership(id, groupID); err != nil {
				return err
			}
		}
		return nil
	})
	return id, err
}

// InsertResourceGroupMembership makes childID a child group of parentID.
func (d *Database) InsertResourceGroupMembership(ctx context.Context, childID, parentID int64) error {
	return d.write(ctx, "InsertResourceGroupMembership", func(tx *txn) error {
		return tx.insertGroupMembership(childID, parentID)
	})
}

// InsertResourceMembership makes a resource a member of a group.
func (d *Database) InsertResourceMembership(ctx context.Context, resourceID, groupID int64) error {
	return d.write(ctx, "InsertResourceMembership", func(tx *txn) error {
		return tx.insertResourceMembership(resourceID, groupID)
	})
}

func validateCapacity(total, available int64) error {
	if total < 0 {
		return common.NewValidationError("negative total capacity %d", total)
	}
	if available < 0 || available > total {
		return common.NewValidationError("available capacity %d outside [0, %d]", available, total)
	}
	return nil
}

// catalogLoader defines groups and resources while walking the catalog and links them afterwards,
// when every referenced name has been defined.
type catalogLoader struct {
	tx              *txn
	summary         CatalogSummary
	groupLinks      [][2]string
	resourceLinks   [][2]string
	groupsByName    map[string]int64
	resourcesByName map[string]int64
}

func (l *catalogLoader) defineGroup(group *configs.GroupConfig, parent string) error {
	if parent != "" {
		l.groupLinks = append(l.groupLinks, [2]string{group.Name, parent})
	}
	if group.IsReference() {
		return nil
	}
	if _, err := l.tx.exec(`INSERT INTO resource_group (name, type) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET type = excluded.type`, group.Name, group.Type); err != nil {
		return translateError(err, "failed to define group '%s'", group.Name)
	}
	l.summary.Groups++
	for i := range group.Groups {
		if err := l.defineGroup(&group.Groups[i], group.Name); err != nil {
			return err
		}
	}
	for i := range group.Resources {
		resource := &group.Resources[i]
		l.resourceLinks = append(l.resourceLinks, [2]string{resource.Name, group.Name})
		if resource.IsReference() {
			continue
		}
		if _, err := l.tx.exec(`INSERT INTO resource (name, type, active, total_capacity, available_capacity) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET type = excluded.type, active = excluded.active,
				total_capacity = excluded.total_capacity, available_capacity = excluded.available_capacity`,
			resource.Name, resource.Type, resource.IsActive(), resource.Total, resource.AvailableCapacity()); err != nil {
			return translateError(err, "failed to define resource '%s'", resource.Name)
		}
		l.summary.Resources++
	}
	return nil
}

func (l *catalogLoader) lookup(table, name string, cache map[string]int64) (int64, error) {
	if id, ok := cache[name]; ok {
		return id, nil
	}
	var id int64
	err := l.tx.queryRow(`SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s '%s' is not defined", common.ErrReference, strings.ReplaceAll(table, "_", " "), name)
	}
	if err != nil {
		return 0, err
	}
	cache[name] = id
	return id, nil
}

func (l *catalogLoader) link() error {
	for _, link := range l.groupLinks {
		childID, err := l.lookup("resource_group", link[0], l.groupsByName)
		if err != nil {
			return err
		}
		parentID, err := l.lookup("resource_group", link[1], l.groupsByName)
		if err != nil {
			return err
		}
		if err = l.tx.insertGroupMembership(childID, parentID); err != nil {
			return err
		}
		l.summary.Memberships++
	}
	for _, link := range l.resourceLinks {
		resourceID, err := l.lookup("resource", link[0], l.resourcesByName)
		if err != nil {
			return err
		}
		groupID, err := l.lookup("resource_group", link[1], l.groupsByName)
		if err != nil {
			return err
		}
		if err = l.tx.insertResourceMembership(resourceID, groupID); err != nil {
			return err
		}
		l.summary.Memberships++
	}
	return nil
}

// LoadCatalog defines the groups and resources of a catalog and their memberships. Loading is
// idempotent: groups and resources are matched by name and refreshed, memberships are only added.
func (d *Database) LoadCatalog(ctx context.Context, catalog *configs.CatalogConfig) (CatalogSummary, error) {
	var summary CatalogSummary
	err := d.write(ctx, "LoadCatalog", func(tx *txn) error {
		if err := configs.ValidateCatalog(catalog); err != nil {
			return fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		loader := &catalogLoader{
			tx:              tx,
			groupsByName:    make(map[string]int64),
			resourcesByName: make(map[string]int64),
		}
		for i := range catalog.Groups {
			if err := loader.defineGroup(&catalog.Groups[i], ""); err != nil {
				return err
			}
		}
		if err := loader.link(); err != nil {
			return err
		}
		summary = loader.summary
		return nil
	})
	if err == nil {
		log.Log(log.Catalog).Info("catalog loaded",
			zap.Int("groups", summary.Groups),
			zap.Int("resources", summary.Resources),
			zap.Int("memberships", summary.Memberships))
	}
	return summary, err
}

// GetResources returns the resources matching the filter in id order.
func (d *Database) GetResources(ctx context.Context, filter ResourceFilter) ([]*objects.Resource, error) {
	var result []*objects.Resource
	err := d.read(ctx, "GetResources", func(tx *txn) error {
		if (filter.ClaimableLowerBound == nil) != (filter.ClaimableUpperBound == nil) {
			return common.NewValidationError("claimable capacity needs both a lower and an upper bound")
		}
		w := &where{}
		if filter.IDs != nil {
			w.in("r.id", int64Args(filter.IDs))
		}
		if filter.Types != nil {
			w.in("r.type", nameArgs(filter.Types))
		}
		rows, err := tx.query(`SELECT `+resourceColumns+` FROM resource r`+w.String()+` ORDER BY r.id`, w.args...)
		if err != nil {
			return err
		}
		if result, err = collect(rows, scanResource); err != nil {
			return err
		}
		for _, r := range result {
			tx.resources[r.ID] = r
			if filter.IncludeAvailability {
				r.UsedCapacity = r.TotalCapacity - r.AvailableCapacity
				if r.MiscUsedCapacity, err = tx.miscUsed(r); err != nil {
					return err
				}
			}
			if filter.ClaimableLowerBound != nil {
				claimable, err := tx.cappedClaimable(r.ID, filter.ClaimableLowerBound.UTC(), filter.ClaimableUpperBound.UTC())
				if err != nil {
					return err
				}
				r.ClaimableCapacity = common.Int64Ptr(claimable)
			}
		}
		return nil
	})
	return result, err
}

// GetResource returns a resource with its availability figures.
func (d *Database) GetResource(ctx context.Context, id int64) (*objects.Resource, error) {
	resources, err := d.GetResources(ctx, ResourceFilter{IDs: []int64{id}, IncludeAvailability: true})
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, common.NewNotFoundError("resource", id)
	}
	return resources[0], nil
}

// UpdateResourceAvailability stores newly observed capacity figures of a resource. The claims on
// the resource are evaluated again against the new figures: claimed claims that no longer fit go to
// conflict, conflict claims that fit again become tentative.
func (d *Database) UpdateResourceAvailability(ctx context.Context, id int64, upd ResourceAvailability) error {
	return d.write(ctx, "UpdateResourceAvailability", func(tx *txn) error {
		r, err := tx.resource(id)
		if err != nil {
			return err
		}
		updated := *r
		if upd.Active != nil {
			updated.Active = *upd.Active
		}
		if upd.Total != nil {
			updated.TotalCapacity = *upd.Total
		}
		if upd.Available != nil {
			updated.AvailableCapacity = *upd.Available
		}
		if updated.TotalCapacity < 0 || updated.AvailableCapacity < 0 {
			return common.NewValidationError("resource %d: capacities cannot be negative", id)
		}
		if updated.AvailableCapacity > updated.TotalCapacity {
			return common.NewValidationError("resource %d: available capacity %d exceeds total capacity %d",
				id, updated.AvailableCapacity, updated.TotalCapacity)
		}
		if _, err = tx.exec(`UPDATE resource SET active = ?, total_capacity = ?, available_capacity = ? WHERE id = ?`,
			updated.Active, updated.TotalCapacity, updated.AvailableCapacity, id); err != nil {
			return err
		}
		delete(tx.resources, id)
		if updated.TotalCapacity == r.TotalCapacity && updated.AvailableCapacity == r.AvailableCapacity {
			return nil
		}
		return tx.recheckCapacity(id)
	})
}

// GetResourceGroupMemberships returns the complete group graph with the group membership of every
// resource.
func (d *Database) GetResourceGroupMemberships(ctx context.Context) (*objects.GroupMemberships, error) {
	var result *objects.GroupMemberships
	err := d.read(ctx, "GetResourceGroupMemberships", func(tx *txn) error {
		result = &objects.GroupMemberships{
			Groups:    make(map[int64]*objects.ResourceGroup),
			Resources: make(map[int64]*objects.ResourceMembership),
		}
		rows, err := tx.query(`SELECT id, name, type FROM resource_group ORDER BY id`)
		if err != nil {
			return err
		}
		groups, err := collect(rows, func(row scanner) (*objects.ResourceGroup, error) {
			g := &objects.ResourceGroup{ParentIDs: []int64{}, ChildIDs: []int64{}, ResourceIDs: []int64{}}
			return g, row.Scan(&g.ID, &g.Name, &g.Type)
		})
		if err != nil {
			return err
		}
		for _, g := range groups {
			result.Groups[g.ID] = g
		}
		rows, err = tx.query(`SELECT id, name FROM resource ORDER BY id`)
		if err != nil {
			return err
		}
		resources, err := collect(rows, func(row scanner) (*objects.ResourceMembership, error) {
			m := &objects.ResourceMembership{ParentGroupIDs: []int64{}}
			return m, row.Scan(&m.ID, &m.Name)
		})
		if err != nil {
			return err
		}
		for _, m := range resources {
			result.Resources[m.ID] = m
		}
		edges, err := tx.pairs(`SELECT child_id, parent_id FROM resource_group_membership ORDER BY child_id, parent_id`)
		if err != nil {
			return err
		}
		for _, e := range edges {
			result.Groups[e[0]].ParentIDs = append(result.Groups[e[0]].ParentIDs, e[1])
			result.Groups[e[1]].ChildIDs = append(result.Groups[e[1]].ChildIDs, e[0])
		}
		edges, err = tx.pairs(`SELECT resource_id, group_id FROM resource_membership ORDER BY resource_id, group_id`)
		if err != nil {
			return err
		}
		for _, e := range edges {
			result.Resources[e[0]].ParentGroupIDs = append(result.Resources[e[0]].ParentGroupIDs, e[1])
			result.Groups[e[1]].ResourceIDs = append(result.Groups[e[1]].ResourceIDs, e[0])
		}
		return nil
	})
	return result, err
}

func (t *txn) pairs(query string, args ...interface{}) ([][2]int64, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row scanner) ([2]int64, error) {
		var pair [2]int64
		err := row.Scan(&pair[0], &pair[1])
		return pair, err
	})
}

// GetResourceGroupNames returns the names of the groups of the given type, of all groups when
// groupType is empty.
func (d *Database) GetResourceGroupNames(ctx context.Context, groupType string) ([]string, error) {
	var result []string
	err := d.read(ctx, "GetResourceGroupNames", func(tx *txn) error {
		w := &where{}
		if groupType != "" {
			w.add("type = ?", groupType)
		}
		rows, err := tx.query(`SELECT name FROM resource_group`+w.String()+` ORDER BY name`, w.args...)
		if err != nil {
			return err
		}
		result, err = collect(rows, func(row scanner) (string, error) {
			var name string
			err := row.Scan(&name)
			return name, err
		})
		return err
	})
	return result, err
}

// GetResourceTypes lists the resource types with their units.
func (d *Database) GetResourceTypes() []ResourceTypeInfo {
	names := objects.ResourceTypeNames()
	result := make([]ResourceTypeInfo, len(names))
	for i, name := range names {
		result[i] = ResourceTypeInfo{Name: name, Unit: objects.ResourceType(i).Unit()}
	}
	return result
}

func validateFillRatio(name string, value float64) error {
	if !strings.HasPrefix(name, FillRatioPrefix) {
		return common.NewValidationError("allocation config '%s' does not start with %s", name, FillRatioPrefix)
	}
	if value <= 0 || value > 1 {
		return common.NewValidationError("allocation config '%s': fill ratio %g must be in (0, 1]", name, value)
	}
	return nil
}

// SetResourceAllocationConfig stores a max fill ratio, named max_fill_ratio_<group>_<type>.
func (d *Database) SetResourceAllocationConfig(ctx context.Context, name string, value float64) error {
	return d.write(ctx, "SetResourceAllocationConfig", func(tx *txn) error {
		if err := validateFillRatio(name, value); err != nil {
			return err
		}
		_, err := tx.exec(`INSERT INTO resource_allocation_config (name, value) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET value = excluded.value`, name, value)
		return err
	})
}

// likeEscaper escapes the LIKE wildcards of a literal pattern, '\' is the escape character.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ApplyAllocationConfig stores the fill ratios of the configuration file, keyed <group>_<type>.
func (d *Database) ApplyAllocationConfig(ctx context.Context, conf configs.AllocationConfig) error {
	return d.write(ctx, "ApplyAllocationConfig", func(tx *txn) error {
		for key, value := range conf.MaxFillRatios {
			name := FillRatioPrefix + key
			if err := validateFillRatio(name, value); err != nil {
				return err
			}
			if _, err := tx.exec(`INSERT INTO resource_allocation_config (name, value) VALUES (?, ?)
				ON CONFLICT (name) DO UPDATE SET value = excluded.value`, name, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetResourceAllocationConfig returns the stored allocation config entries whose name starts with
// prefix, an empty prefix returns all entries.
func (d *Database) GetResourceAllocationConfig(ctx context.Context, prefix string) (map[string]float64, error) {
	var result map[string]float64
	err := d.read(ctx, "GetResourceAllocationConfig", func(tx *txn) error {
		result = make(map[string]float64)
		w := &where{}
		if prefix != "" {
			w.add(`name LIKE ? || '%' ESCAPE '\'`, likeEscaper.Replace(prefix))
		}
		rows, err := tx.query(`SELECT name, value FROM resource_allocation_config`+w.String(), w.args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			var value float64
			if err = rows.Scan(&name, &value); err != nil {
				return err
			}
			result[name] = value
		}
		return rows.Err()
	})
	return result, err
}

// Now returns the instant the database uses as now.
func (d *Database) Now() time.Time {
	return d.now()
}
