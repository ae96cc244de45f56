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
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/metrics"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// claim returns a stored claim without its properties.
func (t *txn) claim(id int64) (*objects.ResourceClaim, error) {
	c, err := scanClaim(t.queryRow(`SELECT `+claimColumns+claimFrom+` WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("resource claim", id)
	}
	return c, err
}

// taskClaims returns the claims of a task in id order, optionally only those with the given status.
func (t *txn) taskClaims(taskID int64, status *objects.ClaimStatus) ([]*objects.ResourceClaim, error) {
	w := &where{}
	w.add("c.task_id = ?", taskID)
	if status != nil {
		w.add("c.status = ?", status.String())
	}
	rows, err := t.query(`SELECT `+claimColumns+claimFrom+w.String()+` ORDER BY c.id`, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanClaim)
}

// claimCounts returns the number of claims of a task per status.
func (t *txn) claimCounts(taskID int64) (map[objects.ClaimStatus]int, error) {
	rows, err := t.query(`SELECT status, COUNT(*) FROM resource_claim WHERE task_id = ? GROUP BY status`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[objects.ClaimStatus]int)
	for rows.Next() {
		var name string
		var count int
		if err = rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		status, err := objects.ParseClaimStatus(name)
		if err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func validateProperties(claimIdx int, properties []objects.ClaimProperty) error {
	var errs error
	for _, p := range properties {
		if p.Type == "" {
			errs = multierr.Append(errs, common.NewValidationError("claim %d: property without type", claimIdx))
		}
		if p.IOType.String() == "unknown" {
			errs = multierr.Append(errs, common.NewValidationError("claim %d: property %s has an unknown io type", claimIdx, p.Type))
		}
	}
	return errs
}

func (t *txn) insertProperties(claimID int64, properties []objects.ClaimProperty) error {
	for _, p := range properties {
		var sapNr interface{}
		if p.SAPNr != nil {
			sapNr = *p.SAPNr
		}
		if _, err := t.exec(`INSERT INTO resource_claim_property (claim_id, type, value, io_type, sap_nr) VALUES (?, ?, ?, ?, ?)`,
			claimID, p.Type, p.Value, p.IOType.String(), sapNr); err != nil {
			return translateError(err, "failed to insert property %s of claim %d", p.Type, claimID)
		}
	}
	return nil
}

// properties returns the properties of the given claims in insert order.
func (t *txn) properties(claimIDs []int64) (map[int64][]objects.ClaimProperty, error) {
	result := make(map[int64][]objects.ClaimProperty)
	if len(claimIDs) == 0 {
		return result, nil
	}
	w := &where{}
	w.in("claim_id", int64Args(claimIDs))
	rows, err := t.query(`SELECT claim_id, type, value, io_type, sap_nr FROM resource_claim_property`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var claimID int64
		var p objects.ClaimProperty
		var ioType string
		var sapNr sql.NullInt64
		if err = rows.Scan(&claimID, &p.Type, &p.Value, &ioType, &sapNr); err != nil {
			return nil, err
		}
		if p.IOType, err = objects.ParseIOType(ioType); err != nil {
			return nil, err
		}
		if sapNr.Valid {
			nr := int(sapNr.Int64)
			p.SAPNr = &nr
		}
		result[claimID] = append(result[claimID], p)
	}
	return result, rows.Err()
}

// claimStatusChanged maintains the conflict reasons of a claim and marks its task for the cascade
// when the claim entered or left conflict.
func (t *txn) claimStatusChanged(from, to *objects.ResourceClaim) error {
	if from.Status == to.Status {
		return nil
	}
	metrics.GetRADBMetrics().IncClaimTransition(from.Status.String(), to.Status.String())
	log.Log(log.Claims).Debug("claim status changed",
		zap.Int64("claimID", to.ID),
		zap.Int64("taskID", to.TaskID),
		zap.Int64("resourceID", to.ResourceID),
		zap.Stringer("from", from.Status),
		zap.Stringer("to", to.Status))
	if from.Status == objects.ClaimConflict {
		if _, err := t.exec(`DELETE FROM resource_claim_conflict_reason WHERE claim_id = ?`, to.ID); err != nil {
			return err
		}
		t.markTask(to.TaskID)
	}
	if to.Status == objects.ClaimConflict {
		if _, err := t.exec(`INSERT OR IGNORE INTO resource_claim_conflict_reason (claim_id, reason) VALUES (?, ?)`,
			to.ID, common.NotEnoughCapacity); err != nil {
			return err
		}
		t.markTask(to.TaskID)
	}
	return nil
}

// replaceClaim writes the new version of a stored claim and moves its contribution along.
func (t *txn) replaceClaim(stored, updated *objects.ResourceClaim) error {
	usageChanged := stored.Status != updated.Status || stored.Size != updated.Size ||
		!stored.StartTime.Equal(updated.StartTime) || !stored.EndTime.Equal(updated.EndTime)
	if usageChanged {
		if err := t.removeContribution(stored); err != nil {
			return err
		}
	}
	if _, err := t.exec(`UPDATE resource_claim SET starttime = ?, endtime = ?, claim_size = ?, status = ?, username = ?, user_id = ?, used_rcus = ?
		WHERE id = ?`,
		common.ToNanos(updated.StartTime), common.ToNanos(updated.EndTime), updated.Size, updated.Status.String(),
		updated.Username, updated.UserID, updated.UsedRCUs, updated.ID); err != nil {
		return translateError(err, "failed to update claim %d", updated.ID)
	}
	if usageChanged {
		if err := t.addContribution(updated); err != nil {
			return err
		}
	}
	return t.claimStatusChanged(stored, updated)
}

// setClaimStatus changes the status of a stored claim, c is updated.
func (t *txn) setClaimStatus(c *objects.ResourceClaim, status objects.ClaimStatus) error {
	if c.Status == status {
		return nil
	}
	updated := *c
	updated.Status = status
	if err := t.replaceClaim(c, &updated); err != nil {
		return err
	}
	c.Status = status
	return nil
}

// deleteClaim removes a claim and its contribution.
func (t *txn) deleteClaim(c *objects.ResourceClaim, reason string) error {
	if err := t.removeContribution(c); err != nil {
		return err
	}
	if _, err := t.exec(`DELETE FROM resource_claim WHERE id = ?`, c.ID); err != nil {
		return err
	}
	if c.Status == objects.ClaimConflict {
		t.markTask(c.TaskID)
	}
	metrics.GetRADBMetrics().AddClaimsDeleted(reason, 1)
	return nil
}

func (t *txn) validateNewClaim(idx int, c *objects.ResourceClaim) error {
	var errs error
	if _, err := t.resource(c.ResourceID); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := validWindow(c.StartTime, c.EndTime); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("claim %d: %w", idx, err))
	}
	if c.Size < 0 {
		errs = multierr.Append(errs, common.NewValidationError("claim %d: negative claim size %d", idx, c.Size))
	}
	if c.Status == objects.ClaimConflict {
		errs = multierr.Append(errs, common.NewValidationError("claim %d: %s", idx, common.ConflictStatusRequested))
	}
	return multierr.Append(errs, validateProperties(idx, c.Properties))
}

// insertClaim stores a new claim for the task. A claim that does not fit is stored as conflict.
func (t *txn) insertClaim(taskID int64, c *objects.ResourceClaim, username string, userID int64) (int64, error) {
	claim := *c
	claim.TaskID = taskID
	claim.StartTime = c.StartTime.UTC()
	claim.EndTime = c.EndTime.UTC()
	if claim.Username == "" {
		claim.Username = username
	}
	if claim.UserID == 0 {
		claim.UserID = userID
	}
	fits, err := t.fits(&claim, nil)
	if err != nil {
		return 0, err
	}
	if !fits {
		claim.Status = objects.ClaimConflict
	}
	r, _ := t.resource(claim.ResourceID) //nolint:errcheck
	claim.ResourceType = r.Type
	res, err := t.exec(`INSERT INTO resource_claim (resource_id, task_id, starttime, endtime, claim_size, status, username, user_id, used_rcus)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ResourceID, taskID, common.ToNanos(claim.StartTime), common.ToNanos(claim.EndTime), claim.Size,
		claim.Status.String(), claim.Username, claim.UserID, claim.UsedRCUs)
	if err != nil {
		return 0, translateError(err, "failed to insert claim on resource %d", claim.ResourceID)
	}
	if claim.ID, err = res.LastInsertId(); err != nil {
		return 0, err
	}
	if err = t.insertProperties(claim.ID, claim.Properties); err != nil {
		return 0, err
	}
	if err = t.addContribution(&claim); err != nil {
		return 0, err
	}
	if claim.Status == objects.ClaimConflict {
		if err = t.claimStatusChanged(&objects.ResourceClaim{ID: claim.ID, TaskID: taskID, Status: c.Status}, &claim); err != nil {
			return 0, err
		}
	}
	t.markTask(taskID)
	metrics.GetRADBMetrics().IncClaimsInserted(claim.Status.String())
	return claim.ID, nil
}

// InsertResourceClaims adds claims to a task and returns their ids in order. The requested status of
// each claim must be tentative or claimed; claims that do not fit are stored as conflict and put the
// task in conflict. The conflict cascade settles after each claim.
func (d *Database) InsertResourceClaims(ctx context.Context, taskID int64, claims []*objects.ResourceClaim, username string, userID int64) ([]int64, error) {
	var ids []int64
	err := d.write(ctx, "InsertResourceClaims", func(tx *txn) error {
		ids = make([]int64, 0, len(claims))
		if _, err := tx.task(taskID); err != nil {
			return err
		}
		var errs error
		for i, c := range claims {
			errs = multierr.Append(errs, tx.validateNewClaim(i, c))
		}
		if errs != nil {
			return errs
		}
		for _, c := range claims {
			id, err := tx.insertClaim(taskID, c, username, userID)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			if err = tx.settle(); err != nil {
				return err
			}
		}
		log.Log(log.Claims).Info("inserted resource claims",
			zap.Int64("taskID", taskID),
			zap.Int("count", len(ids)))
		return nil
	})
	return ids, err
}

// InsertResourceClaim adds a single claim to a task.
func (d *Database) InsertResourceClaim(ctx context.Context, taskID int64, claim *objects.ResourceClaim, username string, userID int64) (int64, error) {
	ids, err := d.InsertResourceClaims(ctx, taskID, []*objects.ResourceClaim{claim}, username, userID)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertResourceClaimProperties adds properties to an existing claim.
func (d *Database) InsertResourceClaimProperties(ctx context.Context, claimID int64, properties []objects.ClaimProperty) error {
	return d.write(ctx, "InsertResourceClaimProperties", func(tx *txn) error {
		if _, err := tx.claim(claimID); err != nil {
			return err
		}
		if err := validateProperties(0, properties); err != nil {
			return err
		}
		return tx.insertProperties(claimID, properties)
	})
}

// GetResourceClaimProperties returns the properties of the given claims.
func (d *Database) GetResourceClaimProperties(ctx context.Context, claimIDs []int64) (map[int64][]objects.ClaimProperty, error) {
	var result map[int64][]objects.ClaimProperty
	err := d.read(ctx, "GetResourceClaimProperties", func(tx *txn) error {
		var err error
		result, err = tx.properties(claimIDs)
		return err
	})
	return result, err
}

func (t *txn) claims(filter ClaimFilter) ([]*objects.ResourceClaim, error) {
	w := &where{}
	if filter.ClaimIDs != nil {
		w.in("c.id", int64Args(filter.ClaimIDs))
	}
	if filter.ResourceIDs != nil {
		w.in("c.resource_id", int64Args(filter.ResourceIDs))
	}
	if filter.TaskIDs != nil {
		var include, exclude []int64
		for _, id := range filter.TaskIDs {
			if id < 0 {
				exclude = append(exclude, -id)
			} else {
				include = append(include, id)
			}
		}
		if len(include) > 0 || len(exclude) == 0 {
			w.in("c.task_id", int64Args(include))
		}
		w.notIn("c.task_id", int64Args(exclude))
	}
	if filter.Statuses != nil {
		w.in("c.status", nameArgs(filter.Statuses))
	}
	if filter.ResourceTypes != nil {
		w.in("r.type", nameArgs(filter.ResourceTypes))
	}
	if filter.LowerBound != nil {
		w.add("c.endtime >= ?", common.ToNanos(*filter.LowerBound))
	}
	if filter.UpperBound != nil {
		w.add("c.starttime <= ?", common.ToNanos(*filter.UpperBound))
	}
	rows, err := t.query(`SELECT `+claimColumns+claimFrom+w.String()+` ORDER BY c.id`, w.args...)
	if err != nil {
		return nil, err
	}
	claims, err := collect(rows, scanClaim)
	if err != nil || !filter.IncludeProperties {
		return claims, err
	}
	ids := make([]int64, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	properties, err := t.properties(ids)
	if err != nil {
		return nil, err
	}
	for _, c := range claims {
		c.Properties = properties[c.ID]
	}
	return claims, nil
}

// GetResourceClaims returns the claims matching the filter in id order.
func (d *Database) GetResourceClaims(ctx context.Context, filter ClaimFilter) ([]*objects.ResourceClaim, error) {
	var result []*objects.ResourceClaim
	err := d.read(ctx, "GetResourceClaims", func(tx *txn) error {
		var err error
		result, err = tx.claims(filter)
		return err
	})
	return result, err
}

// GetResourceClaim returns a claim with its properties.
func (d *Database) GetResourceClaim(ctx context.Context, claimID int64) (*objects.ResourceClaim, error) {
	var result *objects.ResourceClaim
	err := d.read(ctx, "GetResourceClaim", func(tx *txn) error {
		claims, err := tx.claims(ClaimFilter{ClaimIDs: []int64{claimID}, IncludeProperties: true})
		if err != nil {
			return err
		}
		if len(claims) == 0 {
			return common.NewNotFoundError("resource claim", claimID)
		}
		result = claims[0]
		return nil
	})
	return result, err
}

// selectClaimIDs returns the ids of the claims an update applies to. Every explicitly given claim id
// must exist.
func (t *txn) selectClaimIDs(claimIDs, taskIDs []int64, resourceTypes []objects.ResourceType) ([]int64, error) {
	if claimIDs == nil && taskIDs == nil {
		return nil, common.NewValidationError("no claim ids or task ids given")
	}
	filter := ClaimFilter{ClaimIDs: claimIDs, TaskIDs: taskIDs}
	if len(resourceTypes) > 0 {
		filter.ResourceTypes = resourceTypes
	}
	claims, err := t.claims(filter)
	if err != nil {
		return nil, err
	}
	found := make(map[int64]bool, len(claims))
	ids := make([]int64, 0, len(claims))
	for _, c := range claims {
		found[c.ID] = true
		ids = append(ids, c.ID)
	}
	if len(resourceTypes) == 0 {
		for _, id := range claimIDs {
			if !found[id] {
				return nil, common.NewNotFoundError("resource claim", id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func validateClaimUpdate(upd *ClaimUpdate) error {
	var errs error
	if upd.Status != nil && *upd.Status == objects.ClaimConflict {
		errs = multierr.Append(errs, common.NewValidationError(common.ConflictStatusRequested))
	}
	if upd.Size != nil && *upd.Size < 0 {
		errs = multierr.Append(errs, common.NewValidationError("negative claim size %d", *upd.Size))
	}
	if upd.StartTime != nil && upd.EndTime != nil {
		errs = multierr.Append(errs, validWindow(*upd.StartTime, *upd.EndTime))
	}
	return errs
}

// updateClaim applies an update to one claim and decides its new status:
//   - an explicit claimed request is checked against the claimable capacity, a conflict claim that
//     still does not fit fails the update
//   - claims of tasks that are past queued are changed without checks
//   - a claimed claim that no longer fits after a window or size change becomes conflict
//   - tentative and conflict claims are evaluated again
func (t *txn) updateClaim(id int64, upd *ClaimUpdate) error {
	stored, err := t.claim(id)
	if err != nil {
		return err
	}
	if upd.ResourceID != nil && *upd.ResourceID != stored.ResourceID {
		return common.NewValidationError("claim %d cannot move to another resource", id)
	}
	if upd.TaskID != nil && *upd.TaskID != stored.TaskID {
		return common.NewValidationError("claim %d cannot move to another task", id)
	}
	task, err := t.task(stored.TaskID)
	if err != nil {
		return err
	}
	updated := *stored
	if upd.StartTime != nil {
		updated.StartTime = upd.StartTime.UTC()
	}
	if upd.EndTime != nil {
		updated.EndTime = upd.EndTime.UTC()
	}
	if upd.Size != nil {
		updated.Size = *upd.Size
	}
	if upd.Username != nil {
		updated.Username = *upd.Username
	}
	if upd.UserID != nil {
		updated.UserID = *upd.UserID
	}
	if upd.UsedRCUs != nil {
		updated.UsedRCUs = *upd.UsedRCUs
	}
	if err = validWindow(updated.StartTime, updated.EndTime); err != nil {
		return fmt.Errorf("claim %d: %w", id, err)
	}
	target := stored.Status
	if upd.Status != nil {
		target = *upd.Status
	}
	usageChanged := stored.Size != updated.Size ||
		!stored.StartTime.Equal(updated.StartTime) || !stored.EndTime.Equal(updated.EndTime)

	switch {
	case target == objects.Claimed && stored.Status != objects.Claimed:
		if task.Status == objects.Conflict {
			return common.NewValidationError("claim %d cannot be claimed, task %d is in conflict", id, task.ID)
		}
		fits, err := t.fits(&updated, stored)
		if err != nil {
			return err
		}
		switch {
		case fits:
			updated.Status = objects.Claimed
		case stored.Status == objects.ClaimConflict:
			return fmt.Errorf("%w: claim %d of %d units on resource %d", common.ErrClaimDoesNotFit, id, updated.Size, updated.ResourceID)
		default:
			updated.Status = objects.ClaimConflict
		}
	case task.Status.IsPastQueued():
		updated.Status = target
	case target == objects.Claimed:
		updated.Status = objects.Claimed
		if usageChanged {
			fits, err := t.fits(&updated, stored)
			if err != nil {
				return err
			}
			if !fits {
				updated.Status = objects.ClaimConflict
			}
		}
	default:
		fits, err := t.fits(&updated, stored)
		if err != nil {
			return err
		}
		updated.Status = objects.Tentative
		if !fits {
			updated.Status = objects.ClaimConflict
		}
	}
	return t.replaceClaim(stored, &updated)
}

// updateClaims applies an update to the selected claims in id order, the conflict cascade settles
// after each claim.
func (t *txn) updateClaims(upd *ClaimUpdate) (int, error) {
	if err := validateClaimUpdate(upd); err != nil {
		return 0, err
	}
	ids, err := t.selectClaimIDs(upd.ClaimIDs, upd.TaskIDs, upd.ResourceTypes)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err = t.updateClaim(id, upd); err != nil {
			return 0, err
		}
		if err = t.settle(); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// UpdateResourceClaims changes the selected claims and returns the number of claims updated.
func (d *Database) UpdateResourceClaims(ctx context.Context, upd ClaimUpdate) (int, error) {
	var count int
	err := d.write(ctx, "UpdateResourceClaims", func(tx *txn) error {
		var err error
		count, err = tx.updateClaims(&upd)
		return err
	})
	return count, err
}

// UpdateResourceClaim changes a single claim.
func (d *Database) UpdateResourceClaim(ctx context.Context, claimID int64, upd ClaimUpdate) error {
	upd.ClaimIDs = []int64{claimID}
	upd.TaskIDs = nil
	upd.ResourceTypes = nil
	_, err := d.UpdateResourceClaims(ctx, upd)
	return err
}

// DeleteResourceClaims removes claims and their contribution to the usage. Every id must exist.
func (d *Database) DeleteResourceClaims(ctx context.Context, claimIDs []int64) (int, error) {
	var count int
	err := d.write(ctx, "DeleteResourceClaims", func(tx *txn) error {
		count = 0
		ids, err := tx.selectClaimIDs(claimIDs, nil, nil)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c, err := tx.claim(id)
			if err != nil {
				return err
			}
			if err = tx.deleteClaim(c, "deleted"); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// DeleteResourceClaim removes a single claim.
func (d *Database) DeleteResourceClaim(ctx context.Context, claimID int64) error {
	_, err := d.DeleteResourceClaims(ctx, []int64{claimID})
	return err
}
