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
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// statuses of tasks whose tentative and conflict claims follow the claimed usage
var reevaluatedTaskStatuses = []objects.TaskStatus{
	objects.Prepared, objects.Approved, objects.OnHold, objects.Conflict,
	objects.Prescheduled, objects.Scheduled, objects.Queued,
}

func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// settle runs the conflict cascade until nothing changes:
//   - tentative and conflict claims overlapping a changed window of the claimed usage are evaluated
//     again, in claim id order
//   - tasks of which a claim entered or left conflict follow their claims
//
// The cascade never claims, so the claimed usage only shrinks while settling and the loop ends.
func (t *txn) settle() error {
	for len(t.windows) > 0 || len(t.pendingTasks) > 0 {
		windows := t.windows
		t.windows = make(map[int64]*window)
		for _, resourceID := range sortedIDs(windows) {
			w := windows[resourceID]
			if err := t.reevaluateWindow(resourceID, w.start, w.end); err != nil {
				return err
			}
		}
		tasks := t.pendingTasks
		t.pendingTasks = make(map[int64]bool)
		for _, taskID := range sortedIDs(tasks) {
			if err := t.recomputeTask(taskID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *txn) reevaluateWindow(resourceID int64, start, end time.Time) error {
	w := &where{}
	w.add("c.resource_id = ?", resourceID)
	w.in("c.status", nameArgs([]objects.ClaimStatus{objects.Tentative, objects.ClaimConflict}))
	w.add("c.starttime < ?", common.ToNanos(end))
	w.add("c.endtime > ?", common.ToNanos(start))
	w.in("t.status", nameArgs(reevaluatedTaskStatuses))
	rows, err := t.query(`SELECT `+claimColumns+claimFrom+` JOIN task t ON t.id = c.task_id`+w.String()+` ORDER BY c.id`, w.args...)
	if err != nil {
		return err
	}
	claims, err := collect(rows, scanClaim)
	if err != nil {
		return err
	}
	for _, c := range claims {
		fits, err := t.fits(c, nil)
		if err != nil {
			return err
		}
		status := objects.Tentative
		if !fits {
			status = objects.ClaimConflict
		}
		if err = t.setClaimStatus(c, status); err != nil {
			return err
		}
	}
	return nil
}

// recheckCapacity evaluates the claimed claims of a resource again after its capacity figures
// changed, newest claim first. Claims that no longer fit go to conflict. The window of all claims on
// the resource is marked so tentative and conflict claims follow the new capacity as well.
func (t *txn) recheckCapacity(resourceID int64) error {
	var start, end sql.NullInt64
	if err := t.queryRow(`SELECT MIN(starttime), MAX(endtime) FROM resource_claim WHERE resource_id = ?`,
		resourceID).Scan(&start, &end); err != nil {
		return err
	}
	if !start.Valid {
		return nil
	}
	w := &where{}
	w.add("c.resource_id = ?", resourceID)
	w.add("c.status = ?", objects.Claimed.String())
	w.in("t.status", nameArgs(reevaluatedTaskStatuses))
	rows, err := t.query(`SELECT `+claimColumns+claimFrom+` JOIN task t ON t.id = c.task_id`+w.String()+` ORDER BY c.id DESC`, w.args...)
	if err != nil {
		return err
	}
	claims, err := collect(rows, scanClaim)
	if err != nil {
		return err
	}
	for _, c := range claims {
		fits, err := t.fits(c, c)
		if err != nil {
			return err
		}
		if fits {
			continue
		}
		if err = t.setClaimStatus(c, objects.ClaimConflict); err != nil {
			return err
		}
	}
	t.markWindow(resourceID, common.FromNanos(start.Int64), common.FromNanos(end.Int64))
	return nil
}

// recomputeTask makes a task follow its claims: a task that can conflict moves to conflict when one
// of its claims is in conflict, a conflict task without conflict claims is approved again. Tasks in
// conflict hold no claimed claims.
func (t *txn) recomputeTask(taskID int64) error {
	task, err := t.task(taskID)
	if errors.Is(err, common.ErrNotFound) {
		// deleted in this transaction
		return nil
	}
	if err != nil {
		return err
	}
	counts, err := t.claimCounts(taskID)
	if err != nil {
		return err
	}
	switch {
	case counts[objects.ClaimConflict] > 0 && task.Status.CanConflict():
		if err = t.transitionTask(task, objects.Conflict, counts); err != nil {
			return err
		}
		if _, err = t.exec(`INSERT OR IGNORE INTO task_conflict_reason (task_id, reason) VALUES (?, ?)`,
			taskID, common.ClaimInConflict); err != nil {
			return err
		}
		return t.releaseClaims(task)
	case task.Status == objects.Conflict && counts[objects.ClaimConflict] == 0:
		if err = t.transitionTask(task, objects.Approved, counts); err != nil {
			return err
		}
		_, err = t.exec(`DELETE FROM task_conflict_reason WHERE task_id = ?`, taskID)
		return err
	case task.Status == objects.Conflict && counts[objects.Claimed] > 0:
		return t.releaseClaims(task)
	}
	return nil
}

// releaseClaims puts the claimed claims of a task back to tentative.
func (t *txn) releaseClaims(task *objects.Task) error {
	claimed := objects.Claimed
	claims, err := t.taskClaims(task.ID, &claimed)
	if err != nil {
		return err
	}
	for _, c := range claims {
		if err = t.setClaimStatus(c, objects.Tentative); err != nil {
			return err
		}
	}
	if len(claims) > 0 {
		log.Log(log.Claims).Debug("released claims",
			zap.Int64("taskID", task.ID),
			zap.Int("count", len(claims)))
	}
	return nil
}

// commitClaims claims the tentative claims of a task in id order, claims that do not fit become
// conflict.
func (t *txn) commitClaims(task *objects.Task) error {
	tentative := objects.Tentative
	claims, err := t.taskClaims(task.ID, &tentative)
	if err != nil {
		return err
	}
	for _, c := range claims {
		fits, err := t.fits(c, nil)
		if err != nil {
			return err
		}
		status := objects.Claimed
		if !fits {
			status = objects.ClaimConflict
		}
		if err = t.setClaimStatus(c, status); err != nil {
			return err
		}
	}
	t.markTask(task.ID)
	return nil
}

// pruneClaims deletes the claims that ended at or before now of tasks in a terminal status, of one
// task or of all tasks.
func (t *txn) pruneClaims(taskID *int64) (int, error) {
	w := &where{}
	w.in("t.status", nameArgs([]objects.TaskStatus{objects.Finished, objects.Aborted, objects.Obsolete}))
	w.add("c.endtime <= ?", common.ToNanos(t.now))
	if taskID != nil {
		w.add("c.task_id = ?", *taskID)
	}
	rows, err := t.query(`SELECT `+claimColumns+claimFrom+` JOIN task t ON t.id = c.task_id`+w.String()+` ORDER BY c.id`, w.args...)
	if err != nil {
		return 0, err
	}
	claims, err := collect(rows, scanClaim)
	if err != nil {
		return 0, err
	}
	for _, c := range claims {
		if err = t.deleteClaim(c, "obsolete"); err != nil {
			return 0, err
		}
	}
	return len(claims), nil
}

// PruneObsoleteClaims deletes the claims of finished, aborted and obsolete tasks that have ended.
func (d *Database) PruneObsoleteClaims(ctx context.Context) (int, error) {
	var count int
	err := d.write(ctx, "PruneObsoleteClaims", func(tx *txn) error {
		var err error
		count, err = tx.pruneClaims(nil)
		return err
	})
	if err == nil && count > 0 {
		log.Log(log.Claims).Info("pruned obsolete claims", zap.Int("count", count))
	}
	return count, err
}

func (t *txn) overlappingClaims(claimID int64, status objects.ClaimStatus) ([]*objects.ResourceClaim, error) {
	c, err := t.claim(claimID)
	if err != nil {
		return nil, err
	}
	w := &where{}
	w.add("c.resource_id = ?", c.ResourceID)
	w.add("c.status = ?", status.String())
	w.add("c.id != ?", c.ID)
	w.add("c.starttime < ?", common.ToNanos(c.EndTime))
	w.add("c.endtime > ?", common.ToNanos(c.StartTime))
	rows, err := t.query(`SELECT `+claimColumns+claimFrom+w.String()+` ORDER BY c.id`, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanClaim)
}

// GetOverlappingClaims returns the claims with the given status on the same resource whose window
// overlaps the claim, for a conflict claim these are the claims in its way.
func (d *Database) GetOverlappingClaims(ctx context.Context, claimID int64, status objects.ClaimStatus) ([]*objects.ResourceClaim, error) {
	var result []*objects.ResourceClaim
	err := d.read(ctx, "GetOverlappingClaims", func(tx *txn) error {
		var err error
		result, err = tx.overlappingClaims(claimID, status)
		return err
	})
	return result, err
}

// GetOverlappingTasks returns the tasks owning the claims GetOverlappingClaims returns.
func (d *Database) GetOverlappingTasks(ctx context.Context, claimID int64, status objects.ClaimStatus) ([]*objects.Task, error) {
	var result []*objects.Task
	err := d.read(ctx, "GetOverlappingTasks", func(tx *txn) error {
		claims, err := tx.overlappingClaims(claimID, status)
		if err != nil {
			return err
		}
		taskIDs := make([]int64, 0, len(claims))
		seen := make(map[int64]bool)
		for _, c := range claims {
			if !seen[c.TaskID] {
				seen[c.TaskID] = true
				taskIDs = append(taskIDs, c.TaskID)
			}
		}
		result, err = tx.tasks(TaskFilter{TaskIDs: taskIDs})
		return err
	})
	return result, err
}

// ConflictReasonFilter selects claim conflict reasons, nil lists match any.
type ConflictReasonFilter struct {
	ClaimIDs    []int64
	ResourceIDs []int64
	TaskIDs     []int64
}

// GetResourceClaimConflictReasons returns why claims are in conflict.
func (d *Database) GetResourceClaimConflictReasons(ctx context.Context, filter ConflictReasonFilter) ([]objects.ConflictReason, error) {
	var result []objects.ConflictReason
	err := d.read(ctx, "GetResourceClaimConflictReasons", func(tx *txn) error {
		w := &where{}
		if filter.ClaimIDs != nil {
			w.in("c.id", int64Args(filter.ClaimIDs))
		}
		if filter.ResourceIDs != nil {
			w.in("c.resource_id", int64Args(filter.ResourceIDs))
		}
		if filter.TaskIDs != nil {
			w.in("c.task_id", int64Args(filter.TaskIDs))
		}
		rows, err := tx.query(`SELECT c.id, c.task_id, cr.reason FROM resource_claim_conflict_reason cr
			JOIN resource_claim c ON c.id = cr.claim_id`+w.String()+` ORDER BY c.id, cr.reason`, w.args...)
		if err != nil {
			return err
		}
		result, err = collect(rows, func(row scanner) (objects.ConflictReason, error) {
			var reason objects.ConflictReason
			var claimID int64
			err := row.Scan(&claimID, &reason.TaskID, &reason.Reason)
			reason.ClaimID = &claimID
			return reason, err
		})
		return err
	})
	return result, err
}

// GetTaskConflictReasons returns why tasks are in conflict, for all tasks when taskIDs is nil.
func (d *Database) GetTaskConflictReasons(ctx context.Context, taskIDs []int64) ([]objects.ConflictReason, error) {
	var result []objects.ConflictReason
	err := d.read(ctx, "GetTaskConflictReasons", func(tx *txn) error {
		w := &where{}
		if taskIDs != nil {
			w.in("task_id", int64Args(taskIDs))
		}
		rows, err := tx.query(`SELECT task_id, reason FROM task_conflict_reason`+w.String()+` ORDER BY task_id, reason`, w.args...)
		if err != nil {
			return err
		}
		result, err = collect(rows, func(row scanner) (objects.ConflictReason, error) {
			var reason objects.ConflictReason
			err := row.Scan(&reason.TaskID, &reason.Reason)
			return reason, err
		})
		return err
	})
	return result, err
}
