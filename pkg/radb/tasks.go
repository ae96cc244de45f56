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
	"time"

	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// task returns a stored task without its predecessors and successors.
func (t *txn) task(id int64) (*objects.Task, error) {
	task, err := scanTask(t.queryRow(`SELECT `+taskColumns+` FROM task t WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("task", id)
	}
	return task, err
}

func taskFilterWhere(filter TaskFilter) (*where, error) {
	idLists := 0
	for _, ids := range [][]int64{filter.TaskIDs, filter.MomIDs, filter.OTDBIDs} {
		if ids != nil {
			idLists++
		}
	}
	if idLists > 1 {
		return nil, common.NewValidationError("only one of task ids, mom ids and otdb ids can be given")
	}
	w := &where{}
	switch {
	case filter.TaskIDs != nil:
		w.in("t.id", int64Args(filter.TaskIDs))
	case filter.MomIDs != nil:
		w.in("t.mom_id", int64Args(filter.MomIDs))
	case filter.OTDBIDs != nil:
		w.in("t.otdb_id", int64Args(filter.OTDBIDs))
	}
	if filter.LowerBound != nil {
		w.add("t.endtime >= ?", common.ToNanos(*filter.LowerBound))
	}
	if filter.UpperBound != nil {
		w.add("t.starttime <= ?", common.ToNanos(*filter.UpperBound))
	}
	if filter.Statuses != nil {
		w.in("t.status", nameArgs(filter.Statuses))
	}
	if filter.Types != nil {
		w.in("t.type", nameArgs(filter.Types))
	}
	if filter.Cluster != "" {
		w.add("t.cluster = ?", filter.Cluster)
	}
	return w, nil
}

// tasks returns the tasks matching the filter with their predecessors and successors.
func (t *txn) tasks(filter TaskFilter) ([]*objects.Task, error) {
	w, err := taskFilterWhere(filter)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(`SELECT `+taskColumns+` FROM task t`+w.String()+` ORDER BY t.id`, w.args...)
	if err != nil {
		return nil, err
	}
	tasks, err := collect(rows, scanTask)
	if err != nil {
		return nil, err
	}
	if err = t.loadGraph(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// loadGraph fills in the predecessor and successor ids of the tasks.
func (t *txn) loadGraph(tasks []*objects.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[int64]*objects.Task, len(tasks))
	ids := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
		ids = append(ids, task.ID)
		task.PredecessorIDs = []int64{}
		task.SuccessorIDs = []int64{}
	}
	args := int64Args(ids)
	rows, err := t.query(`SELECT task_id, predecessor_id FROM task_predecessor
		WHERE task_id IN (`+placeholders(len(ids))+`) OR predecessor_id IN (`+placeholders(len(ids))+`)
		ORDER BY task_id, predecessor_id`, append(args, args...)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID, predecessorID int64
		if err = rows.Scan(&taskID, &predecessorID); err != nil {
			return err
		}
		if task, ok := byID[taskID]; ok {
			task.PredecessorIDs = append(task.PredecessorIDs, predecessorID)
		}
		if predecessor, ok := byID[predecessorID]; ok {
			predecessor.SuccessorIDs = append(predecessor.SuccessorIDs, taskID)
		}
	}
	return rows.Err()
}

// transitionTask runs the state machine and stores the new status.
func (t *txn) transitionTask(task *objects.Task, dst objects.TaskStatus, counts map[objects.ClaimStatus]int) error {
	changed, err := objects.TransitionTask(t.ctx, &objects.TaskTransition{Task: task, ClaimCounts: counts}, dst)
	if err != nil || !changed {
		return err
	}
	_, err = t.exec(`UPDATE task SET status = ? WHERE id = ?`, task.Status.String(), task.ID)
	return err
}

// changeTaskStatus handles a requested status change and its effect on the claims:
//   - prepared, approved and on hold release the claimed claims
//   - prescheduled claims the tentative claims
//   - finished, aborted and obsolete prune the claims that have ended, also when the task already had
//     that status
func (t *txn) changeTaskStatus(task *objects.Task, dst objects.TaskStatus) (bool, error) {
	if dst == objects.Conflict {
		return false, common.NewValidationError(common.ConflictStatusRequested)
	}
	counts, err := t.claimCounts(task.ID)
	if err != nil {
		return false, err
	}
	src := task.Status
	if err = t.transitionTask(task, dst, counts); err != nil {
		return false, err
	}
	changed := src != dst
	if changed {
		t.markTask(task.ID)
	}
	if changed && src == objects.Conflict {
		if _, err = t.exec(`DELETE FROM task_conflict_reason WHERE task_id = ?`, task.ID); err != nil {
			return false, err
		}
	}
	switch {
	case changed && dst.ReleasesClaims():
		err = t.releaseClaims(task)
	case changed && dst == objects.Prescheduled:
		err = t.commitClaims(task)
	case dst.IsTerminal():
		_, err = t.pruneClaims(&task.ID)
	}
	return changed, err
}

// moveTask changes the window of a task and moves its claims by the same start and end offsets.
// Claims of tasks that are past queued are moved without checks, other claims are evaluated at
// their new window in id order.
func (t *txn) moveTask(task *objects.Task, start, end time.Time) error {
	if end.Before(start) {
		return common.NewValidationError("task %d: starttime %s after endtime %s", task.ID, start, end)
	}
	startOffset, endOffset := start.Sub(task.StartTime), end.Sub(task.EndTime)
	if _, err := t.exec(`UPDATE task SET starttime = ?, endtime = ? WHERE id = ?`,
		common.ToNanos(start), common.ToNanos(end), task.ID); err != nil {
		return translateError(err, "failed to move task %d", task.ID)
	}
	task.StartTime, task.EndTime = start, end
	if startOffset == 0 && endOffset == 0 {
		return nil
	}
	claims, err := t.taskClaims(task.ID, nil)
	if err != nil {
		return err
	}
	moved := make([]*objects.ResourceClaim, len(claims))
	for i, c := range claims {
		m := *c
		m.StartTime = c.StartTime.Add(startOffset)
		m.EndTime = c.EndTime.Add(endOffset)
		if err = validWindow(m.StartTime, m.EndTime); err != nil {
			return fmt.Errorf("claim %d of task %d: %w", c.ID, task.ID, err)
		}
		moved[i] = &m
	}
	for _, c := range claims {
		if err = t.removeContribution(c); err != nil {
			return err
		}
	}
	for i, c := range claims {
		m := moved[i]
		if !task.Status.IsPastQueued() {
			fits, err := t.fits(m, nil)
			if err != nil {
				return err
			}
			switch {
			case !fits:
				m.Status = objects.ClaimConflict
			case c.Status == objects.ClaimConflict:
				m.Status = objects.Tentative
			}
		}
		if _, err = t.exec(`UPDATE resource_claim SET starttime = ?, endtime = ?, status = ? WHERE id = ?`,
			common.ToNanos(m.StartTime), common.ToNanos(m.EndTime), m.Status.String(), m.ID); err != nil {
			return translateError(err, "failed to move claim %d", m.ID)
		}
		if err = t.addContribution(m); err != nil {
			return err
		}
		if err = t.claimStatusChanged(c, m); err != nil {
			return err
		}
	}
	log.Log(log.Tasks).Debug("moved task",
		zap.Int64("taskID", task.ID),
		zap.Duration("startOffset", startOffset),
		zap.Duration("endOffset", endOffset),
		zap.Int("claims", len(claims)))
	return nil
}

// updateTask applies the fields first, then the window and the status last.
func (t *txn) updateTask(task *objects.Task, upd *TaskUpdate) (bool, error) {
	changed := false
	if upd.MomID != nil || upd.OTDBID != nil || upd.Type != nil || upd.SpecificationID != nil || upd.Cluster != nil {
		if upd.MomID != nil {
			task.MomID = fromNullable(sql.NullInt64{Int64: *upd.MomID, Valid: *upd.MomID >= 0})
		}
		if upd.OTDBID != nil {
			task.OTDBID = fromNullable(sql.NullInt64{Int64: *upd.OTDBID, Valid: *upd.OTDBID >= 0})
		}
		if upd.Type != nil {
			task.Type = *upd.Type
		}
		if upd.SpecificationID != nil {
			if _, err := t.specification(*upd.SpecificationID); err != nil {
				return false, err
			}
			task.SpecificationID = *upd.SpecificationID
		}
		if upd.Cluster != nil {
			task.Cluster = *upd.Cluster
		}
		if _, err := t.exec(`UPDATE task SET mom_id = ?, otdb_id = ?, type = ?, specification_id = ?, cluster = ? WHERE id = ?`,
			nullableID(task.MomID), nullableID(task.OTDBID), task.Type.String(), task.SpecificationID, task.Cluster, task.ID); err != nil {
			return false, translateError(err, "failed to update task %d", task.ID)
		}
		changed = true
	}
	if upd.StartTime != nil || upd.EndTime != nil {
		start, end := task.StartTime, task.EndTime
		if upd.StartTime != nil {
			start = upd.StartTime.UTC()
		}
		if upd.EndTime != nil {
			end = upd.EndTime.UTC()
		}
		if !start.Equal(task.StartTime) || !end.Equal(task.EndTime) {
			if err := t.moveTask(task, start, end); err != nil {
				return false, err
			}
			changed = true
		}
	}
	if upd.Status != nil {
		statusChanged, err := t.changeTaskStatus(task, *upd.Status)
		if err != nil {
			return false, err
		}
		changed = changed || statusChanged
	}
	return changed, nil
}

func (t *txn) insertTask(momID, otdbID *int64, status objects.TaskStatus, taskType objects.TaskType, spec *objects.Specification) (int64, error) {
	if status == objects.Conflict {
		return 0, common.NewValidationError(common.ConflictStatusRequested)
	}
	res, err := t.exec(`INSERT INTO task (mom_id, otdb_id, specification_id, status, type, starttime, endtime, cluster)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(momID), nullableID(otdbID), spec.ID, status.String(), taskType.String(),
		common.ToNanos(spec.StartTime), common.ToNanos(spec.EndTime), spec.Cluster)
	if err != nil {
		return 0, translateError(err, "failed to insert task for specification %d", spec.ID)
	}
	return res.LastInsertId()
}

// deleteTask deletes the claims of a task through the claim engine, then the task itself.
func (t *txn) deleteTask(task *objects.Task) error {
	claims, err := t.taskClaims(task.ID, nil)
	if err != nil {
		return err
	}
	for _, c := range claims {
		if err = t.deleteClaim(c, "task deleted"); err != nil {
			return err
		}
	}
	_, err = t.exec(`DELETE FROM task WHERE id = ?`, task.ID)
	return err
}

// InsertTask adds a task for an existing specification, its window is copied from the
// specification. A negative mom or otdb id means none.
func (d *Database) InsertTask(ctx context.Context, momID, otdbID *int64, status objects.TaskStatus, taskType objects.TaskType, specificationID int64) (int64, error) {
	var id int64
	err := d.write(ctx, "InsertTask", func(tx *txn) error {
		spec, err := tx.specification(specificationID)
		if err != nil {
			return err
		}
		id, err = tx.insertTask(momID, otdbID, status, taskType, spec)
		return err
	})
	return id, err
}

// GetTask returns the task selected by exactly one of the lookup ids.
func (d *Database) GetTask(ctx context.Context, lookup TaskLookup) (*objects.Task, error) {
	var result *objects.Task
	err := d.read(ctx, "GetTask", func(tx *txn) error {
		column, value, err := lookup.column()
		if err != nil {
			return err
		}
		task, err := scanTask(tx.queryRow(`SELECT `+taskColumns+` FROM task t WHERE `+column+` = ? ORDER BY t.id LIMIT 1`, value))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: task with %s %d", common.ErrNotFound, column, value)
		}
		if err != nil {
			return err
		}
		if err = tx.loadGraph([]*objects.Task{task}); err != nil {
			return err
		}
		result = task
		return nil
	})
	return result, err
}

func (l TaskLookup) column() (string, int64, error) {
	var column string
	var value int64
	count := 0
	for _, candidate := range []struct {
		column string
		value  *int64
	}{
		{"t.id", l.ID}, {"t.mom_id", l.MomID}, {"t.otdb_id", l.OTDBID}, {"t.specification_id", l.SpecificationID},
	} {
		if candidate.value != nil {
			count++
			column, value = candidate.column, *candidate.value
		}
	}
	if count != 1 {
		return "", 0, common.NewValidationError("exactly one of task id, mom id, otdb id and specification id must be given, got %d", count)
	}
	return column, value, nil
}

// GetTasks returns the tasks matching the filter with their predecessors and successors.
func (d *Database) GetTasks(ctx context.Context, filter TaskFilter) ([]*objects.Task, error) {
	var result []*objects.Task
	err := d.read(ctx, "GetTasks", func(tx *txn) error {
		var err error
		result, err = tx.tasks(filter)
		return err
	})
	return result, err
}

// GetTasksTimeWindow returns the earliest start and latest end of the matching tasks, both nil when
// no task matches.
func (d *Database) GetTasksTimeWindow(ctx context.Context, filter TaskFilter) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	err := d.read(ctx, "GetTasksTimeWindow", func(tx *txn) error {
		start, end = nil, nil
		w, err := taskFilterWhere(filter)
		if err != nil {
			return err
		}
		var minStart, maxEnd sql.NullInt64
		if err = tx.queryRow(`SELECT MIN(t.starttime), MAX(t.endtime) FROM task t`+w.String(), w.args...).Scan(&minStart, &maxEnd); err != nil {
			return err
		}
		if minStart.Valid && maxEnd.Valid {
			start = common.TimePtr(common.FromNanos(minStart.Int64))
			end = common.TimePtr(common.FromNanos(maxEnd.Int64))
		}
		return nil
	})
	return start, end, err
}

// UpdateTask changes a task, moving its claims along with its window. It returns whether anything
// changed.
func (d *Database) UpdateTask(ctx context.Context, taskID int64, upd TaskUpdate) (bool, error) {
	var changed bool
	err := d.write(ctx, "UpdateTask", func(tx *txn) error {
		task, err := tx.task(taskID)
		if err != nil {
			return err
		}
		changed, err = tx.updateTask(task, &upd)
		return err
	})
	return changed, err
}

// UpdateTaskStatusForOTDBID changes the status of the task with the given otdb id.
func (d *Database) UpdateTaskStatusForOTDBID(ctx context.Context, otdbID int64, status objects.TaskStatus) (bool, error) {
	var changed bool
	err := d.write(ctx, "UpdateTaskStatusForOTDBID", func(tx *txn) error {
		task, err := scanTask(tx.queryRow(`SELECT `+taskColumns+` FROM task t WHERE t.otdb_id = ?`, otdbID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: task with otdb id %d", common.ErrNotFound, otdbID)
		}
		if err != nil {
			return err
		}
		changed, err = tx.changeTaskStatus(task, status)
		return err
	})
	return changed, err
}

// UpdateTaskAndResourceClaims changes a task and its claims in one transaction.
func (d *Database) UpdateTaskAndResourceClaims(ctx context.Context, taskID int64, upd TaskAndClaimsUpdate) (bool, error) {
	var changed bool
	err := d.write(ctx, "UpdateTaskAndResourceClaims", func(tx *txn) error {
		changed = false
		task, err := tx.task(taskID)
		if err != nil {
			return err
		}
		if upd.StartTime != nil || upd.EndTime != nil {
			if changed, err = tx.updateTask(task, &TaskUpdate{StartTime: upd.StartTime, EndTime: upd.EndTime}); err != nil {
				return err
			}
			if err = tx.settle(); err != nil {
				return err
			}
		}
		if upd.ClaimStatus != nil || upd.Username != nil || upd.UserID != nil || upd.UsedRCUs != nil {
			count, err := tx.updateClaims(&ClaimUpdate{
				TaskIDs:       []int64{taskID},
				ResourceTypes: upd.ResourceTypes,
				Status:        upd.ClaimStatus,
				Username:      upd.Username,
				UserID:        upd.UserID,
				UsedRCUs:      upd.UsedRCUs,
			})
			if err != nil {
				return err
			}
			changed = changed || count > 0
		}
		if upd.TaskStatus != nil {
			if task, err = tx.task(taskID); err != nil {
				return err
			}
			statusChanged, err := tx.changeTaskStatus(task, *upd.TaskStatus)
			if err != nil {
				return err
			}
			changed = changed || statusChanged
		}
		return nil
	})
	return changed, err
}

// DeleteTask deletes a task and its claims, the specification is kept.
func (d *Database) DeleteTask(ctx context.Context, taskID int64) error {
	return d.write(ctx, "DeleteTask", func(tx *txn) error {
		task, err := tx.task(taskID)
		if err != nil {
			return err
		}
		if err = tx.deleteTask(task); err != nil {
			return err
		}
		log.Log(log.Tasks).Info("deleted task", zap.Int64("taskID", taskID))
		return nil
	})
}

func (t *txn) insertPredecessor(taskID, predecessorID int64) error {
	if taskID == predecessorID {
		return common.NewValidationError("task %d cannot be its own predecessor", taskID)
	}
	for _, id := range []int64{taskID, predecessorID} {
		if _, err := t.task(id); err != nil {
			return fmt.Errorf("%w: task %d does not exist", common.ErrReference, id)
		}
	}
	_, err := t.exec(`INSERT OR IGNORE INTO task_predecessor (task_id, predecessor_id) VALUES (?, ?)`, taskID, predecessorID)
	return translateError(err, "failed to link task %d to predecessor %d", taskID, predecessorID)
}

// InsertTaskPredecessor records that predecessorID must run before taskID. Linking twice is not an
// error.
func (d *Database) InsertTaskPredecessor(ctx context.Context, taskID, predecessorID int64) error {
	return d.write(ctx, "InsertTaskPredecessor", func(tx *txn) error {
		return tx.insertPredecessor(taskID, predecessorID)
	})
}

// InsertTaskPredecessors links several predecessors to a task in one transaction.
func (d *Database) InsertTaskPredecessors(ctx context.Context, taskID int64, predecessorIDs []int64) error {
	return d.write(ctx, "InsertTaskPredecessors", func(tx *txn) error {
		for _, id := range predecessorIDs {
			if err := tx.insertPredecessor(taskID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// graphEdges returns the edges of the task graph keyed on one end: for each task id in key the ids at
// the other end.
func (t *txn) graphEdges(key, other string, taskIDs []int64) (map[int64][]int64, error) {
	w := &where{}
	if taskIDs != nil {
		w.in(key, int64Args(taskIDs))
	}
	rows, err := t.query(`SELECT `+key+`, `+other+` FROM task_predecessor`+w.String()+` ORDER BY `+key+`, `+other, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[int64][]int64)
	for rows.Next() {
		var from, to int64
		if err = rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		result[from] = append(result[from], to)
	}
	return result, rows.Err()
}

// GetTaskPredecessorIDs returns the predecessor ids per task, for all tasks when taskIDs is nil.
func (d *Database) GetTaskPredecessorIDs(ctx context.Context, taskIDs []int64) (map[int64][]int64, error) {
	var result map[int64][]int64
	err := d.read(ctx, "GetTaskPredecessorIDs", func(tx *txn) error {
		var err error
		result, err = tx.graphEdges("task_id", "predecessor_id", taskIDs)
		return err
	})
	return result, err
}

// GetTaskSuccessorIDs returns the successor ids per task, for all tasks when taskIDs is nil.
func (d *Database) GetTaskSuccessorIDs(ctx context.Context, taskIDs []int64) (map[int64][]int64, error) {
	var result map[int64][]int64
	err := d.read(ctx, "GetTaskSuccessorIDs", func(tx *txn) error {
		var err error
		result, err = tx.graphEdges("predecessor_id", "task_id", taskIDs)
		return err
	})
	return result, err
}

// GetTaskPredecessorIDsForTask returns the predecessor ids of one task.
func (d *Database) GetTaskPredecessorIDsForTask(ctx context.Context, taskID int64) ([]int64, error) {
	edges, err := d.GetTaskPredecessorIDs(ctx, []int64{taskID})
	if err != nil {
		return nil, err
	}
	return append([]int64{}, edges[taskID]...), nil
}

// GetTaskSuccessorIDsForTask returns the successor ids of one task.
func (d *Database) GetTaskSuccessorIDsForTask(ctx context.Context, taskID int64) ([]int64, error) {
	edges, err := d.GetTaskSuccessorIDs(ctx, []int64{taskID})
	if err != nil {
		return nil, err
	}
	return append([]int64{}, edges[taskID]...), nil
}

// GetTaskStatuses lists the task status names.
func (d *Database) GetTaskStatuses() []string {
	return objects.TaskStatusNames()
}

// GetTaskTypes lists the task type names.
func (d *Database) GetTaskTypes() []string {
	return objects.TaskTypeNames()
}

// GetResourceClaimStatuses lists the claim status names.
func (d *Database) GetResourceClaimStatuses() []string {
	return objects.ClaimStatusNames()
}
