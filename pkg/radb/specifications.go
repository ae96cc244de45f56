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

	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

func (t *txn) specification(id int64) (*objects.Specification, error) {
	spec, err := scanSpecification(t.queryRow(`SELECT `+specificationColumns+` FROM specification s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("specification", id)
	}
	return spec, err
}

func (t *txn) insertSpecification(spec *objects.Specification) (int64, error) {
	if spec.EndTime.Before(spec.StartTime) {
		return 0, common.NewValidationError("specification starttime %s after endtime %s", spec.StartTime, spec.EndTime)
	}
	res, err := t.exec(`INSERT INTO specification (starttime, endtime, content, cluster) VALUES (?, ?, ?, ?)`,
		common.ToNanos(spec.StartTime), common.ToNanos(spec.EndTime), spec.Content, spec.Cluster)
	if err != nil {
		return 0, translateError(err, "failed to insert specification")
	}
	return res.LastInsertId()
}

// InsertSpecification stores a specification and returns its id.
func (d *Database) InsertSpecification(ctx context.Context, spec objects.Specification) (int64, error) {
	var id int64
	err := d.write(ctx, "InsertSpecification", func(tx *txn) error {
		var err error
		id, err = tx.insertSpecification(&spec)
		return err
	})
	return id, err
}

// GetSpecification returns a specification.
func (d *Database) GetSpecification(ctx context.Context, id int64) (*objects.Specification, error) {
	var result *objects.Specification
	err := d.read(ctx, "GetSpecification", func(tx *txn) error {
		var err error
		result, err = tx.specification(id)
		return err
	})
	return result, err
}

// GetSpecifications returns the specifications with the given ids, all when ids is nil.
func (d *Database) GetSpecifications(ctx context.Context, ids []int64) ([]*objects.Specification, error) {
	var result []*objects.Specification
	err := d.read(ctx, "GetSpecifications", func(tx *txn) error {
		w := &where{}
		if ids != nil {
			w.in("s.id", int64Args(ids))
		}
		rows, err := tx.query(`SELECT `+specificationColumns+` FROM specification s`+w.String()+` ORDER BY s.id`, w.args...)
		if err != nil {
			return err
		}
		result, err = collect(rows, scanSpecification)
		return err
	})
	return result, err
}

// UpdateSpecification changes a specification, the windows of its tasks are not changed.
func (d *Database) UpdateSpecification(ctx context.Context, id int64, upd SpecificationUpdate) error {
	return d.write(ctx, "UpdateSpecification", func(tx *txn) error {
		spec, err := tx.specification(id)
		if err != nil {
			return err
		}
		if upd.StartTime != nil {
			spec.StartTime = upd.StartTime.UTC()
		}
		if upd.EndTime != nil {
			spec.EndTime = upd.EndTime.UTC()
		}
		if upd.Content != nil {
			spec.Content = *upd.Content
		}
		if upd.Cluster != nil {
			spec.Cluster = *upd.Cluster
		}
		return tx.updateSpecification(spec)
	})
}

func (t *txn) updateSpecification(spec *objects.Specification) error {
	if spec.EndTime.Before(spec.StartTime) {
		return common.NewValidationError("specification starttime %s after endtime %s", spec.StartTime, spec.EndTime)
	}
	_, err := t.exec(`UPDATE specification SET starttime = ?, endtime = ?, content = ?, cluster = ? WHERE id = ?`,
		common.ToNanos(spec.StartTime), common.ToNanos(spec.EndTime), spec.Content, spec.Cluster, spec.ID)
	return translateError(err, "failed to update specification %d", spec.ID)
}

// DeleteSpecification deletes a specification with its tasks and their claims.
func (d *Database) DeleteSpecification(ctx context.Context, id int64) error {
	return d.write(ctx, "DeleteSpecification", func(tx *txn) error {
		if _, err := tx.specification(id); err != nil {
			return err
		}
		rows, err := tx.query(`SELECT `+taskColumns+` FROM task t WHERE t.specification_id = ? ORDER BY t.id`, id)
		if err != nil {
			return err
		}
		tasks, err := collect(rows, scanTask)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err = tx.deleteTask(task); err != nil {
				return err
			}
		}
		_, err = tx.exec(`DELETE FROM specification WHERE id = ?`, id)
		return err
	})
}

// taskByExternalID looks up a task by otdb id first, then by mom id. Negative ids are ignored.
func (t *txn) taskByExternalID(momID, otdbID *int64) (*objects.Task, error) {
	for _, lookup := range []struct {
		column string
		id     *int64
	}{{"t.otdb_id", otdbID}, {"t.mom_id", momID}} {
		if lookup.id == nil || *lookup.id < 0 {
			continue
		}
		task, err := scanTask(t.queryRow(`SELECT `+taskColumns+` FROM task t WHERE `+lookup.column+` = ?`, *lookup.id))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		return task, err
	}
	return nil, nil
}

// InsertOrUpdateSpecificationAndTask stores a specification with its task. When a task with the
// same otdb id, or else the same mom id, exists it is replaced: its claims are deleted and the task
// and its specification are overwritten. Predecessor links are kept.
func (d *Database) InsertOrUpdateSpecificationAndTask(ctx context.Context, st SpecificationAndTask) (SpecificationAndTaskResult, error) {
	var result SpecificationAndTaskResult
	err := d.write(ctx, "InsertOrUpdateSpecificationAndTask", func(tx *txn) error {
		result = SpecificationAndTaskResult{}
		if st.Status == objects.Conflict {
			return common.NewValidationError(common.ConflictStatusRequested)
		}
		spec := &objects.Specification{
			StartTime: st.StartTime.UTC(),
			EndTime:   st.EndTime.UTC(),
			Content:   st.Content,
			Cluster:   st.Cluster,
		}
		existing, err := tx.taskByExternalID(st.MomID, st.OTDBID)
		if err != nil {
			return err
		}
		if existing == nil {
			if spec.ID, err = tx.insertSpecification(spec); err != nil {
				return err
			}
			taskID, err := tx.insertTask(st.MomID, st.OTDBID, st.Status, st.Type, spec)
			if err != nil {
				return err
			}
			result = SpecificationAndTaskResult{Inserted: true, TaskID: taskID, SpecificationID: spec.ID}
			return nil
		}

		claims, err := tx.taskClaims(existing.ID, nil)
		if err != nil {
			return err
		}
		for _, c := range claims {
			if err = tx.deleteClaim(c, "task replaced"); err != nil {
				return err
			}
		}
		spec.ID = existing.SpecificationID
		if err = tx.updateSpecification(spec); err != nil {
			return err
		}
		if _, err = tx.exec(`UPDATE task SET mom_id = ?, otdb_id = ?, status = ?, type = ?, starttime = ?, endtime = ?, cluster = ?
			WHERE id = ?`,
			nullableID(st.MomID), nullableID(st.OTDBID), st.Status.String(), st.Type.String(),
			common.ToNanos(spec.StartTime), common.ToNanos(spec.EndTime), spec.Cluster, existing.ID); err != nil {
			return translateError(err, "failed to replace task %d", existing.ID)
		}
		if _, err = tx.exec(`DELETE FROM task_conflict_reason WHERE task_id = ?`, existing.ID); err != nil {
			return err
		}
		log.Log(log.Tasks).Info("replaced task",
			zap.Int64("taskID", existing.ID),
			zap.Int64("specificationID", spec.ID),
			zap.Int("deletedClaims", len(claims)))
		result = SpecificationAndTaskResult{Inserted: false, TaskID: existing.ID, SpecificationID: spec.ID}
		return nil
	})
	return result, err
}

// InsertSpecificationAndTask stores a new specification with its task, duplicate external ids are
// an error.
func (d *Database) InsertSpecificationAndTask(ctx context.Context, st SpecificationAndTask) (SpecificationAndTaskResult, error) {
	var result SpecificationAndTaskResult
	err := d.write(ctx, "InsertSpecificationAndTask", func(tx *txn) error {
		result = SpecificationAndTaskResult{}
		spec := &objects.Specification{StartTime: st.StartTime.UTC(), EndTime: st.EndTime.UTC(), Content: st.Content, Cluster: st.Cluster}
		var err error
		if spec.ID, err = tx.insertSpecification(spec); err != nil {
			return err
		}
		taskID, err := tx.insertTask(st.MomID, st.OTDBID, st.Status, st.Type, spec)
		if err != nil {
			return err
		}
		result = SpecificationAndTaskResult{Inserted: true, TaskID: taskID, SpecificationID: spec.ID}
		return nil
	})
	return result, err
}
