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
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

func TestInsertAndGetTask(t *testing.T) {
	f := newFixture(t)
	specID, err := f.db.InsertSpecification(f.ctx, objects.Specification{StartTime: at(0), EndTime: at(2), Content: "spec", Cluster: "CEP4"})
	assert.NilError(t, err)
	taskID, err := f.db.InsertTask(f.ctx, common.Int64Ptr(501), common.Int64Ptr(601), objects.Prepared, objects.Pipeline, specID)
	assert.NilError(t, err)

	lookups := map[string]TaskLookup{
		"id":            {ID: &taskID},
		"mom id":        {MomID: common.Int64Ptr(501)},
		"otdb id":       {OTDBID: common.Int64Ptr(601)},
		"specification": {SpecificationID: &specID},
	}
	for name, lookup := range lookups {
		t.Run(name, func(t *testing.T) {
			task, err := f.db.GetTask(f.ctx, lookup)
			assert.NilError(t, err)
			assert.Equal(t, taskID, task.ID)
			assert.Equal(t, int64(501), *task.MomID)
			assert.Equal(t, int64(601), *task.OTDBID)
			assert.Equal(t, objects.Prepared, task.Status)
			assert.Equal(t, objects.Pipeline, task.Type)
			assert.Equal(t, "CEP4", task.Cluster)
			assert.Assert(t, task.StartTime.Equal(at(0)))
			assert.Assert(t, task.EndTime.Equal(at(2)))
			assert.Equal(t, 0, len(task.PredecessorIDs))
		})
	}

	_, err = f.db.GetTask(f.ctx, TaskLookup{})
	assert.Assert(t, errors.Is(err, common.ErrValidation))
	_, err = f.db.GetTask(f.ctx, TaskLookup{ID: &taskID, MomID: common.Int64Ptr(501)})
	assert.Assert(t, errors.Is(err, common.ErrValidation))
	_, err = f.db.GetTask(f.ctx, TaskLookup{ID: common.Int64Ptr(taskID + 100)})
	assert.Assert(t, errors.Is(err, common.ErrNotFound))
}

func TestInsertTaskErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.InsertTask(f.ctx, nil, nil, objects.Prepared, objects.Observation, 42)
	assert.Assert(t, errors.Is(err, common.ErrNotFound), err)

	specID, err := f.db.InsertSpecification(f.ctx, objects.Specification{StartTime: at(0), EndTime: at(1)})
	assert.NilError(t, err)
	_, err = f.db.InsertTask(f.ctx, nil, nil, objects.Conflict, objects.Observation, specID)
	assert.Assert(t, errors.Is(err, common.ErrValidation), err)

	_, err = f.db.InsertTask(f.ctx, common.Int64Ptr(1), nil, objects.Prepared, objects.Observation, specID)
	assert.NilError(t, err)
	_, err = f.db.InsertTask(f.ctx, common.Int64Ptr(1), nil, objects.Prepared, objects.Observation, specID)
	assert.Assert(t, errors.Is(err, common.ErrDuplicate), err)

	// negative external ids mean none and never collide
	_, err = f.db.InsertTask(f.ctx, common.Int64Ptr(-1), common.Int64Ptr(-1), objects.Prepared, objects.Observation, specID)
	assert.NilError(t, err)
	_, err = f.db.InsertTask(f.ctx, common.Int64Ptr(-1), common.Int64Ptr(-1), objects.Prepared, objects.Observation, specID)
	assert.NilError(t, err)

	_, err = f.db.InsertSpecification(f.ctx, objects.Specification{StartTime: at(1), EndTime: at(0)})
	assert.Assert(t, errors.Is(err, common.ErrValidation), err)
}

func TestGetTasksFilters(t *testing.T) {
	f := newFixture(t)
	ids := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		result, err := f.db.InsertSpecificationAndTask(f.ctx, SpecificationAndTask{
			MomID:     common.Int64Ptr(int64(100 + i)),
			OTDBID:    common.Int64Ptr(int64(200 + i)),
			Status:    objects.Approved,
			Type:      objects.Observation,
			StartTime: at(float64(2 * i)),
			EndTime:   at(float64(2*i + 1)),
		})
		assert.NilError(t, err)
		assert.Assert(t, result.Inserted)
		ids = append(ids, result.TaskID)
	}
	f.setTaskStatus(ids[3], objects.OnHold)

	count := func(filter TaskFilter) int {
		tasks, err := f.db.GetTasks(f.ctx, filter)
		assert.NilError(t, err)
		return len(tasks)
	}
	assert.Equal(t, 4, count(TaskFilter{}))
	assert.Equal(t, 2, count(TaskFilter{TaskIDs: ids[:2]}))
	assert.Equal(t, 0, count(TaskFilter{TaskIDs: []int64{}}))
	assert.Equal(t, 1, count(TaskFilter{MomIDs: []int64{102}}))
	assert.Equal(t, 1, count(TaskFilter{OTDBIDs: []int64{203}}))
	assert.Equal(t, 1, count(TaskFilter{Statuses: []objects.TaskStatus{objects.OnHold}}))
	assert.Equal(t, 0, count(TaskFilter{Types: []objects.TaskType{objects.Pipeline}}))
	// lower bound on the end, upper bound on the start
	lower, upper := at(3), at(4)
	assert.Equal(t, 3, count(TaskFilter{LowerBound: &lower}))
	assert.Equal(t, 3, count(TaskFilter{UpperBound: &upper}))
	assert.Equal(t, 2, count(TaskFilter{LowerBound: &lower, UpperBound: &upper}))

	_, err := f.db.GetTasks(f.ctx, TaskFilter{TaskIDs: ids, MomIDs: []int64{100}})
	assert.Assert(t, errors.Is(err, common.ErrValidation))

	start, end, err := f.db.GetTasksTimeWindow(f.ctx, TaskFilter{TaskIDs: ids[1:3]})
	assert.NilError(t, err)
	assert.Assert(t, start.Equal(at(2)))
	assert.Assert(t, end.Equal(at(5)))
	start, end, err = f.db.GetTasksTimeWindow(f.ctx, TaskFilter{TaskIDs: []int64{}})
	assert.NilError(t, err)
	assert.Assert(t, start == nil && end == nil)
}

func TestUpdateTaskFields(t *testing.T) {
	f := newFixture(t)
	taskID := f.task(objects.Prepared, at(0), at(1))
	otherSpec, err := f.db.InsertSpecification(f.ctx, objects.Specification{StartTime: at(5), EndTime: at(6)})
	assert.NilError(t, err)

	pipeline := objects.Pipeline
	cluster := "DRAGNET"
	changed, err := f.db.UpdateTask(f.ctx, taskID, TaskUpdate{
		MomID:           common.Int64Ptr(7),
		OTDBID:          common.Int64Ptr(8),
		Type:            &pipeline,
		SpecificationID: &otherSpec,
		Cluster:         &cluster,
	})
	assert.NilError(t, err)
	assert.Assert(t, changed)
	task, err := f.db.GetTask(f.ctx, TaskLookup{OTDBID: common.Int64Ptr(8)})
	assert.NilError(t, err)
	assert.Equal(t, int64(7), *task.MomID)
	assert.Equal(t, objects.Pipeline, task.Type)
	assert.Equal(t, otherSpec, task.SpecificationID)
	assert.Equal(t, "DRAGNET", task.Cluster)
	// the window belongs to the task, not to the specification
	assert.Assert(t, task.StartTime.Equal(at(0)))

	changed, err = f.db.UpdateTask(f.ctx, taskID, TaskUpdate{MomID: common.Int64Ptr(-1)})
	assert.NilError(t, err)
	assert.Assert(t, changed)
	task, err = f.db.GetTask(f.ctx, TaskLookup{ID: &taskID})
	assert.NilError(t, err)
	assert.Assert(t, task.MomID == nil)

	changed, err = f.db.UpdateTask(f.ctx, taskID, TaskUpdate{Status: statusPtr(objects.Prepared)})
	assert.NilError(t, err)
	assert.Assert(t, !changed)

	_, err = f.db.UpdateTask(f.ctx, taskID, TaskUpdate{Status: statusPtr(objects.Scheduled)})
	assert.Assert(t, errors.Is(err, common.ErrInvalidTransition), err)
	_, err = f.db.UpdateTask(f.ctx, taskID, TaskUpdate{Status: statusPtr(objects.Conflict)})
	assert.Assert(t, errors.Is(err, common.ErrValidation), err)
	_, err = f.db.UpdateTask(f.ctx, taskID+1000, TaskUpdate{Status: statusPtr(objects.Approved)})
	assert.Assert(t, errors.Is(err, common.ErrNotFound), err)
}

func TestUpdateTaskStatusForOTDBID(t *testing.T) {
	f := newFixture(t)
	result, err := f.db.InsertSpecificationAndTask(f.ctx, SpecificationAndTask{
		OTDBID: common.Int64Ptr(12345), Status: objects.Prepared, StartTime: at(0), EndTime: at(1),
	})
	assert.NilError(t, err)
	changed, err := f.db.UpdateTaskStatusForOTDBID(f.ctx, 12345, objects.Approved)
	assert.NilError(t, err)
	assert.Assert(t, changed)
	assert.Equal(t, objects.Approved, f.taskStatus(result.TaskID))
	_, err = f.db.UpdateTaskStatusForOTDBID(f.ctx, 54321, objects.Approved)
	assert.Assert(t, errors.Is(err, common.ErrNotFound), err)
}

func TestTaskPredecessors(t *testing.T) {
	f := newFixture(t)
	first := f.task(objects.Approved, at(0), at(1))
	second := f.task(objects.Approved, at(1), at(2))
	third := f.task(objects.Approved, at(2), at(3))

	assert.NilError(t, f.db.InsertTaskPredecessor(f.ctx, second, first))
	assert.NilError(t, f.db.InsertTaskPredecessors(f.ctx, third, []int64{first, second}))
	// linking twice is fine
	assert.NilError(t, f.db.InsertTaskPredecessor(f.ctx, second, first))

	err := f.db.InsertTaskPredecessor(f.ctx, second, third+100)
	assert.Assert(t, errors.Is(err, common.ErrReference), err)
	err = f.db.InsertTaskPredecessor(f.ctx, second, second)
	assert.Assert(t, errors.Is(err, common.ErrValidation), err)

	predecessors, err := f.db.GetTaskPredecessorIDsForTask(f.ctx, third)
	assert.NilError(t, err)
	assert.DeepEqual(t, []int64{first, second}, predecessors)
	successors, err := f.db.GetTaskSuccessorIDsForTask(f.ctx, first)
	assert.NilError(t, err)
	assert.DeepEqual(t, []int64{second, third}, successors)
	all, err := f.db.GetTaskPredecessorIDs(f.ctx, nil)
	assert.NilError(t, err)
	assert.Equal(t, 2, len(all))

	task, err := f.db.GetTask(f.ctx, TaskLookup{ID: &second})
	assert.NilError(t, err)
	assert.DeepEqual(t, []int64{first}, task.PredecessorIDs)
	assert.DeepEqual(t, []int64{third}, task.SuccessorIDs)

	// deleting a task removes its links
	assert.NilError(t, f.db.DeleteTask(f.ctx, second))
	predecessors, err = f.db.GetTaskPredecessorIDsForTask(f.ctx, third)
	assert.NilError(t, err)
	assert.DeepEqual(t, []int64{first}, predecessors)
}

func TestDeleteTaskKeepsSpecification(t *testing.T) {
	f := newFixture(t)
	resourceID := f.resource("cep4storage", objects.Storage, 100, 100)
	taskID := f.task(objects.Approved, at(0), at(2))
	f.claim(taskID, resourceID, at(0), at(2), 40, objects.Claimed)
	task, err := f.db.GetTask(f.ctx, TaskLookup{ID: &taskID})
	assert.NilError(t, err)

	assert.NilError(t, f.db.DeleteTask(f.ctx, taskID))
	_, err = f.db.GetTask(f.ctx, TaskLookup{ID: &taskID})
	assert.Assert(t, errors.Is(err, common.ErrNotFound))
	_, err = f.db.GetSpecification(f.ctx, task.SpecificationID)
	assert.NilError(t, err)
	assert.Equal(t, int64(0), f.usage(resourceID, objects.Claimed, at(1)))
	f.verify()

	err = f.db.DeleteTask(f.ctx, taskID)
	assert.Assert(t, errors.Is(err, common.ErrNotFound))
}

func TestDeleteSpecificationDeletesTasks(t *testing.T) {
	f := newFixture(t)
	resourceID := f.resource("cep4storage", objects.Storage, 100, 100)
	taskID := f.task(objects.Approved, at(0), at(2))
	f.claim(taskID, resourceID, at(0), at(2), 40, objects.Tentative)
	task, err := f.db.GetTask(f.ctx, TaskLookup{ID: &taskID})
	assert.NilError(t, err)

	assert.NilError(t, f.db.DeleteSpecification(f.ctx, task.SpecificationID))
	_, err = f.db.GetTask(f.ctx, TaskLookup{ID: &taskID})
	assert.Assert(t, errors.Is(err, common.ErrNotFound))
	assert.Equal(t, int64(0), f.usage(resourceID, objects.Tentative, at(1)))
	f.verify()
}

func TestInsertOrUpdateSpecificationAndTask(t *testing.T) {
	f := newFixture(t)
	resourceID := f.resource("cep4storage", objects.Storage, 100, 100)
	request := SpecificationAndTask{
		MomID:     common.Int64Ptr(10),
		OTDBID:    common.Int64Ptr(20),
		Status:    objects.Approved,
		Type:      objects.Observation,
		StartTime: at(0),
		EndTime:   at(2),
		Content:   "first",
	}
	first, err := f.db.InsertOrUpdateSpecificationAndTask(f.ctx, request)
	assert.NilError(t, err)
	assert.Assert(t, first.Inserted)
	f.claim(first.TaskID, resourceID, at(0), at(2), 40, objects.Claimed)
	predecessor := f.task(objects.Approved, at(-2), at(-1))
	assert.NilError(t, f.db.InsertTaskPredecessor(f.ctx, first.TaskID, predecessor))

	// same otdb id, new window and content: the task is replaced
	request.StartTime, request.EndTime, request.Content = at(4), at(6), "second"
	request.Status = objects.Prepared
	second, err := f.db.InsertOrUpdateSpecificationAndTask(f.ctx, request)
	assert.NilError(t, err)
	assert.Assert(t, !second.Inserted)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, first.SpecificationID, second.SpecificationID)

	task, err := f.db.GetTask(f.ctx, TaskLookup{ID: &second.TaskID})
	assert.NilError(t, err)
	assert.Equal(t, objects.Prepared, task.Status)
	assert.Assert(t, task.StartTime.Equal(at(4)))
	assert.DeepEqual(t, []int64{predecessor}, task.PredecessorIDs)
	spec, err := f.db.GetSpecification(f.ctx, second.SpecificationID)
	assert.NilError(t, err)
	assert.Equal(t, "second", spec.Content)
	claims, err := f.db.GetResourceClaims(f.ctx, ClaimFilter{TaskIDs: []int64{first.TaskID}})
	assert.NilError(t, err)
	assert.Equal(t, 0, len(claims))
	assert.Equal(t, int64(0), f.usage(resourceID, objects.Claimed, at(1)))

	// lookup falls back to the mom id
	request.OTDBID = nil
	third, err := f.db.InsertOrUpdateSpecificationAndTask(f.ctx, request)
	assert.NilError(t, err)
	assert.Assert(t, !third.Inserted)
	assert.Equal(t, first.TaskID, third.TaskID)
	f.verify()
}

func TestUpdateSpecification(t *testing.T) {
	f := newFixture(t)
	taskID := f.task(objects.Approved, at(0), at(1))
	task, err := f.db.GetTask(f.ctx, TaskLookup{ID: &taskID})
	assert.NilError(t, err)
	content := "updated"
	end := at(3)
	assert.NilError(t, f.db.UpdateSpecification(f.ctx, task.SpecificationID, SpecificationUpdate{Content: &content, EndTime: &end}))
	spec, err := f.db.GetSpecification(f.ctx, task.SpecificationID)
	assert.NilError(t, err)
	assert.Equal(t, "updated", spec.Content)
	assert.Assert(t, spec.EndTime.Equal(at(3)))
	task, err = f.db.GetTask(f.ctx, TaskLookup{ID: &taskID})
	assert.NilError(t, err)
	assert.Assert(t, task.EndTime.Equal(at(1)))

	early := at(-5)
	err = f.db.UpdateSpecification(f.ctx, task.SpecificationID, SpecificationUpdate{EndTime: &early})
	assert.Assert(t, errors.Is(err, common.ErrValidation), err)
}

func TestTaskWithZeroDuration(t *testing.T) {
	f := newFixture(t)
	resourceID := f.resource("cep4storage", objects.Storage, 100, 100)
	taskID := f.task(objects.Approved, at(1), at(1))
	_, err := f.db.InsertResourceClaim(f.ctx, taskID, &objects.ResourceClaim{
		ResourceID: resourceID, StartTime: at(1), EndTime: at(1), Size: 1,
	}, "tester", 1)
	assert.Assert(t, errors.Is(err, common.ErrValidation), err)
	assert.ErrorContains(t, err, common.ClaimStartNotBeforeEnd)
}

func TestStaticListings(t *testing.T) {
	f := newFixture(t)
	assert.DeepEqual(t, objects.TaskStatusNames(), f.db.GetTaskStatuses())
	assert.DeepEqual(t, []string{"observation", "pipeline", "reservation"}, f.db.GetTaskTypes())
	assert.DeepEqual(t, []string{"tentative", "claimed", "conflict"}, f.db.GetResourceClaimStatuses())
	types := f.db.GetResourceTypes()
	assert.Equal(t, "storage", types[objects.Storage].Name)
	assert.Equal(t, "bytes", types[objects.Storage].Unit)
}
