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

package webservice

import (
	"context"
	"net/http"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/radb"
	"github.com/apache/yunikorn-radb/pkg/webservice/dao"
)

func (m *WebService) putTask(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	var request dao.SpecificationAndTaskDAOInfo
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := m.db.InsertOrUpdateSpecificationAndTask(r.Context(), radb.SpecificationAndTask{
		MomID:     request.MomID,
		OTDBID:    request.OTDBID,
		Status:    request.Status,
		Type:      request.Type,
		StartTime: request.StartTime,
		EndTime:   request.EndTime,
		Content:   request.Content,
		Cluster:   request.Cluster,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if result.Inserted {
		code = http.StatusCreated
	}
	writeJSON(w, code, result)
}

func taskFilter(r *http.Request) (radb.TaskFilter, error) {
	var filter radb.TaskFilter
	var err error
	if filter.TaskIDs, err = queryIDs(r, "task_ids"); err != nil {
		return filter, err
	}
	if filter.MomIDs, err = queryIDs(r, "mom_ids"); err != nil {
		return filter, err
	}
	if filter.OTDBIDs, err = queryIDs(r, "otdb_ids"); err != nil {
		return filter, err
	}
	if filter.LowerBound, err = queryTime(r, "lower_bound"); err != nil {
		return filter, err
	}
	if filter.UpperBound, err = queryTime(r, "upper_bound"); err != nil {
		return filter, err
	}
	if filter.Statuses, err = queryEnums(r, "status", objects.ParseTaskStatus); err != nil {
		return filter, err
	}
	if filter.Types, err = queryEnums(r, "type", objects.ParseTaskType); err != nil {
		return filter, err
	}
	filter.Cluster = r.URL.Query().Get("cluster")
	return filter, nil
}

func (m *WebService) getTasks(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	filter, err := taskFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tasks, err := m.db.GetTasks(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*objects.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (m *WebService) getTimeWindow(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	filter, err := taskFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, end, err := m.db.GetTasksTimeWindow(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dao.TimeWindowDAOInfo{MinStartTime: start, MaxEndTime: end})
}

func (m *WebService) getTask(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	task, err := m.db.GetTask(r.Context(), radb.TaskLookup{ID: &id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (m *WebService) patchTask(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request dao.TaskUpdateDAOInfo
	if err = decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	var updated bool
	if request.HasClaimFields() {
		if request.HasTaskOnlyFields() {
			writeError(w, r, common.NewValidationError("claim fields can only be combined with the task window and status"))
			return
		}
		updated, err = m.db.UpdateTaskAndResourceClaims(r.Context(), id, radb.TaskAndClaimsUpdate{
			StartTime:     request.StartTime,
			EndTime:       request.EndTime,
			TaskStatus:    request.Status,
			ClaimStatus:   request.ClaimStatus,
			Username:      request.Username,
			UserID:        request.UserID,
			UsedRCUs:      request.UsedRCUs,
			ResourceTypes: request.ResourceTypes,
		})
	} else {
		updated, err = m.db.UpdateTask(r.Context(), id, radb.TaskUpdate{
			MomID:           request.MomID,
			OTDBID:          request.OTDBID,
			Status:          request.Status,
			Type:            request.Type,
			SpecificationID: request.SpecificationID,
			StartTime:       request.StartTime,
			EndTime:         request.EndTime,
			Cluster:         request.Cluster,
		})
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dao.UpdatedDAOInfo{Updated: updated})
}

func (m *WebService) deleteTask(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err = m.db.DeleteTask(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *WebService) postPredecessors(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request dao.PredecessorsDAOInfo
	if err = decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	if err = m.db.InsertTaskPredecessors(r.Context(), id, request.PredecessorIDs); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *WebService) getPredecessors(w http.ResponseWriter, r *http.Request) {
	m.getRelatedTasks(w, r, m.db.GetTaskPredecessorIDsForTask)
}

func (m *WebService) getSuccessors(w http.ResponseWriter, r *http.Request) {
	m.getRelatedTasks(w, r, m.db.GetTaskSuccessorIDsForTask)
}

func (m *WebService) getRelatedTasks(w http.ResponseWriter, r *http.Request, lookup func(ctx context.Context, id int64) ([]int64, error)) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := lookup(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, dao.IDsDAOInfo{IDs: ids})
}

func (m *WebService) getTaskConflicts(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reasons, err := m.db.GetTaskConflictReasons(r.Context(), []int64{id})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reasons == nil {
		reasons = []objects.ConflictReason{}
	}
	writeJSON(w, http.StatusOK, reasons)
}

func (m *WebService) getSpecification(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	spec, err := m.db.GetSpecification(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}
