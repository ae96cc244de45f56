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
	"net/http"
	"strconv"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/radb"
	"github.com/apache/yunikorn-radb/pkg/webservice/dao"
)

func (m *WebService) postClaims(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	taskID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request dao.ClaimsDAOInfo
	if err = decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := m.db.InsertResourceClaims(r.Context(), taskID, request.Claims, request.Username, request.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusCreated, dao.IDsDAOInfo{IDs: ids})
}

func claimFilter(r *http.Request) (radb.ClaimFilter, error) {
	var filter radb.ClaimFilter
	var err error
	if filter.ClaimIDs, err = queryIDs(r, "claim_ids"); err != nil {
		return filter, err
	}
	if filter.ResourceIDs, err = queryIDs(r, "resource_ids"); err != nil {
		return filter, err
	}
	if filter.TaskIDs, err = queryIDs(r, "task_ids"); err != nil {
		return filter, err
	}
	if filter.LowerBound, err = queryTime(r, "lower_bound"); err != nil {
		return filter, err
	}
	if filter.UpperBound, err = queryTime(r, "upper_bound"); err != nil {
		return filter, err
	}
	if filter.Statuses, err = queryEnums(r, "status", objects.ParseClaimStatus); err != nil {
		return filter, err
	}
	if filter.ResourceTypes, err = queryEnums(r, "resource_type", objects.ParseResourceType); err != nil {
		return filter, err
	}
	if value := r.URL.Query().Get("include_properties"); value != "" {
		if filter.IncludeProperties, err = strconv.ParseBool(value); err != nil {
			return filter, common.NewValidationError("invalid include_properties '%s'", value)
		}
	}
	return filter, nil
}

func (m *WebService) getClaims(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	filter, err := claimFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	claims, err := m.db.GetResourceClaims(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if claims == nil {
		claims = []*objects.ResourceClaim{}
	}
	writeJSON(w, http.StatusOK, claims)
}

func (m *WebService) getClaim(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	claim, err := m.db.GetResourceClaim(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (m *WebService) patchClaims(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	var request dao.ClaimUpdateDAOInfo
	if err := decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	count, err := m.db.UpdateResourceClaims(r.Context(), radb.ClaimUpdate{
		ClaimIDs:      request.ClaimIDs,
		TaskIDs:       request.TaskIDs,
		ResourceTypes: request.ResourceTypes,
		ResourceID:    request.ResourceID,
		TaskID:        request.TaskID,
		Status:        request.Status,
		StartTime:     request.StartTime,
		EndTime:       request.EndTime,
		Size:          request.Size,
		Username:      request.Username,
		UserID:        request.UserID,
		UsedRCUs:      request.UsedRCUs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dao.CountDAOInfo{Count: count})
}

func (m *WebService) deleteClaim(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err = m.db.DeleteResourceClaim(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// overlapStatus reads the status the overlapping claims must have, claimed by default.
func overlapStatus(r *http.Request) (objects.ClaimStatus, error) {
	value := r.URL.Query().Get("status")
	if value == "" {
		return objects.Claimed, nil
	}
	return objects.ParseClaimStatus(value)
}

func (m *WebService) getOverlappingClaims(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := overlapStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	claims, err := m.db.GetOverlappingClaims(r.Context(), id, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if claims == nil {
		claims = []*objects.ResourceClaim{}
	}
	writeJSON(w, http.StatusOK, claims)
}

func (m *WebService) getOverlappingTasks(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := overlapStatus(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tasks, err := m.db.GetOverlappingTasks(r.Context(), id, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*objects.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (m *WebService) getClaimConflicts(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reasons, err := m.db.GetResourceClaimConflictReasons(r.Context(), radb.ConflictReasonFilter{ClaimIDs: []int64{id}})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reasons == nil {
		reasons = []objects.ConflictReason{}
	}
	writeJSON(w, http.StatusOK, reasons)
}
