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

func queryBool(r *http.Request, key string) (bool, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, common.NewValidationError("invalid %s '%s'", key, value)
	}
	return b, nil
}

// queryOptionalID returns nil when the parameter is missing.
func queryOptionalID(r *http.Request, key string) (*int64, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	id, err := parseID(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (m *WebService) getResources(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	var filter radb.ResourceFilter
	var err error
	if filter.IDs, err = queryIDs(r, "resource_ids"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Types, err = queryEnums(r, "resource_type", objects.ParseResourceType); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.IncludeAvailability, err = queryBool(r, "include_availability"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.ClaimableLowerBound, err = queryTime(r, "claimable_lower_bound"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.ClaimableUpperBound, err = queryTime(r, "claimable_upper_bound"); err != nil {
		writeError(w, r, err)
		return
	}
	resources, err := m.db.GetResources(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if resources == nil {
		resources = []*objects.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

func (m *WebService) getResource(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resource, err := m.db.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

func (m *WebService) patchAvailability(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request dao.AvailabilityDAOInfo
	if err = decodeBody(r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	err = m.db.UpdateResourceAvailability(r.Context(), id, radb.ResourceAvailability{
		Active:    request.Active,
		Available: request.Available,
		Total:     request.Total,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getResourceUsage answers three questions depending on the query: the usage at an instant (at),
// the maximum usage in a window (lower_bound and upper_bound) or the usage now.
func (m *WebService) getResourceUsage(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := objects.Claimed
	if value := r.URL.Query().Get("status"); value != "" {
		if status, err = objects.ParseClaimStatus(value); err != nil {
			writeError(w, r, err)
			return
		}
	}
	at, err := queryTime(r, "at")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var point objects.UsagePoint
	switch {
	case at != nil:
		var query radb.UsageQuery
		if query.ExactlyAt, err = queryBool(r, "exactly_at"); err != nil {
			writeError(w, r, err)
			return
		}
		if query.OnlyBefore, err = queryBool(r, "only_before"); err != nil {
			writeError(w, r, err)
			return
		}
		point, err = m.db.GetResourceUsageAtOrBefore(r.Context(), id, *at, status, query)
	case r.URL.Query().Has("lower_bound") || r.URL.Query().Has("upper_bound"):
		start, end, windowErr := queryWindow(r)
		if windowErr != nil {
			writeError(w, r, windowErr)
			return
		}
		point, err = m.db.GetMaxResourceUsageBetween(r.Context(), id, start, end, status)
	default:
		point, err = m.db.GetCurrentResourceUsage(r.Context(), id, status)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func (m *WebService) getClaimable(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, end, err := queryWindow(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	claimable, err := m.db.GetResourceClaimableCapacity(r.Context(), id, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dao.ClaimableDAOInfo{
		ResourceID: id,
		StartTime:  start,
		EndTime:    end,
		Claimable:  claimable,
	})
}

func (m *WebService) getUsages(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	var filter radb.UsageFilter
	var err error
	if filter.ResourceIDs, err = queryIDs(r, "resource_ids"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Statuses, err = queryEnums(r, "status", objects.ParseClaimStatus); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.LowerBound, err = queryTime(r, "lower_bound"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.UpperBound, err = queryTime(r, "upper_bound"); err != nil {
		writeError(w, r, err)
		return
	}
	usages, err := m.db.GetResourceUsages(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usages)
}

func (m *WebService) rebuildUsages(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	resourceID, err := queryOptionalID(r, "resource_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var status *objects.ClaimStatus
	if value := r.URL.Query().Get("status"); value != "" {
		parsed, parseErr := objects.ParseClaimStatus(value)
		if parseErr != nil {
			writeError(w, r, parseErr)
			return
		}
		status = &parsed
	}
	if err = m.db.RebuildResourceUsagesFromClaims(r.Context(), resourceID, status); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *WebService) verifyUsages(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	resourceID, err := queryOptionalID(r, "resource_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	mismatches, err := m.db.VerifyResourceUsages(r.Context(), resourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if mismatches == nil {
		mismatches = []radb.UsageMismatch{}
	}
	writeJSON(w, http.StatusOK, mismatches)
}

func (m *WebService) getGroups(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	names, err := m.db.GetResourceGroupNames(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (m *WebService) getMemberships(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	memberships, err := m.db.GetResourceGroupMemberships(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memberships)
}
