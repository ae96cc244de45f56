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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/radb"
	"github.com/apache/yunikorn-radb/pkg/webservice/dao"
)

type scenario struct {
	t          *testing.T
	m          *WebService
	router     http.Handler
	start      time.Time
	end        time.Time
	resourceID int64
}

func newScenario(t *testing.T) *scenario {
	m, router := newTestWebService(t)
	ctx := context.Background()
	groupID, err := m.db.InsertResourceGroup(ctx, "CEP4", "cluster", nil)
	assert.NilError(t, err)
	resourceID, err := m.db.InsertResource(ctx, objects.Resource{
		Name: "cep4storage", Type: objects.Storage, Active: true, TotalCapacity: 10, AvailableCapacity: 10,
	}, []int64{groupID})
	assert.NilError(t, err)
	start := time.Now().Add(24 * time.Hour).Truncate(time.Hour).UTC()
	return &scenario{t: t, m: m, router: router, start: start, end: start.Add(2 * time.Hour), resourceID: resourceID}
}

func (s *scenario) do(method, path string, body interface{}) *responseRecorder {
	return &responseRecorder{t: s.t, ResponseRecorder: doRequest(s.t, s.router, method, apiPrefix+path, body)}
}

func (s *scenario) window() string {
	return fmt.Sprintf("lower_bound=%s&upper_bound=%s", s.start.Format(time.RFC3339), s.end.Format(time.RFC3339))
}

func (s *scenario) putTask(otdbID int64) dao.SpecificationAndTaskDAOInfo {
	return dao.SpecificationAndTaskDAOInfo{
		OTDBID:    &otdbID,
		Status:    objects.Approved,
		Type:      objects.Observation,
		StartTime: s.start,
		EndTime:   s.end,
		Content:   "<specification/>",
	}
}

func (s *scenario) claim(taskID, size int64, status objects.ClaimStatus) int64 {
	s.t.Helper()
	resp := s.do("POST", fmt.Sprintf("/tasks/%d/claims", taskID), dao.ClaimsDAOInfo{
		Claims: []*objects.ResourceClaim{{
			ResourceID: s.resourceID,
			StartTime:  s.start,
			EndTime:    s.end,
			Size:       size,
			Status:     status,
		}},
		Username: "tester",
		UserID:   1,
	})
	resp.expect(http.StatusCreated)
	var ids dao.IDsDAOInfo
	resp.decode(&ids)
	assert.Equal(s.t, 1, len(ids.IDs))
	return ids.IDs[0]
}

func (s *scenario) claimStatus(id int64) objects.ClaimStatus {
	s.t.Helper()
	var claim objects.ResourceClaim
	s.do("GET", fmt.Sprintf("/claims/%d", id), nil).expect(http.StatusOK).decode(&claim)
	return claim.Status
}

func (s *scenario) taskStatus(id int64) objects.TaskStatus {
	s.t.Helper()
	var task objects.Task
	s.do("GET", fmt.Sprintf("/tasks/%d", id), nil).expect(http.StatusOK).decode(&task)
	return task.Status
}

type responseRecorder struct {
	t *testing.T
	*httptest.ResponseRecorder
}

func (r *responseRecorder) expect(code int) *responseRecorder {
	r.t.Helper()
	assert.Equal(r.t, code, r.Code, r.Body.String())
	return r
}

func (r *responseRecorder) decode(v interface{}) {
	r.t.Helper()
	decodeResponse(r.t, r.ResponseRecorder, v)
}

func TestTaskEndpoints(t *testing.T) {
	s := newScenario(t)
	var first radb.SpecificationAndTaskResult
	s.do("PUT", "/tasks", s.putTask(1)).expect(http.StatusCreated).decode(&first)
	assert.Assert(t, first.Inserted)

	// same external id: replaced in place
	var again radb.SpecificationAndTaskResult
	s.do("PUT", "/tasks", s.putTask(1)).expect(http.StatusOK).decode(&again)
	assert.Assert(t, !again.Inserted)
	assert.Equal(t, first.TaskID, again.TaskID)

	var second radb.SpecificationAndTaskResult
	s.do("PUT", "/tasks", s.putTask(2)).expect(http.StatusCreated).decode(&second)

	var tasks []*objects.Task
	s.do("GET", "/tasks?otdb_ids=2,3&status=approved", nil).expect(http.StatusOK).decode(&tasks)
	assert.Equal(t, 1, len(tasks))
	assert.Equal(t, second.TaskID, tasks[0].ID)
	s.do("GET", "/tasks?otdb_ids=", nil).expect(http.StatusOK).decode(&tasks)
	assert.Equal(t, 0, len(tasks))
	s.do("GET", "/tasks?status=sleeping", nil).expect(http.StatusBadRequest)

	var spec objects.Specification
	s.do("GET", fmt.Sprintf("/specifications/%d", first.SpecificationID), nil).expect(http.StatusOK).decode(&spec)
	assert.Equal(t, "<specification/>", spec.Content)

	// predecessors
	s.do("POST", fmt.Sprintf("/tasks/%d/predecessors", second.TaskID),
		dao.PredecessorsDAOInfo{PredecessorIDs: []int64{first.TaskID}}).expect(http.StatusNoContent)
	var ids dao.IDsDAOInfo
	s.do("GET", fmt.Sprintf("/tasks/%d/successors", first.TaskID), nil).expect(http.StatusOK).decode(&ids)
	assert.DeepEqual(t, []int64{second.TaskID}, ids.IDs)
	s.do("GET", fmt.Sprintf("/tasks/%d/predecessors", first.TaskID), nil).expect(http.StatusOK).decode(&ids)
	assert.DeepEqual(t, []int64{}, ids.IDs)
	s.do("POST", fmt.Sprintf("/tasks/%d/predecessors", second.TaskID),
		dao.PredecessorsDAOInfo{PredecessorIDs: []int64{999}}).expect(http.StatusConflict)

	// time window of all tasks
	var window dao.TimeWindowDAOInfo
	s.do("GET", "/timewindow", nil).expect(http.StatusOK).decode(&window)
	assert.Assert(t, window.MinStartTime.Equal(s.start))
	assert.Assert(t, window.MaxEndTime.Equal(s.end))

	// update
	later := s.end.Add(time.Hour)
	var updated dao.UpdatedDAOInfo
	s.do("PATCH", fmt.Sprintf("/tasks/%d", second.TaskID), dao.TaskUpdateDAOInfo{EndTime: &later}).
		expect(http.StatusOK).decode(&updated)
	assert.Assert(t, updated.Updated)
	scheduled := objects.Scheduled
	s.do("PATCH", fmt.Sprintf("/tasks/%d", second.TaskID), dao.TaskUpdateDAOInfo{Status: &scheduled}).
		expect(http.StatusConflict)
	claimed := objects.Claimed
	momID := int64(5)
	s.do("PATCH", fmt.Sprintf("/tasks/%d", second.TaskID), dao.TaskUpdateDAOInfo{MomID: &momID, ClaimStatus: &claimed}).
		expect(http.StatusBadRequest)
	s.do("PATCH", fmt.Sprintf("/tasks/%d", second.TaskID), map[string]interface{}{"colour": "blue"}).
		expect(http.StatusBadRequest)

	// errors
	errInfo := assertError(t, s.do("GET", "/tasks/999", nil).ResponseRecorder, http.StatusNotFound)
	assert.Assert(t, strings.Contains(errInfo.Message, "not found"), errInfo.Message)
	assertError(t, s.do("GET", "/tasks/abc", nil).ResponseRecorder, http.StatusBadRequest)

	// delete
	s.do("DELETE", fmt.Sprintf("/tasks/%d", second.TaskID), nil).expect(http.StatusNoContent)
	s.do("GET", fmt.Sprintf("/tasks/%d", second.TaskID), nil).expect(http.StatusNotFound)
	s.do("DELETE", fmt.Sprintf("/tasks/%d", second.TaskID), nil).expect(http.StatusNotFound)
}

func TestClaimEndpoints(t *testing.T) {
	s := newScenario(t)
	var task1, task2 radb.SpecificationAndTaskResult
	s.do("PUT", "/tasks", s.putTask(1)).expect(http.StatusCreated).decode(&task1)
	s.do("PUT", "/tasks", s.putTask(2)).expect(http.StatusCreated).decode(&task2)

	claim1 := s.claim(task1.TaskID, 6, objects.Claimed)
	claim2 := s.claim(task2.TaskID, 6, objects.Tentative)
	assert.Equal(t, objects.Claimed, s.claimStatus(claim1))
	assert.Equal(t, objects.ClaimConflict, s.claimStatus(claim2))
	assert.Equal(t, objects.Conflict, s.taskStatus(task2.TaskID))

	var reasons []objects.ConflictReason
	s.do("GET", fmt.Sprintf("/claims/%d/conflicts", claim2), nil).expect(http.StatusOK).decode(&reasons)
	assert.Assert(t, len(reasons) > 0)
	s.do("GET", fmt.Sprintf("/tasks/%d/conflicts", task2.TaskID), nil).expect(http.StatusOK).decode(&reasons)
	assert.Assert(t, len(reasons) > 0)

	var claims []*objects.ResourceClaim
	s.do("GET", fmt.Sprintf("/claims/%d/overlapping", claim2), nil).expect(http.StatusOK).decode(&claims)
	assert.Equal(t, 1, len(claims))
	assert.Equal(t, claim1, claims[0].ID)
	var tasks []*objects.Task
	s.do("GET", fmt.Sprintf("/claims/%d/overlappingtasks", claim2), nil).expect(http.StatusOK).decode(&tasks)
	assert.Equal(t, 1, len(tasks))
	assert.Equal(t, task1.TaskID, tasks[0].ID)

	s.do("GET", "/claims?status=conflict&include_properties=true", nil).expect(http.StatusOK).decode(&claims)
	assert.Equal(t, 1, len(claims))
	assert.Equal(t, claim2, claims[0].ID)
	s.do("GET", "/claims?resource_type=disk", nil).expect(http.StatusBadRequest)

	// approved again, the claim still does not fit
	approved := objects.Approved
	s.do("PATCH", fmt.Sprintf("/tasks/%d", task2.TaskID), dao.TaskUpdateDAOInfo{Status: &approved}).expect(http.StatusOK)
	claimed := objects.Claimed
	assertError(t, s.do("PATCH", "/claims", dao.ClaimUpdateDAOInfo{ClaimIDs: []int64{claim2}, Status: &claimed}).ResponseRecorder,
		http.StatusUnprocessableEntity)

	// usage and claimable capacity of the window
	var point objects.UsagePoint
	s.do("GET", fmt.Sprintf("/resources/%d/usage?%s", s.resourceID, s.window()), nil).expect(http.StatusOK).decode(&point)
	assert.Equal(t, int64(6), point.Usage)
	s.do("GET", fmt.Sprintf("/resources/%d/usage?at=%s&status=conflict", s.resourceID, s.start.Format(time.RFC3339)), nil).
		expect(http.StatusOK).decode(&point)
	assert.Equal(t, int64(6), point.Usage)
	var claimable dao.ClaimableDAOInfo
	s.do("GET", fmt.Sprintf("/resources/%d/claimable?%s", s.resourceID, s.window()), nil).expect(http.StatusOK).decode(&claimable)
	assert.Equal(t, int64(4), claimable.Claimable)
	s.do("GET", fmt.Sprintf("/resources/%d/claimable", s.resourceID), nil).expect(http.StatusBadRequest)

	// releasing the first claim lets the second one fit
	s.do("DELETE", fmt.Sprintf("/claims/%d", claim1), nil).expect(http.StatusNoContent)
	assert.Equal(t, objects.Tentative, s.claimStatus(claim2))
	var count dao.CountDAOInfo
	s.do("PATCH", "/claims", dao.ClaimUpdateDAOInfo{ClaimIDs: []int64{claim2}, Status: &claimed}).expect(http.StatusOK).decode(&count)
	assert.Equal(t, 1, count.Count)
	assert.Equal(t, objects.Claimed, s.claimStatus(claim2))
	s.do("GET", fmt.Sprintf("/claims/%d", claim1), nil).expect(http.StatusNotFound)

	var mismatches []radb.UsageMismatch
	s.do("GET", "/usages/verify", nil).expect(http.StatusOK).decode(&mismatches)
	assert.Equal(t, 0, len(mismatches))
	s.do("POST", fmt.Sprintf("/usages/rebuild?resource_id=%d&status=claimed", s.resourceID), nil).expect(http.StatusNoContent)
	var usages map[string]map[string][]objects.UsagePoint
	s.do("GET", fmt.Sprintf("/usages?resource_ids=%d&status=claimed", s.resourceID), nil).expect(http.StatusOK).decode(&usages)
	points := usages[fmt.Sprint(s.resourceID)]["claimed"]
	assert.Assert(t, len(points) >= 2, "usages: %v", usages)
}

func TestResourceEndpoints(t *testing.T) {
	s := newScenario(t)
	var resources []*objects.Resource
	s.do("GET", "/resources?resource_type=storage&include_availability=true", nil).expect(http.StatusOK).decode(&resources)
	assert.Equal(t, 1, len(resources))
	assert.Equal(t, int64(10), resources[0].AvailableCapacity)

	available := int64(4)
	s.do("PATCH", fmt.Sprintf("/resources/%d/availability", s.resourceID), dao.AvailabilityDAOInfo{Available: &available}).
		expect(http.StatusNoContent)
	var resource objects.Resource
	s.do("GET", fmt.Sprintf("/resources/%d", s.resourceID), nil).expect(http.StatusOK).decode(&resource)
	assert.Equal(t, int64(4), resource.AvailableCapacity)
	tooMuch := int64(11)
	s.do("PATCH", fmt.Sprintf("/resources/%d/availability", s.resourceID), dao.AvailabilityDAOInfo{Available: &tooMuch}).
		expect(http.StatusBadRequest)
	s.do("GET", "/resources/12345", nil).expect(http.StatusNotFound)

	var names []string
	s.do("GET", "/groups?type=cluster", nil).expect(http.StatusOK).decode(&names)
	assert.DeepEqual(t, []string{"CEP4"}, names)
	var memberships objects.GroupMemberships
	s.do("GET", "/groups/memberships", nil).expect(http.StatusOK).decode(&memberships)
	assert.Equal(t, 1, len(memberships.Groups))
	assert.Equal(t, 1, len(memberships.Resources))
}

func TestFitEndpoint(t *testing.T) {
	s := newScenario(t)
	fit := func(size int64, group string) *responseRecorder {
		return s.do("POST", "/fit", map[string]interface{}{
			"estimates": []map[string]interface{}{{
				"root_resource_group": group,
				"resource_count":      2,
				"resource_types":      map[string]interface{}{"storage": size},
			}},
			"starttime": s.start,
			"endtime":   s.end,
		})
	}
	var claims []*objects.ResourceClaim
	fit(5, "CEP4").expect(http.StatusOK).decode(&claims)
	assert.Equal(t, 1, len(claims))
	assert.Equal(t, int64(10), claims[0].Size)
	assert.Equal(t, s.resourceID, claims[0].ResourceID)
	assert.Equal(t, objects.Tentative, claims[0].Status)

	assertError(t, fit(6, "CEP4").ResponseRecorder, http.StatusUnprocessableEntity)
	errInfo := assertError(t, fit(1, "DRAGNET").ResponseRecorder, http.StatusBadRequest)
	assert.Assert(t, strings.Contains(errInfo.Message, "unknown root_resource_group 'DRAGNET'"), errInfo.Message)
}

func TestHeavyRequestsAreLimited(t *testing.T) {
	s := newScenario(t)
	for i := uint64(0); i < s.m.conf.MaxHeavyRequestsPerHost; i++ {
		assert.Assert(t, s.m.limiter.AddHost("192.0.2.1"))
	}
	assertError(t, s.do("GET", "/usages/verify", nil).ResponseRecorder, http.StatusServiceUnavailable)
	// light requests are not limited
	s.do("GET", "/usages", nil).expect(http.StatusOK)
	s.m.limiter.RemoveHost("192.0.2.1")
	s.do("GET", "/usages/verify", nil).expect(http.StatusOK)
}
