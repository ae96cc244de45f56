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

package objects

import (
	"encoding/json"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestClaimOverlaps(t *testing.T) {
	start := time.Date(2017, 5, 10, 10, 0, 0, 0, time.UTC)
	claim := &ResourceClaim{StartTime: start, EndTime: start.Add(time.Hour)}
	assert.Assert(t, claim.Overlaps(start, start.Add(time.Hour)))
	assert.Assert(t, claim.Overlaps(start.Add(-time.Hour), start.Add(time.Minute)))
	assert.Assert(t, claim.Overlaps(start.Add(59*time.Minute), start.Add(2*time.Hour)))
	// touching windows do not overlap
	assert.Assert(t, !claim.Overlaps(start.Add(time.Hour), start.Add(2*time.Hour)))
	assert.Assert(t, !claim.Overlaps(start.Add(-time.Hour), start))
}

func TestGroupByName(t *testing.T) {
	gm := &GroupMemberships{
		Groups: map[int64]*ResourceGroup{
			1: {ID: 1, Name: "LOFAR"},
			2: {ID: 2, Name: "CEP4"},
		},
	}
	assert.Equal(t, int64(2), gm.GroupByName("CEP4").ID)
	assert.Assert(t, gm.GroupByName("DRAGNET") == nil)
}

func TestTaskJSON(t *testing.T) {
	start := time.Date(2017, 5, 10, 10, 0, 0, 0, time.UTC)
	mom := int64(7)
	task := &Task{ID: 3, MomID: &mom, Status: OnHold, Type: Reservation, StartTime: start, EndTime: start.Add(2 * time.Hour)}
	data, err := json.Marshal(task)
	assert.NilError(t, err)
	var decoded map[string]interface{}
	assert.NilError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "on_hold", decoded["status"])
	assert.Equal(t, "reservation", decoded["type"])
	assert.Equal(t, float64(7), decoded["mom_id"])
	assert.Equal(t, nil, decoded["otdb_id"])
	assert.Equal(t, 2*time.Hour, task.Duration())
}
