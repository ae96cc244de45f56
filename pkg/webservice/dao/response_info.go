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

package dao

import (
	"time"

	"github.com/apache/yunikorn-radb/pkg/radb"
)

type IDsDAOInfo struct {
	IDs []int64 `json:"ids"`
}

type CountDAOInfo struct {
	Count int `json:"count"`
}

type UpdatedDAOInfo struct {
	Updated bool `json:"updated"`
}

type TimeWindowDAOInfo struct {
	MinStartTime *time.Time `json:"min_starttime"`
	MaxEndTime   *time.Time `json:"max_endtime"`
}

type ClaimableDAOInfo struct {
	ResourceID int64     `json:"resource_id"`
	StartTime  time.Time `json:"starttime"`
	EndTime    time.Time `json:"endtime"`
	Claimable  int64     `json:"claimable_capacity"`
}

type EnumsDAOInfo struct {
	TaskStatuses  []string                `json:"task_statuses"`
	TaskTypes     []string                `json:"task_types"`
	ClaimStatuses []string                `json:"resource_claim_statuses"`
	ResourceTypes []radb.ResourceTypeInfo `json:"resource_types"`
}
