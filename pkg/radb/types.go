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
	"time"

	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/timeline"
)

// TaskLookup selects a single task. Exactly one of the ids must be set.
type TaskLookup struct {
	ID              *int64
	MomID           *int64
	OTDBID          *int64
	SpecificationID *int64
}

// TaskFilter selects tasks. At most one of the id lists may be non-nil: nil means any, an empty
// non-nil list matches nothing. LowerBound keeps tasks ending at or after it, UpperBound tasks
// starting at or before it.
type TaskFilter struct {
	TaskIDs    []int64
	MomIDs     []int64
	OTDBIDs    []int64
	LowerBound *time.Time
	UpperBound *time.Time
	Statuses   []objects.TaskStatus
	Types      []objects.TaskType
	Cluster    string
}

// TaskUpdate changes the fields of a task that are not nil. A negative MomID or OTDBID clears it.
// Changing the window moves the claims of the task along. The status is changed last.
type TaskUpdate struct {
	MomID           *int64
	OTDBID          *int64
	Status          *objects.TaskStatus
	Type            *objects.TaskType
	SpecificationID *int64
	StartTime       *time.Time
	EndTime         *time.Time
	Cluster         *string
}

// SpecificationAndTask describes a specification and its task for an insert or replace keyed on the
// external ids.
type SpecificationAndTask struct {
	MomID     *int64
	OTDBID    *int64
	Status    objects.TaskStatus
	Type      objects.TaskType
	StartTime time.Time
	EndTime   time.Time
	Content   string
	Cluster   string
}

// SpecificationAndTaskResult reports the outcome of InsertOrUpdateSpecificationAndTask. Inserted is
// false when an existing task was replaced.
type SpecificationAndTaskResult struct {
	Inserted        bool  `json:"inserted"`
	TaskID          int64 `json:"task_id"`
	SpecificationID int64 `json:"specification_id"`
}

// SpecificationUpdate changes the fields of a specification that are not nil. The times of its
// tasks are not affected.
type SpecificationUpdate struct {
	StartTime *time.Time
	EndTime   *time.Time
	Content   *string
	Cluster   *string
}

// ClaimFilter selects claims. Negative TaskIDs exclude that task. LowerBound keeps claims ending at
// or after it, UpperBound claims starting at or before it.
type ClaimFilter struct {
	ClaimIDs          []int64
	LowerBound        *time.Time
	UpperBound        *time.Time
	ResourceIDs       []int64
	TaskIDs           []int64
	Statuses          []objects.ClaimStatus
	ResourceTypes     []objects.ResourceType
	IncludeProperties bool
}

// ClaimUpdate changes the fields that are not nil of the claims selected by ClaimIDs, TaskIDs and
// ResourceTypes. Claims cannot move to another resource or task.
type ClaimUpdate struct {
	ClaimIDs      []int64
	TaskIDs       []int64
	ResourceTypes []objects.ResourceType
	ResourceID    *int64
	TaskID        *int64
	Status        *objects.ClaimStatus
	StartTime     *time.Time
	EndTime       *time.Time
	Size          *int64
	Username      *string
	UserID        *int64
	UsedRCUs      *string
}

// TaskAndClaimsUpdate changes a task and its claims in one transaction: first the window, moving
// all claims, then the claim fields on the claims of the given resource types (all when empty),
// then the task status.
type TaskAndClaimsUpdate struct {
	StartTime     *time.Time
	EndTime       *time.Time
	TaskStatus    *objects.TaskStatus
	ClaimStatus   *objects.ClaimStatus
	Username      *string
	UserID        *int64
	UsedRCUs      *string
	ResourceTypes []objects.ResourceType
}

// ResourceFilter selects resources. With IncludeAvailability the used and misc used capacities are
// filled in. When both claimable bounds are given the claimable capacity for that window is added.
type ResourceFilter struct {
	IDs                 []int64
	Types               []objects.ResourceType
	IncludeAvailability bool
	ClaimableLowerBound *time.Time
	ClaimableUpperBound *time.Time
}

// ResourceAvailability changes the externally observed figures of a resource.
type ResourceAvailability struct {
	Active    *bool
	Available *int64
	Total     *int64
}

// UsageQuery changes which stored point GetResourceUsageAtOrBefore returns.
type UsageQuery struct {
	// ExactlyAt only accepts a point at the instant itself.
	ExactlyAt bool
	// OnlyBefore only accepts points strictly before the instant.
	OnlyBefore bool
}

// UsageFilter selects usage points. The point in effect at LowerBound is included.
type UsageFilter struct {
	LowerBound  *time.Time
	UpperBound  *time.Time
	ResourceIDs []int64
	Statuses    []objects.ClaimStatus
}

// UsageMismatch reports a timeline that differs from the one computed from the claims. Source is
// "usage" for the stored points and "delta" for the stored deltas.
type UsageMismatch struct {
	ResourceID int64               `json:"resource_id"`
	Status     objects.ClaimStatus `json:"status"`
	Source     string              `json:"source"`
	Expected   []timeline.Point    `json:"expected"`
	Actual     []timeline.Point    `json:"actual"`
}
