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

	"github.com/apache/yunikorn-radb/pkg/fitter"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// SpecificationAndTaskDAOInfo inserts a task, or replaces the one with the same external ids.
type SpecificationAndTaskDAOInfo struct {
	MomID     *int64             `json:"mom_id,omitempty"`
	OTDBID    *int64             `json:"otdb_id,omitempty"`
	Status    objects.TaskStatus `json:"status"`
	Type      objects.TaskType   `json:"type"`
	StartTime time.Time          `json:"starttime"`
	EndTime   time.Time          `json:"endtime"`
	Content   string             `json:"content"`
	Cluster   string             `json:"cluster,omitempty"`
}

// TaskUpdateDAOInfo changes a task. When one of the claim fields is set the task and its claims
// are updated together and only the window and status of the task can change.
type TaskUpdateDAOInfo struct {
	MomID           *int64              `json:"mom_id,omitempty"`
	OTDBID          *int64              `json:"otdb_id,omitempty"`
	Status          *objects.TaskStatus `json:"status,omitempty"`
	Type            *objects.TaskType   `json:"type,omitempty"`
	SpecificationID *int64              `json:"specification_id,omitempty"`
	StartTime       *time.Time          `json:"starttime,omitempty"`
	EndTime         *time.Time          `json:"endtime,omitempty"`
	Cluster         *string             `json:"cluster,omitempty"`

	ClaimStatus   *objects.ClaimStatus   `json:"claim_status,omitempty"`
	Username      *string                `json:"username,omitempty"`
	UserID        *int64                 `json:"user_id,omitempty"`
	UsedRCUs      *string                `json:"used_rcus,omitempty"`
	ResourceTypes []objects.ResourceType `json:"resource_types,omitempty"`
}

func (t *TaskUpdateDAOInfo) HasClaimFields() bool {
	return t.ClaimStatus != nil || t.Username != nil || t.UserID != nil || t.UsedRCUs != nil || len(t.ResourceTypes) > 0
}

func (t *TaskUpdateDAOInfo) HasTaskOnlyFields() bool {
	return t.MomID != nil || t.OTDBID != nil || t.Type != nil || t.SpecificationID != nil || t.Cluster != nil
}

type PredecessorsDAOInfo struct {
	PredecessorIDs []int64 `json:"predecessor_ids"`
}

type ClaimsDAOInfo struct {
	Claims   []*objects.ResourceClaim `json:"claims"`
	Username string                   `json:"username"`
	UserID   int64                    `json:"user_id"`
}

type ClaimUpdateDAOInfo struct {
	ClaimIDs      []int64                `json:"claim_ids,omitempty"`
	TaskIDs       []int64                `json:"task_ids,omitempty"`
	ResourceTypes []objects.ResourceType `json:"resource_types,omitempty"`
	ResourceID    *int64                 `json:"resource_id,omitempty"`
	TaskID        *int64                 `json:"task_id,omitempty"`
	Status        *objects.ClaimStatus   `json:"status,omitempty"`
	StartTime     *time.Time             `json:"starttime,omitempty"`
	EndTime       *time.Time             `json:"endtime,omitempty"`
	Size          *int64                 `json:"claim_size,omitempty"`
	Username      *string                `json:"username,omitempty"`
	UserID        *int64                 `json:"user_id,omitempty"`
	UsedRCUs      *string                `json:"used_rcus,omitempty"`
}

type AvailabilityDAOInfo struct {
	Active    *bool  `json:"active,omitempty"`
	Available *int64 `json:"available_capacity,omitempty"`
	Total     *int64 `json:"total_capacity,omitempty"`
}

type FitDAOInfo struct {
	Estimates []*fitter.Estimate `json:"estimates"`
	StartTime time.Time          `json:"starttime"`
	EndTime   time.Time          `json:"endtime"`
}
