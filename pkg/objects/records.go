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
	"time"
)

// Specification holds the opaque content a task was derived from.
type Specification struct {
	ID        int64     `json:"id"`
	StartTime time.Time `json:"starttime"`
	EndTime   time.Time `json:"endtime"`
	Content   string    `json:"content"`
	Cluster   string    `json:"cluster"`
}

// Task is a schedulable unit of work with its own time window and claims.
type Task struct {
	ID              int64      `json:"id"`
	MomID           *int64     `json:"mom_id"`
	OTDBID          *int64     `json:"otdb_id"`
	SpecificationID int64      `json:"specification_id"`
	Status          TaskStatus `json:"status"`
	Type            TaskType   `json:"type"`
	StartTime       time.Time  `json:"starttime"`
	EndTime         time.Time  `json:"endtime"`
	Cluster         string     `json:"cluster"`
	PredecessorIDs  []int64    `json:"predecessor_ids"`
	SuccessorIDs    []int64    `json:"successor_ids"`
}

// Duration of the task window.
func (t *Task) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// ClaimProperty is one typed piece of claim metadata, for instance the number of files written for a
// sub array pointing.
type ClaimProperty struct {
	Type   string `json:"type"`
	Value  int64  `json:"value"`
	IOType IOType `json:"io_type"`
	SAPNr  *int   `json:"sap_nr,omitempty"`
}

// ResourceClaim reserves Size units of a resource in [StartTime, EndTime).
type ResourceClaim struct {
	ID           int64           `json:"id"`
	ResourceID   int64           `json:"resource_id"`
	ResourceType ResourceType    `json:"resource_type"`
	TaskID       int64           `json:"task_id"`
	StartTime    time.Time       `json:"starttime"`
	EndTime      time.Time       `json:"endtime"`
	Size         int64           `json:"claim_size"`
	Status       ClaimStatus     `json:"status"`
	Username     string          `json:"username"`
	UserID       int64           `json:"user_id"`
	UsedRCUs     string          `json:"used_rcus,omitempty"`
	Properties   []ClaimProperty `json:"properties,omitempty"`
}

// Overlaps returns true if the claim windows intersect, touching windows do not overlap.
func (c *ResourceClaim) Overlaps(start, end time.Time) bool {
	return c.StartTime.Before(end) && start.Before(c.EndTime)
}

// Resource is a single claimable entity with its externally observed capacity figures.
type Resource struct {
	ID                int64        `json:"id"`
	Name              string       `json:"name"`
	Type              ResourceType `json:"type"`
	Unit              string       `json:"unit"`
	Active            bool         `json:"active"`
	TotalCapacity     int64        `json:"total_capacity"`
	AvailableCapacity int64        `json:"available_capacity"`
	UsedCapacity      int64        `json:"used_capacity"`
	MiscUsedCapacity  int64        `json:"misc_used_capacity"`
	ClaimableCapacity *int64       `json:"claimable_capacity,omitempty"`
}

// ResourceGroup is a node in the group DAG.
type ResourceGroup struct {
	ID          int64   `json:"resource_group_id"`
	Name        string  `json:"resource_group_name"`
	Type        string  `json:"resource_group_type"`
	ParentIDs   []int64 `json:"parent_ids"`
	ChildIDs    []int64 `json:"child_ids"`
	ResourceIDs []int64 `json:"resource_ids"`
}

// ResourceMembership lists the groups a resource belongs to.
type ResourceMembership struct {
	ID             int64   `json:"resource_id"`
	Name           string  `json:"resource_name"`
	ParentGroupIDs []int64 `json:"parent_group_ids"`
}

// GroupMemberships is the full bidirectional group graph.
type GroupMemberships struct {
	Groups    map[int64]*ResourceGroup      `json:"groups"`
	Resources map[int64]*ResourceMembership `json:"resources"`
}

// GroupByName returns the group with the given name, nil if it does not exist.
func (gm *GroupMemberships) GroupByName(name string) *ResourceGroup {
	for _, g := range gm.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// UsagePoint is a stored step of the usage function of one resource and claim status.
type UsagePoint struct {
	ResourceID int64       `json:"resource_id"`
	Status     ClaimStatus `json:"status"`
	At         time.Time   `json:"as_of_timestamp"`
	Usage      int64       `json:"usage"`
}

// ConflictReason explains why a claim or task is in conflict.
type ConflictReason struct {
	ClaimID *int64 `json:"claim_id,omitempty"`
	TaskID  int64  `json:"task_id"`
	Reason  string `json:"reason"`
}
