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
	"github.com/apache/yunikorn-radb/pkg/common"
)

// ----------------------------------
// task status
// ----------------------------------
type TaskStatus int

const (
	Prepared TaskStatus = iota
	Approved
	OnHold
	Conflict
	Prescheduled
	Scheduled
	Queued
	Active
	Completing
	Finished
	Aborted
	Error
	Obsolete
)

var taskStatusNames = []string{"prepared", "approved", "on_hold", "conflict", "prescheduled", "scheduled", "queued", "active", "completing", "finished", "aborted", "error", "obsolete"}

func (ts TaskStatus) String() string {
	if ts < 0 || int(ts) >= len(taskStatusNames) {
		return "unknown"
	}
	return taskStatusNames[ts]
}

// IsTerminal returns true for the statuses after which claims are pruned once they have ended.
func (ts TaskStatus) IsTerminal() bool {
	return ts == Finished || ts == Aborted || ts == Obsolete
}

// IsPastQueued returns true once a task has started running or has ended: claims of such tasks are
// not re-evaluated for conflicts any more.
func (ts TaskStatus) IsPastQueued() bool {
	return ts >= Active
}

// CanConflict returns true for the statuses that switch to conflict when a claim is in conflict.
func (ts TaskStatus) CanConflict() bool {
	return !ts.IsPastQueued() && ts != Conflict
}

// ReleasesClaims returns true for the statuses that put the claimed claims of a task back to tentative
// when entered.
func (ts TaskStatus) ReleasesClaims() bool {
	return ts == Prepared || ts == Approved || ts == OnHold || ts == Conflict
}

func (ts TaskStatus) MarshalText() ([]byte, error) {
	return []byte(ts.String()), nil
}

func (ts *TaskStatus) UnmarshalText(text []byte) error {
	status, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*ts = status
	return nil
}

// ParseTaskStatus converts a status name.
func ParseTaskStatus(name string) (TaskStatus, error) {
	idx, err := parseName("task status", taskStatusNames, name)
	return TaskStatus(idx), err
}

// TaskStatusNames lists all task statuses in id order.
func TaskStatusNames() []string {
	return append([]string(nil), taskStatusNames...)
}

// ----------------------------------
// task type
// ----------------------------------
type TaskType int

const (
	Observation TaskType = iota
	Pipeline
	Reservation
)

var taskTypeNames = []string{"observation", "pipeline", "reservation"}

func (tt TaskType) String() string {
	if tt < 0 || int(tt) >= len(taskTypeNames) {
		return "unknown"
	}
	return taskTypeNames[tt]
}

func (tt TaskType) MarshalText() ([]byte, error) {
	return []byte(tt.String()), nil
}

func (tt *TaskType) UnmarshalText(text []byte) error {
	taskType, err := ParseTaskType(string(text))
	if err != nil {
		return err
	}
	*tt = taskType
	return nil
}

func ParseTaskType(name string) (TaskType, error) {
	idx, err := parseName("task type", taskTypeNames, name)
	return TaskType(idx), err
}

func TaskTypeNames() []string {
	return append([]string(nil), taskTypeNames...)
}

// ----------------------------------
// claim status
// ----------------------------------
type ClaimStatus int

const (
	Tentative ClaimStatus = iota
	Claimed
	ClaimConflict
)

var claimStatusNames = []string{"tentative", "claimed", "conflict"}

// AllClaimStatuses lists every claim status, each has its own usage timeline.
var AllClaimStatuses = []ClaimStatus{Tentative, Claimed, ClaimConflict}

func (cs ClaimStatus) String() string {
	if cs < 0 || int(cs) >= len(claimStatusNames) {
		return "unknown"
	}
	return claimStatusNames[cs]
}

func (cs ClaimStatus) MarshalText() ([]byte, error) {
	return []byte(cs.String()), nil
}

func (cs *ClaimStatus) UnmarshalText(text []byte) error {
	status, err := ParseClaimStatus(string(text))
	if err != nil {
		return err
	}
	*cs = status
	return nil
}

func ParseClaimStatus(name string) (ClaimStatus, error) {
	idx, err := parseName("claim status", claimStatusNames, name)
	return ClaimStatus(idx), err
}

func ClaimStatusNames() []string {
	return append([]string(nil), claimStatusNames...)
}

// ----------------------------------
// resource type
// ----------------------------------
type ResourceType int

const (
	RSP ResourceType = iota
	TBB
	RCU
	Bandwidth
	Processor
	Storage
)

var resourceTypeNames = []string{"rsp", "tbb", "rcu", "bandwidth", "processor", "storage"}

// units per resource type, in the same order as the names
var resourceTypeUnits = []string{"rsp_channel_bit", "bytes", "rcu_board", "bits/second", "cores", "bytes"}

func (rt ResourceType) String() string {
	if rt < 0 || int(rt) >= len(resourceTypeNames) {
		return "unknown"
	}
	return resourceTypeNames[rt]
}

// Unit in which capacities and claim sizes of this type are expressed.
func (rt ResourceType) Unit() string {
	if rt < 0 || int(rt) >= len(resourceTypeUnits) {
		return "unknown"
	}
	return resourceTypeUnits[rt]
}

func (rt ResourceType) MarshalText() ([]byte, error) {
	return []byte(rt.String()), nil
}

func (rt *ResourceType) UnmarshalText(text []byte) error {
	resourceType, err := ParseResourceType(string(text))
	if err != nil {
		return err
	}
	*rt = resourceType
	return nil
}

func ParseResourceType(name string) (ResourceType, error) {
	idx, err := parseName("resource type", resourceTypeNames, name)
	return ResourceType(idx), err
}

func ResourceTypeNames() []string {
	return append([]string(nil), resourceTypeNames...)
}

// ----------------------------------
// claim property io type
// ----------------------------------
type IOType int

const (
	Output IOType = iota
	Input
)

var ioTypeNames = []string{"output", "input"}

func (it IOType) String() string {
	if it < 0 || int(it) >= len(ioTypeNames) {
		return "unknown"
	}
	return ioTypeNames[it]
}

func (it IOType) MarshalText() ([]byte, error) {
	return []byte(it.String()), nil
}

func (it *IOType) UnmarshalText(text []byte) error {
	ioType, err := ParseIOType(string(text))
	if err != nil {
		return err
	}
	*it = ioType
	return nil
}

func ParseIOType(name string) (IOType, error) {
	idx, err := parseName("io type", ioTypeNames, name)
	return IOType(idx), err
}

func parseName(kind string, names []string, name string) (int, error) {
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	return 0, common.NewValidationError("unknown %s '%s'", kind, name)
}
