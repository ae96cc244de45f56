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

package common

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation returned for malformed requests: bad id sets, unknown enum values, invalid
	// claim windows or sizes, unknown resource groups. Nothing is written.
	ErrValidation = errors.New("validation error")
	// ErrNotFound returned when a referenced task, specification, claim or resource does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate returned when a unique key (mom_id, otdb_id, group name) is already in use
	ErrDuplicate = errors.New("duplicate key")
	// ErrReference returned when a record refers to another record that does not exist, for instance an
	// unknown predecessor task
	ErrReference = errors.New("reference error")
	// ErrInvalidTransition returned when the task state machine refuses the requested status
	ErrInvalidTransition = errors.New("invalid task status transition")
	// ErrClaimDoesNotFit returned when a claim is explicitly claimed, resized or moved while it does not
	// fit in the claimable capacity of its resource
	ErrClaimDoesNotFit = errors.New("claim does not fit in claimable capacity")
	// ErrConcurrentWrite returned when a write transaction could not get the database lock in time
	ErrConcurrentWrite = errors.New("concurrent write conflict, retry with fresh data")
	// ErrCouldNotFindClaim returned by the fitter when no complete assignment exists for the estimates
	ErrCouldNotFindClaim = errors.New("could not find claimable resources")
	// ErrDatabaseClosed returned for calls on a closed database
	ErrDatabaseClosed = errors.New("database is closed")
)

// Constant messages used in validation errors and conflict reasons.
const (
	ClaimStartNotBeforeEnd  = "claim starttime >= endtime"
	NotEnoughCapacity       = "not enough total free capacity"
	ClaimInConflict         = "one or more claims of the task are in conflict"
	UnknownRootGroup        = "unknown root_resource_group"
	ConflictStatusRequested = "conflict status is set by the claim engine and cannot be requested"
)

// NewValidationError creates an error wrapping ErrValidation.
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NewNotFoundError creates an error wrapping ErrNotFound for the given entity and id.
func NewNotFoundError(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}
