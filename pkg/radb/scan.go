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
	"database/sql"
	"strings"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// where collects the conditions of a query, all joined with AND.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, args ...interface{}) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// in adds "column IN (...)". An empty list matches nothing.
func (w *where) in(column string, values []interface{}) {
	if len(values) == 0 {
		w.clauses = append(w.clauses, "0")
		return
	}
	w.add(column+" IN ("+placeholders(len(values))+")", values...)
}

func (w *where) notIn(column string, values []interface{}) {
	if len(values) == 0 {
		return
	}
	w.add(column+" NOT IN ("+placeholders(len(values))+")", values...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(values []int64) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// nameArgs converts enum values to their stored names.
func nameArgs[T interface{ String() string }](values []T) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v.String()
	}
	return args
}

// nullableID stores a missing or negative external id as NULL.
func nullableID(id *int64) interface{} {
	if id == nil || *id < 0 {
		return nil
	}
	return *id
}

func fromNullable(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return common.Int64Ptr(v.Int64)
}

const specificationColumns = "s.id, s.starttime, s.endtime, s.content, s.cluster"

func scanSpecification(row scanner) (*objects.Specification, error) {
	var spec objects.Specification
	var start, end int64
	if err := row.Scan(&spec.ID, &start, &end, &spec.Content, &spec.Cluster); err != nil {
		return nil, err
	}
	spec.StartTime = common.FromNanos(start)
	spec.EndTime = common.FromNanos(end)
	return &spec, nil
}

const taskColumns = "t.id, t.mom_id, t.otdb_id, t.specification_id, t.status, t.type, t.starttime, t.endtime, t.cluster"

func scanTask(row scanner) (*objects.Task, error) {
	var task objects.Task
	var momID, otdbID sql.NullInt64
	var status, taskType string
	var start, end int64
	if err := row.Scan(&task.ID, &momID, &otdbID, &task.SpecificationID, &status, &taskType, &start, &end, &task.Cluster); err != nil {
		return nil, err
	}
	var err error
	if task.Status, err = objects.ParseTaskStatus(status); err != nil {
		return nil, err
	}
	if task.Type, err = objects.ParseTaskType(taskType); err != nil {
		return nil, err
	}
	task.MomID = fromNullable(momID)
	task.OTDBID = fromNullable(otdbID)
	task.StartTime = common.FromNanos(start)
	task.EndTime = common.FromNanos(end)
	return &task, nil
}

const claimColumns = "c.id, c.resource_id, r.type, c.task_id, c.starttime, c.endtime, c.claim_size, c.status, c.username, c.user_id, c.used_rcus"

const claimFrom = " FROM resource_claim c JOIN resource r ON r.id = c.resource_id"

func scanClaim(row scanner) (*objects.ResourceClaim, error) {
	var claim objects.ResourceClaim
	var resourceType, status string
	var start, end int64
	if err := row.Scan(&claim.ID, &claim.ResourceID, &resourceType, &claim.TaskID, &start, &end, &claim.Size,
		&status, &claim.Username, &claim.UserID, &claim.UsedRCUs); err != nil {
		return nil, err
	}
	var err error
	if claim.ResourceType, err = objects.ParseResourceType(resourceType); err != nil {
		return nil, err
	}
	if claim.Status, err = objects.ParseClaimStatus(status); err != nil {
		return nil, err
	}
	claim.StartTime = common.FromNanos(start)
	claim.EndTime = common.FromNanos(end)
	return &claim, nil
}

const resourceColumns = "r.id, r.name, r.type, r.active, r.total_capacity, r.available_capacity"

func scanResource(row scanner) (*objects.Resource, error) {
	var resource objects.Resource
	var resourceType string
	if err := row.Scan(&resource.ID, &resource.Name, &resourceType, &resource.Active,
		&resource.TotalCapacity, &resource.AvailableCapacity); err != nil {
		return nil, err
	}
	var err error
	if resource.Type, err = objects.ParseResourceType(resourceType); err != nil {
		return nil, err
	}
	resource.Unit = resource.Type.Unit()
	return &resource, nil
}

// collect scans all rows with the given scan function and closes the rows.
func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var result []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func scanInt64(row scanner) (int64, error) {
	var v int64
	err := row.Scan(&v)
	return v, err
}
