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
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"

	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

const (
	workerDatabaseEnv = "RADB_TEST_WORKER_DATABASE"
	workerClaims      = 5
)

// openHandles opens n independent handles on the database of the fixture.
func openHandles(t *testing.T, f *fixture, n int) []*Database {
	t.Helper()
	handles := make([]*Database, n)
	for i := range handles {
		conf := newTestConfig(t)
		conf.Database.Path = f.db.Path()
		db, err := Open(f.ctx, conf)
		assert.NilError(t, err)
		t.Cleanup(func() {
			assert.NilError(t, db.Close())
		})
		handles[i] = db
	}
	return handles
}

func countClaims(t *testing.T, f *fixture, status objects.ClaimStatus) int {
	t.Helper()
	claims, err := f.db.GetResourceClaims(f.ctx, ClaimFilter{Statuses: []objects.ClaimStatus{status}})
	assert.NilError(t, err)
	return len(claims)
}

// TestConcurrentClaimsNeverOverbook lets several handles race for the same capacity: whatever the
// order, exactly as many claims as fit end up claimed.
func TestConcurrentClaimsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	resourceID := f.resource("cep4storage", objects.Storage, 100, 100)
	handles := openHandles(t, f, 4)
	g, ctx := errgroup.WithContext(f.ctx)
	for i, db := range handles {
		db := db
		worker := i
		g.Go(func() error {
			for j := 0; j < 5; j++ {
				result, err := db.InsertSpecificationAndTask(ctx, SpecificationAndTask{
					Status:    objects.Approved,
					Type:      objects.Pipeline,
					StartTime: at(0),
					EndTime:   at(1),
					Content:   fmt.Sprintf("<worker %d task %d/>", worker, j),
				})
				if err != nil {
					return err
				}
				if _, err = db.InsertResourceClaim(ctx, result.TaskID, &objects.ResourceClaim{
					ResourceID: resourceID,
					StartTime:  at(0),
					EndTime:    at(1),
					Size:       10,
					Status:     objects.Claimed,
				}, "worker", int64(worker)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	assert.NilError(t, g.Wait())
	assert.Equal(t, 10, countClaims(t, f, objects.Claimed))
	assert.Equal(t, 10, countClaims(t, f, objects.ClaimConflict))
	assert.Equal(t, int64(100), f.usage(resourceID, objects.Claimed, at(0.5)))
	tasks, err := f.db.GetTasks(f.ctx, TaskFilter{Statuses: []objects.TaskStatus{objects.Conflict}})
	assert.NilError(t, err)
	assert.Equal(t, 10, len(tasks))
	f.verify()
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	f := newFixture(t)
	resourceID := f.resource("cep4storage", objects.Storage, 1000, 1000)
	taskID := f.task(objects.Approved, at(0), at(10))
	handles := openHandles(t, f, 3)
	g, ctx := errgroup.WithContext(f.ctx)
	for i, db := range handles {
		db := db
		offset := float64(i)
		g.Go(func() error {
			for j := 0; j < 10; j++ {
				start := at(offset + float64(j)*0.1)
				if _, err := db.InsertResourceClaim(ctx, taskID, &objects.ResourceClaim{
					ResourceID: resourceID,
					StartTime:  start,
					EndTime:    start.Add(time.Hour),
					Size:       3,
				}, "writer", 1); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for j := 0; j < 20; j++ {
			if _, err := f.db.GetResourceUsages(ctx, UsageFilter{ResourceIDs: []int64{resourceID}}); err != nil {
				return err
			}
		}
		return nil
	})
	assert.NilError(t, g.Wait())
	assert.Equal(t, 30, countClaims(t, f, objects.Tentative))
	f.verify()
}

// TestClaimWorkerProcess is the body of the processes started by TestMultiProcessClaims.
func TestClaimWorkerProcess(t *testing.T) {
	path := os.Getenv(workerDatabaseEnv)
	if path == "" {
		t.Skip("only runs as a worker process")
	}
	conf := configs.DefaultConfig()
	conf.Database.Path = path
	ctx := context.Background()
	db, err := Open(ctx, conf)
	assert.NilError(t, err)
	defer func() {
		assert.NilError(t, db.Close())
	}()
	resources, err := db.GetResources(ctx, ResourceFilter{Types: []objects.ResourceType{objects.Storage}})
	assert.NilError(t, err)
	assert.Equal(t, 1, len(resources))
	for i := 0; i < workerClaims; i++ {
		result, err := db.InsertSpecificationAndTask(ctx, SpecificationAndTask{
			Status:    objects.Approved,
			Type:      objects.Observation,
			StartTime: at(0),
			EndTime:   at(1),
			Content:   fmt.Sprintf("<pid %d task %d/>", os.Getpid(), i),
		})
		assert.NilError(t, err)
		_, err = db.InsertResourceClaim(ctx, result.TaskID, &objects.ResourceClaim{
			ResourceID: resources[0].ID,
			StartTime:  at(0),
			EndTime:    at(1),
			Size:       10,
			Status:     objects.Claimed,
		}, "worker", int64(os.Getpid()))
		assert.NilError(t, err)
	}
}

// TestMultiProcessClaims runs the claim race across processes sharing the database file.
func TestMultiProcessClaims(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}
	if os.Getenv(workerDatabaseEnv) != "" {
		t.Skip("already a worker process")
	}
	f := newFixture(t)
	resourceID := f.resource("cep4storage", objects.Storage, 100, 100)
	const processes = 3
	g, ctx := errgroup.WithContext(f.ctx)
	for i := 0; i < processes; i++ {
		g.Go(func() error {
			cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestClaimWorkerProcess$", "-test.count=1")
			cmd.Env = append(os.Environ(), workerDatabaseEnv+"="+f.db.Path())
			output, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("worker failed: %w\n%s", err, output)
			}
			return nil
		})
	}
	assert.NilError(t, g.Wait())
	// 15 claims of 10 on a capacity of 100
	assert.Equal(t, 10, countClaims(t, f, objects.Claimed))
	assert.Equal(t, processes*workerClaims-10, countClaims(t, f, objects.ClaimConflict))
	assert.Equal(t, int64(100), f.usage(resourceID, objects.Claimed, at(0.5)))
	f.verify()
}
