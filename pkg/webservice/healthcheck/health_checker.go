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

package healthcheck

import (
	"context"
	"fmt"

	"github.com/apache/yunikorn-radb/pkg/metrics"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/radb"
	"github.com/apache/yunikorn-radb/pkg/webservice/dao"
)

// Database is the part of the database the health checks read.
type Database interface {
	GetResources(ctx context.Context, filter radb.ResourceFilter) ([]*objects.Resource, error)
	VerifyResourceUsages(ctx context.Context, resourceID *int64) ([]radb.UsageMismatch, error)
}

func GetHealthStatus(ctx context.Context, db Database, m *metrics.RADBMetrics) dao.HealthDAOInfo {
	info := dao.HealthDAOInfo{Healthy: true}
	checkWriteContention(&info, m)
	resources, err := db.GetResources(ctx, radb.ResourceFilter{IncludeAvailability: true})
	if err != nil {
		info.AddHealthCheckInfo(false, "Database", "Check if the database can be read", err.Error())
		return info
	}
	info.AddHealthCheckInfo(true, "Database", "Check if the database can be read",
		fmt.Sprintf("%d resources in the catalog", len(resources)))
	checkCapacity(&info, resources)
	checkUsages(ctx, &info, db)
	return info
}

func checkWriteContention(info *dao.HealthDAOInfo, m *metrics.RADBMetrics) {
	busy, err := m.GetTransactionsBusy()
	if err != nil {
		info.AddHealthCheckInfo(false, "Write contention", "Check for write transactions that found the database locked", err.Error())
		return
	}
	info.AddHealthCheckInfo(busy == 0, "Write contention", "Check for write transactions that found the database locked",
		fmt.Sprintf("There were %d write transactions that gave up on a locked database", busy))
}

// checkCapacity verifies that the claimed usage now and the usage outside the claim system fit in
// the total capacity of every active resource.
func checkCapacity(info *dao.HealthDAOInfo, resources []*objects.Resource) {
	var negative []string
	var overbooked []string
	for _, r := range resources {
		if r.UsedCapacity < 0 || r.MiscUsedCapacity < 0 || r.TotalCapacity < 0 {
			negative = append(negative, r.Name)
		}
		if r.Active && r.UsedCapacity+r.MiscUsedCapacity > r.TotalCapacity {
			overbooked = append(overbooked, r.Name)
		}
	}
	info.AddHealthCheckInfo(len(negative) == 0, "Negative capacity",
		"Check for negative capacities and usages of resources",
		fmt.Sprintf("Resources with negative values: %q", negative))
	info.AddHealthCheckInfo(len(overbooked) == 0, "Consistency of data",
		"Check if claimed usage + misc usage <= total capacity of the resource",
		fmt.Sprintf("Resources with inconsistent data: %q", overbooked))
}

func checkUsages(ctx context.Context, info *dao.HealthDAOInfo, db Database) {
	mismatches, err := db.VerifyResourceUsages(ctx, nil)
	if err != nil {
		info.AddHealthCheckInfo(false, "Usage timelines", "Check if the stored usages match the claims", err.Error())
		return
	}
	resources := make(map[int64]bool)
	for _, mismatch := range mismatches {
		resources[mismatch.ResourceID] = true
	}
	info.AddHealthCheckInfo(len(mismatches) == 0, "Usage timelines", "Check if the stored usages match the claims",
		fmt.Sprintf("%d mismatching timelines on %d resources", len(mismatches), len(resources)))
}
