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

package webservice

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/apache/yunikorn-radb/pkg/common/configs"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/radb"
)

const (
	stateLogCallDepth = 2
)

var stateDump sync.Mutex // ensures only one state dump can be handled at a time

type AggregatedStateInfo struct {
	Timestamp     int64                     `json:"timestamp,omitempty"`
	InstanceID    string                    `json:"instance_id,omitempty"`
	DatabasePath  string                    `json:"database_path,omitempty"`
	Resources     []*objects.Resource       `json:"resources,omitempty"`
	Memberships   *objects.GroupMemberships `json:"memberships,omitempty"`
	Tasks         []*objects.Task           `json:"tasks,omitempty"`
	Claims        []*objects.ResourceClaim  `json:"claims,omitempty"`
	FillRatios    map[string]float64        `json:"max_fill_ratios,omitempty"`
	Mismatches    []radb.UsageMismatch      `json:"usage_mismatches,omitempty"`
	Configuration *configs.RADBConfig       `json:"configuration,omitempty"`
}

func (m *WebService) getFullStateDump(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	if err := m.doStateDump(r.Context(), w); err != nil {
		writeError(w, r, err)
	}
}

// doStateDump writes everything the database knows about tasks, claims and resources that are
// not over yet, as one indented json document.
func (m *WebService) doStateDump(ctx context.Context, w io.Writer) error {
	stateDump.Lock()
	defer stateDump.Unlock()

	now := m.db.Now()
	aggregated := AggregatedStateInfo{
		Timestamp:     now.UnixNano(),
		InstanceID:    m.db.InstanceID(),
		DatabasePath:  m.db.Path(),
		Configuration: configs.ConfigContext.Get(),
	}
	var err error
	if aggregated.Resources, err = m.db.GetResources(ctx, radb.ResourceFilter{IncludeAvailability: true}); err != nil {
		return err
	}
	if aggregated.Memberships, err = m.db.GetResourceGroupMemberships(ctx); err != nil {
		return err
	}
	if aggregated.Tasks, err = m.db.GetTasks(ctx, radb.TaskFilter{LowerBound: &now}); err != nil {
		return err
	}
	if aggregated.Claims, err = m.db.GetResourceClaims(ctx, radb.ClaimFilter{LowerBound: &now, IncludeProperties: true}); err != nil {
		return err
	}
	if aggregated.FillRatios, err = m.db.GetResourceAllocationConfig(ctx, ""); err != nil {
		return err
	}
	if aggregated.Mismatches, err = m.db.VerifyResourceUsages(ctx, nil); err != nil {
		return err
	}

	var prettyJSON []byte
	prettyJSON, err = json.MarshalIndent(aggregated, "", "  ")
	if err != nil {
		return err
	}

	stateLog := log.New(w, "", 0)
	if err = stateLog.Output(stateLogCallDepth, string(prettyJSON)); err != nil {
		return err
	}
	return nil
}
