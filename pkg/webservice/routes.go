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
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
	// heavy requests are limited per client host
	Heavy bool
	// the handler compresses its own output
	Compressed bool
}

func (m *WebService) routes() []route {
	return []route{
		// tasks
		{Name: "Tasks", Method: "PUT", Pattern: apiPrefix + "/tasks", HandlerFunc: m.putTask},
		{Name: "Tasks", Method: "GET", Pattern: apiPrefix + "/tasks", HandlerFunc: m.getTasks},
		{Name: "Tasks", Method: "GET", Pattern: apiPrefix + "/tasks/:id", HandlerFunc: m.getTask},
		{Name: "Tasks", Method: "PATCH", Pattern: apiPrefix + "/tasks/:id", HandlerFunc: m.patchTask},
		{Name: "Tasks", Method: "DELETE", Pattern: apiPrefix + "/tasks/:id", HandlerFunc: m.deleteTask},
		{Name: "Tasks", Method: "POST", Pattern: apiPrefix + "/tasks/:id/predecessors", HandlerFunc: m.postPredecessors},
		{Name: "Tasks", Method: "GET", Pattern: apiPrefix + "/tasks/:id/predecessors", HandlerFunc: m.getPredecessors},
		{Name: "Tasks", Method: "GET", Pattern: apiPrefix + "/tasks/:id/successors", HandlerFunc: m.getSuccessors},
		{Name: "Tasks", Method: "GET", Pattern: apiPrefix + "/tasks/:id/conflicts", HandlerFunc: m.getTaskConflicts},
		{Name: "Tasks", Method: "POST", Pattern: apiPrefix + "/tasks/:id/claims", HandlerFunc: m.postClaims},
		{Name: "Tasks", Method: "GET", Pattern: apiPrefix + "/timewindow", HandlerFunc: m.getTimeWindow},
		{Name: "Specifications", Method: "GET", Pattern: apiPrefix + "/specifications/:id", HandlerFunc: m.getSpecification},

		// claims
		{Name: "Claims", Method: "GET", Pattern: apiPrefix + "/claims", HandlerFunc: m.getClaims},
		{Name: "Claims", Method: "PATCH", Pattern: apiPrefix + "/claims", HandlerFunc: m.patchClaims},
		{Name: "Claims", Method: "GET", Pattern: apiPrefix + "/claims/:id", HandlerFunc: m.getClaim},
		{Name: "Claims", Method: "DELETE", Pattern: apiPrefix + "/claims/:id", HandlerFunc: m.deleteClaim},
		{Name: "Claims", Method: "GET", Pattern: apiPrefix + "/claims/:id/overlapping", HandlerFunc: m.getOverlappingClaims},
		{Name: "Claims", Method: "GET", Pattern: apiPrefix + "/claims/:id/overlappingtasks", HandlerFunc: m.getOverlappingTasks},
		{Name: "Claims", Method: "GET", Pattern: apiPrefix + "/claims/:id/conflicts", HandlerFunc: m.getClaimConflicts},

		// resources and usage
		{Name: "Resources", Method: "GET", Pattern: apiPrefix + "/resources", HandlerFunc: m.getResources},
		{Name: "Resources", Method: "GET", Pattern: apiPrefix + "/resources/:id", HandlerFunc: m.getResource},
		{Name: "Resources", Method: "PATCH", Pattern: apiPrefix + "/resources/:id/availability", HandlerFunc: m.patchAvailability},
		{Name: "Resources", Method: "GET", Pattern: apiPrefix + "/resources/:id/usage", HandlerFunc: m.getResourceUsage},
		{Name: "Resources", Method: "GET", Pattern: apiPrefix + "/resources/:id/claimable", HandlerFunc: m.getClaimable},
		{Name: "Usages", Method: "GET", Pattern: apiPrefix + "/usages", HandlerFunc: m.getUsages},
		{Name: "Usages", Method: "POST", Pattern: apiPrefix + "/usages/rebuild", HandlerFunc: m.rebuildUsages, Heavy: true},
		{Name: "Usages", Method: "GET", Pattern: apiPrefix + "/usages/verify", HandlerFunc: m.verifyUsages, Heavy: true},
		{Name: "Groups", Method: "GET", Pattern: apiPrefix + "/groups", HandlerFunc: m.getGroups},
		{Name: "Groups", Method: "GET", Pattern: apiPrefix + "/groups/memberships", HandlerFunc: m.getMemberships},
		{Name: "Fitter", Method: "POST", Pattern: apiPrefix + "/fit", HandlerFunc: m.postFit, Heavy: true},

		// service
		{Name: "Service", Method: "GET", Pattern: apiPrefix + "/enums", HandlerFunc: m.getEnums},
		{Name: "Service", Method: "GET", Pattern: apiPrefix + "/config", HandlerFunc: m.getConfig},
		{Name: "Service", Method: "POST", Pattern: apiPrefix + "/validate-conf", HandlerFunc: validateConf},
		{Name: "Service", Method: "GET", Pattern: apiPrefix + "/statedump", HandlerFunc: m.getFullStateDump, Heavy: true},
		{Name: "Service", Method: "GET", Pattern: "/health", HandlerFunc: m.getHealth},
		{Name: "Service", Method: "GET", Pattern: "/metrics", HandlerFunc: promhttp.Handler().ServeHTTP, Compressed: true},
	}
}
