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

type HealthDAOInfo struct {
	Healthy      bool              `json:"healthy"`
	HealthChecks []HealthCheckInfo `json:"health_checks"`
}

type HealthCheckInfo struct {
	Name             string `json:"name"`
	Succeeded        bool   `json:"succeeded"`
	Description      string `json:"description"`
	DiagnosisMessage string `json:"diagnosis_message"`
}

func (h *HealthDAOInfo) AddHealthCheckInfo(succeeded bool, name, description, diagnosis string) {
	h.HealthChecks = append(h.HealthChecks, HealthCheckInfo{
		Name:             name,
		Succeeded:        succeeded,
		Description:      description,
		DiagnosisMessage: diagnosis,
	})
	h.Healthy = h.Healthy && succeeded
}
