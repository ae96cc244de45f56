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

package fitter

import (
	"encoding/json"
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

func TestParseQuantity(t *testing.T) {
	tests := map[string]struct {
		input string
		qty   Quantity
		err   string
	}{
		"0":          {input: "0", qty: 0},
		"1":          {input: "1", qty: 1},
		"-1":         {input: "-1", qty: -1},
		"spaces":     {input: " 25k ", qty: 25 * 1000},
		"max":        {input: "9223372036854775807", qty: 9223372036854775807},
		"overflow":   {input: "9223372036854775808", err: "overflow"},
		"overflow2":  {input: "1000E", err: "overflow"},
		"wrong unit": {input: "5X", err: "unknown suffix"},
		"milli":      {input: "500m", err: "unknown suffix"},
		"garbage":    {input: "ten", err: "invalid quantity"},
		"3M":         {input: "3M", qty: 3 * 1000 * 1000},
		"4G":         {input: "4G", qty: 4 * 1000 * 1000 * 1000},
		"7E":         {input: "7E", qty: 7 * 1000 * 1000 * 1000 * 1000 * 1000 * 1000},
		"2Ki":        {input: "2Ki", qty: 2 * 1024},
		"4Gi":        {input: "4Gi", qty: 4 * 1024 * 1024 * 1024},
		"7Ei":        {input: "7Ei", qty: 7 * 1024 * 1024 * 1024 * 1024 * 1024 * 1024},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			qty, err := ParseQuantity(test.input)
			if test.err != "" {
				assert.ErrorContains(t, err, test.err)
				assert.Assert(t, errors.Is(err, common.ErrValidation))
				return
			}
			assert.NilError(t, err)
			assert.Equal(t, test.qty, qty)
		})
	}
}

func TestDecodeEstimate(t *testing.T) {
	var estimates []*Estimate
	err := json.Unmarshal([]byte(`[{
		"root_resource_group": "CEP4",
		"resource_count": 2,
		"resource_types": {"storage": "10Gi", "bandwidth": 1000},
		"output_files": {"uv": [{"sap_nr": 0, "properties": {"nr_of_uv_files": 244, "uv_file_size": "1Mi"}}]}
	}]`), &estimates)
	assert.NilError(t, err)
	assert.Equal(t, 1, len(estimates))
	e := estimates[0]
	assert.DeepEqual(t, Capacity{objects.Storage: 10 << 30, objects.Bandwidth: 1000}, e.ResourceTypes)
	assert.Equal(t, Quantity(1<<20), e.OutputFiles["uv"][0].Properties["uv_file_size"])
	assert.Equal(t, 0, *e.OutputFiles["uv"][0].SAPNr)

	err = json.Unmarshal([]byte(`[{"resource_types": {"disk": 1}}]`), &estimates)
	assert.ErrorContains(t, err, "disk")
	err = json.Unmarshal([]byte(`[{"resource_types": {"storage": true}}]`), &estimates)
	assert.Assert(t, errors.Is(err, common.ErrValidation), err)
}

func TestCapacity(t *testing.T) {
	larger := Capacity{objects.Storage: 10, objects.Bandwidth: -1}
	assert.Assert(t, FitIn(larger, Capacity{objects.Storage: 10}))
	assert.Assert(t, !FitIn(larger, Capacity{objects.Storage: 11}))
	assert.Assert(t, FitIn(larger, Capacity{objects.Bandwidth: 0}))
	assert.Assert(t, !FitIn(larger, Capacity{objects.Bandwidth: 1}))
	assert.Assert(t, !FitIn(larger, Capacity{objects.Processor: 1}))
	assert.Assert(t, FitIn(larger, Capacity{objects.RCU: 5}, objects.RCU))

	needs := Capacity{objects.Storage: 3, objects.RCU: 2}
	multiplied := needs.MultiplyBy(4, objects.RCU)
	assert.DeepEqual(t, Capacity{objects.Storage: 12, objects.RCU: 2}, multiplied)
	assert.Equal(t, Quantity(3), needs[objects.Storage])
	assert.Equal(t, "[rcu:2 storage:3]", needs.String())
}
