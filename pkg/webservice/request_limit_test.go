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
	"testing"

	"gotest.tools/v3/assert"
)

func TestAddRemoveHost(t *testing.T) {
	rl := NewRequestLimiter(10, 5)
	assert.Assert(t, rl.AddHost("host-1"))
	assert.Assert(t, rl.AddHost("host-1"))
	assert.Assert(t, rl.AddHost("host-2"))
	assert.Equal(t, 2, len(rl.perHost))
	assert.Equal(t, uint64(3), rl.total)

	rl.RemoveHost("host-3") // remove non-existing
	assert.Equal(t, 2, len(rl.perHost))
	assert.Equal(t, uint64(3), rl.total)

	rl.RemoveHost("host-1")
	rl.RemoveHost("host-2")
	assert.Equal(t, 1, len(rl.perHost))
	assert.Equal(t, uint64(1), rl.total)

	rl.RemoveHost("host-1")
	assert.Equal(t, 0, len(rl.perHost))
	assert.Equal(t, uint64(0), rl.total)
}

func TestAddHostLimits(t *testing.T) {
	total := NewRequestLimiter(2, 2)
	assert.Assert(t, total.AddHost("host-1"))
	assert.Assert(t, total.AddHost("host-2"))
	assert.Assert(t, !total.AddHost("host-3"))

	perHost := NewRequestLimiter(10, 2)
	assert.Assert(t, perHost.AddHost("host-1"))
	assert.Assert(t, perHost.AddHost("host-1"))
	assert.Assert(t, !perHost.AddHost("host-1"))
	assert.Assert(t, perHost.AddHost("host-2"))
}
