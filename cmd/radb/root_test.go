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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

const testCatalog = `
groups:
  - name: CEP4
    type: cluster
    resources:
      - name: cep4storage
        type: storage
        total: 100
      - name: cpunode01
        type: rcu
        total: 24
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// keep the developer environment out of the commands under test
	t.Setenv("RADB_CONFIG", writeFile(t, "radb.yaml", ""))
	cmd := NewRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	valid := writeFile(t, "valid.yaml", `
database:
  path: /var/lib/radb/radb.db
janitor:
  interval: 5m
`)
	out, err := runCmd(t, "config", "check", valid)
	assert.NilError(t, err)
	assert.Assert(t, bytes.Contains([]byte(out), []byte("path: /var/lib/radb/radb.db")), out)
	assert.Assert(t, bytes.Contains([]byte(out), []byte("interval: 5m0s")), out)

	invalid := writeFile(t, "invalid.yaml", "database:\n  unknown: 1\n")
	_, err = runCmd(t, "config", "check", invalid)
	assert.ErrorContains(t, err, "field unknown not found")

	_, err = runCmd(t, "config", "check")
	assert.ErrorContains(t, err, "accepts 1 arg(s)")
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := runCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	assert.ErrorContains(t, err, "failed to read configuration")
}

func TestMigrateCatalogAndUsages(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "radb.db")

	out, err := runCmd(t, "--database", dbPath, "migrate")
	assert.NilError(t, err)
	assert.Assert(t, bytes.Contains([]byte(out), []byte("dirty: false")), out)

	out, err = runCmd(t, "--database", dbPath, "catalog", "load", writeFile(t, "catalog.yaml", testCatalog))
	assert.NilError(t, err)
	assert.Equal(t, "loaded 1 groups, 2 resources, 2 memberships\n", out)

	out, err = runCmd(t, "--database", dbPath, "verify")
	assert.NilError(t, err)
	assert.Equal(t, "resource usages are consistent\n", out)

	out, err = runCmd(t, "--database", dbPath, "rebuild", "--resource", "1", "--status", "claimed")
	assert.NilError(t, err)
	assert.Equal(t, "resource usages rebuilt\n", out)

	_, err = runCmd(t, "--database", dbPath, "rebuild", "--status", "finished")
	assert.ErrorContains(t, err, "finished")

	out, err = runCmd(t, "--database", dbPath, "migrate", "--down")
	assert.NilError(t, err)
	assert.Assert(t, bytes.Contains([]byte(out), []byte("schema version 0")), out)
}
