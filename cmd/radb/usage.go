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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/radb"
)

// withDatabase opens the configured database for the duration of a command.
func withDatabase(cmd *cobra.Command, root *rootOptions, fn func(db *radb.Database) error) error {
	conf, err := root.loadConfig()
	if err != nil {
		return err
	}
	db, err := radb.Open(cmd.Context(), conf)
	if err != nil {
		return err
	}
	err = fn(db)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

func resourceFlag(cmd *cobra.Command, resourceID int64) *int64 {
	if cmd.Flags().Changed("resource") {
		return &resourceID
	}
	return nil
}

func newRebuildCmd(root *rootOptions) *cobra.Command {
	var resourceID int64
	var status string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute the resource usages from the claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var claimStatus *objects.ClaimStatus
			if status != "" {
				parsed, err := objects.ParseClaimStatus(status)
				if err != nil {
					return err
				}
				claimStatus = &parsed
			}
			return withDatabase(cmd, root, func(db *radb.Database) error {
				if err := db.RebuildResourceUsagesFromClaims(cmd.Context(), resourceFlag(cmd, resourceID), claimStatus); err != nil {
					return err
				}
				cmd.Println("resource usages rebuilt")
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&resourceID, "resource", 0, "only rebuild this resource")
	cmd.Flags().StringVar(&status, "status", "", "only rebuild the usages of this claim status")
	return cmd
}

func newVerifyCmd(root *rootOptions) *cobra.Command {
	var resourceID int64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the stored resource usages with the usages the claims imply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, root, func(db *radb.Database) error {
				mismatches, err := db.VerifyResourceUsages(cmd.Context(), resourceFlag(cmd, resourceID))
				if err != nil {
					return err
				}
				if len(mismatches) == 0 {
					cmd.Println("resource usages are consistent")
					return nil
				}
				out, err := json.MarshalIndent(mismatches, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return fmt.Errorf("%d resource usage mismatches found", len(mismatches))
			})
		},
	}
	cmd.Flags().Int64Var(&resourceID, "resource", 0, "only verify this resource")
	return cmd
}
