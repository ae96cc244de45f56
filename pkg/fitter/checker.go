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
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/metrics"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/radb"
	"github.com/apache/yunikorn-radb/pkg/trace"
)

// Catalog is the part of the database the checker reads.
type Catalog interface {
	GetResources(ctx context.Context, filter radb.ResourceFilter) ([]*objects.Resource, error)
	GetResourceGroupMemberships(ctx context.Context) (*objects.GroupMemberships, error)
}

// Checker fits estimates against the claimable capacity of the catalog.
type Checker struct {
	catalog Catalog
}

func NewChecker(catalog Catalog) *Checker {
	return &Checker{catalog: catalog}
}

// GetIsClaimable returns tentative claims for the estimates in the window [start, end). The claimable
// capacity is read once, capped by the max fill ratios. Nothing is written: inserting the claims is
// left to the caller.
func (c *Checker) GetIsClaimable(ctx context.Context, estimates []*Estimate, start, end time.Time) (claims []*objects.ResourceClaim, err error) {
	span, ctx := trace.StartSpan(ctx, trace.FitterLevel, "GetIsClaimable", "")
	defer func() { trace.FinishSpan(span, err) }()
	defer metrics.GetRADBMetrics().ObserveFitLatency(time.Now())
	defer func() {
		switch {
		case err == nil:
			metrics.GetRADBMetrics().IncFitAttempt("fit")
		case errors.Is(err, common.ErrCouldNotFindClaim):
			metrics.GetRADBMetrics().IncFitAttempt("no_fit")
		default:
			metrics.GetRADBMetrics().IncFitAttempt("error")
		}
	}()

	if !start.Before(end) {
		return nil, common.NewValidationError("fit window starttime %s not before endtime %s", start, end)
	}
	resources, err := c.catalog.GetResources(ctx, radb.ResourceFilter{
		IncludeAvailability: true,
		ClaimableLowerBound: &start,
		ClaimableUpperBound: &end,
	})
	if err != nil {
		return nil, err
	}
	memberships, err := c.catalog.GetResourceGroupMemberships(ctx)
	if err != nil {
		return nil, err
	}
	claims, err = Fit(estimates, NewSnapshot(resources, memberships))
	if err != nil {
		log.Log(log.Fitter).Info("estimates do not fit",
			zap.Int("estimates", len(estimates)),
			zap.Error(err))
		return nil, err
	}
	for _, claim := range claims {
		claim.StartTime = start.UTC()
		claim.EndTime = end.UTC()
	}
	log.Log(log.Fitter).Info("estimates fitted",
		zap.Int("estimates", len(estimates)),
		zap.Int("claims", len(claims)))
	return claims, nil
}
