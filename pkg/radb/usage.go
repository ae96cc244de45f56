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
	"database/sql"
	"errors"
	"time"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/objects"
	"github.com/apache/yunikorn-radb/pkg/timeline"
)

// loadWindow loads the stored points needed to read or update [start, end] of a usage timeline:
// the latest point before start and all points from start up to and including end.
func (t *txn) loadWindow(resourceID int64, status objects.ClaimStatus, start, end time.Time) ([]timeline.Point, error) {
	var points []timeline.Point
	var at, usage int64
	err := t.queryRow(`SELECT as_of_timestamp, usage FROM resource_usage
		WHERE resource_id = ? AND status = ? AND as_of_timestamp < ?
		ORDER BY as_of_timestamp DESC LIMIT 1`,
		resourceID, status.String(), common.ToNanos(start)).Scan(&at, &usage)
	switch {
	case err == nil:
		points = append(points, timeline.Point{At: common.FromNanos(at), Usage: usage})
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	rows, err := t.query(`SELECT as_of_timestamp, usage FROM resource_usage
		WHERE resource_id = ? AND status = ? AND as_of_timestamp >= ? AND as_of_timestamp <= ?
		ORDER BY as_of_timestamp`,
		resourceID, status.String(), common.ToNanos(start), common.ToNanos(end))
	if err != nil {
		return nil, err
	}
	inside, err := collect(rows, scanPoint)
	if err != nil {
		return nil, err
	}
	return append(points, inside...), nil
}

func scanPoint(row scanner) (timeline.Point, error) {
	var at, usage int64
	if err := row.Scan(&at, &usage); err != nil {
		return timeline.Point{}, err
	}
	return timeline.Point{At: common.FromNanos(at), Usage: usage}, nil
}

// addUsage adds delta to a stored timeline in [start, end), only the changed points are written.
func (t *txn) addUsage(resourceID int64, status objects.ClaimStatus, start, end time.Time, delta int64) error {
	if delta == 0 || !start.Before(end) {
		return nil
	}
	before, err := t.loadWindow(resourceID, status, start, end)
	if err != nil {
		return err
	}
	tl := timeline.FromPoints(before)
	tl.Add(start, end, delta)
	upserts, deletes := timeline.Diff(before, tl.Points())
	for _, at := range deletes {
		if _, err = t.exec(`DELETE FROM resource_usage WHERE resource_id = ? AND status = ? AND as_of_timestamp = ?`,
			resourceID, status.String(), common.ToNanos(at)); err != nil {
			return err
		}
	}
	for _, p := range upserts {
		if err = t.upsertPoint(resourceID, status, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) upsertPoint(resourceID int64, status objects.ClaimStatus, p timeline.Point) error {
	_, err := t.exec(`INSERT INTO resource_usage (resource_id, status, as_of_timestamp, usage) VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_id, status, as_of_timestamp) DO UPDATE SET usage = excluded.usage`,
		resourceID, status.String(), common.ToNanos(p.At), p.Usage)
	return err
}

func (t *txn) insertDeltas(c *objects.ResourceClaim) error {
	if c.Size == 0 {
		return nil
	}
	_, err := t.exec(`INSERT INTO resource_usage_delta (claim_id, resource_id, status, moment, delta) VALUES (?, ?, ?, ?, ?), (?, ?, ?, ?, ?)`,
		c.ID, c.ResourceID, c.Status.String(), common.ToNanos(c.StartTime), c.Size,
		c.ID, c.ResourceID, c.Status.String(), common.ToNanos(c.EndTime), -c.Size)
	return err
}

// addContribution adds a claim, with its current status and window, to the usage of its resource.
func (t *txn) addContribution(c *objects.ResourceClaim) error {
	if err := t.addUsage(c.ResourceID, c.Status, c.StartTime, c.EndTime, c.Size); err != nil {
		return err
	}
	if err := t.insertDeltas(c); err != nil {
		return err
	}
	if c.Status == objects.Claimed {
		t.markWindow(c.ResourceID, c.StartTime, c.EndTime)
	}
	return nil
}

// removeContribution takes a claim, as it is stored, out of the usage of its resource.
func (t *txn) removeContribution(c *objects.ResourceClaim) error {
	if err := t.addUsage(c.ResourceID, c.Status, c.StartTime, c.EndTime, -c.Size); err != nil {
		return err
	}
	if _, err := t.exec(`DELETE FROM resource_usage_delta WHERE claim_id = ?`, c.ID); err != nil {
		return err
	}
	if c.Status == objects.Claimed {
		t.markWindow(c.ResourceID, c.StartTime, c.EndTime)
	}
	return nil
}

func (t *txn) usageAt(resourceID int64, status objects.ClaimStatus, at time.Time) (int64, error) {
	var usage int64
	err := t.queryRow(`SELECT usage FROM resource_usage
		WHERE resource_id = ? AND status = ? AND as_of_timestamp <= ?
		ORDER BY as_of_timestamp DESC LIMIT 1`,
		resourceID, status.String(), common.ToNanos(at)).Scan(&usage)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return usage, err
}

// maxUsage returns the highest usage in [start, end), the contribution of exclude is left out when
// it is claimed on the same resource.
func (t *txn) maxUsage(resourceID int64, status objects.ClaimStatus, start, end time.Time, exclude *objects.ResourceClaim) (objects.UsagePoint, error) {
	points, err := t.loadWindow(resourceID, status, start, end)
	if err != nil {
		return objects.UsagePoint{}, err
	}
	tl := timeline.FromPoints(points)
	if exclude != nil && exclude.ResourceID == resourceID && exclude.Status == status && exclude.Overlaps(start, end) {
		tl.Remove(common.MaxTime(exclude.StartTime, start), common.MinTime(exclude.EndTime, end), exclude.Size)
	}
	result := objects.UsagePoint{
		ResourceID: resourceID,
		Status:     status,
		At:         start,
		Usage:      tl.MaxBetween(start, end),
	}
	for _, p := range tl.PointsBetween(start, end) {
		if p.Usage == result.Usage && p.At.Before(end) {
			result.At = common.MaxTime(p.At, start)
			break
		}
	}
	return result, nil
}

// resource returns a resource, cached for the transaction.
func (t *txn) resource(id int64) (*objects.Resource, error) {
	if r, ok := t.resources[id]; ok {
		return r, nil
	}
	r, err := scanResource(t.queryRow(`SELECT `+resourceColumns+` FROM resource r WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("resource", id)
	}
	if err != nil {
		return nil, err
	}
	t.resources[id] = r
	return r, nil
}

// miscUsed is the capacity in use by anything but claims: the used capacity reported by the
// resource minus the claims active now, never negative.
func (t *txn) miscUsed(r *objects.Resource) (int64, error) {
	claimedNow, err := t.usageAt(r.ID, objects.Claimed, t.now)
	if err != nil {
		return 0, err
	}
	used := r.TotalCapacity - r.AvailableCapacity
	if misc := used - claimedNow; misc > 0 {
		return misc, nil
	}
	return 0, nil
}

// claimable returns the capacity of a resource that can still be claimed during [start, end),
// leaving out the contribution of exclude. It is never negative.
func (t *txn) claimable(resourceID int64, start, end time.Time, exclude *objects.ResourceClaim) (int64, error) {
	r, err := t.resource(resourceID)
	if err != nil {
		return 0, err
	}
	misc, err := t.miscUsed(r)
	if err != nil {
		return 0, err
	}
	claimed, err := t.maxUsage(resourceID, objects.Claimed, start, end, exclude)
	if err != nil {
		return 0, err
	}
	if free := r.TotalCapacity - misc - claimed.Usage; free > 0 {
		return free, nil
	}
	return 0, nil
}

// fits checks if a claim with the given window and size fits in the claimable capacity.
func (t *txn) fits(c *objects.ResourceClaim, exclude *objects.ResourceClaim) (bool, error) {
	free, err := t.claimable(c.ResourceID, c.StartTime, c.EndTime, exclude)
	if err != nil {
		return false, err
	}
	return c.Size <= free, nil
}

// fillRatio returns the lowest max fill ratio configured for the groups a resource is a direct
// member of, 1 when none is configured.
func (t *txn) fillRatio(r *objects.Resource) (float64, error) {
	var ratio sql.NullFloat64
	err := t.queryRow(`SELECT MIN(a.value) FROM resource_allocation_config a
		JOIN resource_group g ON a.name = 'max_fill_ratio_' || g.name || '_' || ?
		JOIN resource_membership m ON m.group_id = g.id
		WHERE m.resource_id = ?`, r.Type.String(), r.ID).Scan(&ratio)
	if err != nil {
		return 0, err
	}
	if !ratio.Valid {
		return 1, nil
	}
	return ratio.Float64, nil
}

// cappedClaimable is the claimable capacity reported to callers: limited by the max fill ratio of
// the groups of the resource.
func (t *txn) cappedClaimable(resourceID int64, start, end time.Time) (int64, error) {
	free, err := t.claimable(resourceID, start, end, nil)
	if err != nil {
		return 0, err
	}
	r, err := t.resource(resourceID)
	if err != nil {
		return 0, err
	}
	ratio, err := t.fillRatio(r)
	if err != nil {
		return 0, err
	}
	if limit := int64(ratio * float64(r.TotalCapacity)); limit < free {
		return limit, nil
	}
	return free, nil
}

func validWindow(start, end time.Time) error {
	if !start.Before(end) {
		return common.NewValidationError("%s: %s >= %s", common.ClaimStartNotBeforeEnd, start, end)
	}
	return nil
}

// GetResourceUsageAtOrBefore returns the stored usage point in effect at the instant. When no point
// qualifies the usage is zero as of the instant.
func (d *Database) GetResourceUsageAtOrBefore(ctx context.Context, resourceID int64, at time.Time, status objects.ClaimStatus, query UsageQuery) (objects.UsagePoint, error) {
	var result objects.UsagePoint
	err := d.read(ctx, "GetResourceUsageAtOrBefore", func(tx *txn) error {
		result = objects.UsagePoint{ResourceID: resourceID, Status: status, At: at.UTC()}
		if _, err := tx.resource(resourceID); err != nil {
			return err
		}
		condition := "as_of_timestamp <= ?"
		switch {
		case query.ExactlyAt:
			condition = "as_of_timestamp = ?"
		case query.OnlyBefore:
			condition = "as_of_timestamp < ?"
		}
		p, err := scanPoint(tx.queryRow(`SELECT as_of_timestamp, usage FROM resource_usage
			WHERE resource_id = ? AND status = ? AND `+condition+`
			ORDER BY as_of_timestamp DESC LIMIT 1`, resourceID, status.String(), common.ToNanos(at)))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		result.At = p.At
		result.Usage = p.Usage
		return nil
	})
	return result, err
}

// GetMaxResourceUsageBetween returns the highest usage in [start, end) and the first instant it is
// reached.
func (d *Database) GetMaxResourceUsageBetween(ctx context.Context, resourceID int64, start, end time.Time, status objects.ClaimStatus) (objects.UsagePoint, error) {
	var result objects.UsagePoint
	err := d.read(ctx, "GetMaxResourceUsageBetween", func(tx *txn) error {
		if _, err := tx.resource(resourceID); err != nil {
			return err
		}
		var err error
		result, err = tx.maxUsage(resourceID, status, start.UTC(), end.UTC(), nil)
		return err
	})
	return result, err
}

// GetCurrentResourceUsage returns the usage in effect now.
func (d *Database) GetCurrentResourceUsage(ctx context.Context, resourceID int64, status objects.ClaimStatus) (objects.UsagePoint, error) {
	return d.GetResourceUsageAtOrBefore(ctx, resourceID, d.now(), status, UsageQuery{})
}

// GetResourceClaimableCapacity returns the capacity that can still be claimed on a resource during
// [start, end), after misc usage, claimed usage and the max fill ratio.
func (d *Database) GetResourceClaimableCapacity(ctx context.Context, resourceID int64, start, end time.Time) (int64, error) {
	var result int64
	err := d.read(ctx, "GetResourceClaimableCapacity", func(tx *txn) error {
		var err error
		result, err = tx.cappedClaimable(resourceID, start.UTC(), end.UTC())
		return err
	})
	return result, err
}

// GetResourceClaimableCapacities returns the claimable capacity of several resources in one read.
func (d *Database) GetResourceClaimableCapacities(ctx context.Context, resourceIDs []int64, start, end time.Time) (map[int64]int64, error) {
	var result map[int64]int64
	err := d.read(ctx, "GetResourceClaimableCapacities", func(tx *txn) error {
		result = make(map[int64]int64, len(resourceIDs))
		for _, id := range resourceIDs {
			free, err := tx.cappedClaimable(id, start.UTC(), end.UTC())
			if err != nil {
				return err
			}
			result[id] = free
		}
		return nil
	})
	return result, err
}

// GetResourceUsages returns the stored usage points per resource and claim status. Every selected
// resource and status is present, also without points.
func (d *Database) GetResourceUsages(ctx context.Context, filter UsageFilter) (map[int64]map[objects.ClaimStatus][]objects.UsagePoint, error) {
	var result map[int64]map[objects.ClaimStatus][]objects.UsagePoint
	err := d.read(ctx, "GetResourceUsages", func(tx *txn) error {
		result = make(map[int64]map[objects.ClaimStatus][]objects.UsagePoint)
		resourceIDs, err := tx.resourceIDs(filter.ResourceIDs)
		if err != nil {
			return err
		}
		statuses := filter.Statuses
		if statuses == nil {
			statuses = objects.AllClaimStatuses
		}
		start, end := time.Unix(0, 0).UTC(), common.FromNanos(1<<62)
		if filter.LowerBound != nil {
			start = filter.LowerBound.UTC()
		}
		if filter.UpperBound != nil {
			end = filter.UpperBound.UTC()
		}
		for _, id := range resourceIDs {
			result[id] = make(map[objects.ClaimStatus][]objects.UsagePoint, len(statuses))
			for _, status := range statuses {
				points, err := tx.loadWindow(id, status, start, end)
				if err != nil {
					return err
				}
				usages := make([]objects.UsagePoint, 0, len(points))
				for _, p := range timeline.FromPoints(points).PointsBetween(start, end) {
					usages = append(usages, objects.UsagePoint{ResourceID: id, Status: status, At: p.At, Usage: p.Usage})
				}
				result[id][status] = usages
			}
		}
		return nil
	})
	return result, err
}

// resourceIDs returns the given ids if not nil, all resource ids otherwise.
func (t *txn) resourceIDs(ids []int64) ([]int64, error) {
	if ids != nil {
		return ids, nil
	}
	rows, err := t.query(`SELECT id FROM resource ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInt64)
}

// claimIntervals returns the windows and sizes of the claims of a resource with the given status.
func (t *txn) claimIntervals(resourceID int64, status objects.ClaimStatus) ([]*objects.ResourceClaim, []timeline.Interval, error) {
	rows, err := t.query(`SELECT `+claimColumns+claimFrom+` WHERE c.resource_id = ? AND c.status = ? ORDER BY c.id`,
		resourceID, status.String())
	if err != nil {
		return nil, nil, err
	}
	claims, err := collect(rows, scanClaim)
	if err != nil {
		return nil, nil, err
	}
	intervals := make([]timeline.Interval, len(claims))
	for i, c := range claims {
		intervals[i] = timeline.Interval{Start: c.StartTime, End: c.EndTime, Size: c.Size}
	}
	return claims, intervals, nil
}

func (t *txn) storedPoints(resourceID int64, status objects.ClaimStatus) ([]timeline.Point, error) {
	rows, err := t.query(`SELECT as_of_timestamp, usage FROM resource_usage
		WHERE resource_id = ? AND status = ? ORDER BY as_of_timestamp`, resourceID, status.String())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPoint)
}

// deltaPoints sums the stored deltas of a resource and status into usage points.
func (t *txn) deltaPoints(resourceID int64, status objects.ClaimStatus) ([]timeline.Point, error) {
	rows, err := t.query(`SELECT moment, SUM(delta) FROM resource_usage_delta
		WHERE resource_id = ? AND status = ? GROUP BY moment ORDER BY moment`, resourceID, status.String())
	if err != nil {
		return nil, err
	}
	steps, err := collect(rows, scanPoint)
	if err != nil {
		return nil, err
	}
	var points []timeline.Point
	var running, last int64
	for _, step := range steps {
		running += step.Usage
		if running != last {
			points = append(points, timeline.Point{At: step.At, Usage: running})
			last = running
		}
	}
	return points, nil
}

func statusesOrAll(status *objects.ClaimStatus) []objects.ClaimStatus {
	if status == nil {
		return objects.AllClaimStatuses
	}
	return []objects.ClaimStatus{*status}
}

func idsOrAll(id *int64) []int64 {
	if id == nil {
		return nil
	}
	return []int64{*id}
}

// RebuildResourceUsagesFromClaims recomputes the stored usage points and deltas from the claims, for
// one or all resources and one or all claim statuses.
func (d *Database) RebuildResourceUsagesFromClaims(ctx context.Context, resourceID *int64, status *objects.ClaimStatus) error {
	return d.write(ctx, "RebuildResourceUsagesFromClaims", func(tx *txn) error {
		resourceIDs, err := tx.resourceIDs(idsOrAll(resourceID))
		if err != nil {
			return err
		}
		for _, id := range resourceIDs {
			if _, err = tx.resource(id); err != nil {
				return err
			}
			for _, s := range statusesOrAll(status) {
				if err = tx.rebuildUsage(id, s); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (t *txn) rebuildUsage(resourceID int64, status objects.ClaimStatus) error {
	claims, intervals, err := t.claimIntervals(resourceID, status)
	if err != nil {
		return err
	}
	if _, err = t.exec(`DELETE FROM resource_usage WHERE resource_id = ? AND status = ?`, resourceID, status.String()); err != nil {
		return err
	}
	for _, p := range timeline.Sweep(intervals) {
		if err = t.upsertPoint(resourceID, status, p); err != nil {
			return err
		}
	}
	if _, err = t.exec(`DELETE FROM resource_usage_delta WHERE resource_id = ? AND status = ?`, resourceID, status.String()); err != nil {
		return err
	}
	for _, c := range claims {
		if err = t.insertDeltas(c); err != nil {
			return err
		}
	}
	return nil
}

// VerifyResourceUsages compares the stored points and deltas with the usage computed from the claims.
// An empty result means the stored usage is consistent.
func (d *Database) VerifyResourceUsages(ctx context.Context, resourceID *int64) ([]UsageMismatch, error) {
	var result []UsageMismatch
	err := d.read(ctx, "VerifyResourceUsages", func(tx *txn) error {
		result = nil
		resourceIDs, err := tx.resourceIDs(idsOrAll(resourceID))
		if err != nil {
			return err
		}
		for _, id := range resourceIDs {
			for _, status := range objects.AllClaimStatuses {
				_, intervals, err := tx.claimIntervals(id, status)
				if err != nil {
					return err
				}
				expected := timeline.Sweep(intervals)
				stored, err := tx.storedPoints(id, status)
				if err != nil {
					return err
				}
				if !timeline.Equal(expected, stored) {
					result = append(result, UsageMismatch{ResourceID: id, Status: status, Source: "usage", Expected: expected, Actual: stored})
				}
				deltas, err := tx.deltaPoints(id, status)
				if err != nil {
					return err
				}
				if !timeline.Equal(expected, deltas) {
					result = append(result, UsageMismatch{ResourceID: id, Status: status, Source: "delta", Expected: expected, Actual: deltas})
				}
			}
		}
		return nil
	})
	return result, err
}
