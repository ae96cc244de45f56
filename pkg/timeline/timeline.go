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

package timeline

import (
	"sort"
	"time"

	"github.com/google/btree"

	"github.com/apache/yunikorn-radb/pkg/common"
)

// Point is one step of a usage function: from At onwards the usage is Usage, until the next point.
type Point struct {
	At    time.Time
	Usage int64
}

// Interval is a half open [Start, End) window with a size, the contribution of one claim.
type Interval struct {
	Start time.Time
	End   time.Time
	Size  int64
}

type point struct {
	at    int64
	usage int64
}

func (p point) Less(than btree.Item) bool {
	other, ok := than.(point)
	if !ok {
		return false
	}
	return p.at < other.at
}

// Timeline is a piecewise constant usage function kept in canonical form: every point differs in
// usage from the point before it, and the first point differs from zero.
// A Timeline may hold only a window of a larger function: the latest point before the window and
// the points inside it. Updates confined to that window behave exactly as on the full function.
// A Timeline is not safe for concurrent use.
type Timeline struct {
	tree *btree.BTree
}

// New returns an empty timeline: usage zero everywhere.
func New() *Timeline {
	return &Timeline{
		tree: btree.New(16),
	}
}

// FromPoints loads stored points. Points are expected to be canonical, duplicates of the same
// instant keep the last value.
func FromPoints(points []Point) *Timeline {
	tl := New()
	for _, p := range points {
		tl.tree.ReplaceOrInsert(point{at: common.ToNanos(p.At), usage: p.Usage})
	}
	return tl
}

// Len returns the number of points.
func (tl *Timeline) Len() int {
	return tl.tree.Len()
}

// Add adds delta to the usage in [start, end). Only the points in that range and the two
// boundaries are touched. A window with start >= end is a no-op.
func (tl *Timeline) Add(start, end time.Time, delta int64) {
	s, e := common.ToNanos(start), common.ToNanos(end)
	if s >= e || delta == 0 {
		return
	}
	// make sure both boundaries are explicit points carrying the usage before the change
	tl.ensurePoint(s)
	tl.ensurePoint(e)

	var shifted []point
	tl.tree.AscendRange(point{at: s}, point{at: e}, func(item btree.Item) bool {
		p := item.(point)
		p.usage += delta
		shifted = append(shifted, p)
		return true
	})
	for _, p := range shifted {
		tl.tree.ReplaceOrInsert(p)
	}
	// inner points keep their relative steps, only the boundaries can become redundant
	tl.normalize(s)
	tl.normalize(e)
}

// Remove subtracts the contribution of an interval.
func (tl *Timeline) Remove(start, end time.Time, size int64) {
	tl.Add(start, end, -size)
}

// ensurePoint inserts a point at the given instant with the usage in effect there.
func (tl *Timeline) ensurePoint(at int64) {
	if tl.tree.Has(point{at: at}) {
		return
	}
	tl.tree.ReplaceOrInsert(point{at: at, usage: tl.usageAtOrBefore(at)})
}

// normalize removes the point at the instant if it does not change the usage.
func (tl *Timeline) normalize(at int64) {
	item := tl.tree.Get(point{at: at})
	if item == nil {
		return
	}
	if item.(point).usage == tl.usageBefore(at) {
		tl.tree.Delete(item)
	}
}

func (tl *Timeline) usageAtOrBefore(at int64) int64 {
	var usage int64
	tl.tree.DescendLessOrEqual(point{at: at}, func(item btree.Item) bool {
		usage = item.(point).usage
		return false
	})
	return usage
}

func (tl *Timeline) usageBefore(at int64) int64 {
	var usage int64
	tl.tree.DescendLessOrEqual(point{at: at - 1}, func(item btree.Item) bool {
		usage = item.(point).usage
		return false
	})
	return usage
}

// UsageAtOrBefore returns the usage in effect at the instant, zero when there is no earlier point.
func (tl *Timeline) UsageAtOrBefore(at time.Time) int64 {
	return tl.usageAtOrBefore(common.ToNanos(at))
}

// UsageBefore returns the usage in effect just before the instant.
func (tl *Timeline) UsageBefore(at time.Time) int64 {
	return tl.usageBefore(common.ToNanos(at))
}

// PointAtOrBefore returns the last point at or before the instant. The boolean is false when no such
// point exists.
func (tl *Timeline) PointAtOrBefore(at time.Time) (Point, bool) {
	var found *point
	tl.tree.DescendLessOrEqual(point{at: common.ToNanos(at)}, func(item btree.Item) bool {
		p := item.(point)
		found = &p
		return false
	})
	if found == nil {
		return Point{}, false
	}
	return found.toPoint(), true
}

// PointAt returns the point exactly at the instant if it exists.
func (tl *Timeline) PointAt(at time.Time) (Point, bool) {
	item := tl.tree.Get(point{at: common.ToNanos(at)})
	if item == nil {
		return Point{}, false
	}
	return item.(point).toPoint(), true
}

// MaxBetween returns the maximum usage over the closed-open window [start, end). If end is not after
// start the usage at start is returned.
func (tl *Timeline) MaxBetween(start, end time.Time) int64 {
	s, e := common.ToNanos(start), common.ToNanos(end)
	maxUsage := tl.usageAtOrBefore(s)
	if e <= s {
		return maxUsage
	}
	tl.tree.AscendRange(point{at: s + 1}, point{at: e}, func(item btree.Item) bool {
		if u := item.(point).usage; u > maxUsage {
			maxUsage = u
		}
		return true
	})
	return maxUsage
}

// Points returns all points in ascending time order.
func (tl *Timeline) Points() []Point {
	points := make([]Point, 0, tl.tree.Len())
	tl.tree.Ascend(func(item btree.Item) bool {
		points = append(points, item.(point).toPoint())
		return true
	})
	return points
}

// PointsBetween returns the points describing the usage in [start, end]: the point in effect at start
// when there is no point exactly at start, followed by the points with start <= At <= end.
func (tl *Timeline) PointsBetween(start, end time.Time) []Point {
	s, e := common.ToNanos(start), common.ToNanos(end)
	var points []Point
	if !tl.tree.Has(point{at: s}) {
		tl.tree.DescendLessOrEqual(point{at: s - 1}, func(item btree.Item) bool {
			points = append(points, item.(point).toPoint())
			return false
		})
	}
	tl.tree.AscendGreaterOrEqual(point{at: s}, func(item btree.Item) bool {
		p := item.(point)
		if p.at > e {
			return false
		}
		points = append(points, p.toPoint())
		return true
	})
	return points
}

// Clone returns an independent copy of the timeline.
func (tl *Timeline) Clone() *Timeline {
	return &Timeline{tree: tl.tree.Clone()}
}

func (p point) toPoint() Point {
	return Point{At: common.FromNanos(p.at), Usage: p.usage}
}

// Sweep computes the canonical points for a set of intervals from scratch: all +size/-size events
// are sorted and summed, and a point is emitted wherever the running total changes.
func Sweep(intervals []Interval) []Point {
	type event struct {
		at    int64
		delta int64
	}
	events := make([]event, 0, 2*len(intervals))
	for _, iv := range intervals {
		s, e := common.ToNanos(iv.Start), common.ToNanos(iv.End)
		if s >= e || iv.Size == 0 {
			continue
		}
		events = append(events, event{at: s, delta: iv.Size}, event{at: e, delta: -iv.Size})
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].at < events[j].at
	})
	var points []Point
	var running, last int64
	for i := 0; i < len(events); {
		at := events[i].at
		for ; i < len(events) && events[i].at == at; i++ {
			running += events[i].delta
		}
		if running != last {
			points = append(points, Point{At: common.FromNanos(at), Usage: running})
			last = running
		}
	}
	return points
}

// Diff compares two sorted point lists of the same window and returns the points that must be written
// and the instants that must be deleted to turn before into after.
func Diff(before, after []Point) (upserts []Point, deletes []time.Time) {
	i, j := 0, 0
	for i < len(before) || j < len(after) {
		switch {
		case j == len(after) || (i < len(before) && before[i].At.Before(after[j].At)):
			deletes = append(deletes, before[i].At)
			i++
		case i == len(before) || after[j].At.Before(before[i].At):
			upserts = append(upserts, after[j])
			j++
		default:
			if before[i].Usage != after[j].Usage {
				upserts = append(upserts, after[j])
			}
			i++
			j++
		}
	}
	return upserts, deletes
}

// Equal returns true if both point lists describe the same usage function point by point.
func Equal(a, b []Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].At.Equal(b[i].At) || a[i].Usage != b[i].Usage {
			return false
		}
	}
	return true
}
