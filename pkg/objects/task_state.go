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

package objects

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/log"
	"github.com/apache/yunikorn-radb/pkg/metrics"
)

// TaskTransition is passed as the single argument of every task state machine event. ClaimCounts
// holds the number of claims of the task per claim status at the moment of the request.
type TaskTransition struct {
	Task        *Task
	ClaimCounts map[ClaimStatus]int
}

// transitions lists for each destination status the statuses it can be reached from.
var transitions = map[TaskStatus][]TaskStatus{
	Prepared:     {Approved, OnHold, Error},
	Approved:     {Prepared, OnHold, Conflict, Prescheduled, Scheduled, Queued, Error},
	OnHold:       {Prepared, Approved, Conflict, Prescheduled, Scheduled, Queued},
	Conflict:     {Prepared, Approved, OnHold, Prescheduled, Scheduled, Queued},
	Prescheduled: {Approved},
	Scheduled:    {Prescheduled},
	Queued:       {Scheduled},
	Active:       {Scheduled, Queued},
	Completing:   {Active},
	Finished:     {Active, Completing},
	Aborted:      {Prepared, Approved, OnHold, Conflict, Prescheduled, Scheduled, Queued, Active, Completing, Error},
	Error:        {Prepared, Approved, OnHold, Conflict, Prescheduled, Scheduled, Queued, Active, Completing},
	Obsolete:     {Prepared, Approved, OnHold, Conflict, Prescheduled, Scheduled, Queued, Active, Completing, Finished, Aborted, Error},
}

func eventName(dst TaskStatus) string {
	return "to_" + dst.String()
}

// NewTaskState creates the state machine for a task in the given status.
func NewTaskState(current TaskStatus) *fsm.FSM {
	var events fsm.Events
	for dst := Prepared; dst <= Obsolete; dst++ {
		src := make([]string, 0, len(transitions[dst]))
		for _, s := range transitions[dst] {
			src = append(src, s.String())
		}
		events = append(events, fsm.EventDesc{
			Name: eventName(dst),
			Src:  src,
			Dst:  dst.String(),
		})
	}
	return fsm.NewFSM(
		current.String(), events,
		fsm.Callbacks{
			// The first argument must always be a *TaskTransition, if this precondition is not met,
			// a runtime panic will occur.
			fmt.Sprintf("before_%s", eventName(Scheduled)): func(_ context.Context, event *fsm.Event) {
				tt := event.Args[0].(*TaskTransition) //nolint:errcheck
				pending := tt.ClaimCounts[Tentative] + tt.ClaimCounts[ClaimConflict]
				if pending > 0 {
					event.Cancel(fmt.Errorf("task %d has %d tentative and %d conflicting claims, all claims must be claimed",
						tt.Task.ID, tt.ClaimCounts[Tentative], tt.ClaimCounts[ClaimConflict]))
				}
			},
			"enter_state": func(_ context.Context, event *fsm.Event) {
				tt := event.Args[0].(*TaskTransition) //nolint:errcheck
				log.Log(log.Tasks).Info("Task status transition",
					zap.Int64("taskID", tt.Task.ID),
					zap.String("source", event.Src),
					zap.String("destination", event.Dst))
				metrics.GetRADBMetrics().IncTaskTransition(event.Src, event.Dst)
			},
		},
	)
}

// TransitionTask runs the state machine for the requested status change. On success the task status is
// updated. Requesting the current status is not an error, changed is false in that case.
func TransitionTask(ctx context.Context, tt *TaskTransition, dst TaskStatus) (changed bool, err error) {
	src := tt.Task.Status
	if src == dst {
		return false, nil
	}
	stateMachine := NewTaskState(src)
	err = stateMachine.Event(ctx, eventName(dst), tt)
	if err != nil {
		var invalid fsm.InvalidEventError
		var canceled fsm.CanceledError
		switch {
		case errors.As(err, &invalid):
			return false, fmt.Errorf("%w: %s -> %s not allowed for task %d", common.ErrInvalidTransition, src, dst, tt.Task.ID)
		case errors.As(err, &canceled):
			return false, fmt.Errorf("%w: %s -> %s refused: %v", common.ErrInvalidTransition, src, dst, canceled.Err)
		default:
			return false, fmt.Errorf("%w: %s -> %s: %v", common.ErrInvalidTransition, src, dst, err)
		}
	}
	tt.Task.Status = dst
	return true, nil
}
