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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/apache/yunikorn-radb/pkg/log"
)

// RADBMetrics to declare claim, task, transaction and fitter metrics
type RADBMetrics struct {
	claimsInserted   *prometheus.CounterVec
	claimTransitions *prometheus.CounterVec
	claimsDeleted    *prometheus.CounterVec
	taskTransitions  *prometheus.CounterVec
	transactions     *prometheus.CounterVec
	txRetries        prometheus.Counter
	txLatency        *prometheus.HistogramVec
	fitAttempts      *prometheus.CounterVec
	fitLatency       prometheus.Histogram
}

func initRADBMetrics() *RADBMetrics {
	r := &RADBMetrics{}

	r.claimsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ClaimsSubsystem,
			Name:      "inserted_total",
			Help:      "Total number of inserted claims by resulting status: `tentative`, `claimed` or `conflict`.",
		}, []string{"status"})

	r.claimTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ClaimsSubsystem,
			Name:      "status_transitions_total",
			Help:      "Total number of claim status changes, including the ones caused by conflict re-evaluation.",
		}, []string{"from", "to"})

	r.claimsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ClaimsSubsystem,
			Name:      "deleted_total",
			Help:      "Total number of deleted claims by reason: `request`, `task_replaced` or `obsolete`.",
		}, []string{"reason"})

	r.taskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: TasksSubsystem,
			Name:      "status_transitions_total",
			Help:      "Total number of task status transitions.",
		}, []string{"from", "to"})

	r.transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: DatabaseSubsystem,
			Name:      "write_transactions_total",
			Help:      "Total number of write transactions by result: `committed`, `rolled_back` or `busy`.",
		}, []string{"result"})

	r.txRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: DatabaseSubsystem,
			Name:      "write_transaction_retries_total",
			Help:      "Total number of write transaction attempts retried because the database was locked.",
		})

	r.txLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: DatabaseSubsystem,
			Name:      "write_transaction_latency_seconds",
			Help:      "Latency of write transactions including retries, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 10, 6), // start from 0.1ms
		}, []string{"operation"})

	r.fitAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: FitterSubsystem,
			Name:      "attempts_total",
			Help:      "Total number of fitting attempts by result: `fit`, `no_fit` or `error`.",
		}, []string{"result"})

	r.fitLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: FitterSubsystem,
			Name:      "latency_seconds",
			Help:      "Latency of fitting a set of estimates, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 10, 6),
		})

	// Register the metrics
	var metricsList = []prometheus.Collector{
		r.claimsInserted,
		r.claimTransitions,
		r.claimsDeleted,
		r.taskTransitions,
		r.transactions,
		r.txRetries,
		r.txLatency,
		r.fitAttempts,
		r.fitLatency,
	}
	for _, metric := range metricsList {
		if err := prometheus.Register(metric); err != nil {
			log.Log(log.Metrics).Warn("failed to register metrics collector", zap.Error(err))
		}
	}
	return r
}

func (r *RADBMetrics) Reset() {
	r.claimsInserted.Reset()
	r.claimTransitions.Reset()
	r.claimsDeleted.Reset()
	r.taskTransitions.Reset()
	r.transactions.Reset()
	r.txLatency.Reset()
	r.fitAttempts.Reset()
}

func SinceInSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func (r *RADBMetrics) IncClaimsInserted(status string) {
	r.claimsInserted.With(prometheus.Labels{"status": status}).Inc()
}

func (r *RADBMetrics) IncClaimTransition(from, to string) {
	r.claimTransitions.With(prometheus.Labels{"from": from, "to": to}).Inc()
}

func (r *RADBMetrics) AddClaimsDeleted(reason string, count int) {
	r.claimsDeleted.With(prometheus.Labels{"reason": reason}).Add(float64(count))
}

func (r *RADBMetrics) IncTaskTransition(from, to string) {
	r.taskTransitions.With(prometheus.Labels{"from": from, "to": to}).Inc()
}

func (r *RADBMetrics) IncTransactionCommitted() {
	r.transactions.With(prometheus.Labels{"result": "committed"}).Inc()
}

func (r *RADBMetrics) IncTransactionRolledBack() {
	r.transactions.With(prometheus.Labels{"result": "rolled_back"}).Inc()
}

func (r *RADBMetrics) IncTransactionBusy() {
	r.transactions.With(prometheus.Labels{"result": "busy"}).Inc()
}

func (r *RADBMetrics) IncTransactionRetry() {
	r.txRetries.Inc()
}

func (r *RADBMetrics) ObserveTransactionLatency(operation string, start time.Time) {
	r.txLatency.With(prometheus.Labels{"operation": operation}).Observe(SinceInSeconds(start))
}

func (r *RADBMetrics) IncFitAttempt(result string) {
	r.fitAttempts.With(prometheus.Labels{"result": result}).Inc()
}

func (r *RADBMetrics) ObserveFitLatency(start time.Time) {
	r.fitLatency.Observe(SinceInSeconds(start))
}

// GetClaimsInserted returns the counter value for the status, used by tests and diagnostics.
func (r *RADBMetrics) GetClaimsInserted(status string) (int, error) {
	metricDto := &dto.Metric{}
	err := r.claimsInserted.With(prometheus.Labels{"status": status}).Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}

// GetTransactionRetries returns the number of retried write attempts.
func (r *RADBMetrics) GetTransactionRetries() (int, error) {
	metricDto := &dto.Metric{}
	err := r.txRetries.Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}

// GetTaskTransitions returns the number of task status changes between the two statuses.
func (r *RADBMetrics) GetTaskTransitions(from, to string) (int, error) {
	metricDto := &dto.Metric{}
	err := r.taskTransitions.With(prometheus.Labels{"from": from, "to": to}).Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}

// GetTransactionsBusy returns the number of write transactions that gave up on a locked database.
func (r *RADBMetrics) GetTransactionsBusy() (int, error) {
	metricDto := &dto.Metric{}
	err := r.transactions.With(prometheus.Labels{"result": "busy"}).Write(metricDto)
	if err == nil {
		return int(*metricDto.Counter.Value), nil
	}
	return -1, err
}
