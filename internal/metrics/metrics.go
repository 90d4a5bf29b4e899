// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Subsystem names match the CounterVec/SummaryVec/GaugeVec/HistogramVec +
// init()-registration idiom the teacher used for its controller-runtime
// reconcile metrics and k8s workqueue provider. Those metrics were
// specific to the teacher's CRD reconciler (deleted, see DESIGN.md) and
// the workqueue it ran on (nothing in this repo uses client-go's
// workqueue); the subsystems below cover this repo's own components
// instead: the host connection pool, the verification service, and the
// scenario executor.
const (
	PoolSubsystem         = "pool"
	VerificationSubsystem = "verification"
	ExecutorSubsystem     = "executor"
)

var (
	PoolConnectionsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: PoolSubsystem,
		Name:      "connections_total",
		Help:      "Current number of pooled connections per host, alive or not",
	}, []string{"host"})

	PoolConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: PoolSubsystem,
		Name:      "connections_active",
		Help:      "Current number of live connections per host",
	}, []string{"host"})

	PoolConnectionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: PoolSubsystem,
		Name:      "connection_errors_total",
		Help:      "Total number of connection attempt failures per host",
	}, []string{"host"})

	PoolReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: PoolSubsystem,
		Name:      "reconnects_total",
		Help:      "Total number of successful reconnect-with-backoff cycles per host",
	}, []string{"host"})

	VerificationPendingExpectations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: VerificationSubsystem,
		Name:      "pending_expectations",
		Help:      "Current number of outstanding ExpectInput calls per VM",
	}, []string{"vm_id"})

	VerificationOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: VerificationSubsystem,
		Name:      "outcomes_total",
		Help:      "Total number of resolved expectations per VM, by outcome",
	}, []string{"vm_id", "outcome"}) // outcome: matched|timeout|cancelled

	ExecutorScenarioDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Subsystem: ExecutorSubsystem,
		Name:      "scenario_duration_seconds",
		Help:      "Length of time per scenario run, per scenario name",
	}, []string{"scenario"})

	ExecutorStepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: ExecutorSubsystem,
		Name:      "steps_total",
		Help:      "Total number of scenario steps executed, by action type and outcome",
	}, []string{"action_type", "status"})

	ExecutorStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: ExecutorSubsystem,
		Name:      "step_duration_seconds",
		Help:      "How long a scenario step takes to execute, by action type",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action_type"})

	OperationDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name: "operation_duration_seconds",
		Help: "Length of time per operation",
	}, []string{"operation"})

	OperationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "operation_errors_total",
		Help: "Total number of errors which affect main logic of operation",
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(PoolConnectionsTotal)
	prometheus.MustRegister(PoolConnectionsActive)
	prometheus.MustRegister(PoolConnectionErrors)
	prometheus.MustRegister(PoolReconnects)
	prometheus.MustRegister(VerificationPendingExpectations)
	prometheus.MustRegister(VerificationOutcomesTotal)
	prometheus.MustRegister(ExecutorScenarioDuration)
	prometheus.MustRegister(ExecutorStepsTotal)
	prometheus.MustRegister(ExecutorStepDuration)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(OperationErrors)
}
