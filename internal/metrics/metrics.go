// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	gateDecisionsCounter  *prometheus.CounterVec
	gateFailOpenCounter   prometheus.Counter
	runsCompletedCounter  *prometheus.CounterVec
	usageFailuresCounter  prometheus.Counter
	stepTransitionCounter *prometheus.CounterVec
	prefilledFieldsMetric prometheus.Histogram
	runsExpiredCounter    prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		gateDecisionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_decisions_total",
				Help: "Total number of entitlement gate decisions by result and reason.",
			},
			[]string{"result", "reason"},
		)

		gateFailOpenCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitlement_fail_open_total",
				Help: "Total number of gate checks allowed because a lookup failed.",
			},
		)

		runsCompletedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_runs_completed_total",
				Help: "Total number of completed workflow runs by identity kind.",
			},
			[]string{"identity"},
		)

		usageFailuresCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "usage_record_failures_total",
				Help: "Total number of run completions that could not be recorded.",
			},
		)

		stepTransitionCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_step_transitions_total",
				Help: "Total number of step navigations by step type and direction.",
			},
			[]string{"step_type", "direction"},
		)

		prefilledFieldsMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prefill_fields",
				Help:    "Number of fields filled from a preset per prefill request.",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
			},
		)

		runsExpiredCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_runs_expired_total",
				Help: "Total number of idle runs discarded by the sweeper.",
			},
		)

		prometheus.MustRegister(
			gateDecisionsCounter,
			gateFailOpenCounter,
			runsCompletedCounter,
			usageFailuresCounter,
			stepTransitionCounter,
			prefilledFieldsMetric,
			runsExpiredCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, identity := range []string{"anonymous", "authenticated"} {
			runsCompletedCounter.WithLabelValues(identity)
		}
		for _, direction := range []string{"forward", "back"} {
			for _, stepType := range []string{"prompt", "instruction", "input", "checkpoint"} {
				stepTransitionCounter.WithLabelValues(stepType, direction)
			}
		}
	})
}

func IncGateDecision(result, reason string) {
	Init()
	gateDecisionsCounter.WithLabelValues(result, reason).Inc()
}

func IncGateFailOpen() {
	Init()
	gateFailOpenCounter.Inc()
}

// GateFailOpenCounter exposes the fail-open counter for assertions.
func GateFailOpenCounter() prometheus.Counter {
	Init()
	return gateFailOpenCounter
}

func IncRunCompleted(identity string) {
	Init()
	runsCompletedCounter.WithLabelValues(identity).Inc()
}

func IncUsageRecordFailure() {
	Init()
	usageFailuresCounter.Inc()
}

func IncStepTransition(stepType, direction string) {
	Init()
	stepTransitionCounter.WithLabelValues(stepType, direction).Inc()
}

func ObservePrefilledFields(n int) {
	Init()
	prefilledFieldsMetric.Observe(float64(n))
}

func AddRunsExpired(n int) {
	Init()
	if n > 0 {
		runsExpiredCounter.Add(float64(n))
	}
}
