// Package metrics provides Prometheus collectors for the counter console.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry served on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// TicksTotal counts reconciliation ticks by outcome (ok, error, skipped).
var TicksTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "reconcile_ticks_total",
	Help:      "Reconciliation ticks by outcome",
}, []string{"outcome"})

// TickDuration tracks wall time of completed ticks, including failed ones.
var TickDuration = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "console",
	Name:      "reconcile_tick_duration_seconds",
	Help:      "Duration of reconciliation ticks",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// CommandsTotal counts dispatched operator commands by action and outcome.
var CommandsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "console",
	Name:      "commands_total",
	Help:      "Operator commands by action and outcome",
}, []string{"action", "outcome"})

// APICallDuration tracks queue service calls by operation and status code.
var APICallDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "console",
	Name:      "queue_api_call_duration_seconds",
	Help:      "Duration of queue service calls",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation", "status"})

// HubClients is the number of live console subscribers.
var HubClients = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "console",
	Name:      "hub_clients",
	Help:      "Connected console subscribers",
})

// ObserveAPICall records one queue service call. status 0 means the request
// never produced a response.
func ObserveAPICall(operation string, status int, elapsed time.Duration) {
	label := "none"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	APICallDuration.WithLabelValues(operation, label).Observe(elapsed.Seconds())
}

func ObserveTick(outcome string, elapsed time.Duration) {
	TicksTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		TickDuration.Observe(elapsed.Seconds())
	}
}

func ObserveCommand(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CommandsTotal.WithLabelValues(action, outcome).Inc()
}
