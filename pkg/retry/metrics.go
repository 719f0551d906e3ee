package retry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const labelOperation = "operation"

var conflictRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ironic_conformance_conflict_retries_total",
	Help: "Number of calls that hit a write conflict and were retried",
}, []string{labelOperation})

var conflictExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ironic_conformance_conflict_exhausted_total",
	Help: "Number of operations that still conflicted after the last attempt",
}, []string{labelOperation})

func init() {
	prometheus.MustRegister(conflictRetries, conflictExhausted)
}
