package waiters

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelWaiter = "waiter"
	labelResult = "result"

	resultSuccess = "success"
	resultTimeout = "timeout"
	resultFailed  = "failed"
	resultError   = "error"
)

var waitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ironic_conformance_wait_duration_seconds",
	Help:    "Length of time spent waiting for a remote resource to reach an expected state",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
}, []string{labelWaiter, labelResult})

var waitResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ironic_conformance_wait_total",
	Help: "Number of waits by outcome",
}, []string{labelWaiter, labelResult})

func init() {
	prometheus.MustRegister(waitDuration, waitResults)
}

func observeWait(waiter string, err error, start time.Time) {
	result := waitResult(err)
	waitDuration.WithLabelValues(waiter, result).Observe(time.Since(start).Seconds())
	waitResults.WithLabelValues(waiter, result).Inc()
}

func waitResult(err error) string {
	var se ServiceError
	switch {
	case err == nil:
		return resultSuccess
	case IsTimeout(err):
		return resultTimeout
	case errors.As(err, &se):
		return resultFailed
	}
	return resultError
}
