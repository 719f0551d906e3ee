package waiters

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/ptr"
)

// ConditionFunc reports whether the awaited condition holds. Returning an
// error stops the poll and the error is passed back unchanged.
type ConditionFunc func(ctx context.Context) (bool, error)

// Options controls a single wait. Nil durations fall back to the defaults
// of the waiter being called.
type Options struct {
	Timeout  *time.Duration
	Interval *time.Duration
	Logger   logr.Logger
}

// WithTimeout returns a copy of o with the timeout set.
func (o Options) WithTimeout(d time.Duration) Options {
	o.Timeout = ptr.To(d)
	return o
}

// WithInterval returns a copy of o with the interval set.
func (o Options) WithInterval(d time.Duration) Options {
	o.Interval = ptr.To(d)
	return o
}

func (o Options) logger() logr.Logger {
	if o.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return o.Logger
}

// CheckTimeoutInterval substitutes defaults for unset values and rejects
// negative ones.
func CheckTimeoutInterval(timeout, interval *time.Duration, defaultTimeout, defaultInterval time.Duration) (time.Duration, time.Duration, error) {
	t := ptr.Deref(timeout, defaultTimeout)
	i := ptr.Deref(interval, defaultInterval)
	if t < 0 {
		return 0, 0, ConfigurationError{Message: fmt.Sprintf("timeout must be non-negative, got %s", t)}
	}
	if i < 0 {
		return 0, 0, ConfigurationError{Message: fmt.Sprintf("interval must be non-negative, got %s", i)}
	}
	return t, i, nil
}

// CallUntilTrue calls condition every interval until it returns true or
// timeout elapses. The condition is always called at least once, so a zero
// timeout means exactly one attempt. It returns false without an error
// when the time runs out.
func CallUntilTrue(ctx context.Context, timeout, interval time.Duration, condition ConditionFunc) (bool, error) {
	if timeout < 0 || interval < 0 {
		return false, ConfigurationError{
			Message: fmt.Sprintf("timeout and interval must be non-negative, got %s and %s", timeout, interval),
		}
	}

	var conditionErr error
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true,
		func(context.Context) (bool, error) {
			// The poll deadline must not cut an in-flight call short.
			done, err := condition(ctx)
			conditionErr = err
			return done, err
		})
	switch {
	case err == nil:
		return true, nil
	case conditionErr != nil:
		return false, conditionErr
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		return false, nil
	}
}

// findCaller returns the name of the nearest test function on the stack.
func findCaller() string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if name := testFunctionName(frame.Function); name != "" {
			return name
		}
		if !more {
			return ""
		}
	}
}

func testFunctionName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	parts := strings.Split(fn, ".")
	if len(parts) < 2 {
		return ""
	}
	for _, p := range parts[1:] {
		if strings.HasPrefix(p, "Test") && p != "TestingT" {
			return p
		}
	}
	return ""
}
