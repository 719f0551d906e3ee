package waiters

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// FetchFunc returns the current representation of a remote resource.
type FetchFunc func(ctx context.Context) (map[string]any, error)

const (
	DefaultStatusTimeout  = 300 * time.Second
	DefaultStatusInterval = 1 * time.Second
)

// StatusOptions extends Options for WaitForStatus.
type StatusOptions struct {
	Options
	// AbortOnErrorState stops the wait as soon as provision_state reports
	// a failure, instead of waiting for the timeout.
	AbortOnErrorState bool
}

// WaitForStatus polls fetch until resource[attr] matches one of the
// expected values. A nil expected value matches a missing or null
// attribute. A single slice argument is treated as the list of accepted
// values.
func WaitForStatus(ctx context.Context, fetch FetchFunc, id, attr string, opts StatusOptions, expected ...any) error {
	timeout, interval, err := CheckTimeoutInterval(opts.Timeout, opts.Interval, DefaultStatusTimeout, DefaultStatusInterval)
	if err != nil {
		return err
	}
	expected = normalizeExpected(expected)
	log := opts.logger().WithValues("resource", id, "attribute", attr, "expected", expected)

	start := time.Now()
	ok, err := CallUntilTrue(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		res, err := fetch(ctx)
		if err != nil {
			return false, err
		}
		value, present := res[attr]
		log.V(1).Info("polled resource", "value", value)
		if matchesAny(value, present, expected) {
			return true, nil
		}
		if opts.AbortOnErrorState {
			if state, _ := res["provision_state"].(string); isFailureState(state) {
				lastError, _ := res["last_error"].(string)
				return false, ServiceError{
					Resource:  id,
					State:     state,
					LastError: lastError,
					Message: fmt.Sprintf("Node %s reached failure state %s while waiting for %s=%s. Error: %s",
						id, state, attr, formatExpected(expected), lastError),
				}
			}
		}
		return false, nil
	})
	switch {
	case err != nil:
		observeWait("status", err, start)
		log.Info("wait failed", "error", err.Error())
		return err
	case !ok:
		err = TimeoutError{
			Caller:    findCaller(),
			Resource:  id,
			Attribute: attr,
			Expected:  expected,
			Timeout:   timeout,
		}
		observeWait("status", err, start)
		log.Info("wait timed out", "timeout", timeout)
		return err
	}
	observeWait("status", nil, start)
	log.Info("resource reached expected state", "elapsed", time.Since(start))
	return nil
}

// WaitForNodeStatus waits on provision_state of a node with early abort on
// failure states.
func WaitForNodeStatus(ctx context.Context, fetch FetchFunc, nodeID string, opts Options, expected ...any) error {
	return WaitForStatus(ctx, fetch, nodeID, "provision_state",
		StatusOptions{Options: opts, AbortOnErrorState: true}, expected...)
}

func isFailureState(state string) bool {
	return strings.HasSuffix(state, " failed") || state == "error"
}

func normalizeExpected(expected []any) []any {
	if len(expected) != 1 || expected[0] == nil {
		return expected
	}
	v := reflect.ValueOf(expected[0])
	if v.Kind() != reflect.Slice {
		return expected
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out
}

func matchesAny(value any, present bool, expected []any) bool {
	for _, e := range expected {
		if e == nil {
			if !present || value == nil {
				return true
			}
			continue
		}
		if present && valuesEqual(value, e) {
			return true
		}
	}
	return false
}

func valuesEqual(actual, expected any) bool {
	if reflect.DeepEqual(actual, expected) {
		return true
	}
	a, aok := toFloat(actual)
	e, eok := toFloat(expected)
	return aok && eok && a == e
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
