package waiters

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultAllocationTimeout  = 15 * time.Second
	DefaultAllocationInterval = 1 * time.Second
)

// WaitForAllocation polls an allocation until it leaves the "allocating"
// state and returns the last representation fetched. An "error" state is
// returned as a ServiceError unless expectError is set, in which case the
// representation is returned as is.
func WaitForAllocation(ctx context.Context, fetch FetchFunc, id string, expectError bool, opts Options) (map[string]any, error) {
	timeout, interval, err := CheckTimeoutInterval(opts.Timeout, opts.Interval, DefaultAllocationTimeout, DefaultAllocationInterval)
	if err != nil {
		return nil, err
	}
	log := opts.logger().WithValues("allocation", id)

	var allocation map[string]any
	start := time.Now()
	ok, err := CallUntilTrue(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		res, err := fetch(ctx)
		if err != nil {
			return false, err
		}
		allocation = res
		state, _ := res["state"].(string)
		log.V(1).Info("polled allocation", "state", state)
		if state == "error" && !expectError {
			lastError, _ := res["last_error"].(string)
			return false, ServiceError{
				Resource:  id,
				State:     state,
				LastError: lastError,
				Message:   fmt.Sprintf("Allocation %s failed: %s", id, lastError),
			}
		}
		return state != "allocating", nil
	})
	if err == nil && !ok {
		err = TimeoutError{
			Caller:  findCaller(),
			Message: fmt.Sprintf("Allocation %s failed to finish in %s", id, timeout),
			Timeout: timeout,
		}
	}
	observeWait("allocation", err, start)
	if err != nil {
		log.Info("allocation wait failed", "error", err.Error())
		return nil, err
	}
	log.Info("allocation finished", "state", allocation["state"], "node", allocation["node_uuid"])
	return allocation, nil
}
