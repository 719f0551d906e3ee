package waiters

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAssociationTimeout = 30 * time.Second
	DefaultFieldTimeout       = 60 * time.Second

	// RedactedValue is what the service returns in place of fields the
	// caller is not allowed to read.
	RedactedValue = "** Redacted"
)

// WaitNodeInstanceAssociation waits for a node to be associated with the
// given instance.
func WaitNodeInstanceAssociation(ctx context.Context, fetch FetchFunc, instanceUUID string, opts Options) error {
	timeout, interval, err := CheckTimeoutInterval(opts.Timeout, opts.Interval, DefaultAssociationTimeout, DefaultStatusInterval)
	if err != nil {
		return err
	}
	start := time.Now()
	ok, err := CallUntilTrue(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		node, err := fetch(ctx)
		if err != nil {
			return false, err
		}
		return node["instance_uuid"] == instanceUUID, nil
	})
	if err == nil && !ok {
		err = TimeoutError{
			Caller:  findCaller(),
			Timeout: timeout,
			Message: fmt.Sprintf("Timed out waiting to get Ironic node by instance UUID %s within the required time (%s).",
				instanceUUID, timeout),
		}
	}
	observeWait("instance_association", err, start)
	return err
}

// WaitNodeValueInField waits for value to appear in node[field]. A string
// field must contain value as a substring, an object field must hold it as
// a key and a list field as an element. A field carrying the redaction
// marker fails immediately with InsufficientAccessError.
func WaitNodeValueInField(ctx context.Context, fetch FetchFunc, nodeID, field string, value any, opts StatusOptions) error {
	timeout, interval, err := CheckTimeoutInterval(opts.Timeout, opts.Interval, DefaultFieldTimeout, DefaultStatusInterval)
	if err != nil {
		return err
	}
	start := time.Now()
	ok, err := CallUntilTrue(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		node, err := fetch(ctx)
		if err != nil {
			return false, err
		}
		current := node[field]
		if fieldContains(current, RedactedValue) {
			return false, InsufficientAccessError{Resource: nodeID, Field: field}
		}
		if opts.AbortOnErrorState {
			if state, _ := node["provision_state"].(string); isFailureState(state) {
				lastError, _ := node["last_error"].(string)
				return false, ServiceError{
					Resource:  nodeID,
					State:     state,
					LastError: lastError,
					Message: fmt.Sprintf("Node %s reached failure state %s while waiting for %v in %s. Error: %s",
						nodeID, state, value, field, lastError),
				}
			}
		}
		return fieldContains(current, value), nil
	})
	if err == nil && !ok {
		err = TimeoutError{
			Caller:    findCaller(),
			Resource:  nodeID,
			Attribute: field,
			Expected:  []any{value},
			Timeout:   timeout,
		}
	}
	observeWait("field", err, start)
	return err
}

func fieldContains(field, value any) bool {
	switch f := field.(type) {
	case string:
		v, ok := value.(string)
		return ok && strings.Contains(f, v)
	case map[string]any:
		v, ok := value.(string)
		if !ok {
			return false
		}
		_, found := f[v]
		return found
	case []any:
		for _, item := range f {
			if valuesEqual(item, value) {
				return true
			}
		}
		return false
	}
	return field != nil && valuesEqual(field, value)
}
