package waiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence returns a fetch that walks through states, repeating the last
// one once exhausted.
func sequence(states ...map[string]any) (FetchFunc, *int) {
	calls := 0
	return func(context.Context) (map[string]any, error) {
		i := calls
		if i >= len(states) {
			i = len(states) - 1
		}
		calls++
		return states[i], nil
	}, &calls
}

func fastOptions(timeout time.Duration) Options {
	return Options{}.WithTimeout(timeout).WithInterval(10 * time.Millisecond)
}

func TestWaitForStatus(t *testing.T) {
	testCases := []struct {
		Scenario  string
		States    []map[string]any
		Attribute string
		Expected  []any
		Abort     bool
		ExpectErr func(error) bool
	}{
		{
			Scenario:  "reaches state",
			States:    []map[string]any{{"provision_state": "deploying"}, {"provision_state": "active"}},
			Attribute: "provision_state",
			Expected:  []any{"active"},
		},
		{
			Scenario:  "any of several states",
			States:    []map[string]any{{"provision_state": "cleaning"}, {"provision_state": "available"}},
			Attribute: "provision_state",
			Expected:  []any{"manageable", "available"},
		},
		{
			Scenario:  "single slice argument is the list",
			States:    []map[string]any{{"power_state": "power off"}},
			Attribute: "power_state",
			Expected:  []any{[]string{"power on", "power off"}},
		},
		{
			Scenario:  "nil matches null",
			States:    []map[string]any{{"target_provision_state": "available"}, {"target_provision_state": nil}},
			Attribute: "target_provision_state",
			Expected:  []any{nil},
		},
		{
			Scenario:  "nil matches missing",
			States:    []map[string]any{{"instance_uuid": "abc"}, {}},
			Attribute: "instance_uuid",
			Expected:  []any{nil},
		},
		{
			Scenario:  "numeric values compare by value",
			States:    []map[string]any{{"cpus": float64(8)}},
			Attribute: "cpus",
			Expected:  []any{8},
		},
		{
			Scenario:  "timeout",
			States:    []map[string]any{{"provision_state": "deploying"}},
			Attribute: "provision_state",
			Expected:  []any{"active"},
			ExpectErr: IsTimeout,
		},
		{
			Scenario:  "failure state without abort is a timeout",
			States:    []map[string]any{{"provision_state": "deploy failed"}},
			Attribute: "provision_state",
			Expected:  []any{"active"},
			ExpectErr: IsTimeout,
		},
		{
			Scenario:  "failure state with abort",
			States:    []map[string]any{{"provision_state": "deploy failed", "last_error": "boom"}},
			Attribute: "provision_state",
			Expected:  []any{"active"},
			Abort:     true,
			ExpectErr: IsServiceError,
		},
		{
			Scenario:  "error state with abort",
			States:    []map[string]any{{"provision_state": "error"}},
			Attribute: "provision_state",
			Expected:  []any{"active"},
			Abort:     true,
			ExpectErr: IsServiceError,
		},
		{
			Scenario:  "expected failure state wins over abort",
			States:    []map[string]any{{"provision_state": "clean failed"}},
			Attribute: "provision_state",
			Expected:  []any{"clean failed"},
			Abort:     true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Scenario, func(t *testing.T) {
			fetch, _ := sequence(tc.States...)
			opts := StatusOptions{Options: fastOptions(100 * time.Millisecond), AbortOnErrorState: tc.Abort}
			err := WaitForStatus(context.Background(), fetch, "node-1", tc.Attribute, opts, tc.Expected...)
			if tc.ExpectErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, tc.ExpectErr(err), "unexpected error %v", err)
		})
	}
}

func TestWaitForStatusAbortsImmediately(t *testing.T) {
	fetch, calls := sequence(map[string]any{"provision_state": "cleaning failed", "last_error": "disk on fire"})
	opts := StatusOptions{
		Options:           Options{}.WithTimeout(10 * time.Second).WithInterval(50 * time.Millisecond),
		AbortOnErrorState: true,
	}

	start := time.Now()
	err := WaitForStatus(context.Background(), fetch, "node-1", "provision_state", opts, "available")
	elapsed := time.Since(start)

	var se ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "cleaning failed", se.State)
	assert.Equal(t, "disk on fire", se.LastError)
	assert.Contains(t, err.Error(), "Node node-1 reached failure state cleaning failed while waiting for provision_state=available")
	assert.Equal(t, 1, *calls)
	assert.Less(t, elapsed, time.Second)
}

func TestWaitForStatusTimeoutMessage(t *testing.T) {
	fetch, _ := sequence(map[string]any{"provision_state": "deploying"})
	err := WaitForStatus(context.Background(), fetch, "node-1", "provision_state",
		StatusOptions{Options: fastOptions(20 * time.Millisecond)}, "active", nil)

	var te TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "TestWaitForStatusTimeoutMessage", te.Caller)
	assert.Equal(t, "node-1", te.Resource)
	assert.Equal(t, []any{"active", nil}, te.Expected)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
	assert.Equal(t,
		"(TestWaitForStatusTimeoutMessage) Timed out waiting for node-1 provision_state=[active, null] within the required time (20ms).",
		err.Error())
}

func TestWaitForStatusFetchError(t *testing.T) {
	boom := errors.New("not found")
	err := WaitForStatus(context.Background(), func(context.Context) (map[string]any, error) {
		return nil, boom
	}, "node-1", "provision_state", StatusOptions{Options: fastOptions(time.Second)}, "active")
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsTimeout(err))
}

func TestWaitForStatusInvalidOptions(t *testing.T) {
	fetch, calls := sequence(map[string]any{})
	err := WaitForStatus(context.Background(), fetch, "node-1", "provision_state",
		StatusOptions{Options: Options{}.WithTimeout(-time.Second)}, "active")
	assert.True(t, IsConfigurationError(err))
	assert.Zero(t, *calls)
}

func TestWaitForNodeStatus(t *testing.T) {
	fetch, _ := sequence(map[string]any{"provision_state": "inspect failed", "last_error": "no agent"})
	err := WaitForNodeStatus(context.Background(), fetch, "node-1", fastOptions(time.Second), "manageable")
	assert.True(t, IsServiceError(err))
	assert.Contains(t, err.Error(), "no agent")
}
