package waiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func countingCondition(trueAfter int, calls *int) ConditionFunc {
	return func(context.Context) (bool, error) {
		*calls++
		return *calls >= trueAfter, nil
	}
}

func TestCallUntilTrue(t *testing.T) {
	testCases := []struct {
		Scenario      string
		TrueAfter     int
		Timeout       time.Duration
		Interval      time.Duration
		ExpectedOK    bool
		ExpectedCalls int
	}{
		{
			Scenario:      "true on first call",
			TrueAfter:     1,
			Timeout:       time.Second,
			Interval:      10 * time.Millisecond,
			ExpectedOK:    true,
			ExpectedCalls: 1,
		},
		{
			Scenario:      "true after k calls within timeout",
			TrueAfter:     3,
			Timeout:       time.Second,
			Interval:      20 * time.Millisecond,
			ExpectedOK:    true,
			ExpectedCalls: 3,
		},
		{
			Scenario:   "timeout shorter than k intervals",
			TrueAfter:  3,
			Timeout:    30 * time.Millisecond,
			Interval:   20 * time.Millisecond,
			ExpectedOK: false,
		},
		{
			Scenario:      "zero timeout still calls once",
			TrueAfter:     2,
			Timeout:       0,
			Interval:      10 * time.Millisecond,
			ExpectedOK:    false,
			ExpectedCalls: 1,
		},
		{
			Scenario:      "zero timeout succeeds on first call",
			TrueAfter:     1,
			Timeout:       0,
			Interval:      10 * time.Millisecond,
			ExpectedOK:    true,
			ExpectedCalls: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Scenario, func(t *testing.T) {
			calls := 0
			ok, err := CallUntilTrue(context.Background(), tc.Timeout, tc.Interval, countingCondition(tc.TrueAfter, &calls))
			require.NoError(t, err)
			assert.Equal(t, tc.ExpectedOK, ok)
			if tc.ExpectedCalls != 0 {
				assert.Equal(t, tc.ExpectedCalls, calls)
			}
		})
	}
}

func TestCallUntilTrueConditionError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	ok, err := CallUntilTrue(context.Background(), time.Second, 10*time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestCallUntilTrueCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ok, err := CallUntilTrue(ctx, time.Minute, 10*time.Millisecond, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, nil
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallUntilTrueZeroTimeoutPassesLiveContext(t *testing.T) {
	ok, err := CallUntilTrue(context.Background(), 0, 0, func(ctx context.Context) (bool, error) {
		return ctx.Err() == nil, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCallUntilTrueRejectsNegative(t *testing.T) {
	calls := 0
	_, err := CallUntilTrue(context.Background(), -time.Second, time.Second, countingCondition(1, &calls))
	assert.True(t, IsConfigurationError(err))
	assert.Zero(t, calls)
}

func TestCheckTimeoutInterval(t *testing.T) {
	testCases := []struct {
		Scenario         string
		Timeout          *time.Duration
		Interval         *time.Duration
		ExpectedTimeout  time.Duration
		ExpectedInterval time.Duration
		ExpectErr        bool
	}{
		{
			Scenario:         "defaults",
			ExpectedTimeout:  10 * time.Second,
			ExpectedInterval: time.Second,
		},
		{
			Scenario:         "explicit values",
			Timeout:          ptr.To(5 * time.Second),
			Interval:         ptr.To(2 * time.Second),
			ExpectedTimeout:  5 * time.Second,
			ExpectedInterval: 2 * time.Second,
		},
		{
			Scenario:         "zero values",
			Timeout:          ptr.To(time.Duration(0)),
			Interval:         ptr.To(time.Duration(0)),
			ExpectedTimeout:  0,
			ExpectedInterval: 0,
		},
		{
			Scenario:  "negative timeout",
			Timeout:   ptr.To(-time.Second),
			ExpectErr: true,
		},
		{
			Scenario:  "negative interval",
			Interval:  ptr.To(-time.Second),
			ExpectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Scenario, func(t *testing.T) {
			timeout, interval, err := CheckTimeoutInterval(tc.Timeout, tc.Interval, 10*time.Second, time.Second)
			if tc.ExpectErr {
				require.Error(t, err)
				assert.True(t, IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.ExpectedTimeout, timeout)
			assert.Equal(t, tc.ExpectedInterval, interval)
		})
	}
}

func TestTestFunctionName(t *testing.T) {
	testCases := map[string]string{
		"github.com/metal3-io/ironic-conformance/pkg/waiters.TestFoo":          "TestFoo",
		"github.com/metal3-io/ironic-conformance/pkg/waiters.TestFoo.func1":    "TestFoo",
		"github.com/metal3-io/ironic-conformance/pkg/waiters.WaitForStatus":    "",
		"github.com/metal3-io/ironic-conformance/pkg/manager.(*Manager).Reser": "",
		"testing.tRunner": "",
	}
	for fn, expected := range testCases {
		t.Run(fn, func(t *testing.T) {
			assert.Equal(t, expected, testFunctionName(fn))
		})
	}
}
