package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/metal3-io/ironic-conformance/pkg/waiters"
)

// Seconds is a non-negative whole number of seconds.
type Seconds int

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts whole, non-negative numbers only.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return waiters.ConfigurationError{Message: fmt.Sprintf("seconds must be a number, got %s", data)}
	}
	if f != math.Trunc(f) {
		return waiters.ConfigurationError{Message: fmt.Sprintf("seconds must be a whole number, got %s", data)}
	}
	if f < 0 {
		return waiters.ConfigurationError{Message: fmt.Sprintf("seconds must be non-negative, got %s", data)}
	}
	if f > math.MaxInt32 {
		return waiters.ConfigurationError{Message: fmt.Sprintf("seconds out of range: %s", data)}
	}
	*s = Seconds(f)
	return nil
}
