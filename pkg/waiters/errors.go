package waiters

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigurationError is returned when a timeout or interval cannot be
// used at all. It is never retried.
type ConfigurationError struct {
	Message string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// TimeoutError is returned when a waited-for condition is not reached in
// the allotted time.
type TimeoutError struct {
	// Caller is the name of the test function that started the wait,
	// when it could be found on the call stack.
	Caller    string
	Resource  string
	Attribute string
	Expected  []any
	Timeout   time.Duration
	// Message replaces the generated description when set.
	Message string
}

func (e TimeoutError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("Timed out waiting for %s %s=%s within the required time (%s).",
			e.Resource, e.Attribute, formatExpected(e.Expected), e.Timeout)
	}
	if e.Caller != "" {
		msg = fmt.Sprintf("(%s) %s", e.Caller, msg)
	}
	return msg
}

// ServiceError is returned when the remote service reports that a
// resource entered a terminal error state.
type ServiceError struct {
	Resource  string
	State     string
	LastError string
	Message   string
}

func (e ServiceError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s reached failure state %s. Error: %s", e.Resource, e.State, e.LastError)
}

// InsufficientAccessError is returned when the service redacted a field
// the caller needed to read.
type InsufficientAccessError struct {
	Resource string
	Field    string
}

func (e InsufficientAccessError) Error() string {
	return fmt.Sprintf("Insufficient API access to read field %q of %s", e.Field, e.Resource)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te TimeoutError
	return errors.As(err, &te)
}

// IsServiceError reports whether err is, or wraps, a ServiceError.
func IsServiceError(err error) bool {
	var se ServiceError
	return errors.As(err, &se)
}

// IsConfigurationError reports whether err is, or wraps, a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce ConfigurationError
	return errors.As(err, &ce)
}

// IsInsufficientAccess reports whether err is, or wraps, an
// InsufficientAccessError.
func IsInsufficientAccess(err error) bool {
	var ie InsufficientAccessError
	return errors.As(err, &ie)
}

func formatExpected(expected []any) string {
	if len(expected) == 1 {
		return formatValue(expected[0])
	}
	parts := make([]string, 0, len(expected))
	for _, v := range expected {
		parts = append(parts, formatValue(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}
