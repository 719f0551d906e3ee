package baremetal

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gophercloud/gophercloud/v2"
)

// ErrorKind classifies API errors a caller may choose to tolerate.
type ErrorKind int

const (
	NotFound ErrorKind = iota + 1
	BadRequest
	Forbidden
	NotAcceptable
	Conflict
)

var kindStatus = map[ErrorKind]int{
	NotFound:      http.StatusNotFound,
	BadRequest:    http.StatusBadRequest,
	Forbidden:     http.StatusForbidden,
	NotAcceptable: http.StatusNotAcceptable,
	Conflict:      http.StatusConflict,
}

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case BadRequest:
		return "BadRequest"
	case Forbidden:
		return "Forbidden"
	case NotAcceptable:
		return "NotAcceptable"
	case Conflict:
		return "Conflict"
	}
	return "Unknown"
}

// StatusCode is the HTTP status the kind corresponds to.
func (k ErrorKind) StatusCode() int {
	return kindStatus[k]
}

// KindOf classifies an API error.
func KindOf(err error) (ErrorKind, bool) {
	var codeErr gophercloud.ErrUnexpectedResponseCode
	if !errors.As(err, &codeErr) {
		return 0, false
	}
	for kind, status := range kindStatus {
		if codeErr.GetStatusCode() == status {
			return kind, true
		}
	}
	return 0, false
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusNotFound)
}

// Outcome is the result of a call that may have failed in a way the
// caller chose to tolerate: either a value, or the kind of error that was
// ignored.
type Outcome[T any] struct {
	value   T
	ignored ErrorKind
}

// Ok wraps a successful result.
func Ok[T any](value T) Outcome[T] {
	return Outcome[T]{value: value}
}

// Ignored records that the call failed with a tolerated error kind.
func Ignored[T any](kind ErrorKind) Outcome[T] {
	return Outcome[T]{ignored: kind}
}

// IsIgnored reports whether the call failed with a tolerated error.
func (o Outcome[T]) IsIgnored() bool {
	return o.ignored != 0
}

// Kind returns the ignored error kind, or 0 for a successful call.
func (o Outcome[T]) Kind() ErrorKind {
	return o.ignored
}

// Value returns the result and whether there was one.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, !o.IsIgnored()
}

// Ignore turns the result of a call into an Outcome. An error of one of
// the listed kinds becomes Ignored; any other error is returned.
func Ignore[T any](value T, err error, kinds ...ErrorKind) (Outcome[T], error) {
	if err == nil {
		return Ok(value), nil
	}
	if kind, ok := KindOf(err); ok && slices.Contains(kinds, kind) {
		return Ignored[T](kind), nil
	}
	return Outcome[T]{}, err
}

// IgnoreErr is Ignore for calls that only return an error.
func IgnoreErr(err error, kinds ...ErrorKind) (Outcome[struct{}], error) {
	return Ignore(struct{}{}, err, kinds...)
}
