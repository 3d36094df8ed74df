// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package netshare

import (
	"context"
	"errors"
	"net"
	"strconv"
)

var (
	// HTTP 400
	ErrBadRequest = errors.New("Bad Request")
	// HTTP 401
	ErrUnauthorized = errors.New("Unauthorized")
	// HTTP 403
	ErrForbidden = errors.New("Forbidden")
	// HTTP 404
	ErrNotFound = errors.New("Not Found")
	// HTTP 405
	ErrMethodNotAllowed = errors.New("Method Not Allowed")
	// HTTP 413
	ErrPayloadTooLarge = errors.New("Payload Too Large")
	// HTTP 429
	ErrTooManyRequests = errors.New("Too Many Requests")
	// HTTP 500
	ErrInternal = errors.New("Internal Server Error")
)

type RateLimitError struct {
	s          string
	RetryAfter int64
}

func (e *RateLimitError) Error() string {
	return e.s
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrTooManyRequests
}

func ErrTooManyRequestsNew(retryAfter int64) *RateLimitError {
	return &RateLimitError{
		s:          "Too Many Requests",
		RetryAfter: retryAfter,
	}
}

// InputError is a validation failure that is safe to show to the user as is.
type InputError struct {
	Field string
	Msg   string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *InputError) Is(target error) bool {
	return target == ErrBadRequest
}

func NewInputError(field, msg string) *InputError {
	return &InputError{Field: field, Msg: msg}
}

// Message turns any error returned by a tool into the single line shown
// on a page. Tool wrappers return plain Go errors; pages never see a panic.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var inErr *InputError
	if errors.As(err, &inErr) {
		return inErr.Error()
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return "Too many requests, try again in " + strconv.FormatInt(rlErr.RetryAfter, 10) + " seconds."
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Error: operation timed out"
	case errors.Is(err, context.Canceled):
		return "Error: operation cancelled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return "Error: host not found: " + dnsErr.Name
	}

	return "Error: " + err.Error()
}
