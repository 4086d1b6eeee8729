// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Matrix error codes the client inspects.
const (
	ErrCodeForbidden    = "M_FORBIDDEN"
	ErrCodeUnknownToken = "M_UNKNOWN_TOKEN"
)

// APIError is a non-2xx response from the homeserver. Code and Message
// are filled when the body was a standard Matrix error object; Body
// always holds the raw response for diagnostics.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("admin: %s %s: %s (%d): %s", e.Method, e.Path, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("admin: %s %s: unexpected %d response: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// TransportError is a request that produced no HTTP response: DNS or
// connection failure, TLS error, or the request timeout expiring.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("admin: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the request failed because a deadline expired.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(e.Err, &timeout) && timeout.Timeout()
}

// IsAPIError reports whether err is an *APIError with the given Matrix
// error code. An empty code matches any APIError.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return code == "" || apiErr.Code == code
}

// StatusCode returns the HTTP status carried by err, or 0 when err is
// not an *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// alreadyMemberPhrases are the messages homeservers use when a join
// targets a user who is already in the room. Synapse answers such joins
// with 200, but older versions and other implementations reject them.
var alreadyMemberPhrases = []string{
	"already in the room",
	"already joined",
	"already a member",
	"is already in room",
}

// isAlreadyMember reports whether a join failure means the user is
// already a member.
func isAlreadyMember(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != 400 && apiErr.StatusCode != 403 {
		return false
	}
	text := strings.ToLower(apiErr.Message + " " + apiErr.Body)
	for _, phrase := range alreadyMemberPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
