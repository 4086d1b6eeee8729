// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP body reads for the admin API
// client and the hook handler. Every read is capped at a fixed size so a
// misbehaving homeserver or host shim cannot exhaust memory.
package netutil

import (
	"fmt"
	"io"
)

// MaxResponseSize bounds admin API response reads. Admin and client-server
// API responses are small JSON documents; 16 MB is far above any room
// member list this service requests.
const MaxResponseSize int64 = 16 << 20

// MaxRequestSize bounds inbound hook request bodies.
const MaxRequestSize int64 = 64 << 10

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ReadRequest reads an inbound request body up to MaxRequestSize bytes.
// A body longer than the limit is an error rather than silently
// truncated.
func ReadRequest(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxRequestSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxRequestSize {
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxRequestSize)
	}
	return data, nil
}
