// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP listener and request signing used
// by the registration hook.
//
// [Server] binds a TCP listener, signals readiness, and drains
// in-flight requests on context cancellation. [SignBody] and
// [VerifyBodyHMAC] implement the "sha256=<hex>" HMAC scheme host shims
// use to authenticate hook deliveries.
package service
