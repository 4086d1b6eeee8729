// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hook is the HTTP adapter between a homeserver-side shim and
// the registration reactor.
//
// The shim posts each completed registration to
// /_regmonitor/v1/registered and, optionally, each attempt to
// /_regmonitor/v1/attempt. Bodies are JSON, or CBOR when the request's
// Content-Type is application/cbor. When a hook secret is configured
// every POST carries an X-Regmonitor-Signature header of the form
// "sha256=<hex HMAC of the body>"; requests without a valid signature
// get 401 and never reach the reactor.
//
// A registration that reaches the reactor always gets 200 with the JSON
// result, whatever the admin API did, so a shim that treats non-2xx as
// fatal still never blocks account creation. Deliveries carrying an
// X-Regmonitor-Delivery ID are deduplicated for one hour.
package hook
