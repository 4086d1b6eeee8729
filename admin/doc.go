// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package admin is a small client for the homeserver administrative API
// used by the registration monitor.
//
// [Client] performs four operations against a Synapse-compatible
// homeserver, each as exactly one HTTP request authenticated with the
// configured admin bearer token:
//
//   - Suspend: PUT /_synapse/admin/v1/suspend/{user_id}
//   - JoinRoom: POST /_synapse/admin/v1/join/{room_id}
//   - RoomMembers: GET /_synapse/admin/v1/rooms/{room_id}/members
//   - SendNotice: PUT /_matrix/client/v3/rooms/{room_id}/send/m.room.message/{txn_id}
//
// The client never retries and never caches. Retry policy, if any,
// belongs to whoever calls it. Every request is bounded by the client's
// request timeout, so an unresponsive homeserver surfaces as a
// [*TransportError] instead of a hang.
//
// Failures come in two shapes. [*APIError] means the homeserver answered
// with a non-2xx status; it carries the status, the Matrix errcode and
// message when the body was a Matrix error, and the raw body for
// diagnostics. [*TransportError] means no usable answer arrived
// (connection refused, TLS failure, timeout). JoinRoom folds "already a
// member" answers into a successful [AlreadyMember] result.
//
// The access token is held in a [secret.Buffer] owned by the caller and is
// never written to logs or error messages.
//
// Request URLs are built by concatenating the base URL with paths whose
// identifier segments are escaped with url.PathEscape; url.URL.String
// would re-encode the '%' of already-escaped room IDs.
package admin
