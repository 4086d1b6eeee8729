// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable Matrix identifiers: [UserID]
// (@localpart:server) and [RoomID] (!opaque:server).
//
// Identifiers are parsed once at the boundary (config loading, hook
// request decoding) and passed around as values afterwards. Both types
// implement encoding.TextMarshaler and encoding.TextUnmarshaler, so they
// round-trip through JSON, YAML, and CBOR in their canonical string form.
package ref
