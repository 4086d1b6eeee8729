// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reactor implements the per-registration policy: optionally
// suspend a newly registered account, then optionally force-join it to
// the notification room.
//
// A [Reactor] holds only an immutable [Policy] and a shared admin
// client, so OnRegister is safe to call concurrently for different
// users. For one user the two admin calls run strictly in order, suspend
// first, because whether the join happens depends on the suspend
// outcome.
//
// OnRegister never returns an error. Every admin failure is folded into
// the [Result], which is handed to the injected [Reporter] and returned
// to the caller. The host must not fail a registration because of
// anything this package does.
package reactor
