// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify reports registration outcomes to operators.
//
// [LogReporter] writes one structured log line per event. [RoomReporter]
// posts a confirmation notice into the notification room. Both
// implement reactor.Reporter and compose with [Multi].
// [AttemptNotifier] posts the pre-registration notice for an attempt
// the host has not yet completed.
//
// Notices are written as markdown and rendered to HTML with goldmark;
// the markdown source is the plain-text body. Posting failures are
// logged and never returned to the reactor.
package notify
