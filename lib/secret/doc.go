// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credentials such as the homeserver admin token in
// memory allocated outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked against swap (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes, unlocks, and
// unmaps it. The garbage collector never sees the region, so the secret is
// not copied around by heap compaction.
//
// [ReadFile] loads a secret from disk straight into a Buffer.
package secret
