// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the registration monitor's configuration.
//
// Configuration comes from exactly one file, named either by the
// REGMONITOR_CONFIG environment variable ([Load]) or by the --config flag
// ([LoadFile]). There is no discovery and no environment-variable override
// of individual values, so what the file says is what runs.
//
// Files ending in .json or .jsonc are JSON with comments and trailing
// commas (stripped with tidwall/jsonc). Anything else is YAML, the format
// the homeserver's own module configuration uses. Unknown keys are
// ignored in both formats.
//
// Validation runs once, at load time. Any problem (missing
// notification_room, homeserver_url, or admin token; malformed Matrix
// identifiers; unparseable durations) is reported as a single [*Error]
// naming every offending field. A process that fails to load its config
// never handles a registration.
//
// The loaded [Config] is immutable. The admin token is moved into
// protected memory ([secret.Buffer]) at load time; call Close when the
// process shuts down.
package config
