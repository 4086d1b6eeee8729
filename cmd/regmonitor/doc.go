// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// regmonitor reacts to new account registrations on a Matrix
// homeserver. Depending on configuration it suspends each new account
// and force-joins it to a notification room through the Synapse admin
// API, then posts a confirmation notice.
//
// Commands:
//
//	regmonitor [serve]            run the registration hook listener
//	regmonitor react <user_id>    handle one registration and exit
//	regmonitor keygen <path>      write an age identity for sealed tokens
//	regmonitor seal --recipient K seal the admin token read from stdin
//
// The config file comes from --config or REGMONITOR_CONFIG. react exits
// 0 when every step succeeded or was skipped by policy and 1 otherwise,
// printing the JSON result either way.
package main
