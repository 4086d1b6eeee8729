// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/regmonitor/lib/ref"
)

// OutcomeKind classifies the result of one sub-operation.
type OutcomeKind int

const (
	// OutcomeSuccess means the admin call was made and accepted.
	OutcomeSuccess OutcomeKind = iota + 1

	// OutcomeAlreadyMember is the join-only success variant for a user
	// who was already in the room.
	OutcomeAlreadyMember

	// OutcomeSkipped means policy decided not to make the call.
	OutcomeSkipped

	// OutcomeFailed means the call was made and failed.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlreadyMember:
		return "already_member"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Skip reasons recorded on skipped outcomes.
const (
	SkipSuspendDisabled  = "suspend_users disabled"
	SkipSuspendedNoForce = "suspended, force_join disabled"
)

// Outcome is the result of one sub-operation (suspend or join).
type Outcome struct {
	Kind OutcomeKind

	// Reason explains a skip. Empty for other kinds.
	Reason string

	// Err is the admin error for a failed call. Nil for other kinds.
	Err error
}

// Succeeded returns a success outcome.
func Succeeded() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Skipped returns a skip outcome with the given reason.
func Skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

// Failed returns a failure outcome carrying cause.
func Failed(cause error) Outcome { return Outcome{Kind: OutcomeFailed, Err: cause} }

// Attempted reports whether an admin call was made.
func (o Outcome) Attempted() bool {
	return o.Kind != OutcomeSkipped && o.Kind != 0
}

// OK reports whether the outcome counts toward success.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeAlreadyMember || o.Kind == OutcomeSkipped
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSkipped:
		return "skipped (" + o.Reason + ")"
	case OutcomeFailed:
		return fmt.Sprintf("failed: %v", o.Err)
	default:
		return o.Kind.String()
	}
}

// MarshalJSON encodes the outcome for hook responses. The error is
// flattened to its message.
func (o Outcome) MarshalJSON() ([]byte, error) {
	wire := struct {
		Kind   string `json:"kind"`
		Reason string `json:"reason,omitempty"`
		Error  string `json:"error,omitempty"`
	}{Kind: o.Kind.String(), Reason: o.Reason}
	if o.Err != nil {
		wire.Error = o.Err.Error()
	}
	return json.Marshal(wire)
}

// Status is the aggregate result for one registration event.
type Status int

const (
	// StatusSuccess means every attempted call succeeded or was skipped.
	StatusSuccess Status = iota + 1

	// StatusPartialFailure means one of two attempted calls failed.
	StatusPartialFailure

	// StatusFailure means every attempted call failed.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartialFailure:
		return "partial_failure"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the aggregated outcome of one registration event.
type Result struct {
	EventID string     `json:"event_id"`
	UserID  ref.UserID `json:"user_id"`
	Suspend Outcome    `json:"suspend"`
	Join    Outcome    `json:"join"`
	Status  Status     `json:"status"`
}

// Suspended reports whether the account was suspended by this event.
func (r Result) Suspended() bool { return r.Suspend.Kind == OutcomeSuccess }

// Joined reports whether the account is in the notification room after
// this event, either freshly joined or already a member.
func (r Result) Joined() bool {
	return r.Join.Kind == OutcomeSuccess || r.Join.Kind == OutcomeAlreadyMember
}

// aggregate derives the event status from the two sub-outcomes.
func aggregate(suspend, join Outcome) Status {
	attempted, failed := 0, 0
	for _, outcome := range []Outcome{suspend, join} {
		if outcome.Attempted() {
			attempted++
		}
		if outcome.Kind == OutcomeFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusSuccess
	case failed < attempted:
		return StatusPartialFailure
	default:
		return StatusFailure
	}
}
