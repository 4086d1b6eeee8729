// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// UserID is a validated Matrix user ID (e.g., "@alice:example.org").
// Only the structural format is checked: registration on the homeserver
// already enforced its localpart rules, and historical user IDs may use
// characters the current grammar forbids.
//
// The zero value is not a valid user ID; use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parseSigilID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is ParseUserID for constants and tests. Panics on
// invalid input.
func MustParseUserID(raw string) UserID {
	userID, err := ParseUserID(raw)
	if err != nil {
		panic(err)
	}
	return userID
}

// String returns the full user ID.
func (u UserID) String() string { return u.id }

// IsZero reports whether u is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the part between '@' and the first ':'.
func (u UserID) Localpart() string {
	local, _, _ := parseSigilID(u.id, '@', "user ID")
	return local
}

// Server returns the server name (everything after the first ':').
func (u UserID) Server() string {
	_, server, _ := parseSigilID(u.id, '@', "user ID")
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields
// the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
