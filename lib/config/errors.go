// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
)

// Error reports an invalid or unreadable configuration. It is fatal:
// callers abort startup when they see one.
type Error struct {
	// Path is the config file, empty when validating an in-memory File.
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsConfigError reports whether err is (or wraps) a *Error.
func IsConfigError(err error) bool {
	var configErr *Error
	return errors.As(err, &configErr)
}
