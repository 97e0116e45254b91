// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors defines the typed user-facing error surface of the CLI.
// Every failure path maps to one of the stable exit codes; anything
// untyped is treated as an internal error.
package errors

import (
	"fmt"

	"github.com/kraklabs/codeclone/pkg/contracts"
)

// UserError is an error with a stable exit code and an optional remedy
// hint shown to the user.
type UserError struct {
	Title string
	Cause string
	Hint  string
	Code  contracts.ExitCode
	Err   error
}

func (e *UserError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s", e.Title, e.Cause)
	}
	return e.Title
}

func (e *UserError) Unwrap() error { return e.Err }

// NewContractError builds an exit-2 error: invalid arguments, untrusted
// baseline in gating mode, unreadable sources in gating mode, or a failed
// atomic write.
func NewContractError(title, cause, hint string, err error) *UserError {
	return &UserError{Title: title, Cause: cause, Hint: hint, Code: contracts.ExitContractError, Err: err}
}

// NewGatingError builds an exit-3 error for detected new clones or an
// exceeded threshold.
func NewGatingError(title, cause string) *UserError {
	return &UserError{Title: title, Cause: cause, Code: contracts.ExitGatingFailure}
}

// ExitCodeFor extracts the exit code of err, defaulting to internal error.
func ExitCodeFor(err error) contracts.ExitCode {
	if ue, ok := err.(*UserError); ok {
		return ue.Code
	}
	return contracts.ExitInternalError
}
