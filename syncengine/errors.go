// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks rejected user input. Never retried; the wrapped
	// ValidationError carries the user-facing field and reason.
	ErrValidation = errors.New("validation error")

	// ErrNoSession means no inspection dataset is active on-device.
	ErrNoSession = errors.New("no active inspection session")

	// ErrInvalidState rejects an operation the current workflow status or
	// item progress does not allow.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrAnalysisInFlight rejects a second analysis request for an item
	// whose previous request has not resolved yet.
	ErrAnalysisInFlight = errors.New("analysis request already in flight")
)

// ValidationError identifies the offending field for the presentation
// layer's message lookup.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
