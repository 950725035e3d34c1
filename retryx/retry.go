// Package retryx provides a bounded immediate-retry executor shared by
// store and network call sites.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package retryx

import (
	"context"
	"fmt"
)

// DefaultAttempts is the system-wide retry budget.
const DefaultAttempts = 3

// Do runs op up to attempts times, retrying immediately on failure.
// The last error is returned when every attempt fails. Local I/O is the
// intended workload, so no backoff delay is inserted between attempts.
func Do(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		if lastErr = op(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, attempts int, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, attempts, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
