// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package analysisapi

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection marks transport failures (no network, timeout) that
	// survived the transport retry budget.
	ErrConnection = errors.New("connection error")

	// ErrAPI marks a response the server produced but the caller cannot
	// accept: non-2xx status, malformed body, or a failure result code.
	ErrAPI = errors.New("api error")
)

// APIError carries the rejected response's detail for logging.
type APIError struct {
	Op         string
	StatusCode int
	ResultCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status=%d resultCode=%d %s", e.Op, e.StatusCode, e.ResultCode, e.Message)
}

func (e *APIError) Unwrap() error { return ErrAPI }
