// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"errors"
)

// Failure classes of the pulse pipeline.
// Errors returned by this package wrap one of these (or an *fs.PathError
// for I/O failures) and can be inspected with errors.Is.
var (
	ErrFormat       = errors.New("pulse: invalid format")
	ErrTooShort     = errors.New("pulse: waveform too short")
	ErrNumeric      = errors.New("pulse: numeric error")
	ErrNotFound     = errors.New("pulse: threshold crossing not found")
	ErrConfig       = errors.New("pulse: invalid configuration")
	ErrCoordination = errors.New("pulse: worker coordination failure")
)

// reason returns a short label for the failure class of err.
func reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrTooShort):
		return "too-short"
	case errors.Is(err, ErrNumeric):
		return "numeric"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrCoordination):
		return "coordination"
	default:
		return "io"
	}
}
