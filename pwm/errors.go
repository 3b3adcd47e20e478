// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import "errors"

var (
	ErrResourceUnavailable = errors.New("pwm: memory resource unavailable")
	ErrMappingFailed       = errors.New("pwm: could not map register window")
	ErrClockUnavailable    = errors.New("pwm: clock unavailable")
	ErrInvalidClock        = errors.New("pwm: invalid clock rate")
	ErrDurationTooSmall    = errors.New("pwm: duration too small for clock rate")
	ErrDurationTooLarge    = errors.New("pwm: duration too large for register")
	ErrInvalidDuty         = errors.New("pwm: duty cycle longer than period")
	ErrRegistrationFailed  = errors.New("pwm: could not register chip")
	ErrOutOfMemory         = errors.New("pwm: could not allocate channels")
	ErrInvalidChannel      = errors.New("pwm: invalid channel")
	ErrNotSupported        = errors.New("pwm: operation not supported")
	ErrNotRegistered       = errors.New("pwm: chip not registered")
)
