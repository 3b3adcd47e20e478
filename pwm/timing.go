// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"fmt"
	"math"
)

const nsPerSecond = 1_000_000_000

// tickBias is subtracted from the number of clock ticks: the timer
// reloads two cycles after reaching its terminal count.
const tickBias = 2

// Scaler returns the number of nanoseconds per timer tick for a clock
// running at rateHz.
func Scaler(rateHz uint64) (uint32, error) {
	if rateHz == 0 {
		return 0, fmt.Errorf("pwm: clock rate of 0Hz: %w", ErrInvalidClock)
	}
	scaler := nsPerSecond / rateHz
	if scaler == 0 {
		return 0, fmt.Errorf("pwm: clock rate %dHz above 1GHz: %w", rateHz, ErrInvalidClock)
	}
	return uint32(scaler), nil
}

// Ticks converts a duty cycle and a period, in nanoseconds, into the
// values to load into the DUTY and PERIOD registers.
func Ticks(dutyNs, periodNs uint64, scaler uint32) (duty, period uint32, err error) {
	if scaler == 0 {
		return 0, 0, fmt.Errorf("pwm: null scaler: %w", ErrInvalidClock)
	}
	duty, err = ticks(dutyNs, scaler)
	if err != nil {
		return 0, 0, fmt.Errorf("pwm: invalid duty=%dns: %w", dutyNs, err)
	}
	period, err = ticks(periodNs, scaler)
	if err != nil {
		return 0, 0, fmt.Errorf("pwm: invalid period=%dns: %w", periodNs, err)
	}
	return duty, period, nil
}

func ticks(ns uint64, scaler uint32) (uint32, error) {
	n := ns / uint64(scaler)
	switch {
	case n < tickBias:
		return 0, ErrDurationTooSmall
	case n-tickBias > math.MaxUint32:
		return 0, ErrDurationTooLarge
	}
	return uint32(n - tickBias), nil
}
