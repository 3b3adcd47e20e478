// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import "fmt"

// ChannelState holds the bookkeeping of one PWM output.
type ChannelState struct {
	Index     int
	DutyEvent uint32 // number of duty/period updates
	Enabled   bool

	DutyNs   uint64
	PeriodNs uint64
}

// allocChannels is swapped out by tests to inject allocation failures.
var allocChannels = func(n int) ([]ChannelState, error) {
	return make([]ChannelState, n), nil
}

type channels struct {
	states []ChannelState
}

func (reg *channels) allocate(n int) error {
	if n < 1 || n > maxChans {
		return fmt.Errorf("pwm: invalid number of channels %d: %w", n, ErrOutOfMemory)
	}
	states, err := allocChannels(n)
	if err != nil {
		return fmt.Errorf("pwm: could not allocate %d channels: %w: %w", n, ErrOutOfMemory, err)
	}
	if len(states) != n {
		return fmt.Errorf("pwm: short channel allocation (%d/%d): %w", len(states), n, ErrOutOfMemory)
	}
	for i := range states {
		states[i] = ChannelState{Index: i}
	}
	reg.states = states
	return nil
}

func (reg *channels) get(i int) (ChannelState, error) {
	if i < 0 || i >= len(reg.states) {
		return ChannelState{}, fmt.Errorf("pwm: channel %d out of range [0, %d): %w", i, len(reg.states), ErrInvalidChannel)
	}
	return reg.states[i], nil
}

func (reg *channels) set(i int, v ChannelState) error {
	if i < 0 || i >= len(reg.states) {
		return fmt.Errorf("pwm: channel %d out of range [0, %d): %w", i, len(reg.states), ErrInvalidChannel)
	}
	v.Index = i
	reg.states[i] = v
	return nil
}

func (reg *channels) reset() {
	reg.states = nil
}
