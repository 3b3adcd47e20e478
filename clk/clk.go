// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clk provides clock providers for PWM chips.
package clk // import "github.com/go-lpc/axipwm/clk"

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
)

var (
	errReleased = errors.New("clk: clock released")
	errDisabled = errors.New("clk: clock not enabled")
)

// Clock is a reference-counted clock handle.
type Clock struct {
	name string
	rate func() (uint64, error)

	mu  sync.Mutex
	cnt int  // enable count
	rel bool // released
}

// Fixed returns a clock running at rate Hz.
func Fixed(name string, rate uint64) *Clock {
	return &Clock{
		name: name,
		rate: func() (uint64, error) { return rate, nil },
	}
}

// File returns a clock whose rate, in Hz, is read from fname each time
// Rate is called, as exposed by the kernel under
// /sys/kernel/debug/clk/<name>/clk_rate.
func File(name, fname string) *Clock {
	return &Clock{
		name: name,
		rate: func() (uint64, error) { return readRate(fname) },
	}
}

func readRate(fname string) (uint64, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return 0, fmt.Errorf("clk: could not read clock rate file: %w", err)
	}
	v, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("clk: could not parse clock rate from %q: %w", fname, err)
	}
	return v, nil
}

// Name returns the name of the clock.
func (clk *Clock) Name() string { return clk.name }

// Rate returns the frequency of the clock, in Hz.
func (clk *Clock) Rate() (uint64, error) {
	clk.mu.Lock()
	rel := clk.rel
	clk.mu.Unlock()
	if rel {
		return 0, fmt.Errorf("clk: %q: %w", clk.name, errReleased)
	}
	return clk.rate()
}

// Enable increments the enable count of the clock.
func (clk *Clock) Enable() error {
	clk.mu.Lock()
	defer clk.mu.Unlock()
	if clk.rel {
		return fmt.Errorf("clk: %q: %w", clk.name, errReleased)
	}
	clk.cnt++
	return nil
}

// Disable decrements the enable count of the clock.
func (clk *Clock) Disable() error {
	clk.mu.Lock()
	defer clk.mu.Unlock()
	if clk.cnt == 0 {
		return fmt.Errorf("clk: %q: %w", clk.name, errDisabled)
	}
	clk.cnt--
	return nil
}

// Enabled reports whether the clock has been enabled more times than it
// has been disabled.
func (clk *Clock) Enabled() bool {
	clk.mu.Lock()
	defer clk.mu.Unlock()
	return clk.cnt > 0
}

// Release gives the clock handle back.
// A clock cannot be released while enabled.
func (clk *Clock) Release() error {
	clk.mu.Lock()
	defer clk.mu.Unlock()
	switch {
	case clk.rel:
		return fmt.Errorf("clk: %q: %w", clk.name, errReleased)
	case clk.cnt > 0:
		return fmt.Errorf("clk: %q still enabled (count=%d)", clk.name, clk.cnt)
	}
	clk.rel = true
	return nil
}
