// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs describes the register map of the AXI/XPS timer block.
package regs // import "github.com/go-lpc/axipwm/pwm/internal/regs"

// Register offsets, relative to a channel base.
const (
	TCSR = 0x00 // control/status
	TLR  = 0x04 // load register: PWM period
	DUTY = 0x14 // load register of the second timer: PWM high time
)

// CHAN_STRIDE is the distance between two channel bases.
const CHAN_STRIDE = 0x10

// SPAN is the minimal size of the register window for n channels.
func SPAN(n int) int64 {
	return int64(n-1)*CHAN_STRIDE + DUTY + 4
}

// TCSR bits.
const (
	TCSR_MDT   = 1 << 0  // timer mode: generate
	TCSR_UDT   = 1 << 1  // up/down count: down
	TCSR_GENT  = 1 << 2  // enable external generate signal
	TCSR_CAPT  = 1 << 3  // enable external capture trigger
	TCSR_ARHT  = 1 << 4  // auto reload/hold
	TCSR_LOAD  = 1 << 5  // load timer
	TCSR_ENIT  = 1 << 6  // enable interrupt
	TCSR_ENT   = 1 << 7  // enable timer
	TCSR_TINT  = 1 << 8  // interrupt
	TCSR_PWMA  = 1 << 9  // enable pulse-width modulation
	TCSR_ENALL = 1 << 10 // enable all timers

	// TCSR_PWM_CONF is the configuration word written at probe time:
	// PWM mode, external generate signal, count down.
	TCSR_PWM_CONF = TCSR_PWMA | TCSR_GENT | TCSR_UDT
)
