// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"io"

	"github.com/go-lpc/axipwm/internal/mmap"
)

// Resource is a physical memory range holding the timer registers.
type Resource struct {
	Base int64
	Span int64
}

// Window is a mapped register window.
type Window interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Mapper maps a physical memory resource into a register window.
type Mapper interface {
	Map(res Resource) (Window, error)
}

// Clock is a clock source feeding the timer block.
type Clock interface {
	// Rate returns the clock frequency in Hz.
	Rate() (uint64, error)
	// Enable prepares and ungates the clock.
	Enable() error
	// Disable gates the clock.
	Disable() error
	// Release gives the clock handle back.
	Release() error
}

// Device describes a timer block instance, as found by a host
// collaborator (device tree, board file, ...).
type Device struct {
	Name       string
	Compatible string

	Mem    *Resource // nil when the device has no memory resource
	Mapper Mapper

	// Clock acquires the clock feeding the device.
	Clock func() (Clock, error)
}

// DevMem maps physical memory through a /dev/mem-like file.
type DevMem string

// Map implements the Mapper interface.
func (fname DevMem) Map(res Resource) (Window, error) {
	return mmap.Open(string(fname), res.Base, res.Span)
}

var _ Mapper = DevMem("/dev/mem")
