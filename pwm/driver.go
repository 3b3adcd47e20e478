// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"fmt"
	"sort"
	"sync"
)

// Compatible is the device binding identifier of the timer block.
const Compatible = "xlnx,xps-timer-1.00.a"

// Variant describes a hardware revision of the timer block.
type Variant struct {
	Compatible  string
	NumChannels int // 1 or 2
	AddrCells   int // 1 or 3
}

var (
	// XPSTimer is the dual-channel revision, addressed with 3 cells
	// (channel, period, flags).
	XPSTimer = Variant{Compatible: Compatible, NumChannels: 2, AddrCells: 3}

	// XPSTimerSingle is the single-channel revision, addressed with 1 cell.
	XPSTimerSingle = Variant{Compatible: Compatible, NumChannels: 1, AddrCells: 1}
)

func (v Variant) validate() error {
	if v.Compatible == "" {
		return fmt.Errorf("pwm: variant with empty binding identifier")
	}
	switch v.NumChannels {
	case 1, 2:
	default:
		return fmt.Errorf("pwm: variant %q: invalid number of channels %d", v.Compatible, v.NumChannels)
	}
	switch v.AddrCells {
	case 1, 3:
	default:
		return fmt.Errorf("pwm: variant %q: invalid number of address cells %d", v.Compatible, v.AddrCells)
	}
	return nil
}

// ProbeFunc creates a chip for a device of the given variant.
type ProbeFunc func(dev Device, v Variant, host Host, opts ...Option) (*Chip, error)

// Driver binds a variant to its probe function.
type Driver struct {
	Variant Variant
	Probe   ProbeFunc
}

// Registry maps binding identifiers to drivers.
// Host collaborators look drivers up when instantiating devices.
type Registry struct {
	mu  sync.RWMutex
	drv map[string]Driver
}

// NewRegistry returns a registry holding the XPSTimer driver.
func NewRegistry() *Registry {
	reg := &Registry{drv: make(map[string]Driver)}
	err := reg.Register(Driver{Variant: XPSTimer, Probe: Probe})
	if err != nil {
		panic(err)
	}
	return reg
}

// Register adds drv to the registry.
func (reg *Registry) Register(drv Driver) error {
	err := drv.Variant.validate()
	if err != nil {
		return fmt.Errorf("pwm: could not register driver: %w", err)
	}
	if drv.Probe == nil {
		return fmt.Errorf("pwm: driver %q has no probe function", drv.Variant.Compatible)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, dup := reg.drv[drv.Variant.Compatible]; dup {
		return fmt.Errorf("pwm: driver %q already registered", drv.Variant.Compatible)
	}
	reg.drv[drv.Variant.Compatible] = drv
	return nil
}

// Unregister removes the driver bound to compatible.
func (reg *Registry) Unregister(compatible string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.drv[compatible]; !ok {
		return fmt.Errorf("pwm: no driver registered for %q", compatible)
	}
	delete(reg.drv, compatible)
	return nil
}

// Lookup returns the driver bound to compatible.
func (reg *Registry) Lookup(compatible string) (Driver, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	drv, ok := reg.drv[compatible]
	return drv, ok
}

// Compatibles returns the sorted list of registered binding identifiers.
func (reg *Registry) Compatibles() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.drv))
	for id := range reg.drv {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Probe looks up the driver bound to dev.Compatible and probes dev.
// A non-zero nchans overrides the number of channels of the registered
// variant; the number of address cells follows.
func (reg *Registry) Probe(dev Device, nchans int, host Host, opts ...Option) (*Chip, error) {
	drv, ok := reg.Lookup(dev.Compatible)
	if !ok {
		return nil, fmt.Errorf("pwm: no driver for %q (device %q)", dev.Compatible, dev.Name)
	}
	v := drv.Variant
	switch nchans {
	case 0:
	case 1:
		v.NumChannels = XPSTimerSingle.NumChannels
		v.AddrCells = XPSTimerSingle.AddrCells
	default:
		v.NumChannels = nchans
	}
	return drv.Probe(dev, v, host, opts...)
}
