// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/go-lpc/axipwm/pwm/internal/regs"
)

// State is the lifecycle state of a chip.
type State int

const (
	Uninitialized State = iota
	Acquiring
	Registered
	Removed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Acquiring:
		return "acquiring"
	case Registered:
		return "registered"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Polarity is the polarity of a PWM output.
type Polarity int

const (
	PolarityNormal Polarity = iota
	PolarityInversed
)

// Chip is a probed AXI timer block driving one or two PWM outputs.
type Chip struct {
	dev  Device
	msg  *log.Logger
	host Host

	nchans int
	cells  int
	base   int // first global channel number, assigned by the host

	rmu sync.Mutex // serializes Remove, taken before mu

	mu     sync.Mutex
	state  State
	win    Window
	clk    Clock
	scaler uint32
	regs   pins
	chans  channels
	rels   cleanup

	err error
	buf [4]byte
}

// Probe acquires the register window and the clock of dev, registers the
// chip with host and writes the initial configuration of every channel.
//
// On failure, every resource acquired so far is released in reverse order
// before Probe returns.
func Probe(dev Device, v Variant, host Host, opts ...Option) (*Chip, error) {
	err := v.validate()
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, fmt.Errorf("pwm: nil host: %w", ErrRegistrationFailed)
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Chip{
		dev:    dev,
		msg:    cfg.msg,
		host:   host,
		nchans: v.NumChannels,
		cells:  v.AddrCells,
		base:   -1,
		state:  Acquiring,
	}

	err = c.probe()
	if err != nil {
		if e := c.rels.unwind(c.msg); e != nil {
			c.msg.Printf("could not roll back probe of %q: %+v", dev.Name, e)
		}
		c.win = nil
		c.clk = nil
		c.chans.reset()
		c.state = Uninitialized
		return nil, err
	}

	return c, nil
}

func (c *Chip) probe() error {
	dev := c.dev

	// 1. register window.
	if dev.Mem == nil || dev.Mapper == nil {
		return fmt.Errorf("pwm: device %q has no memory resource: %w", dev.Name, ErrResourceUnavailable)
	}
	if want := regs.SPAN(c.nchans); dev.Mem.Span < want {
		return fmt.Errorf(
			"pwm: device %q memory resource too small (span=0x%x, want>=0x%x): %w",
			dev.Name, dev.Mem.Span, want, ErrResourceUnavailable,
		)
	}
	win, err := dev.Mapper.Map(*dev.Mem)
	if err != nil {
		return fmt.Errorf("pwm: could not map %q registers at 0x%x: %w: %w",
			dev.Name, dev.Mem.Base, ErrMappingFailed, err,
		)
	}
	c.win = win
	c.rels.push("unmap register window", win.Close)

	// 2. clock.
	if dev.Clock == nil {
		return fmt.Errorf("pwm: device %q has no clock: %w", dev.Name, ErrClockUnavailable)
	}
	clk, err := dev.Clock()
	if err != nil {
		return fmt.Errorf("pwm: could not get %q clock: %w: %w", dev.Name, ErrClockUnavailable, err)
	}
	c.clk = clk
	c.rels.push("release clock", clk.Release)

	err = clk.Enable()
	if err != nil {
		return fmt.Errorf("pwm: could not enable %q clock: %w: %w", dev.Name, ErrClockUnavailable, err)
	}
	c.rels.push("disable clock", clk.Disable)

	// 3. scaler.
	rate, err := clk.Rate()
	if err != nil {
		return fmt.Errorf("pwm: could not get %q clock rate: %w: %w", dev.Name, ErrInvalidClock, err)
	}
	c.scaler, err = Scaler(rate)
	if err != nil {
		return fmt.Errorf("pwm: could not compute %q scaler: %w", dev.Name, err)
	}

	// 4. host framework.
	err = c.host.Add(c)
	if err != nil {
		return fmt.Errorf("pwm: could not add chip %q: %w: %w", dev.Name, ErrRegistrationFailed, err)
	}
	c.rels.push("unregister chip", func() error { return c.host.Remove(c) })

	// 5. per-channel state.
	err = c.chans.allocate(c.nchans)
	if err != nil {
		return fmt.Errorf("pwm: could not set up %q channels: %w", dev.Name, err)
	}

	// 6. initial configuration.
	c.bind(win)
	c.mu.Lock()
	err = c.writeInitialConfig()
	if err == nil {
		c.state = Registered
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("pwm: could not configure %q: %w: %w", dev.Name, ErrMappingFailed, err)
	}

	return nil
}

// Remove disables every channel, unregisters the chip from its host and
// releases the clock and the register window.
//
// All steps are run even if one of them fails; the errors are logged and
// returned joined. Removing an already removed chip is a no-op: concurrent
// callers wait for the first removal to complete.
func (c *Chip) Remove() error {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	c.mu.Lock()
	if c.state != Registered {
		c.mu.Unlock()
		return nil
	}

	var errs []error
	for i := 0; i < c.nchans; i++ {
		err := c.setEnabled(i, false)
		if err != nil {
			c.msg.Printf("could not disable %q channel %d: %+v", c.dev.Name, i, err)
			errs = append(errs, err)
		}
		if st, e := c.chans.get(i); e == nil {
			st.Enabled = false
			_ = c.chans.set(i, st)
		}
	}
	c.state = Removed
	c.mu.Unlock()

	// unregister, disable+release clock, unmap.
	err := c.rels.unwind(c.msg)
	if err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	c.win = nil
	c.clk = nil
	c.chans.reset()
	c.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("pwm: could not cleanly remove %q: %w", c.dev.Name, errors.Join(errs...))
	}
	return nil
}

// Name returns the name of the underlying device.
func (c *Chip) Name() string { return c.dev.Name }

// NumChannels returns the number of PWM outputs of the chip.
func (c *Chip) NumChannels() int { return c.nchans }

// AddrCells returns the number of device-tree cells used to address a
// channel of this chip.
func (c *Chip) AddrCells() int { return c.cells }

// Base returns the first global channel number assigned by the host, or -1.
func (c *Chip) Base() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// Scaler returns the number of nanoseconds per timer tick.
func (c *Chip) Scaler() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scaler
}

// State returns the lifecycle state of the chip.
func (c *Chip) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channel returns the bookkeeping state of channel ch.
func (c *Chip) Channel(ch int) (ChannelState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Registered {
		return ChannelState{}, ErrNotRegistered
	}
	return c.chans.get(ch)
}

// Config programs the duty cycle and the period, in nanoseconds, of
// channel ch.
func (c *Chip) Config(ch int, dutyNs, periodNs uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.channel(ch)
	if err != nil {
		return err
	}
	if dutyNs > periodNs {
		return fmt.Errorf(
			"pwm: duty=%dns > period=%dns: %w",
			dutyNs, periodNs, ErrInvalidDuty,
		)
	}

	duty, period, err := Ticks(dutyNs, periodNs, c.scaler)
	if err != nil {
		return err
	}

	err = c.setTiming(ch, duty, period)
	if err != nil {
		return err
	}

	st.DutyEvent++
	st.DutyNs = dutyNs
	st.PeriodNs = periodNs
	return c.chans.set(ch, st)
}

// Enable starts channel ch.
func (c *Chip) Enable(ch int) error {
	return c.switchChannel(ch, true)
}

// Disable stops channel ch.
func (c *Chip) Disable(ch int) error {
	return c.switchChannel(ch, false)
}

func (c *Chip) switchChannel(ch int, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.channel(ch)
	if err != nil {
		return err
	}

	err = c.setEnabled(ch, on)
	if err != nil {
		return err
	}

	st.Enabled = on
	return c.chans.set(ch, st)
}

// SetPolarity sets the polarity of channel ch.
// The timer block cannot invert its output: only PolarityNormal is
// accepted.
func (c *Chip) SetPolarity(ch int, p Polarity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.channel(ch)
	if err != nil {
		return err
	}

	switch p {
	case PolarityNormal:
		return nil
	default:
		return fmt.Errorf("pwm: polarity %d on channel %d: %w", p, ch, ErrNotSupported)
	}
}

// channel must be called with c.mu held.
func (c *Chip) channel(ch int) (ChannelState, error) {
	if c.state != Registered {
		return ChannelState{}, fmt.Errorf("pwm: chip %q is %v: %w", c.dev.Name, c.state, ErrNotRegistered)
	}
	return c.chans.get(ch)
}

func (c *Chip) setBase(base int) {
	c.mu.Lock()
	c.base = base
	c.mu.Unlock()
}
