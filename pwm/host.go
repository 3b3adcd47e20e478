// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Host is the framework chips register with once their resources are
// acquired.
type Host interface {
	Add(c *Chip) error
	Remove(c *Chip) error
}

// Framework is a Host handing out PWM channels to consumers.
//
// Chips get a contiguous range of global channel numbers, allocated in the
// first free gap.
type Framework struct {
	mu    sync.Mutex
	chips []*Chip // sorted by base
	used  map[*Chip][]*Channel
}

// NewFramework returns an empty framework.
func NewFramework() *Framework {
	return &Framework{
		used: make(map[*Chip][]*Channel),
	}
}

// Add implements the Host interface.
func (fw *Framework) Add(c *Chip) error {
	if c == nil || c.nchans <= 0 {
		return fmt.Errorf("pwm: invalid chip")
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.index(c) >= 0 {
		return fmt.Errorf("pwm: chip %q already registered", c.Name())
	}

	base := 0
	idx := len(fw.chips)
	for i, cc := range fw.chips {
		if base+c.nchans <= cc.base {
			idx = i
			break
		}
		base = cc.base + cc.nchans
	}

	c.setBase(base)
	fw.chips = append(fw.chips, nil)
	copy(fw.chips[idx+1:], fw.chips[idx:])
	fw.chips[idx] = c
	fw.used[c] = make([]*Channel, c.nchans)
	return nil
}

// Remove implements the Host interface.
// Channels still requested from c are released and become unusable.
func (fw *Framework) Remove(c *Chip) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	i := fw.index(c)
	if i < 0 {
		return fmt.Errorf("pwm: chip %q not registered", c.Name())
	}
	for _, ch := range fw.used[c] {
		if ch != nil {
			ch.freed = true
		}
	}
	delete(fw.used, c)
	fw.chips = append(fw.chips[:i], fw.chips[i+1:]...)
	c.setBase(-1)
	return nil
}

func (fw *Framework) index(c *Chip) int {
	for i, cc := range fw.chips {
		if cc == c {
			return i
		}
	}
	return -1
}

// Chips returns the registered chips, sorted by base.
func (fw *Framework) Chips() []*Chip {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]*Chip(nil), fw.chips...)
}

// NumChannels returns the number of global channel numbers in use,
// including gaps.
func (fw *Framework) NumChannels() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.chips) == 0 {
		return 0
	}
	last := fw.chips[len(fw.chips)-1]
	return last.base + last.nchans
}

// Request returns the channel with the global number n.
func (fw *Framework) Request(n int, label string) (*Channel, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	i := sort.Search(len(fw.chips), func(i int) bool {
		c := fw.chips[i]
		return c.base+c.nchans > n
	})
	if n < 0 || i == len(fw.chips) || fw.chips[i].base > n {
		return nil, fmt.Errorf("pwm: no chip for channel %d: %w", n, ErrInvalidChannel)
	}
	c := fw.chips[i]
	return fw.request(c, n-c.base, label)
}

// Xlate resolves a device-tree style specifier into a channel of c:
//
//	args[0]: channel index
//	args[1]: period in nanoseconds (AddrCells >= 2)
//	args[2]: flags, bit 0 requests an inverted output (AddrCells >= 3)
func (fw *Framework) Xlate(c *Chip, args []uint32, label string) (*Channel, error) {
	if len(args) < c.cells {
		return nil, fmt.Errorf("pwm: chip %q needs %d cells, got %d", c.Name(), c.cells, len(args))
	}

	fw.mu.Lock()
	if fw.index(c) < 0 {
		fw.mu.Unlock()
		return nil, fmt.Errorf("pwm: chip %q not registered: %w", c.Name(), ErrNotRegistered)
	}
	ch, err := fw.request(c, int(args[0]), label)
	fw.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if c.cells >= 3 && args[2]&xlateInverted != 0 {
		err = ch.SetPolarity(PolarityInversed)
		if err != nil {
			_ = ch.Free()
			return nil, err
		}
	}

	if c.cells >= 2 {
		ch.periodNs = uint64(args[1])
	}

	return ch, nil
}

const xlateInverted = 1 << 0

// request must be called with fw.mu held.
func (fw *Framework) request(c *Chip, idx int, label string) (*Channel, error) {
	used := fw.used[c]
	if idx < 0 || idx >= len(used) {
		return nil, fmt.Errorf("pwm: chip %q has no channel %d: %w", c.Name(), idx, ErrInvalidChannel)
	}
	if used[idx] != nil {
		return nil, fmt.Errorf("pwm: channel %d of chip %q busy (requested by %q)", idx, c.Name(), used[idx].label)
	}
	ch := &Channel{
		fw:    fw,
		chip:  c,
		idx:   idx,
		label: label,
	}
	used[idx] = ch
	return ch, nil
}

var errChannelFreed = errors.New("pwm: channel freed")

// Channel is a PWM output requested from a Framework.
type Channel struct {
	fw    *Framework
	chip  *Chip
	idx   int
	label string
	freed bool // guarded by fw.mu

	periodNs uint64 // default period from the specifier, if any
}

// Chip returns the chip driving the channel.
func (ch *Channel) Chip() *Chip { return ch.chip }

// Index returns the index of the channel inside its chip.
func (ch *Channel) Index() int { return ch.idx }

// Label returns the consumer label given at request time.
func (ch *Channel) Label() string { return ch.label }

// Period returns the default period from the device-tree specifier, or 0.
func (ch *Channel) Period() uint64 { return ch.periodNs }

func (ch *Channel) valid() error {
	ch.fw.mu.Lock()
	defer ch.fw.mu.Unlock()
	if ch.freed {
		return errChannelFreed
	}
	return nil
}

// Config programs the duty cycle and the period of the channel.
func (ch *Channel) Config(dutyNs, periodNs uint64) error {
	if err := ch.valid(); err != nil {
		return err
	}
	return ch.chip.Config(ch.idx, dutyNs, periodNs)
}

// Enable starts the channel.
func (ch *Channel) Enable() error {
	if err := ch.valid(); err != nil {
		return err
	}
	return ch.chip.Enable(ch.idx)
}

// Disable stops the channel.
func (ch *Channel) Disable() error {
	if err := ch.valid(); err != nil {
		return err
	}
	return ch.chip.Disable(ch.idx)
}

// SetPolarity sets the polarity of the channel.
func (ch *Channel) SetPolarity(p Polarity) error {
	if err := ch.valid(); err != nil {
		return err
	}
	return ch.chip.SetPolarity(ch.idx, p)
}

// State returns the bookkeeping state of the channel.
func (ch *Channel) State() (ChannelState, error) {
	if err := ch.valid(); err != nil {
		return ChannelState{}, err
	}
	return ch.chip.Channel(ch.idx)
}

// Free gives the channel back to the framework.
func (ch *Channel) Free() error {
	ch.fw.mu.Lock()
	defer ch.fw.mu.Unlock()
	if ch.freed {
		return errChannelFreed
	}
	used := ch.fw.used[ch.chip]
	if ch.idx < len(used) && used[ch.idx] == ch {
		used[ch.idx] = nil
	}
	ch.freed = true
	return nil
}
