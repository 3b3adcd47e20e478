// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/axipwm/pwm/internal/regs"
)

const maxChans = 2

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(c *Chip, rw rwer, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return c.readU32(rw, offset)
		},
		w: func(v uint32) {
			c.writeU32(rw, offset, v)
		},
	}
}

type chanRegs struct {
	ctrl   reg32
	period reg32
	duty   reg32
}

type pins struct {
	ch [maxChans]chanRegs
}

func (c *Chip) bind(rw rwer) {
	for i := 0; i < c.nchans; i++ {
		base := int64(i) * regs.CHAN_STRIDE
		c.regs.ch[i] = chanRegs{
			ctrl:   newReg32(c, rw, base+regs.TCSR),
			period: newReg32(c, rw, base+regs.TLR),
			duty:   newReg32(c, rw, base+regs.DUTY),
		}
	}
}

func (c *Chip) readU32(r io.ReaderAt, off int64) uint32 {
	if c.err != nil {
		return 0
	}
	_, c.err = r.ReadAt(c.buf[:4], off)
	if c.err != nil {
		c.err = fmt.Errorf("pwm: could not read register 0x%x: %w", off, c.err)
		return 0
	}
	return binary.LittleEndian.Uint32(c.buf[:4])
}

func (c *Chip) writeU32(w io.WriterAt, off int64, v uint32) {
	if c.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(c.buf[:4], v)
	_, c.err = w.WriteAt(c.buf[:4], off)
	if c.err != nil {
		c.err = fmt.Errorf("pwm: could not write register 0x%x: %w", off, c.err)
		return
	}
}

// The register helpers below must be called with c.mu held.

func (c *Chip) writeInitialConfig() error {
	c.err = nil
	for i := 0; i < c.nchans; i++ {
		c.regs.ch[i].ctrl.w(regs.TCSR_PWM_CONF)
	}
	if c.err != nil {
		return fmt.Errorf("pwm: could not write initial configuration: %w", c.err)
	}
	return nil
}

func (c *Chip) setTiming(ch int, duty, period uint32) error {
	c.err = nil
	c.regs.ch[ch].duty.w(duty)
	c.regs.ch[ch].period.w(period)
	if c.err != nil {
		return fmt.Errorf("pwm: could not set timing of channel %d: %w", ch, c.err)
	}
	return nil
}

func (c *Chip) setEnabled(ch int, on bool) error {
	c.err = nil
	ctrl := c.regs.ch[ch].ctrl.r()
	switch {
	case on:
		ctrl |= regs.TCSR_ENT
	default:
		ctrl &^= regs.TCSR_ENT
	}
	c.regs.ch[ch].ctrl.w(ctrl)
	if c.err != nil {
		return fmt.Errorf("pwm: could not switch channel %d (enable=%v): %w", ch, on, c.err)
	}
	return nil
}

// DumpRegisters writes the control, period and duty registers of every
// channel to w.
func (c *Chip) DumpRegisters(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Registered {
		return ErrNotRegistered
	}

	var (
		buf    = bufio.NewWriter(w)
		err    error
		printf = func(format string, args ...interface{}) {
			_, e := fmt.Fprintf(buf, format, args...)
			if err == nil {
				err = e
			}
		}
	)

	c.err = nil
	printf("chip %q (scaler=%dns):\n", c.dev.Name, c.scaler)
	for i := 0; i < c.nchans; i++ {
		r := &c.regs.ch[i]
		printf("ch[%d]: ctrl=0x%08x period=0x%08x duty=0x%08x\n",
			i, r.ctrl.r(), r.period.r(), r.duty.r(),
		)
	}
	if c.err != nil {
		return fmt.Errorf("pwm: could not read registers: %w", c.err)
	}
	if err != nil {
		return fmt.Errorf("pwm: could not dump registers: %w", err)
	}

	err = buf.Flush()
	if err != nil {
		return fmt.Errorf("pwm: could not flush registers dump: %w", err)
	}
	return nil
}
