// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"
)

// ledger records acquisitions and releases of the fake collaborators, in
// call order.
type ledger struct {
	mu  sync.Mutex
	ops []string
	acq int
	rel int
}

func (l *ledger) acquire(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acq++
	l.ops = append(l.ops, "+"+name)
}

func (l *ledger) release(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rel++
	l.ops = append(l.ops, "-"+name)
}

func (l *ledger) balanced() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acq == l.rel
}

func (l *ledger) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeWindow struct {
	mu     sync.Mutex
	mem    []byte
	failW  error
	failR  error
	failC  error
	closed int
	ledger *ledger
}

func newFakeWindow(l *ledger, span int) *fakeWindow {
	return &fakeWindow{mem: make([]byte, span), ledger: l}
}

func (w *fakeWindow) ReadAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failR != nil {
		return 0, w.failR
	}
	if off < 0 || off >= int64(len(w.mem)) {
		return 0, fmt.Errorf("fake: invalid offset %d", off)
	}
	n := copy(p, w.mem[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (w *fakeWindow) WriteAt(p []byte, off int64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failW != nil {
		return 0, w.failW
	}
	if off < 0 || off >= int64(len(w.mem)) {
		return 0, fmt.Errorf("fake: invalid offset %d", off)
	}
	n := copy(w.mem[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	if w.ledger != nil {
		w.ledger.release("window")
	}
	return w.failC
}

func (w *fakeWindow) u32(off int64) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return binary.LittleEndian.Uint32(w.mem[off:])
}

func (w *fakeWindow) setU32(off int64, v uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	binary.LittleEndian.PutUint32(w.mem[off:], v)
}

type fakeMapper struct {
	ledger *ledger
	win    *fakeWindow
	err    error
}

func (m *fakeMapper) Map(res Resource) (Window, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.ledger.acquire("window")
	return m.win, nil
}

type fakeClock struct {
	ledger *ledger
	rate   uint64

	failEnable  error
	failRate    error
	failDisable error
	failRelease error

	enabled bool
}

func (clk *fakeClock) Rate() (uint64, error) {
	if clk.failRate != nil {
		return 0, clk.failRate
	}
	return clk.rate, nil
}

func (clk *fakeClock) Enable() error {
	if clk.failEnable != nil {
		return clk.failEnable
	}
	clk.ledger.acquire("clock-enable")
	clk.enabled = true
	return nil
}

func (clk *fakeClock) Disable() error {
	clk.ledger.release("clock-enable")
	clk.enabled = false
	return clk.failDisable
}

func (clk *fakeClock) Release() error {
	clk.ledger.release("clock")
	return clk.failRelease
}

type fakeHost struct {
	ledger *ledger
	fw     *Framework
	failA  error
	failR  error

	onRemove func() // called before the chip is unregistered, when set
}

func (h *fakeHost) Add(c *Chip) error {
	if h.failA != nil {
		return h.failA
	}
	err := h.fw.Add(c)
	if err != nil {
		return err
	}
	h.ledger.acquire("host")
	return nil
}

func (h *fakeHost) Remove(c *Chip) error {
	if h.onRemove != nil {
		h.onRemove()
	}
	h.ledger.release("host")
	err := h.fw.Remove(c)
	if h.failR != nil {
		return h.failR
	}
	return err
}

// testbed bundles a device wired to fake collaborators.
type testbed struct {
	ledger ledger
	win    *fakeWindow
	mapper *fakeMapper
	clk    *fakeClock
	host   *fakeHost

	clkErr error
}

func newTestbed(rate uint64) *testbed {
	tb := &testbed{}
	tb.win = newFakeWindow(&tb.ledger, 0x100)
	tb.mapper = &fakeMapper{ledger: &tb.ledger, win: tb.win}
	tb.clk = &fakeClock{ledger: &tb.ledger, rate: rate}
	tb.host = &fakeHost{ledger: &tb.ledger, fw: NewFramework()}
	return tb
}

func (tb *testbed) device() Device {
	return Device{
		Name:       "timer@42800000",
		Compatible: Compatible,
		Mem:        &Resource{Base: 0x42800000, Span: 0x100},
		Mapper:     tb.mapper,
		Clock: func() (Clock, error) {
			if tb.clkErr != nil {
				return nil, tb.clkErr
			}
			tb.ledger.acquire("clock")
			return tb.clk, nil
		},
	}
}

func (tb *testbed) probe(v Variant) (*Chip, error) {
	return Probe(tb.device(), v, tb.host, WithLogger(log.New(io.Discard, "pwm: ", 0)))
}
