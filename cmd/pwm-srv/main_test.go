// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/axipwm/pwm"
)

func newBoard(t *testing.T) (cfg, devmem string) {
	t.Helper()
	var (
		tmp  = t.TempDir()
		pgsz = os.Getpagesize()
	)
	devmem = filepath.Join(tmp, "mem")
	err := os.WriteFile(devmem, make([]byte, 2*pgsz), 0644)
	if err != nil {
		t.Fatalf("could not create fake devmem: %+v", err)
	}

	cfg = filepath.Join(tmp, "board.yaml")
	err = os.WriteFile(cfg, []byte(fmt.Sprintf(`
devmem: %s
chips:
  - name: fan
    base: 0
    span: 0x100
    clock-hz: 100000000
  - name: led
    base: %d
    span: 0x100
    clock-hz: 100000000
    channels: 1
`, devmem, pgsz)), 0644)
	if err != nil {
		t.Fatalf("could not create board file: %+v", err)
	}
	return cfg, devmem
}

func ctrl(t *testing.T, devmem string, off int64) uint32 {
	t.Helper()
	raw, err := os.ReadFile(devmem)
	if err != nil {
		t.Fatalf("could not read fake devmem: %+v", err)
	}
	return binary.LittleEndian.Uint32(raw[off:])
}

func TestServer(t *testing.T) {
	cfg, devmem := newBoard(t)
	pgsz := int64(os.Getpagesize())

	dev := newServer(io.Discard)
	err := dev.configure(cfg)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if nchips, nchans := dev.summary(); nchips != 2 || nchans != 3 {
		t.Fatalf("invalid summary: chips=%d, channels=%d", nchips, nchans)
	}

	err = dev.init([]setting{
		{chip: 0, ch: 1, duty: 200, period: 400},
		{chip: 1, ch: 0, duty: 500, period: 1000},
	})
	if err != nil {
		t.Fatalf("could not init: %+v", err)
	}

	err = dev.switchAll(true)
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}
	for _, tc := range []struct {
		off  int64
		want uint32
	}{
		{0x00, 0x206},
		{0x10, 0x286},
		{pgsz, 0x286},
	} {
		if got := ctrl(t, devmem, tc.off); got != tc.want {
			t.Fatalf("invalid ctrl at 0x%x: got=0x%x, want=0x%x", tc.off, got, tc.want)
		}
	}

	err = dev.switchAll(false)
	if err != nil {
		t.Fatalf("could not stop: %+v", err)
	}
	if got, want := ctrl(t, devmem, 0x10), uint32(0x206); got != want {
		t.Fatalf("invalid ctrl: got=0x%x, want=0x%x", got, want)
	}

	// reconfiguring removes the previous chips first.
	err = dev.configure(cfg)
	if err != nil {
		t.Fatalf("could not reconfigure: %+v", err)
	}
	err = dev.switchAll(true)
	if err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	err = dev.reset()
	if err != nil {
		t.Fatalf("could not reset: %+v", err)
	}
	if nchips, _ := dev.summary(); nchips != 0 {
		t.Fatalf("chips not removed: %d", nchips)
	}
	err = dev.reset()
	if err != nil {
		t.Fatalf("could not reset twice: %+v", err)
	}
}

func TestServerErrors(t *testing.T) {
	cfg, _ := newBoard(t)

	dev := newServer(io.Discard)
	err := dev.configure(cfg + ".missing")
	if err == nil {
		t.Fatalf("expected an error")
	}

	err = dev.configure(cfg)
	if err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	defer dev.reset()

	for _, tc := range []struct {
		name string
		set  setting
		err  error
	}{
		{"chip", setting{chip: 2, ch: 0, duty: 100, period: 200}, nil},
		{"channel", setting{chip: 1, ch: 1, duty: 100, period: 200}, pwm.ErrInvalidChannel},
		{"duty", setting{chip: 0, ch: 0, duty: 300, period: 200}, pwm.ErrInvalidDuty},
		{"small", setting{chip: 0, ch: 0, duty: 10, period: 200}, pwm.ErrDurationTooSmall},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := dev.init([]setting{tc.set})
			switch {
			case err == nil:
				t.Fatalf("expected an error")
			case tc.err != nil && !errors.Is(err, tc.err):
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
			}
		})
	}
}

func TestDecodeSettings(t *testing.T) {
	sets, err := decodeSettings(make([]byte, 4))
	if err != nil {
		t.Fatalf("could not decode empty request: %+v", err)
	}
	if len(sets) != 0 {
		t.Fatalf("invalid settings: %+v", sets)
	}

	raw := make([]byte, 4+16)
	for i, v := range []uint32{1, 1, 0, 500, 1000} {
		binary.LittleEndian.PutUint32(raw[4*i:], v)
	}
	sets, err = decodeSettings(raw)
	if err != nil {
		t.Fatalf("could not decode request: %+v", err)
	}
	if got, want := sets, []setting{{chip: 1, ch: 0, duty: 500, period: 1000}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid settings: got=%+v, want=%+v", got, want)
	}

	for _, raw := range [][]byte{
		nil,
		{1, 2},
		make([]byte, 4+16),
		{0, 0, 0, 0x10},          // count*16 wraps around on 32b
		{0xff, 0xff, 0xff, 0xff}, // count larger than any body
		append([]byte{2, 0, 0, 0}, make([]byte, 16)...),
	} {
		_, err := decodeSettings(raw)
		if err == nil {
			t.Fatalf("expected an error decoding %v", raw)
		}
	}
}

func TestMonitor(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "pmon.log")
	stop, err := monitor(fname, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("could not start monitoring: %+v", err)
	}
	time.Sleep(50 * time.Millisecond)
	stop()

	_, err = os.Stat(fname)
	if err != nil {
		t.Fatalf("could not stat pmon log file: %+v", err)
	}

	_, err = monitor(filepath.Join(t.TempDir(), "missing", "pmon.log"), time.Second)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestHandlers(t *testing.T) {
	cfg, devmem := newBoard(t)

	ctx := tdaq.Context{
		Ctx: context.Background(),
		Msg: log.NewMsgStream("pwm-srv", log.LvlDebug, io.Discard),
	}

	str := func(v string) []byte {
		buf := new(bytes.Buffer)
		enc := tdaq.NewEncoder(buf)
		enc.WriteStr(v)
		return buf.Bytes()
	}
	u32s := func(vs ...uint32) []byte {
		raw := make([]byte, 4*len(vs))
		for i, v := range vs {
			binary.LittleEndian.PutUint32(raw[4*i:], v)
		}
		return raw
	}

	dev := newServer(io.Discard)
	for _, tc := range []struct {
		name string
		f    func(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error
		body []byte
		ctrl uint32 // control word of fan channel 0 afterwards
		fail bool
	}{
		{name: "/config", f: dev.OnConfig, body: str(cfg + ".missing"), fail: true},
		{name: "/config", f: dev.OnConfig, body: str(cfg), ctrl: 0x206},
		{name: "/init", f: dev.OnInit, body: u32s(1, 0, 0), fail: true},
		{name: "/init", f: dev.OnInit, body: u32s(1, 0, 0, 10, 1000), fail: true},
		{name: "/init", f: dev.OnInit, body: u32s(1, 0, 0, 500, 1000), ctrl: 0x206},
		{name: "/start", f: dev.OnStart, ctrl: 0x286},
		{name: "/stop", f: dev.OnStop, ctrl: 0x206},
		{name: "/start", f: dev.OnStart, ctrl: 0x286},
		{name: "/reset", f: dev.OnReset, ctrl: 0x206},
		{name: "/quit", f: dev.OnQuit, ctrl: 0x206},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var resp tdaq.Frame
			err := tc.f(ctx, &resp, tdaq.Frame{Path: tc.name, Body: tc.body})
			switch {
			case tc.fail:
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			case err != nil:
				t.Fatalf("could not handle command: %+v", err)
			}
			if got := ctrl(t, devmem, 0x00); got != tc.ctrl {
				t.Fatalf("invalid ctrl: got=0x%x, want=0x%x", got, tc.ctrl)
			}
		})
	}

	if nchips, _ := dev.summary(); nchips != 0 {
		t.Fatalf("chips not removed: %d", nchips)
	}

	// an empty /config body falls back on the board given on the command line.
	dev.board = cfg
	err := dev.OnConfig(ctx, new(tdaq.Frame), tdaq.Frame{Path: "/config"})
	if err != nil {
		t.Fatalf("could not configure from default board: %+v", err)
	}
	if nchips, nchans := dev.summary(); nchips != 2 || nchans != 3 {
		t.Fatalf("invalid summary: chips=%d, channels=%d", nchips, nchans)
	}
	err = dev.OnQuit(ctx, new(tdaq.Frame), tdaq.Frame{Path: "/quit"})
	if err != nil {
		t.Fatalf("could not quit: %+v", err)
	}
}
