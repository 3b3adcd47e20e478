// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pwm-srv starts a TDAQ server driving the PWM outputs of a board.
//
// Usage:
//
//	pwm-srv [tdaq options] [board.yaml]
//
// /config probes the chips of the board, /init programs the channels,
// /start and /stop enable and disable them, /reset and /quit remove the
// chips.
//
// When PWM_SRV_PMON names a file, the resource usage of pwm-srv is
// recorded there.
package main // import "github.com/go-lpc/axipwm/cmd/pwm-srv"

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/axipwm/internal/board"
	"github.com/go-lpc/axipwm/pwm"
	"github.com/sbinet/pmon"
)

func main() {
	cmd := flags.New()

	dev := newServer(os.Stdout)
	if len(cmd.Args) > 0 {
		dev.board = cmd.Args[0]
	}

	if fname := os.Getenv("PWM_SRV_PMON"); fname != "" {
		stop, err := monitor(fname, time.Second)
		if err != nil {
			log.Panicf("could not start monitoring: %+v", err)
		}
		defer stop()
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// monitor records the resource usage of the current process into fname,
// every freq.
func monitor(fname string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not monitor pid=%d: %w", os.Getpid(), err)
	}
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

// setting is the configuration of one channel, as sent with /init.
type setting struct {
	chip   uint32 // index of the chip, in board order
	ch     uint32
	duty   uint32 // ns
	period uint32 // ns
}

type server struct {
	msg   *log.Logger
	board string

	mu    sync.Mutex
	reg   *pwm.Registry
	fw    *pwm.Framework
	chips []*pwm.Chip
	sets  []setting
}

func newServer(w io.Writer) *server {
	return &server{
		msg: log.New(w, "pwm: ", 0),
		reg: pwm.NewRegistry(),
	}
}

func (dev *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	fname := dev.board
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		if v := dec.ReadStr(); v != "" {
			fname = v
		}
	}

	err := dev.configure(fname)
	if err != nil {
		ctx.Msg.Errorf("could not configure board %q: %+v", fname, err)
		return err
	}
	nchips, nchans := dev.summary()
	ctx.Msg.Infof("probed %d chip(s) (%d channels) from %q", nchips, nchans, fname)
	return nil
}

func (dev *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	sets, err := decodeSettings(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not decode /init request: %+v", err)
		return err
	}

	err = dev.init(sets)
	if err != nil {
		ctx.Msg.Errorf("could not initialize channels: %+v", err)
		return err
	}
	return nil
}

func (dev *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := dev.reset()
	if err != nil {
		ctx.Msg.Errorf("could not reset: %+v", err)
		return err
	}
	return nil
}

func (dev *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := dev.switchAll(true)
	if err != nil {
		ctx.Msg.Errorf("could not start channels: %+v", err)
		return err
	}
	return nil
}

func (dev *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	err := dev.switchAll(false)
	if err != nil {
		ctx.Msg.Errorf("could not stop channels: %+v", err)
		return err
	}
	return nil
}

func (dev *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return dev.reset()
}

// decodeSettings decodes a /init request body:
// a uint32 count followed by count (chip, ch, duty, period) uint32 tuples.
func decodeSettings(raw []byte) ([]setting, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("request too short (%d bytes)", len(raw))
	}
	dec := tdaq.NewDecoder(bytes.NewReader(raw))
	n := uint64(dec.ReadU32())
	if want := 4 + 16*n; uint64(len(raw)) != want {
		return nil, fmt.Errorf("invalid request size (got=%d, want=%d)", len(raw), want)
	}
	sets := make([]setting, int(n))
	for i := range sets {
		sets[i] = setting{
			chip:   dec.ReadU32(),
			ch:     dec.ReadU32(),
			duty:   dec.ReadU32(),
			period: dec.ReadU32(),
		}
	}
	return sets, nil
}

func (dev *server) summary() (nchips, nchans int) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.fw == nil {
		return 0, 0
	}
	return len(dev.chips), dev.fw.NumChannels()
}

// configure removes the chips currently probed and probes the ones
// described in fname.
func (dev *server) configure(fname string) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.release()
	if err != nil {
		return err
	}

	cfg, err := board.Load(fname)
	if err != nil {
		return err
	}
	devs, err := cfg.Devices(dev.reg)
	if err != nil {
		return err
	}
	fw := pwm.NewFramework()
	chips, err := board.Probe(devs, dev.reg, fw, pwm.WithLogger(dev.msg))
	if err != nil {
		return err
	}
	dev.fw = fw
	dev.chips = chips
	return nil
}

func (dev *server) init(sets []setting) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	for _, set := range sets {
		if int(set.chip) >= len(dev.chips) {
			return fmt.Errorf("invalid chip index %d (chips=%d)", set.chip, len(dev.chips))
		}
		chip := dev.chips[set.chip]
		err := chip.Config(int(set.ch), uint64(set.duty), uint64(set.period))
		if err != nil {
			return fmt.Errorf("could not configure %q channel %d: %w", chip.Name(), set.ch, err)
		}
	}
	dev.sets = sets
	return nil
}

func (dev *server) switchAll(on bool) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	for _, set := range dev.sets {
		var (
			chip = dev.chips[set.chip]
			err  error
		)
		if on {
			err = chip.Enable(int(set.ch))
		} else {
			err = chip.Disable(int(set.ch))
		}
		if err != nil {
			return fmt.Errorf("could not switch %q channel %d: %w", chip.Name(), set.ch, err)
		}
	}
	return nil
}

func (dev *server) reset() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.release()
}

// release must be called with dev.mu held.
func (dev *server) release() error {
	chips := dev.chips
	dev.chips = nil
	dev.sets = nil
	dev.fw = nil
	return board.Remove(chips)
}
