// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pwm-ctl controls the PWM outputs of AXI timer blocks.
//
// Usage:
//
//	pwm-ctl [options] list|dump|enable|disable|config|mkconf
//
// Example:
//
//	$> pwm-ctl -cfg board.yaml -chip fan -ch 1 -duty 500000 -period 1000000 config
//	$> pwm-ctl -cfg board.yaml -chip fan -ch 1 -duty 500000 -period 1000000 enable
//
// enable keeps the channel running until pwm-ctl is interrupted.
package main // import "github.com/go-lpc/axipwm/cmd/pwm-ctl"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-lpc/axipwm"
	"github.com/go-lpc/axipwm/internal/board"
	"github.com/go-lpc/axipwm/pwm"
)

func main() {
	log.SetPrefix("pwm-ctl: ")
	log.SetFlags(0)

	var (
		cfg    = flag.String("cfg", "", "path to YAML board description")
		dtb    = flag.String("dtb", "", "path to device tree blob to scan for timers")
		devmem = flag.String("devmem", "", "path to physical memory device (overrides board description)")
		chip   = flag.String("chip", "", "name of the chip to act on")
		ch     = flag.Int("ch", 0, "channel index inside the chip")
		duty   = flag.Uint64("duty", 0, "duty cycle (ns)")
		period = flag.Uint64("period", 0, "period (ns)")
		vers   = flag.Bool("version", false, "print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: pwm-ctl [options] list|dump|enable|disable|config|mkconf

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *vers {
		v, sum := axipwm.Version()
		fmt.Printf("pwm-ctl %s %s\n", v, sum)
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing action")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, os.Stdout, flag.Arg(0), opts{
		cfg:    *cfg,
		dtb:    *dtb,
		devmem: *devmem,
		chip:   *chip,
		ch:     *ch,
		duty:   *duty,
		period: *period,
	})
	if err != nil {
		log.Fatalf("could not run %q: %+v", flag.Arg(0), err)
	}
}

type opts struct {
	cfg    string
	dtb    string
	devmem string
	chip   string
	ch     int
	duty   uint64
	period uint64
}

// run performs action on the chips of the board.
// An enabled channel keeps running until ctx is done: removing the chips
// stops every channel.
func run(ctx context.Context, w io.Writer, action string, o opts) (err error) {
	cfg, err := board.Load(o.cfg)
	if err != nil {
		return fmt.Errorf("could not load board description: %w", err)
	}
	if o.dtb != "" {
		cfg.DTB = o.dtb
	}
	if o.devmem != "" {
		cfg.DevMem = o.devmem
	}

	if action == "mkconf" {
		return cfg.Write(w)
	}

	reg := pwm.NewRegistry()
	devs, err := cfg.Devices(reg)
	if err != nil {
		return fmt.Errorf("could not build device list: %w", err)
	}
	if len(devs) == 0 {
		return fmt.Errorf("no PWM chip described")
	}

	msg := log.New(w, "pwm: ", 0)
	fw := pwm.NewFramework()
	chips, err := board.Probe(devs, reg, fw, pwm.WithLogger(msg))
	if err != nil {
		return fmt.Errorf("could not probe chips: %w", err)
	}
	defer func() {
		e := board.Remove(chips)
		if e != nil && err == nil {
			err = fmt.Errorf("could not remove chips: %w", e)
		}
	}()

	switch action {
	case "list":
		for _, c := range fw.Chips() {
			fmt.Fprintf(w, "%-20s base=%d channels=%d cells=%d scaler=%dns\n",
				c.Name(), c.Base(), c.NumChannels(), c.AddrCells(), c.Scaler(),
			)
		}
		return nil
	case "dump":
		for _, c := range chips {
			if o.chip != "" && c.Name() != o.chip {
				continue
			}
			err = c.DumpRegisters(w)
			if err != nil {
				return fmt.Errorf("could not dump registers of %q: %w", c.Name(), err)
			}
		}
		return nil
	}

	c, err := board.Lookup(chips, o.chip)
	if err != nil {
		return err
	}

	switch action {
	case "enable":
		if o.period != 0 {
			err = c.Config(o.ch, o.duty, o.period)
			if err != nil {
				break
			}
		}
		err = c.Enable(o.ch)
	case "disable":
		err = c.Disable(o.ch)
	case "config":
		err = c.Config(o.ch, o.duty, o.period)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return fmt.Errorf("could not %s channel %d of %q: %w", action, o.ch, o.chip, err)
	}

	st, err := c.Channel(o.ch)
	if err != nil {
		return fmt.Errorf("could not get state of channel %d of %q: %w", o.ch, o.chip, err)
	}
	fmt.Fprintf(w, "%s[%d]: enabled=%v duty=%dns period=%dns events=%d\n",
		c.Name(), st.Index, st.Enabled, st.DutyNs, st.PeriodNs, st.DutyEvent,
	)

	if st.Enabled {
		<-ctx.Done()
	}
	return nil
}
