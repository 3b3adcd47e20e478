// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package board

import (
	"errors"
	"fmt"

	"github.com/go-lpc/axipwm/devtree"
	"github.com/go-lpc/axipwm/pwm"
	"golang.org/x/sync/errgroup"
)

// Device is a pwm device together with its channel override.
type Device struct {
	pwm.Device
	Channels int
}

// Devices returns the configured chips followed by the ones discovered in
// the device tree, if any.
func (cfg Config) Devices(reg *pwm.Registry) ([]Device, error) {
	devs := make([]Device, 0, len(cfg.Chips))
	seen := make(map[string]bool)
	for _, c := range cfg.Chips {
		if seen[c.Name] {
			return nil, fmt.Errorf("board: duplicate chip %q", c.Name)
		}
		seen[c.Name] = true
		devs = append(devs, Device{Device: c.Device(cfg.DevMem), Channels: c.Channels})
	}

	if cfg.DTB == "" {
		return devs, nil
	}

	nodes, err := devtree.Load(cfg.DTB, reg.Compatibles()...)
	if err != nil {
		return nil, fmt.Errorf("board: could not scan device tree: %w", err)
	}
	for _, n := range nodes {
		if seen[n.Name] {
			continue
		}
		seen[n.Name] = true
		devs = append(devs, Device{Device: n.Device(cfg.DevMem), Channels: n.NumChannels})
	}
	return devs, nil
}

// Probe probes devs, in order, and registers them with host.
// When one probe fails, the chips probed so far are removed and any error
// doing so is joined to the returned one.
func Probe(devs []Device, reg *pwm.Registry, host pwm.Host, opts ...pwm.Option) ([]*pwm.Chip, error) {
	chips := make([]*pwm.Chip, 0, len(devs))
	for _, dev := range devs {
		chip, err := reg.Probe(dev.Device, dev.Channels, host, opts...)
		if err != nil {
			if e := Remove(chips); e != nil {
				err = errors.Join(err, fmt.Errorf("could not remove probed chips: %w", e))
			}
			return nil, fmt.Errorf("board: could not probe %q: %w", dev.Name, err)
		}
		chips = append(chips, chip)
	}
	return chips, nil
}

// Remove removes all chips concurrently.
func Remove(chips []*pwm.Chip) error {
	var (
		grp  errgroup.Group
		errs = make([]error, len(chips))
	)
	for i := range chips {
		i := i
		grp.Go(func() error {
			errs[i] = chips[i].Remove()
			return nil
		})
	}
	_ = grp.Wait()
	return errors.Join(errs...)
}

// Lookup returns the chip named name.
func Lookup(chips []*pwm.Chip, name string) (*pwm.Chip, error) {
	for _, c := range chips {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("board: no chip named %q", name)
}
