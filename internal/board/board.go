// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package board loads the description of the PWM chips of a board.
package board // import "github.com/go-lpc/axipwm/internal/board"

import (
	"fmt"
	"io"

	"github.com/go-lpc/axipwm/clk"
	"github.com/go-lpc/axipwm/pwm"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)

// Config describes the PWM chips of a board.
type Config struct {
	// DevMem is the file physical memory is mapped from.
	DevMem string `koanf:"devmem" yaml:"devmem"`

	// DTB, when set, is a device tree blob chips are discovered from,
	// in addition to Chips.
	DTB string `koanf:"dtb" yaml:"dtb,omitempty"`

	Chips []Chip `koanf:"chips" yaml:"chips"`
}

// Chip describes one timer block.
type Chip struct {
	Name       string `koanf:"name" yaml:"name"`
	Compatible string `koanf:"compatible" yaml:"compatible,omitempty"`
	Base       int64  `koanf:"base" yaml:"base"`
	Span       int64  `koanf:"span" yaml:"span,omitempty"`

	// ClockHz is the fixed rate of the timer clock.
	// ClockFile, when set, is read for the rate instead.
	ClockHz   uint64 `koanf:"clock-hz" yaml:"clock-hz,omitempty"`
	ClockFile string `koanf:"clock-file" yaml:"clock-file,omitempty"`

	// Channels overrides the number of channels of the driver (1 or 2).
	Channels int `koanf:"channels" yaml:"channels,omitempty"`
}

const defaultSpan = 0x10000

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DevMem: "/dev/mem",
		Chips:  []Chip{},
	}
}

// Load reads the YAML board description fname on top of the defaults.
// An empty fname yields the defaults.
func Load(fname string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("board: could not load defaults: %w", err)
	}

	if fname != "" {
		err = k.Load(file.Provider(fname), yaml.Parser())
		if err != nil {
			return Config{}, fmt.Errorf("board: could not load %q: %w", fname, err)
		}
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("board: could not decode %q: %w", fname, err)
	}

	for i := range cfg.Chips {
		c := &cfg.Chips[i]
		if c.Compatible == "" {
			c.Compatible = pwm.Compatible
		}
		if c.Span == 0 {
			c.Span = defaultSpan
		}
		err = c.validate()
		if err != nil {
			return Config{}, fmt.Errorf("board: invalid chip #%d in %q: %w", i, fname, err)
		}
	}

	return cfg, nil
}

// Write encodes cfg as YAML.
func (cfg Config) Write(w io.Writer) error {
	enc := yml.NewEncoder(w)
	defer enc.Close()
	err := enc.Encode(cfg)
	if err != nil {
		return fmt.Errorf("board: could not encode configuration: %w", err)
	}
	return nil
}

func (c Chip) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("chip without a name")
	case c.Base < 0:
		return fmt.Errorf("chip %q: invalid base 0x%x", c.Name, c.Base)
	case c.Span < 0:
		return fmt.Errorf("chip %q: invalid span 0x%x", c.Name, c.Span)
	case c.ClockHz == 0 && c.ClockFile == "":
		return fmt.Errorf("chip %q: no clock", c.Name)
	case c.ClockHz != 0 && c.ClockFile != "":
		return fmt.Errorf("chip %q: both clock-hz and clock-file given", c.Name)
	}
	switch c.Channels {
	case 0, 1, 2:
	default:
		return fmt.Errorf("chip %q: invalid number of channels %d", c.Name, c.Channels)
	}
	return nil
}

// Device returns the pwm device described by c, mapped through devmem.
func (c Chip) Device(devmem string) pwm.Device {
	return pwm.Device{
		Name:       c.Name,
		Compatible: c.Compatible,
		Mem:        &pwm.Resource{Base: c.Base, Span: c.Span},
		Mapper:     pwm.DevMem(devmem),
		Clock: func() (pwm.Clock, error) {
			if c.ClockFile != "" {
				return clk.File(c.Name, c.ClockFile), nil
			}
			return clk.Fixed(c.Name, c.ClockHz), nil
		},
	}
}
