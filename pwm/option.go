// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"log"
	"os"
)

type config struct {
	msg *log.Logger
}

func newConfig() config {
	return config{
		msg: log.New(os.Stdout, "pwm: ", 0),
	}
}

// Option configures a chip at probe time.
type Option func(*config)

// WithLogger sets the logger used to report probe and removal errors.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
