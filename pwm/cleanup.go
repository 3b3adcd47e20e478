// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

type release struct {
	name string
	f    func() error
}

// cleanup is a stack of release actions, one per acquired resource.
type cleanup struct {
	stack []release
}

func (c *cleanup) push(name string, f func() error) {
	c.stack = append(c.stack, release{name: name, f: once(f)})
}

// unwind runs all release actions in reverse acquisition order.
// Every action is run, even if a previous one failed.
func (c *cleanup) unwind(msg *log.Logger) error {
	var errs []error
	for i := len(c.stack) - 1; i >= 0; i-- {
		rel := c.stack[i]
		err := rel.f()
		if err != nil {
			err = fmt.Errorf("pwm: could not %s: %w", rel.name, err)
			msg.Printf("%+v", err)
			errs = append(errs, err)
		}
	}
	c.stack = nil
	return errors.Join(errs...)
}

// once makes f idempotent: only the first call runs f, later calls
// return nil.
func once(f func() error) func() error {
	var o sync.Once
	return func() error {
		var err error
		o.Do(func() { err = f() })
		return err
	}
}
