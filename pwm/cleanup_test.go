// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pwm

import (
	"errors"
	"io"
	"log"
	"reflect"
	"testing"
)

func TestCleanup(t *testing.T) {
	var (
		msg   = log.New(io.Discard, "", 0)
		ops   []string
		stack cleanup
		err1  = errors.New("err-1")
		err3  = errors.New("err-3")
	)

	stack.push("op-1", func() error { ops = append(ops, "op-1"); return err1 })
	stack.push("op-2", func() error { ops = append(ops, "op-2"); return nil })
	stack.push("op-3", func() error { ops = append(ops, "op-3"); return err3 })

	err := stack.unwind(msg)
	if !errors.Is(err, err1) || !errors.Is(err, err3) {
		t.Fatalf("invalid unwind error: %+v", err)
	}
	if got, want := ops, []string{"op-3", "op-2", "op-1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid unwind order: got=%q, want=%q", got, want)
	}

	err = stack.unwind(msg)
	if err != nil {
		t.Fatalf("second unwind should be a no-op: %+v", err)
	}
	if got, want := len(ops), 3; got != want {
		t.Fatalf("second unwind ran release actions: %q", ops)
	}
}

func TestOnce(t *testing.T) {
	var (
		n   int
		err = errors.New("boom")
		f   = once(func() error { n++; return err })
	)

	if got := f(); !errors.Is(got, err) {
		t.Fatalf("invalid first call error: %+v", got)
	}
	for i := 0; i < 3; i++ {
		if got := f(); got != nil {
			t.Fatalf("release twice should be a no-op: %+v", got)
		}
	}
	if n != 1 {
		t.Fatalf("release action run %d times", n)
	}
}
