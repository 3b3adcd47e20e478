// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/axipwm/pwm"
)

var _ pwm.Clock = (*Clock)(nil)

func TestFixed(t *testing.T) {
	clk := Fixed("axi", 100_000_000)
	if got, want := clk.Name(), "axi"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}

	rate, err := clk.Rate()
	if err != nil {
		t.Fatalf("could not get rate: %+v", err)
	}
	if got, want := rate, uint64(100_000_000); got != want {
		t.Fatalf("invalid rate: got=%d, want=%d", got, want)
	}

	err = clk.Disable()
	if !errors.Is(err, errDisabled) {
		t.Fatalf("invalid error: %+v", err)
	}

	for i := 0; i < 2; i++ {
		err = clk.Enable()
		if err != nil {
			t.Fatalf("could not enable clock: %+v", err)
		}
	}
	err = clk.Disable()
	if err != nil {
		t.Fatalf("could not disable clock: %+v", err)
	}
	if !clk.Enabled() {
		t.Fatalf("clock should still be enabled")
	}

	err = clk.Release()
	if err == nil {
		t.Fatalf("expected an error releasing an enabled clock")
	}

	err = clk.Disable()
	if err != nil {
		t.Fatalf("could not disable clock: %+v", err)
	}
	if clk.Enabled() {
		t.Fatalf("clock should be disabled")
	}

	err = clk.Release()
	if err != nil {
		t.Fatalf("could not release clock: %+v", err)
	}

	err = clk.Release()
	if !errors.Is(err, errReleased) {
		t.Fatalf("invalid error: %+v", err)
	}
	err = clk.Enable()
	if !errors.Is(err, errReleased) {
		t.Fatalf("invalid error: %+v", err)
	}
	_, err = clk.Rate()
	if !errors.Is(err, errReleased) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestFile(t *testing.T) {
	tmp := t.TempDir()

	for _, tc := range []struct {
		name string
		data string
		want uint64
		fail bool
	}{
		{name: "decimal", data: "50000000\n", want: 50_000_000},
		{name: "hex", data: "0x5f5e100", want: 100_000_000},
		{name: "empty", data: "", fail: true},
		{name: "garbage", data: "fast", fail: true},
		{name: "missing", fail: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(tmp, tc.name)
			if tc.name != "missing" {
				err := os.WriteFile(fname, []byte(tc.data), 0644)
				if err != nil {
					t.Fatalf("could not create rate file: %+v", err)
				}
			}

			clk := File(tc.name, fname)
			got, err := clk.Rate()
			switch {
			case tc.fail:
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			case err != nil:
				t.Fatalf("could not read rate: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid rate: got=%d, want=%d", got, tc.want)
			}
		})
	}

	// rate changes are picked up.
	fname := filepath.Join(tmp, "dyn")
	clk := File("dyn", fname)
	for _, v := range []string{"10", "20"} {
		err := os.WriteFile(fname, []byte(v), 0644)
		if err != nil {
			t.Fatalf("could not write rate file: %+v", err)
		}
		got, err := clk.Rate()
		if err != nil {
			t.Fatalf("could not read rate: %+v", err)
		}
		if want := map[string]uint64{"10": 10, "20": 20}[v]; got != want {
			t.Fatalf("invalid rate: got=%d, want=%d", got, want)
		}
	}
}
