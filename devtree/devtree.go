// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package devtree discovers PWM timer blocks in a flattened device tree.
package devtree // import "github.com/go-lpc/axipwm/devtree"

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/go-lpc/axipwm/clk"
	"github.com/go-lpc/axipwm/pwm"
	"github.com/platinasystems/fdt"
)

// DefaultFile is the device tree exposed by the running kernel.
const DefaultFile = "/sys/firmware/fdt"

const fdtMagic = 0xd00dfeed

// Node is a timer block described in the device tree.
type Node struct {
	Name        string // unit name, e.g. "timer@42800000"
	Compatible  string // matched binding identifier
	Base        int64
	Span        int64
	ClockHz     uint64 // 0 when no clock-frequency property
	NumChannels int    // 0 selects the driver default
}

// Load reads the device tree blob fname and scans it.
func Load(fname string, compat ...string) ([]Node, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("devtree: could not read device tree: %w", err)
	}
	return Scan(raw, compat...)
}

// Scan returns every node of the dtb blob whose compatible list holds one
// of compat, sorted by base address.
//
// reg is decoded as a single <base size> pair.
func Scan(dtb []byte, compat ...string) (nodes []Node, err error) {
	if len(dtb) < 40 || binary.BigEndian.Uint32(dtb) != fdtMagic {
		return nil, fmt.Errorf("devtree: invalid device tree blob")
	}
	if len(compat) == 0 {
		compat = []string{pwm.Compatible}
	}

	defer func() {
		if e := recover(); e != nil {
			nodes = nil
			err = fmt.Errorf("devtree: malformed device tree blob: %v", e)
		}
	}()

	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	err = t.Parse(dtb)
	if err != nil {
		return nil, fmt.Errorf("devtree: could not parse device tree: %w", err)
	}
	if t.RootNode == nil {
		return nil, fmt.Errorf("devtree: empty device tree")
	}

	var (
		errs []error
		seen = make(map[*fdt.Node]bool)
	)
	for _, id := range compat {
		t.EachProperty("compatible", id, func(n *fdt.Node, name, value string) {
			if seen[n] || !hasString(t, n.Properties[name], id) {
				return
			}
			seen[n] = true
			node, err := decode(t, n, id)
			if err != nil {
				errs = append(errs, err)
				return
			}
			nodes = append(nodes, node)
		})
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Base != nodes[j].Base {
			return nodes[i].Base < nodes[j].Base
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}

func hasString(t *fdt.Tree, raw []byte, v string) bool {
	for _, s := range t.PropStringSlice(raw) {
		if s == v {
			return true
		}
	}
	return false
}

func decode(t *fdt.Tree, n *fdt.Node, id string) (Node, error) {
	node := Node{
		Name:       n.Name,
		Compatible: id,
	}

	reg, ok := n.Properties["reg"]
	if !ok {
		return node, fmt.Errorf("devtree: node %q has no reg property", n.Name)
	}
	cells := t.PropUint32Slice(reg)
	if len(cells) != 2 {
		return node, fmt.Errorf("devtree: node %q: invalid reg property (%d cells)", n.Name, len(cells))
	}
	node.Base = int64(cells[0])
	node.Span = int64(cells[1])

	if raw, ok := n.Properties["clock-frequency"]; ok {
		if len(raw) != 4 {
			return node, fmt.Errorf("devtree: node %q: invalid clock-frequency property", n.Name)
		}
		node.ClockHz = uint64(t.PropUint32(raw))
	}

	if raw, ok := n.Properties["xlnx,one-timer-only"]; ok {
		if len(raw) < 4 || t.PropUint32(raw) != 0 {
			node.NumChannels = 1
		}
	}

	return node, nil
}

// Device returns the pwm device for node n, mapped through devmem.
// The clock runs at n.ClockHz; a node without clock-frequency yields a
// device whose clock cannot be acquired.
func (n Node) Device(devmem string) pwm.Device {
	return pwm.Device{
		Name:       n.Name,
		Compatible: n.Compatible,
		Mem:        &pwm.Resource{Base: n.Base, Span: n.Span},
		Mapper:     pwm.DevMem(devmem),
		Clock: func() (pwm.Clock, error) {
			if n.ClockHz == 0 {
				return nil, fmt.Errorf("devtree: node %q has no clock-frequency", n.Name)
			}
			return clk.Fixed(n.Name, n.ClockHz), nil
		},
	}
}
