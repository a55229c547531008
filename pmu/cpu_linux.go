// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package pmu

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/aclements/go-voltmeter/platform"
)

// perfCPU counts raw core events with perf_event_open. Each core gets one
// group led by the cycle counter and opened system-wide on that core.
type perfCPU struct {
	freq   *platform.FreqSource
	groups []*perfGroup // Indexed by core ID
	vals   [][]uint64   // Read scratch, indexed by core ID
}

// NewPerfCPU returns a CPU driver for numCores cores that reads per-core
// frequencies from freq.
//
// Counting every task on a core requires kernel.perf_event_paranoid <= 0 or
// CAP_PERFMON.
func NewPerfCPU(numCores int, freq *platform.FreqSource) (CPUDriver, error) {
	if numCores < 1 {
		return nil, fmt.Errorf("bad core count %d", numCores)
	}
	return &perfCPU{
		freq:   freq,
		groups: make([]*perfGroup, numCores),
		vals:   make([][]uint64, numCores),
	}, nil
}

func (p *perfCPU) group(c *Core) (*perfGroup, error) {
	if c.ID < 0 || c.ID >= len(p.groups) {
		return nil, fmt.Errorf("core %d out of range", c.ID)
	}
	if p.groups[c.ID] == nil {
		return nil, fmt.Errorf("core %d is not enabled", c.ID)
	}
	return p.groups[c.ID], nil
}

func (p *perfCPU) Enable(c *Core) error {
	if c.ID < 0 || c.ID >= len(p.groups) {
		return fmt.Errorf("core %d out of range", c.ID)
	}
	if p.groups[c.ID] != nil {
		return fmt.Errorf("core %d is already enabled", c.ID)
	}
	if len(c.Counters) != len(c.Events.Events) {
		return fmt.Errorf("%w: core %d has %d counter slots for %d events", ErrEventMismatch, c.ID, len(c.Counters), len(c.Events.Events))
	}
	attrs := make([]unix.PerfEventAttr, 1+len(c.Events.Events))
	attrs[0].Type = unix.PERF_TYPE_HARDWARE
	attrs[0].Config = unix.PERF_COUNT_HW_CPU_CYCLES
	for i, ev := range c.Events.Events {
		ev.SetAttrs(&attrs[i+1])
	}
	g, err := openPerfGroup(attrs, -1, c.ID)
	if err != nil {
		return errors.Wrapf(err, "enabling counters %s on core %d", c.Events, c.ID)
	}
	if err := multierr.Combine(g.reset(), g.enable()); err != nil {
		return multierr.Append(errors.Wrapf(err, "starting counters on core %d", c.ID), g.close())
	}
	p.groups[c.ID] = g
	p.vals[c.ID] = make([]uint64, len(attrs))
	return nil
}

func (p *perfCPU) Disable(c *Core) error {
	g, err := p.group(c)
	if err != nil {
		return err
	}
	err = multierr.Combine(g.disable(), g.close())
	p.groups[c.ID], p.vals[c.ID] = nil, nil
	return errors.Wrapf(err, "disabling counters on core %d", c.ID)
}

// Read stores the event counts of c. The hardware event counters are 32
// bits wide; only the cycle counter is 64 bits.
func (p *perfCPU) Read(c *Core) error {
	g, err := p.group(c)
	if err != nil {
		return err
	}
	vals := p.vals[c.ID]
	n, err := g.read(vals)
	if err != nil {
		return errors.Wrapf(err, "reading counters on core %d", c.ID)
	}
	if n != len(vals) {
		return fmt.Errorf("%w: core %d returned %d counters, expected %d", ErrEventMismatch, c.ID, n, len(vals))
	}
	c.Cycles = vals[0]
	for i := range c.Counters {
		c.Counters[i] = uint32(vals[i+1])
	}
	return nil
}

func (p *perfCPU) Reset(c *Core) error {
	g, err := p.group(c)
	if err != nil {
		return err
	}
	return errors.Wrapf(g.reset(), "resetting counters on core %d", c.ID)
}

func (p *perfCPU) ReadFrequency(c *Core) error {
	f, err := p.freq.CoreCurrent(c.ID)
	if err != nil {
		return errors.Wrapf(err, "reading frequency of core %d", c.ID)
	}
	c.Freq = f
	return nil
}

// Close releases the counters of any core that is still enabled.
func (p *perfCPU) Close() error {
	var err error
	for i, g := range p.groups {
		if g != nil {
			err = multierr.Append(err, g.close())
			p.groups[i] = nil
		}
	}
	return err
}
