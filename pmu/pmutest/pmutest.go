// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pmutest provides in-memory PMU drivers for tests.
package pmutest

import (
	"fmt"
	"sync"

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/pmu"
)

// CPU is a fake [pmu.CPUDriver]. The n'th read of core c reports cycle count
// n*1000+c and counter i as n*100+c*10+i.
type CPU struct {
	Freq uint32

	// Fail, if non-nil, is called before every operation. A non-nil result
	// is returned from the operation.
	Fail func(op string, core int) error

	enabled []bool
	reads   []int
	resets  []int
	closed  bool
}

// NewCPU returns a fake driver for numCores cores running at freq.
func NewCPU(numCores int, freq uint32) *CPU {
	return &CPU{
		Freq:    freq,
		enabled: make([]bool, numCores),
		reads:   make([]int, numCores),
		resets:  make([]int, numCores),
	}
}

func (f *CPU) check(op string, c *pmu.Core, wantEnabled bool) error {
	if c.ID < 0 || c.ID >= len(f.enabled) {
		return fmt.Errorf("%s: core %d out of range", op, c.ID)
	}
	if f.enabled[c.ID] != wantEnabled {
		return fmt.Errorf("%s: core %d enabled=%v", op, c.ID, f.enabled[c.ID])
	}
	if f.Fail != nil {
		return f.Fail(op, c.ID)
	}
	return nil
}

func (f *CPU) Enable(c *pmu.Core) error {
	if err := f.check("enable", c, false); err != nil {
		return err
	}
	f.enabled[c.ID] = true
	return nil
}

func (f *CPU) Disable(c *pmu.Core) error {
	if err := f.check("disable", c, true); err != nil {
		return err
	}
	f.enabled[c.ID] = false
	return nil
}

func (f *CPU) Read(c *pmu.Core) error {
	if err := f.check("read", c, true); err != nil {
		return err
	}
	f.reads[c.ID]++
	n := f.reads[c.ID]
	c.Cycles = uint64(n*1000 + c.ID)
	for i := range c.Counters {
		c.Counters[i] = uint32(n*100 + c.ID*10 + i)
	}
	return nil
}

func (f *CPU) Reset(c *pmu.Core) error {
	if err := f.check("reset", c, true); err != nil {
		return err
	}
	f.resets[c.ID]++
	return nil
}

func (f *CPU) ReadFrequency(c *pmu.Core) error {
	if err := f.check("frequency", c, true); err != nil {
		return err
	}
	c.Freq = f.Freq
	return nil
}

func (f *CPU) Close() error {
	f.closed = true
	return nil
}

// Enabled reports whether core is enabled.
func (f *CPU) Enabled(core int) bool { return f.enabled[core] }

// Reads returns the number of reads of core.
func (f *CPU) Reads(core int) int { return f.reads[core] }

// Resets returns the number of resets of core.
func (f *CPU) Resets(core int) int { return f.resets[core] }

// Closed reports whether Close was called.
func (f *CPU) Closed() bool { return f.closed }

// GPUDevice is a fake [pmu.GPUDevice]. Event e belongs to domain
// e%Domains. The n'th read of a group stores n*1000+j into value j.
type GPUDevice struct {
	Domains   int // Number of counter domains, at least 1
	Counters  int // Counters per domain
	Instances int // Instances of every domain
	Events    []events.Event
	Freq      uint32

	// ShortRead makes every read report one event ID fewer than the group
	// has.
	ShortRead bool

	mu         sync.Mutex
	continuous bool
	users      int // Sets currently in continuous mode
	maxUsers   int
	open       int
	drains     int
	closed     bool
}

func (d *GPUDevice) EventDomain(ev events.Event) (events.Domain, error) {
	id := uint32(ev) % uint32(d.Domains)
	return events.Domain{ID: id, Counters: d.Counters, Instances: d.Instances}, nil
}

func (d *GPUDevice) AllEvents() ([]events.Event, error) { return d.Events, nil }

func (d *GPUDevice) SetContinuous(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on == d.continuous {
		return fmt.Errorf("continuous mode already %v", on)
	}
	d.continuous = on
	if on {
		d.users++
		d.maxUsers = max(d.maxUsers, d.users)
	} else {
		d.users--
	}
	return nil
}

func (d *GPUDevice) OpenGroup(g events.Group) (pmu.GPUGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.continuous {
		return nil, fmt.Errorf("group opened outside continuous mode")
	}
	d.open++
	return &gpuGroup{dev: d, nEvents: len(g.Events), instances: max(d.Instances, 1)}, nil
}

func (d *GPUDevice) Frequency() (uint32, error) { return d.Freq, nil }

func (d *GPUDevice) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drains++
	return nil
}

func (d *GPUDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// OpenGroups returns the number of groups currently open.
func (d *GPUDevice) OpenGroups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// MaxUsers returns the largest number of sets that were enabled at once.
func (d *GPUDevice) MaxUsers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxUsers
}

// Drains returns the number of calls to Drain.
func (d *GPUDevice) Drains() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drains
}

// Closed reports whether Close was called.
func (d *GPUDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type gpuGroup struct {
	dev       *GPUDevice
	nEvents   int
	instances int
	reads     uint64
}

func (g *gpuGroup) NumInstances() int { return g.instances }

func (g *gpuGroup) ReadAll(values []uint64) (int, error) {
	if len(values) != g.nEvents*g.instances {
		return 0, fmt.Errorf("buffer has %d values, want %d", len(values), g.nEvents*g.instances)
	}
	g.reads++
	for j := range values {
		values[j] = g.reads*1000 + uint64(j)
	}
	if g.dev.ShortRead {
		return g.nEvents - 1, nil
	}
	return g.nEvents, nil
}

func (g *gpuGroup) Close() error {
	g.dev.mu.Lock()
	defer g.dev.mu.Unlock()
	g.dev.open--
	return nil
}
