// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package events

import (
	"fmt"
	"sort"
)

// CPUEvents is the CPU event catalog: for each pass, one CounterSet per core.
//
// Only a single pass is supported. Requests for more events than the cores
// have counters are rejected rather than split across passes.
type CPUEvents struct {
	NumCores        int
	CountersPerCore int
	Frequency       uint32 // Clipped CPU frequency, in Hz

	// Sets[pass][core] is the CounterSet armed on core during pass.
	Sets [][]CounterSet
}

// NewCPUEvents returns an empty catalog for a CPU with the given topology
// running at freq.
func NewCPUEvents(numCores, countersPerCore int, freq uint32) *CPUEvents {
	return &CPUEvents{NumCores: numCores, CountersPerCore: countersPerCore, Frequency: freq}
}

// NumSets returns the number of passes needed to count every event.
func (c *CPUEvents) NumSets() int {
	return len(c.Sets)
}

// Core returns the CounterSet of core in the given pass.
func (c *CPUEvents) Core(set, core int) CounterSet {
	return c.Sets[set][core]
}

// FromList assigns evs to the cores in core-major order: core 0 gets
// evs[0:CountersPerCore], core 1 the next CountersPerCore events, and so on.
// len(evs) must be exactly NumCores*CountersPerCore.
func (c *CPUEvents) FromList(evs []Event) error {
	want := c.NumCores * c.CountersPerCore
	if len(evs) != want {
		return fmt.Errorf("%w: got %d CPU events, expected %d (%d cores x %d counters)",
			ErrEventCount, len(evs), want, c.NumCores, c.CountersPerCore)
	}
	cores := make([]CounterSet, c.NumCores)
	for core := range cores {
		lo := core * c.CountersPerCore
		cores[core].Events = append([]Event(nil), evs[lo:lo+c.CountersPerCore]...)
	}
	c.Sets = [][]CounterSet{cores}
	return nil
}

// FromConfig selects the events configured for the catalog's frequency. Every
// frequency entry of cfg must provide one event list per core of exactly
// CountersPerCore events.
func (c *CPUEvents) FromConfig(cfg CPUConfig) error {
	for _, freq := range sortedKeys(cfg) {
		perCore := cfg[freq]
		if len(perCore) != c.NumCores {
			return fmt.Errorf("%w: frequency %d lists %d cores, expected %d",
				ErrEventCount, freq, len(perCore), c.NumCores)
		}
		for core, evs := range perCore {
			if len(evs) != c.CountersPerCore {
				return fmt.Errorf("%w: frequency %d core %d lists %d events, expected %d",
					ErrEventCount, freq, core, len(evs), c.CountersPerCore)
			}
		}
	}
	perCore, ok := cfg[c.Frequency]
	if !ok {
		return fmt.Errorf("CPU %w: %d Hz is not in the event configuration", ErrFrequencyNotFound, c.Frequency)
	}
	var flat []Event
	for _, evs := range perCore {
		flat = append(flat, evs...)
	}
	return c.FromList(flat)
}

// FromAll is not supported for CPUs: the core PMU cannot enumerate its
// events.
func (c *CPUEvents) FromAll() error {
	return fmt.Errorf("%w: enumerating all events is not supported for CPU", ErrUnsupported)
}

// GPUEvents is the GPU event catalog. Requested events are partitioned into
// group sets by the device's counter domains; each set is one pass.
type GPUEvents struct {
	Frequency uint32 // Clipped GPU frequency, in Hz
	Events    []Event
	Sets      []GroupSet
}

// NewGPUEvents returns an empty catalog for a GPU running at freq.
func NewGPUEvents(freq uint32) *GPUEvents {
	return &GPUEvents{Frequency: freq}
}

// NumSets returns the number of passes needed to count every event.
func (g *GPUEvents) NumSets() int {
	return len(g.Sets)
}

// FromList partitions evs into group sets using the device's domains.
func (g *GPUEvents) FromList(evs []Event, domains Domains) error {
	if len(evs) == 0 {
		return fmt.Errorf("%w: no GPU events requested", ErrEventCount)
	}
	sets, err := Partition(evs, domains)
	if err != nil {
		return err
	}
	g.Events = append([]Event(nil), evs...)
	g.Sets = sets
	return nil
}

// FromConfig selects and partitions the events configured for the catalog's
// frequency.
func (g *GPUEvents) FromConfig(cfg GPUConfig, domains Domains) error {
	evs, ok := cfg[g.Frequency]
	if !ok {
		return fmt.Errorf("GPU %w: %d Hz is not in the event configuration", ErrFrequencyNotFound, g.Frequency)
	}
	return g.FromList(evs, domains)
}

// An Enumerator lists every event a device exposes.
type Enumerator interface {
	Domains
	AllEvents() ([]Event, error)
}

// FromAll requests every event the device exposes.
func (g *GPUEvents) FromAll(dev Enumerator) error {
	evs, err := dev.AllEvents()
	if err != nil {
		return err
	}
	return g.FromList(evs, dev)
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
