// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pmu arms, reads, and disarms hardware performance counters.
//
// There are two kinds of driver. A [CPUDriver] operates on one [Core] at a
// time and is called from that core's sampling thread. A [GPUDriver] drives
// the single GPU of the platform and is only ever called from one thread.
package pmu

import (
	"errors"

	"github.com/aclements/go-voltmeter/events"
)

// ErrEventMismatch is returned when a device reports a different number of
// events than were armed.
var ErrEventMismatch = errors.New("event count mismatch")

// A Core is one physical CPU core and the values last read from it.
type Core struct {
	ID     int
	Events events.CounterSet

	// Last values read by the driver.
	Counters []uint32 // Parallel to Events.Events
	Cycles   uint64
	Freq     uint32 // Hz
}

// NewCores returns the cores of the given CPU pass of cat.
func NewCores(cat *events.CPUEvents, set int) []*Core {
	cores := make([]*Core, cat.NumCores)
	for i := range cores {
		cs := cat.Core(set, i)
		cores[i] = &Core{ID: i, Events: cs, Counters: make([]uint32, len(cs.Events))}
	}
	return cores
}

// A CPUDriver controls the counters of individual cores. Calls for
// different cores may happen concurrently; calls for the same core never do.
type CPUDriver interface {
	// Enable programs c.Events onto c's counters and starts them.
	Enable(c *Core) error
	// Disable stops c's counters and releases them.
	Disable(c *Core) error
	// Read stores the current counter values and the cycle count of c into
	// c.Counters and c.Cycles.
	Read(c *Core) error
	// Reset zeroes c's counters.
	Reset(c *Core) error
	// ReadFrequency stores the current clock of c into c.Freq.
	ReadFrequency(c *Core) error
	Close() error
}

// GroupValues is an armed GPU event group and the values last read from it.
type GroupValues struct {
	events.Group

	// Values holds len(Events)*Instances counters, event-major: the value of
	// event e on instance i is Values[e*Instances+i].
	Values []uint64
}

// A GPUDriver controls the GPU event group sets of a [events.GPUEvents]
// catalog. Only one set may be enabled at a time.
type GPUDriver interface {
	Enable(set int) error
	Disable(set int) error
	// Read reads and resets every group of set into the buffers returned by
	// Groups.
	Read(set int) error
	ReadFrequency() error

	// Groups returns the groups of the enabled set. The result is valid
	// until Disable.
	Groups() []GroupValues
	// Frequency returns the frequency stored by the last ReadFrequency.
	Frequency() uint32

	// Drain blocks until the device has finished all outstanding work.
	Drain() error
	Close() error
}
