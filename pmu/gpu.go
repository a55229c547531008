// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pmu

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/aclements/go-voltmeter/events"
)

// A GPUDevice is the vendor counter interface of a GPU.
type GPUDevice interface {
	events.Enumerator

	// SetContinuous switches the device in or out of continuous collection
	// mode, where counters run independently of kernel launches.
	SetContinuous(on bool) error
	// OpenGroup creates and starts a group counting g.Events.
	OpenGroup(g events.Group) (GPUGroup, error)
	// Frequency returns the current device clock in Hz.
	Frequency() (uint32, error)
	// Drain blocks until all work submitted to the device has completed.
	Drain() error
	Close() error
}

// A GPUGroup is a started group of GPU counters.
type GPUGroup interface {
	// NumInstances returns the number of hardware instances the group
	// counts on.
	NumInstances() int
	// ReadAll reads and resets every counter of the group into values, in
	// the layout of [GroupValues.Values]. It returns the number of event IDs
	// the device reported.
	ReadAll(values []uint64) (int, error)
	Close() error
}

// GPU is the [GPUDriver] over a vendor [GPUDevice].
type GPU struct {
	dev GPUDevice
	cat *events.GPUEvents

	active int // Enabled set, or -1
	groups []GPUGroup
	vals   []GroupValues
	freq   uint32
}

// NewGPU returns a driver for the sets of cat on dev.
func NewGPU(dev GPUDevice, cat *events.GPUEvents) *GPU {
	return &GPU{dev: dev, cat: cat, active: -1}
}

// Enable switches the device into continuous mode and starts every group of
// set. The read buffers are sized from each group's event and instance
// counts.
func (g *GPU) Enable(set int) (err error) {
	if g.active >= 0 {
		return fmt.Errorf("GPU set %d enabled while set %d is active", set, g.active)
	}
	if set < 0 || set >= g.cat.NumSets() {
		return fmt.Errorf("GPU set %d out of range (have %d)", set, g.cat.NumSets())
	}
	if err := g.dev.SetContinuous(true); err != nil {
		return errors.Wrap(err, "enabling continuous GPU collection")
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, g.release())
		}
	}()

	for _, grp := range g.cat.Sets[set].Groups {
		h, err := g.dev.OpenGroup(grp)
		if err != nil {
			return errors.Wrapf(err, "opening GPU group of domain %d", grp.Domain)
		}
		g.groups = append(g.groups, h)
		n := h.NumInstances()
		g.vals = append(g.vals, GroupValues{
			Group:  events.Group{Domain: grp.Domain, Instances: n, Events: grp.Events},
			Values: make([]uint64, len(grp.Events)*n),
		})
	}
	g.active = set
	return nil
}

// Disable stops every group of set and releases the read buffers.
func (g *GPU) Disable(set int) error {
	if set != g.active {
		return fmt.Errorf("GPU set %d disabled, but active set is %d", set, g.active)
	}
	return g.release()
}

func (g *GPU) release() error {
	var err error
	for _, h := range g.groups {
		err = multierr.Append(err, h.Close())
	}
	err = multierr.Append(err, g.dev.SetContinuous(false))
	g.groups, g.vals = nil, nil
	g.active = -1
	return err
}

// Read drains the counters of every group of set. Reading resets the
// hardware counters.
func (g *GPU) Read(set int) error {
	if set != g.active {
		return fmt.Errorf("GPU set %d read, but active set is %d", set, g.active)
	}
	for i, h := range g.groups {
		v := &g.vals[i]
		n, err := h.ReadAll(v.Values)
		if err != nil {
			return errors.Wrapf(err, "reading GPU group %d of set %d", i, set)
		}
		if n != len(v.Events) {
			return fmt.Errorf("%w: GPU group %d of set %d returned %d event IDs, expected %d",
				ErrEventMismatch, i, set, n, len(v.Events))
		}
	}
	return nil
}

func (g *GPU) ReadFrequency() error {
	f, err := g.dev.Frequency()
	if err != nil {
		return errors.Wrap(err, "reading GPU frequency")
	}
	g.freq = f
	return nil
}

func (g *GPU) Groups() []GroupValues { return g.vals }

func (g *GPU) Frequency() uint32 { return g.freq }

func (g *GPU) Drain() error {
	return errors.Wrap(g.dev.Drain(), "draining GPU")
}

// Close disables the active set, if any, and closes the device.
func (g *GPU) Close() error {
	var err error
	if g.active >= 0 {
		err = g.release()
	}
	return multierr.Append(err, g.dev.Close())
}
