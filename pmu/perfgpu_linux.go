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

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/platform"
)

// perfGPU is a GPUDevice over a GPU that the kernel exposes as a perf event
// source, such as i915. It has a single counter domain with one instance.
type perfGPU struct {
	pmu      *events.PMU
	counters int
	freq     *platform.FreqSource
}

// OpenPerfGPU returns the GPU device for the named perf event source, which
// can count up to counters events at once. If freq is nil, the device
// reports a frequency of 0.
func OpenPerfGPU(pmuName string, counters int, freq *platform.FreqSource) (GPUDevice, error) {
	pmu, err := events.LookupPMU(pmuName)
	if err != nil {
		return nil, err
	}
	if counters < 1 {
		return nil, fmt.Errorf("GPU PMU %s: bad counter count %d", pmuName, counters)
	}
	return &perfGPU{pmu: pmu, counters: counters, freq: freq}, nil
}

func (d *perfGPU) EventDomain(events.Event) (events.Domain, error) {
	return events.Domain{ID: 0, Counters: d.counters, Instances: 1}, nil
}

func (d *perfGPU) AllEvents() ([]events.Event, error) {
	evs := d.pmu.Events()
	if len(evs) == 0 {
		return nil, fmt.Errorf("GPU PMU %s exposes no events", d.pmu.Name)
	}
	return evs, nil
}

// SetContinuous is a no-op: perf counters run whenever they are enabled.
func (d *perfGPU) SetContinuous(bool) error { return nil }

func (d *perfGPU) OpenGroup(grp events.Group) (GPUGroup, error) {
	attrs := make([]unix.PerfEventAttr, len(grp.Events))
	for i, ev := range grp.Events {
		attrs[i].Type = d.pmu.Type
		attrs[i].Config = uint64(ev)
	}
	g, err := openPerfGroup(attrs, -1, d.pmu.FirstCPU())
	if err != nil {
		return nil, errors.Wrapf(err, "GPU PMU %s", d.pmu.Name)
	}
	if err := multierr.Combine(g.reset(), g.enable()); err != nil {
		return nil, multierr.Append(err, g.close())
	}
	return &perfGPUGroup{g: g}, nil
}

func (d *perfGPU) Frequency() (uint32, error) {
	if d.freq == nil {
		return 0, nil
	}
	return d.freq.Current()
}

func (d *perfGPU) Drain() error { return nil }

func (d *perfGPU) Close() error { return nil }

type perfGPUGroup struct {
	g *perfGroup
}

func (g *perfGPUGroup) NumInstances() int { return 1 }

func (g *perfGPUGroup) ReadAll(values []uint64) (int, error) {
	n, err := g.g.read(values)
	if err != nil {
		return 0, err
	}
	return n, g.g.reset()
}

func (g *perfGPUGroup) Close() error {
	return multierr.Combine(g.g.disable(), g.g.close())
}
