// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pmu_test

import (
	"errors"
	"testing"

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/pmu"
	"github.com/aclements/go-voltmeter/pmu/pmutest"
)

func newGPU(t *testing.T, dev *pmutest.GPUDevice, evs ...events.Event) *pmu.GPU {
	t.Helper()
	cat := events.NewGPUEvents(dev.Freq)
	if err := cat.FromList(evs, dev); err != nil {
		t.Fatal(err)
	}
	return pmu.NewGPU(dev, cat)
}

func TestGPULifecycle(t *testing.T) {
	dev := &pmutest.GPUDevice{Domains: 2, Counters: 2, Instances: 3, Freq: 1377000000}
	// Domain 0 gets 0, 2, 4; domain 1 gets 1, 3. Two sets.
	g := newGPU(t, dev, 0, 1, 2, 3, 4)

	if err := g.Read(0); err == nil {
		t.Fatal("read before enable: want error")
	}
	if err := g.Enable(2); err == nil {
		t.Fatal("enable of nonexistent set: want error")
	}

	if err := g.Enable(0); err != nil {
		t.Fatal(err)
	}
	if err := g.Enable(1); err == nil {
		t.Fatal("second enable: want error")
	}
	groups := g.Groups()
	if len(groups) != 2 || dev.OpenGroups() != 2 {
		t.Fatalf("got %d groups, %d open, want 2", len(groups), dev.OpenGroups())
	}
	for _, grp := range groups {
		if grp.Instances != 3 || len(grp.Values) != len(grp.Events)*3 {
			t.Errorf("group %+v: want 3 instances and %d values", grp.Group, len(grp.Events)*3)
		}
	}

	if err := g.Read(0); err != nil {
		t.Fatal(err)
	}
	if err := g.Read(0); err != nil {
		t.Fatal(err)
	}
	if v := g.Groups()[0].Values; v[0] != 2000 || v[5] != 2005 {
		t.Errorf("after two reads got %v", v)
	}
	if err := g.ReadFrequency(); err != nil || g.Frequency() != 1377000000 {
		t.Errorf("frequency: got %d, %v", g.Frequency(), err)
	}

	if err := g.Disable(1); err == nil {
		t.Error("disable of inactive set: want error")
	}
	if err := g.Disable(0); err != nil {
		t.Fatal(err)
	}
	if g.Groups() != nil || dev.OpenGroups() != 0 {
		t.Errorf("buffers or groups left after disable")
	}

	// Set 1 holds the events that did not fit in set 0.
	if err := g.Enable(1); err != nil {
		t.Fatal(err)
	}
	if n := len(g.Groups()); n != 1 {
		t.Errorf("set 1: got %d groups, want 1", n)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}
	if dev.OpenGroups() != 0 || !dev.Closed() {
		t.Error("Close left the device open")
	}
	if dev.MaxUsers() != 1 {
		t.Errorf("device had %d sets enabled at once", dev.MaxUsers())
	}
}

func TestGPUEventMismatch(t *testing.T) {
	dev := &pmutest.GPUDevice{Domains: 1, Counters: 4, Instances: 1, ShortRead: true}
	g := newGPU(t, dev, 1, 2)
	if err := g.Enable(0); err != nil {
		t.Fatal(err)
	}
	defer g.Close()
	if err := g.Read(0); !errors.Is(err, pmu.ErrEventMismatch) {
		t.Fatalf("got %v, want %v", err, pmu.ErrEventMismatch)
	}
}

func TestNewCores(t *testing.T) {
	cat := events.NewCPUEvents(2, 3, 0)
	if err := cat.FromList([]events.Event{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}
	cores := pmu.NewCores(cat, 0)
	if len(cores) != 2 {
		t.Fatalf("got %d cores", len(cores))
	}
	for i, c := range cores {
		if c.ID != i || len(c.Counters) != 3 {
			t.Errorf("core %d: %+v", i, c)
		}
	}

	cpu := pmutest.NewCPU(2, 1000)
	c := cores[1]
	if err := cpu.Read(c); err == nil {
		t.Error("read before enable: want error")
	}
	if err := cpu.Enable(c); err != nil {
		t.Fatal(err)
	}
	if err := cpu.Read(c); err != nil {
		t.Fatal(err)
	}
	if c.Cycles != 1001 || c.Counters[2] != 112 {
		t.Errorf("got cycles %d counters %v", c.Cycles, c.Counters)
	}
}
