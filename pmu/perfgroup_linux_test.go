// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package pmu

import (
	"encoding/binary"
	"errors"
	"runtime"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/aclements/go-voltmeter/events"
)

// openSoftware opens a group of software clocks on the calling thread.
// Software events are available even where hardware counters are not.
func openSoftware(t *testing.T, n int) *perfGroup {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)

	attrs := make([]unix.PerfEventAttr, n)
	for i := range attrs {
		attrs[i].Type = unix.PERF_TYPE_SOFTWARE
		attrs[i].Config = unix.PERF_COUNT_SW_TASK_CLOCK
	}
	g, err := openPerfGroup(attrs, 0, -1)
	if err != nil {
		t.Skipf("perf events unavailable: %v", err)
	}
	t.Cleanup(func() { g.close() })
	return g
}

func spin() {
	x := 0
	for i := 0; i < 1e6; i++ {
		x += i
	}
	runtime.KeepAlive(x)
}

func TestPerfGroup(t *testing.T) {
	g := openSoftware(t, 2)
	vals := make([]uint64, 2)

	doRead := func() [2]uint64 {
		t.Helper()
		n, err := g.read(vals)
		if err != nil {
			t.Fatal("read failed:", err)
		}
		if n != 2 {
			t.Fatalf("read returned %d values, want 2", n)
		}
		return [2]uint64{vals[0], vals[1]}
	}

	if c := doRead(); c[0] != 0 || c[1] != 0 {
		t.Fatalf("counters are non-zero before starting: %v", c)
	}

	if err := g.enable(); err != nil {
		t.Fatal(err)
	}
	spin()
	c1 := doRead()
	if c1[0] == 0 {
		t.Fatal("counter did not advance while running")
	}

	if err := g.disable(); err != nil {
		t.Fatal(err)
	}
	c2 := doRead()
	spin()
	if c3 := doRead(); c3 != c2 {
		t.Fatal("counter changed while stopped")
	}

	if err := g.reset(); err != nil {
		t.Fatal(err)
	}
	if c := doRead(); c[0] != 0 || c[1] != 0 {
		t.Fatalf("counters are non-zero after reset: %v", c)
	}

	if err := g.close(); err != nil {
		t.Fatal(err)
	}
	if _, err := g.read(vals); err == nil {
		t.Fatal("read of closed group succeeded")
	}
}

// groupRead returns the bytes of a group read.
func groupRead(enabled, running uint64, vals ...uint64) []byte {
	buf := make([]byte, groupReadHeader+8*len(vals))
	binary.NativeEndian.PutUint64(buf[0:], uint64(len(vals)))
	binary.NativeEndian.PutUint64(buf[8:], enabled)
	binary.NativeEndian.PutUint64(buf[16:], running)
	for i, v := range vals {
		binary.NativeEndian.PutUint64(buf[groupReadHeader+8*i:], v)
	}
	return buf
}

func TestParseGroupRead(t *testing.T) {
	vals := make([]uint64, 3)
	n, err := parseGroupRead(groupRead(500, 500, 7, 8, 9), 3, vals)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || vals[0] != 7 || vals[1] != 8 || vals[2] != 9 {
		t.Fatalf("got %d values %v, want 3 values [7 8 9]", n, vals)
	}

	// A group that never ran reports zero times.
	if _, err := parseGroupRead(groupRead(0, 0, 0, 0, 0), 3, vals); err != nil {
		t.Fatalf("idle group: %v", err)
	}

	n, err = parseGroupRead(groupRead(500, 500, 1, 2), 3, vals)
	if err != nil || n != 2 {
		t.Fatalf("short group: got %d, %v", n, err)
	}

	if _, err := parseGroupRead(groupRead(500, 250, 7, 8, 9), 3, vals); !errors.Is(err, ErrEventMismatch) {
		t.Fatalf("multiplexed group: got %v, want %v", err, ErrEventMismatch)
	}
	if _, err := parseGroupRead(make([]byte, 8), 3, vals); err == nil {
		t.Fatal("truncated header: want error")
	}
	if _, err := parseGroupRead(groupRead(500, 500, 7, 8, 9)[:groupReadHeader+8], 3, vals); err == nil {
		t.Fatal("truncated values: want error")
	}
}

func TestEnableCounterSlots(t *testing.T) {
	cpu, err := NewPerfCPU(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cpu.Close()
	c := &Core{
		ID:       0,
		Events:   events.CounterSet{Events: []events.Event{0x10, 0x11}},
		Counters: make([]uint32, 1),
	}
	if err := cpu.Enable(c); !errors.Is(err, ErrEventMismatch) {
		t.Fatalf("Enable: got %v, want %v", err, ErrEventMismatch)
	}
	if len(c.Counters) != 1 {
		t.Fatalf("Enable resized Counters to %d", len(c.Counters))
	}
}
