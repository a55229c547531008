// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace reads and writes voltmeter trace files.
//
// A trace is a header followed by fixed-layout sample records until end of
// file. All values are little-endian.
//
// The header is
//
//	num_cores u32
//	per core: num_events u32, event_id[num_events] u32
//	if the GPU is enabled:
//		num_groups u32
//		per group: num_events u32, num_instances u32, event_id[num_events] u32
//	num_power_rails u32
//
// and each record is
//
//	per core: freq u32, counter[num_events] u32, clock_cycles u64
//	if the GPU is enabled:
//		gpu_freq u32
//		per group: counter[num_events*num_instances] u64
//	power[num_power_rails] u32
//	sampling_overhead_ns u64
//
// A trace does not record whether the GPU section is present. Readers must
// be told.
package trace

import (
	"encoding/binary"
	"fmt"

	"github.com/aclements/go-voltmeter/events"
)

var order = binary.LittleEndian

// Header describes the layout of the records of a trace.
type Header struct {
	Cores []events.CounterSet // One per core; empty if the CPU is not sampled

	HasGPU bool
	GPU    []events.Group // Groups of the GPU set, with instance counts

	NumRails int
}

// RecordSize returns the encoded size in bytes of one record.
func (h *Header) RecordSize() int {
	n := 0
	for _, c := range h.Cores {
		n += 4 + 4*len(c.Events) + 8
	}
	if h.HasGPU {
		n += 4
		for _, g := range h.GPU {
			n += 8 * len(g.Events) * g.Instances
		}
	}
	return n + 4*h.NumRails + 8
}

// NewRecord returns a record with buffers sized for h.
func (h *Header) NewRecord() *Record {
	r := &Record{
		Cores: make([]CoreSample, len(h.Cores)),
		Power: make([]uint32, h.NumRails),
	}
	for i, c := range h.Cores {
		r.Cores[i].Counters = make([]uint32, len(c.Events))
	}
	if h.HasGPU {
		r.GPU = make([][]uint64, len(h.GPU))
		for i, g := range h.GPU {
			r.GPU[i] = make([]uint64, len(g.Events)*g.Instances)
		}
	}
	return r
}

// check reports whether r has the shape declared by h.
func (h *Header) check(r *Record) error {
	if len(r.Cores) != len(h.Cores) {
		return fmt.Errorf("record has %d cores, header has %d", len(r.Cores), len(h.Cores))
	}
	for i, c := range r.Cores {
		if len(c.Counters) != len(h.Cores[i].Events) {
			return fmt.Errorf("core %d: record has %d counters, header has %d", i, len(c.Counters), len(h.Cores[i].Events))
		}
	}
	if h.HasGPU {
		if len(r.GPU) != len(h.GPU) {
			return fmt.Errorf("record has %d GPU groups, header has %d", len(r.GPU), len(h.GPU))
		}
		for i, vals := range r.GPU {
			if want := len(h.GPU[i].Events) * h.GPU[i].Instances; len(vals) != want {
				return fmt.Errorf("GPU group %d: record has %d counters, header has %d", i, len(vals), want)
			}
		}
	}
	if len(r.Power) != h.NumRails {
		return fmt.Errorf("record has %d power values, header has %d rails", len(r.Power), h.NumRails)
	}
	return nil
}

// A Record is one sampling tick.
type Record struct {
	Cores   []CoreSample
	GPUFreq uint32
	GPU     [][]uint64 // Per group, event-major over instances
	Power   []uint32   // mW
	// OverheadNs is the time the tick took to sample and write, in
	// nanoseconds.
	OverheadNs uint64
}

// CoreSample is the sample of one CPU core.
type CoreSample struct {
	Freq     uint32 // Hz
	Counters []uint32
	Cycles   uint64
}
