// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"bufio"
	"fmt"
	"io"
)

// A Writer writes a trace. It is not safe for concurrent use.
//
// A record is written in two steps: [Writer.BeginRecord] writes the samples
// and [Writer.EndRecord] appends the overhead of the tick, which is only
// known once the samples are written.
type Writer struct {
	w   *bufio.Writer
	hdr *Header
	enc bufEncoder

	inRecord bool
	records  int
}

// NewWriter returns a Writer that writes to w. The caller must call
// [Writer.Flush] when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteHeader writes the trace header. It must be called exactly once,
// before any record.
func (w *Writer) WriteHeader(h *Header) error {
	if w.hdr != nil {
		return fmt.Errorf("trace header written twice")
	}
	for _, g := range h.GPU {
		if g.Instances < 1 {
			return fmt.Errorf("GPU group of domain %d has %d instances", g.Domain, g.Instances)
		}
	}
	e := &w.enc
	e.buf = e.buf[:0]
	e.u32(uint32(len(h.Cores)))
	for _, c := range h.Cores {
		e.u32(uint32(len(c.Events)))
		for _, ev := range c.Events {
			e.u32(uint32(ev))
		}
	}
	if h.HasGPU {
		e.u32(uint32(len(h.GPU)))
		for _, g := range h.GPU {
			e.u32(uint32(len(g.Events)))
			e.u32(uint32(g.Instances))
			for _, ev := range g.Events {
				e.u32(uint32(ev))
			}
		}
	}
	e.u32(uint32(h.NumRails))
	if _, err := w.w.Write(e.buf); err != nil {
		return err
	}
	hdr := *h
	w.hdr = &hdr
	return nil
}

// BeginRecord writes everything in r except the overhead.
func (w *Writer) BeginRecord(r *Record) error {
	if w.hdr == nil {
		return fmt.Errorf("trace record written before header")
	}
	if w.inRecord {
		return fmt.Errorf("trace record %d not ended", w.records)
	}
	if err := w.hdr.check(r); err != nil {
		return err
	}
	e := &w.enc
	e.buf = e.buf[:0]
	for _, c := range r.Cores {
		e.u32(c.Freq)
		e.u32s(c.Counters)
		e.u64(c.Cycles)
	}
	if w.hdr.HasGPU {
		e.u32(r.GPUFreq)
		for _, vals := range r.GPU {
			e.u64s(vals)
		}
	}
	e.u32s(r.Power)
	if _, err := w.w.Write(e.buf); err != nil {
		return err
	}
	w.inRecord = true
	return nil
}

// EndRecord completes the current record with the tick overhead in
// nanoseconds.
func (w *Writer) EndRecord(overheadNs uint64) error {
	if !w.inRecord {
		return fmt.Errorf("trace record ended without being started")
	}
	var b [8]byte
	order.PutUint64(b[:], overheadNs)
	if _, err := w.w.Write(b[:]); err != nil {
		return err
	}
	w.inRecord = false
	w.records++
	return nil
}

// WriteRecord writes all of r.
func (w *Writer) WriteRecord(r *Record) error {
	if err := w.BeginRecord(r); err != nil {
		return err
	}
	return w.EndRecord(r.OverheadNs)
}

// Records returns the number of complete records written.
func (w *Writer) Records() int {
	return w.records
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
