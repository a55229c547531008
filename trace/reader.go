// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"bufio"
	"fmt"
	"io"

	"github.com/aclements/go-voltmeter/events"
)

// maxCount bounds every count in a header. Larger values mean the file is
// not a trace, or hasGPU was given wrong.
const maxCount = 1 << 16

// maxRecordSize bounds the record size a header may declare.
const maxRecordSize = 64 << 20

// A Reader reads the records of a trace.
type Reader struct {
	Header Header

	r   *bufio.Reader
	buf []byte
}

// NewReader reads the header of the trace in r. hasGPU must match the
// configuration the trace was written with.
func NewReader(r io.Reader, hasGPU bool) (*Reader, error) {
	rd := &Reader{r: bufio.NewReader(r)}
	h := &rd.Header
	h.HasGPU = hasGPU

	nCores, err := rd.count("core count")
	if err != nil {
		return nil, err
	}
	h.Cores = make([]events.CounterSet, nCores)
	for i := range h.Cores {
		if h.Cores[i].Events, err = rd.events(fmt.Sprintf("core %d", i)); err != nil {
			return nil, err
		}
	}
	if hasGPU {
		nGroups, err := rd.count("GPU group count")
		if err != nil {
			return nil, err
		}
		h.GPU = make([]events.Group, nGroups)
		for i := range h.GPU {
			g := &h.GPU[i]
			nEvents, err := rd.count(fmt.Sprintf("GPU group %d event count", i))
			if err != nil {
				return nil, err
			}
			if g.Instances, err = rd.count(fmt.Sprintf("GPU group %d instance count", i)); err != nil {
				return nil, err
			}
			if g.Events, err = rd.eventIDs(nEvents, fmt.Sprintf("GPU group %d", i)); err != nil {
				return nil, err
			}
		}
	}
	if h.NumRails, err = rd.count("power rail count"); err != nil {
		return nil, err
	}
	size := h.RecordSize()
	if size > maxRecordSize {
		return nil, fmt.Errorf("corrupt trace header: record size %d exceeds %d", size, maxRecordSize)
	}
	rd.buf = make([]byte, size)
	return rd, nil
}

func (rd *Reader) read(n int, what string) ([]byte, error) {
	if cap(rd.buf) < n {
		rd.buf = make([]byte, n)
	}
	b := rd.buf[:n]
	if _, err := io.ReadFull(rd.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("error reading trace header %s: %w", what, err)
	}
	return b, nil
}

func (rd *Reader) count(what string) (int, error) {
	b, err := rd.read(4, what)
	if err != nil {
		return 0, err
	}
	n := order.Uint32(b)
	if n > maxCount {
		return 0, fmt.Errorf("corrupt trace header: %s is %d", what, n)
	}
	return int(n), nil
}

func (rd *Reader) events(what string) ([]events.Event, error) {
	n, err := rd.count(what + " event count")
	if err != nil {
		return nil, err
	}
	return rd.eventIDs(n, what)
}

func (rd *Reader) eventIDs(n int, what string) ([]events.Event, error) {
	b, err := rd.read(4*n, what+" events")
	if err != nil {
		return nil, err
	}
	evs := make([]events.Event, n)
	for i := range evs {
		evs[i] = events.Event(order.Uint32(b[4*i:]))
	}
	return evs, nil
}

// Next returns the next record. At the end of the trace it returns io.EOF. A
// trace that ends inside a record returns io.ErrUnexpectedEOF.
func (rd *Reader) Next() (*Record, error) {
	b := rd.buf[:rd.Header.RecordSize()]
	if _, err := io.ReadFull(rd.r, b); err != nil {
		return nil, err
	}
	r := rd.Header.NewRecord()
	d := bufDecoder{b}
	for i := range r.Cores {
		c := &r.Cores[i]
		c.Freq = d.u32()
		d.u32s(c.Counters)
		c.Cycles = d.u64()
	}
	if rd.Header.HasGPU {
		r.GPUFreq = d.u32()
		for _, vals := range r.GPU {
			d.u64s(vals)
		}
	}
	d.u32s(r.Power)
	r.OverheadNs = d.u64()
	return r, nil
}
