// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package pmu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// perfIocFlagGroup applies an ioctl to every event of a group
// (PERF_IOC_FLAG_GROUP).
const perfIocFlagGroup = 1

// A perfGroup is a group of perf events that the kernel schedules onto the
// hardware together. The first attribute is the group leader.
type perfGroup struct {
	f       []*os.File
	nEvents int
	readBuf []byte
}

// openPerfGroup opens attrs as a disabled group on the given pid and CPU.
func openPerfGroup(attrs []unix.PerfEventAttr, pid, cpu int) (*perfGroup, error) {
	if len(attrs) == 0 {
		return nil, fmt.Errorf("empty perf event group")
	}
	g := &perfGroup{nEvents: len(attrs)}

	success := false
	defer func() {
		if !success {
			g.close()
		}
	}()

	leader := -1
	for i := range attrs {
		attr := attrs[i]
		attr.Size = uint32(unsafe.Sizeof(attr))
		if i == 0 {
			attr.Read_format = unix.PERF_FORMAT_GROUP |
				unix.PERF_FORMAT_TOTAL_TIME_ENABLED |
				unix.PERF_FORMAT_TOTAL_TIME_RUNNING
			attr.Bits |= unix.PerfBitDisabled
		}
		fd, err := unix.PerfEventOpen(&attr, pid, cpu, leader, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			return nil, paranoidHint(fmt.Errorf("perf_event_open(type=%d, config=%#x, cpu=%d): %w", attr.Type, attr.Config, cpu, err))
		}
		if i == 0 {
			leader = fd
		}
		// Sibling FDs must stay open for their events to count.
		g.f = append(g.f, os.NewFile(uintptr(fd), "<perf-event>"))
	}

	g.readBuf = make([]byte, groupReadHeader+len(attrs)*8)

	success = true
	return g, nil
}

// paranoidHint adds the setup command to EACCES errors. Counting events of
// other processes needs perf_event_paranoid <= 0.
func paranoidHint(err error) error {
	if !errors.Is(err, syscall.EACCES) {
		return err
	}
	const path = "/proc/sys/kernel/perf_event_paranoid"
	data, err2 := os.ReadFile(path)
	data = bytes.TrimSpace(data)
	if val, err3 := strconv.Atoi(string(data)); err2 != nil || err3 != nil || val > 0 {
		err = fmt.Errorf("%w (consider: echo 0 | sudo tee %s)", err, path)
	}
	return err
}

func (g *perfGroup) ioctl(req uint) error {
	if g == nil || g.f == nil {
		return fmt.Errorf("perf event group is closed")
	}
	return unix.IoctlSetInt(int(g.f[0].Fd()), req, perfIocFlagGroup)
}

func (g *perfGroup) enable() error { return g.ioctl(unix.PERF_EVENT_IOC_ENABLE) }

func (g *perfGroup) disable() error { return g.ioctl(unix.PERF_EVENT_IOC_DISABLE) }

func (g *perfGroup) reset() error { return g.ioctl(unix.PERF_EVENT_IOC_RESET) }

// read stores the value of every event of g into vals and returns the number
// of values the kernel reported.
func (g *perfGroup) read(vals []uint64) (int, error) {
	if g == nil || g.f == nil {
		return 0, fmt.Errorf("perf event group is closed")
	}
	buf := g.readBuf
	n, err := g.f[0].Read(buf)
	if err != nil {
		return 0, err
	}
	return parseGroupRead(buf[:n], g.nEvents, vals)
}

// groupReadHeader is the size of the u64 nr, time_enabled, and time_running
// fields that precede the values of a group read.
const groupReadHeader = 3 * 8

// parseGroupRead decodes a group read of up to nEvents values into vals. It
// is an error if the kernel multiplexed the group off the hardware for part
// of the time it was enabled.
func parseGroupRead(buf []byte, nEvents int, vals []uint64) (int, error) {
	if len(buf) < groupReadHeader {
		return 0, fmt.Errorf("short perf group read: %d bytes", len(buf))
	}
	nr := int(binary.NativeEndian.Uint64(buf[0:]))
	enabled := binary.NativeEndian.Uint64(buf[8:])
	running := binary.NativeEndian.Uint64(buf[16:])
	if running < enabled {
		return 0, fmt.Errorf("%w: perf group ran %dns of %dns enabled; counters were multiplexed", ErrEventMismatch, running, enabled)
	}
	for i := 0; i < len(vals) && i < nr && i < nEvents; i++ {
		off := groupReadHeader + i*8
		if off+8 > len(buf) {
			return 0, fmt.Errorf("short perf group read: %d bytes for %d values", len(buf), nr)
		}
		vals[i] = binary.NativeEndian.Uint64(buf[off:])
	}
	return nr, nil
}

func (g *perfGroup) close() error {
	if g == nil {
		return nil
	}
	var err error
	for _, f := range g.f {
		err = multierr.Append(err, f.Close())
	}
	g.f = nil
	return err
}
