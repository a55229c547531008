// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package events describes the hardware events a profiling run counts and
// how they are split into counter sets that the hardware can observe at the
// same time.
package events

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// An Event is a hardware event identifier, as defined by the CPU
// architecture or the GPU vendor. Events are opaque to this package.
type Event uint32

func (e Event) String() string {
	return fmt.Sprintf("0x%02x", uint32(e))
}

var (
	// ErrEventCount is returned when the number of requested events does not
	// match the counter topology of the device.
	ErrEventCount = errors.New("unexpected event count")

	// ErrFrequencyNotFound is returned when an event configuration has no
	// entry for the current device frequency.
	ErrFrequencyNotFound = errors.New("frequency not found")

	// ErrUnsupported is returned for event sources a device cannot use.
	ErrUnsupported = errors.New("unsupported event source")
)

// Parse parses a single event identifier. The value can be decimal, hex, or
// octal.
func Parse(s string) (Event, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad event %q: not a 32-bit number", s)
	}
	return Event(v), nil
}

// ParseList parses a comma-separated list of event identifiers, such as
// "0x10,0x11,17".
func ParseList(list string) ([]Event, error) {
	var evs []Event
	for _, s := range strings.Split(list, ",") {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("error parsing event list %q: empty event", list)
		}
		ev, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("error parsing event list %q: %w", list, err)
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// A CounterSet is an ordered group of events armed on the hardware at the
// same time.
type CounterSet struct {
	Events []Event
}

func (s CounterSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, ev := range s.Events {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ev.String())
	}
	b.WriteByte('}')
	return b.String()
}
