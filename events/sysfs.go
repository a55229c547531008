// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package events

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// The directory and fs.FS of the event source devices. These are variables so
// they can be stubbed by tests.
var (
	sysDir = "/sys/bus/event_source/devices"
	sysFS  = os.DirFS(sysDir)
)

// A PMU is an event source registered by the kernel, such as "armv8_pmuv3"
// for the CPU or "i915" for an integrated GPU.
type PMU struct {
	Name string
	Type uint32 // perf_event_attr.type of events on this PMU

	format map[string]configFormat // Keyed by symbolic field name
	events map[string][]eventParam // Keyed by event name
	cpus   string                  // Content of the cpumask file, if any
}

// configFormat describes where a symbolic field lives in the config word.
// Fields of config1 and config2 are recorded with ext set so that events
// using them can be rejected: an Event only carries config.
type configFormat struct {
	name string
	ext  bool
	bits []bitRange
}

type bitRange struct {
	shift int
	nBits int
}

type eventParam struct {
	k string
	v uint64
}

// LookupPMU returns the description of the named PMU. Descriptions are read
// once and cached.
func LookupPMU(name string) (*PMU, error) {
	return pmus.get(name)
}

var pmus = newLazyMap(readPMU)

func readPMU(name string) (*PMU, error) {
	pmu := &PMU{Name: name}

	typStr, err := fs.ReadFile(sysFS, filepath.Join(name, "type"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("unknown PMU %q", name)
	} else if err != nil {
		return nil, fmt.Errorf("unknown PMU %q: %w", name, err)
	}
	typ, err := strconv.ParseUint(string(bytes.TrimSpace(typStr)), 0, 32)
	if err != nil {
		return nil, fmt.Errorf("error parsing PMU %q type %q: %w", name, string(typStr), err)
	}
	pmu.Type = uint32(typ)

	if cpus, err := fs.ReadFile(sysFS, filepath.Join(name, "cpumask")); err == nil {
		pmu.cpus = string(bytes.TrimSpace(cpus))
	}

	pmu.format = make(map[string]configFormat)
	err = forEachFile(filepath.Join(name, "format"), func(field, data string) error {
		f, err := parseFormat(data)
		if err != nil {
			return err
		}
		f.name = field
		pmu.format[field] = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	// See https://www.kernel.org/doc/Documentation/ABI/testing/sysfs-bus-event_source-devices-events
	pmu.events = make(map[string][]eventParam)
	err = forEachFile(filepath.Join(name, "events"), func(ev, data string) error {
		if strings.Contains(ev, ".") {
			// .scale, .unit, and other special files.
			return nil
		}
		params, err := parseParamList(strings.TrimSpace(data))
		if err != nil {
			return err
		}
		pmu.events[ev] = params
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pmu, nil
}

// Resolve returns the event with the given symbolic name, or the numeric event
// if name is a number.
func (p *PMU) Resolve(name string) (Event, error) {
	if ev, err := Parse(name); err == nil {
		return ev, nil
	}
	params, ok := p.events[name]
	if !ok {
		return 0, fmt.Errorf("unknown event %q on PMU %q", name, p.Name)
	}
	var config uint64
	for _, param := range params {
		f, ok := p.getFormat(param.k)
		if !ok {
			return 0, fmt.Errorf("event %q: unknown parameter %q in description", name, param.k)
		}
		if f.ext {
			return 0, fmt.Errorf("event %q: parameter %q is outside the config word", name, param.k)
		}
		if err := f.set(&config, param.v); err != nil {
			return 0, fmt.Errorf("event %q: %w", name, err)
		}
	}
	if config > 0xffffffff {
		return 0, fmt.Errorf("event %q: config %#x does not fit an event identifier", name, config)
	}
	return Event(config), nil
}

// ResolveList resolves a comma-separated list of event names or numbers.
func (p *PMU) ResolveList(list string) ([]Event, error) {
	var evs []Event
	for _, s := range strings.Split(list, ",") {
		ev, err := p.Resolve(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// Events returns every named event of the PMU, ordered by name. Events that
// cannot be expressed as a single config word are skipped.
func (p *PMU) Events() []Event {
	names := make([]string, 0, len(p.events))
	for name := range p.events {
		names = append(names, name)
	}
	sort.Strings(names)
	var evs []Event
	for _, name := range names {
		if ev, err := p.Resolve(name); err == nil {
			evs = append(evs, ev)
		}
	}
	return evs
}

// FirstCPU returns the CPU that uncore events of this PMU must be opened on,
// from the PMU's cpumask. PMUs without a cpumask return 0.
func (p *PMU) FirstCPU() int {
	s := p.cpus
	if i := strings.IndexAny(s, ",-"); i >= 0 {
		s = s[:i]
	}
	cpu, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return cpu
}

func (p *PMU) getFormat(param string) (configFormat, bool) {
	switch param {
	case "config":
		return configFormat{param, false, []bitRange{{0, 64}}}, true
	case "config1", "config2":
		return configFormat{param, true, []bitRange{{0, 64}}}, true
	}
	f, ok := p.format[param]
	return f, ok
}

// set sets the bits of f in *config to val.
func (f configFormat) set(config *uint64, val uint64) error {
	totalBits := 0
	x := val
	for _, bits := range f.bits {
		totalBits += bits.nBits
		// Shifts of 64 yield 0, so a full-width field has max == ^0.
		max := uint64(1)<<bits.nBits - 1
		*config &^= max << bits.shift
		*config |= (x & max) << bits.shift
		x >>= bits.nBits
	}
	if x != 0 {
		max := uint64(1)<<totalBits - 1
		return fmt.Errorf("parameter %s=%d not in range 0-%d", f.name, val, max)
	}
	return nil
}

// forEachFile calls f for each file under path in sysFS. A missing directory
// is treated as empty.
func forEachFile(path string, f func(name string, data string) error) error {
	ents, err := fs.ReadDir(sysFS, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error reading %s: %w", filepath.Join(sysDir, path), err)
	}
	for _, ent := range ents {
		entPath := filepath.Join(path, ent.Name())
		b, err := fs.ReadFile(sysFS, entPath)
		if err != nil {
			return fmt.Errorf("error reading %s: %w", filepath.Join(sysDir, entPath), err)
		}
		if err := f(ent.Name(), string(b)); err != nil {
			return fmt.Errorf("%w (from %s)", err, filepath.Join(sysDir, entPath))
		}
	}
	return nil
}

// parseFormat parses a format description such as "config:0-7,32-35".
// See https://www.kernel.org/doc/Documentation/ABI/testing/sysfs-bus-event_source-devices-format
func parseFormat(s string) (configFormat, error) {
	s = strings.TrimSpace(s)
	field, ranges, ok := strings.Cut(s, ":")
	if !ok {
		return configFormat{}, fmt.Errorf("error parsing format %q", s)
	}
	var format configFormat
	switch field {
	case "config":
	case "config1", "config2":
		format.ext = true
	default:
		return configFormat{}, fmt.Errorf("error parsing format %q: unknown field %s", s, field)
	}
	for _, r := range strings.Split(ranges, ",") {
		lo, hi, ok := strings.Cut(r, "-")
		shift, err := strconv.Atoi(lo)
		nBits := 1
		if ok {
			hiVal, err2 := strconv.Atoi(hi)
			if err == nil {
				err = err2
			}
			nBits = hiVal - shift + 1
		}
		if err == nil && (shift < 0 || nBits < 1 || shift+nBits > 64) {
			err = fmt.Errorf("bit range %q out of bounds", r)
		}
		if err != nil {
			return configFormat{}, fmt.Errorf("error parsing format %q: %w", s, err)
		}
		format.bits = append(format.bits, bitRange{shift, nBits})
	}
	return format, nil
}

// parseParamList parses a comma-separated list of k strings and k=v pairs.
// Lone keys have value 1.
func parseParamList(list string) ([]eventParam, error) {
	var params []eventParam
	for _, s := range strings.Split(list, ",") {
		k, vs, ok := strings.Cut(s, "=")
		if k == "" {
			return nil, fmt.Errorf("error parsing event param list %q: missing parameter name in %q", list, s)
		}
		if !ok {
			params = append(params, eventParam{k, 1})
			continue
		}
		v, err := strconv.ParseUint(vs, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing event param list %q: parameter %q not a number", list, s)
		}
		params = append(params, eventParam{k, v})
	}
	return params, nil
}
