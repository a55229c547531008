// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// CPUConfig maps a CPU frequency in Hz to the events of each core, indexed by
// core.
type CPUConfig map[uint32][][]Event

// GPUConfig maps a GPU frequency in Hz to the requested GPU events.
type GPUConfig map[uint32][]Event

// UnmarshalJSON accepts an event as a JSON number or as a string in any
// format accepted by [Parse].
func (e *Event) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	ev, err := Parse(s)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// ParseCPUConfig decodes a CPU event configuration of the form
//
//	{ "<frequency_hz>": { "<core_index>": [event, ...], ... }, ... }
//
// Core indexes must be exactly 0 through N-1.
func ParseCPUConfig(r io.Reader) (CPUConfig, error) {
	var raw map[string]map[string][]Event
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("error decoding CPU event configuration: %w", err)
	}
	cfg := make(CPUConfig, len(raw))
	for fs, cores := range raw {
		freq, err := parseFreqKey(fs)
		if err != nil {
			return nil, err
		}
		perCore := make([][]Event, len(cores))
		for cs, evs := range cores {
			core, err := strconv.Atoi(cs)
			if err != nil || core < 0 || core >= len(cores) {
				return nil, fmt.Errorf("frequency %d: bad core index %q (want 0-%d)", freq, cs, len(cores)-1)
			}
			perCore[core] = evs
		}
		cfg[freq] = perCore
	}
	return cfg, nil
}

// ParseGPUConfig decodes a GPU event configuration of the form
//
//	{ "<frequency_hz>": [event, ...], ... }
func ParseGPUConfig(r io.Reader) (GPUConfig, error) {
	var raw map[string][]Event
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("error decoding GPU event configuration: %w", err)
	}
	cfg := make(GPUConfig, len(raw))
	for fs, evs := range raw {
		freq, err := parseFreqKey(fs)
		if err != nil {
			return nil, err
		}
		cfg[freq] = evs
	}
	return cfg, nil
}

func parseFreqKey(s string) (uint32, error) {
	f, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad frequency %q: %w", s, err)
	}
	return uint32(f), nil
}
