// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schedule

import "fmt"

// Mode selects what a run does with its passes.
type Mode int

const (
	// Profile samples exactly one CPU pass and one GPU pass.
	Profile Mode = iota
	// Characterization samples every combination of CPU and GPU passes.
	// At most one device may need more than one pass.
	Characterization
	// NumPasses only computes the pass counts.
	NumPasses
)

var modeNames = []string{"profile", "characterization", "num_passes"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the name of a mode.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if s == name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q (want profile, characterization, or num_passes)", s)
}

// Source selects where the events of a device come from.
type Source int

const (
	// NoEvents means the device is not sampled.
	NoEvents Source = iota
	// AllEvents requests every event the device exposes.
	AllEvents
	// ConfigFile selects events by frequency from a configuration file.
	ConfigFile
	// CLI takes events from a comma-separated list.
	CLI
)

var sourceNames = []string{"none", "all_events", "config", "cli"}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// ParseSource parses the name of an event source.
func ParseSource(s string) (Source, error) {
	for i, name := range sourceNames {
		if s == name {
			return Source(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event source %q (want all_events, config, or cli)", s)
}
