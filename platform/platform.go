// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform describes the boards voltmeter runs on: their CPU
// topology, where their clocks and power rails are exposed, and how to snap
// a measured clock to an advertised operating point.
package platform

import (
	"fmt"
	"io/fs"
	"runtime"
	"sort"
	"strings"
)

// A Platform is the static description of a board.
type Platform struct {
	Name            string
	NumCores        int
	CountersPerCore int // Programmable counters per core, not counting the cycle counter

	CPUFreq FreqSource
	GPUFreq *FreqSource // nil if the board has no GPU clock

	Rails []Rail

	// GPUPMU is the name of the perf event source of the GPU, if the kernel
	// exposes one.
	GPUPMU string
}

const (
	xavierINA0 = "/sys/bus/i2c/drivers/ina3221x/1-0040/iio:device0/"
	xavierINA1 = "/sys/bus/i2c/drivers/ina3221x/1-0041/iio:device1/"
	xavierGPU  = "/sys/devices/17000000.gv11b/devfreq/17000000.gv11b/"
)

var platforms = map[string]*Platform{
	"jetson_agx_xavier": {
		Name:            "jetson_agx_xavier",
		NumCores:        8,
		CountersPerCore: 3,
		CPUFreq: FreqSource{
			Cur:     "/sys/devices/system/cpu/cpufreq/policy0/cpuinfo_cur_freq",
			CurCore: "/sys/devices/system/cpu/cpu%d/cpufreq/cpuinfo_cur_freq",
			Avail:   "/sys/devices/system/cpu/cpufreq/policy0/scaling_available_frequencies",
			KHz:     true,
		},
		GPUFreq: &FreqSource{
			Cur:   xavierGPU + "cur_freq",
			Avail: xavierGPU + "available_frequencies",
		},
		Rails: []Rail{
			{"GPU", xavierINA0 + "in_power0_input"},
			{"CPU", xavierINA0 + "in_power1_input"},
			{"SOC", xavierINA0 + "in_power2_input"},
			{"CV", xavierINA1 + "in_power0_input"},
			{"VDDRQ", xavierINA1 + "in_power1_input"},
			{"SYS5V", xavierINA1 + "in_power2_input"},
		},
	},
}

// genericCounters is the number of programmable counters assumed on
// platforms without a descriptor. Every ARMv8 and x86 core PMU has at least
// this many.
const genericCounters = 4

// Lookup returns the named platform. The name "generic" returns the
// description detected by [Generic].
func Lookup(name string) (*Platform, error) {
	if name == "generic" {
		return Generic(), nil
	}
	p, ok := platforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	cp := *p
	return &cp, nil
}

// Names returns the names accepted by [Lookup], sorted.
func Names() []string {
	names := []string{"generic"}
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generic describes the running machine using cpufreq. It has no power
// rails and no GPU clock.
func Generic() *Platform {
	const cpufreq = "/sys/devices/system/cpu/cpufreq/policy0/"
	p := &Platform{
		Name:            "generic",
		NumCores:        runtime.NumCPU(),
		CountersPerCore: genericCounters,
		CPUFreq: FreqSource{
			Cur:     cpufreq + "scaling_cur_freq",
			CurCore: "/sys/devices/system/cpu/cpu%d/cpufreq/scaling_cur_freq",
			KHz:     true,
		},
	}
	// intel_pstate and other drivers do not advertise a frequency table.
	avail := cpufreq + "scaling_available_frequencies"
	if _, err := fs.Stat(rootFS, strings.TrimPrefix(avail, "/")); err == nil {
		p.CPUFreq.Avail = avail
	}
	return p
}
