// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aclements/go-voltmeter/internal/logutil"
	"github.com/aclements/go-voltmeter/platform"
	"github.com/aclements/go-voltmeter/schedule"
)

const (
	flagPlatformName    = "platform"
	flagCPUName         = "cpu"
	flagGPUName         = "gpu"
	flagEventsName      = "events"
	flagConfigCPUName   = "config-cpu"
	flagConfigGPUName   = "config-gpu"
	flagCLICPUName      = "cli-cpu"
	flagCLIGPUName      = "cli-gpu"
	flagPeriodName      = "period"
	flagRunsName        = "runs"
	flagTraceDirName    = "trace-dir"
	flagBenchmarkName   = "benchmark"
	flagGPUPMUName      = "gpu-pmu"
	flagGPUCountersName = "gpu-counters"
	flagPinName         = "pin"
	flagDebugName       = "debug"
)

var (
	flagPlatform    string
	flagCPU         bool
	flagGPU         bool
	flagEvents      string
	flagConfigCPU   string
	flagConfigGPU   string
	flagCLICPU      string
	flagCLIGPU      string
	flagPeriod      time.Duration
	flagRuns        int
	flagTraceDir    string
	flagBenchmark   string
	flagGPUPMU      string
	flagGPUCounters int
	flagPin         bool
	flagDebug       bool
)

var rootCmd = &cobra.Command{
	Use:           "voltmeter",
	Short:         "Sample performance counters and power while a workload runs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logutil.InitLogger(flagDebug)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagPlatform, flagPlatformName, "generic", "board `name`, one of "+strings.Join(platform.Names(), ", "))
	pf.BoolVar(&flagCPU, flagCPUName, false, "sample the CPU cores")
	pf.BoolVar(&flagGPU, flagGPUName, false, "sample the GPU")
	pf.StringVar(&flagEvents, flagEventsName, "cli", "event `source`: all_events, config, or cli")
	pf.StringVar(&flagConfigCPU, flagConfigCPUName, "", "CPU event configuration `file`")
	pf.StringVar(&flagConfigGPU, flagConfigGPUName, "", "GPU event configuration `file`")
	pf.StringVar(&flagCLICPU, flagCLICPUName, "", "comma-separated CPU `events`, core-major")
	pf.StringVar(&flagCLIGPU, flagCLIGPUName, "", "comma-separated GPU `events`")
	pf.DurationVar(&flagPeriod, flagPeriodName, 100*time.Millisecond, "sampling period")
	pf.IntVar(&flagRuns, flagRunsName, 3, "workload runs per pass")
	pf.StringVar(&flagTraceDir, flagTraceDirName, "", "`directory` for trace files (default working directory)")
	pf.StringVar(&flagBenchmark, flagBenchmarkName, "", "trace file name prefix (default workload name)")
	pf.StringVar(&flagGPUPMU, flagGPUPMUName, "", "perf event source `name` of the GPU (default per platform)")
	pf.IntVar(&flagGPUCounters, flagGPUCountersName, 0, "events the GPU event source counts at once (default 4)")
	pf.BoolVar(&flagPin, flagPinName, true, "pin each sampling thread to its core (--pin=false to disable)")
	pf.BoolVar(&flagDebug, flagDebugName, false, "enable debug logging")

	rootCmd.AddCommand(profileCmd, characterizeCmd, passesCmd, dumpCmd)
}

// device returns the event selection of one device from the flags.
func device(enabled bool, src schedule.Source, config, list, name string) (schedule.Device, error) {
	if !enabled {
		return schedule.Device{}, nil
	}
	d := schedule.Device{Source: src, Config: config, Events: list}
	switch src {
	case schedule.ConfigFile:
		if config == "" {
			return d, fmt.Errorf("--%s=config requires --config-%s", flagEventsName, name)
		}
	case schedule.CLI:
		if list == "" {
			return d, fmt.Errorf("--%s=cli requires --cli-%s", flagEventsName, name)
		}
	}
	return d, nil
}

// setup validates the device flags and prepares a profiler in mode.
func setup(mode schedule.Mode) (*schedule.Profiler, error) {
	if !flagCPU && !flagGPU {
		return nil, fmt.Errorf("nothing to sample: give --%s, --%s, or both", flagCPUName, flagGPUName)
	}
	src, err := schedule.ParseSource(flagEvents)
	if err != nil {
		return nil, err
	}
	if src == schedule.NoEvents {
		return nil, fmt.Errorf("--%s=%s samples nothing", flagEventsName, src)
	}
	if flagCPU && src == schedule.AllEvents {
		return nil, fmt.Errorf("--%s=%s is not supported for the CPU", flagEventsName, src)
	}
	plat, err := platform.Lookup(flagPlatform)
	if err != nil {
		return nil, err
	}

	opts := schedule.Options{
		Mode:        mode,
		Platform:    plat,
		GPUPMU:      flagGPUPMU,
		GPUCounters: flagGPUCounters,
		Logger:      logutil.GetLogger(),
	}
	if opts.CPU, err = device(flagCPU, src, flagConfigCPU, flagCLICPU, "cpu"); err != nil {
		return nil, err
	}
	if opts.GPU, err = device(flagGPU, src, flagConfigGPU, flagCLIGPU, "gpu"); err != nil {
		return nil, err
	}
	return schedule.Setup(opts)
}
