// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package schedule decides how many passes a measurement needs and runs the
// workload under each of them.
package schedule

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/platform"
	"github.com/aclements/go-voltmeter/pmu"
)

// ErrPassCount is returned when a mode cannot run the number of passes the
// requested events need.
var ErrPassCount = errors.New("unsupported number of passes")

// defaultGPUCounters is the number of events a perf GPU PMU is assumed to
// count at once.
const defaultGPUCounters = 4

// Device selects the events of one device.
type Device struct {
	Source Source // NoEvents disables the device
	Events string // Comma-separated events, for CLI
	Config string // Configuration file path, for ConfigFile
}

// Options configures [Setup].
type Options struct {
	Mode     Mode
	Platform *platform.Platform
	CPU, GPU Device

	// CPUDriver and GPUDevice replace the perf_event backends if set.
	CPUDriver pmu.CPUDriver
	GPUDevice pmu.GPUDevice

	// GPUPMU names the perf event source of the GPU when GPUDevice is nil.
	// It defaults to the platform's.
	GPUPMU string
	// GPUCounters is the number of events GPUPMU counts at once.
	GPUCounters int

	Logger *zap.Logger
}

// A Profiler holds everything a measurement needs: the platform, the event
// catalogs of both devices, their drivers, and the power rails.
type Profiler struct {
	mode Mode
	plat *platform.Platform
	log  *zap.Logger

	cpu    pmu.CPUDriver // nil if the CPU is not sampled
	cpuCat *events.CPUEvents
	gpu    *pmu.GPU // nil if the GPU is not sampled
	gpuCat *events.GPUEvents
	power  *platform.PowerRails

	// gpuToken is held by the pass that owns the GPU.
	gpuToken *semaphore.Weighted
}

// Setup clips the device frequencies, builds the event catalogs, opens the
// drivers, and checks that the mode can run the resulting passes. Every
// configuration error is reported here, before any sampling starts.
func Setup(opts Options) (*Profiler, error) {
	if opts.Platform == nil {
		return nil, fmt.Errorf("no platform")
	}
	if opts.CPU.Source == NoEvents && opts.GPU.Source == NoEvents {
		return nil, fmt.Errorf("no device to profile: give an event source for the CPU or the GPU")
	}
	p := &Profiler{
		mode:     opts.Mode,
		plat:     opts.Platform,
		log:      opts.Logger,
		gpuToken: semaphore.NewWeighted(1),
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if err := p.setup(opts); err != nil {
		return nil, multierr.Append(err, p.Close())
	}
	return p, nil
}

func (p *Profiler) setup(opts Options) error {
	if opts.CPU.Source != NoEvents {
		if err := p.setupCPU(opts); err != nil {
			return err
		}
	}
	if opts.GPU.Source != NoEvents {
		if err := p.setupGPU(opts); err != nil {
			return err
		}
	}
	if len(p.plat.Rails) > 0 {
		power, err := platform.OpenPowerRails(p.plat.Rails)
		if err != nil {
			return err
		}
		p.power = power
	}

	return p.checkPasses()
}

// checkPasses reports whether the mode can run the passes the catalogs
// need.
func (p *Profiler) checkPasses() error {
	nCPU, nGPU := p.CPUPasses(), p.GPUPasses()
	p.log.Info("passes",
		zap.String("platform", p.plat.Name),
		zap.Stringer("mode", p.mode),
		zap.Int("cpu", nCPU),
		zap.Int("gpu", nGPU))
	switch p.mode {
	case Profile:
		if nCPU > 1 || nGPU > 1 {
			return fmt.Errorf("%w: profile mode needs a single pass per device, but the events need %d CPU and %d GPU passes (use characterization)",
				ErrPassCount, nCPU, nGPU)
		}
	case Characterization:
		if nCPU > 1 && nGPU > 1 {
			return fmt.Errorf("%w: characterization multiplexes one device at a time, but the events need %d CPU and %d GPU passes",
				ErrPassCount, nCPU, nGPU)
		}
	}
	return nil
}

func (p *Profiler) setupCPU(opts Options) error {
	plat := p.plat
	freq, err := plat.CPUFreq.Clipped()
	if err != nil {
		return fmt.Errorf("reading CPU frequency: %w", err)
	}
	p.log.Info("CPU frequency", zap.Uint32("freq", freq))
	cat := events.NewCPUEvents(plat.NumCores, plat.CountersPerCore, freq)
	switch opts.CPU.Source {
	case AllEvents:
		err = cat.FromAll()
	case ConfigFile:
		var cfg events.CPUConfig
		if cfg, err = readConfig(opts.CPU.Config, events.ParseCPUConfig); err == nil {
			err = cat.FromConfig(cfg)
		}
	case CLI:
		var evs []events.Event
		if evs, err = events.ParseList(opts.CPU.Events); err == nil {
			err = cat.FromList(evs)
		}
	default:
		err = fmt.Errorf("unknown event source %v", opts.CPU.Source)
	}
	if err != nil {
		return err
	}
	p.cpuCat = cat
	for core := 0; core < cat.NumCores; core++ {
		p.log.Debug("CPU events", zap.Int("core", core), zap.Stringer("events", cat.Core(0, core)))
	}

	p.cpu = opts.CPUDriver
	if p.cpu == nil {
		if p.cpu, err = pmu.NewPerfCPU(plat.NumCores, &plat.CPUFreq); err != nil {
			return err
		}
	}
	return nil
}

func (p *Profiler) setupGPU(opts Options) error {
	plat := p.plat
	var freq uint32
	if plat.GPUFreq != nil {
		var err error
		if freq, err = plat.GPUFreq.Clipped(); err != nil {
			return fmt.Errorf("reading GPU frequency: %w", err)
		}
	}

	dev := opts.GPUDevice
	parse := events.ParseList
	if dev == nil {
		name := opts.GPUPMU
		if name == "" {
			name = plat.GPUPMU
		}
		if name == "" {
			return fmt.Errorf("platform %s has no known GPU event source", plat.Name)
		}
		desc, err := events.LookupPMU(name)
		if err != nil {
			return err
		}
		parse = desc.ResolveList
		counters := opts.GPUCounters
		if counters == 0 {
			counters = defaultGPUCounters
		}
		if dev, err = pmu.OpenPerfGPU(name, counters, plat.GPUFreq); err != nil {
			return err
		}
	}
	p.log.Info("GPU frequency", zap.Uint32("freq", freq))
	cat := events.NewGPUEvents(freq)
	p.gpu = pmu.NewGPU(dev, cat)

	var err error
	switch opts.GPU.Source {
	case AllEvents:
		err = cat.FromAll(dev)
	case ConfigFile:
		var cfg events.GPUConfig
		if cfg, err = readConfig(opts.GPU.Config, events.ParseGPUConfig); err == nil {
			err = cat.FromConfig(cfg, dev)
		}
	case CLI:
		var evs []events.Event
		if evs, err = parse(opts.GPU.Events); err == nil {
			err = cat.FromList(evs, dev)
		}
	default:
		err = fmt.Errorf("unknown event source %v", opts.GPU.Source)
	}
	if err != nil {
		return err
	}
	p.gpuCat = cat
	p.log.Debug("GPU events", zap.Stringer("events", events.CounterSet{Events: cat.Events}))
	return nil
}

func readConfig[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	if path == "" {
		return zero, fmt.Errorf("no event configuration file given")
	}
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	cfg, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Mode returns the mode of p.
func (p *Profiler) Mode() Mode { return p.mode }

// CPUEvents returns the CPU catalog, or nil if the CPU is not sampled.
func (p *Profiler) CPUEvents() *events.CPUEvents { return p.cpuCat }

// GPUEvents returns the GPU catalog, or nil if the GPU is not sampled.
func (p *Profiler) GPUEvents() *events.GPUEvents { return p.gpuCat }

// CPUPasses returns the number of CPU passes, or 0 if the CPU is not
// sampled.
func (p *Profiler) CPUPasses() int {
	if p.cpuCat == nil {
		return 0
	}
	return p.cpuCat.NumSets()
}

// GPUPasses returns the number of GPU passes, or 0 if the GPU is not
// sampled.
func (p *Profiler) GPUPasses() int {
	if p.gpuCat == nil {
		return 0
	}
	return p.gpuCat.NumSets()
}

// Close releases the drivers.
func (p *Profiler) Close() error {
	var err error
	if p.cpu != nil {
		err = multierr.Append(err, p.cpu.Close())
	}
	if p.gpu != nil {
		err = multierr.Append(err, p.gpu.Close())
	}
	return err
}
