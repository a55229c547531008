// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schedule

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aclements/go-voltmeter/pmu"
	"github.com/aclements/go-voltmeter/sampler"
	"github.com/aclements/go-voltmeter/trace"
	"github.com/aclements/go-voltmeter/workload"
)

// RunConfig describes how to run the workload in each pass.
type RunConfig struct {
	Benchmark string // Trace file name prefix
	TraceDir  string // Directory for trace files; "" is the working directory
	Args      []string
	Runs      int // Workload runs per pass
	Period    time.Duration
	// NoPin leaves the sampling threads unpinned. By default each thread
	// is pinned to its core for the whole pass.
	NoPin bool
}

// Run runs every pass the mode calls for and returns the paths of the
// traces it wrote, including the trace of a pass that failed after
// recording samples. A pass that fails before its first sample removes its
// trace. In NumPasses mode it runs nothing.
//
// Passes iterate over every CPU set for every GPU set. A pass arms its
// sets, starts the sampler, runs the workload cfg.Runs times, and stops
// the sampler. The GPU is drained after each pass and before the next one
// arms it.
func (p *Profiler) Run(ctx context.Context, cfg RunConfig, w workload.Workload) ([]string, error) {
	if p.mode == NumPasses {
		return nil, nil
	}
	if cfg.Benchmark == "" {
		return nil, fmt.Errorf("no benchmark name")
	}
	if cfg.Runs < 1 {
		return nil, fmt.Errorf("run count %d must be at least 1", cfg.Runs)
	}

	var traces []string
	for gpuSet := 0; gpuSet < max(p.GPUPasses(), 1); gpuSet++ {
		for cpuSet := 0; cpuSet < max(p.CPUPasses(), 1); cpuSet++ {
			path, err := p.runPass(ctx, cfg, w, cpuSet, gpuSet)
			if path != "" {
				traces = append(traces, path)
			}
			if err != nil {
				return traces, err
			}
		}
	}
	return traces, nil
}

func (p *Profiler) runPass(ctx context.Context, cfg RunConfig, w workload.Workload, cpuSet, gpuSet int) (path string, err error) {
	if err := p.gpuToken.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.gpuToken.Release(1)

	f, err := createTrace(cfg.TraceDir, p.traceName(cfg.Benchmark, cpuSet, gpuSet))
	if err != nil {
		return "", err
	}
	path = f.Name()
	tw := trace.NewWriter(f)
	defer func() {
		err = multierr.Combine(err, tw.Flush(), f.Close())
		if err != nil && tw.Records() == 0 {
			// Nothing was sampled. Leave no header-only trace behind.
			err = multierr.Append(err, os.Remove(path))
			path = ""
		}
	}()

	log := p.log.With(zap.String("trace", path))
	scfg := p.samplerConfig(cfg, tw, cpuSet, gpuSet)
	scfg.Logger = log
	if scfg.CPU != nil {
		log = log.With(zap.Int("cpu_set", cpuSet))
	}
	if scfg.GPU != nil {
		log = log.With(zap.Int("gpu_set", gpuSet))
	}

	log.Info("starting pass")
	sess, err := sampler.Start(scfg)
	if err != nil {
		return path, err
	}
	err = multierr.Append(p.replay(ctx, cfg, w, log), sess.Stop())
	if p.gpu != nil {
		err = multierr.Append(err, p.gpu.Drain())
	}
	if err != nil {
		return path, err
	}

	st := sampler.Summarize(sess.Overheads())
	log.Info("pass done",
		zap.Int("records", tw.Records()),
		zap.Duration("overhead_median", st.Median),
		zap.Duration("overhead_max", st.Max))
	return path, nil
}

// samplerConfig returns the sampler configuration of one pass.
func (p *Profiler) samplerConfig(cfg RunConfig, tw *trace.Writer, cpuSet, gpuSet int) sampler.Config {
	scfg := sampler.Config{
		Period: cfg.Period,
		Power:  p.power,
		Trace:  tw,
		Pin:    !cfg.NoPin,
		Logger: p.log,
	}
	if p.cpu != nil {
		scfg.CPU = p.cpu
		scfg.Cores = pmu.NewCores(p.cpuCat, cpuSet)
	}
	if p.gpu != nil {
		scfg.GPU = p.gpu
		scfg.GPUSet = gpuSet
	}
	return scfg
}

// replay runs the workload cfg.Runs times. Every run gets its own copy of
// the arguments.
func (p *Profiler) replay(ctx context.Context, cfg RunConfig, w workload.Workload, log *zap.Logger) error {
	for run := 0; run < cfg.Runs; run++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		code := w.Run(ctx, slices.Clone(cfg.Args))
		log.Debug("workload run",
			zap.Int("run", run),
			zap.Int("exit", code),
			zap.Duration("elapsed", time.Since(start)))
		if code != 0 {
			log.Warn("workload exited with nonzero status", zap.Int("run", run), zap.Int("exit", code))
		}
	}
	return nil
}
