// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sampler samples counters, clocks, and power at a fixed period on
// a pool of per-core threads kept in lockstep by a barrier.
//
// Thread 0 is the owner thread. Besides its own core, it alone touches the
// GPU, the power rails, and the trace, and it paces the ticks. Each tick
// passes three barriers: after every thread has sampled (B), after the owner
// has written the samples (C), and after the owner has slept out the rest of
// the period (D). A fourth barrier (A) separates arming from the first tick.
package sampler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marusama/cyclicbarrier"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aclements/go-voltmeter/platform"
	"github.com/aclements/go-voltmeter/pmu"
	"github.com/aclements/go-voltmeter/trace"
)

// Config describes one sampling session.
type Config struct {
	Period time.Duration

	// CPU samples Cores, one thread per core. If CPU is nil, a single
	// owner thread runs and the trace has no cores.
	CPU   pmu.CPUDriver
	Cores []*pmu.Core

	// GPU, if not nil, samples set GPUSet on the owner thread.
	GPU    pmu.GPUDriver
	GPUSet int

	Power *platform.PowerRails // May be nil
	Trace *trace.Writer

	// Pin pins the thread of each core to that core's CPU.
	Pin bool

	Logger *zap.Logger // nil means no logging
}

// recordHook, if not nil, is called by the owner thread after record tick is
// complete and before it sleeps. Used for testing.
var recordHook func(tick int)

// A Session is a running set of sampling threads.
type Session struct {
	cfg Config
	log *zap.Logger

	// Barriers of the arming phase and of each tick.
	armed, sampled, written, paced cyclicbarrier.CyclicBarrier

	// ctx is canceled if a barrier wait fails, releasing every thread.
	ctx    context.Context
	cancel context.CancelFunc

	wg    sync.WaitGroup
	ready chan struct{}

	// stop is set once by Stop. failed is set by any thread that hits an
	// error. cont is derived from both by the last thread to arrive at
	// barriers A and D, so every thread sees the same value for a tick.
	stop    atomic.Bool
	failed  atomic.Bool
	cont    bool
	started bool // cont as of barrier A

	errs []error // Per thread

	// Owned by the owner thread.
	rec       *trace.Record
	overheads []time.Duration
	stopped   bool
}

// Start arms the counters, writes the trace header, and starts sampling. It
// returns once every thread has armed. If arming fails, Start disarms
// everything and returns the error.
func Start(cfg Config) (*Session, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("bad sampling period %v", cfg.Period)
	}
	if cfg.Trace == nil {
		return nil, fmt.Errorf("no trace writer")
	}
	n := 1
	if cfg.CPU != nil {
		n = len(cfg.Cores)
		if n == 0 {
			return nil, fmt.Errorf("CPU sampling enabled with no cores")
		}
	}
	s := &Session{
		cfg:   cfg,
		log:   cfg.Logger,
		ready: make(chan struct{}),
		errs:  make([]error, n),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.armed = newBarrier(n, func() {
		s.decide()
		s.started = s.cont
		close(s.ready)
	})
	s.sampled = newBarrier(n, nil)
	s.written = newBarrier(n, nil)
	s.paced = newBarrier(n, s.decide)

	s.wg.Add(n)
	for i := 0; i < n; i++ {
		go s.run(i)
	}
	select {
	case <-s.ready:
		if s.started {
			s.log.Debug("sampling started", zap.Int("threads", n), zap.Duration("period", cfg.Period))
			return s, nil
		}
	case <-s.ctx.Done():
	}
	if err := s.Stop(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("sampling stopped before the first tick")
}

// Stop signals the threads to stop after their current tick, waits for them
// to disarm, and returns any error that occurred while sampling.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.stop.Store(true)
	s.wg.Wait()
	s.cancel()
	err := multierr.Combine(s.errs...)
	if err == nil {
		s.log.Debug("sampling stopped", zap.Int("ticks", len(s.overheads)))
	}
	return err
}

// Overheads returns the time each tick spent sampling and writing. It must
// only be called after Stop.
func (s *Session) Overheads() []time.Duration {
	return s.overheads
}

func (s *Session) fail(id int, err error) {
	s.errs[id] = multierr.Append(s.errs[id], err)
	s.failed.Store(true)
}

// decide runs on the last thread to arrive at barriers A and D.
func (s *Session) decide() {
	s.cont = !s.stop.Load() && !s.failed.Load()
}

func (s *Session) run(id int) {
	defer s.wg.Done()
	cfg := &s.cfg
	owner := id == 0

	var core *pmu.Core
	if cfg.CPU != nil {
		core = cfg.Cores[id]
	}
	if cfg.Pin {
		cpu := id
		if core != nil {
			cpu = core.ID
		}
		if err := pinToCPU(cpu); err != nil {
			s.fail(id, err)
		}
	}

	// Arm.
	cpuArmed, gpuArmed := false, false
	if core != nil && !s.failed.Load() {
		if err := cfg.CPU.Enable(core); err != nil {
			s.fail(id, err)
		} else {
			cpuArmed = true
		}
	}
	if owner {
		if cfg.GPU != nil {
			if err := cfg.GPU.Enable(cfg.GPUSet); err != nil {
				s.fail(id, err)
			} else {
				gpuArmed = true
			}
		}
		if cfg.GPU == nil || gpuArmed {
			if err := s.writeHeader(); err != nil {
				s.fail(id, err)
			}
		}
	}

	// Barrier A.
	tick := 0
	for ok := s.await(id, s.armed); ok && s.cont; ok = s.await(id, s.paced) {
		var start time.Time
		if owner {
			start = time.Now()
		}
		good := true
		if core != nil {
			good = s.try(id, cfg.CPU.Read(core)) &&
				s.try(id, cfg.CPU.Reset(core)) &&
				s.try(id, cfg.CPU.ReadFrequency(core))
		}
		if owner && good {
			s.sampleOwner()
		}

		// Barrier B: every core's sample is in place.
		if !s.await(id, s.sampled) {
			break
		}

		begun := false
		if owner && !s.failed.Load() {
			begun = s.try(id, s.beginRecord())
		}

		// Barrier C: the samples are written.
		if !s.await(id, s.written) {
			break
		}

		if owner && begun {
			overhead := time.Since(start)
			if s.try(id, cfg.Trace.EndRecord(uint64(overhead.Nanoseconds()))) {
				s.overheads = append(s.overheads, overhead)
				if recordHook != nil {
					recordHook(tick)
				}
			}
			if overhead < cfg.Period {
				time.Sleep(cfg.Period - overhead)
			}
		}
		tick++
		// Barrier D, pacing is done, is the loop's post statement.
	}

	// Disarm.
	if cpuArmed {
		if err := cfg.CPU.Disable(core); err != nil {
			s.fail(id, err)
		}
	}
	if gpuArmed {
		if err := cfg.GPU.Disable(cfg.GPUSet); err != nil {
			s.fail(id, err)
		}
	}
	if owner && len(s.overheads) > 0 {
		st := Summarize(s.overheads)
		s.log.Debug("sampling overhead",
			zap.Int("ticks", len(s.overheads)),
			zap.Duration("mean", st.Mean),
			zap.Duration("median", st.Median),
			zap.Duration("p99", st.P99),
			zap.Duration("max", st.Max))
	}
}

// try records err, if any, and reports whether err is nil.
func (s *Session) try(id int, err error) bool {
	if err != nil {
		s.fail(id, err)
		return false
	}
	return true
}

// sampleOwner samples the single-instance devices.
func (s *Session) sampleOwner() bool {
	cfg := &s.cfg
	if cfg.GPU != nil {
		if !s.try(0, cfg.GPU.Read(cfg.GPUSet)) || !s.try(0, cfg.GPU.ReadFrequency()) {
			return false
		}
		s.rec.GPUFreq = cfg.GPU.Frequency()
	}
	return s.try(0, cfg.Power.Read(s.rec.Power))
}

// writeHeader writes the trace header and prepares the record that aliases
// the driver buffers.
func (s *Session) writeHeader() error {
	cfg := &s.cfg
	h := &trace.Header{NumRails: cfg.Power.NumRails()}
	s.rec = &trace.Record{Power: make([]uint32, cfg.Power.NumRails())}
	if cfg.CPU != nil {
		for _, c := range cfg.Cores {
			h.Cores = append(h.Cores, c.Events)
			s.rec.Cores = append(s.rec.Cores, trace.CoreSample{Counters: c.Counters})
		}
	}
	if cfg.GPU != nil {
		h.HasGPU = true
		for _, g := range cfg.GPU.Groups() {
			h.GPU = append(h.GPU, g.Group)
			s.rec.GPU = append(s.rec.GPU, g.Values)
		}
	}
	return cfg.Trace.WriteHeader(h)
}

// beginRecord writes the samples of the current tick.
func (s *Session) beginRecord() error {
	for i, c := range s.cfg.Cores {
		if i >= len(s.rec.Cores) {
			break
		}
		cs := &s.rec.Cores[i]
		cs.Freq, cs.Cycles = c.Freq, c.Cycles
	}
	return s.cfg.Trace.BeginRecord(s.rec)
}
