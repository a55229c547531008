// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sampler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aclements/go-moremath/stats"

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/pmu"
	"github.com/aclements/go-voltmeter/pmu/pmutest"
	"github.com/aclements/go-voltmeter/trace"
)

const testCores = 4

func testCores4(t *testing.T) []*pmu.Core {
	t.Helper()
	cat := events.NewCPUEvents(testCores, 3, 0)
	evs := make([]events.Event, testCores*3)
	for i := range evs {
		evs[i] = events.Event(0x10 + i)
	}
	if err := cat.FromList(evs); err != nil {
		t.Fatal(err)
	}
	return pmu.NewCores(cat, 0)
}

func testGPU(t *testing.T) (*pmutest.GPUDevice, *pmu.GPU) {
	t.Helper()
	dev := &pmutest.GPUDevice{Domains: 2, Counters: 4, Instances: 2, Freq: 1377000000}
	cat := events.NewGPUEvents(dev.Freq)
	if err := cat.FromList([]events.Event{1, 2, 3}, dev); err != nil {
		t.Fatal(err)
	}
	return dev, pmu.NewGPU(dev, cat)
}

// setHook installs f as the record hook for the duration of the test.
func setHook(t *testing.T, f func(tick int)) {
	recordHook = f
	t.Cleanup(func() { recordHook = nil })
}

// stopAfter returns a hook that closes the returned channel once n ticks
// have been recorded.
func stopAfter(n int) (func(int), <-chan struct{}) {
	done := make(chan struct{})
	return func(tick int) {
		if tick == n-1 {
			close(done)
		}
	}, done
}

func TestSessionRecords(t *testing.T) {
	hook, done := stopAfter(5)
	setHook(t, hook)

	cpu := pmutest.NewCPU(testCores, 1200000000)
	cores := testCores4(t)
	dev, gpu := testGPU(t)
	var buf bytes.Buffer
	w := trace.NewWriter(&buf)

	s, err := Start(Config{
		Period: time.Millisecond,
		CPU:    cpu,
		Cores:  cores,
		GPU:    gpu,
		Trace:  w,
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < testCores; i++ {
		if cpu.Enabled(i) {
			t.Errorf("core %d still enabled", i)
		}
		if cpu.Reads(i) != cpu.Resets(i) {
			t.Errorf("core %d: %d reads, %d resets", i, cpu.Reads(i), cpu.Resets(i))
		}
	}
	if dev.OpenGroups() != 0 {
		t.Errorf("%d GPU groups left open", dev.OpenGroups())
	}

	rd, err := trace.NewReader(&buf, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(rd.Header.Cores) != testCores || len(rd.Header.GPU) != 2 || rd.Header.NumRails != 0 {
		t.Fatalf("unexpected header %+v", rd.Header)
	}
	overheads := s.Overheads()
	k := 0
	for ; ; k++ {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		// Every value in record k comes from the k+1'th read.
		n := k + 1
		for c, cs := range rec.Cores {
			if cs.Freq != 1200000000 || cs.Cycles != uint64(n*1000+c) {
				t.Fatalf("record %d core %d: freq %d cycles %d", k, c, cs.Freq, cs.Cycles)
			}
			for i, v := range cs.Counters {
				if want := uint32(n*100 + c*10 + i); v != want {
					t.Fatalf("record %d core %d counter %d: got %d, want %d", k, c, i, v, want)
				}
			}
		}
		if rec.GPUFreq != 1377000000 {
			t.Errorf("record %d: GPU frequency %d", k, rec.GPUFreq)
		}
		for g, vals := range rec.GPU {
			for j, v := range vals {
				if want := uint64(n*1000 + j); v != want {
					t.Fatalf("record %d GPU group %d value %d: got %d, want %d", k, g, j, v, want)
				}
			}
		}
		if k < len(overheads) && rec.OverheadNs != uint64(overheads[k]) {
			t.Errorf("record %d: overhead %d, session reports %d", k, rec.OverheadNs, overheads[k])
		}
	}
	if k < 5 || k != len(overheads) {
		t.Errorf("got %d records and %d overheads, want at least 5 of each", k, len(overheads))
	}
	// Every tick that reads the cores also writes a record.
	for i := 0; i < testCores; i++ {
		if cpu.Reads(i) != k {
			t.Errorf("core %d read %d times for %d records", i, cpu.Reads(i), k)
		}
	}
}

// orderCPU logs every read into a shared log.
type orderCPU struct {
	*pmutest.CPU
	log *eventLog
}

func (c *orderCPU) Read(core *pmu.Core) error {
	if err := c.CPU.Read(core); err != nil {
		return err
	}
	// Read n of a core belongs to tick n-1.
	c.log.add(fmt.Sprintf("read %d", core.ID), int(core.Cycles/1000)-1)
	return nil
}

type logEntry struct {
	what string
	tick int
}

type eventLog struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *eventLog) add(what string, tick int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{what, tick})
}

func TestBarrierOrdering(t *testing.T) {
	const ticks = 20
	var log eventLog
	hook, done := stopAfter(ticks)
	setHook(t, func(tick int) {
		log.add("written", tick)
		hook(tick)
	})

	cpu := &orderCPU{pmutest.NewCPU(testCores, 1), &log}
	var buf bytes.Buffer
	s, err := Start(Config{
		Period: 100 * time.Microsecond,
		CPU:    cpu,
		Cores:  testCores4(t),
		Trace:  trace.NewWriter(&buf),
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	// written is the last tick written so far, and reads[t] counts the
	// reads of tick t seen so far.
	written := -1
	reads := map[int]int{}
	for _, e := range log.entries {
		if e.what == "written" {
			if e.tick != written+1 {
				t.Fatalf("tick %d written after tick %d", e.tick, written)
			}
			if reads[e.tick] != testCores {
				t.Fatalf("tick %d written after %d of %d reads", e.tick, reads[e.tick], testCores)
			}
			written = e.tick
			continue
		}
		if e.tick > written+1 {
			t.Fatalf("%s of tick %d before tick %d was written", e.what, e.tick, e.tick-1)
		}
		reads[e.tick]++
	}
	if written < ticks-1 {
		t.Errorf("only %d ticks written", written+1)
	}
}

func TestPacing(t *testing.T) {
	const period = 20 * time.Millisecond
	var mu sync.Mutex
	var stamps []time.Time
	hook, done := stopAfter(11)
	setHook(t, func(tick int) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		hook(tick)
	})

	s, err := Start(Config{
		Period: period,
		CPU:    pmutest.NewCPU(testCores, 1),
		Cores:  testCores4(t),
		Trace:  trace.NewWriter(io.Discard),
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	var deltas []float64
	for i := 1; i < len(stamps); i++ {
		deltas = append(deltas, float64(stamps[i].Sub(stamps[i-1])))
	}
	median := time.Duration(stats.Sample{Xs: deltas}.Quantile(0.5))
	if median < period-time.Millisecond || median > period+10*time.Millisecond {
		t.Errorf("median tick interval %v, want about %v", median, period)
	}

	st := Summarize(s.Overheads())
	if st.Max >= period || st.Median > st.Max || st.Mean > st.Max {
		t.Errorf("implausible overheads %+v", st)
	}
}

func TestSampleFailure(t *testing.T) {
	errBroken := errors.New("broken counter")
	var reads atomic.Int32
	failed := make(chan struct{})
	cpu := pmutest.NewCPU(testCores, 1)
	cpu.Fail = func(op string, core int) error {
		if op == "read" && core == 2 && reads.Add(1) == 3 {
			close(failed)
			return errBroken
		}
		return nil
	}
	dev, gpu := testGPU(t)
	var buf bytes.Buffer
	s, err := Start(Config{
		Period: 100 * time.Microsecond,
		CPU:    cpu,
		Cores:  testCores4(t),
		GPU:    gpu,
		Trace:  trace.NewWriter(&buf),
	})
	if err != nil {
		t.Fatal(err)
	}

	// The session stops itself after the failure. Stop only joins.
	<-failed
	if err := s.Stop(); !errors.Is(err, errBroken) {
		t.Fatalf("got %v, want %v", err, errBroken)
	}
	for i := 0; i < testCores; i++ {
		if cpu.Enabled(i) {
			t.Errorf("core %d still enabled", i)
		}
	}
	if dev.OpenGroups() != 0 {
		t.Errorf("%d GPU groups left open", dev.OpenGroups())
	}
	if n := len(s.Overheads()); n > 2 {
		t.Errorf("%d ticks recorded, failure was on the third", n)
	}
}

func TestArmFailure(t *testing.T) {
	errNoCounters := errors.New("no counters")
	cpu := pmutest.NewCPU(testCores, 1)
	cpu.Fail = func(op string, core int) error {
		if op == "enable" && core == 1 {
			return errNoCounters
		}
		return nil
	}
	s, err := Start(Config{
		Period: time.Millisecond,
		CPU:    cpu,
		Cores:  testCores4(t),
		Trace:  trace.NewWriter(io.Discard),
	})
	if !errors.Is(err, errNoCounters) || s != nil {
		t.Fatalf("got %v, %v, want %v", s, err, errNoCounters)
	}
	for i := 0; i < testCores; i++ {
		if cpu.Enabled(i) {
			t.Errorf("core %d still enabled", i)
		}
	}
}

func TestGPUOnly(t *testing.T) {
	hook, done := stopAfter(3)
	setHook(t, hook)
	_, gpu := testGPU(t)
	var buf bytes.Buffer
	w := trace.NewWriter(&buf)
	s, err := Start(Config{Period: time.Millisecond, GPU: gpu, Trace: w})
	if err != nil {
		t.Fatal(err)
	}
	<-done
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	w.Flush()

	rd, err := trace.NewReader(&buf, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(rd.Header.Cores) != 0 || len(rd.Header.GPU) != 2 {
		t.Fatalf("unexpected header %+v", rd.Header)
	}
	rec, err := rd.Next()
	if err != nil {
		t.Fatal(err)
	}
	if rec.GPU[0][0] != 1000 {
		t.Errorf("first GPU value %d, want 1000", rec.GPU[0][0])
	}
}

func TestConfigErrors(t *testing.T) {
	w := trace.NewWriter(io.Discard)
	for _, cfg := range []Config{
		{Period: 0, Trace: w},
		{Period: time.Millisecond},
		{Period: time.Millisecond, Trace: w, CPU: pmutest.NewCPU(1, 1)},
	} {
		if _, err := Start(cfg); err == nil {
			t.Errorf("%+v: want error", cfg)
		}
	}
}
