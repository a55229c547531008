// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aclements/go-moremath/stats"
	"github.com/spf13/cobra"

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/sampler"
	"github.com/aclements/go-voltmeter/trace"
)

var flagRecords bool

var dumpCmd = &cobra.Command{
	Use:   "dump [--gpu] trace.bin",
	Short: "Print a trace",
	Long: `Dump prints the header of a trace and a summary of its records.
A trace does not record whether it has GPU samples: pass --gpu if it was
written with the GPU enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		w := bufio.NewWriter(cmd.OutOrStdout())
		if err := dump(w, f, flagGPU, flagRecords); err != nil {
			w.Flush()
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return w.Flush()
	},
}

func init() {
	dumpCmd.Flags().BoolVar(&flagRecords, "records", false, "print every record")
}

func dump(w io.Writer, r io.Reader, hasGPU, records bool) error {
	rd, err := trace.NewReader(r, hasGPU)
	if err != nil {
		return err
	}
	h := &rd.Header
	for i, c := range h.Cores {
		fmt.Fprintf(w, "core %d %s\n", i, c)
	}
	for i, g := range h.GPU {
		fmt.Fprintf(w, "gpu group %d instances %d %s\n", i, g.Instances, events.CounterSet{Events: g.Events})
	}
	fmt.Fprintf(w, "power rails %d\n", h.NumRails)

	var overheads []time.Duration
	power := make([][]float64, h.NumRails)
	for n := 0; ; n++ {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		overheads = append(overheads, time.Duration(rec.OverheadNs))
		for i, mw := range rec.Power {
			power[i] = append(power[i], float64(mw))
		}
		if records {
			printRecord(w, n, rec)
		}
	}

	st := sampler.Summarize(overheads)
	fmt.Fprintf(w, "records %d\n", len(overheads))
	fmt.Fprintf(w, "overhead mean %v median %v p99 %v max %v\n", st.Mean, st.Median, st.P99, st.Max)
	for i, xs := range power {
		if len(xs) > 0 {
			s := stats.Sample{Xs: xs}
			fmt.Fprintf(w, "rail %d mean %.1f mW\n", i, s.Mean())
		}
	}
	return nil
}

func printRecord(w io.Writer, n int, rec *trace.Record) {
	fmt.Fprintf(w, "record %d overhead %v\n", n, time.Duration(rec.OverheadNs))
	for i, c := range rec.Cores {
		fmt.Fprintf(w, "\tcore %d freq %d cycles %d counters %v\n", i, c.Freq, c.Cycles, c.Counters)
	}
	if rec.GPU != nil {
		fmt.Fprintf(w, "\tgpu freq %d\n", rec.GPUFreq)
		for i, vals := range rec.GPU {
			fmt.Fprintf(w, "\tgpu group %d %v\n", i, vals)
		}
	}
	if len(rec.Power) > 0 {
		fmt.Fprintf(w, "\tpower %v\n", rec.Power)
	}
}
