// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/schedule"
)

var passesCmd = &cobra.Command{
	Use:   "passes",
	Short: "Report how many passes the requested events need",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		p, err := setup(schedule.NumPasses)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, p.Close()) }()
		printPasses(cmd.OutOrStdout(), p)
		return nil
	},
}

func printPasses(w io.Writer, p *schedule.Profiler) {
	fmt.Fprintf(w, "cpu_passes %d\n", p.CPUPasses())
	fmt.Fprintf(w, "gpu_passes %d\n", p.GPUPasses())
	if cat := p.CPUEvents(); cat != nil {
		for set := range cat.Sets {
			for core := 0; core < cat.NumCores; core++ {
				fmt.Fprintf(w, "cpuset %d core %d %s\n", set, core, cat.Core(set, core))
			}
		}
	}
	if cat := p.GPUEvents(); cat != nil {
		for set, gs := range cat.Sets {
			for _, g := range gs.Groups {
				fmt.Fprintf(w, "gpuset %d domain %d %s\n", set, g.Domain, events.CounterSet{Events: g.Events})
			}
		}
	}
}
