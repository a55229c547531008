// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aclements/go-voltmeter/internal/logutil"
	"github.com/aclements/go-voltmeter/schedule"
	"github.com/aclements/go-voltmeter/workload"
)

var profileCmd = &cobra.Command{
	Use:   "profile [flags] workload [args...]",
	Short: "Sample one set of events while the workload runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfiler(cmd, schedule.Profile, args)
	},
}

var characterizeCmd = &cobra.Command{
	Use:   "characterize [flags] workload [args...]",
	Short: "Run the workload once per set of events",
	Long: `Characterize runs the workload once for every set of events the
counters can hold at once, writing one trace per set. At most one of the
CPU and GPU may need more than one set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProfiler(cmd, schedule.Characterization, args)
	},
}

func init() {
	// Flags after the workload belong to the workload.
	profileCmd.Flags().SetInterspersed(false)
	characterizeCmd.Flags().SetInterspersed(false)
}

func runProfiler(cmd *cobra.Command, mode schedule.Mode, args []string) (err error) {
	log := logutil.GetLogger()
	w, err := workload.Open(args[0])
	if err != nil {
		return err
	}
	p, err := setup(mode)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, p.Close()) }()

	bench := flagBenchmark
	if bench == "" {
		bench = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traces, err := p.Run(ctx, schedule.RunConfig{
		Benchmark: bench,
		TraceDir:  flagTraceDir,
		Args:      args[1:],
		Runs:      flagRuns,
		Period:    flagPeriod,
		NoPin:     !flagPin,
	}, w)
	for _, path := range traces {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	if err != nil {
		return err
	}
	log.Info("done", zap.Int("traces", len(traces)))
	return nil
}
