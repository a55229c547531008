// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command voltmeter samples CPU and GPU performance counters, device
// frequencies, and power rails at a fixed period while a workload runs, and
// writes the samples to binary trace files.
//
// Usage:
//
//	voltmeter profile [flags] workload [args...]
//	voltmeter characterize [flags] workload [args...]
//	voltmeter passes [flags]
//	voltmeter dump [--gpu] trace.bin
//
// profile samples one set of CPU events and one set of GPU events. If more
// events are requested than the counters hold, characterize runs the
// workload once per set of events, writing one trace per set. passes only
// reports how many sets the requested events need. dump prints a trace.
//
// The workload is either an executable or a Go plugin (a file ending in
// ".so") exporting
//
//	func Main(args []string) int
package main

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/aclements/go-voltmeter/internal/logutil"
)

func main() {
	// Flag errors are reported before the debug flag is known.
	if err := logutil.InitLogger(false); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger().Fatal("voltmeter failed", zap.Error(err))
	}
	atexit.Exit(0)
}
