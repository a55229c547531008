// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package pmu

import (
	"fmt"

	"github.com/aclements/go-voltmeter/events"
	"github.com/aclements/go-voltmeter/platform"
)

func NewPerfCPU(numCores int, freq *platform.FreqSource) (CPUDriver, error) {
	return nil, fmt.Errorf("CPU counters: %w on this OS", events.ErrUnsupported)
}

func OpenPerfGPU(pmuName string, counters int, freq *platform.FreqSource) (GPUDevice, error) {
	return nil, fmt.Errorf("GPU counters: %w on this OS", events.ErrUnsupported)
}
