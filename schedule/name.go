// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schedule

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const traceExt = ".bin"

// traceName returns the base name of the trace of one pass, without
// extension. It records the frequency of every sampled device and, for a
// device with more than one pass, the set being sampled.
func (p *Profiler) traceName(bench string, cpuSet, gpuSet int) string {
	var b strings.Builder
	b.WriteString(bench)
	if p.cpuCat != nil {
		fmt.Fprintf(&b, "_cpu_%d", p.cpuCat.Frequency)
	}
	if p.gpuCat != nil {
		fmt.Fprintf(&b, "_gpu_%d", p.gpuCat.Frequency)
	}
	if p.CPUPasses() > 1 {
		fmt.Fprintf(&b, "_cpuset%d", cpuSet)
	}
	if p.GPUPasses() > 1 {
		fmt.Fprintf(&b, "_gpuset%d", gpuSet)
	}
	return b.String()
}

// maxSuffix bounds the search for an unused trace name.
const maxSuffix = 10000

// createTrace creates a new trace file named base in dir. If that name is
// taken, it appends the first free "_<n>". Existing traces are never
// overwritten.
func createTrace(dir, base string) (*os.File, error) {
	for n := 0; n < maxSuffix; n++ {
		name := base
		if n > 0 {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		path := filepath.Join(dir, name+traceExt)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("no free trace name for %s in %q", base, dir)
}
