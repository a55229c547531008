// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package sampler

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pinToCPU locks the calling goroutine to its thread and restricts that
// thread to cpu. The thread is not unlocked afterward, so the runtime
// discards it when the goroutine exits rather than reusing a thread with a
// narrowed affinity mask.
func pinToCPU(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Set(cpu)
	return errors.Wrapf(unix.SchedSetaffinity(0, &set), "pinning sampler thread to CPU %d", cpu)
}
