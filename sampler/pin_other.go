// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package sampler

import "runtime"

// pinToCPU only locks the goroutine to its thread: this OS has no affinity
// call.
func pinToCPU(cpu int) error {
	runtime.LockOSThread()
	return nil
}
