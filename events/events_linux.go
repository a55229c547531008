// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package events

import "golang.org/x/sys/unix"

// SetAttrs programs e as a raw event of the core PMU. Events of other PMUs
// override attr.Type after calling SetAttrs.
func (e Event) SetAttrs(attr *unix.PerfEventAttr) {
	attr.Type = unix.PERF_TYPE_RAW
	attr.Config = uint64(e)
}
