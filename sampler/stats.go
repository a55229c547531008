// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sampler

import (
	"time"

	"github.com/aclements/go-moremath/stats"
)

// OverheadStats summarizes the per-tick sampling overheads of a session.
type OverheadStats struct {
	Mean, Median, P99, Max time.Duration
}

// Summarize returns the summary of ds. It returns the zero value if ds is
// empty.
func Summarize(ds []time.Duration) OverheadStats {
	if len(ds) == 0 {
		return OverheadStats{}
	}
	xs := make([]float64, len(ds))
	for i, d := range ds {
		xs[i] = float64(d)
	}
	s := stats.Sample{Xs: xs}
	s.Sort()
	_, max := s.Bounds()
	return OverheadStats{
		Mean:   time.Duration(s.Mean()),
		Median: time.Duration(s.Quantile(0.5)),
		P99:    time.Duration(s.Quantile(0.99)),
		Max:    time.Duration(max),
	}
}
