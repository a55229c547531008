// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sampler

import (
	"fmt"

	"github.com/marusama/cyclicbarrier"
)

// newBarrier returns a reusable barrier for n goroutines. If action is not
// nil, the last goroutine to arrive at each phase calls it before any
// goroutine is released, so everything action writes is visible to every
// goroutine when Await returns.
func newBarrier(n int, action func()) cyclicbarrier.CyclicBarrier {
	if action == nil {
		return cyclicbarrier.New(n)
	}
	return cyclicbarrier.NewWithAction(n, func() error {
		action()
		return nil
	})
}

// await waits at b on behalf of thread id. If the wait fails, it records the
// error and cancels the session, which releases every other thread from its
// barrier, and reports false. Waits released by the cancellation are not
// errors of their own.
func (s *Session) await(id int, b cyclicbarrier.CyclicBarrier) bool {
	if err := b.Await(s.ctx); err != nil {
		if s.ctx.Err() == nil {
			s.fail(id, fmt.Errorf("sampling barrier: %w", err))
		}
		s.cancel()
		return false
	}
	return true
}
