// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sampler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBarrier(t *testing.T) {
	const N, phases = 8, 200
	actions := 0 // Written only by the action
	b := newBarrier(N, func() { actions++ })
	var arrived [phases]atomic.Int32

	var wg sync.WaitGroup
	for g := 0; g < N; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := 0; p < phases; p++ {
				arrived[p].Add(1)
				if err := b.Await(context.Background()); err != nil {
					t.Error(err)
					return
				}
				if n := arrived[p].Load(); n != N {
					t.Errorf("phase %d: released with %d of %d arrived", p, n, N)
					return
				}
				if actions != p+1 {
					t.Errorf("phase %d: %d actions ran before release, want %d", p, actions, p+1)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestBarrierOne(t *testing.T) {
	ran := 0
	b := newBarrier(1, func() { ran++ })
	for i := 0; i < 3; i++ {
		if err := b.Await(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if ran != 3 {
		t.Errorf("action ran %d times, want 3", ran)
	}
}

func TestAwaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{ctx: ctx, cancel: cancel, errs: make([]error, 2)}
	b1, b2 := newBarrier(2, nil), newBarrier(2, nil)

	// Thread 1 waits at a barrier thread 0 never reaches.
	released := make(chan bool)
	go func() { released <- s.await(1, b1) }()
	for b1.GetNumberWaiting() == 0 {
		time.Sleep(time.Millisecond)
	}
	s.fail(0, errTest)
	s.cancel()
	if <-released {
		t.Error("await reported success after the session was canceled")
	}
	if s.await(0, b2) {
		t.Error("await succeeded on a canceled session")
	}
	if !errors.Is(s.errs[0], errTest) {
		t.Errorf("thread 0 errors %v, want %v", s.errs[0], errTest)
	}
	if s.errs[1] != nil {
		t.Errorf("cancellation recorded as an error: %v", s.errs[1])
	}
}

var errTest = errors.New("test failure")
