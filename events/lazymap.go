// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package events

import "sync"

// lazyMap computes each value at most once, on first use of its key.
// Concurrent callers for the same key wait for the same computation.
type lazyMap[K comparable, V any] struct {
	mu  sync.Mutex
	m   map[K]func() (V, error)
	new func(K) (V, error)
}

func newLazyMap[K comparable, V any](new func(K) (V, error)) *lazyMap[K, V] {
	return &lazyMap[K, V]{new: new}
}

func (m *lazyMap[K, V]) get(key K) (V, error) {
	m.mu.Lock()
	f, ok := m.m[key]
	if !ok {
		if m.m == nil {
			m.m = make(map[K]func() (V, error))
		}
		f = sync.OnceValues(func() (V, error) { return m.new(key) })
		m.m[key] = f
	}
	m.mu.Unlock()
	return f()
}

// reset drops all cached values. Used by tests that swap sysFS.
func (m *lazyMap[K, V]) reset() {
	m.mu.Lock()
	m.m = nil
	m.mu.Unlock()
}
