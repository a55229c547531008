// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package events

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

// flatDomains puts every event in domain 0 with the given number of counters.
type flatDomains struct{ counters int }

func (d flatDomains) EventDomain(Event) (Domain, error) {
	return Domain{ID: 0, Counters: d.counters, Instances: 1}, nil
}

// modDomains puts event e in domain e%len(counters).
type modDomains struct{ counters []int }

func (d modDomains) EventDomain(ev Event) (Domain, error) {
	id := uint32(ev) % uint32(len(d.counters))
	return Domain{ID: id, Counters: d.counters[id], Instances: int(id) + 1}, nil
}

type badDomains struct{}

func (badDomains) EventDomain(ev Event) (Domain, error) {
	return Domain{}, errors.New("no such event")
}

func checkSets(t *testing.T, evs []Event, sets []GroupSet, d modDomains) {
	t.Helper()
	seen := map[Event]bool{}
	for i, set := range sets {
		domains := map[uint32]bool{}
		for _, g := range set.Groups {
			if domains[g.Domain] {
				t.Fatalf("set %d: domain %d appears twice", i, g.Domain)
			}
			domains[g.Domain] = true
			if len(g.Events) > d.counters[g.Domain] {
				t.Fatalf("set %d: domain %d has %d events, %d counters", i, g.Domain, len(g.Events), d.counters[g.Domain])
			}
			if g.Instances != int(g.Domain)+1 {
				t.Fatalf("set %d: domain %d has %d instances", i, g.Domain, g.Instances)
			}
			for _, ev := range g.Events {
				if dom, _ := d.EventDomain(ev); dom.ID != g.Domain {
					t.Fatalf("set %d: event %s in group of domain %d", i, ev, g.Domain)
				}
				seen[ev] = true
			}
		}
	}
	if len(seen) != len(evs) {
		t.Fatalf("%d events requested, %d placed", len(evs), len(seen))
	}
}

func TestPartition(t *testing.T) {
	d := modDomains{[]int{2, 1, 4}}
	var evs []Event
	for i := 0; i < 12; i++ {
		evs = append(evs, Event(i))
	}
	sets, err := Partition(evs, d)
	if err != nil {
		t.Fatal(err)
	}
	checkSets(t, evs, sets, d)
	// Domain 1 has 4 events and 1 counter.
	if len(sets) != 4 {
		t.Errorf("got %d sets, want 4", len(sets))
	}
}

func TestPartitionMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		d := modDomains{make([]int, 1+r.Intn(5))}
		for i := range d.counters {
			d.counters[i] = 1 + r.Intn(4)
		}
		perm := r.Perm(64)
		evs := make([]Event, len(perm))
		for i, p := range perm {
			evs[i] = Event(p)
		}

		prev := 0
		for n := 1; n <= len(evs); n++ {
			sets, err := Partition(evs[:n], d)
			if err != nil {
				t.Fatal(err)
			}
			checkSets(t, evs[:n], sets, d)
			if len(sets) < 1 {
				t.Fatalf("%d events: got no sets", n)
			}
			if len(sets) < prev {
				t.Fatalf("%d events: %d sets, fewer than %d for %d events", n, len(sets), prev, n-1)
			}
			prev = len(sets)
		}
	}
}

func TestPartitionErrors(t *testing.T) {
	if _, err := Partition([]Event{1, 2, 1}, flatDomains{4}); err == nil {
		t.Error("duplicate event: want error")
	}
	if _, err := Partition([]Event{1}, flatDomains{0}); err == nil {
		t.Error("domain without counters: want error")
	}
	if _, err := Partition([]Event{1}, badDomains{}); err == nil {
		t.Error("unknown event: want error")
	}
}

type fakeEnumerator struct {
	flatDomains
	evs []Event
}

func (e fakeEnumerator) AllEvents() ([]Event, error) { return e.evs, nil }

func TestGPUFromAll(t *testing.T) {
	dev := fakeEnumerator{flatDomains{3}, []Event{1, 2, 3, 4, 5, 6, 7}}
	g := NewGPUEvents(0)
	if err := g.FromAll(dev); err != nil {
		t.Fatal(err)
	}
	if g.NumSets() != 3 {
		t.Errorf("got %d sets, want 3", g.NumSets())
	}
	total := 0
	for _, s := range g.Sets {
		total += s.NumEvents()
	}
	if total != len(dev.evs) {
		t.Errorf("got %d events in sets, want %d", total, len(dev.evs))
	}
}

func ExamplePartition() {
	sets, _ := Partition([]Event{0x10, 0x11, 0x12, 0x13, 0x14}, flatDomains{2})
	for i, set := range sets {
		fmt.Println(i, CounterSet{set.Groups[0].Events})
	}
	// Output:
	// 0 {0x10,0x11}
	// 1 {0x12,0x13}
	// 2 {0x14}
}
