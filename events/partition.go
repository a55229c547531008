// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package events

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// A Domain is a group of hardware counters that share resources. Events of
// the same domain compete for its counters; events of different domains do
// not.
type Domain struct {
	ID        uint32
	Counters  int // Events the domain can count at once
	Instances int // Hardware instances of the domain, all counted together
}

// Domains maps events to the counter domain that can count them. GPU vendor
// backends implement this.
type Domains interface {
	EventDomain(Event) (Domain, error)
}

// A Group is a set of events of one domain that are collected together.
type Group struct {
	Domain    uint32
	Instances int
	Events    []Event
}

// A GroupSet is a set of groups that can all be collected in the same pass.
// No two groups of a set share a domain.
type GroupSet struct {
	Groups []Group
}

// NumEvents returns the number of events in all groups of s.
func (s GroupSet) NumEvents() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Events)
	}
	return n
}

// Partition splits evs into the minimum number of group sets such that, in
// each set, no domain is asked to count more events than it has counters.
//
// Events are placed first-fit in request order, so the number of sets for a
// list is never less than the number of sets for any of its prefixes.
func Partition(evs []Event, domains Domains) ([]GroupSet, error) {
	seen := mapset.NewThreadUnsafeSet[Event]()
	var sets []GroupSet
	// slot[i][domain] is the index of domain's group in sets[i].
	var slot []map[uint32]int

Events:
	for _, ev := range evs {
		if !seen.Add(ev) {
			return nil, fmt.Errorf("event %s requested more than once", ev)
		}
		dom, err := domains.EventDomain(ev)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev, err)
		}
		if dom.Counters < 1 {
			return nil, fmt.Errorf("event %s: domain %d has no counters", ev, dom.ID)
		}
		if dom.Instances < 1 {
			dom.Instances = 1
		}

		for i := range sets {
			gi, ok := slot[i][dom.ID]
			if !ok {
				slot[i][dom.ID] = len(sets[i].Groups)
				sets[i].Groups = append(sets[i].Groups, Group{dom.ID, dom.Instances, []Event{ev}})
				continue Events
			}
			if g := &sets[i].Groups[gi]; len(g.Events) < dom.Counters {
				g.Events = append(g.Events, ev)
				continue Events
			}
		}

		sets = append(sets, GroupSet{Groups: []Group{{dom.ID, dom.Instances, []Event{ev}}}})
		slot = append(slot, map[uint32]int{dom.ID: 0})
	}
	return sets, nil
}
