// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"bytes"
	"fmt"
	"strconv"
)

// A Rail is one power measurement endpoint, such as a channel of an INA3221
// monitor. The file holds a single decimal value in milliwatts.
type Rail struct {
	Name string
	Path string
}

// PowerRails samples a fixed, ordered list of power rails.
type PowerRails struct {
	rails []Rail
}

// OpenPowerRails checks that every rail can be read and returns a sampler
// for them.
func OpenPowerRails(rails []Rail) (*PowerRails, error) {
	p := &PowerRails{rails: rails}
	if err := p.Read(make([]uint32, len(rails))); err != nil {
		return nil, err
	}
	return p, nil
}

// NumRails returns the number of rails. A nil *PowerRails has no rails.
func (p *PowerRails) NumRails() int {
	if p == nil {
		return 0
	}
	return len(p.rails)
}

// Rails returns the rails in sampling order.
func (p *PowerRails) Rails() []Rail {
	if p == nil {
		return nil
	}
	return p.rails
}

// Read stores the current value of each rail in dst, which must have length
// NumRails.
func (p *PowerRails) Read(dst []uint32) error {
	if len(dst) != p.NumRails() {
		return fmt.Errorf("power buffer has %d entries for %d rails", len(dst), p.NumRails())
	}
	for i, rail := range p.Rails() {
		data, err := readFile(rail.Path)
		if err != nil {
			return fmt.Errorf("power rail %s: %w", rail.Name, err)
		}
		v, err := strconv.ParseUint(string(bytes.TrimSpace(data)), 10, 32)
		if err != nil {
			return fmt.Errorf("power rail %s: error parsing %s: %w", rail.Name, rail.Path, err)
		}
		dst[i] = uint32(v)
	}
	return nil
}
