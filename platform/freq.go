// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
)

// rootFS is the file system that sysfs paths are resolved against. It is a
// variable so it can be stubbed by tests.
var rootFS fs.FS = os.DirFS("/")

// Clip returns the entry of avail closest to freq. avail must be sorted in
// ascending order. Ties go to the first (lowest) candidate. If avail is
// empty, Clip returns freq unchanged.
func Clip(freq uint32, avail []uint32) uint32 {
	if len(avail) == 0 {
		return freq
	}
	best, bestDiff := avail[0], absDiff(avail[0], freq)
	for _, a := range avail[1:] {
		if d := absDiff(a, freq); d < bestDiff {
			best, bestDiff = a, d
		}
	}
	return best
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// A FreqSource reads the clock of a device from sysfs-style text files.
type FreqSource struct {
	// Cur is the path of the current device frequency.
	Cur string
	// CurCore is the path of the current frequency of one CPU core, with a
	// %d verb for the core number. If empty, Cur is used for every core.
	CurCore string
	// Avail is the path of the whitespace-separated list of advertised
	// frequencies. If empty, frequencies are never clipped.
	Avail string
	// KHz is set if the files report kHz rather than Hz.
	KHz bool
}

// Current returns the current frequency of the device in Hz.
func (s *FreqSource) Current() (uint32, error) {
	return s.readFreq(s.Cur)
}

// CoreCurrent returns the current frequency of the given core in Hz.
func (s *FreqSource) CoreCurrent(core int) (uint32, error) {
	if s.CurCore == "" {
		return s.Current()
	}
	return s.readFreq(fmt.Sprintf(s.CurCore, core))
}

// Available returns the advertised frequencies of the device in Hz, in
// ascending order.
func (s *FreqSource) Available() ([]uint32, error) {
	if s.Avail == "" {
		return nil, nil
	}
	data, err := readFile(s.Avail)
	if err != nil {
		return nil, err
	}
	var freqs []uint32
	for _, field := range strings.Fields(string(data)) {
		f, err := s.parse(field)
		if err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", s.Avail, err)
		}
		freqs = append(freqs, f)
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("%s lists no frequencies", s.Avail)
	}
	sort.Slice(freqs, func(i, j int) bool { return freqs[i] < freqs[j] })
	return freqs, nil
}

// Clipped returns the current frequency snapped to the closest advertised
// frequency.
func (s *FreqSource) Clipped() (uint32, error) {
	cur, err := s.Current()
	if err != nil {
		return 0, err
	}
	avail, err := s.Available()
	if err != nil {
		return 0, err
	}
	return Clip(cur, avail), nil
}

func (s *FreqSource) readFreq(path string) (uint32, error) {
	data, err := readFile(path)
	if err != nil {
		return 0, err
	}
	f, err := s.parse(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return f, nil
}

func (s *FreqSource) parse(field string) (uint32, error) {
	v, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		return 0, err
	}
	if s.KHz {
		v *= 1000
	}
	if v > 0xffffffff {
		return 0, fmt.Errorf("frequency %d Hz out of range", v)
	}
	return uint32(v), nil
}

func readFile(path string) ([]byte, error) {
	return fs.ReadFile(rootFS, strings.TrimPrefix(path, "/"))
}
