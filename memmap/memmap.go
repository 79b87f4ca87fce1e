// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memmap models the memory map that a DfuSe device describes in the
// names of its DFU alternate settings.
package memmap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMemoryMap is returned by the queries of a nil *Info.
	ErrNoMemoryMap = errors.New("memmap: no memory map")

	// ErrAddressOutOfRange is returned when an address that must belong to
	// a segment does not.
	ErrAddressOutOfRange = errors.New("memmap: address out of range")
)

// Segment is a contiguous range [Start, End) of the device memory with
// uniform properties and erase granularity.
type Segment struct {
	Start      uint32
	End        uint32
	SectorSize uint32
	Readable   bool
	Erasable   bool
	Writable   bool
}

// Contains reports whether addr belongs to s.
func (s *Segment) Contains(addr uint32) bool {
	return s.Start <= addr && addr < s.End
}

// Size returns the length of s in bytes.
func (s *Segment) Size() uint32 {
	return s.End - s.Start
}

// Props returns the property letter used by the DfuSe descriptor ('a'..'g')
// or '-' if the segment has none of the properties.
func (s *Segment) Props() byte {
	var p byte
	if s.Readable {
		p |= 1
	}
	if s.Erasable {
		p |= 2
	}
	if s.Writable {
		p |= 4
	}
	if p == 0 {
		return '-'
	}
	return 'a' + p - 1
}

func (s *Segment) String() string {
	var prop [3]byte
	prop[0], prop[1], prop[2] = '-', '-', '-'
	if s.Readable {
		prop[0] = 'r'
	}
	if s.Erasable {
		prop[1] = 'e'
	}
	if s.Writable {
		prop[2] = 'w'
	}
	return fmt.Sprintf(
		"%#08x-%#08x %s %d*%dB",
		s.Start, s.End-1, prop[:], s.Size()/s.SectorSize, s.SectorSize,
	)
}

// Info is the memory map of one DFU alternate setting. The segments are
// sorted by Start and do not overlap. Info is never modified after Parse so
// it can be shared freely.
type Info struct {
	Name     string
	Segments []Segment
}

// Segment returns the segment that contains addr or nil if there is no such
// segment.
func (m *Info) Segment(addr uint32) (*Segment, error) {
	if m == nil {
		return nil, ErrNoMemoryMap
	}
	for i := range m.Segments {
		if s := &m.Segments[i]; s.Contains(addr) {
			return s, nil
		}
	}
	return nil, nil
}

func (m *Info) resolve(addr uint32, s *Segment) (*Segment, error) {
	if s != nil {
		return s, nil
	}
	s, err := m.Segment(addr)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %#08x", ErrAddressOutOfRange, addr)
	}
	return s, nil
}

// SectorStart returns the address of the beginning of the sector that
// contains addr. If s is nil the segment is looked up.
func (m *Info) SectorStart(addr uint32, s *Segment) (uint32, error) {
	s, err := m.resolve(addr, s)
	if err != nil {
		return 0, err
	}
	return s.Start + (addr-s.Start)/s.SectorSize*s.SectorSize, nil
}

// SectorEnd returns the address just past the end of the sector that
// contains addr. An addr at a sector boundary belongs to the sector that
// starts there, so SectorEnd(a) is always SectorStart(a) + SectorSize.
func (m *Info) SectorEnd(addr uint32, s *Segment) (uint32, error) {
	s, err := m.resolve(addr, s)
	if err != nil {
		return 0, err
	}
	start, _ := m.SectorStart(addr, s)
	return start + s.SectorSize, nil
}

// FirstWritable returns the first writable segment or nil.
func (m *Info) FirstWritable() (*Segment, error) {
	if m == nil {
		return nil, ErrNoMemoryMap
	}
	for i := range m.Segments {
		if s := &m.Segments[i]; s.Writable {
			return s, nil
		}
	}
	return nil, nil
}

// MaxReadSize returns the number of contiguous readable bytes starting at
// addr. It returns 0 if addr is not readable or is outside of the map.
func (m *Info) MaxReadSize(addr uint32) (uint32, error) {
	if m == nil {
		return 0, ErrNoMemoryMap
	}
	var n uint32
	for i := range m.Segments {
		s := &m.Segments[i]
		switch {
		case s.Contains(addr):
			if !s.Readable {
				return 0, nil
			}
			n = s.End - addr
		case n != 0 && uint64(s.Start) == uint64(addr)+uint64(n):
			if !s.Readable {
				return n, nil
			}
			n += s.Size()
		case n != 0:
			return n, nil
		}
	}
	return n, nil
}

func (m *Info) String() string {
	if m == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(m.Name)
	for i := range m.Segments {
		sb.WriteString("\n  ")
		sb.WriteString(m.Segments[i].String())
	}
	return sb.String()
}
