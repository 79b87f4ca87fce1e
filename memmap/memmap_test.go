// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memmap

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func stm32f4() *Info {
	return &Info{
		Name: "Internal Flash",
		Segments: []Segment{
			{Start: 0x0800_0000, End: 0x0801_0000, SectorSize: 0x4000, Readable: true, Erasable: true, Writable: true},
			{Start: 0x0801_0000, End: 0x0802_0000, SectorSize: 0x1_0000, Readable: true, Erasable: true, Writable: true},
			{Start: 0x0802_0000, End: 0x0810_0000, SectorSize: 0x2_0000, Readable: true, Erasable: true, Writable: true},
		},
	}
}

func TestSegment(t *testing.T) {
	m := stm32f4()
	tests := []struct {
		name string
		addr uint32
		want int // index in m.Segments, -1 for none
	}{
		{"first byte", 0x0800_0000, 0},
		{"inside first", 0x0800_7fff, 0},
		{"last byte of first", 0x0800_ffff, 0},
		{"boundary", 0x0801_0000, 1},
		{"last byte", 0x080f_ffff, 2},
		{"past end", 0x0810_0000, -1},
		{"before start", 0x07ff_ffff, -1},
		{"zero", 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := m.Segment(tt.addr)
			if err != nil {
				t.Fatalf("Segment(%#x) error: %v", tt.addr, err)
			}
			if tt.want < 0 {
				if s != nil {
					t.Errorf("Segment(%#x) = %v, want nil", tt.addr, s)
				}
				return
			}
			if s != &m.Segments[tt.want] {
				t.Errorf("Segment(%#x) = %v, want %v", tt.addr, s, &m.Segments[tt.want])
			}
		})
	}
}

func TestNoMemoryMap(t *testing.T) {
	var m *Info
	if _, err := m.Segment(0); !errors.Is(err, ErrNoMemoryMap) {
		t.Errorf("Segment: got %v, want ErrNoMemoryMap", err)
	}
	if _, err := m.SectorStart(0, nil); !errors.Is(err, ErrNoMemoryMap) {
		t.Errorf("SectorStart: got %v, want ErrNoMemoryMap", err)
	}
	if _, err := m.FirstWritable(); !errors.Is(err, ErrNoMemoryMap) {
		t.Errorf("FirstWritable: got %v, want ErrNoMemoryMap", err)
	}
	if _, err := m.MaxReadSize(0); !errors.Is(err, ErrNoMemoryMap) {
		t.Errorf("MaxReadSize: got %v, want ErrNoMemoryMap", err)
	}
}

func TestSectorBounds(t *testing.T) {
	m := stm32f4()
	for i := range m.Segments {
		s := &m.Segments[i]
		for _, a := range []uint32{s.Start, s.Start + 1, s.Start + s.SectorSize - 1, s.Start + s.SectorSize, s.End - 1} {
			start, err := m.SectorStart(a, nil)
			if err != nil {
				t.Fatalf("SectorStart(%#x): %v", a, err)
			}
			if !(start <= a && a < start+s.SectorSize) {
				t.Errorf("SectorStart(%#x) = %#x, sector size %#x", a, start, s.SectorSize)
			}
			if (start-s.Start)%s.SectorSize != 0 {
				t.Errorf("SectorStart(%#x) = %#x is not sector aligned", a, start)
			}
			end, err := m.SectorEnd(a, s)
			if err != nil {
				t.Fatalf("SectorEnd(%#x): %v", a, err)
			}
			if end != start+s.SectorSize {
				t.Errorf("SectorEnd(%#x) = %#x, want %#x", a, end, start+s.SectorSize)
			}
		}
	}
}

func TestSectorEndOnBoundary(t *testing.T) {
	m := stm32f4()
	end, err := m.SectorEnd(0x0800_4000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if end != 0x0800_8000 {
		t.Errorf("SectorEnd(0x08004000) = %#x, want 0x08008000", end)
	}
}

func TestSectorOutOfRange(t *testing.T) {
	m := stm32f4()
	if _, err := m.SectorStart(0x2000_0000, nil); !errors.Is(err, ErrAddressOutOfRange) {
		t.Errorf("SectorStart: got %v, want ErrAddressOutOfRange", err)
	}
	if _, err := m.SectorEnd(0x2000_0000, nil); !errors.Is(err, ErrAddressOutOfRange) {
		t.Errorf("SectorEnd: got %v, want ErrAddressOutOfRange", err)
	}
}

func TestFirstWritable(t *testing.T) {
	m := &Info{Segments: []Segment{
		{Start: 0x1fff_0000, End: 0x1fff_7800, SectorSize: 1024, Readable: true},
		{Start: 0x1fff_7800, End: 0x1fff_7a10, SectorSize: 528, Readable: true, Writable: true},
		{Start: 0x1fff_c000, End: 0x1fff_c010, SectorSize: 16, Readable: true, Erasable: true, Writable: true},
	}}
	s, err := m.FirstWritable()
	if err != nil {
		t.Fatal(err)
	}
	if s != &m.Segments[1] {
		t.Errorf("FirstWritable() = %v, want %v", s, &m.Segments[1])
	}
	m.Segments = m.Segments[:1]
	if s, _ := m.FirstWritable(); s != nil {
		t.Errorf("FirstWritable() = %v, want nil", s)
	}
}

func TestMaxReadSize(t *testing.T) {
	two := func(secondReadable bool) *Info {
		return &Info{Segments: []Segment{
			{Start: 0x0800_0000, End: 0x0800_4000, SectorSize: 0x4000, Readable: true},
			{Start: 0x0800_4000, End: 0x0800_8000, SectorSize: 0x4000, Readable: secondReadable},
			{Start: 0x0801_0000, End: 0x0801_4000, SectorSize: 0x4000, Readable: true},
		}}
	}
	tests := []struct {
		name string
		m    *Info
		addr uint32
		want uint32
	}{
		{"contiguous readable", two(true), 0x0800_0000, 0x8000},
		{"second not readable", two(false), 0x0800_0000, 0x4000},
		{"mid first segment", two(true), 0x0800_1000, 0x7000},
		{"start not readable", two(false), 0x0800_4000, 0},
		{"stops at gap", two(true), 0x0800_6000, 0x2000},
		{"after gap", two(true), 0x0801_0000, 0x4000},
		{"outside map", two(true), 0x2000_0000, 0},
		{"in gap", two(true), 0x0800_8000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.m.MaxReadSize(tt.addr)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("MaxReadSize(%#x) = %#x, want %#x", tt.addr, got, tt.want)
			}
		})
	}
}

func TestSegmentString(t *testing.T) {
	s := Segment{Start: 0x0800_0000, End: 0x0801_0000, SectorSize: 0x4000, Readable: true, Writable: true}
	if got, want := s.String(), "0x08000000-0x0800ffff r-w 4*16384B"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := s.Props(); got != 'e' {
		t.Errorf("Props() = %c, want e", got)
	}
	if diff := cmp.Diff(uint32(0x1_0000), s.Size()); diff != "" {
		t.Errorf("Size() mismatch (-want +got):\n%s", diff)
	}
}
