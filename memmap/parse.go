// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memmap

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNotDescriptor is returned by Parse if the string does not look like
// a DfuSe memory descriptor at all.
var ErrNotDescriptor = errors.New("memmap: not a DfuSe memory descriptor")

type ParseError struct {
	Desc  string // whole descriptor
	Group string // offending sector group
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("memmap: %q: %s: %s", e.Desc, e.Group, e.Msg)
}

var (
	contiguousRE = regexp.MustCompile(
		`/\s*(0x[0-9a-fA-F]{1,8})\s*/((?:\s*[0-9]+\s*\*\s*[0-9]+\s?[ BKM]\s*[a-g]\s*,?\s*)+)`,
	)
	groupRE = regexp.MustCompile(
		`([0-9]+)\s*\*\s*([0-9]+)\s?([ BKM])\s*([a-g])`,
	)
)

var multiplier = map[string]uint64{" ": 1, "B": 1, "K": 1024, "M": 1024 * 1024}

// Parse parses the DfuSe memory descriptor stored in the name of the DFU
// alternate setting, e.g.:
//
//	@Internal Flash  /0x08000000/04*016Kg,01*064Kg,07*128Kg
//
// The property letter encodes readable (bit 0), erasable (bit 1) and writable
// (bit 2) as the letter offset from 'a' plus one.
func Parse(desc string) (*Info, error) {
	end := strings.IndexByte(desc, '/')
	if !strings.HasPrefix(desc, "@") || end < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotDescriptor, desc)
	}
	m := &Info{Name: strings.TrimSpace(desc[1:end])}
	for _, cm := range contiguousRE.FindAllStringSubmatch(desc[end:], -1) {
		addr, err := strconv.ParseUint(cm[1], 0, 32)
		if err != nil {
			return nil, &ParseError{desc, cm[1], err.Error()}
		}
		for _, g := range groupRE.FindAllStringSubmatch(cm[2], -1) {
			count, err := strconv.ParseUint(g[1], 10, 32)
			if err != nil {
				return nil, &ParseError{desc, g[0], err.Error()}
			}
			size, err := strconv.ParseUint(g[2], 10, 32)
			if err != nil {
				return nil, &ParseError{desc, g[0], err.Error()}
			}
			size *= multiplier[g[3]]
			if count == 0 || size == 0 {
				return nil, &ParseError{desc, g[0], "empty sector group"}
			}
			segEnd := addr + count*size
			if segEnd > 1<<32-1 {
				return nil, &ParseError{desc, g[0], "segment exceeds 32-bit address space"}
			}
			props := g[4][0] - 'a' + 1
			m.Segments = append(m.Segments, Segment{
				Start:      uint32(addr),
				End:        uint32(segEnd),
				SectorSize: uint32(size),
				Readable:   props&1 != 0,
				Erasable:   props&2 != 0,
				Writable:   props&4 != 0,
			})
			addr = segEnd
		}
	}
	return m, nil
}
