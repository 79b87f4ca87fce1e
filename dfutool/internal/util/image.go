// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package util

import (
	"bytes"
	"debug/elf"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

type Section struct {
	Paddr uint64 // phisical location of the section in the Flash/ROM
	Data  []byte // section data
}

type Sections []*Section

// ReadELF reads the loadable sections of the program and returns them as
// a slice. The order of the returned sections is unspecified.
func ReadELF(r io.ReaderAt) (Sections, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ss := make(Sections, 0, 16)
	for i, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_ALLOC == 0 {
			if k := i + 1; k < len(f.Sections) && len(ss) != 0 {
				ns := f.Sections[k]
				if ns.Type == elf.SHT_PROGBITS && ns.Flags&elf.SHF_ALLOC != 0 {
					Warn("readelf: skipping section '%s' (%d bytes)", s.Name, s.Size)
				}
			}
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		paddr := s.Addr
		for _, p := range f.Progs {
			if p.Type != elf.PT_LOAD {
				continue
			}
			if p.Off <= s.Offset && s.Offset < p.Off+p.Filesz {
				paddr = p.Paddr + s.Offset - p.Off
				break
			}
		}
		ss = append(ss, &Section{paddr, data})
	}
	return ss, nil
}

// SortByPaddr sorts sections according to the Paddr field.
func (ss Sections) SortByPaddr() {
	sort.Slice(
		ss,
		func(i, j int) bool {
			return ss[i].Paddr < ss[j].Paddr
		},
	)
}

// Size returns the number of bytes between the start of the lowest section
// and the end of the highest one.
func (ss Sections) Size() int {
	if len(ss) == 0 {
		return 0
	}
	lo, hi := ^uint64(0), uint64(0)
	for _, s := range ss {
		lo = min(lo, s.Paddr)
		hi = max(hi, s.Paddr+uint64(len(s.Data)))
	}
	return int(hi - lo)
}

// Flatten flattens sections by writting their data to the provided io.Writer
// according to the Paddr field (before writting the sections are sorted using
// SortPaddr method). The gaps between sections are filled using the pad byte.
func (ss Sections) Flatten(w io.Writer, pad byte) (n int, err error) {
	if len(ss) == 0 {
		return
	}
	ss.SortByPaddr()
	pa := ss[0].Paddr
	n, err = w.Write(ss[0].Data)
	if err != nil {
		return
	}
	pa += uint64(n)
	var padCache []byte
	for _, s := range ss[1:] {
		if s.Paddr < pa {
			err = errors.Errorf("flatten: overlaping sections at %#x", s.Paddr)
			return
		}
		m := int(s.Paddr - pa)
		if m != 0 {
			m, err = w.Write(PadBytes(&padCache, m, pad))
			n += m
			if err != nil {
				return
			}
			pa += uint64(m)
		}
		m, err = w.Write(s.Data)
		n += m
		if err != nil {
			return
		}
		pa += uint64(m)
	}
	return
}

// PadBytes returns the slice containing n byte equal b.
func PadBytes(cache *[]byte, n int, b byte) []byte {
	if len(*cache) < n {
		*cache = make([]byte, n)
		for i := range *cache {
			(*cache)[i] = b
		}
	}
	return (*cache)[:n]
}

// Image is a flat memory image.
type Image struct {
	Addr    uint32 // load address, valid if HasAddr
	HasAddr bool
	Data    []byte
}

func isHex(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".hex", ".ihex", ".ihx":
		return true
	}
	return false
}

// ReadImage reads an Intel HEX, ELF or raw binary file. The format is
// inferred from the file extension (Intel HEX) or content (ELF). Gaps
// between sections are filled with 0xff.
func ReadImage(name string) (*Image, error) {
	buf, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	switch {
	case isHex(name):
		mem := gohex.NewMemory()
		if err := mem.ParseIntelHex(bytes.NewReader(buf)); err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		var ss Sections
		for _, seg := range mem.GetDataSegments() {
			ss = append(ss, &Section{uint64(seg.Address), seg.Data})
		}
		return flatImage(name, ss)
	case bytes.HasPrefix(buf, []byte(elf.ELFMAG)):
		ss, err := ReadELF(bytes.NewReader(buf))
		if err != nil {
			return nil, errors.Wrapf(err, "readelf %s", name)
		}
		return flatImage(name, ss)
	}
	return &Image{Data: buf}, nil
}

func flatImage(name string, ss Sections) (*Image, error) {
	if len(ss) == 0 {
		return nil, errors.Errorf("%s: no data", name)
	}
	img := bytes.NewBuffer(make([]byte, 0, ss.Size()))
	if _, err := ss.Flatten(img, 0xff); err != nil {
		return nil, errors.Wrap(err, name)
	}
	if ss[0].Paddr+uint64(img.Len()) > 1<<32 {
		return nil, errors.Errorf("%s: image exceeds 32-bit address space", name)
	}
	return &Image{Addr: uint32(ss[0].Paddr), HasAddr: true, Data: img.Bytes()}, nil
}

// WriteImage writes data read from addr to the named file. Files with the
// .hex extension are written in the Intel HEX format, all others as raw
// binary.
func WriteImage(name string, addr uint32, data []byte) error {
	if !isHex(name) {
		return errors.Wrap(os.WriteFile(name, data, 0o644), "write image")
	}
	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		return errors.Wrap(err, "intel hex")
	}
	f, err := os.Create(name)
	if err != nil {
		return errors.Wrap(err, "write image")
	}
	if err = mem.DumpIntelHex(f, 16); err != nil {
		f.Close()
		return errors.Wrapf(err, "dump %s", name)
	}
	return errors.Wrap(f.Close(), "write image")
}
