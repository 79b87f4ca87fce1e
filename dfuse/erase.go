// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dfuse

import (
	"context"
	"fmt"

	"github.com/embeddedgo/dfuse/memmap"
)

// Erase erases all sectors that overlap the length bytes starting at start.
// Segments that are not erasable are skipped. Erasing zero bytes does
// nothing.
func (d *Driver) Erase(ctx context.Context, start, length uint32) error {
	return d.run("Erase", func() error {
		return d.erase(ctx, start, length)
	})
}

func (d *Driver) erase(ctx context.Context, start, length uint32) error {
	if length == 0 {
		return nil
	}
	if d.mem == nil {
		return memmap.ErrNoMemoryMap
	}
	if uint64(start)+uint64(length) > 1<<32 {
		return fmt.Errorf("%w: %#08x+%d", memmap.ErrAddressOutOfRange, start, length)
	}
	seg, err := d.mem.Segment(start)
	if err != nil {
		return err
	}
	if seg == nil {
		return fmt.Errorf("%w at %s", ErrUnknownSegment, hex(start))
	}
	addr, err := d.mem.SectorStart(start, seg)
	if err != nil {
		return err
	}
	end, err := d.mem.SectorEnd(start+length-1, nil)
	if err != nil {
		return err
	}
	if err = d.checkCovered(start, start+length-1); err != nil {
		return err
	}
	total := int(end - addr)
	done := 0
	if total > 0 {
		d.progress(done, total)
	}
	for addr < end {
		if seg.End <= addr {
			if seg, err = d.mem.Segment(addr); err != nil {
				return err
			}
			if seg == nil {
				return fmt.Errorf("%w at %s", ErrUnknownSegment, hex(addr))
			}
		}
		if !seg.Erasable {
			done = min(done+int(seg.End-addr), total)
			addr = seg.End
			d.progress(done, total)
			continue
		}
		if seg.SectorSize == 0 {
			return fmt.Errorf("segment %v: zero sector size", seg)
		}
		sector := seg.Start + (addr-seg.Start)/seg.SectorSize*seg.SectorSize
		d.logDebug("erasing sector", "addr", hex(sector), "size", seg.SectorSize)
		if err = d.command(ctx, CmdEraseSector, sector, 4); err != nil {
			return err
		}
		addr = sector + seg.SectorSize
		done += int(seg.SectorSize)
		d.progress(done, total)
	}
	return nil
}

// checkCovered returns an error if any address in [first, last] is outside of
// the memory map.
func (d *Driver) checkCovered(first, last uint32) error {
	for a := first; ; {
		seg, err := d.mem.Segment(a)
		if err != nil {
			return err
		}
		if seg == nil {
			return fmt.Errorf("%w at %s", ErrUnknownSegment, hex(a))
		}
		if seg.End == 0 || seg.End > last {
			return nil
		}
		a = seg.End
	}
}
