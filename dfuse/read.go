// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dfuse

import (
	"context"

	"github.com/embeddedgo/dfuse/dfu"
)

// Read reads up to maxSize bytes (dfu.NoLimit for no limit) of the device
// memory at the start address using blocks of xferSize bytes. It stops
// earlier if the device returns a short block.
func (d *Driver) Read(ctx context.Context, xferSize, maxSize int) (data []byte, err error) {
	err = d.run("Read", func() error {
		data, err = d.read(ctx, xferSize, maxSize)
		return err
	})
	return
}

func (d *Driver) read(ctx context.Context, xferSize, maxSize int) ([]byte, error) {
	start, err := d.startAddress(false)
	if err != nil {
		return nil, err
	}
	d.logInfo("reading DFU device memory", "addr", hex(start), "max", maxSize)
	if err = d.ensureIdle(ctx); err != nil {
		return nil, err
	}
	if err = d.command(ctx, CmdSetAddress, start, 4); err != nil {
		return nil, err
	}
	if err = d.p.AbortToIdle(ctx); err != nil {
		return nil, err
	}
	// Block numbers 0 and 1 are reserved, 2 reads from the address set.
	return d.p.Read(ctx, xferSize, maxSize, 2)
}

// ensureIdle brings the device to dfuIDLE if a previous operation left it in
// another state, dfuMANIFEST or dfuERROR for example.
func (d *Driver) ensureIdle(ctx context.Context) error {
	state, err := d.p.State(ctx)
	if err != nil {
		return err
	}
	if state == dfu.StateIdle {
		return nil
	}
	d.logDebug("aborting to idle", "state", state)
	return d.p.AbortToIdle(ctx)
}
