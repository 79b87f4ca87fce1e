// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dump

import (
	"context"

	"github.com/embeddedgo/dfuse/dfuse"
	"github.com/embeddedgo/dfuse/dfutool/internal/util"
	"github.com/spf13/cobra"
)

const Descr = "read the device memory to a binary or Intel HEX file"

func Command(o *util.Options) *cobra.Command {
	var (
		addr, size uint32
		xfer       int
	)
	c := &cobra.Command{
		Use:   "dump FILE",
		Short: Descr,
		Long: Descr + ".\n\n" +
			"FILE is written in the Intel HEX format if its name ends with .hex.\n" +
			"By default the whole readable memory that starts at --addr is read.",
		Args: cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			t := util.Connect(o, "Reading:")
			defer t.Close()
			d := t.Driver
			if c.Flags().Changed("addr") {
				d.StartAddress = dfuse.AddrOf(addr)
			} else if m := d.Memory(); m != nil && len(m.Segments) != 0 {
				addr = m.Segments[0].Start
			}
			if !c.Flags().Changed("size") {
				var err error
				size, err = d.MaxReadSize(addr)
				util.FatalErr("", err)
				if size == 0 {
					util.Fatal("no readable memory at %#08x", addr)
				}
			}
			data, err := d.Read(context.Background(), t.TransferSize(xfer), int(size))
			util.FatalErr("", err)
			if len(data) < int(size) {
				t.EndProgress()
				util.Warn("read %d bytes of %d", len(data), size)
			}
			util.FatalErr("", util.WriteImage(args[0], addr, data))
		},
	}
	fs := c.Flags()
	fs.Uint32Var(&addr, "addr", 0, "start address (default: start of the memory map)")
	fs.Uint32Var(&size, "size", 0, "number of bytes to read (default: all readable)")
	fs.IntVar(&xfer, "xfer", 0, "transfer size (default: wTransferSize of the device)")
	return c
}
