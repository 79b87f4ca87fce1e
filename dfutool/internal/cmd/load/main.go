// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package load

import (
	"context"

	"github.com/embeddedgo/dfuse/dfuse"
	"github.com/embeddedgo/dfuse/dfutool/internal/util"
	"github.com/spf13/cobra"
)

const Descr = "write an ELF, Intel HEX or binary image to the device"

func Command(o *util.Options) *cobra.Command {
	var (
		addr      uint32
		xfer      int
		massErase bool
	)
	c := &cobra.Command{
		Use:   "load [FILE]",
		Short: Descr,
		Long: Descr + ".\n\n" +
			"If FILE is omitted the ELF file named after the current module or\n" +
			"directory is loaded. The image is written at its own address\n" +
			"(ELF, Intel HEX), at --addr or at the start of the memory map.",
		Args: cobra.MaximumNArgs(1),
		Run: func(c *cobra.Command, args []string) {
			var name string
			if len(args) != 0 {
				name = args[0]
			}
			img, err := util.ReadImage(util.InFile(name, ".elf"))
			util.FatalErr("", err)

			t := util.Connect(o, "Erasing:", "Writing:")
			defer t.Close()
			switch {
			case c.Flags().Changed("addr"):
				t.Driver.StartAddress = dfuse.AddrOf(addr)
			case img.HasAddr:
				t.Driver.StartAddress = dfuse.AddrOf(img.Addr)
			}
			ctx := context.Background()
			if massErase {
				util.FatalErr("", t.Driver.MassErase(ctx))
			}
			err = t.Driver.Write(ctx, t.TransferSize(xfer), img.Data)
			util.FatalErr("", err)
		},
	}
	fs := c.Flags()
	fs.Uint32Var(&addr, "addr", 0, "load address (overrides the image address)")
	fs.IntVar(&xfer, "xfer", 0, "transfer size (default: wTransferSize of the device)")
	fs.BoolVar(&massErase, "mass-erase", false, "erase the whole memory before loading")
	return c
}
