// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package info

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/embeddedgo/dfuse/dfu/usbdfu"
	"github.com/embeddedgo/dfuse/dfutool/internal/util"
	"github.com/embeddedgo/dfuse/memmap"
	usb "github.com/google/gousb"
	"github.com/spf13/cobra"
)

const Descr = "list DFU devices and their memory maps"

func Command(o *util.Options) *cobra.Command {
	var cmds, detach bool
	c := &cobra.Command{
		Use:   "info",
		Short: Descr,
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			list(o)
			if cmds || detach {
				query(o, cmds, detach)
			}
		},
	}
	c.Flags().BoolVar(&cmds, "commands", false, "print the DfuSe commands supported by the selected device")
	c.Flags().BoolVar(&detach, "detach", false, "ask the selected device to detach (run-time mode)")
	return c
}

func list(o *util.Options) {
	infos, err := usbdfu.List(usb.ID(o.Vendor), usb.ID(o.Product), o.BusAddr)
	util.FatalErr("", err)
	if len(infos) == 0 {
		util.Fatal("no USB devices in DFU mode were found")
	}
	w := os.Stdout
	for _, in := range infos {
		fmt.Fprintf(w, "Bus %03d Device %03d: ID %v:%v\n", in.Bus, in.Address, in.Vendor, in.Product)
		for _, a := range in.Alts {
			fmt.Fprintf(w, "  alt %d (cfg %d, intf %d): %q\n", a.Alternate, a.Config, a.Interface, a.Name)
			m, err := memmap.Parse(a.Name)
			if errors.Is(err, memmap.ErrNotDescriptor) {
				continue
			}
			if err != nil {
				util.Warn("    %v", err)
				continue
			}
			fmt.Fprintln(w, "    "+strings.ReplaceAll(strings.TrimSpace(m.String()), "\n", "\n    "))
		}
	}
}

func query(o *util.Options, cmds, detach bool) {
	t := util.Connect(o)
	defer t.Close()
	fd := t.Conn.FuncDesc()
	fmt.Printf(
		"DFU %x.%02x, attributes %#02x, wTransferSize %d, wDetachTimeout %d ms\n",
		fd.DFUVersion>>8, fd.DFUVersion&0xff, fd.Attributes, fd.TransferSize,
		fd.DetachTimeout,
	)
	ctx := context.Background()
	if cmds {
		cs, err := t.Driver.Commands(ctx)
		util.FatalErr("", err)
		fmt.Print("Commands:")
		for _, c := range cs {
			fmt.Print(" ", c)
		}
		fmt.Println()
	}
	if detach {
		util.FatalErr("", t.Dev.Detach(ctx, fd.DetachTimeout))
	}
}
