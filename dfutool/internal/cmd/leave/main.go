// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leave

import (
	"context"

	"github.com/embeddedgo/dfuse/dfutool/internal/util"
	"github.com/spf13/cobra"
)

const Descr = "leave the DFU mode and run the program at the given address"

func Command(o *util.Options) *cobra.Command {
	var addr uint32
	c := &cobra.Command{
		Use:   "leave",
		Short: Descr,
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			t := util.Connect(o)
			defer t.Close()
			if !c.Flags().Changed("addr") {
				m := t.Driver.Memory()
				if m == nil || len(m.Segments) == 0 {
					util.Fatal("leave: --addr required")
				}
				addr = m.Segments[0].Start
			}
			util.FatalErr("", t.Driver.Leave(context.Background(), addr))
		},
	}
	c.Flags().Uint32Var(&addr, "addr", 0, "program address (default: start of the memory map)")
	return c
}
