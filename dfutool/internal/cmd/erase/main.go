// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package erase

import (
	"context"

	"github.com/embeddedgo/dfuse/dfutool/internal/util"
	"github.com/spf13/cobra"
)

const Descr = "erase the device memory"

func Command(o *util.Options) *cobra.Command {
	var (
		addr, size uint32
		all        bool
	)
	c := &cobra.Command{
		Use:   "erase",
		Short: Descr,
		Long: Descr + ".\n\n" +
			"Erases all sectors that overlap --size bytes at --addr or, with\n" +
			"--all, the whole memory.",
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			if !all && size == 0 {
				util.Fatal("erase: --size or --all required")
			}
			t := util.Connect(o, "Erasing:")
			defer t.Close()
			ctx := context.Background()
			if all {
				util.FatalErr("", t.Driver.MassErase(ctx))
				return
			}
			if !c.Flags().Changed("addr") {
				s, err := t.Driver.FirstWritableSegment()
				util.FatalErr("", err)
				if s == nil {
					util.Fatal("erase: no writable segment")
				}
				addr = s.Start
			}
			util.FatalErr("", t.Driver.Erase(ctx, addr, size))
		},
	}
	fs := c.Flags()
	fs.Uint32Var(&addr, "addr", 0, "start address (default: first writable segment)")
	fs.Uint32Var(&size, "size", 0, "number of bytes to erase")
	fs.BoolVar(&all, "all", false, "mass erase")
	return c
}
