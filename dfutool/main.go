// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Dfutool reads, writes and erases the memory of devices that support the
// DfuSe extension of the USB DFU protocol (e.g. the STM32 system bootloader).
package main

import (
	"os"

	"github.com/embeddedgo/dfuse/dfutool/internal/cmd/dump"
	"github.com/embeddedgo/dfuse/dfutool/internal/cmd/erase"
	"github.com/embeddedgo/dfuse/dfutool/internal/cmd/info"
	"github.com/embeddedgo/dfuse/dfutool/internal/cmd/leave"
	"github.com/embeddedgo/dfuse/dfutool/internal/cmd/load"
	"github.com/embeddedgo/dfuse/dfutool/internal/util"
	"github.com/spf13/cobra"
)

func main() {
	var opts util.Options
	root := &cobra.Command{
		Use:           "dfutool",
		Short:         "DfuSe device programmer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(root.PersistentFlags())
	root.AddCommand(
		info.Command(&opts),
		load.Command(&opts),
		dump.Command(&opts),
		erase.Command(&opts),
		leave.Command(&opts),
	)
	if err := root.Execute(); err != nil {
		util.Warn("%v", err)
		os.Exit(1)
	}
}
