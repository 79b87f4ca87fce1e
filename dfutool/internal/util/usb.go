// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package util

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/embeddedgo/dfuse/dfu"
	"github.com/embeddedgo/dfuse/dfu/usbdfu"
	"github.com/embeddedgo/dfuse/dfuse"
	"github.com/embeddedgo/dfuse/memmap"
	usb "github.com/google/gousb"
	"github.com/spf13/pflag"
)

// Options contains the device selection and logging flags common to all
// commands.
type Options struct {
	Vendor, Product uint16
	BusAddr         string
	Alt             int
	PollScale       uint
	Quiet           bool
	Verbose         int
}

// AddFlags registers the common flags in fs.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.Uint16Var(&o.Vendor, "vid", 0x0483, "USB vendor ID (0 matches any)")
	fs.Uint16Var(&o.Product, "pid", 0xdf11, "USB product ID (0 matches any)")
	fs.StringVar(&o.BusAddr, "usb", "", "select the device by its `BUS:ADDR`")
	fs.IntVar(&o.Alt, "alt", -1, "DFU alternate setting (default: the flash one)")
	fs.UintVar(&o.PollScale, "poll-scale", 1, "divide the poll timeout requested by the device")
	fs.BoolVarP(&o.Quiet, "quiet", "q", false, "do not draw the progress bar")
	fs.CountVarP(&o.Verbose, "verbose", "v", "increase the log verbosity (-v, -vv)")
}

// Logger returns the text logger writing to the standard error.
func (o *Options) Logger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case o.Verbose >= 2:
		level = slog.LevelDebug
	case o.Verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Target is a DfuSe device ready to use.
type Target struct {
	Conn   *usbdfu.Conn
	Dev    *dfu.Device
	Driver *dfuse.Driver

	bar func(done, total int)
}

// Connect connects to the selected DFU device and parses the memory
// descriptor of its alternate setting. The progress labels are passed to
// Bar, no progress is drawn without labels.
func Connect(o *Options, labels ...string) *Target {
	conn, err := usbdfu.Connect(usb.ID(o.Vendor), usb.ID(o.Product), o.BusAddr, o.Alt)
	FatalErr("", err)
	log := o.Logger()
	alt := conn.Alt()
	log.Info("connected", "alt", alt.Alternate, "name", alt.Name)
	mem, err := memmap.Parse(alt.Name)
	switch {
	case errors.Is(err, memmap.ErrNotDescriptor):
		log.Warn("alternate setting without memory map", "name", alt.Name)
	case err != nil:
		conn.Close()
		FatalErr("memory map", err)
	}
	bar := Bar(o.Quiet, labels...)
	dopts := []dfu.Option{
		dfu.WithPollScale(o.PollScale),
		dfu.WithMinPollInterval(time.Millisecond),
	}
	if bar != nil {
		dopts = append(dopts, dfu.WithProgress(bar))
	}
	dev := conn.Device(dopts...)
	opts := []dfuse.Option{dfuse.WithLogger(log)}
	if bar != nil {
		opts = append(opts, dfuse.WithProgress(bar))
	}
	return &Target{conn, dev, dfuse.New(dev, mem, opts...), bar}
}

// EndProgress terminates the progress line of an operation that stopped
// before reaching its total.
func (t *Target) EndProgress() {
	if t.bar != nil {
		os.Stderr.WriteString("\n")
	}
}

// TransferSize returns xfer if not zero, otherwise the wTransferSize of the
// device.
func (t *Target) TransferSize(xfer int) int {
	if xfer > 0 {
		return xfer
	}
	if n := int(t.Conn.FuncDesc().TransferSize); n > 0 {
		return n
	}
	return 1024
}

func (t *Target) Close() {
	if err := t.Conn.Close(); err != nil {
		Warn("%v", err)
	}
}
