// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dfuse implements the STMicroelectronics DfuSe extension of the DFU
// protocol: address targeted erase, download and upload of the device memory
// described by a DfuSe memory map.
//
// A Driver drives one DFU alternate setting of one device. It does not
// support concurrent operations: the device is a single state machine and
// overlapping requests would corrupt its state.
package dfuse

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/embeddedgo/dfuse/dfu"
	"github.com/embeddedgo/dfuse/memmap"
)

// Protocol is the base DFU protocol used by the Driver. It is implemented by
// *dfu.Device.
type Protocol interface {
	// Write sends one DFU_DNLOAD request.
	Write(ctx context.Context, p []byte, block uint16) (int, error)

	// Read reads up to maxSize bytes (dfu.NoLimit for no limit) using
	// DFU_UPLOAD requests of xferSize bytes starting from firstBlock.
	Read(ctx context.Context, xferSize, maxSize int, firstBlock uint16) ([]byte, error)

	State(ctx context.Context) (dfu.State, error)
	PollUntil(ctx context.Context, pred func(dfu.State) bool) (dfu.StatusReport, error)
	PollUntilIdle(ctx context.Context, idle dfu.State) (dfu.StatusReport, error)
	AbortToIdle(ctx context.Context) error
}

// Logger is the logging interface used by the Driver. *slog.Logger
// implements it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ProgressFunc is called to report the progress of an erase or write
// operation. Implementations should return quickly.
type ProgressFunc func(done, total int)

// Addr is an optional device address. The zero value means unset which is
// different from the valid device address 0.
type Addr struct {
	v  uint32
	ok bool
}

// AddrOf returns the set address a.
func AddrOf(a uint32) Addr {
	return Addr{a, true}
}

// Get returns the address and whether it is set.
func (a Addr) Get() (uint32, bool) {
	return a.v, a.ok
}

func (a Addr) IsSet() bool {
	return a.ok
}

func (a Addr) String() string {
	if !a.ok {
		return "unset"
	}
	return hex(a.v)
}

func hex(a uint32) string {
	return fmt.Sprintf("%#08x", a)
}

type config struct {
	logger   Logger
	progress ProgressFunc
	start    Addr
}

// Option configures the Driver.
type Option func(*config)

// WithLogger sets the logger. By default the Driver does not log.
func WithLogger(l Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithProgress sets the function used to report the erase and write progress.
func WithProgress(f ProgressFunc) Option {
	return func(c *config) {
		c.progress = f
	}
}

// WithStartAddress sets the initial value of Driver.StartAddress.
func WithStartAddress(a uint32) Option {
	return func(c *config) {
		c.start = AddrOf(a)
	}
}

// Driver is a DfuSe driver of one DFU alternate setting.
type Driver struct {
	// StartAddress is the address used by Write and Read. If unset, the start
	// of the first segment of the memory map is used. It must not be modified
	// while an operation is in progress.
	StartAddress Addr

	p    Protocol
	mem  *memmap.Info
	cfg  config
	busy atomic.Bool
}

// New returns a Driver that uses p to talk to the device whose memory is
// described by mem. The memory map is not modified by the Driver.
func New(p Protocol, mem *memmap.Info, opts ...Option) *Driver {
	if p == nil {
		panic("dfuse: nil protocol")
	}
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Driver{StartAddress: cfg.start, p: p, mem: mem, cfg: cfg}
}

// Memory returns the memory map.
func (d *Driver) Memory() *memmap.Info {
	return d.mem
}

// Segment returns the segment that contains addr or nil.
func (d *Driver) Segment(addr uint32) (*memmap.Segment, error) {
	return d.mem.Segment(addr)
}

// SectorStart returns the start address of the sector that contains addr.
// The segment s may be nil.
func (d *Driver) SectorStart(addr uint32, s *memmap.Segment) (uint32, error) {
	return d.mem.SectorStart(addr, s)
}

// SectorEnd returns the end address of the sector that contains addr.
// The segment s may be nil.
func (d *Driver) SectorEnd(addr uint32, s *memmap.Segment) (uint32, error) {
	return d.mem.SectorEnd(addr, s)
}

// FirstWritableSegment returns the first writable segment or nil.
func (d *Driver) FirstWritableSegment() (*memmap.Segment, error) {
	return d.mem.FirstWritable()
}

// MaxReadSize returns the number of contiguous readable bytes at addr.
func (d *Driver) MaxReadSize(addr uint32) (uint32, error) {
	return d.mem.MaxReadSize(addr)
}

func (d *Driver) enter() error {
	if !d.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (d *Driver) leave() {
	d.busy.Store(false)
}

// startAddress returns the effective start address. An explicit address
// outside of the memory map is only reported: the device will refuse it.
func (d *Driver) startAddress(strict bool) (uint32, error) {
	if d.mem == nil {
		return 0, memmap.ErrNoMemoryMap
	}
	if a, ok := d.StartAddress.Get(); ok {
		if s, _ := d.mem.Segment(a); s == nil {
			if strict {
				d.logError("start address outside of memory map bounds", "addr", hex(a))
			} else {
				d.logWarn("start address outside of memory map bounds", "addr", hex(a))
			}
		}
		return a, nil
	}
	if len(d.mem.Segments) == 0 {
		return 0, fmt.Errorf("%w: empty memory map", ErrUnknownSegment)
	}
	a := d.mem.Segments[0].Start
	d.logWarn("using inferred start address", "addr", hex(a))
	return a, nil
}

func (d *Driver) progress(done, total int) {
	if d.cfg.progress != nil {
		d.cfg.progress(done, total)
	}
}

func (d *Driver) logDebug(msg string, args ...any) {
	if d.cfg.logger != nil {
		d.cfg.logger.Debug(msg, args...)
	}
}

func (d *Driver) logInfo(msg string, args ...any) {
	if d.cfg.logger != nil {
		d.cfg.logger.Info(msg, args...)
	}
}

func (d *Driver) logWarn(msg string, args ...any) {
	if d.cfg.logger != nil {
		d.cfg.logger.Warn(msg, args...)
	}
}

func (d *Driver) logError(msg string, args ...any) {
	if d.cfg.logger != nil {
		d.cfg.logger.Error(msg, args...)
	}
}
