// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dfu

import (
	"context"
	"fmt"
	"time"
)

// NoLimit passed as maxSize to Device.Read reads until the device returns
// a short block.
const NoLimit = -1

type config struct {
	pollLimit int
	pollScale uint
	minPoll   time.Duration
	progress  func(done, total int)
}

type Option func(*config)

// WithPollLimit limits the number of DFU_GETSTATUS requests issued by a single
// PollUntil call. Zero means no limit.
func WithPollLimit(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.pollLimit = n
		}
	}
}

// WithPollScale divides the bwPollTimeout reported by the device. Some
// bootloaders (e.g. STM32) report timeouts much longer than necessary.
func WithPollScale(scale uint) Option {
	return func(c *config) {
		if scale > 0 {
			c.pollScale = scale
		}
	}
}

// WithMinPollInterval sets the shortest delay between two status requests.
func WithMinPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.minPoll = d
	}
}

// WithProgress sets the function called after every block transferred by
// Read. The total is negative if unknown.
func WithProgress(f func(done, total int)) Option {
	return func(c *config) {
		c.progress = f
	}
}

// Device speaks the DFU class protocol with one DFU interface of a device.
// Device is not safe for concurrent use: the device is a single state
// machine and requests must not interleave.
type Device struct {
	t         Transport
	iid       uint16
	statusBuf [6]byte
	cfg       config
}

// NewDevice returns a Device that uses t to talk to the DFU interface iid.
func NewDevice(t Transport, iid uint16, opts ...Option) *Device {
	if t == nil {
		panic("dfu: nil transport")
	}
	cfg := config{pollLimit: 10000, pollScale: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{t: t, iid: iid, cfg: cfg}
}

// Write sends p in a DFU_DNLOAD request with the given block number. A zero
// length p signals the end of the download.
func (d *Device) Write(ctx context.Context, p []byte, block uint16) (n int, err error) {
	defer wrapErr("Dnload", &err)
	if err = ctx.Err(); err != nil {
		return
	}
	return d.t.Control(RequestOut, ReqDnload, block, d.iid, p)
}

func (d *Device) upload(ctx context.Context, block uint16, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.t.Control(RequestIn, ReqUpload, block, d.iid, p)
}

// Upload reads one block using the DFU_UPLOAD request.
func (d *Device) Upload(ctx context.Context, block uint16, p []byte) (n int, err error) {
	n, err = d.upload(ctx, block, p)
	wrapErr("Upload", &err)
	return
}

// Read reads the device memory using consecutive DFU_UPLOAD requests,
// starting from the firstBlock block number. Every request asks for
// xferSize bytes or less if maxSize would be exceeded. Read stops after
// a short block or after reading maxSize bytes. In the latter case the
// device is returned to the idle state.
func (d *Device) Read(ctx context.Context, xferSize, maxSize int, firstBlock uint16) (data []byte, err error) {
	defer wrapErr("Read", &err)
	if xferSize <= 0 {
		return nil, fmt.Errorf("bad transfer size: %d", xferSize)
	}
	d.progress(0, maxSize)
	buf := make([]byte, xferSize)
	block := firstBlock
	for maxSize < 0 || len(data) < maxSize {
		n := xferSize
		if maxSize >= 0 && maxSize-len(data) < n {
			n = maxSize - len(data)
		}
		var m int
		m, err = d.upload(ctx, block, buf[:n])
		if err != nil {
			return
		}
		block++
		data = append(data, buf[:m]...)
		d.progress(len(data), maxSize)
		if m < n {
			return
		}
	}
	err = d.abortToIdle(ctx)
	return
}

func (d *Device) progress(done, total int) {
	if d.cfg.progress != nil {
		d.cfg.progress(done, total)
	}
}

func (d *Device) status(ctx context.Context) (st StatusReport, err error) {
	if err = ctx.Err(); err != nil {
		return
	}
	var n int
	n, err = d.t.Control(RequestIn, ReqGetStatus, 0, d.iid, d.statusBuf[:])
	if err != nil {
		return
	}
	if n != len(d.statusBuf) {
		err = fmt.Errorf("status returned %d bytes", n)
		return
	}
	b := &d.statusBuf
	st.Status = Status(b[0])
	st.PollTimeout = time.Duration(uint(b[1])|uint(b[2])<<8|uint(b[3])<<16) * time.Millisecond
	st.State = State(b[4])
	st.IString = b[5]
	return
}

// Status returns the response to the DFU_GETSTATUS request.
func (d *Device) Status(ctx context.Context) (st StatusReport, err error) {
	st, err = d.status(ctx)
	wrapErr("GetStatus", &err)
	return
}

func (d *Device) state(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return StateError, err
	}
	var buf [1]byte
	n, err := d.t.Control(RequestIn, ReqGetState, 0, d.iid, buf[:])
	if err != nil {
		return StateError, err
	}
	if n != 1 {
		return StateError, fmt.Errorf("state returned %d bytes", n)
	}
	return State(buf[0]), nil
}

// State returns the response to the DFU_GETSTATE request.
func (d *Device) State(ctx context.Context) (s State, err error) {
	s, err = d.state(ctx)
	wrapErr("GetState", &err)
	return
}

func (d *Device) clearStatus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.t.Control(RequestOut, ReqClrStatus, 0, d.iid, nil)
	return err
}

// ClearStatus sends DFU_CLRSTATUS which moves the device out of the dfuERROR
// state.
func (d *Device) ClearStatus(ctx context.Context) (err error) {
	err = d.clearStatus(ctx)
	wrapErr("ClrStatus", &err)
	return
}

// Abort sends DFU_ABORT.
func (d *Device) Abort(ctx context.Context) (err error) {
	defer wrapErr("Abort", &err)
	if err = ctx.Err(); err != nil {
		return
	}
	_, err = d.t.Control(RequestOut, ReqAbort, 0, d.iid, nil)
	return
}

// Detach asks a device in the run-time mode to switch to the DFU mode
// after the USB reset. The timeout is in milliseconds.
func (d *Device) Detach(ctx context.Context, timeout uint16) (err error) {
	defer wrapErr("Detach", &err)
	if err = ctx.Err(); err != nil {
		return
	}
	_, err = d.t.Control(RequestOut, ReqDetach, timeout, d.iid, nil)
	return
}

func (d *Device) wait(ctx context.Context, timeout time.Duration) error {
	timeout /= time.Duration(d.cfg.pollScale)
	if timeout < d.cfg.minPoll {
		timeout = d.cfg.minPoll
	}
	if timeout <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Device) pollUntil(ctx context.Context, pred func(State) bool) (st StatusReport, err error) {
	for i := 1; ; i++ {
		st, err = d.status(ctx)
		if err != nil {
			return
		}
		if pred(st.State) || st.State == StateError {
			return
		}
		if d.cfg.pollLimit > 0 && i >= d.cfg.pollLimit {
			err = ErrPollLimit
			return
		}
		if err = d.wait(ctx, st.PollTimeout); err != nil {
			return
		}
	}
}

// PollUntil repeats DFU_GETSTATUS, waiting the poll timeout requested by the
// device between requests, until pred reports true for the device state or
// the device enters the dfuERROR state. It returns the last status.
func (d *Device) PollUntil(ctx context.Context, pred func(State) bool) (st StatusReport, err error) {
	st, err = d.pollUntil(ctx, pred)
	wrapErr("PollUntil", &err)
	return
}

// PollUntilIdle polls the device until it reports the idle state.
func (d *Device) PollUntilIdle(ctx context.Context, idle State) (StatusReport, error) {
	return d.PollUntil(ctx, func(s State) bool { return s == idle })
}

func (d *Device) abortToIdle(ctx context.Context) error {
	// Devices in the dfuERROR state may stall DFU_ABORT.
	_, aerr := d.t.Control(RequestOut, ReqAbort, 0, d.iid, nil)
	s, err := d.state(ctx)
	if err != nil {
		return err
	}
	if s == StateError {
		if err = d.clearStatus(ctx); err != nil {
			return err
		}
		if s, err = d.state(ctx); err != nil {
			return err
		}
	}
	if s != StateIdle {
		if aerr != nil {
			return aerr
		}
		return &UnexpectedStateError{Want: StateIdle, Got: s}
	}
	return nil
}

// AbortToIdle aborts the current operation and makes sure that the device
// ends up in the dfuIDLE state, clearing the error status if required.
func (d *Device) AbortToIdle(ctx context.Context) (err error) {
	if err = ctx.Err(); err == nil {
		err = d.abortToIdle(ctx)
	}
	wrapErr("AbortToIdle", &err)
	return
}

