// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dfutest provides a simulated DfuSe device for testing. The device
// implements dfu.Transport so it can be driven by dfu.Device exactly like
// a real device connected over USB.
package dfutest

import (
	"encoding/binary"
	"errors"

	"github.com/embeddedgo/dfuse/dfu"
	"github.com/embeddedgo/dfuse/memmap"
)

var (
	// ErrStall is returned for requests the device stalls.
	ErrStall = errors.New("dfutest: pipe stalled")

	// ErrNoDevice is returned for every request after the device reset
	// itself on manifestation (see Device.ResetOnManifest).
	ErrNoDevice = errors.New("dfutest: no device")
)

// DfuSe command bytes as seen by the device.
const (
	cmdGetCommands = 0x00
	cmdSetAddress  = 0x21
	cmdErase       = 0x41
)

// Request records one control request received by the device.
type Request struct {
	Req   uint8
	Value uint16
	Len   int    // wLength
	Data  []byte // copy of the OUT data stage
}

// Device is a simulated DfuSe device. Its memory is initialized to 0xff and
// behaves like NOR flash: programming can only clear bits and the segments
// must be erased before they can be written again.
type Device struct {
	// TransferSize is the wTransferSize used to compute the address of the
	// data blocks (address = pointer + (block-2)*TransferSize).
	TransferSize int

	// PollTimeout is reported in every DFU_GETSTATUS response.
	PollTimeout uint32

	// ShortWrite, if not zero, limits the number of bytes the device accepts
	// from one data block.
	ShortWrite int

	// BlockStatus, if not OK, is reported after every data block.
	BlockStatus dfu.Status

	// Fault, if not nil, is called before the request is processed. A non-nil
	// result is returned to the host and the request is dropped.
	Fault func(r Request) error

	// ResetOnManifest makes the device disappear from the bus as soon as it
	// starts the manifestation.
	ResetOnManifest bool

	// Log contains all received requests.
	Log []Request

	// Manifested is set when the device leaves DFU mode, LeaveAddr is the
	// address it would jump to.
	Manifested bool
	LeaveAddr  uint32

	mem     *memmap.Info
	data    [][]byte
	ptr     uint32
	state   dfu.State
	status  dfu.Status
	pending func() dfu.Status
	gone    bool
}

// New returns a simulated device with the memory described by m.
func New(m *memmap.Info, transferSize int) *Device {
	d := &Device{TransferSize: transferSize, mem: m, state: dfu.StateIdle}
	d.data = make([][]byte, len(m.Segments))
	for i := range m.Segments {
		b := make([]byte, m.Segments[i].Size())
		for k := range b {
			b[k] = 0xff
		}
		d.data[i] = b
	}
	if len(m.Segments) != 0 {
		d.ptr = m.Segments[0].Start
	}
	return d
}

// Memory returns a copy of n bytes of the device memory starting at addr.
// Bytes outside of the memory map are returned as zeros.
func (d *Device) Memory(addr uint32, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		if si, off, ok := d.locate(addr + uint32(i)); ok {
			p[i] = d.data[si][off]
		}
	}
	return p
}

// Poke stores p directly in the device memory, bypassing the flash rules.
func (d *Device) Poke(addr uint32, p []byte) {
	for i, b := range p {
		if si, off, ok := d.locate(addr + uint32(i)); ok {
			d.data[si][off] = b
		}
	}
}

// State returns the current DFU state of the device.
func (d *Device) State() dfu.State {
	return d.state
}

// Commands returns the DfuSe commands (block 0 downloads) received so far.
func (d *Device) Commands() [][]byte {
	var cmds [][]byte
	for _, r := range d.Log {
		if r.Req == dfu.ReqDnload && r.Value == 0 && len(r.Data) != 0 {
			cmds = append(cmds, r.Data)
		}
	}
	return cmds
}

func (d *Device) locate(addr uint32) (seg int, off uint32, ok bool) {
	for i := range d.mem.Segments {
		if s := &d.mem.Segments[i]; s.Contains(addr) {
			return i, addr - s.Start, true
		}
	}
	return 0, 0, false
}

func (d *Device) fail(st dfu.Status) {
	d.state = dfu.StateError
	d.status = st
}

func (d *Device) stall() error {
	d.fail(dfu.StatusErrStalledPkt)
	return ErrStall
}

// Control implements dfu.Transport.
func (d *Device) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	r := Request{Req: request, Value: val, Len: len(data)}
	if rType == dfu.RequestOut && len(data) != 0 {
		r.Data = append([]byte(nil), data...)
	}
	d.Log = append(d.Log, r)
	if d.gone {
		return 0, ErrNoDevice
	}
	if d.Fault != nil {
		if err := d.Fault(r); err != nil {
			return 0, err
		}
	}
	switch {
	case rType == dfu.RequestOut && request == dfu.ReqDnload:
		return d.dnload(val, data)
	case rType == dfu.RequestIn && request == dfu.ReqUpload:
		return d.upload(val, data)
	case rType == dfu.RequestIn && request == dfu.ReqGetStatus:
		return d.getStatus(data)
	case rType == dfu.RequestIn && request == dfu.ReqGetState:
		if len(data) < 1 {
			return 0, d.stall()
		}
		data[0] = byte(d.state)
		return 1, nil
	case rType == dfu.RequestOut && request == dfu.ReqClrStatus:
		if d.state == dfu.StateError {
			d.state = dfu.StateIdle
			d.status = dfu.StatusOK
		}
		return 0, nil
	case rType == dfu.RequestOut && request == dfu.ReqAbort:
		switch d.state {
		case dfu.StateIdle, dfu.StateDnloadSync, dfu.StateDnloadIdle,
			dfu.StateManifestSync, dfu.StateUploadIdle:
			d.state = dfu.StateIdle
			d.pending = nil
			return 0, nil
		}
		return 0, d.stall()
	case rType == dfu.RequestOut && request == dfu.ReqDetach:
		return 0, nil
	}
	return 0, d.stall()
}

func (d *Device) dnload(block uint16, data []byte) (int, error) {
	if d.state != dfu.StateIdle && d.state != dfu.StateDnloadIdle {
		return 0, d.stall()
	}
	switch {
	case len(data) == 0:
		d.state = dfu.StateManifestSync
		leave := d.ptr
		d.pending = func() dfu.Status {
			d.Manifested = true
			d.LeaveAddr = leave
			return dfu.StatusOK
		}
		return 0, nil
	case block == 0:
		d.state = dfu.StateDnloadSync
		d.pending = d.command(data)
		return len(data), nil
	case block == 1:
		return 0, d.stall()
	}
	n := len(data)
	if d.ShortWrite > 0 && n > d.ShortWrite {
		n = d.ShortWrite
	}
	addr := d.ptr + uint32(int(block-2)*d.TransferSize)
	p := append([]byte(nil), data[:n]...)
	d.state = dfu.StateDnloadSync
	d.pending = func() dfu.Status {
		if d.BlockStatus != dfu.StatusOK {
			return d.BlockStatus
		}
		return d.program(addr, p)
	}
	return n, nil
}

func (d *Device) command(p []byte) func() dfu.Status {
	switch {
	case p[0] == cmdGetCommands && len(p) <= 2:
		return func() dfu.Status { return dfu.StatusOK }
	case p[0] == cmdSetAddress && len(p) == 5:
		addr := binary.LittleEndian.Uint32(p[1:])
		return func() dfu.Status {
			if _, _, ok := d.locate(addr); !ok {
				return dfu.StatusErrAddress
			}
			d.ptr = addr
			return dfu.StatusOK
		}
	case p[0] == cmdErase && len(p) == 1:
		return func() dfu.Status {
			for i := range d.mem.Segments {
				if d.mem.Segments[i].Erasable {
					fill(d.data[i], 0xff)
				}
			}
			return dfu.StatusOK
		}
	case p[0] == cmdErase && len(p) == 5:
		addr := binary.LittleEndian.Uint32(p[1:])
		return func() dfu.Status { return d.erase(addr) }
	}
	return func() dfu.Status { return dfu.StatusErrStalledPkt }
}

func fill(p []byte, b byte) {
	for i := range p {
		p[i] = b
	}
}

func (d *Device) erase(addr uint32) dfu.Status {
	si, off, ok := d.locate(addr)
	if !ok {
		return dfu.StatusErrAddress
	}
	s := &d.mem.Segments[si]
	if !s.Erasable {
		return dfu.StatusErrErase
	}
	off = off / s.SectorSize * s.SectorSize
	fill(d.data[si][off:off+s.SectorSize], 0xff)
	return dfu.StatusOK
}

func (d *Device) program(addr uint32, p []byte) dfu.Status {
	for i, b := range p {
		si, off, ok := d.locate(addr + uint32(i))
		if !ok {
			return dfu.StatusErrAddress
		}
		if !d.mem.Segments[si].Writable {
			return dfu.StatusErrWrite
		}
		old := d.data[si][off]
		if old&b != b {
			return dfu.StatusErrProg
		}
		d.data[si][off] = old & b
	}
	return dfu.StatusOK
}

func (d *Device) upload(block uint16, p []byte) (int, error) {
	if d.state != dfu.StateIdle && d.state != dfu.StateUploadIdle {
		return 0, d.stall()
	}
	if block == 0 {
		cmds := []byte{cmdGetCommands, cmdSetAddress, cmdErase}
		d.state = dfu.StateIdle
		return copy(p, cmds), nil
	}
	if block == 1 {
		return 0, d.stall()
	}
	addr := d.ptr + uint32(int(block-2)*d.TransferSize)
	n := 0
	for ; n < len(p); n++ {
		si, off, ok := d.locate(addr + uint32(n))
		if !ok || !d.mem.Segments[si].Readable {
			break
		}
		p[n] = d.data[si][off]
	}
	if n < len(p) {
		d.state = dfu.StateIdle
	} else {
		d.state = dfu.StateUploadIdle
	}
	return n, nil
}

func (d *Device) getStatus(p []byte) (int, error) {
	if len(p) < 6 {
		return 0, d.stall()
	}
	switch d.state {
	case dfu.StateDnloadSync:
		d.state = dfu.StateDnbusy
	case dfu.StateDnbusy:
		st := d.pending()
		d.pending = nil
		if st != dfu.StatusOK {
			d.fail(st)
		} else {
			d.state = dfu.StateDnloadIdle
		}
	case dfu.StateManifestSync:
		d.pending()
		d.pending = nil
		d.state = dfu.StateManifest
		if d.ResetOnManifest {
			d.gone = true
			return 0, ErrNoDevice
		}
	}
	p[0] = byte(d.status)
	p[1] = byte(d.PollTimeout)
	p[2] = byte(d.PollTimeout >> 8)
	p[3] = byte(d.PollTimeout >> 16)
	p[4] = byte(d.state)
	p[5] = 0
	return 6, nil
}
