// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dfuse

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/embeddedgo/dfuse/dfu"
)

// Command is a DfuSe special command, sent as the first byte of a DFU_DNLOAD
// request with block number 0.
type Command uint8

const (
	CmdGetCommands   Command = 0x00
	CmdSetAddress    Command = 0x21
	CmdEraseSector   Command = 0x41
	CmdReadUnprotect Command = 0x92
)

var cmdStr = map[Command]string{
	CmdGetCommands:   "GET_COMMANDS",
	CmdSetAddress:    "SET_ADDRESS",
	CmdEraseSector:   "ERASE_SECTOR",
	CmdReadUnprotect: "READ_UNPROTECT",
}

func (c Command) String() string {
	if s, ok := cmdStr[c]; ok {
		return s
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}

// encodeCommand returns the DFU_DNLOAD payload of the command cmd with
// the little-endian parameter param of paramLen bytes.
func encodeCommand(cmd Command, param uint32, paramLen int) ([]byte, error) {
	switch paramLen {
	case 1:
		return []byte{byte(cmd), byte(param)}, nil
	case 4:
		p := make([]byte, 5)
		p[0] = byte(cmd)
		binary.LittleEndian.PutUint32(p[1:], param)
		return p, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedParamLength, paramLen)
}

// exchange sends the raw command payload at block 0 and waits until the
// device finishes executing it.
func (d *Driver) exchange(ctx context.Context, cmd Command, payload []byte) error {
	if _, err := d.p.Write(ctx, payload, 0); err != nil {
		return &CommandError{Cmd: cmd, Err: err}
	}
	st, err := d.p.PollUntil(ctx, func(s dfu.State) bool {
		return s != dfu.StateDnbusy
	})
	if err != nil {
		return &CommandError{Cmd: cmd, Err: err}
	}
	if st.Status != dfu.StatusOK {
		return &CommandError{Cmd: cmd, Status: st.Status, State: st.State}
	}
	return nil
}

func (d *Driver) command(ctx context.Context, cmd Command, param uint32, paramLen int) error {
	payload, err := encodeCommand(cmd, param, paramLen)
	if err != nil {
		return err
	}
	return d.exchange(ctx, cmd, payload)
}

func (d *Driver) run(op string, f func() error) (err error) {
	defer wrapErr(op, &err)
	if err = d.enter(); err != nil {
		return
	}
	defer d.leave()
	return f()
}

// SetAddress sets the address pointer of the device. Subsequent data blocks
// are written to and read from this address.
func (d *Driver) SetAddress(ctx context.Context, addr uint32) error {
	return d.run("SetAddress", func() error {
		return d.command(ctx, CmdSetAddress, addr, 4)
	})
}

// EraseSector erases the flash sector (page) that contains addr.
func (d *Driver) EraseSector(ctx context.Context, addr uint32) error {
	return d.run("EraseSector", func() error {
		return d.command(ctx, CmdEraseSector, addr, 4)
	})
}

// MassErase erases all erasable memory of the device.
func (d *Driver) MassErase(ctx context.Context) error {
	return d.run("MassErase", func() error {
		return d.exchange(ctx, CmdEraseSector, []byte{byte(CmdEraseSector)})
	})
}

// ReadUnprotect removes the read protection of the device. The device erases
// all its memory and usually resets itself, so the status poll may fail even
// if the command succeeded.
func (d *Driver) ReadUnprotect(ctx context.Context) error {
	return d.run("ReadUnprotect", func() error {
		return d.exchange(ctx, CmdReadUnprotect, []byte{byte(CmdReadUnprotect)})
	})
}

// GetCommands sends the GET_COMMANDS command.
func (d *Driver) GetCommands(ctx context.Context) error {
	return d.run("GetCommands", func() error {
		return d.command(ctx, CmdGetCommands, 0, 1)
	})
}

// Commands returns the list of the special commands supported by the device,
// read using DFU_UPLOAD with block number 0.
func (d *Driver) Commands(ctx context.Context) (cmds []Command, err error) {
	err = d.run("Commands", func() error {
		if err := d.p.AbortToIdle(ctx); err != nil {
			return err
		}
		b, err := d.p.Read(ctx, 64, 64, 0)
		if err != nil {
			return err
		}
		for _, c := range b {
			cmds = append(cmds, Command(c))
		}
		// A short reply does not make Read abort.
		return d.p.AbortToIdle(ctx)
	})
	return
}

// Leave makes the device leave the DFU mode and jump to addr.
func (d *Driver) Leave(ctx context.Context, addr uint32) error {
	return d.run("Leave", func() error {
		return d.manifest(ctx, addr)
	})
}

// manifest sets the address pointer to addr and sends the zero-length
// download that starts the manifestation. Many devices reset immediately so
// a failed final status poll is only logged.
func (d *Driver) manifest(ctx context.Context, addr uint32) error {
	if err := d.command(ctx, CmdSetAddress, addr, 4); err != nil {
		return &ManifestationError{err}
	}
	if _, err := d.p.Write(ctx, nil, 0); err != nil {
		return &ManifestationError{err}
	}
	_, err := d.p.PollUntil(ctx, func(s dfu.State) bool {
		return s == dfu.StateManifest
	})
	if err != nil {
		d.logDebug("manifestation status not received", "err", err)
	}
	return nil
}
