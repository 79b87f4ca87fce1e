// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dfuse

import (
	"errors"
	"fmt"

	"github.com/embeddedgo/dfuse/dfu"
)

var (
	// ErrUnknownSegment is returned by Erase if an address in the erased
	// range belongs to no segment of the memory map.
	ErrUnknownSegment = errors.New("unknown segment")

	// ErrUnsupportedParamLength is returned when a DfuSe command is encoded
	// with a parameter that is neither 1 nor 4 bytes long.
	ErrUnsupportedParamLength = errors.New("unsupported command parameter length")

	// ErrNoProgress is returned by Write if the device accepts no bytes of
	// a non-empty block.
	ErrNoProgress = errors.New("device accepted no data")

	// ErrBusy is returned if an operation is started while another one is
	// still running on the same Driver.
	ErrBusy = errors.New("another operation in progress")
)

// CommandError reports a failed DfuSe special command. Err is set if the
// command could not be sent, otherwise Status and State contain the device
// response.
type CommandError struct {
	Cmd    Command
	Status dfu.Status
	State  dfu.State
	Err    error
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return "special DfuSe command " + e.Cmd.String() + ": " + e.Err.Error()
	}
	return fmt.Sprintf(
		"special DfuSe command %v failed: state=%v, status=%v",
		e.Cmd, e.State, e.Status,
	)
}

// WriteError reports a non-OK status after a data block was downloaded.
type WriteError struct {
	State  dfu.State
	Status dfu.Status
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("download failed: state=%v, status=%v", e.State, e.Status)
}

// ManifestationError reports a failure to start the manifestation after all
// data was written.
type ManifestationError struct {
	Err error
}

func (e *ManifestationError) Unwrap() error {
	return e.Err
}

func (e *ManifestationError) Error() string {
	return "manifestation: " + e.Err.Error()
}

type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return "dfuse: " + e.Op + ": " + e.Err.Error()
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}
