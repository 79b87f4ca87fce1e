// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dfu implements the host side of the USB Device Firmware Upgrade 1.1
// class protocol on top of any transport able to issue control requests.
package dfu

import (
	"errors"
	"fmt"
	"time"
)

// Transport issues USB control requests to the device. It is implemented by
// *gousb.Device and by the simulated device in package dfutest.
type Transport interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// Request types of the DFU class requests (class, interface recipient).
const (
	RequestOut uint8 = 0x21
	RequestIn  uint8 = 0xa1
)

// DFU requests
const (
	ReqDetach    uint8 = 0x00
	ReqDnload    uint8 = 0x01
	ReqUpload    uint8 = 0x02
	ReqGetStatus uint8 = 0x03
	ReqClrStatus uint8 = 0x04
	ReqGetState  uint8 = 0x05
	ReqAbort     uint8 = 0x06
)

type State uint8

// DFU states
const (
	StateAppIdle           State = 0
	StateAppDetach         State = 1
	StateIdle              State = 2
	StateDnloadSync        State = 3
	StateDnbusy            State = 4
	StateDnloadIdle        State = 5
	StateManifestSync      State = 6
	StateManifest          State = 7
	StateManifestWaitReset State = 8
	StateUploadIdle        State = 9
	StateError             State = 10
)

var stateStr = [...]string{
	StateAppIdle:           "app idle",
	StateAppDetach:         "app detach",
	StateIdle:              "DFU idle",
	StateDnloadSync:        "DFU download sync",
	StateDnbusy:            "DFU download busy",
	StateDnloadIdle:        "DFU download idle",
	StateManifestSync:      "DFU manifest sync",
	StateManifest:          "DFU manifest",
	StateManifestWaitReset: "DFU manifest wait reset",
	StateUploadIdle:        "DFU upload idle",
	StateError:             "DFU error",
}

func (s State) String() string {
	if int(s) < len(stateStr) {
		return stateStr[s]
	}
	return fmt.Sprintf("state %d", uint8(s))
}

type Status uint8

const StatusOK Status = 0

// DFU error statuses
const (
	StatusErrTarget Status = iota + 1
	StatusErrFile
	StatusErrWrite
	StatusErrErase
	StatusErrCheckErased
	StatusErrProg
	StatusErrVerify
	StatusErrAddress
	StatusErrNotDone
	StatusErrFirmware
	StatusErrVendor
	StatusErrUSBR
	StatusErrPOR
	StatusErrUnknown
	StatusErrStalledPkt
)

var statusStr = [...]string{
	StatusOK:             "OK",
	StatusErrTarget:      "file is not for this target",
	StatusErrFile:        "file fails a vendor-specific verification test",
	StatusErrWrite:       "unable to write memory",
	StatusErrErase:       "memory erase function failed",
	StatusErrCheckErased: "memory erase check failed",
	StatusErrProg:        "program memory function failed",
	StatusErrVerify:      "programmed memory failed verification",
	StatusErrAddress:     "memory address is out of range",
	StatusErrNotDone:     "premature DFU_DNLOAD with wLength = 0",
	StatusErrFirmware:    "firmware is corrupt",
	StatusErrVendor:      "vendor-specific error",
	StatusErrUSBR:        "unexpected USB reset signaling",
	StatusErrPOR:         "unexpected power on reset",
	StatusErrUnknown:     "unknown error",
	StatusErrStalledPkt:  "stalled an unexpected request",
}

func (s Status) String() string {
	if int(s) < len(statusStr) {
		return statusStr[s]
	}
	return fmt.Sprintf("status %d", uint8(s))
}

// StatusReport is the DFU_GETSTATUS response.
type StatusReport struct {
	Status      Status
	PollTimeout time.Duration
	State       State
	IString     uint8
}

// ErrPollLimit is returned when the device did not reach the awaited state
// within the number of status requests allowed by WithPollLimit.
var ErrPollLimit = errors.New("poll limit exceeded")

// UnexpectedStateError reports a device that did not end up in the
// expected state.
type UnexpectedStateError struct {
	Want, Got State
}

func (e *UnexpectedStateError) Error() string {
	return "unexpected state: " + e.Got.String() + " (want " + e.Want.String() + ")"
}

type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return "dfu: " + e.Op + ": " + e.Err.Error()
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}
