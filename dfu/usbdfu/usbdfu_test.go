// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package usbdfu

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseBusAddr(t *testing.T) {
	tests := []struct {
		s        string
		bus, dev int
	}{
		{"1:5", 1, 5},
		{"003:012", 3, 12},
		{"", -1, -1},
		{"1", -1, -1},
		{"1:2:3", -1, -1},
		{"1:300", -1, -1},
		{"a:b", -1, -1},
	}
	for _, tt := range tests {
		bus, dev := parseBusAddr(tt.s)
		if bus != tt.bus || dev != tt.dev {
			t.Errorf("parseBusAddr(%q) = %d, %d, want %d, %d", tt.s, bus, dev, tt.bus, tt.dev)
		}
	}
}

func TestParseFuncDesc(t *testing.T) {
	// STM32F4 system bootloader configuration descriptor.
	desc := []byte{
		0x09, 0x02, 0x36, 0x00, 0x01, 0x01, 0x00, 0xc0, 0x32, // configuration
		0x09, 0x04, 0x00, 0x00, 0x00, 0xfe, 0x01, 0x02, 0x02, // interface, alt 0
		0x09, 0x04, 0x00, 0x01, 0x00, 0xfe, 0x01, 0x02, 0x03, // interface, alt 1
		0x09, 0x04, 0x00, 0x02, 0x00, 0xfe, 0x01, 0x02, 0x04, // interface, alt 2
		0x09, 0x21, 0x0b, 0xff, 0x00, 0x00, 0x08, 0x1a, 0x01, // DFU functional
	}
	fd, err := parseFuncDesc(desc)
	if err != nil {
		t.Fatal(err)
	}
	want := FuncDesc{
		Attributes:    CanDnload | CanUpload | WillDetach,
		DetachTimeout: 255,
		TransferSize:  2048,
		DFUVersion:    0x011a,
	}
	if diff := cmp.Diff(want, fd); diff != "" {
		t.Errorf("parseFuncDesc() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFuncDescMissing(t *testing.T) {
	desc := []byte{
		0x09, 0x02, 0x12, 0x00, 0x01, 0x01, 0x00, 0xc0, 0x32,
		0x09, 0x04, 0x00, 0x00, 0x00, 0xfe, 0x01, 0x02, 0x02,
		0x00, 0x21, // zero length descriptor stops the scan
	}
	if _, err := parseFuncDesc(desc); err == nil {
		t.Error("parseFuncDesc() succeeded without functional descriptor")
	}
}
