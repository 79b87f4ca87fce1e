// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dfu_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/embeddedgo/dfuse/dfu"
	"github.com/embeddedgo/dfuse/dfu/dfutest"
	"github.com/embeddedgo/dfuse/memmap"
	"github.com/google/go-cmp/cmp"
)

func testMap() *memmap.Info {
	return &memmap.Info{
		Name: "Internal Flash",
		Segments: []memmap.Segment{
			{Start: 0x0800_0000, End: 0x0800_1000, SectorSize: 0x400, Readable: true, Erasable: true, Writable: true},
			{Start: 0x0800_1000, End: 0x0800_1100, SectorSize: 0x100},
		},
	}
}

// transportFunc adapts a function to the dfu.Transport interface.
type transportFunc func(rType, request uint8, val, idx uint16, data []byte) (int, error)

func (f transportFunc) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	return f(rType, request, val, idx, data)
}

func statusResp(p []byte, st dfu.Status, timeout uint32, state dfu.State) (int, error) {
	p[0] = byte(st)
	p[1], p[2], p[3] = byte(timeout), byte(timeout>>8), byte(timeout>>16)
	p[4] = byte(state)
	p[5] = 0
	return 6, nil
}

func countReq(log []dfutest.Request, req uint8) int {
	n := 0
	for _, r := range log {
		if r.Req == req {
			n++
		}
	}
	return n
}

func TestStatus(t *testing.T) {
	tr := transportFunc(func(rType, request uint8, val, idx uint16, data []byte) (int, error) {
		if rType != dfu.RequestIn || request != dfu.ReqGetStatus || idx != 3 {
			t.Fatalf("unexpected request %#x/%#x idx %d", rType, request, idx)
		}
		return statusResp(data, dfu.StatusErrVerify, 0x010203, dfu.StateError)
	})
	d := dfu.NewDevice(tr, 3)
	st, err := d.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := dfu.StatusReport{
		Status:      dfu.StatusErrVerify,
		PollTimeout: 0x010203 * time.Millisecond,
		State:       dfu.StateError,
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("Status() mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusShort(t *testing.T) {
	tr := transportFunc(func(rType, request uint8, val, idx uint16, data []byte) (int, error) {
		return 3, nil
	})
	_, err := dfu.NewDevice(tr, 0).Status(context.Background())
	var de *dfu.Error
	if !errors.As(err, &de) || de.Op != "GetStatus" {
		t.Errorf("Status() error = %v, want *dfu.Error{Op: GetStatus}", err)
	}
}

func TestPollUntil(t *testing.T) {
	sim := dfutest.New(testMap(), 64)
	d := dfu.NewDevice(sim, 0)
	ctx := context.Background()

	// SET_ADDRESS 0x08000400
	if _, err := d.Write(ctx, []byte{0x21, 0x00, 0x04, 0x00, 0x08}, 0); err != nil {
		t.Fatal(err)
	}
	st, err := d.PollUntil(ctx, func(s dfu.State) bool { return s != dfu.StateDnbusy })
	if err != nil {
		t.Fatal(err)
	}
	if st.State != dfu.StateDnloadIdle || st.Status != dfu.StatusOK {
		t.Errorf("PollUntil() = %v/%v, want %v/%v", st.State, st.Status, dfu.StateDnloadIdle, dfu.StatusOK)
	}
	if n := countReq(sim.Log, dfu.ReqGetStatus); n != 2 {
		t.Errorf("got %d GETSTATUS requests, want 2", n)
	}
}

func TestPollUntilStopsOnError(t *testing.T) {
	sim := dfutest.New(testMap(), 64)
	d := dfu.NewDevice(sim, 0)
	ctx := context.Background()

	// SET_ADDRESS outside of the memory map
	if _, err := d.Write(ctx, []byte{0x21, 0, 0, 0, 0x20}, 0); err != nil {
		t.Fatal(err)
	}
	st, err := d.PollUntilIdle(ctx, dfu.StateDnloadIdle)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != dfu.StateError || st.Status != dfu.StatusErrAddress {
		t.Errorf("PollUntilIdle() = %v/%v, want %v/%v", st.State, st.Status, dfu.StateError, dfu.StatusErrAddress)
	}
}

func TestPollLimit(t *testing.T) {
	polls := 0
	tr := transportFunc(func(rType, request uint8, val, idx uint16, data []byte) (int, error) {
		polls++
		return statusResp(data, dfu.StatusOK, 0, dfu.StateDnbusy)
	})
	d := dfu.NewDevice(tr, 0, dfu.WithPollLimit(5))
	_, err := d.PollUntilIdle(context.Background(), dfu.StateDnloadIdle)
	if !errors.Is(err, dfu.ErrPollLimit) {
		t.Fatalf("PollUntilIdle() error = %v, want ErrPollLimit", err)
	}
	if polls != 5 {
		t.Errorf("got %d polls, want 5", polls)
	}
}

func TestPollCancel(t *testing.T) {
	tr := transportFunc(func(rType, request uint8, val, idx uint16, data []byte) (int, error) {
		return statusResp(data, dfu.StatusOK, 60000, dfu.StateDnbusy)
	})
	d := dfu.NewDevice(tr, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := d.PollUntilIdle(ctx, dfu.StateDnloadIdle)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("PollUntilIdle() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestPollScale(t *testing.T) {
	n := 0
	tr := transportFunc(func(rType, request uint8, val, idx uint16, data []byte) (int, error) {
		n++
		state := dfu.StateDnbusy
		if n == 3 {
			state = dfu.StateDnloadIdle
		}
		return statusResp(data, dfu.StatusOK, 10000, state)
	})
	d := dfu.NewDevice(tr, 0, dfu.WithPollScale(10000), dfu.WithMinPollInterval(time.Millisecond))
	start := time.Now()
	if _, err := d.PollUntilIdle(context.Background(), dfu.StateDnloadIdle); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el > 5*time.Second {
		t.Errorf("polling took %v, the poll timeout was not scaled", el)
	}
}

func TestAbortToIdle(t *testing.T) {
	sim := dfutest.New(testMap(), 64)
	d := dfu.NewDevice(sim, 0)
	ctx := context.Background()

	// Unknown DfuSe command puts the device into dfuERROR.
	if _, err := d.Write(ctx, []byte{0x99}, 0); err != nil {
		t.Fatal(err)
	}
	st, err := d.PollUntilIdle(ctx, dfu.StateDnloadIdle)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != dfu.StateError {
		t.Fatalf("state = %v, want %v", st.State, dfu.StateError)
	}
	if err := d.AbortToIdle(ctx); err != nil {
		t.Fatalf("AbortToIdle(): %v", err)
	}
	if s := sim.State(); s != dfu.StateIdle {
		t.Errorf("device state = %v, want %v", s, dfu.StateIdle)
	}
	if n := countReq(sim.Log, dfu.ReqClrStatus); n != 1 {
		t.Errorf("got %d CLRSTATUS requests, want 1", n)
	}
}

func TestAbortToIdleWrongState(t *testing.T) {
	tr := transportFunc(func(rType, request uint8, val, idx uint16, data []byte) (int, error) {
		if request == dfu.ReqGetState {
			data[0] = byte(dfu.StateManifestWaitReset)
			return 1, nil
		}
		return 0, nil
	})
	err := dfu.NewDevice(tr, 0).AbortToIdle(context.Background())
	var se *dfu.UnexpectedStateError
	if !errors.As(err, &se) {
		t.Fatalf("AbortToIdle() error = %v, want *dfu.UnexpectedStateError", err)
	}
	if se.Got != dfu.StateManifestWaitReset || se.Want != dfu.StateIdle {
		t.Errorf("UnexpectedStateError = %+v", se)
	}
}

func TestRead(t *testing.T) {
	m := testMap()
	img := make([]byte, 0x1000)
	for i := range img {
		img[i] = byte(i * 7)
	}
	tests := []struct {
		name    string
		maxSize int
		want    int
		aborts  int
	}{
		{"no limit stops at short block", dfu.NoLimit, 0x1000, 0},
		{"limit inside block", 100, 100, 1},
		{"limit at block boundary", 128, 128, 1},
		{"limit past readable memory", 0x2000, 0x1000, 0},
		{"zero", 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := dfutest.New(m, 64)
			sim.Poke(0x0800_0000, img)
			var last [2]int
			d := dfu.NewDevice(sim, 0, dfu.WithProgress(func(done, total int) {
				last = [2]int{done, total}
			}))
			data, err := d.Read(context.Background(), 64, tt.maxSize, 2)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(data, img[:tt.want]) {
				t.Errorf("Read() returned %d bytes, want the first %d image bytes", len(data), tt.want)
			}
			if n := countReq(sim.Log, dfu.ReqAbort); n != tt.aborts {
				t.Errorf("got %d ABORT requests, want %d", n, tt.aborts)
			}
			if last != [2]int{tt.want, tt.maxSize} {
				t.Errorf("last progress = %v, want %v", last, [2]int{tt.want, tt.maxSize})
			}
		})
	}
}

func TestReadBlockNumbers(t *testing.T) {
	var blocks []uint16
	tr := transportFunc(func(rType, request uint8, val, idx uint16, data []byte) (int, error) {
		if request != dfu.ReqUpload {
			return 0, nil
		}
		blocks = append(blocks, val)
		if len(blocks) == 3 {
			return len(data) / 2, nil
		}
		return len(data), nil
	})
	data, err := dfu.NewDevice(tr, 0).Read(context.Background(), 16, dfu.NoLimit, 2)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint16{2, 3, 4}, blocks); diff != "" {
		t.Errorf("block numbers mismatch (-want +got):\n%s", diff)
	}
	if len(data) != 40 {
		t.Errorf("len(data) = %d, want 40", len(data))
	}
}

func TestReadBadTransferSize(t *testing.T) {
	d := dfu.NewDevice(dfutest.New(testMap(), 64), 0)
	if _, err := d.Read(context.Background(), 0, 10, 2); err == nil {
		t.Error("Read() with zero transfer size succeeded")
	}
}

func TestStrings(t *testing.T) {
	if s := dfu.StateDnbusy.String(); s != "DFU download busy" {
		t.Errorf("StateDnbusy.String() = %q", s)
	}
	if s := dfu.State(42).String(); s != "state 42" {
		t.Errorf("State(42).String() = %q", s)
	}
	if s := dfu.StatusErrAddress.String(); s != "memory address is out of range" {
		t.Errorf("StatusErrAddress.String() = %q", s)
	}
	if s := dfu.Status(200).String(); s != "status 200" {
		t.Errorf("Status(200).String() = %q", s)
	}
}
