// Copyright 2025 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package usbdfu connects to USB devices in the DFU mode using libusb.
package usbdfu

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/embeddedgo/dfuse/dfu"
	usb "github.com/google/gousb"
)

type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return "usbdfu: " + e.Op + ": " + e.Err.Error()
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}

// Alt describes one alternate setting of a DFU interface. In DfuSe devices
// the Name contains the memory descriptor of the memory the setting gives
// access to.
type Alt struct {
	Config    int
	Interface int
	Alternate int
	Name      string
}

// FuncDesc is the DFU functional descriptor.
type FuncDesc struct {
	Attributes    uint8
	DetachTimeout uint16
	TransferSize  uint16
	DFUVersion    uint16
}

// DFU functional descriptor attributes
const (
	CanDnload             = 1 << 0
	CanUpload             = 1 << 1
	ManifestationTolerant = 1 << 2
	WillDetach            = 1 << 3
)

// Info describes a found DFU device.
type Info struct {
	Bus, Address    int
	Vendor, Product usb.ID
	Alts            []Alt
}

func parseBusAddr(busAddr string) (int, int) {
	s := strings.Split(busAddr, ":")
	if len(s) != 2 {
		return -1, -1
	}
	bus, err := strconv.ParseUint(s[0], 10, 8)
	if err != nil {
		return -1, -1
	}
	dev, err := strconv.ParseUint(s[1], 10, 8)
	if err != nil {
		return -1, -1
	}
	return int(bus), int(dev)
}

// isDFU reports whether the interface setting is a DFU one in the DFU mode
// (protocol 2) or in the run-time mode (protocol 1).
func isDFU(is *usb.InterfaceSetting) bool {
	return is.Class == 0xfe && is.SubClass == 1 &&
		(is.Protocol == 1 || is.Protocol == 2) && len(is.Endpoints) == 0
}

func openUSB(vendor, product usb.ID, busAddr string) (ctx *usb.Context, devs []*usb.Device, err error) {
	bus, addr := parseBusAddr(busAddr)
	if busAddr != "" && bus < 0 {
		err = errors.New("bad USB device address: " + busAddr)
		return
	}
	ctx = usb.NewContext()
	devs, err = ctx.OpenDevices(func(desc *usb.DeviceDesc) bool {
		if bus >= 0 && (desc.Bus != bus || desc.Address != addr) {
			return false
		}
		if vendor != 0 && desc.Vendor != vendor {
			return false
		}
		if product != 0 && desc.Product != product {
			return false
		}
		for _, cfg := range desc.Configs {
			for _, id := range cfg.Interfaces {
				for i := range id.AltSettings {
					if isDFU(&id.AltSettings[i]) {
						return true
					}
				}
			}
		}
		return false
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		devs = nil
	}
	return
}

func alts(dev *usb.Device) ([]Alt, error) {
	var as []Alt
	for _, cfg := range dev.Desc.Configs {
		for _, id := range cfg.Interfaces {
			for i := range id.AltSettings {
				is := &id.AltSettings[i]
				if !isDFU(is) {
					continue
				}
				name, err := dev.InterfaceDescription(cfg.Number, is.Number, is.Alternate)
				if err != nil {
					return nil, err
				}
				as = append(as, Alt{cfg.Number, is.Number, is.Alternate, name})
			}
		}
	}
	return as, nil
}

// List returns all DFU capable devices that match the vendor and product IDs
// (zero matches any ID) and the BUS:ADDR string (empty matches any device).
func List(vendor, product usb.ID, busAddr string) (infos []Info, err error) {
	defer wrapErr("List", &err)
	ctx, devs, err := openUSB(vendor, product, busAddr)
	if err != nil {
		return
	}
	defer ctx.Close()
	for _, d := range devs {
		as, e := alts(d)
		d.Close()
		if e != nil {
			if err == nil {
				err = e
			}
			continue
		}
		infos = append(infos, Info{
			Bus: d.Desc.Bus, Address: d.Desc.Address,
			Vendor: d.Desc.Vendor, Product: d.Desc.Product,
			Alts: as,
		})
	}
	if err != nil {
		infos = nil
	}
	return
}

// Conn is a connection to one alternate setting of a DFU interface.
type Conn struct {
	ctx  *usb.Context
	dev  *usb.Device
	cfg  *usb.Config
	intf *usb.Interface
	alt  Alt
	fd   FuncDesc
}

// Connect connects to the USB device in the DFU mode. You can connect to the
// concrete device on the USB bus by providing BUS:DEV string where both BUS and
// DEV are decimal unsigned integers. If busAddr is empty connect will try to
// find a DFU device on the bus (it will return an error if there are more than
// one such devices). If alt < 0 the alternate setting with "flash" in its name
// is selected.
func Connect(vendor, product usb.ID, busAddr string, alt int) (conn *Conn, err error) {
	defer wrapErr("Connect", &err)

	ctx, devs, err := openUSB(vendor, product, busAddr)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			ctx.Close()
		}
	}()
	if len(devs) == 0 {
		err = errors.New("no USB devices in DFU mode were found")
		return
	}
	if len(devs) != 1 {
		for _, d := range devs {
			d.Close()
		}
		err = errors.New("found more than one USB device in DFU mode")
		return
	}
	dev := devs[0]
	defer func() {
		if err != nil {
			dev.Close()
		}
	}()

	as, err := alts(dev)
	if err != nil {
		return
	}
	var sel *Alt
	for i := range as {
		a := &as[i]
		if alt >= 0 {
			if a.Alternate == alt {
				sel = a
				break
			}
			continue
		}
		if strings.Contains(strings.ToLower(a.Name), "flash") {
			if sel != nil {
				err = fmt.Errorf(
					"device %d:%d has more than one flash alternate setting",
					dev.Desc.Bus, dev.Desc.Address,
				)
				return
			}
			sel = a
		}
	}
	if sel == nil && alt < 0 && len(as) == 1 {
		sel = &as[0]
	}
	if sel == nil {
		err = fmt.Errorf(
			"device %d:%d: no matching DFU alternate setting",
			dev.Desc.Bus, dev.Desc.Address,
		)
		return
	}

	if err = dev.SetAutoDetach(true); err != nil {
		return
	}
	cfg, err := dev.Config(sel.Config)
	if err != nil {
		return
	}
	intf, err := cfg.Interface(sel.Interface, sel.Alternate)
	if err != nil {
		cfg.Close()
		return
	}
	conn = &Conn{ctx: ctx, dev: dev, cfg: cfg, intf: intf, alt: *sel}
	conn.fd, err = readFuncDesc(dev)
	if err != nil {
		intf.Close()
		cfg.Close()
		conn = nil
	}
	return
}

// readFuncDesc finds the DFU functional descriptor in the raw configuration
// descriptor. gousb does not expose the class specific descriptors.
func readFuncDesc(dev *usb.Device) (fd FuncDesc, err error) {
	var buf [512]byte
	n, err := dev.Control(
		usb.ControlIn|usb.ControlStandard|usb.ControlDevice,
		0x06, 0x0200, 0, buf[:],
	)
	if err != nil {
		return
	}
	return parseFuncDesc(buf[:n])
}

func parseFuncDesc(desc []byte) (fd FuncDesc, err error) {
	for b := desc; len(b) >= 2 && b[0] >= 2 && int(b[0]) <= len(b); b = b[b[0]:] {
		if b[1] == 0x21 && b[0] >= 7 {
			fd.Attributes = b[2]
			fd.DetachTimeout = uint16(b[3]) | uint16(b[4])<<8
			fd.TransferSize = uint16(b[5]) | uint16(b[6])<<8
			if b[0] >= 9 {
				fd.DFUVersion = uint16(b[7]) | uint16(b[8])<<8
			}
			return
		}
	}
	err = errors.New("no DFU functional descriptor")
	return
}

// Alt returns the selected alternate setting.
func (c *Conn) Alt() Alt {
	return c.alt
}

// FuncDesc returns the DFU functional descriptor of the device.
func (c *Conn) FuncDesc() FuncDesc {
	return c.fd
}

// Device returns the DFU protocol driver for the connected interface.
func (c *Conn) Device(opts ...dfu.Option) *dfu.Device {
	return dfu.NewDevice(c.dev, uint16(c.alt.Interface), opts...)
}

func (c *Conn) Close() (err error) {
	c.intf.Close()
	err = c.cfg.Close()
	if e := c.dev.Close(); err == nil {
		err = e
	}
	if e := c.ctx.Close(); err == nil {
		err = e
	}
	wrapErr("Close", &err)
	return
}
