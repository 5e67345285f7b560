package comm

import (
	"fmt"
	"io"

	"github.com/google/gousb"
)

// usbConn exposes a pair of bulk endpoints as an io.ReadWriteCloser
type usbConn struct {
	ctx    *gousb.Context
	device *gousb.Device
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closer func()
}

// USBConnMaker returns a CreationFunc which opens the USB device with the
// given vendor and product ID and streams over the first bulk IN and bulk OUT
// endpoints of its default interface
func USBConnMaker(vid, pid uint16) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return openUSB(vid, pid)
	}
}

func openUSB(vid, pid uint16) (*usbConn, error) {
	c := &usbConn{ctx: gousb.NewContext()}
	var err error
	c.device, err = c.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		c.ctx.Close()
		return nil, err
	}
	if c.device == nil {
		c.ctx.Close()
		return nil, fmt.Errorf("no USB device %04x:%04x", vid, pid)
	}
	if err = c.device.SetAutoDetach(true); err != nil {
		c.Close()
		return nil, err
	}
	iface, done, err := c.device.DefaultInterface()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closer = done
	inNum, outNum := -1, -1
	for _, ep := range iface.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn && inNum < 0 {
			inNum = ep.Number
		}
		if ep.Direction == gousb.EndpointDirectionOut && outNum < 0 {
			outNum = ep.Number
		}
	}
	if inNum < 0 || outNum < 0 {
		c.Close()
		return nil, fmt.Errorf("USB device %04x:%04x has no bulk endpoint pair", vid, pid)
	}
	if c.in, err = iface.InEndpoint(inNum); err != nil {
		c.Close()
		return nil, err
	}
	if c.out, err = iface.OutEndpoint(outNum); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *usbConn) Read(b []byte) (int, error) {
	return c.in.Read(b)
}

func (c *usbConn) Write(b []byte) (int, error) {
	return c.out.Write(b)
}

// Close releases the interface, the device, and the libusb context
func (c *usbConn) Close() error {
	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	var err error
	if c.device != nil {
		err = c.device.Close()
		c.device = nil
	}
	if c.ctx != nil {
		if cerr := c.ctx.Close(); err == nil {
			err = cerr
		}
		c.ctx = nil
	}
	return err
}
