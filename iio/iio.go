// Package iio provides access to Industrial I/O devices and their attributes,
// either through the IIO daemon (iiod) over TCP, serial or USB, or directly
// through the local sysfs tree.
//
// The vocabulary follows the kernel's: a context holds devices, a device
// holds channels, and both devices and channels carry string-valued
// attributes.
package iio

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/adaqlab/comm"
)

const (
	// DefaultPort is the TCP port iiod listens on
	DefaultPort = 30431

	// DefaultBaud is used for serial URIs that do not specify a rate
	DefaultBaud = 115200

	// DefaultLocalRoot is where the kernel publishes IIO devices
	DefaultLocalRoot = "/sys/bus/iio/devices"
)

var (
	// ErrAttrNotFound is returned when an attribute does not exist
	ErrAttrNotFound = errors.New("attribute not found")

	// ErrClosed is returned by operations on a closed context
	ErrClosed = errors.New("context is closed")

	// ErrBadURI is returned by Open for malformed or unknown URIs
	ErrBadURI = errors.New("malformed IIO URI")
)

// Locator addresses one attribute.  An empty Channel addresses a device
// attribute
type Locator struct {
	Device  string
	Channel string
	Output  bool
	Attr    string
}

func (l Locator) String() string {
	if l.Channel == "" {
		return l.Device + "." + l.Attr
	}
	dir := "in"
	if l.Output {
		dir = "out"
	}
	return l.Device + "." + dir + "." + l.Channel + "." + l.Attr
}

// Backend is the transport-specific half of a Context
type Backend interface {
	// Describe returns the device tree
	Describe() (Description, error)

	// ReadAttr reads the value of an attribute
	ReadAttr(Locator) (string, error)

	// WriteAttr writes the value of an attribute
	WriteAttr(Locator, string) error

	// Close releases the backend
	Close() error
}

// Description is the device tree of a context
type Description struct {
	Name    string
	Devices []DeviceInfo
}

// DeviceInfo describes one device
type DeviceInfo struct {
	ID       string
	Name     string
	Attrs    []string
	Channels []ChannelInfo
}

// ChannelInfo describes one channel
type ChannelInfo struct {
	ID     string
	Output bool
	Attrs  []AttrInfo
}

// AttrInfo is a channel attribute and the sysfs file that backs it
type AttrInfo struct {
	Name     string
	Filename string
}

// Context is a connection to a set of IIO devices.  It is safe for concurrent
// use to the extent its Backend is.
type Context struct {
	backend Backend
	name    string
	devices []*Device

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// NewContext describes the backend and builds a Context around it.  If the
// description fails the backend is closed.
func NewContext(b Backend) (*Context, error) {
	desc, err := b.Describe()
	if err != nil {
		b.Close()
		return nil, err
	}
	ctx := &Context{backend: b, name: desc.Name}
	for _, di := range desc.Devices {
		d := &Device{ctx: ctx, id: di.ID, name: di.Name, attrs: di.Attrs}
		for _, ci := range di.Channels {
			d.channels = append(d.channels, &Channel{dev: d, id: ci.ID, output: ci.Output, attrs: ci.Attrs})
		}
		ctx.devices = append(ctx.devices, d)
	}
	return ctx, nil
}

// Open connects to the context named by uri.  Understood forms are
//
//	ip:host[:port]
//	serial:/dev/ttyUSB0[,baud]
//	usb:VVVV:PPPP        (hexadecimal vendor and product ID)
//	local:[root]
func Open(uri string, commandInterval time.Duration) (*Context, error) {
	b, err := openBackend(uri, commandInterval)
	if err != nil {
		return nil, err
	}
	return NewContext(b)
}

func openBackend(uri string, interval time.Duration) (Backend, error) {
	idx := strings.Index(uri, ":")
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrBadURI, uri)
	}
	scheme, rest := uri[:idx], uri[idx+1:]
	switch scheme {
	case "ip":
		if rest == "" {
			return nil, fmt.Errorf("%w: %q has no host", ErrBadURI, uri)
		}
		addr := rest
		if _, _, err := net.SplitHostPort(rest); err != nil {
			addr = net.JoinHostPort(rest, strconv.Itoa(DefaultPort))
		}
		return NewClient(comm.BackingOffTCPConnMaker(addr, 3*time.Second), interval), nil
	case "serial":
		pieces := strings.Split(rest, ",")
		if pieces[0] == "" {
			return nil, fmt.Errorf("%w: %q has no port", ErrBadURI, uri)
		}
		baud := DefaultBaud
		if len(pieces) > 1 && pieces[1] != "" {
			b, err := strconv.Atoi(pieces[1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad baud rate %q", ErrBadURI, pieces[1])
			}
			baud = b
		}
		return NewClient(comm.SerialConnMaker(pieces[0], baud), interval), nil
	case "usb":
		ids := strings.Split(rest, ":")
		if len(ids) != 2 {
			return nil, fmt.Errorf("%w: %q, want usb:VVVV:PPPP", ErrBadURI, uri)
		}
		vid, err := strconv.ParseUint(ids[0], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: bad vendor ID %q", ErrBadURI, ids[0])
		}
		pid, err := strconv.ParseUint(ids[1], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: bad product ID %q", ErrBadURI, ids[1])
		}
		return NewClient(comm.USBConnMaker(uint16(vid), uint16(pid)), interval), nil
	case "local":
		root := rest
		if root == "" {
			root = DefaultLocalRoot
		}
		return NewLocal(root), nil
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", ErrBadURI, scheme)
	}
}

// Name returns the context name reported by the backend
func (c *Context) Name() string {
	return c.name
}

// Devices returns the devices of the context
func (c *Context) Devices() []*Device {
	out := make([]*Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// FindDevice returns the device whose name or ID is exactly name
func (c *Context) FindDevice(name string) (*Device, bool) {
	for _, d := range c.devices {
		if d.name == name || d.id == name {
			return d, true
		}
	}
	return nil, false
}

// Close releases the backend.  It is safe to call more than once; the backend
// is closed exactly once.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeErr = c.backend.Close()
	})
	return c.closeErr
}

func (c *Context) read(loc Locator) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", ErrClosed
	}
	return c.backend.ReadAttr(loc)
}

func (c *Context) write(loc Locator, value string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return c.backend.WriteAttr(loc, value)
}

// Device is one IIO device
type Device struct {
	ctx      *Context
	id       string
	name     string
	attrs    []string
	channels []*Channel
}

// ID returns the device ID, e.g. iio:device0
func (d *Device) ID() string { return d.id }

// Name returns the device name, e.g. adaq4224
func (d *Device) Name() string { return d.name }

// Attrs returns the names of the device attributes
func (d *Device) Attrs() []string { return append([]string(nil), d.attrs...) }

// Channels returns the channels of the device
func (d *Device) Channels() []*Channel { return append([]*Channel(nil), d.channels...) }

// FindChannel returns the channel with the given ID and direction
func (d *Device) FindChannel(id string, output bool) (*Channel, bool) {
	for _, ch := range d.channels {
		if ch.id == id && ch.output == output {
			return ch, true
		}
	}
	return nil, false
}

// ReadAttr reads a device attribute
func (d *Device) ReadAttr(attr string) (string, error) {
	return d.ctx.read(Locator{Device: d.id, Attr: attr})
}

// WriteAttr writes a device attribute
func (d *Device) WriteAttr(attr, value string) error {
	return d.ctx.write(Locator{Device: d.id, Attr: attr}, value)
}

// LookupFile resolves a sysfs file name such as in_voltage_scale to the
// attribute it backs.  The returned channel is nil for device attributes.
func (d *Device) LookupFile(filename string) (*Channel, string, bool) {
	for _, ch := range d.channels {
		for _, a := range ch.attrs {
			if a.Filename == filename {
				return ch, a.Name, true
			}
		}
	}
	for _, a := range d.attrs {
		if a == filename {
			return nil, a, true
		}
	}
	return nil, "", false
}

// Channel is one channel of a device
type Channel struct {
	dev    *Device
	id     string
	output bool
	attrs  []AttrInfo
}

// ID returns the channel ID, e.g. voltage0
func (ch *Channel) ID() string { return ch.id }

// Output is true for output channels
func (ch *Channel) Output() bool { return ch.output }

// Attrs returns the channel attributes
func (ch *Channel) Attrs() []AttrInfo { return append([]AttrInfo(nil), ch.attrs...) }

// HasAttr reports if the channel has the named attribute
func (ch *Channel) HasAttr(name string) bool {
	for _, a := range ch.attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

func (ch *Channel) locator(attr string) Locator {
	return Locator{Device: ch.dev.id, Channel: ch.id, Output: ch.output, Attr: attr}
}

// ReadAttr reads a channel attribute
func (ch *Channel) ReadAttr(attr string) (string, error) {
	return ch.dev.ctx.read(ch.locator(attr))
}

// WriteAttr writes a channel attribute.  The call blocks until the backend
// has acknowledged the write
func (ch *Channel) WriteAttr(attr, value string) error {
	return ch.dev.ctx.write(ch.locator(attr), value)
}
