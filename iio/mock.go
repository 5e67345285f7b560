package iio

import (
	"fmt"
	"sync"
)

// Write is one recorded attribute write
type Write struct {
	Loc   Locator
	Value string
}

// Mock is an in-memory Backend.  It records writes and closes so tests can
// make assertions about them.
type Mock struct {
	mu       sync.Mutex
	desc     Description
	values   map[Locator]string
	writes   []Write
	closes   int
	writeErr error
}

// NewMock returns an empty mock context named "mock"
func NewMock() *Mock {
	return &Mock{desc: Description{Name: "mock"}, values: map[Locator]string{}}
}

func (m *Mock) device(id string) *DeviceInfo {
	for i := range m.desc.Devices {
		if m.desc.Devices[i].ID == id {
			return &m.desc.Devices[i]
		}
	}
	return nil
}

// AddDevice adds a device.  Adding an existing ID is a no-op
func (m *Mock) AddDevice(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device(id) != nil {
		return
	}
	m.desc.Devices = append(m.desc.Devices, DeviceInfo{ID: id, Name: name})
}

// SetDeviceAttr creates or updates a device attribute
func (m *Mock) SetDeviceAttr(dev, attr, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.device(dev)
	if d == nil {
		panic(fmt.Sprintf("mock: no device %s", dev))
	}
	loc := Locator{Device: dev, Attr: attr}
	if _, ok := m.values[loc]; !ok {
		d.Attrs = append(d.Attrs, attr)
	}
	m.values[loc] = value
}

// SetChannelAttr creates or updates a channel attribute backed by filename,
// creating the channel if needed
func (m *Mock) SetChannelAttr(dev, ch string, output bool, attr, filename, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.device(dev)
	if d == nil {
		panic(fmt.Sprintf("mock: no device %s", dev))
	}
	var ci *ChannelInfo
	for i := range d.Channels {
		if d.Channels[i].ID == ch && d.Channels[i].Output == output {
			ci = &d.Channels[i]
		}
	}
	if ci == nil {
		d.Channels = append(d.Channels, ChannelInfo{ID: ch, Output: output})
		ci = &d.Channels[len(d.Channels)-1]
	}
	loc := Locator{Device: dev, Channel: ch, Output: output, Attr: attr}
	if _, ok := m.values[loc]; !ok {
		ci.Attrs = append(ci.Attrs, AttrInfo{Name: attr, Filename: filename})
	}
	m.values[loc] = value
}

// FailWrites makes every following write return err.  nil restores success
func (m *Mock) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Writes returns the successful writes so far, oldest first
func (m *Mock) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

// Closes returns how many times Close was called
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Value returns the current value at loc
func (m *Mock) Value(loc Locator) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[loc]
	return v, ok
}

// Describe implements Backend
func (m *Mock) Describe() (Description, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Description{Name: m.desc.Name}
	for _, d := range m.desc.Devices {
		dc := DeviceInfo{ID: d.ID, Name: d.Name, Attrs: append([]string(nil), d.Attrs...)}
		for _, c := range d.Channels {
			dc.Channels = append(dc.Channels, ChannelInfo{ID: c.ID, Output: c.Output, Attrs: append([]AttrInfo(nil), c.Attrs...)})
		}
		out.Devices = append(out.Devices, dc)
	}
	return out, nil
}

// ReadAttr implements Backend
func (m *Mock) ReadAttr(loc Locator) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[loc]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAttrNotFound, loc)
	}
	return v, nil
}

// WriteAttr implements Backend
func (m *Mock) WriteAttr(loc Locator, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.values[loc]; !ok {
		return fmt.Errorf("%w: %s", ErrAttrNotFound, loc)
	}
	m.values[loc] = value
	m.writes = append(m.writes, Write{Loc: loc, Value: value})
	return nil
}

// Close implements Backend
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return nil
}
