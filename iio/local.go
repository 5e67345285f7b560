package iio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// channel attribute files look like in_voltage0_raw or, when shared by every
// channel of a type, in_voltage_scale
var chanFileRe = regexp.MustCompile(`^(in|out)_([a-z]+?)(\d*)_([a-z0-9_]+)$`)

// files in a device directory which are not attributes
var notAttrs = map[string]bool{
	"name":      true,
	"dev":       true,
	"uevent":    true,
	"subsystem": true,
	"of_node":   true,
	"power":     true,
}

// Local is a Backend reading and writing sysfs directly
type Local struct {
	root string

	mu    sync.Mutex
	paths map[Locator]string
}

// NewLocal returns a backend over the IIO sysfs tree at root
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Describe implements Backend by walking the sysfs tree
func (l *Local) Describe() (Description, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return Description{}, err
	}
	desc := Description{Name: "local"}
	paths := map[Locator]string{}
	for _, e := range entries {
		dir := filepath.Join(l.root, e.Name())
		name, err := os.ReadFile(filepath.Join(dir, "name"))
		if err != nil {
			continue // not a device, e.g. a trigger without a name
		}
		di, err := describeDevice(dir, e.Name(), strings.TrimSpace(string(name)), paths)
		if err != nil {
			return Description{}, err
		}
		desc.Devices = append(desc.Devices, di)
	}
	l.mu.Lock()
	l.paths = paths
	l.mu.Unlock()
	return desc, nil
}

func describeDevice(dir, id, name string, paths map[Locator]string) (DeviceInfo, error) {
	di := DeviceInfo{ID: id, Name: name}
	files, err := os.ReadDir(dir)
	if err != nil {
		return di, err
	}
	type chanKey struct {
		id     string
		output bool
	}
	chans := map[chanKey]*ChannelInfo{}
	var order []chanKey
	type shared struct {
		typ    string
		output bool
		attr   string
		file   string
	}
	var shareds []shared
	for _, f := range files {
		fn := f.Name()
		if f.IsDir() || notAttrs[fn] {
			continue
		}
		m := chanFileRe.FindStringSubmatch(fn)
		if m == nil {
			di.Attrs = append(di.Attrs, fn)
			paths[Locator{Device: id, Attr: fn}] = filepath.Join(dir, fn)
			continue
		}
		output := m[1] == "out"
		if m[3] == "" {
			shareds = append(shareds, shared{typ: m[2], output: output, attr: m[4], file: fn})
			continue
		}
		key := chanKey{id: m[2] + m[3], output: output}
		ci, ok := chans[key]
		if !ok {
			ci = &ChannelInfo{ID: key.id, Output: output}
			chans[key] = ci
			order = append(order, key)
		}
		ci.Attrs = append(ci.Attrs, AttrInfo{Name: m[4], Filename: fn})
		paths[Locator{Device: id, Channel: key.id, Output: output, Attr: m[4]}] = filepath.Join(dir, fn)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].id < order[j].id })
	for _, key := range order {
		ci := chans[key]
		for _, s := range shareds {
			if s.output != key.output || !strings.HasPrefix(key.id, s.typ) {
				continue
			}
			if strings.TrimLeft(strings.TrimPrefix(key.id, s.typ), "0123456789") != "" {
				continue
			}
			loc := Locator{Device: id, Channel: key.id, Output: key.output, Attr: s.attr}
			if _, dup := paths[loc]; dup {
				continue // an indexed file wins over a shared one
			}
			ci.Attrs = append(ci.Attrs, AttrInfo{Name: s.attr, Filename: s.file})
			paths[loc] = filepath.Join(dir, s.file)
		}
		di.Channels = append(di.Channels, *ci)
	}
	return di, nil
}

func (l *Local) path(loc Locator) (string, error) {
	l.mu.Lock()
	needDescribe := l.paths == nil
	l.mu.Unlock()
	if needDescribe {
		if _, err := l.Describe(); err != nil {
			return "", err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.paths[loc]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAttrNotFound, loc)
	}
	return p, nil
}

// ReadAttr implements Backend
func (l *Local) ReadAttr(loc Locator) (string, error) {
	p, err := l.path(loc)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\n"), nil
}

// WriteAttr implements Backend
func (l *Local) WriteAttr(loc Locator, value string) error {
	p, err := l.path(loc)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(value)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close implements Backend; there is nothing to release
func (l *Local) Close() error {
	return nil
}
