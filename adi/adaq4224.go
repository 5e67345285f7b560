// Package adi provides control of Analog Devices data acquisition parts
// exposed through IIO.
//
// ADAQ4224 is a session for the ADAQ4224 µModule ADC.  It exposes the
// programmable gain instrumentation amplifier (PGIA) of the first voltage
// channel as a short list of human labels, writes the selected gain back to
// the device, and persists it to an instrument profile.
package adi

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/nasa-jpl/adaqlab/iio"
	"github.com/nasa-jpl/adaqlab/mathx"
	"github.com/nasa-jpl/adaqlab/profile"
	"github.com/nasa-jpl/adaqlab/server"
	"github.com/pkg/errors"
)

const (
	// DeviceName is the IIO name of the part, and the profile section name
	DeviceName = "adaq4224"

	// ChannelID is the input channel that carries the PGIA
	ChannelID = "voltage0"

	attrScale          = "scale"
	attrScaleAvailable = "scale_available"

	fileScale          = "in_voltage_scale"
	fileScaleAvailable = "in_voltage_scale_available"

	// SyncReload is the batch item that refreshes cached device state
	SyncReload = "SYNC_RELOAD"
)

// DefaultLabels are the PGIA gains printed on the front panel, in the order
// the driver lists its scales
var DefaultLabels = []string{"0.33", "0.56", "2.22", "6.67"}

// profileFiles are saved to the profile, in order
var profileFiles = []string{fileScale, fileScaleAvailable}

var (
	// ErrChannelNotFound is returned by Init when the device or its voltage channel is absent
	ErrChannelNotFound = errors.New("adaq4224: voltage0 channel not found")

	// ErrNotInitialized is returned by operations before Init succeeds
	ErrNotInitialized = errors.New("adaq4224: session not initialized")

	// ErrAlreadyInitialized is returned by a second Init
	ErrAlreadyInitialized = errors.New("adaq4224: session already initialized")

	// ErrTornDown is returned by operations after Destroy
	ErrTornDown = errors.New("adaq4224: session torn down")

	// ErrShortScaleList is returned by positional mapping when the device
	// lists fewer scales than there are labels
	ErrShortScaleList = errors.New("adaq4224: device lists fewer scales than labels")

	// ErrUnknownItem is returned by HandleItem for attributes it does not understand
	ErrUnknownItem = errors.New("adaq4224: unknown profile item")

	// ErrNoMatch is returned by SelectAndApply when the label selects no scale
	ErrNoMatch = errors.New("adaq4224: no scale matches label")
)

// AttrWriteError is returned when the device refuses an attribute write
type AttrWriteError struct {
	Attr  string
	Value string
	Err   error
}

func (e *AttrWriteError) Error() string {
	return fmt.Sprintf("adaq4224: writing %q to %s: %v", e.Value, e.Attr, e.Err)
}

// Unwrap returns the underlying I/O error
func (e *AttrWriteError) Unwrap() error { return e.Err }

// Mapping decides how a label selects a scale token
type Mapping int

const (
	// Numeric matches a label to the token with the same value at the
	// label's precision
	Numeric Mapping = iota

	// Positional matches the i-th label to the i-th token
	Positional
)

func (m Mapping) String() string {
	switch m {
	case Numeric:
		return "numeric"
	case Positional:
		return "positional"
	default:
		return "Mapping(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMapping converts "numeric" or "positional" to a Mapping
func ParseMapping(s string) (Mapping, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "numeric":
		return Numeric, nil
	case "positional":
		return Positional, nil
	}
	return Numeric, fmt.Errorf("unknown gain mapping %q, want numeric or positional", s)
}

// Options configure an ADAQ4224 session
type Options struct {
	// Labels are the selectable gains; DefaultLabels if empty
	Labels []string

	// Mapping decides how a label picks a token from the scale list
	Mapping Mapping

	// RestoreOnLoad makes LoadProfile write the saved scale back to the
	// device.  When false LoadProfile only refreshes cached state
	RestoreOnLoad bool
}

// Opener makes the session's own connection to the instrument
type Opener func() (*iio.Context, error)

type state int

const (
	uninitialized state = iota
	initialized
	tornDown
)

// ADAQ4224 is one gain selector session.  The zero value is not usable; make
// one with New.  Methods are safe for concurrent use.
type ADAQ4224 struct {
	open Opener
	opts Options

	mu          sync.Mutex
	state       state
	ctx         *iio.Context
	dev         *iio.Device
	ch          *iio.Channel
	choices     []string
	selected    string
	profilePath string
}

// New returns an uninitialized session which will connect with open
func New(open Opener, opts Options) *ADAQ4224 {
	if len(opts.Labels) == 0 {
		opts.Labels = DefaultLabels
	}
	opts.Labels = append([]string(nil), opts.Labels...)
	return &ADAQ4224{open: open, opts: opts}
}

// Name returns the plugin name
func (a *ADAQ4224) Name() string {
	return DeviceName
}

// Identify reports whether probe lists a device named exactly adaq4224.  It
// only looks at probe and does not need the session to be initialized.
func (a *ADAQ4224) Identify(probe *iio.Context) bool {
	if probe == nil {
		return false
	}
	for _, d := range probe.Devices() {
		if d.Name() == DeviceName {
			return true
		}
	}
	return false
}

// Init connects to the instrument, reads the list of available scales and
// returns the panel.  If profilePath is not empty the profile is loaded.
// When the device or channel is missing, ErrChannelNotFound is returned and
// the connection is released.
func (a *ADAQ4224) Init(profilePath string) (server.HTTPer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case initialized:
		return nil, ErrAlreadyInitialized
	case tornDown:
		return nil, ErrTornDown
	}
	ctx, err := a.open()
	if err != nil {
		return nil, errors.Wrap(err, "adaq4224: open IIO context")
	}
	dev, ok := ctx.FindDevice(DeviceName)
	var ch *iio.Channel
	if ok {
		ch, ok = dev.FindChannel(ChannelID, false)
	}
	if !ok {
		log.Printf("Error: Could not find %s channel\n", ChannelID)
		ctx.Close()
		return nil, ErrChannelNotFound
	}
	avail, err := ch.ReadAttr(attrScaleAvailable)
	if err != nil {
		ctx.Close()
		return nil, errors.Wrap(err, "adaq4224: read scale_available")
	}
	a.ctx, a.dev, a.ch = ctx, dev, ch
	a.choices = strings.Fields(avail)
	a.profilePath = profilePath
	a.state = initialized
	log.Printf("adaq4224: %d scales available: %s\n", len(a.choices), strings.Join(a.choices, " "))

	if profilePath != "" {
		if err := a.loadProfile(profilePath); err != nil {
			log.Printf("adaq4224: loading profile %s: %v\n", profilePath, err)
		}
	} else if err := a.reload(); err != nil {
		log.Printf("adaq4224: reading device state: %v\n", err)
	}
	return NewHTTPWrapper(a), nil
}

func (a *ADAQ4224) ready() error {
	switch a.state {
	case uninitialized:
		return ErrNotInitialized
	case tornDown:
		return ErrTornDown
	}
	return nil
}

// Labels returns the selectable gain labels
func (a *ADAQ4224) Labels() []string {
	return append([]string(nil), a.opts.Labels...)
}

// Choices returns the scale tokens the device reported
func (a *ADAQ4224) Choices() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.choices...)
}

// Selection returns the currently selected label
func (a *ADAQ4224) Selection() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected
}

// Select sets the selected label.  Nothing is written until Apply
func (a *ADAQ4224) Select(label string) {
	a.mu.Lock()
	a.selected = label
	a.mu.Unlock()
}

// ProfilePath returns the profile the session was initialized with
func (a *ADAQ4224) ProfilePath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profilePath
}

// compareGain compares two decimal strings at the coarser of their
// precisions, so "0.33" equals "0.333" but not "0.34"
func compareGain(x, y string) (int, error) {
	vx, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
	if err != nil {
		return 0, err
	}
	vy, err := strconv.ParseFloat(strings.TrimSpace(y), 64)
	if err != nil {
		return 0, err
	}
	unit := math.Max(mathx.Resolution(x), mathx.Resolution(y))
	rx, ry := mathx.Round(vx, unit), mathx.Round(vy, unit)
	switch {
	case math.Abs(rx-ry) < unit/2:
		return 0, nil
	case rx < ry:
		return -1, nil
	default:
		return 1, nil
	}
}

// resolve returns the scale token a label selects.  ok is false when the
// label is not one of the labels or, for numeric mapping, the device offers
// no matching scale.
func (a *ADAQ4224) resolve(label string) (token string, ok bool, err error) {
	idx := -1
	for i, l := range a.opts.Labels {
		if l == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false, nil
	}
	if a.opts.Mapping == Positional {
		if idx >= len(a.choices) {
			return "", false, ErrShortScaleList
		}
		return a.choices[idx], true, nil
	}
	for _, tok := range a.choices {
		cmp, err := compareGain(label, tok)
		if err != nil {
			log.Printf("adaq4224: ignoring malformed scale %q: %v\n", tok, err)
			continue
		}
		if cmp == 0 {
			return tok, true, nil
		}
	}
	return "", false, nil
}

// Apply writes the scale selected by the current label to the device.  At
// most one write is made.  A label that selects nothing writes nothing and
// returns false with a nil error.  A refused write is returned as an
// *AttrWriteError.
func (a *ADAQ4224) Apply() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apply()
}

func (a *ADAQ4224) apply() (bool, error) {
	if err := a.ready(); err != nil {
		return false, err
	}
	tok, ok, err := a.resolve(a.selected)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("adaq4224: label %q selects no scale, nothing written\n", a.selected)
		return false, nil
	}
	if err = a.ch.WriteAttr(attrScale, tok); err != nil {
		return false, &AttrWriteError{Attr: attrScale, Value: tok, Err: err}
	}
	return true, nil
}

// SelectAndApply selects label and applies it.  ErrNoMatch is returned when
// nothing was written
func (a *ADAQ4224) SelectAndApply(label string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selected = label
	wrote, err := a.apply()
	if err != nil {
		return err
	}
	if !wrote {
		return errors.Wrapf(ErrNoMatch, "%q", label)
	}
	return nil
}

// Scale reads the scale currently set on the device
func (a *ADAQ4224) Scale() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return "", err
	}
	return a.ch.ReadAttr(attrScale)
}

// Reload re-reads the available scales and the current scale, and selects
// the label matching the current scale
func (a *ADAQ4224) Reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	return a.reload()
}

func (a *ADAQ4224) reload() error {
	avail, err := a.ch.ReadAttr(attrScaleAvailable)
	if err != nil {
		return errors.Wrap(err, "read scale_available")
	}
	a.choices = strings.Fields(avail)
	cur, err := a.ch.ReadAttr(attrScale)
	if err != nil {
		return errors.Wrap(err, "read scale")
	}
	a.syncSelection(cur)
	return nil
}

// syncSelection selects the label whose token equals scale, if any
func (a *ADAQ4224) syncSelection(scale string) {
	for _, l := range a.opts.Labels {
		tok, ok, err := a.resolve(l)
		if err != nil || !ok {
			continue
		}
		if tok == scale {
			a.selected = l
			return
		}
		if cmp, err := compareGain(tok, scale); err == nil && cmp == 0 {
			a.selected = l
			return
		}
	}
}

// HandleItem applies one "attribute = value" line of a batch configuration.
// SYNC_RELOAD refreshes cached state; adaq4224.<sysfs file> writes the
// attribute behind that file.  Read-only *_available lists are skipped.
func (a *ADAQ4224) HandleItem(line int, attrib, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	return a.handleItem(line, attrib, value)
}

func (a *ADAQ4224) handleItem(line int, attrib, value string) error {
	if attrib == SyncReload {
		return a.reload()
	}
	if !strings.HasPrefix(attrib, DeviceName+".") {
		return errors.Wrapf(ErrUnknownItem, "line %d: %s", line, attrib)
	}
	file := strings.TrimPrefix(attrib, DeviceName+".")
	if strings.HasSuffix(file, "_available") {
		return nil
	}
	ch, attr, ok := a.dev.LookupFile(file)
	if !ok {
		return errors.Wrapf(ErrUnknownItem, "line %d: %s", line, attrib)
	}
	var err error
	if ch == nil {
		err = a.dev.WriteAttr(attr, value)
	} else {
		err = ch.WriteAttr(attr, value)
	}
	if err != nil {
		return &AttrWriteError{Attr: file, Value: value, Err: err}
	}
	if ch == a.ch && attr == attrScale {
		a.syncSelection(value)
	}
	return nil
}

// Raw reads or writes one attribute by its sysfs file name.  "in_voltage_scale"
// reads the attribute; "in_voltage_scale = 2.222222222" writes it the way a
// profile line would, then reads it back.
func (a *ADAQ4224) Raw(cmd string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return "", err
	}
	file, value, write := strings.Cut(cmd, "=")
	file = strings.TrimSpace(file)
	if _, _, ok := a.dev.LookupFile(file); !ok {
		return "", errors.Wrap(ErrUnknownItem, file)
	}
	if write {
		if err := a.handleItem(0, DeviceName+"."+file, strings.TrimSpace(value)); err != nil {
			return "", err
		}
	}
	return a.readFile(file)
}

// SaveProfile appends a [adaq4224] section with the current scale and scale
// list to the profile at path.  Attributes that cannot be read are left out.
// If the file cannot be opened nothing is saved and an error wrapping
// profile.ErrUnavailable is returned.
func (a *ADAQ4224) SaveProfile(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	return a.saveProfile(path)
}

func (a *ADAQ4224) saveProfile(path string) error {
	pairs := make([]profile.Pair, 0, len(profileFiles))
	for _, file := range profileFiles {
		ch, attr, ok := a.dev.LookupFile(file)
		if !ok {
			log.Printf("adaq4224: %s not found, not saved\n", file)
			continue
		}
		var (
			v   string
			err error
		)
		if ch == nil {
			v, err = a.dev.ReadAttr(attr)
		} else {
			v, err = ch.ReadAttr(attr)
		}
		if err != nil {
			log.Printf("adaq4224: reading %s: %v, not saved\n", file, err)
			continue
		}
		pairs = append(pairs, profile.Pair{Key: DeviceName + "." + file, Value: v})
	}
	return profile.AppendSection(path, DeviceName, pairs)
}

// LoadProfile refreshes the session from the profile at path.  Unless
// RestoreOnLoad is set, the device is not written and only cached state is
// refreshed from the device.  A restore only writes attributes whose saved
// value differs from the device, and cached state is refreshed even when the
// profile cannot be read.
func (a *ADAQ4224) LoadProfile(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	return a.loadProfile(path)
}

func (a *ADAQ4224) loadProfile(path string) (err error) {
	// cached state follows the device whatever happens to the restore
	defer func() {
		if rerr := a.reload(); err == nil {
			err = rerr
		}
	}()
	if !a.opts.RestoreOnLoad {
		log.Printf("adaq4224: load_profile %s: restore disabled, reading device state\n", path)
		return nil
	}
	pairs, err := profile.ReadSection(path, DeviceName)
	if err != nil {
		return err
	}
	for i, p := range pairs {
		if a.unchanged(p.Key, p.Value) {
			continue
		}
		if err = a.handleItem(i+1, p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// unchanged reports whether the attribute behind a profile key already holds
// value, so a restore after a batch apply does not write it again
func (a *ADAQ4224) unchanged(attrib, value string) bool {
	if !strings.HasPrefix(attrib, DeviceName+".") {
		return false
	}
	cur, err := a.readFile(strings.TrimPrefix(attrib, DeviceName+"."))
	return err == nil && cur == value
}

// readFile reads the attribute behind a sysfs file name
func (a *ADAQ4224) readFile(file string) (string, error) {
	ch, attr, ok := a.dev.LookupFile(file)
	if !ok {
		return "", errors.Wrap(ErrUnknownItem, file)
	}
	if ch == nil {
		return a.dev.ReadAttr(attr)
	}
	return ch.ReadAttr(attr)
}

// Destroy saves the profile to path and releases the instrument connection.
// A failed save is logged and does not prevent the release.
func (a *ADAQ4224) Destroy(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	if path != "" {
		if err := a.saveProfile(path); err != nil {
			log.Printf("adaq4224: save_profile %s: %v\n", path, err)
		}
	}
	a.state = tornDown
	return a.ctx.Close()
}
