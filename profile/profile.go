// Package profile reads and writes instrument profiles: INI files with one
// section per plugin holding "device.attribute = value" lines.
package profile

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

var (
	// ErrUnavailable is returned when the profile file cannot be opened
	ErrUnavailable = errors.New("profile file unavailable")

	// ErrNoSection is returned when the profile has no section of the requested name
	ErrNoSection = errors.New("profile has no such section")
)

// Pair is one key = value line
type Pair struct {
	Key   string
	Value string
}

// AppendSection appends a [section] block holding pairs to the file at path,
// creating it if needed.  Existing content is never rewritten, so appending
// the same section twice leaves two blocks in the file.
func AppendSection(path, section string, pairs []Pair) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// a file not ending in a newline would glue our header onto its last value
	if err = terminate(f); err != nil {
		f.Close()
		return err
	}
	cfg := ini.Empty()
	sec, err := cfg.NewSection(section)
	if err != nil {
		f.Close()
		return err
	}
	for _, p := range pairs {
		if _, err = sec.NewKey(p.Key, p.Value); err != nil {
			f.Close()
			return err
		}
	}
	_, err = cfg.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// terminate writes a newline to f, opened for append, unless f is empty or
// already ends in one
func terminate(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return nil
	}
	r, err := os.Open(f.Name())
	if err != nil {
		return err
	}
	defer r.Close()
	last := make([]byte, 1)
	if _, err = r.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// ReadSection returns the pairs of a section in file order.  When the
// section appears more than once, the blocks are merged and the value
// written last wins.
func ReadSection(path, section string) ([]Pair, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{Loose: false}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sec, err := cfg.GetSection(section)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSection, section)
	}
	keys := sec.Keys()
	out := make([]Pair, len(keys))
	for i, k := range keys {
		out[i] = Pair{Key: k.Name(), Value: k.Value()}
	}
	return out, nil
}

// Lookup returns the value of key in pairs
func Lookup(pairs []Pair, key string) (string, bool) {
	for _, p := range pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}
