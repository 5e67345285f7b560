package profile_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nasa-jpl/adaqlab/profile"
)

func TestAppendSectionAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osc.ini")
	first := []profile.Pair{
		{Key: "adaq4224.in_voltage_scale", Value: "0.33"},
		{Key: "adaq4224.in_voltage_scale_available", Value: "0.33 0.56 2.22 6.67"},
	}
	second := []profile.Pair{
		{Key: "adaq4224.in_voltage_scale", Value: "2.22"},
		{Key: "adaq4224.in_voltage_scale_available", Value: "0.33 0.56 2.22 6.67"},
	}
	if err := profile.AppendSection(path, "adaq4224", first); err != nil {
		t.Fatal(err)
	}
	if err := profile.AppendSection(path, "adaq4224", second); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(b), "[adaq4224]"); n != 2 {
		t.Errorf("expected two sections after two appends, got %d:\n%s", n, b)
	}
	pairs, err := profile.ReadSection(path, "adaq4224")
	if err != nil {
		t.Fatal(err)
	}
	v, ok := profile.Lookup(pairs, "adaq4224.in_voltage_scale")
	if !ok || v != "2.22" {
		t.Errorf("expected the last written scale 2.22, got %q", v)
	}
	v, _ = profile.Lookup(pairs, "adaq4224.in_voltage_scale_available")
	if v != "0.33 0.56 2.22 6.67" {
		t.Errorf("scale list did not survive the round trip, got %q", v)
	}
}

func TestAppendSectionKeepsOtherContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osc.ini")
	if err := os.WriteFile(path, []byte("[osc]\nplot0.domain = time\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := profile.AppendSection(path, "adaq4224", []profile.Pair{{Key: "adaq4224.in_voltage_scale", Value: "6.67"}}); err != nil {
		t.Fatal(err)
	}
	pairs, err := profile.ReadSection(path, "osc")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := profile.Lookup(pairs, "plot0.domain"); v != "time" {
		t.Errorf("existing section was disturbed, got %q", v)
	}
}

func TestAppendSectionAfterUnterminatedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osc.ini")
	if err := os.WriteFile(path, []byte("[osc]\nfoo = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := profile.AppendSection(path, "adaq4224", []profile.Pair{{Key: "adaq4224.in_voltage_scale", Value: "6.67"}}); err != nil {
		t.Fatal(err)
	}
	osc, err := profile.ReadSection(path, "osc")
	if err != nil {
		t.Fatal(err)
	}
	if len(osc) != 1 || osc[0].Value != "1" {
		t.Errorf("expected [osc] to hold only foo = 1, got %v", osc)
	}
	adaq, err := profile.ReadSection(path, "adaq4224")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := profile.Lookup(adaq, "adaq4224.in_voltage_scale"); v != "6.67" {
		t.Errorf("expected the appended scale 6.67, got %q", v)
	}
}

func TestAppendSectionUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "osc.ini")
	err := profile.AppendSection(path, "adaq4224", nil)
	if !errors.Is(err, profile.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestReadSectionErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := profile.ReadSection(filepath.Join(dir, "nope.ini"), "adaq4224")
	if !errors.Is(err, profile.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	path := filepath.Join(dir, "osc.ini")
	os.WriteFile(path, []byte("[osc]\na = b\n"), 0o644)
	_, err = profile.ReadSection(path, "adaq4224")
	if !errors.Is(err, profile.ErrNoSection) {
		t.Errorf("expected ErrNoSection, got %v", err)
	}
}
