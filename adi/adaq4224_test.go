package adi_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nasa-jpl/adaqlab/adi"
	"github.com/nasa-jpl/adaqlab/iio"
	"github.com/nasa-jpl/adaqlab/profile"
)

const plainScales = "0.33 0.56 2.22 6.67"

func mockWith(scales string) *iio.Mock {
	m := iio.NewMock()
	m.AddDevice("iio:device0", "adaq4224")
	m.SetChannelAttr("iio:device0", "voltage0", false, "scale", "in_voltage_scale", strings.Fields(scales)[0])
	m.SetChannelAttr("iio:device0", "voltage0", false, "scale_available", "in_voltage_scale_available", scales)
	return m
}

func opener(m *iio.Mock) adi.Opener {
	return func() (*iio.Context, error) { return iio.NewContext(m) }
}

func initialized(t *testing.T, m *iio.Mock, opts adi.Options) *adi.ADAQ4224 {
	t.Helper()
	a := adi.New(opener(m), opts)
	if _, err := a.Init(""); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestApplyWritesTokenForLabel(t *testing.T) {
	for _, mapping := range []adi.Mapping{adi.Numeric, adi.Positional} {
		t.Run(mapping.String(), func(t *testing.T) {
			m := mockWith(plainScales)
			a := initialized(t, m, adi.Options{Mapping: mapping})
			a.Select("2.22")
			wrote, err := a.Apply()
			if err != nil {
				t.Fatal(err)
			}
			if !wrote {
				t.Fatal("expected a write")
			}
			writes := m.Writes()
			if len(writes) != 1 {
				t.Fatalf("expected exactly one write, got %d", len(writes))
			}
			if writes[0].Loc.Attr != "scale" || writes[0].Value != "2.22" {
				t.Errorf("expected scale=2.22, got %s=%s", writes[0].Loc.Attr, writes[0].Value)
			}
		})
	}
}

func TestApplyUnknownLabelWritesNothing(t *testing.T) {
	for _, scales := range []string{plainScales, plainScales + " 9.99"} {
		m := mockWith(scales)
		a := initialized(t, m, adi.Options{})
		a.Select("9.99")
		wrote, err := a.Apply()
		if err != nil {
			t.Fatal(err)
		}
		if wrote || len(m.Writes()) != 0 {
			t.Errorf("scales %q: expected no write for a label outside the set, got %v", scales, m.Writes())
		}
	}
}

func TestNumericMappingMatchesAtLabelPrecision(t *testing.T) {
	m := adi.NewMock()
	a := initialized(t, m, adi.Options{})
	if err := a.SelectAndApply("0.56"); err != nil {
		t.Fatal(err)
	}
	v, _ := m.Value(iio.Locator{Device: "iio:device0", Channel: "voltage0", Attr: "scale"})
	if v != "0.555555555" {
		t.Errorf("expected the 0.56 label to select 0.555555555, got %q", v)
	}
}

func TestNumericMappingIgnoresOrder(t *testing.T) {
	m := mockWith("6.67 2.22 0.56 0.33")
	a := initialized(t, m, adi.Options{Mapping: adi.Numeric})
	if err := a.SelectAndApply("0.33"); err != nil {
		t.Fatal(err)
	}
	if w := m.Writes(); len(w) != 1 || w[0].Value != "0.33" {
		t.Errorf("expected 0.33 written regardless of order, got %v", w)
	}
}

func TestPositionalMappingShortList(t *testing.T) {
	m := mockWith("0.33 0.56")
	a := initialized(t, m, adi.Options{Mapping: adi.Positional})
	a.Select("6.67")
	_, err := a.Apply()
	if !errors.Is(err, adi.ErrShortScaleList) {
		t.Errorf("expected ErrShortScaleList, got %v", err)
	}
	if len(m.Writes()) != 0 {
		t.Errorf("expected no writes, got %v", m.Writes())
	}
}

func TestApplyReportsWriteFailure(t *testing.T) {
	m := mockWith(plainScales)
	a := initialized(t, m, adi.Options{})
	eio := errors.New("input/output error")
	m.FailWrites(eio)
	a.Select("6.67")
	wrote, err := a.Apply()
	var we *adi.AttrWriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected an AttrWriteError, got %v", err)
	}
	if wrote || we.Value != "6.67" || !errors.Is(err, eio) {
		t.Errorf("unexpected failure report %v (wrote=%v)", we, wrote)
	}
}

func TestInitChannelNotFoundReleasesConnection(t *testing.T) {
	noChannel := iio.NewMock()
	noChannel.AddDevice("iio:device0", "adaq4224")
	noChannel.SetChannelAttr("iio:device0", "voltage1", false, "scale", "in_voltage1_scale", "1")
	noDevice := iio.NewMock()
	noDevice.AddDevice("iio:device0", "ad7768")

	for name, m := range map[string]*iio.Mock{"no channel": noChannel, "no device": noDevice} {
		a := adi.New(opener(m), adi.Options{})
		panel, err := a.Init("")
		if !errors.Is(err, adi.ErrChannelNotFound) {
			t.Errorf("%s: expected ErrChannelNotFound, got %v", name, err)
		}
		if panel != nil {
			t.Errorf("%s: expected no panel", name)
		}
		if m.Closes() != 1 {
			t.Errorf("%s: expected connection released once, got %d", name, m.Closes())
		}
		if _, err = a.Apply(); !errors.Is(err, adi.ErrNotInitialized) {
			t.Errorf("%s: expected ErrNotInitialized after failed init, got %v", name, err)
		}
	}
}

func TestIdentifyUsesProbeOnly(t *testing.T) {
	a := adi.New(func() (*iio.Context, error) {
		t.Fatal("Identify must not open the session's own connection")
		return nil, nil
	}, adi.Options{})

	present, _ := iio.NewContext(adi.NewMock())
	if !a.Identify(present) {
		t.Error("expected adaq4224 to be identified")
	}
	other := iio.NewMock()
	other.AddDevice("iio:device0", "adaq4224x")
	other.AddDevice("adaq4224", "ad4630")
	absent, _ := iio.NewContext(other)
	if a.Identify(absent) {
		t.Error("expected only an exact name match to identify")
	}
	if a.Identify(nil) {
		t.Error("expected nil probe to identify nothing")
	}
}

func TestSaveProfileAppendsSections(t *testing.T) {
	m := mockWith(plainScales)
	a := initialized(t, m, adi.Options{})
	path := filepath.Join(t.TempDir(), "osc.ini")
	if err := a.SaveProfile(path); err != nil {
		t.Fatal(err)
	}
	if err := a.SelectAndApply("2.22"); err != nil {
		t.Fatal(err)
	}
	if err := a.SaveProfile(path); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(path)
	if n := strings.Count(string(b), "[adaq4224]"); n != 2 {
		t.Fatalf("expected two sections, got %d:\n%s", n, b)
	}
	pairs, err := profile.ReadSection(path, "adaq4224")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := profile.Lookup(pairs, "adaq4224.in_voltage_scale"); v != "2.22" {
		t.Errorf("expected latest scale 2.22, got %q", v)
	}
	if v, _ := profile.Lookup(pairs, "adaq4224.in_voltage_scale_available"); v != plainScales {
		t.Errorf("expected scale list %q, got %q", plainScales, v)
	}
}

func TestSaveProfileUnavailable(t *testing.T) {
	m := mockWith(plainScales)
	a := initialized(t, m, adi.Options{})
	err := a.SaveProfile(filepath.Join(t.TempDir(), "no", "such", "dir.ini"))
	if !errors.Is(err, profile.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoadProfileDefaultDoesNotWrite(t *testing.T) {
	m := mockWith(plainScales)
	path := filepath.Join(t.TempDir(), "osc.ini")
	profile.AppendSection(path, "adaq4224", []profile.Pair{{Key: "adaq4224.in_voltage_scale", Value: "6.67"}})
	a := adi.New(opener(m), adi.Options{})
	if _, err := a.Init(path); err != nil {
		t.Fatal(err)
	}
	if err := a.LoadProfile(path); err != nil {
		t.Fatal(err)
	}
	if len(m.Writes()) != 0 {
		t.Errorf("expected load to leave the device alone, got %v", m.Writes())
	}
	if a.Selection() != "0.33" {
		t.Errorf("expected selection to follow the device, got %q", a.Selection())
	}
}

func TestLoadProfileRestore(t *testing.T) {
	m := mockWith(plainScales)
	path := filepath.Join(t.TempDir(), "osc.ini")
	profile.AppendSection(path, "adaq4224", []profile.Pair{
		{Key: "adaq4224.in_voltage_scale", Value: "6.67"},
		{Key: "adaq4224.in_voltage_scale_available", Value: "1 2 3"},
	})
	a := adi.New(opener(m), adi.Options{RestoreOnLoad: true})
	if _, err := a.Init(path); err != nil {
		t.Fatal(err)
	}
	w := m.Writes()
	if len(w) != 1 || w[0].Value != "6.67" {
		t.Fatalf("expected only the scale to be restored, got %v", w)
	}
	if a.Selection() != "6.67" {
		t.Errorf("expected selection 6.67 after restore, got %q", a.Selection())
	}
	if got := a.Choices(); strings.Join(got, " ") != plainScales {
		t.Errorf("scale list must come from the device, got %v", got)
	}
}

func TestLoadProfileRestoreMissingFileStillSyncs(t *testing.T) {
	m := mockWith(plainScales)
	path := filepath.Join(t.TempDir(), "first-run.ini")
	a := adi.New(opener(m), adi.Options{RestoreOnLoad: true})
	if _, err := a.Init(path); err != nil {
		t.Fatal(err)
	}
	if a.Selection() != "0.33" {
		t.Errorf("expected selection 0.33 from the device without a profile, got %q", a.Selection())
	}
	if err := a.LoadProfile(path); !errors.Is(err, profile.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for a missing profile, got %v", err)
	}
	if len(m.Writes()) != 0 {
		t.Errorf("a missing profile must not write, got %v", m.Writes())
	}
}

func TestLoadProfileRestoreSkipsCurrentValues(t *testing.T) {
	m := mockWith(plainScales)
	path := filepath.Join(t.TempDir(), "osc.ini")
	profile.AppendSection(path, "adaq4224", []profile.Pair{{Key: "adaq4224.in_voltage_scale", Value: "2.22"}})
	a := initialized(t, m, adi.Options{RestoreOnLoad: true})
	if err := a.HandleItem(1, "adaq4224.in_voltage_scale", "2.22"); err != nil {
		t.Fatal(err)
	}
	if err := a.LoadProfile(path); err != nil {
		t.Fatal(err)
	}
	if w := m.Writes(); len(w) != 1 {
		t.Errorf("expected the restore to skip the value already set, got %v", w)
	}
	if a.Selection() != "2.22" {
		t.Errorf("expected selection 2.22, got %q", a.Selection())
	}
}

func TestHandleItem(t *testing.T) {
	m := mockWith(plainScales)
	a := initialized(t, m, adi.Options{})
	if err := a.HandleItem(1, "adaq4224.in_voltage_scale", "0.56"); err != nil {
		t.Fatal(err)
	}
	if a.Selection() != "0.56" {
		t.Errorf("expected selection to follow the written scale, got %q", a.Selection())
	}
	if err := a.HandleItem(2, "adaq4224.in_voltage_scale_available", "x"); err != nil {
		t.Errorf("read-only list should be skipped, got %v", err)
	}
	if err := a.HandleItem(3, "adaq4224.dds_mode", "1"); !errors.Is(err, adi.ErrUnknownItem) {
		t.Errorf("expected ErrUnknownItem, got %v", err)
	}
	if err := a.HandleItem(4, "ad9361.frequency", "1"); !errors.Is(err, adi.ErrUnknownItem) {
		t.Errorf("expected ErrUnknownItem, got %v", err)
	}
	m.SetChannelAttr("iio:device0", "voltage0", false, "scale", "in_voltage_scale", "2.22")
	if err := a.HandleItem(5, adi.SyncReload, "1"); err != nil {
		t.Fatal(err)
	}
	if a.Selection() != "2.22" {
		t.Errorf("expected SYNC_RELOAD to pick up 2.22, got %q", a.Selection())
	}
	if len(m.Writes()) != 1 {
		t.Errorf("expected one write, got %v", m.Writes())
	}
}

func TestLifecycle(t *testing.T) {
	m := mockWith(plainScales)
	a := initialized(t, m, adi.Options{})
	if _, err := a.Init(""); !errors.Is(err, adi.ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
	path := filepath.Join(t.TempDir(), "osc.ini")
	if err := a.Destroy(path); err != nil {
		t.Fatal(err)
	}
	if m.Closes() != 1 {
		t.Errorf("expected one close, got %d", m.Closes())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected destroy to save the profile: %v", err)
	}
	if err := a.Destroy(path); !errors.Is(err, adi.ErrTornDown) {
		t.Errorf("expected ErrTornDown, got %v", err)
	}
	if _, err := a.Init(""); !errors.Is(err, adi.ErrTornDown) {
		t.Errorf("expected no re-init after teardown, got %v", err)
	}
	if m.Closes() != 1 {
		t.Errorf("connection must be released exactly once, got %d", m.Closes())
	}
}

func TestDestroyReleasesEvenIfSaveFails(t *testing.T) {
	m := mockWith(plainScales)
	a := initialized(t, m, adi.Options{})
	if err := a.Destroy(filepath.Join(t.TempDir(), "missing", "osc.ini")); err != nil {
		t.Fatal(err)
	}
	if m.Closes() != 1 {
		t.Errorf("expected the connection to be released, got %d closes", m.Closes())
	}
}

func TestParseMapping(t *testing.T) {
	for in, want := range map[string]adi.Mapping{"": adi.Numeric, "Numeric": adi.Numeric, "positional": adi.Positional} {
		got, err := adi.ParseMapping(in)
		if err != nil || got != want {
			t.Errorf("ParseMapping(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := adi.ParseMapping("alphabetical"); err == nil {
		t.Error("expected an error for an unknown mapping")
	}
}
