package plugin_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nasa-jpl/adaqlab/adi"
	"github.com/nasa-jpl/adaqlab/iio"
	"github.com/nasa-jpl/adaqlab/plugin"
	"github.com/nasa-jpl/adaqlab/profile"
	"github.com/nasa-jpl/adaqlab/server"
)

// recorder is a plugin that logs the calls made on it
type recorder struct {
	name    string
	present bool
	initErr error
	calls   *[]string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Identify(*iio.Context) bool { return r.present }

func (r *recorder) Init(string) (server.HTTPer, error) {
	*r.calls = append(*r.calls, r.name+".init")
	if r.initErr != nil {
		return nil, r.initErr
	}
	return adi.HTTPWrapper{RouteTable: server.RouteTable{}}, nil
}

func (r *recorder) HandleItem(line int, attrib, value string) error {
	*r.calls = append(*r.calls, r.name+".item:"+attrib)
	return nil
}

func (r *recorder) SaveProfile(string) error {
	*r.calls = append(*r.calls, r.name+".save")
	return nil
}

func (r *recorder) LoadProfile(string) error {
	*r.calls = append(*r.calls, r.name+".load")
	return nil
}

func (r *recorder) Destroy(string) error {
	*r.calls = append(*r.calls, r.name+".destroy")
	return nil
}

func TestHostLifecycleOrder(t *testing.T) {
	var calls []string
	probeBackend := iio.NewMock()
	probe, _ := iio.NewContext(probeBackend)
	h := plugin.NewHost(probe)
	h.Register(&recorder{name: "a", present: true, calls: &calls})
	h.Register(&recorder{name: "b", present: false, calls: &calls})
	h.Register(&recorder{name: "c", present: true, calls: &calls})
	if err := h.Register(&recorder{name: "a", calls: &calls}); !errors.Is(err, plugin.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if err := h.Start(""); err != nil {
		t.Fatal(err)
	}
	if got := h.Running(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("expected a and c running, got %v", got)
	}
	path := filepath.Join(t.TempDir(), "osc.ini")
	os.WriteFile(path, []byte("[c]\nc.x = 1\nc.y = 2\n"), 0o644)
	if err := h.ApplyProfile(path); err != nil {
		t.Fatal(err)
	}
	if err := h.Shutdown(path); err != nil {
		t.Fatal(err)
	}
	want := []string{"a.init", "c.init", "c.item:c.x", "c.item:c.y", "c.load", "c.destroy", "a.destroy"}
	if len(calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], calls[i])
		}
	}
	if probeBackend.Closes() != 1 {
		t.Errorf("expected the probe to be closed once, got %d", probeBackend.Closes())
	}
}

func TestHostInitFailureHasNoPanel(t *testing.T) {
	var calls []string
	probe, _ := iio.NewContext(iio.NewMock())
	h := plugin.NewHost(probe)
	h.Register(&recorder{name: "broken", present: true, initErr: errors.New("no channel"), calls: &calls})
	if err := h.Start(""); err == nil {
		t.Error("expected the init failure to be reported")
	}
	if len(h.Panels()) != 0 || len(h.Running()) != 0 {
		t.Error("a plugin that failed init must not be shown")
	}
}

func TestHostWithADAQ4224(t *testing.T) {
	probe, _ := iio.NewContext(adi.NewMock())
	own := adi.NewMock()
	session := adi.New(func() (*iio.Context, error) { return iio.NewContext(own) }, adi.Options{})
	h := plugin.NewHost(probe)
	h.Register(session)
	if err := h.Start(""); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.Panels()["adaq4224"]; !ok {
		t.Fatal("expected an adaq4224 panel")
	}
	path := filepath.Join(t.TempDir(), "osc.ini")
	os.WriteFile(path, []byte("[adaq4224]\nadaq4224.in_voltage_scale = 6.666666666\n"), 0o644)
	if err := h.ApplyProfile(path); err != nil {
		t.Fatal(err)
	}
	if session.Selection() != "6.67" {
		t.Errorf("expected the batch item to select 6.67, got %q", session.Selection())
	}
	if err := h.SaveProfile(path); err != nil {
		t.Fatal(err)
	}
	if err := h.Shutdown(path); err != nil {
		t.Fatal(err)
	}
	if own.Closes() != 1 {
		t.Errorf("expected the session connection to be closed once, got %d", own.Closes())
	}
}

func TestHostApplyProfileRestoresOnce(t *testing.T) {
	probe, _ := iio.NewContext(adi.NewMock())
	own := adi.NewMock()
	session := adi.New(func() (*iio.Context, error) { return iio.NewContext(own) }, adi.Options{RestoreOnLoad: true})
	h := plugin.NewHost(probe)
	h.Register(session)
	if err := h.Start(""); err != nil {
		t.Fatal(err)
	}
	defer h.Shutdown("")
	path := filepath.Join(t.TempDir(), "osc.ini")
	os.WriteFile(path, []byte("[adaq4224]\nadaq4224.in_voltage_scale = 2.222222222\n"), 0o644)
	if err := h.ApplyProfile(path); err != nil {
		t.Fatal(err)
	}
	if w := own.Writes(); len(w) != 1 || w[0].Value != "2.222222222" {
		t.Errorf("expected a single scale write, got %v", w)
	}
}

func TestHostApplyProfileReportsEveryPlugin(t *testing.T) {
	var calls []string
	probe, _ := iio.NewContext(iio.NewMock())
	h := plugin.NewHost(probe)
	h.Register(&recorder{name: "a", present: true, calls: &calls})
	h.Register(&recorder{name: "c", present: true, calls: &calls})
	if err := h.Start(""); err != nil {
		t.Fatal(err)
	}
	err := h.ApplyProfile(filepath.Join(t.TempDir(), "missing.ini"))
	if !errors.Is(err, profile.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	for _, name := range []string{"a: ", "c: "} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("expected the error for plugin %s to be reported, got %v", strings.TrimSuffix(name, ": "), err)
		}
	}
}
