// Package plugin defines the contract between the instrument server and the
// device plugins it hosts, and the Host which drives plugins through their
// lifecycle: identify, init, batch configuration, profile save/load, destroy.
package plugin

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/nasa-jpl/adaqlab/iio"
	"github.com/nasa-jpl/adaqlab/profile"
	"github.com/nasa-jpl/adaqlab/server"
)

// ErrDuplicate is returned when two plugins share a name
var ErrDuplicate = errors.New("plugin already registered")

// Plugin is a device panel the host can load
type Plugin interface {
	// Name is the plugin name, also its profile section
	Name() string

	// Identify reports whether the plugin's hardware is present.  It must
	// only use probe, which belongs to the host
	Identify(probe *iio.Context) bool

	// Init opens the plugin's own connection and builds its panel
	Init(profilePath string) (server.HTTPer, error)

	// HandleItem applies one "attribute = value" line of a batch configuration
	HandleItem(line int, attrib, value string) error

	// SaveProfile appends the plugin's section to the profile at path
	SaveProfile(path string) error

	// LoadProfile restores the plugin from the profile at path
	LoadProfile(path string) error

	// Destroy saves to path and releases the plugin's connection
	Destroy(path string) error
}

// Host owns a probe connection and the plugins it has started
type Host struct {
	probe *iio.Context

	mu         sync.Mutex
	registered []Plugin
	running    []Plugin
	panels     map[string]server.HTTPer
}

// NewHost returns a host which identifies plugins against probe
func NewHost(probe *iio.Context) *Host {
	return &Host{probe: probe, panels: map[string]server.HTTPer{}}
}

// Register adds a plugin.  Names must be unique
func (h *Host) Register(p Plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.registered {
		if r.Name() == p.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicate, p.Name())
		}
	}
	h.registered = append(h.registered, p)
	return nil
}

// Start identifies every registered plugin and initializes those whose
// hardware is present.  A plugin that fails to initialize gets no panel; the
// failures are returned together once every plugin has been tried.
func (h *Host) Start(profilePath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, p := range h.registered {
		if _, ok := h.panels[p.Name()]; ok {
			continue
		}
		if !p.Identify(h.probe) {
			log.Printf("plugin %s: hardware not found, skipping\n", p.Name())
			continue
		}
		panel, err := p.Init(profilePath)
		if err != nil {
			log.Printf("plugin %s: init failed: %v\n", p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		log.Printf("plugin %s: started\n", p.Name())
		h.running = append(h.running, p)
		h.panels[p.Name()] = panel
	}
	return errors.Join(errs...)
}

// Panels returns the panels of the running plugins, by plugin name
func (h *Host) Panels() map[string]server.HTTPer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]server.HTTPer, len(h.panels))
	for k, v := range h.panels {
		out[k] = v
	}
	return out
}

// Running returns the names of the running plugins in start order
func (h *Host) Running() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.running))
	for i, p := range h.running {
		names[i] = p.Name()
	}
	return names
}

// ApplyProfile feeds each running plugin the lines of its section of the
// profile at path, numbered from 1, then asks it to load the profile
func (h *Host) ApplyProfile(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, p := range h.running {
		pairs, err := profile.ReadSection(path, p.Name())
		switch {
		case errors.Is(err, profile.ErrNoSection):
			log.Printf("plugin %s: no section in %s\n", p.Name(), path)
			continue
		case err != nil:
			log.Printf("plugin %s: reading %s: %v\n", p.Name(), path, err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		for i, pair := range pairs {
			if err := p.HandleItem(i+1, pair.Key, pair.Value); err != nil {
				log.Printf("plugin %s: %s line %d: %v\n", p.Name(), path, i+1, err)
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
		if err := p.LoadProfile(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SaveProfile asks every running plugin to save to path
func (h *Host) SaveProfile(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, p := range h.running {
		if err := p.SaveProfile(path); err != nil {
			log.Printf("plugin %s: save_profile: %v\n", p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown destroys the running plugins in reverse start order, saving to
// path, and then closes the probe connection
func (h *Host) Shutdown(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for i := len(h.running) - 1; i >= 0; i-- {
		p := h.running[i]
		if err := p.Destroy(path); err != nil {
			log.Printf("plugin %s: destroy: %v\n", p.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
		delete(h.panels, p.Name())
	}
	h.running = nil
	if h.probe != nil {
		if err := h.probe.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
