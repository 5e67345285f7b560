package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/nasa-jpl/adaqlab/adi"
	"github.com/nasa-jpl/adaqlab/generichttp"
	"github.com/nasa-jpl/adaqlab/iio"
	"github.com/nasa-jpl/adaqlab/plugin"
	"github.com/nasa-jpl/adaqlab/server"
	"github.com/nasa-jpl/adaqlab/server/middleware/locker"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"
)

// Config holds the setup of the server.  It is populated by koanf from
// defaults, adaqsrv.yml and the command line, in that order.
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// URI is the IIO context to connect to, e.g. ip:192.168.2.1,
	// serial:/dev/ttyUSB0,115200, usb:0456:b671 or local:
	URI string `koanf:"URI" yaml:"URI"`

	// Mock replaces the hardware with an in-memory ADAQ4224
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Endpoint is the URL stem the gain selector panel is served on
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Profile is the INI file the panel saves to and loads from
	Profile string `koanf:"Profile" yaml:"Profile"`

	// Mapping is how labels pick a scale, "numeric" or "positional"
	Mapping string `koanf:"Mapping" yaml:"Mapping"`

	// Labels are the gains offered on the panel
	Labels []string `koanf:"Labels" yaml:"Labels"`

	// RestoreOnLoad writes the saved scale back to the device when a
	// profile is loaded
	RestoreOnLoad bool `koanf:"RestoreOnLoad" yaml:"RestoreOnLoad"`

	// CommandInterval is the minimum spacing between iiod commands
	CommandInterval time.Duration `koanf:"CommandInterval" yaml:"CommandInterval"`
}

// DefaultConfig is the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		URI:      "ip:192.168.2.1",
		Endpoint: "/adaq4224",
		Profile:  "adaq4224.ini",
		Mapping:  adi.Numeric.String(),
		Labels:   append([]string(nil), adi.DefaultLabels...),
	}
}

// LoadYaml converts a (path to a) yaml file into a Config struct, starting
// from the defaults
func LoadYaml(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// Options converts the panel part of the config into session options
func (c Config) Options() (adi.Options, error) {
	m, err := adi.ParseMapping(c.Mapping)
	if err != nil {
		return adi.Options{}, err
	}
	return adi.Options{Labels: c.Labels, Mapping: m, RestoreOnLoad: c.RestoreOnLoad}, nil
}

// Opener returns a function connecting to the instrument the config names.
// Each call yields an independent connection.
func (c Config) Opener() adi.Opener {
	if c.Mock {
		return func() (*iio.Context, error) {
			return iio.NewContext(adi.NewMock())
		}
	}
	return func() (*iio.Context, error) {
		return iio.Open(c.URI, c.CommandInterval)
	}
}

// BuildHost opens the probe connection, registers the gain selector and
// starts every plugin whose hardware is present
func BuildHost(c Config) (*plugin.Host, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	open := c.Opener()
	probe, err := open()
	if err != nil {
		return nil, errors.Wrap(err, "opening probe context")
	}
	host := plugin.NewHost(probe)
	if err = host.Register(adi.New(open, opts)); err != nil {
		host.Shutdown("")
		return nil, err
	}
	if err = host.Start(c.Profile); err != nil {
		log.Println(err)
	}
	if len(host.Running()) == 0 {
		host.Shutdown("")
		return nil, errors.Errorf("no plugin found its hardware at %s", c.URI)
	}
	return host, nil
}

// endpointFor is the URL stem of the named panel
func endpointFor(c Config, name string) string {
	if name == adi.DeviceName && c.Endpoint != "" {
		return generichttp.SubMuxSanitize(c.Endpoint)
	}
	return generichttp.SubMuxSanitize(name)
}

// BuildMux mounts each panel under its endpoint with a lock, and serves a
// special route, /endpoints, which returns a map of every stem to its routes
// as JSON.
func BuildMux(c Config, panels map[string]server.HTTPer) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	names := make([]string, 0, len(panels))
	for name := range panels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		httper := panels[name]
		hndlS := endpointFor(c, name)
		if _, dup := supergraph[hndlS]; dup {
			log.Printf("endpoint %s already in use, %s not served\n", hndlS, name)
			continue
		}

		lock := locker.New()
		locker.Inject(httper, lock)
		supergraph[hndlS] = httper.RT().Endpoints()

		root.Mount(hndlS, http.StripPrefix(hndlS, server.Mux(httper, lock.Check)))
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
