package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/adaqlab/adi"
	"github.com/nasa-jpl/adaqlab/iio"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "adaqsrv.yml"
	k              = koanf.New(".")
)

func flagSet() *pflag.FlagSet {
	d := DefaultConfig()
	fs := pflag.NewFlagSet("adaqsrv", pflag.ExitOnError)
	fs.String("Addr", d.Addr, "address to listen at")
	fs.String("URI", d.URI, "IIO context URI (ip:, serial:, usb:, local:)")
	fs.Bool("Mock", d.Mock, "serve an in-memory ADAQ4224 instead of hardware")
	fs.String("Endpoint", d.Endpoint, "URL stem of the gain selector")
	fs.String("Profile", d.Profile, "INI profile to save to and load from")
	fs.String("Mapping", d.Mapping, "label to scale mapping, numeric or positional")
	fs.StringSlice("Labels", d.Labels, "gain labels offered on the panel")
	fs.Bool("RestoreOnLoad", d.RestoreOnLoad, "write the saved scale back when a profile is loaded")
	fs.Duration("CommandInterval", d.CommandInterval, "minimum spacing between iiod commands")
	return fs
}

func setupconfig(args []string) {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	fs := flagSet()
	fs.Parse(args)
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		log.Fatalf("error loading flags: %v", err)
	}
}

func config() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `adaqsrv serves the PGIA gain selector of an ADAQ4224 µModule ADC over HTTP.
The ADC is reached through IIO, either the IIO daemon over the network, a
serial or USB link, or the local sysfs tree.

Usage:
	adaqsrv <command> [flags]

Commands:
	run
	probe
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `adaqsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Every key may also be given as a flag, e.g. adaqsrv run --URI=ip:10.0.0.5
Flags override the file, which overrides the defaults.  mkconf writes the
effective configuration to adaqsrv.yml.

URI forms:
	ip:host[:port]         the IIO daemon, port 30431 if omitted
	serial:/dev/ttyUSB0    the IIO daemon on a serial link, optionally ",baud"
	usb:0456:b671          the IIO daemon on a USB link, hex vendor:product
	local:[/sys root]      the local sysfs tree

The panel is served under Endpoint, e.g. /adaq4224/gain.  GET /endpoints
lists every route.  The profile is saved when the server is stopped with
Ctrl-C.

Mapping selects how a label picks a scale from the device's list:
	numeric      the scale equal to the label at the label's precision
	positional   the i-th scale for the i-th label`
	fmt.Println(str)
	fmt.Println("\nFlags:")
	fmt.Println(flagSet().FlagUsages())
}

func mkconf() {
	c := config()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("adaqsrv version %v\n", Version)
}

func probe() {
	c := config()
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           "connecting to " + c.URI,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	ctx, err := c.Opener()()
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	defer ctx.Close()
	report, err := describe(ctx)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		ctx.Close()
		os.Exit(1)
	}
	spinner.StopMessage(report)
	spinner.Stop()
}

// describe reports whether ctx holds an ADAQ4224 and its scale list
func describe(ctx *iio.Context) (string, error) {
	dev, ok := ctx.FindDevice(adi.DeviceName)
	if !ok {
		return "", fmt.Errorf("%s not found in context %s", adi.DeviceName, ctx.Name())
	}
	ch, ok := dev.FindChannel(adi.ChannelID, false)
	if !ok {
		return "", adi.ErrChannelNotFound
	}
	avail, err := ch.ReadAttr("scale_available")
	if err != nil {
		return "", err
	}
	scale, err := ch.ReadAttr("scale")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s at %s, scale %s of [%s]", adi.DeviceName, dev.ID(), scale, avail), nil
}

func run() {
	c := config()
	host, err := BuildHost(c)
	if err != nil {
		log.Fatal(err)
	}
	mux := BuildMux(c, host.Panels())
	srv := &http.Server{Addr: c.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Println("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Println("now listening for requests at ", c.Addr)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Println(err)
	}
	if err := host.Shutdown(c.Profile); err != nil {
		log.Println(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig(args[2:])
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "probe":
		probe()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
