package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/golang/glog"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yaml3 "gopkg.in/yaml.v3"

	"github.com/nosseb/gomac/comm"
	"github.com/nosseb/gomac/generichttp"
	"github.com/nosseb/gomac/generichttp/motion"
	"github.com/nosseb/gomac/jvl"
	"github.com/nosseb/gomac/server/middleware/locker"
	"github.com/nosseb/gomac/util"
)

// EnvPrefix starts the name of every environment variable read as configuration
const EnvPrefix = "MACSERVER_"

var (
	errNoBuses   = errors.New("no buses configured")
	errNoMotor   = errors.New("no such motor")
	validName    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	envOverrides = []string{"Addr", "Mock", "RegistersFile"}
)

var _ motion.Controller = (*jvl.Axes)(nil)

// MotorSetup describes one motor on a bus
type MotorSetup struct {
	// Name is the axis name, and the directory of the motor's routes
	Name string `yaml:"Name" koanf:"Name"`

	// Address is the MacTalk address of the motor, 1..255
	Address int `yaml:"Address" koanf:"Address"`

	// Retries is the number of re-attempts after a misdirected or damaged
	// response.  Zero means the default, negative means none
	Retries int `yaml:"Retries" koanf:"Retries"`

	// RetryInterval is the pause between re-attempts, e.g. "20ms"
	RetryInterval string `yaml:"RetryInterval" koanf:"RetryInterval"`

	// Safety holds the values written to the init-write registers
	Safety jvl.SafetyLimits `yaml:"Safety" koanf:"Safety"`

	// Limits is a software limit on positions commanded over HTTP
	Limits util.Limiter `yaml:"Limits" koanf:"Limits"`

	// InitOnStart runs the startup sequence before the server listens
	InitOnStart bool `yaml:"InitOnStart" koanf:"InitOnStart"`
}

// BusSetup describes a serial line or TCP serial server and the motors on it
type BusSetup struct {
	// Endpoint is the URL the routes of the bus are served under, e.g. "bench/mac"
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// Addr holds the network or filesystem address of the bus,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyUSB0 for a USB-RS485 adapter
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Serial determines if the connection is serial (True) or TCP (False)
	Serial bool `yaml:"Serial" koanf:"Serial"`

	// IdleTimeout closes the connection after this long unused, e.g. "1m"
	IdleTimeout string `yaml:"IdleTimeout" koanf:"IdleTimeout"`

	// MinInterval is the least time between two transactions on the bus
	MinInterval string `yaml:"MinInterval" koanf:"MinInterval"`

	Motors []MotorSetup `yaml:"Motors" koanf:"Motors"`
}

// Config is a struct that holds the initialization parameters of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces every motor with a simulated one
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// RegistersFile replaces the built-in register table
	RegistersFile string `yaml:"RegistersFile" koanf:"RegistersFile"`

	Buses []BusSetup `yaml:"Buses" koanf:"Buses"`
}

// defaultConfig is loaded before the file and environment
func defaultConfig() Config {
	return Config{Addr: ":8000", Buses: []BusSetup{}}
}

// exampleBus is written by mkconf when no bus is configured
func exampleBus() BusSetup {
	return BusSetup{
		Endpoint:    "mac",
		Addr:        "/dev/ttyUSB0",
		Serial:      true,
		IdleTimeout: "1m",
		MinInterval: "5ms",
		Motors: []MotorSetup{{
			Name:          "x",
			Address:       1,
			RetryInterval: "20ms",
			Safety:        jvl.SafetyLimits{RegulationError: 1000, MovementError: 2000},
		}},
	}
}

// envKey maps MACSERVER_REGISTERSFILE to RegistersFile.  Other variables
// are ignored
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	for _, k := range envOverrides {
		if strings.EqualFold(k, s) {
			return k
		}
	}
	return ""
}

// yamlParser is a koanf.Parser reading YAML 1.2, where y, n, on and off are
// strings and not booleans, so they work as motor names
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := yaml3.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (yamlParser) Marshal(o map[string]interface{}) ([]byte, error) {
	return yaml3.Marshal(o)
}

// loadConfig layers the defaults, the file at path and the environment
// into k.  A missing file is not an error
func loadConfig(k *koanf.Koanf, path string) error {
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return err
	}
	if err := k.Load(file.Provider(path), yamlParser{}); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading config: %w", err)
	}
	return k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// Bus is a BusSetup with its motors made
type Bus struct {
	Setup  BusSetup
	Axes   *jvl.Axes
	Motors map[string]*jvl.Motor
}

// motorSetup returns the setup of the motor called name
func (b *Bus) motorSetup(name string) MotorSetup {
	for _, ms := range b.Setup.Motors {
		if ms.Name == name {
			return ms
		}
	}
	return MotorSetup{}
}

// BuildBuses makes the motors of every configured bus.  No traffic is
// generated
func BuildBuses(c Config) ([]*Bus, error) {
	if len(c.Buses) == 0 {
		return nil, errNoBuses
	}
	table := jvl.DefaultTable()
	if c.RegistersFile != "" {
		var err error
		table, err = jvl.LoadTable(c.RegistersFile)
		if err != nil {
			return nil, err
		}
	}
	endpoints := map[string]bool{}
	var out []*Bus
	for _, setup := range c.Buses {
		hndlS := generichttp.SubMuxSanitize(setup.Endpoint)
		if hndlS == "/" || endpoints[hndlS] {
			return nil, fmt.Errorf("bus %q: endpoint missing or used twice", setup.Endpoint)
		}
		endpoints[hndlS] = true
		bus, err := buildBus(setup, table, c.Mock)
		if err != nil {
			return nil, fmt.Errorf("bus %s: %w", hndlS, err)
		}
		out = append(out, bus)
	}
	return out, nil
}

func buildBus(setup BusSetup, table *jvl.Table, mock bool) (*Bus, error) {
	idle, err := parseDuration("IdleTimeout", setup.IdleTimeout)
	if err != nil {
		return nil, err
	}
	minInterval, err := parseDuration("MinInterval", setup.MinInterval)
	if err != nil {
		return nil, err
	}
	if len(setup.Motors) == 0 {
		return nil, errors.New("no motors")
	}
	bus := &Bus{Setup: setup, Axes: jvl.NewAxes(), Motors: map[string]*jvl.Motor{}}
	var pool *comm.Pool
	if !mock {
		// every motor on the line shares the one connection
		pool = jvl.NewPool(setup.Addr, setup.Serial, idle)
	}
	addresses := map[int]bool{}
	for _, ms := range setup.Motors {
		if !validName.MatchString(ms.Name) || bus.Motors[ms.Name] != nil {
			return nil, fmt.Errorf("motor %q: name must be unique and made of letters, digits, - and _", ms.Name)
		}
		if ms.Address < 1 || ms.Address > 255 || addresses[ms.Address] {
			return nil, fmt.Errorf("motor %s: address %d invalid or used twice", ms.Name, ms.Address)
		}
		addresses[ms.Address] = true
		retryInterval, err := parseDuration("RetryInterval", ms.RetryInterval)
		if err != nil {
			return nil, fmt.Errorf("motor %s: %w", ms.Name, err)
		}
		opts := []jvl.Option{jvl.WithTable(table), jvl.WithMinInterval(minInterval)}
		if ms.Retries != 0 {
			opts = append(opts, jvl.WithRetries(ms.Retries))
		}
		if retryInterval > 0 {
			opts = append(opts, jvl.WithRetryInterval(retryInterval))
		}
		p := pool
		if mock {
			dev := jvl.NewMockDevice(byte(ms.Address))
			p = comm.NewPool(1, 0, func() (io.ReadWriteCloser, error) { return dev, nil })
		}
		m, err := jvl.NewMotor(p, byte(ms.Address), opts...)
		if err != nil {
			return nil, fmt.Errorf("motor %s: %w", ms.Name, err)
		}
		bus.Motors[ms.Name] = m
		bus.Axes.Add(ms.Name, m, ms.Safety)
	}
	return bus, nil
}

// FindMotor returns the motor referred to as "endpoint/name", or as "name"
// if that is unambiguous
func FindMotor(buses []*Bus, ref string) (*jvl.Motor, MotorSetup, error) {
	var (
		found *jvl.Motor
		setup MotorSetup
		n     int
	)
	for _, b := range buses {
		for name, m := range b.Motors {
			full := strings.TrimPrefix(generichttp.SubMuxSanitize(b.Setup.Endpoint), "/") + "/" + name
			if ref == full || strings.TrimPrefix(ref, "/") == full {
				return m, b.motorSetup(name), nil
			}
			if ref == name {
				found, setup = m, b.motorSetup(name)
				n++
			}
		}
	}
	switch n {
	case 0:
		return nil, MotorSetup{}, fmt.Errorf("%w: %s", errNoMotor, ref)
	case 1:
		return found, setup, nil
	default:
		return nil, MotorSetup{}, fmt.Errorf("motor name %s is on %d buses, use endpoint/name", ref, n)
	}
}

// InitializeAll runs the startup sequence of every motor with InitOnStart.
// Failures are logged; the motor is left for an operator to initialize
func InitializeAll(buses []*Bus, timeout time.Duration) int {
	failed := 0
	for _, b := range buses {
		for _, ms := range b.Setup.Motors {
			if !ms.InitOnStart {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			_, err := b.Motors[ms.Name].Initialize(ctx, ms.Safety)
			cancel()
			if err != nil {
				glog.Errorf("initializing %s/%s: %v", b.Setup.Endpoint, ms.Name, err)
				failed++
			}
		}
	}
	return failed
}

// BuildMux makes a router serving every bus under its endpoint.
//
// A bus serves the motion routes of its axes (/axis/{axis}/pos, ...), the
// register routes of each motor under /motor/{name}, and a lock.  The root
// serves GET /endpoints listing every route
func BuildMux(buses []*Bus) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for _, b := range buses {
		httper := motion.NewHTTPMotionController(b.Axes)
		limits := map[string]util.Limiter{}
		for _, ms := range b.Setup.Motors {
			if !ms.Limits.Unlimited() {
				limits[ms.Name] = ms.Limits
			}
		}
		limiter := motion.LimitMiddleware{Limits: limits, Mov: b.Axes}
		limiter.Inject(httper)

		rt := httper.RT()
		for name, m := range b.Motors {
			wrap := jvl.NewHTTPWrapper(m)
			ms := b.motorSetup(name)
			wrap.Safety = ms.Safety
			wrap.Limits = ms.Limits
			for mp, h := range wrap.RT() {
				rt[generichttp.MethodPath{Method: mp.Method, Path: "/motor/" + name + mp.Path}] = h
			}
		}

		lock := locker.New()
		locker.Inject(httper, lock)

		// prepare the URL, "bench/mac" => "/bench/mac"
		hndlS := generichttp.SubMuxSanitize(b.Setup.Endpoint)
		supergraph[hndlS] = rt.Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		rt.Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.ReplyJSON(w, r, supergraph)
	})
	return root
}
