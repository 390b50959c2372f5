package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/golang/glog"
	"github.com/knadh/koanf"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/nosseb/gomac/jvl"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "macserver.yml"
	k              = koanf.New(".")

	// cmdTimeout bounds the bus traffic of one CLI command
	cmdTimeout = 10 * time.Second
)

func root() {
	str := `macserver communicates with JVL MAC050 servo motors and exposes an HTTP interface to them

Usage:
	macserver [-v=2 -logtostderr] <command> [arguments]

Commands:
	run
	help
	mkconf
	conf
	version
	registers
	read <motor> <register>
	write <motor> <register> <value>
	init <motor>
	shell <motor>`
	fmt.Println(str)
}

func help() {
	str := `macserver is amenable to configuration via its .yml file, macserver.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html
Addr, Mock and RegistersFile may also be set by the environment variables
MACSERVER_ADDR, MACSERVER_MOCK and MACSERVER_REGISTERSFILE.

Motors are grouped by bus, a serial line or a TCP serial server.  Every motor
on a bus has its own MacTalk address and a unique name.  A bus with Endpoint
"bench/mac" serves
	/bench/mac/axis/{name}/pos         GET, POST {"f64": counts} (?relative=true)
	/bench/mac/axis/{name}/enabled     GET, POST {"bool": true} (position mode)
	/bench/mac/axis/{name}/velocity    GET, POST {"f64": V_SOLL}
	/bench/mac/axis/{name}/inposition  GET
	/bench/mac/axis/{name}/initialize  POST
	/bench/mac/axis/{name}/limits      GET
	/bench/mac/motor/{name}/registers  GET
	/bench/mac/motor/{name}/register/{reg}  GET, POST {"int": value}
	        (P_SOLL and MODE_REG are checked as by position/target and mode)
	/bench/mac/motor/{name}/mode       GET, POST {"str": "position"}
	/bench/mac/motor/{name}/position   GET
	/bench/mac/motor/{name}/position/target  POST {"int": counts} (?ignore-mode=true)
	/bench/mac/motor/{name}/velocity   GET
	/bench/mac/motor/{name}/config     GET
	/bench/mac/motor/{name}/status     GET
	/bench/mac/motor/{name}/refresh    POST
	/bench/mac/motor/{name}/initialize POST, optional SafetyLimits body
	/bench/mac/motor/{name}/status/stream  websocket, Status every ?interval=250ms
	/bench/mac/lock                    GET, POST {"bool": true}
	/bench/mac/endpoints               GET

Registers are named by symbol (P_IST) or number (10).  The read, write,
init and shell commands name a motor by "endpoint/name", or "name" alone if no
other bus has a motor called that.

With Mock: true every motor is simulated.`
	fmt.Println(str)
}

func mustConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		glog.Exit(err)
	}
	return c
}

func mkconf() {
	c := mustConfig()
	if len(c.Buses) == 0 {
		c.Buses = []BusSetup{exampleBus()}
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		glog.Exit(err)
	}
	defer f.Close()
	if err = yml.NewEncoder(f).Encode(c); err != nil {
		glog.Exit(err)
	}
}

func printconf() {
	c := mustConfig()
	if err := yml.NewEncoder(os.Stdout).Encode(c); err != nil {
		glog.Exit(err)
	}
}

func pversion() {
	fmt.Printf("macserver version %v\n", Version)
}

func printRegisters() {
	c := mustConfig()
	table := jvl.DefaultTable()
	if c.RegistersFile != "" {
		var err error
		if table, err = jvl.LoadTable(c.RegistersFile); err != nil {
			glog.Exit(err)
		}
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tNAME\tSIZE\tSIGNED\tPHASE\tDESCRIPTION")
	for _, r := range table.All() {
		name := r.Name
		if len(r.Aliases) > 0 {
			name += " (" + strings.Join(r.Aliases, ", ") + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%s\t%s\n", r.Number, name, r.Size, r.Signed, r.Phase, r.Description)
	}
	tw.Flush()
}

func mustBuses() []*Bus {
	buses, err := BuildBuses(mustConfig())
	if err != nil {
		glog.Exit(err)
	}
	return buses
}

func mustMotor(ref string) (*jvl.Motor, MotorSetup) {
	m, setup, err := FindMotor(mustBuses(), ref)
	if err != nil {
		glog.Exit(err)
	}
	return m, setup
}

func read(args []string) {
	if len(args) != 2 {
		glog.Exit("usage: macserver read <motor> <register>")
	}
	m, _ := mustMotor(args[0])
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	v, err := m.ReadValue(ctx, args[1])
	if err != nil {
		glog.Exit(err)
	}
	fmt.Println(v)
}

func write(args []string) {
	if len(args) != 3 {
		glog.Exit("usage: macserver write <motor> <register> <value>")
	}
	v, err := strconv.ParseInt(args[2], 0, 64)
	if err != nil {
		glog.Exit(err)
	}
	m, _ := mustMotor(args[0])
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	if err = m.WriteValue(ctx, args[1], v); err != nil {
		glog.Exit(err)
	}
}

func initialize(args []string) {
	if len(args) != 1 {
		glog.Exit("usage: macserver init <motor>")
	}
	m, setup := mustMotor(args[0])
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           "initializing " + args[0],
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		glog.Exit(err)
	}
	if err = spinner.Start(); err != nil {
		glog.Exit(err)
	}
	report, err := initMotor(m, setup, cmdTimeout)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		glog.Exitf("init %s: %v", args[0], err)
	}
	spinner.StopMessage(fmt.Sprintf("mode %s, errors %s", report.Mode, report.Errors))
	spinner.Stop()
	if err = yml.NewEncoder(os.Stdout).Encode(report); err != nil {
		glog.Exit(err)
	}
}

// initMotor runs the startup sequence of m with its configured safety limits.
// The bus traffic is bounded by timeout and over when it returns
func initMotor(m *jvl.Motor, setup MotorSetup, timeout time.Duration) (jvl.InitReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.Initialize(ctx, setup.Safety)
}

func run() {
	c := mustConfig()
	buses := mustBuses()
	if n := InitializeAll(buses, cmdTimeout); n > 0 {
		glog.Warningf("%d motors failed to initialize", n)
	}
	mux := BuildMux(buses)
	glog.Infof("now listening for requests at %s", c.Addr)
	glog.Exit(http.ListenAndServe(c.Addr, mux))
}

func main() {
	flag.Parse()
	defer glog.Flush()
	args := flag.Args()
	if len(args) == 0 {
		root()
		return
	}
	if err := loadConfig(k, ConfigFileName); err != nil {
		glog.Exit(err)
	}
	cmd := strings.ToLower(args[0])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "registers":
		printRegisters()
	case "read":
		read(args[1:])
	case "write":
		write(args[1:])
	case "init":
		initialize(args[1:])
	case "shell":
		shell(args[1:])
	case "run":
		run()
	default:
		glog.Exitf("unknown command %q", cmd)
	}
}
