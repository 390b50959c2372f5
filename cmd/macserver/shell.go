package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"
	yml "gopkg.in/yaml.v2"

	"github.com/nosseb/gomac/jvl"
)

var errUsage = errors.New("wrong number of arguments")

// shellCmd is one command of the interactive shell.  Run returns the text
// to print
type shellCmd struct {
	name  string
	usage string
	nargs int
	run   func(ctx context.Context, m *jvl.Motor, s MotorSetup, args []string) (string, error)
}

func yamlString(v interface{}) (string, error) {
	b, err := yml.Marshal(v)
	return strings.TrimRight(string(b), "\n"), err
}

var shellCmds = []shellCmd{
	{"read", "read <register>", 1, func(ctx context.Context, m *jvl.Motor, _ MotorSetup, args []string) (string, error) {
		v, err := m.ReadValue(ctx, args[0])
		return strconv.FormatInt(v, 10), err
	}},
	{"write", "write <register> <value>", 2, func(ctx context.Context, m *jvl.Motor, _ MotorSetup, args []string) (string, error) {
		v, err := strconv.ParseInt(args[1], 0, 64)
		if err != nil {
			return "", err
		}
		return "", m.WriteValue(ctx, args[0], v)
	}},
	{"mode", "mode [passive|velocity|position|...]", -1, func(ctx context.Context, m *jvl.Motor, _ MotorSetup, args []string) (string, error) {
		switch len(args) {
		case 0:
			mode, err := m.GetMode(ctx)
			return mode.String(), err
		case 1:
			mode, err := jvl.ParseMode(args[0])
			if err != nil {
				return "", err
			}
			return "", m.SetMode(ctx, mode)
		default:
			return "", errUsage
		}
	}},
	{"pos", "pos", 0, func(ctx context.Context, m *jvl.Motor, _ MotorSetup, _ []string) (string, error) {
		p, err := m.GetPosition(ctx)
		return strconv.FormatInt(p, 10), err
	}},
	{"target", "target <counts>", 1, func(ctx context.Context, m *jvl.Motor, _ MotorSetup, args []string) (string, error) {
		p, err := strconv.ParseInt(args[0], 0, 64)
		if err != nil {
			return "", err
		}
		return "", m.SetTargetPosition(ctx, p, false)
	}},
	{"status", "status", 0, func(ctx context.Context, m *jvl.Motor, _ MotorSetup, _ []string) (string, error) {
		if err := m.RefreshStatus(ctx); err != nil {
			return "", err
		}
		return yamlString(m.Status())
	}},
	{"config", "config", 0, func(ctx context.Context, m *jvl.Motor, _ MotorSetup, _ []string) (string, error) {
		if err := m.RefreshConfig(ctx); err != nil {
			return "", err
		}
		return yamlString(m.Config())
	}},
	{"init", "init", 0, func(ctx context.Context, m *jvl.Motor, s MotorSetup, _ []string) (string, error) {
		report, err := m.Initialize(ctx, s.Safety)
		if err != nil {
			return "", err
		}
		return yamlString(report)
	}},
	{"registers", "registers", 0, func(_ context.Context, m *jvl.Motor, _ MotorSetup, _ []string) (string, error) {
		var b strings.Builder
		for _, r := range m.Table().All() {
			fmt.Fprintf(&b, "%3d %s\n", r.Number, r.Name)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}},
}

// runShellCmd looks up and runs one shell command against m
func runShellCmd(m *jvl.Motor, s MotorSetup, name string, args []string, timeout time.Duration) (string, error) {
	for _, c := range shellCmds {
		if c.name != name {
			continue
		}
		if c.nargs >= 0 && len(args) != c.nargs {
			return "", fmt.Errorf("%w, usage: %s", errUsage, c.usage)
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return c.run(ctx, m, s, args)
	}
	return "", fmt.Errorf("unknown command %q", name)
}

func shell(args []string) {
	if len(args) != 1 {
		glog.Exit("usage: macserver shell <motor>")
	}
	m, setup := mustMotor(args[0])
	sh := ishell.New()
	sh.SetPrompt(args[0] + " > ")
	for _, c := range shellCmds {
		name := c.name
		sh.AddCmd(&ishell.Cmd{
			Name: name,
			Help: c.usage,
			Func: func(ctx *ishell.Context) {
				out, err := runShellCmd(m, setup, name, ctx.Args, cmdTimeout)
				if err != nil {
					ctx.Err(err)
					return
				}
				if out != "" {
					ctx.Println(out)
				}
			},
		})
	}
	sh.Printf("motor %s at address %d, type help for commands\n", args[0], m.Address())
	sh.Run()
}
