package jvl

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed registers.yml
var defaultRegisters []byte

// ErrUnknownRegister is returned when a register name or number is not in the table
var ErrUnknownRegister = errors.New("unknown register")

// Phase says when a register is touched during startup
type Phase string

const (
	// PhaseNone registers are not part of initialization
	PhaseNone Phase = ""

	// PhaseInitRead registers are read once at startup to validate the motor state
	PhaseInitRead Phase = "init-read"

	// PhaseInitWrite registers are written once at startup to set safety limits
	PhaseInitWrite Phase = "init-write"
)

// Register describes one numbered memory location on the motor
type Register struct {
	Number      byte     `yaml:"number" json:"number"`
	Name        string   `yaml:"name" json:"name"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Size        int      `yaml:"size" json:"size"`
	Signed      bool     `yaml:"signed,omitempty" json:"signed"`
	Phase       Phase    `yaml:"phase,omitempty" json:"phase,omitempty"`
	Description string   `yaml:"description" json:"description"`
}

// Table is a register catalogue indexed by name and number.  It is
// immutable once built and safe for concurrent use.
type Table struct {
	regs     []Register
	byName   map[string]int
	byNumber map[byte]int
}

// NewTable validates regs and indexes them
func NewTable(regs []Register) (*Table, error) {
	t := &Table{
		byName:   make(map[string]int, len(regs)),
		byNumber: make(map[byte]int, len(regs)),
	}
	sorted := append([]Register(nil), regs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	for i, r := range sorted {
		if r.Name == "" {
			return nil, fmt.Errorf("register %d has no name", r.Number)
		}
		if r.Size != 2 && r.Size != 4 {
			return nil, fmt.Errorf("register %s: size must be 2 or 4 bytes, got %d", r.Name, r.Size)
		}
		switch r.Phase {
		case PhaseNone, PhaseInitRead, PhaseInitWrite:
		default:
			return nil, fmt.Errorf("register %s: unknown phase %q", r.Name, r.Phase)
		}
		if _, dup := t.byNumber[r.Number]; dup {
			return nil, fmt.Errorf("register number %d is defined twice", r.Number)
		}
		t.byNumber[r.Number] = i
		for _, n := range append([]string{r.Name}, r.Aliases...) {
			key := strings.ToUpper(n)
			if _, dup := t.byName[key]; dup {
				return nil, fmt.Errorf("register name %s is defined twice", n)
			}
			t.byName[key] = i
		}
	}
	t.regs = sorted
	return t, nil
}

// ParseTable decodes a YAML register catalogue
func ParseTable(b []byte) (*Table, error) {
	var regs []Register
	if err := yaml.UnmarshalStrict(b, &regs); err != nil {
		return nil, err
	}
	return NewTable(regs)
}

// LoadTable reads a YAML register catalogue from path
func LoadTable(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(b)
}

var defaultTable = mustParse(defaultRegisters)

func mustParse(b []byte) *Table {
	t, err := ParseTable(b)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTable returns the built-in MAC050 register catalogue
func DefaultTable() *Table {
	return defaultTable
}

// ByName returns the register called name, case insensitive, aliases included
func (t *Table) ByName(name string) (Register, bool) {
	i, ok := t.byName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Register{}, false
	}
	return t.regs[i], true
}

// ByNumber returns the register at number
func (t *Table) ByNumber(number byte) (Register, bool) {
	i, ok := t.byNumber[number]
	if !ok {
		return Register{}, false
	}
	return t.regs[i], true
}

// Lookup finds a register by name or by decimal number, e.g. "P_IST" or "10"
func (t *Table) Lookup(s string) (Register, error) {
	if r, ok := t.ByName(s); ok {
		return r, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err == nil {
		if n < 0 || n > 255 {
			return Register{}, fmt.Errorf("%w: register number %d out of range 0-255", ErrUnknownRegister, n)
		}
		if r, ok := t.ByNumber(byte(n)); ok {
			return r, nil
		}
	}
	return Register{}, fmt.Errorf("%w: %q", ErrUnknownRegister, s)
}

// Phase returns the registers of phase p, ordered by number
func (t *Table) Phase(p Phase) []Register {
	var out []Register
	for _, r := range t.regs {
		if r.Phase == p {
			out = append(out, r)
		}
	}
	return out
}

// All returns every register, ordered by number
func (t *Table) All() []Register {
	return append([]Register(nil), t.regs...)
}
