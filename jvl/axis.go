package jvl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// ErrUnknownAxis is returned when no motor goes by the axis name
var ErrUnknownAxis = errors.New("unknown axis")

// DefaultAxisTimeout bounds each call made through Axes, on top of the
// caller's context
const DefaultAxisTimeout = 5 * time.Second

// Axes groups the motors of a bus under axis names and drives them through
// the motion interfaces.  Positions are in encoder counts and velocities in
// the units of V_SOLL.
//
// Enabled means any mode but Passive; Enable puts a motor in Position mode.
type Axes struct {
	mu      sync.RWMutex
	motors  map[string]*Motor
	safety  map[string]SafetyLimits
	Timeout time.Duration
}

// NewAxes returns an empty group of axes
func NewAxes() *Axes {
	return &Axes{
		motors:  map[string]*Motor{},
		safety:  map[string]SafetyLimits{},
		Timeout: DefaultAxisTimeout,
	}
}

// Add places m under the axis name, with the safety limits Initialize writes
func (a *Axes) Add(name string, m *Motor, limits SafetyLimits) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.motors[name] = m
	a.safety[name] = limits
}

// Names returns the axis names, sorted
func (a *Axes) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.motors))
	for k := range a.motors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Motor returns the motor behind an axis
func (a *Axes) Motor(axis string) (*Motor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.motors[axis]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAxis, axis)
	}
	return m, nil
}

func (a *Axes) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.Timeout)
}

// HTTPStatus maps the errors of Axes to HTTP status codes
func (a *Axes) HTTPStatus(err error) int {
	return StatusCode(err)
}

// counts converts a position or velocity to an integer register value
func counts(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v", ErrOutOfRange, f)
	}
	return int64(math.Round(f)), nil
}

// GetPos returns the actual position of an axis
func (a *Axes) GetPos(ctx context.Context, axis string) (float64, error) {
	m, err := a.Motor(axis)
	if err != nil {
		return 0, err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	pos, err := m.GetPosition(ctx)
	return float64(pos), err
}

// MoveAbs sets the target position of an axis, which must be in Position mode
func (a *Axes) MoveAbs(ctx context.Context, axis string, pos float64) error {
	m, err := a.Motor(axis)
	if err != nil {
		return err
	}
	target, err := counts(pos)
	if err != nil {
		return err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	return m.SetTargetPosition(ctx, target, false)
}

// MoveRel shifts the target position of an axis by delta from the actual position
func (a *Axes) MoveRel(ctx context.Context, axis string, delta float64) error {
	m, err := a.Motor(axis)
	if err != nil {
		return err
	}
	d, err := counts(delta)
	if err != nil {
		return err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	pos, err := m.GetPosition(ctx)
	if err != nil {
		return err
	}
	return m.SetTargetPosition(ctx, pos+d, false)
}

// Enable puts an axis in Position mode
func (a *Axes) Enable(ctx context.Context, axis string) error {
	return a.setMode(ctx, axis, Position)
}

// Disable makes an axis passive
func (a *Axes) Disable(ctx context.Context, axis string) error {
	return a.setMode(ctx, axis, Passive)
}

func (a *Axes) setMode(ctx context.Context, axis string, mode OperatingMode) error {
	m, err := a.Motor(axis)
	if err != nil {
		return err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	return m.SetMode(ctx, mode)
}

// GetEnabled returns true if an axis is in any mode but Passive
func (a *Axes) GetEnabled(ctx context.Context, axis string) (bool, error) {
	m, err := a.Motor(axis)
	if err != nil {
		return false, err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	mode, err := m.GetMode(ctx)
	return mode != Passive, err
}

// SetVelocity writes the velocity setpoint, V_SOLL
func (a *Axes) SetVelocity(ctx context.Context, axis string, v float64) error {
	m, err := a.Motor(axis)
	if err != nil {
		return err
	}
	vel, err := counts(v)
	if err != nil {
		return err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	return m.WriteValue(ctx, "V_SOLL", vel)
}

// GetVelocity reads the velocity setpoint, V_SOLL
func (a *Axes) GetVelocity(ctx context.Context, axis string) (float64, error) {
	m, err := a.Motor(axis)
	if err != nil {
		return 0, err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	v, err := m.ReadValue(ctx, "V_SOLL")
	return float64(v), err
}

// GetInPosition reports the in-position flag of ERR_STAT
func (a *Axes) GetInPosition(ctx context.Context, axis string) (bool, error) {
	m, err := a.Motor(axis)
	if err != nil {
		return false, err
	}
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	v, err := m.ReadValue(ctx, "ERR_STAT")
	if err != nil {
		return false, err
	}
	return ErrorStatus(v)&InPosition != 0, nil
}

// Initialize runs the startup sequence of an axis with its safety limits
func (a *Axes) Initialize(ctx context.Context, axis string) error {
	m, err := a.Motor(axis)
	if err != nil {
		return err
	}
	a.mu.RLock()
	limits := a.safety[axis]
	a.mu.RUnlock()
	ctx, cancel := a.ctx(ctx)
	defer cancel()
	_, err = m.Initialize(ctx, limits)
	return err
}
