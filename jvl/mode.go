package jvl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// OperatingMode is the value held by MODE_REG
type OperatingMode int

// Operating modes, numbered as the motor numbers them
const (
	Passive OperatingMode = iota
	Velocity
	Position
	GearPosition
	AnalogueTorque
	AnalogueVelocity
	AnalogueVelocityGear
	ManualCurrent
	StepResponseTest
	InternalTest
	Brake
	Stop
	TorqueBasedZeroSearch
	ForwardOnlyZeroSearch
	ForwardBackwardZeroSearch
	SafeMode
	AnalogueVelocityWithDeadBand
	VelocityLimitedAnalogueTorque
	AnalogueGear
	Coil
	AnalogueBiPosition
	AnalogueToPosition
	InternalTest2
	InternalTest3
	GearFollow
	IHome
)

// ErrUnknownMode is returned when a value or name is not an operating mode
var ErrUnknownMode = errors.New("unknown operating mode")

var modeNames = [...]string{
	"PASSIVE",
	"VELOCITY",
	"POSITION",
	"GEAR_POSITION",
	"ANALOGUE_TORQUE",
	"ANALOGUE_VELOCITY",
	"ANALOGUE_VELOCITY_GEAR",
	"MANUAL_CURRENT",
	"STEP_RESPONSE_TEST",
	"INTERNAL_TEST",
	"BRAKE",
	"STOP",
	"TORQUE_BASED_ZERO_SEARCH",
	"FORWARD_ONLY_ZERO_SEARCH",
	"FORWARD_BACKWARD_ZERO_SEARCH",
	"SAFE_MODE",
	"ANALOGUE_VELOCITY_WITH_DEAD_BAND",
	"VELOCITY_LIMITED_ANALOGUE_TORQUE",
	"ANALOGUE_GEAR",
	"COIL",
	"ANALOGUE_BI_POSITION",
	"ANALOGUE_TO_POSITION",
	"INTERNAL_TEST_2",
	"INTERNAL_TEST_3",
	"GEAR_FOLLOW",
	"IHOME",
}

// Valid returns true if m is a mode the motor knows
func (m OperatingMode) Valid() bool {
	return m >= 0 && int(m) < len(modeNames)
}

func (m OperatingMode) String() string {
	if !m.Valid() {
		return "OperatingMode(" + strconv.Itoa(int(m)) + ")"
	}
	return modeNames[m]
}

// MarshalText encodes the mode by name
func (m OperatingMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts anything ParseMode does
func (m *OperatingMode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ModeFromValue converts a MODE_REG value
func ModeFromValue(v int64) (OperatingMode, error) {
	m := OperatingMode(v)
	if v < 0 || !m.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownMode, v)
	}
	return m, nil
}

// ParseMode converts a mode name, e.g. "position", "Gear-Position", or a
// decimal mode id, e.g. "2"
func ParseMode(s string) (OperatingMode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ModeFromValue(n)
	}
	norm := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(s))
	for i, name := range modeNames {
		if name == norm {
			return OperatingMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}
