package jvl

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// ErrVerify is returned when a register does not hold what was just written to it
var ErrVerify = errors.New("read-back does not match written value")

// SafetyLimits are the values written to the init-write registers at
// startup.  A zero field leaves the motor's own setting in place
type SafetyLimits struct {
	// WindingEnergy is written to I2TLIM
	WindingEnergy int64 `json:"windingEnergy" yaml:"WindingEnergy" koanf:"WindingEnergy"`

	// DumpedEnergy is written to UITLIMIT
	DumpedEnergy int64 `json:"dumpedEnergy" yaml:"DumpedEnergy" koanf:"DumpedEnergy"`

	// RegulationError is written to FLWERRMAX
	RegulationError int64 `json:"regulationError" yaml:"RegulationError" koanf:"RegulationError"`

	// MovementError is written to FNCERRMAX
	MovementError int64 `json:"movementError" yaml:"MovementError" koanf:"MovementError"`

	// EmergencyDeceleration is written to ACC_EMERG
	EmergencyDeceleration int64 `json:"emergencyDeceleration" yaml:"EmergencyDeceleration" koanf:"EmergencyDeceleration"`
}

// values maps the init-write registers to the values for them
func (l SafetyLimits) values() map[string]int64 {
	return map[string]int64{
		"I2TLIM":    l.WindingEnergy,
		"UITLIMIT":  l.DumpedEnergy,
		"FLWERRMAX": l.RegulationError,
		"FNCERRMAX": l.MovementError,
		"ACC_EMERG": l.EmergencyDeceleration,
	}
}

// InitReport is what Initialize found and did
type InitReport struct {
	// Read holds the value of every init-read register, by name
	Read map[string]int64 `json:"read"`

	// Written holds the init-write registers that were set, by name
	Written map[string]int64 `json:"written"`

	Mode   OperatingMode `json:"mode"`
	Errors ErrorStatus   `json:"errors"`
}

// Initialize prepares the motor for motion.
//
// every init-write register with a non-zero safety limit is written and
// verified by read-back, then every init-read register is read.  The motor is
// refused if ERR_STAT reports a fault, MODE_REG holds no known mode, or the
// actual position lies outside the position limits.  The cached configuration
// and status are refreshed on success.
func (m *Motor) Initialize(ctx context.Context, limits SafetyLimits) (InitReport, error) {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	report := InitReport{Read: map[string]int64{}, Written: map[string]int64{}}
	want := limits.values()
	for _, reg := range m.table.Phase(PhaseInitWrite) {
		v, ok := want[reg.Name]
		if !ok || v == 0 {
			continue
		}
		if err := m.writeReg(ctx, reg, v); err != nil {
			return report, err
		}
		got, err := m.readReg(ctx, reg)
		if err != nil {
			return report, err
		}
		if got != v {
			return report, fmt.Errorf("%w: %s wrote %d, read %d", ErrVerify, reg.Name, v, got)
		}
		report.Written[reg.Name] = v
		glog.Infof("motor %d: %s set to %d", m.address, reg.Name, v)
	}

	for _, reg := range m.table.Phase(PhaseInitRead) {
		v, err := m.readReg(ctx, reg)
		if err != nil {
			return report, err
		}
		report.Read[reg.Name] = v
	}

	if v, ok := report.Read["ERR_STAT"]; ok {
		report.Errors = ErrorStatus(v)
		if report.Errors.Faulted() {
			return report, &FaultError{Status: report.Errors}
		}
	}
	if v, ok := report.Read["MODE_REG"]; ok {
		mode, err := ModeFromValue(v)
		if err != nil {
			return report, fmt.Errorf("MODE_REG: %w", err)
		}
		report.Mode = mode
	}

	if err := m.RefreshConfig(ctx); err != nil {
		return report, err
	}
	cfg := m.Config()
	if pos, ok := report.Read["P_IST"]; ok && !cfg.PositionAllowed(pos) {
		return report, fmt.Errorf("%w: actual position %d not in [%d, %d]",
			ErrPositionOutOfBounds, pos, cfg.MinPosition, cfg.MaxPosition)
	}
	if err := m.RefreshStatus(ctx); err != nil {
		return report, err
	}
	glog.Infof("motor %d initialized: firmware %d, mode %s, errors %s",
		m.address, cfg.FirmwareVersion, report.Mode, report.Errors)
	return report, nil
}
