package jvl

import (
	"context"
	"fmt"
	"time"
)

// Config is the motor's configuration, as of the last RefreshConfig
type Config struct {
	FirmwareVersion       int64         `json:"firmwareVersion"`
	MaxVelocity           int64         `json:"maxVelocity"`
	MaxAcceleration       int64         `json:"maxAcceleration"`
	MaxTorque             int64         `json:"maxTorque"`
	GearNumerator         int64         `json:"gearNumerator"`
	GearDenominator       int64         `json:"gearDenominator"`
	MaxWindingEnergy      int64         `json:"maxWindingEnergy"`
	MaxDumpedEnergy       int64         `json:"maxDumpedEnergy"`
	MaxRegulationError    int64         `json:"maxRegulationError"`
	MaxMovementError      int64         `json:"maxMovementError"`
	MinPosition           int64         `json:"minPosition"`
	MaxPosition           int64         `json:"maxPosition"`
	EmergencyDeceleration int64         `json:"emergencyDeceleration"`
	StartMode             OperatingMode `json:"startMode"`
	HomePosition          int64         `json:"homePosition"`
	HomingVelocity        int64         `json:"homingVelocity"`
	HomingMode            int64         `json:"homingMode"`
	MinSupplyVoltage      int64         `json:"minSupplyVoltage"`
	MotorType             int64         `json:"motorType"`
	SerialNumber          int64         `json:"serialNumber"`
	Address               int64         `json:"address"`
	HardwareVersion       int64         `json:"hardwareVersion"`
	Updated               time.Time     `json:"updated"`
}

// PositionLimited returns true if MIN_P_IST and MAX_P_IST bound the position.
// The motor treats both at zero as no limit
func (c Config) PositionLimited() bool {
	return c.MinPosition != 0 || c.MaxPosition != 0
}

// PositionAllowed returns true if p lies within the position limits
func (c Config) PositionAllowed(p int64) bool {
	if !c.PositionLimited() {
		return true
	}
	return p >= c.MinPosition && p <= c.MaxPosition
}

// Status is the motor's live state, as of the last RefreshStatus.  Commands
// such as GetMode and GetPosition update the fields they read
type Status struct {
	Mode            OperatingMode `json:"mode"`
	TargetPosition  int64         `json:"targetPosition"`
	ActualPosition  int64         `json:"actualPosition"`
	ActualVelocity  int64         `json:"actualVelocity"`
	LoadFactor      int64         `json:"loadFactor"`
	WindingEnergy   int64         `json:"windingEnergy"`
	DumpedEnergy    int64         `json:"dumpedEnergy"`
	RegulationError int64         `json:"regulationError"`
	MovementError   int64         `json:"movementError"`
	Errors          ErrorStatus   `json:"errors"`
	ControlBits     int64         `json:"controlBits"`
	SupplyVoltage   int64         `json:"supplyVoltage"`
	Updated         time.Time     `json:"updated"`
}

var configRegisters = []string{
	"PROG_VERSION", "V_SOLL", "A_SOLL", "T_SOLL", "GEARF1", "GEARF2",
	"I2TLIM", "UITLIMIT", "FLWERRMAX", "FNCERRMAX", "MIN_P_IST", "MAX_P_IST",
	"ACC_EMERG", "STARTMODE", "P_HOME", "V_HOME", "HOMEMODE", "MIN_U_SUP",
	"MOTORTYPE", "SERIALNUMBER", "MYADDR", "HWVERSION",
}

var statusRegisters = []string{
	"MODE_REG", "P_SOLL", "P_IST", "V_IST", "KVOUT", "I2T", "UIT",
	"FLWERR", "FNCERR", "ERR_STAT", "CNTRL_BITS", "U_SUPPLY",
}

// RefreshConfig reads the configuration registers
func (m *Motor) RefreshConfig(ctx context.Context) error {
	v, err := m.readNamed(ctx, configRegisters...)
	if err != nil {
		return err
	}
	start, err := ModeFromValue(v["STARTMODE"])
	if err != nil {
		return fmt.Errorf("STARTMODE: %w", err)
	}
	cfg := Config{
		FirmwareVersion:       v["PROG_VERSION"],
		MaxVelocity:           v["V_SOLL"],
		MaxAcceleration:       v["A_SOLL"],
		MaxTorque:             v["T_SOLL"],
		GearNumerator:         v["GEARF1"],
		GearDenominator:       v["GEARF2"],
		MaxWindingEnergy:      v["I2TLIM"],
		MaxDumpedEnergy:       v["UITLIMIT"],
		MaxRegulationError:    v["FLWERRMAX"],
		MaxMovementError:      v["FNCERRMAX"],
		MinPosition:           v["MIN_P_IST"],
		MaxPosition:           v["MAX_P_IST"],
		EmergencyDeceleration: v["ACC_EMERG"],
		StartMode:             start,
		HomePosition:          v["P_HOME"],
		HomingVelocity:        v["V_HOME"],
		HomingMode:            v["HOMEMODE"],
		MinSupplyVoltage:      v["MIN_U_SUP"],
		MotorType:             v["MOTORTYPE"],
		SerialNumber:          v["SERIALNUMBER"],
		Address:               v["MYADDR"],
		HardwareVersion:       v["HWVERSION"],
		Updated:               time.Now(),
	}
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.cfg = cfg
	m.cfgLoaded = true
	return nil
}

// RefreshStatus reads the status registers
func (m *Motor) RefreshStatus(ctx context.Context) error {
	v, err := m.readNamed(ctx, statusRegisters...)
	if err != nil {
		return err
	}
	mode, err := ModeFromValue(v["MODE_REG"])
	if err != nil {
		return fmt.Errorf("MODE_REG: %w", err)
	}
	st := Status{
		Mode:            mode,
		TargetPosition:  v["P_SOLL"],
		ActualPosition:  v["P_IST"],
		ActualVelocity:  v["V_IST"],
		LoadFactor:      v["KVOUT"],
		WindingEnergy:   v["I2T"],
		DumpedEnergy:    v["UIT"],
		RegulationError: v["FLWERR"],
		MovementError:   v["FNCERR"],
		Errors:          ErrorStatus(v["ERR_STAT"]),
		ControlBits:     v["CNTRL_BITS"],
		SupplyVoltage:   v["U_SUPPLY"],
		Updated:         time.Now(),
	}
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.status = st
	return nil
}

// Config returns a copy of the cached configuration
func (m *Motor) Config() Config {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.cfg
}

// Status returns a copy of the cached status
func (m *Motor) Status() Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status
}

// limits returns the cached configuration, reading it first if it never was
func (m *Motor) limits(ctx context.Context) (Config, error) {
	m.cfgMu.Lock()
	cfg, ok := m.cfg, m.cfgLoaded
	m.cfgMu.Unlock()
	if ok {
		return cfg, nil
	}
	if err := m.RefreshConfig(ctx); err != nil {
		return Config{}, err
	}
	return m.Config(), nil
}

func (m *Motor) updateStatus(f func(*Status)) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	f(&m.status)
}

// GetMode reads the operating mode
func (m *Motor) GetMode(ctx context.Context) (OperatingMode, error) {
	v, err := m.ReadValue(ctx, "MODE_REG")
	if err != nil {
		return 0, err
	}
	mode, err := ModeFromValue(v)
	if err != nil {
		return 0, err
	}
	m.updateStatus(func(s *Status) { s.Mode = mode })
	return mode, nil
}

// SetMode changes the operating mode.  It does nothing if the motor is
// already in mode.  Entering Position mode is refused while the actual
// position lies outside MIN_P_IST..MAX_P_IST, since the motor would lunge
// back inside the limits as soon as it regulates
func (m *Motor) SetMode(ctx context.Context, mode OperatingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}
	m.ctl.Lock()
	defer m.ctl.Unlock()

	current, err := m.GetMode(ctx)
	if err != nil {
		return err
	}
	if current == mode {
		return nil
	}
	if mode == Position {
		cfg, err := m.limits(ctx)
		if err != nil {
			return err
		}
		if cfg.PositionLimited() {
			pos, err := m.GetPosition(ctx)
			if err != nil {
				return err
			}
			if !cfg.PositionAllowed(pos) {
				return fmt.Errorf("%w: actual position %d not in [%d, %d]",
					ErrPositionOutOfBounds, pos, cfg.MinPosition, cfg.MaxPosition)
			}
		}
	}
	if err := m.WriteValue(ctx, "MODE_REG", int64(mode)); err != nil {
		return err
	}
	m.updateStatus(func(s *Status) { s.Mode = mode })
	return nil
}

// GetPosition reads the actual position
func (m *Motor) GetPosition(ctx context.Context) (int64, error) {
	pos, err := m.ReadValue(ctx, "P_IST")
	if err != nil {
		return 0, err
	}
	m.updateStatus(func(s *Status) { s.ActualPosition = pos })
	return pos, nil
}

// GetVelocity reads the actual velocity
func (m *Motor) GetVelocity(ctx context.Context) (int64, error) {
	v, err := m.ReadValue(ctx, "V_IST")
	if err != nil {
		return 0, err
	}
	m.updateStatus(func(s *Status) { s.ActualVelocity = v })
	return v, nil
}

// SetTargetPosition writes the target position.  The motor must be in
// Position mode unless ignoreMode is set, and the target must lie within the
// position limits
func (m *Motor) SetTargetPosition(ctx context.Context, pos int64, ignoreMode bool) error {
	m.ctl.Lock()
	defer m.ctl.Unlock()

	if !ignoreMode {
		mode, err := m.GetMode(ctx)
		if err != nil {
			return err
		}
		if mode != Position {
			return fmt.Errorf("%w: need %s, motor is in %s", ErrWrongMode, Position, mode)
		}
	}
	cfg, err := m.limits(ctx)
	if err != nil {
		return err
	}
	if !cfg.PositionAllowed(pos) {
		return fmt.Errorf("%w: target %d not in [%d, %d]",
			ErrPositionOutOfBounds, pos, cfg.MinPosition, cfg.MaxPosition)
	}
	if err := m.WriteValue(ctx, "P_SOLL", pos); err != nil {
		return err
	}
	m.updateStatus(func(s *Status) { s.TargetPosition = pos })
	return nil
}
