package jvl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitializeWritesAndReads(t *testing.T) {
	dev := NewMockDevice(4)
	dev.Set("ERR_STAT", int64(InPosition|PositionLimitsDisabled))
	dev.Set("MODE_REG", int64(Velocity))
	m := newTestMotor(t, dev, 4)

	limits := SafetyLimits{WindingEnergy: 350, EmergencyDeceleration: 2000}
	report, err := m.Initialize(context.Background(), limits)
	require.NoError(t, err)

	require.Equal(t, map[string]int64{"I2TLIM": 350, "ACC_EMERG": 2000}, report.Written)
	require.Equal(t, int64(350), dev.Get("I2TLIM"))
	require.Equal(t, int64(2000), dev.Get("ACC_EMERG"))
	require.Equal(t, 0, dev.Writes("UITLIMIT"))
	require.Equal(t, int64(400), dev.Get("UITLIMIT"))

	require.Len(t, report.Read, len(DefaultTable().Phase(PhaseInitRead)))
	require.Equal(t, int64(0x0604), report.Read["PROG_VERSION"])
	require.Equal(t, Velocity, report.Mode)
	require.False(t, report.Errors.Faulted())

	require.Equal(t, int64(350), m.Config().MaxWindingEnergy)
	require.Equal(t, Velocity, m.Status().Mode)
}

func TestInitializeRejectsFault(t *testing.T) {
	dev := NewMockDevice(4)
	dev.Set("ERR_STAT", int64(FollowError|InPosition))
	m := newTestMotor(t, dev, 4)

	report, err := m.Initialize(context.Background(), SafetyLimits{})
	var fault *FaultError
	require.True(t, errors.As(err, &fault))
	require.Equal(t, []string{"FLW_ERR"}, fault.Status.Faults())
	require.True(t, report.Errors.Faulted())
	require.Empty(t, report.Written)
}

func TestInitializeRejectsUnknownMode(t *testing.T) {
	dev := NewMockDevice(4)
	dev.Set("MODE_REG", 40)
	m := newTestMotor(t, dev, 4)

	_, err := m.Initialize(context.Background(), SafetyLimits{})
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestInitializeRejectsPositionOutsideLimits(t *testing.T) {
	dev := NewMockDevice(4)
	dev.Set("MIN_P_IST", 0)
	dev.Set("MAX_P_IST", 10000)
	dev.Set("P_IST", -5)
	m := newTestMotor(t, dev, 4)

	_, err := m.Initialize(context.Background(), SafetyLimits{})
	require.ErrorIs(t, err, ErrPositionOutOfBounds)

	dev.Set("P_IST", 5)
	_, err = m.Initialize(context.Background(), SafetyLimits{})
	require.NoError(t, err)
}

func TestInitializeRejectsUnencodableLimit(t *testing.T) {
	dev := NewMockDevice(4)
	m := newTestMotor(t, dev, 4)

	_, err := m.Initialize(context.Background(), SafetyLimits{RegulationError: 1 << 40})
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, 0, dev.Writes("FLWERRMAX"))
}
