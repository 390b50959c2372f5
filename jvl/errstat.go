package jvl

import (
	"fmt"
	"strings"

	"github.com/nosseb/gomac/util"
)

// ErrorStatus is the bitfield held by ERR_STAT
type ErrorStatus uint16

// ERR_STAT bits.  Some are faults that stop the motor, the rest are
// status flags that are set during normal operation
const (
	I2TError ErrorStatus = 1 << iota
	FollowError
	FunctionError
	UITError
	InPosition
	Accelerating
	Decelerating
	PositionLimitError
	TemperatureError
	UndervoltageError
	UndervoltageDetected
	OvervoltageError
	PeakCurrentError
	SpeedError
	PositionLimitsDisabled
	IndexError
)

const faultMask = I2TError | FollowError | FunctionError | UITError |
	PositionLimitError | TemperatureError | UndervoltageError |
	OvervoltageError | PeakCurrentError | SpeedError | IndexError

var errStatNames = [16]string{
	"I2T_ERR",
	"FLW_ERR",
	"FNC_ERR",
	"UIT_ERR",
	"IN_POS",
	"ACC_FLAG",
	"DEC_FLAG",
	"PLIM_ERR",
	"DEGC_ERR",
	"UV_ERR",
	"UV_DETECT",
	"OV_ERR",
	"IPEAK_ERR",
	"SPEED_ERR",
	"DIS_P_LIM",
	"INDEX_ERR",
}

// Faulted returns true if any fault bit is set
func (s ErrorStatus) Faulted() bool {
	return s&faultMask != 0
}

// Faults returns the names of the fault bits that are set
func (s ErrorStatus) Faults() []string {
	return s.names(faultMask)
}

// Flags returns the names of every bit that is set
func (s ErrorStatus) Flags() []string {
	return s.names(0xFFFF)
}

func (s ErrorStatus) names(mask ErrorStatus) []string {
	var out []string
	for i := uint(0); i < 16; i++ {
		if util.GetBit(uint64(s&mask), i) {
			out = append(out, errStatNames[i])
		}
	}
	return out
}

func (s ErrorStatus) String() string {
	flags := s.Flags()
	if len(flags) == 0 {
		return "OK"
	}
	return strings.Join(flags, "|")
}

// FaultError is returned when the motor reports a fault in ERR_STAT
type FaultError struct {
	Status ErrorStatus
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("motor faulted: %s", strings.Join(e.Status.Faults(), ", "))
}
