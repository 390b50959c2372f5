package jvl

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a value does not fit a register
var ErrOutOfRange = errors.New("value out of range for register")

// ErrSize is returned when raw register data has the wrong length
var ErrSize = errors.New("data size does not match register")

// Range returns the smallest and largest value reg can hold
func Range(reg Register) (min, max int64) {
	bits := uint(8 * reg.Size)
	if reg.Signed {
		return -1 << (bits - 1), 1<<(bits-1) - 1
	}
	return 0, 1<<bits - 1
}

// Decode converts data, least significant byte first, into the value of reg.
// data may be longer than the register, the excess is ignored
func Decode(reg Register, data []byte) (int64, error) {
	if len(data) < reg.Size {
		return 0, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrSize, reg.Name, reg.Size, len(data))
	}
	switch reg.Size {
	case 2:
		u := binary.LittleEndian.Uint16(data)
		if reg.Signed {
			return int64(int16(u)), nil
		}
		return int64(u), nil
	case 4:
		u := binary.LittleEndian.Uint32(data)
		if reg.Signed {
			return int64(int32(u)), nil
		}
		return int64(u), nil
	}
	return 0, fmt.Errorf("%w: %s has unsupported size %d", ErrSize, reg.Name, reg.Size)
}

// Encode converts v into the bytes of reg, least significant byte first
func Encode(reg Register, v int64) ([]byte, error) {
	min, max := Range(reg)
	if v < min || v > max {
		return nil, fmt.Errorf("%w: %s accepts %d to %d, got %d", ErrOutOfRange, reg.Name, min, max, v)
	}
	out := make([]byte, reg.Size)
	switch reg.Size {
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(v))
	default:
		return nil, fmt.Errorf("%w: %s has unsupported size %d", ErrSize, reg.Name, reg.Size)
	}
	return out, nil
}
