package jvl

import (
	"errors"
	"fmt"
)

// MacTalk frame primer
//
// every byte of address, register, length and data is followed by its
// complement (0xFF ^ b), which is the protocol's only integrity check.
//
// read request   [50 50 50] [ADDR ~ADDR] [REG ~REG] [AA AA]
// write request  [52 52 52] [ADDR ~ADDR] [REG ~REG] [LEN ~LEN] [D0 ~D0]...[Dn ~Dn] [AA AA]
// read response  [52 52 52] [00 FF] [REG ~REG] [04 FB] [D0 ~D0]...[D3 ~D3] [AA AA]
// write ack      [11 11 11]
//
// responses are always addressed to the master, 00 FF.
const (
	readCmd  = 0x50
	writeCmd = 0x52
	endByte  = 0xAA
	ackByte  = 0x11

	// MasterAddress is the bus address of the host
	MasterAddress = 0x00

	// BroadcastAddress reaches every motor on the bus
	BroadcastAddress = 0xFF

	// ReadDataSize is the number of data bytes carried by a read response
	ReadDataSize = 4

	// ReadRequestSize is the length of a read request
	ReadRequestSize = 9

	// ReadResponseSize is the length of a read response
	ReadResponseSize = 9 + 2*ReadDataSize + 2

	// AckSize is the length of a write acknowledge
	AckSize = 3

	// MaxWriteSize is the largest data block a write can carry; it must fit
	// the length byte and be even
	MaxWriteSize = 254
)

var (
	// ErrShortFrame is returned when fewer bytes than a full frame were received
	ErrShortFrame = errors.New("short frame")

	// ErrFrame is returned when the header, length or end markers are wrong
	ErrFrame = errors.New("invalid frame")

	// ErrWrongDestination is returned when a response is not addressed to the master
	ErrWrongDestination = errors.New("response not addressed to us")

	// ErrWrongRegister is returned when a response is for another register
	ErrWrongRegister = errors.New("response for wrong register")

	// ErrComplement is returned when a byte and its complement disagree
	ErrComplement = errors.New("complement mismatch")

	// ErrNoAck is returned when a write is not acknowledged
	ErrNoAck = errors.New("write not acknowledged")

	// ErrOddLength is returned when write data is not a whole number of words
	ErrOddLength = errors.New("number of bytes must be even")

	// ErrTooLong is returned when write data does not fit in a frame
	ErrTooLong = errors.New("too many bytes for one frame")
)

// Retryable returns true if err came from a frame that was damaged, cut
// short or meant for someone else, and the transaction is worth trying
// again.  Reads and register writes are idempotent, so a lost reply is
// retried like a damaged one
func Retryable(err error) bool {
	return errors.Is(err, ErrWrongDestination) ||
		errors.Is(err, ErrComplement) ||
		errors.Is(err, ErrShortFrame)
}

func withComplement(b byte) [2]byte {
	return [2]byte{b, 0xFF ^ b}
}

func checkComplement(b, c byte) bool {
	return b^c == 0xFF
}

// EncodeRead produces the request for the register reg of the motor at addr
func EncodeRead(addr, reg byte) []byte {
	a, r := withComplement(addr), withComplement(reg)
	return []byte{readCmd, readCmd, readCmd, a[0], a[1], r[0], r[1], endByte, endByte}
}

// EncodeWrite produces the request to write data, least significant byte
// first, to the register reg of the motor at addr
func EncodeWrite(addr, reg byte, data []byte) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, ErrOddLength
	}
	if len(data) > MaxWriteSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLong, len(data), MaxWriteSize)
	}
	a, r, l := withComplement(addr), withComplement(reg), withComplement(byte(len(data)))
	out := make([]byte, 0, 11+2*len(data))
	out = append(out, writeCmd, writeCmd, writeCmd, a[0], a[1], r[0], r[1], l[0], l[1])
	for _, b := range data {
		out = append(out, b, 0xFF^b)
	}
	return append(out, endByte, endByte), nil
}

// DecodeReadResponse checks a read response for the register reg and
// returns its data bytes, least significant first
//
// the checks run in the order frame, destination, register, complement so
// that the caller can tell a misdirected frame from a corrupted one
func DecodeReadResponse(resp []byte, reg byte) ([]byte, error) {
	if len(resp) < ReadResponseSize {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrShortFrame, len(resp), ReadResponseSize)
	}
	resp = resp[:ReadResponseSize]
	if resp[0] != writeCmd || resp[1] != writeCmd || resp[2] != writeCmd {
		return nil, fmt.Errorf("%w: header % X", ErrFrame, resp[:3])
	}
	if resp[7] != ReadDataSize || !checkComplement(resp[7], resp[8]) {
		return nil, fmt.Errorf("%w: length % X", ErrFrame, resp[7:9])
	}
	if resp[ReadResponseSize-2] != endByte || resp[ReadResponseSize-1] != endByte {
		return nil, fmt.Errorf("%w: end % X", ErrFrame, resp[ReadResponseSize-2:])
	}
	if resp[3] != MasterAddress || resp[4] != 0xFF^MasterAddress {
		return nil, fmt.Errorf("%w: destination % X", ErrWrongDestination, resp[3:5])
	}
	if resp[5] != reg || !checkComplement(resp[5], resp[6]) {
		return nil, fmt.Errorf("%w: wanted %d, got % X", ErrWrongRegister, reg, resp[5:7])
	}
	data := make([]byte, ReadDataSize)
	for i := range data {
		b, c := resp[9+2*i], resp[10+2*i]
		if !checkComplement(b, c) {
			return nil, fmt.Errorf("%w: data byte %d % X", ErrComplement, i, []byte{b, c})
		}
		data[i] = b
	}
	return data, nil
}

// EncodeReadResponse produces the response a motor sends for a read of reg
func EncodeReadResponse(reg byte, data [ReadDataSize]byte) []byte {
	m, r, l := withComplement(MasterAddress), withComplement(reg), withComplement(ReadDataSize)
	out := make([]byte, 0, ReadResponseSize)
	out = append(out, writeCmd, writeCmd, writeCmd, m[0], m[1], r[0], r[1], l[0], l[1])
	for _, b := range data {
		out = append(out, b, 0xFF^b)
	}
	return append(out, endByte, endByte)
}

// CheckAck verifies a write acknowledge
func CheckAck(resp []byte) error {
	if len(resp) < AckSize {
		return fmt.Errorf("%w: got %d of %d bytes", ErrShortFrame, len(resp), AckSize)
	}
	for _, b := range resp[:AckSize] {
		if b != ackByte {
			return fmt.Errorf("%w: got % X", ErrNoAck, resp[:AckSize])
		}
	}
	return nil
}

// Ack is the acknowledge a motor sends after a write
func Ack() []byte {
	return []byte{ackByte, ackByte, ackByte}
}
