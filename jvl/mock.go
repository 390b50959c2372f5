package jvl

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/nosseb/gomac/util"
)

// inPositionBit is the index of InPosition in ERR_STAT
const inPositionBit = 4

// MockDevice is a simulated MAC050 which speaks the wire protocol over an
// in-memory io.ReadWriteCloser.  Every register is four bytes wide; a write
// of two bytes replaces the low half.
//
// In Position mode a new target position is reached immediately and
// flagged in ERR_STAT.
type MockDevice struct {
	mu sync.Mutex

	address byte
	regs    map[byte]uint32
	in      []byte
	out     bytes.Buffer

	misdirect int
	corrupt   int
	silent    int

	writes map[byte]int
	closes int
}

// NewMockDevice returns a passive, fault free motor at address
func NewMockDevice(address byte) *MockDevice {
	d := &MockDevice{
		address: address,
		regs:    make(map[byte]uint32),
		writes:  make(map[byte]int),
	}
	t := DefaultTable()
	defaults := map[string]int64{
		"PROG_VERSION": 0x0604,
		"V_SOLL":       1000,
		"A_SOLL":       500,
		"T_SOLL":       1023,
		"GEARF1":       2048,
		"GEARF2":       2048,
		"I2TLIM":       300,
		"UITLIMIT":     400,
		"FLWERRMAX":    1000,
		"FNCERRMAX":    2000,
		"ACC_EMERG":    1500,
		"U_SUPPLY":     480,
		"MIN_U_SUP":    100,
		"MOTORTYPE":    50,
		"SERIALNUMBER": 123456,
		"MYADDR":       int64(address),
		"HWVERSION":    3,
	}
	for name, v := range defaults {
		r, _ := t.ByName(name)
		d.regs[r.Number] = uint32(v)
	}
	return d
}

// Set stores v at the register called name in the default table
func (d *MockDevice) Set(name string, v int64) {
	r, ok := DefaultTable().ByName(name)
	if !ok {
		panic("mock: unknown register " + name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[r.Number] = uint32(v)
}

// Get returns the value at the register called name, decoded per the default table
func (d *MockDevice) Get(name string) int64 {
	r, ok := DefaultTable().ByName(name)
	if !ok {
		panic("mock: unknown register " + name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], d.regs[r.Number])
	v, _ := Decode(r, buf[:])
	return v
}

// Writes returns the number of writes the register called name received
func (d *MockDevice) Writes(name string) int {
	r, _ := DefaultTable().ByName(name)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes[r.Number]
}

// Misdirect makes the next n read responses go to another bus address
func (d *MockDevice) Misdirect(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.misdirect = n
}

// Corrupt makes the next n read responses carry a bad complement
func (d *MockDevice) Corrupt(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.corrupt = n
}

// Silence makes the motor ignore the next n requests
func (d *MockDevice) Silence(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = n
}

// Closes returns the number of times Close was called
func (d *MockDevice) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Read returns pending response bytes.  Like a serial port whose read
// timeout lapsed, it returns 0, nil when nothing is pending
func (d *MockDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out.Len() == 0 {
		return 0, nil
	}
	return d.out.Read(p)
}

// Write accepts request bytes and answers every complete frame
func (d *MockDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = append(d.in, p...)
	for d.step() {
	}
	return len(p), nil
}

// Flush drops pending input and output, satisfying comm.Flusher
func (d *MockDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = d.in[:0]
	d.out.Reset()
	return nil
}

// Close satisfies io.Closer.  The device stays usable so that a pool may
// reopen it
func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

// step consumes one frame from the input, returning false when more bytes
// are needed.  Bytes that cannot start a frame are dropped
func (d *MockDevice) step() bool {
	for len(d.in) > 0 && d.in[0] != readCmd && d.in[0] != writeCmd {
		d.in = d.in[1:]
	}
	if len(d.in) < ReadRequestSize {
		return false
	}
	in := d.in
	if in[0] == readCmd {
		d.in = d.in[ReadRequestSize:]
		if !d.validHeader(in) || in[7] != endByte || in[8] != endByte {
			return true
		}
		if d.addressed(in[3]) && !d.muted() {
			d.answerRead(in[5])
		}
		return true
	}
	n := int(in[7])
	size := 11 + 2*n
	if len(in) < size {
		return false
	}
	d.in = d.in[size:]
	if !d.validHeader(in) || !checkComplement(in[7], in[8]) || in[size-2] != endByte || in[size-1] != endByte {
		return true
	}
	data := make([]byte, n)
	for i := range data {
		if !checkComplement(in[9+2*i], in[10+2*i]) {
			return true
		}
		data[i] = in[9+2*i]
	}
	if d.addressed(in[3]) && !d.muted() {
		d.store(in[5], data)
		d.out.Write(Ack())
	}
	return true
}

func (d *MockDevice) validHeader(in []byte) bool {
	return in[1] == in[0] && in[2] == in[0] &&
		checkComplement(in[3], in[4]) && checkComplement(in[5], in[6])
}

func (d *MockDevice) addressed(addr byte) bool {
	return addr == d.address || addr == BroadcastAddress
}

func (d *MockDevice) muted() bool {
	if d.silent > 0 {
		d.silent--
		return true
	}
	return false
}

func (d *MockDevice) answerRead(reg byte) {
	var data [ReadDataSize]byte
	binary.LittleEndian.PutUint32(data[:], d.regs[reg])
	resp := EncodeReadResponse(reg, data)
	if d.misdirect > 0 {
		d.misdirect--
		resp[3], resp[4] = 0x05, 0xFA
	} else if d.corrupt > 0 {
		d.corrupt--
		resp[10] ^= 0x01
	}
	d.out.Write(resp)
}

func (d *MockDevice) store(reg byte, data []byte) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], d.regs[reg])
	copy(buf[:], data)
	d.regs[reg] = binary.LittleEndian.Uint32(buf[:])
	d.writes[reg]++

	mode, _ := DefaultTable().ByName("MODE_REG")
	target, _ := DefaultTable().ByName("P_SOLL")
	actual, _ := DefaultTable().ByName("P_IST")
	if reg == target.Number && OperatingMode(d.regs[mode.Number]) == Position {
		d.regs[actual.Number] = d.regs[target.Number]
		errStat, _ := DefaultTable().ByName("ERR_STAT")
		d.regs[errStat.Number] = uint32(util.SetBit(uint64(d.regs[errStat.Number]), inPositionBit, true))
	}
}
