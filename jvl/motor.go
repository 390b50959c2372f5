// Package jvl talks to JVL MAC050 class integrated servo motors over the
// MacTalk serial protocol.
//
// A Motor wraps a comm.Pool; many motors on one RS-485 line share a pool of
// size one, which serializes the bus between them.  Registers are addressed
// by their symbol (P_IST) or number (10) and decoded as integers with the
// signedness the register table gives them.
package jvl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/nosseb/gomac/comm"
)

const (
	// Baud is the factory default line speed of the MAC050
	Baud = 19200

	// DefaultRetries is the number of re-attempts made after a misdirected or
	// damaged response
	DefaultRetries = 3

	// maxEmptyReads is the number of consecutive reads returning nothing
	// before a response is considered lost.  With a serial port each of
	// them lasts one ReadTimeout
	maxEmptyReads = 3

	// readTimeout is how long one read waits for the motor
	readTimeout = 100 * time.Millisecond
)

var (
	// ErrWrongMode is returned when a command needs another operating mode
	ErrWrongMode = errors.New("motor is not in the required operating mode")

	// ErrPositionOutOfBounds is returned when a position lies outside MIN_P_IST..MAX_P_IST
	ErrPositionOutOfBounds = errors.New("position out of bounds")

	// ErrMasterAddress is returned when a motor is given the master's address
	ErrMasterAddress = errors.New("address 0 belongs to the master")
)

// SerialConf makes a new serial.Config with the MAC050 line settings
func SerialConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        Baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout}
}

// NewPool makes a single connection pool to a motor bus, either a serial
// device (e.g. /dev/ttyUSB0) or a TCP serial server (e.g. 192.168.100.123:2006)
func NewPool(addr string, isSerial bool, idle time.Duration) *comm.Pool {
	var maker comm.CreationFunc
	if isSerial {
		maker = comm.SerialConnMaker(SerialConf(addr))
	} else {
		maker = comm.TCPConnMaker(addr, 3*time.Second, readTimeout)
	}
	return comm.NewPool(1, idle, comm.BackoffMaker(maker))
}

// Option configures a Motor
type Option func(*Motor)

// WithTable replaces the built-in register table
func WithTable(t *Table) Option {
	return func(m *Motor) { m.table = t }
}

// WithRetries sets the number of re-attempts after a misdirected or damaged response
func WithRetries(n int) Option {
	return func(m *Motor) {
		if n < 0 {
			n = 0
		}
		m.retries = n
	}
}

// WithRetryInterval sets the pause between re-attempts
func WithRetryInterval(d time.Duration) Option {
	return func(m *Motor) { m.retryInterval = d }
}

// WithMinInterval paces transactions so that at least d separates the start
// of two of them.  Zero disables pacing
func WithMinInterval(d time.Duration) Option {
	return func(m *Motor) {
		if d <= 0 {
			m.pacer = nil
			return
		}
		m.pacer = rate.NewLimiter(rate.Every(d), 1)
	}
}

// Motor is a single MAC050 on a bus.  It is safe for concurrent use.
//
// cached configuration and status are guarded by their own mutexes which are
// never held across bus traffic; ctl serializes commands that must observe
// and then change the motor state as one step.
type Motor struct {
	pool          *comm.Pool
	address       byte
	table         *Table
	retries       int
	retryInterval time.Duration
	pacer         *rate.Limiter

	ctl sync.Mutex

	cfgMu     sync.Mutex
	cfg       Config
	cfgLoaded bool

	statusMu sync.Mutex
	status   Status
}

// NewMotor returns a motor at address on the bus behind pool.  No traffic
// is generated until the first command
func NewMotor(pool *comm.Pool, address byte, opts ...Option) (*Motor, error) {
	if address == MasterAddress {
		return nil, ErrMasterAddress
	}
	m := &Motor{
		pool:          pool,
		address:       address,
		table:         DefaultTable(),
		retries:       DefaultRetries,
		retryInterval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Address returns the bus address of the motor
func (m *Motor) Address() byte {
	return m.address
}

// Table returns the register table in use
func (m *Motor) Table() *Table {
	return m.table
}

// transact sends req and reads a response of exactly n bytes
func (m *Motor) transact(ctx context.Context, req []byte, n int) (resp []byte, err error) {
	if m.pacer != nil {
		if err = m.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}
	conn, err := m.pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { m.pool.ReturnWithError(conn, err) }()

	// anything already waiting is a late reply to an earlier request
	if err = comm.Flush(conn); err != nil {
		return nil, err
	}
	glog.V(2).Infof("motor %d TX % X", m.address, req)
	if _, err = conn.Write(req); err != nil {
		return nil, err
	}
	resp, err = readFrame(ctx, conn, n)
	glog.V(2).Infof("motor %d RX % X", m.address, resp)
	return resp, err
}

// readFrame creeps through the response until n bytes have arrived.  Serial
// ports return early with nothing when their read timeout lapses; a few of
// those in a row mean the reply is not coming
func readFrame(ctx context.Context, r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	total, empty := 0, 0
	for total < n {
		if err := ctx.Err(); err != nil {
			return buf[:total], err
		}
		k, err := r.Read(buf[total:])
		total += k
		if k > 0 {
			empty = 0
		} else {
			empty++
		}
		if err != nil && !(errors.Is(err, io.EOF) && k == 0) {
			return buf[:total], err
		}
		if empty >= maxEmptyReads {
			return buf[:total], fmt.Errorf("%w: got %d of %d bytes before timeout", ErrShortFrame, total, n)
		}
	}
	return buf, nil
}

// retry runs op until it succeeds, fails in a way that is not worth
// repeating, or the retry budget is spent
func (m *Motor) retry(ctx context.Context, what string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryInterval), uint64(m.retries)), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if Retryable(err) {
			glog.Warningf("motor %d: %s, attempt %d: %v", m.address, what, attempt, err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// Read returns the four data bytes the motor sends for register reg, least
// significant byte first.  Registers shorter than four bytes are followed by
// whatever the motor holds after them
func (m *Motor) Read(ctx context.Context, reg byte) ([]byte, error) {
	var data []byte
	err := m.retry(ctx, fmt.Sprintf("read %d", reg), func() error {
		resp, err := m.transact(ctx, EncodeRead(m.address, reg), ReadResponseSize)
		if err != nil {
			return err
		}
		data, err = DecodeReadResponse(resp, reg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading register %d: %w", reg, err)
	}
	return data, nil
}

// Write stores data, least significant byte first, at register reg
func (m *Motor) Write(ctx context.Context, reg byte, data []byte) error {
	req, err := EncodeWrite(m.address, reg, data)
	if err != nil {
		return fmt.Errorf("writing register %d: %w", reg, err)
	}
	err = m.retry(ctx, fmt.Sprintf("write %d", reg), func() error {
		resp, err := m.transact(ctx, req, AckSize)
		if err != nil {
			return err
		}
		return CheckAck(resp)
	})
	if err != nil {
		return fmt.Errorf("writing register %d: %w", reg, err)
	}
	return nil
}

func (m *Motor) lookup(name string) (Register, error) {
	return m.table.Lookup(name)
}

// ReadRegister reads a register by name or number, cropped to its size
func (m *Motor) ReadRegister(ctx context.Context, name string) ([]byte, error) {
	reg, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	data, err := m.Read(ctx, reg.Number)
	if err != nil {
		return nil, err
	}
	return data[:reg.Size], nil
}

// WriteRegister writes a register by name or number.  data must be exactly
// the size of the register
func (m *Motor) WriteRegister(ctx context.Context, name string, data []byte) error {
	reg, err := m.lookup(name)
	if err != nil {
		return err
	}
	if len(data) != reg.Size {
		return fmt.Errorf("%w: %s is %d bytes, got %d", ErrSize, reg.Name, reg.Size, len(data))
	}
	return m.Write(ctx, reg.Number, data)
}

// ReadValue reads a register by name or number and decodes it
func (m *Motor) ReadValue(ctx context.Context, name string) (int64, error) {
	reg, err := m.lookup(name)
	if err != nil {
		return 0, err
	}
	return m.readReg(ctx, reg)
}

// WriteValue encodes v for a register by name or number and writes it
func (m *Motor) WriteValue(ctx context.Context, name string, v int64) error {
	reg, err := m.lookup(name)
	if err != nil {
		return err
	}
	return m.writeReg(ctx, reg, v)
}

func (m *Motor) readReg(ctx context.Context, reg Register) (int64, error) {
	data, err := m.Read(ctx, reg.Number)
	if err != nil {
		return 0, err
	}
	return Decode(reg, data)
}

func (m *Motor) writeReg(ctx context.Context, reg Register, v int64) error {
	data, err := Encode(reg, v)
	if err != nil {
		return err
	}
	return m.Write(ctx, reg.Number, data)
}

// readNamed reads the registers called names, in order
func (m *Motor) readNamed(ctx context.Context, names ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, name := range names {
		v, err := m.ReadValue(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
