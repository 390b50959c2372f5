/*Package comm provides connection makers and a connection pool for
communication with lab hardware over serial lines or TCP serial servers.

Most usages of this package will boil down to:
	1.  pick a CreationFunc for the transport, SerialConnMaker or TCPConnMaker
	2.  wrap it with BackoffMaker if the device does not like being connection
		thrashed
	3.  make a Pool with NewPool and Get / ReturnWithError connections around
		each transaction

A minimal example for a device on a USB serial adapter:

	conf := &serial.Config{Name: "/dev/ttyUSB0", Baud: 19200, ReadTimeout: 100 * time.Millisecond}
	pool := comm.NewPool(1, time.Minute, comm.BackoffMaker(comm.SerialConnMaker(conf)))
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	_, err = conn.Write(msg)
	pool.ReturnWithError(conn, err)
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when a serial maker is built without a config
	ErrNoSerialConf = errors.New("serial connection requested without a serial.Config")

	// ErrNotConnected is generated when a nil connection is used
	ErrNotConnected = errors.New("conn is nil, not connected to remote")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Flusher is implemented by connections that can discard unread input,
// e.g. *serial.Port
type Flusher interface {
	Flush() error
}

// SerialConnMaker returns a CreationFunc that opens the serial port described
// by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		if conf == nil {
			return nil, ErrNoSerialConf
		}
		return serial.OpenPort(conf)
	}
}

// TCPConnMaker returns a CreationFunc that dials addr, for devices behind a
// serial server (e.g. a digi portserver).  Like a serial port with a
// ReadTimeout, reads on the connection give up after readTimeout and return
// what arrived, possibly nothing, without an error
func TCPConnMaker(addr string, dialTimeout, readTimeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		conn, err := TCPSetup(addr, dialTimeout)
		if err != nil {
			return nil, err
		}
		return &TimeoutConn{Conn: conn, Timeout: readTimeout}, nil
	}
}

// TimeoutConn is a net.Conn whose every read and write carries its own deadline
type TimeoutConn struct {
	net.Conn

	Timeout time.Duration
}

// Read reads into p.  A read that times out returns the bytes it got and a
// nil error
func (c *TimeoutConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Timeout)); err != nil {
		return 0, err
	}
	n, err := c.Conn.Read(p)
	if isTimeout(err) {
		return n, nil
	}
	return n, err
}

// Write writes p within Timeout
func (c *TimeoutConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// Flush discards anything already received
func (c *TimeoutConn) Flush() error {
	buf := make([]byte, 256)
	for {
		if err := c.Conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		n, err := c.Conn.Read(buf)
		if isTimeout(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// BackoffMaker wraps maker with an exponential backoff.  A refused connection
// is not retried, anything else is retried for up to three seconds
func BackoffMaker(maker CreationFunc) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn io.ReadWriteCloser
		op := func() error {
			c, err := maker()
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				glog.V(1).Infof("open failed, retrying: %v", err)
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, fmt.Errorf("connection failed: %w", err)
		}
		return conn, nil
	}
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// Flush discards unread input on rw if it is able to
func Flush(rw io.ReadWriter) error {
	if rw == nil {
		return ErrNotConnected
	}
	if f, ok := rw.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// IsConnError returns true if err indicates the connection itself has gone
// bad, as opposed to a well transported but unexpected reply
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}
