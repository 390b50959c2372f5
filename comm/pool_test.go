package comm

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	bytes.Buffer
	closed int32
}

func (f *fakeConn) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func countingMaker(made *int32) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		atomic.AddInt32(made, 1)
		return &fakeConn{}, nil
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	var made int32
	pool := NewPool(1, time.Hour, countingMaker(&made))
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		require.NoError(t, err)
		require.Equal(t, 1, pool.Active())
		pool.Put(conn)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&made))
	require.Equal(t, 1, pool.Size())
	require.Equal(t, 0, pool.Active())
}

func TestPoolBlocksWhenAllLeased(t *testing.T) {
	var made int32
	pool := NewPool(2, time.Hour, countingMaker(&made))
	a, err := pool.Get()
	require.NoError(t, err)
	_, err = pool.Get()
	require.NoError(t, err)

	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		got <- rw
	}()
	select {
	case <-got:
		t.Fatal("pool handed out more connections than its size")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(a)
	select {
	case rw := <-got:
		require.Equal(t, a, rw)
	case <-time.After(time.Second):
		t.Fatal("waiting Get was not released by Put")
	}
	require.Equal(t, int32(2), atomic.LoadInt32(&made))
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	var made int32
	pool := NewPool(1, 10*time.Millisecond, countingMaker(&made))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.Put(conn)
	require.Eventually(t, func() bool { return pool.Size() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&conn.(*fakeConn).closed))

	_, err = pool.Get()
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&made))
}

func TestPoolReturnWithError(t *testing.T) {
	var made int32
	pool := NewPool(1, time.Hour, countingMaker(&made))

	conn, err := pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, errors.New("checksum mismatch"))
	require.Equal(t, 1, pool.Size(), "protocol errors keep the connection")

	conn, err = pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	require.Equal(t, 0, pool.Size(), "transport errors destroy the connection")
	require.Equal(t, int32(1), atomic.LoadInt32(&conn.(*fakeConn).closed))
}

func TestPoolMakerErrorReleasesLease(t *testing.T) {
	boom := errors.New("no such device")
	pool := NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) { return nil, boom })
	for i := 0; i < 3; i++ {
		_, err := pool.Get()
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, 0, pool.Active())
}

func TestBackoffMakerStopsOnRefused(t *testing.T) {
	var calls int32
	maker := BackoffMaker(func() (io.ReadWriteCloser, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("dial tcp: connection refused")
	})
	_, err := maker()
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBackoffMakerRetries(t *testing.T) {
	var calls int32
	maker := BackoffMaker(func() (io.ReadWriteCloser, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("i/o timeout")
		}
		return &fakeConn{}, nil
	})
	conn, err := maker()
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestIsConnError(t *testing.T) {
	require.False(t, IsConnError(nil))
	require.False(t, IsConnError(errors.New("bad frame")))
	require.True(t, IsConnError(io.EOF))
	require.True(t, IsConnError(io.ErrClosedPipe))
}
