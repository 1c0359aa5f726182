// Package tester holds helpers for testing SMTP clients: an in-memory
// connection, a self-signed certificate and a scripted relay.
package tester

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// FakeConn fakes a net.Conn for testing. Reads come from the given input,
// writes go to the given buffer.
type FakeConn struct {
	io.ReadWriter
	RemoteAddrReturn net.Addr

	// WriteErr, if set, is returned by every Write.
	WriteErr error

	mu     sync.Mutex
	closed int
}

// NewFakeConnStream creates a new FakeConn with a stream as input.
func NewFakeConnStream(in io.Reader, out *bytes.Buffer) *FakeConn {
	rw := struct {
		io.Reader
		io.Writer
	}{
		Reader: in,
		Writer: out,
	}

	return &FakeConn{
		ReadWriter: rw,
	}
}

// NewFakeConn creates a new FakeConn with a string as input.
func NewFakeConn(in string, out *bytes.Buffer) *FakeConn {
	return NewFakeConnStream(strings.NewReader(in), out)
}

var errClosed = errors.New("tester: use of closed connection")

// Read fails after Close.
func (f *FakeConn) Read(p []byte) (int, error) {
	if f.CloseCount() > 0 {
		return 0, errClosed
	}
	return f.ReadWriter.Read(p)
}

// Write fails after Close or with WriteErr.
func (f *FakeConn) Write(p []byte) (int, error) {
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	if f.CloseCount() > 0 {
		return 0, errClosed
	}
	return f.ReadWriter.Write(p)
}

// Close counts the call and returns nil.
func (f *FakeConn) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

// CloseCount returns how often Close was called.
func (f *FakeConn) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// LocalAddr always returns nil.
func (*FakeConn) LocalAddr() net.Addr { return nil }

// RemoteAddr always returns RemoteAddrReturn.
func (f *FakeConn) RemoteAddr() net.Addr { return f.RemoteAddrReturn }

// SetDeadline always returns nil and does nothing.
func (*FakeConn) SetDeadline(time.Time) error { return nil }

// SetReadDeadline always returns nil and does nothing.
func (*FakeConn) SetReadDeadline(time.Time) error { return nil }

// SetWriteDeadline always returns nil and does nothing.
func (*FakeConn) SetWriteDeadline(time.Time) error { return nil }
