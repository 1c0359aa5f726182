package smtp

import (
	"errors"
	"net"
	"time"
)

// Timeout sets a deadline on the connection and returns a func that clears it.
// A non-positive duration leaves the connection without deadline.
func Timeout(conn net.Conn, duration time.Duration) func() {
	if duration <= 0 {
		return func() {}
	}
	_ = conn.SetDeadline(time.Now().Add(duration))
	return func() {
		_ = conn.SetDeadline(time.Time{})
	}
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
