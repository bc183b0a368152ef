// Package connection provides the byte transport between the controller and
// the laser: a Connection over a real serial port, and a simulated GRBL
// device for development and tests.
package connection

import (
	"errors"
	"strings"
)

var (
	// ErrNotConnected is returned by Read and Write once the transport is
	// closed or was never opened.
	ErrNotConnected = errors.New("connection is not open")
	// ErrWriteFailed is returned when fewer bytes than requested were written.
	ErrWriteFailed = errors.New("failed to write to serial port")
)

// Connection is a line-oriented transport to one device.
type Connection interface {
	// Connect opens the transport. Connecting an open transport is a no-op.
	Connect() error
	// Disconnect closes the transport.
	Disconnect() error
	// Read returns the next inbound line with its line terminator removed.
	// It returns "" with a nil error when no complete line arrived within
	// the transport's read timeout.
	Read() (string, error)
	// Write sends data verbatim. Normal protocol lines carry their own
	// trailing newline; real-time control bytes do not.
	Write(data string) error
	// Connected reports whether the transport is open.
	Connected() bool
}

// IsDisconnect reports whether err means the transport went away.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrWriteFailed)
}

// splitLine removes the first line from buf. It reports false when buf holds
// no complete line.
func splitLine(buf []byte) (line string, rest []byte, ok bool) {
	i := strings.IndexByte(string(buf), '\n')
	if i < 0 {
		return "", buf, false
	}
	line = strings.TrimRight(string(buf[:i]), "\r")
	return line, buf[i+1:], true
}
