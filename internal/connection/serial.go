package connection

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/lasercut/internal/monitoring"
)

// DefaultReadTimeout bounds a single Read on a serial connection.
const DefaultReadTimeout = 100 * time.Millisecond

// SerialConnection is a Connection over a serial port.
type SerialConnection struct {
	path        string
	opts        PortOptions
	factory     SerialPortFactory
	readTimeout time.Duration

	mu   sync.Mutex
	port SerialPorter

	// buf and chunk are only touched by the reading goroutine.
	buf   []byte
	chunk []byte
}

// NewSerialConnection returns a closed connection to the device at path. A
// nil factory opens real hardware.
func NewSerialConnection(path string, opts PortOptions, factory SerialPortFactory) *SerialConnection {
	if factory == nil {
		factory = NewRealSerialPortFactory()
	}
	return &SerialConnection{
		path:        path,
		opts:        opts,
		factory:     factory,
		readTimeout: DefaultReadTimeout,
		chunk:       make([]byte, 256),
	}
}

// SetReadTimeout changes the per-Read timeout. It applies on the next Connect.
func (c *SerialConnection) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimeout = d
}

func (c *SerialConnection) String() string {
	return fmt.Sprintf("%s@%s", c.path, c.opts)
}

// Connect opens the port.
func (c *SerialConnection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		return nil
	}
	port, err := c.factory.Open(c.path, c.opts)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", c.path, err)
	}
	if tp, ok := port.(TimeoutSerialPorter); ok && c.readTimeout > 0 {
		if err := tp.SetReadTimeout(c.readTimeout); err != nil {
			port.Close()
			return fmt.Errorf("failed to set read timeout on %s: %w", c.path, err)
		}
	}
	c.port = port
	c.buf = c.buf[:0]
	monitoring.Logf("serial port %s opened (%s)", c.path, c.opts)
	return nil
}

// Disconnect closes the port. Closing an already closed connection is a no-op.
func (c *SerialConnection) Disconnect() error {
	c.mu.Lock()
	port := c.port
	c.port = nil
	c.mu.Unlock()
	if port == nil {
		return nil
	}
	monitoring.Logf("serial port %s closed", c.path)
	return port.Close()
}

// Connected reports whether the port is open.
func (c *SerialConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

func (c *SerialConnection) current() SerialPorter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// Read returns one line, or "" when the port timed out before a full line
// arrived. Partial lines are kept for the next call. A read error closes the
// connection.
func (c *SerialConnection) Read() (string, error) {
	if line, rest, ok := splitLine(c.buf); ok {
		c.buf = rest
		return line, nil
	}
	port := c.current()
	if port == nil {
		return "", ErrNotConnected
	}
	n, err := port.Read(c.chunk)
	c.buf = append(c.buf, c.chunk[:n]...)
	if err != nil && !errors.Is(err, io.EOF) {
		c.Disconnect()
		return "", fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	if line, rest, ok := splitLine(c.buf); ok {
		c.buf = rest
		return line, nil
	}
	return "", nil
}

// Write sends data verbatim.
func (c *SerialConnection) Write(data string) error {
	port := c.current()
	if port == nil {
		return ErrNotConnected
	}
	n, err := port.Write([]byte(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(data) {
		return ErrWriteFailed
	}
	return nil
}
