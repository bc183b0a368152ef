// Package controller paces protocol lines to a laser controller board. It
// holds a real-time queue and a normal queue, tracks how much of the board's
// receive buffer is in use, and classifies the board's responses.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/lasercut/internal/connection"
	"github.com/banshee-data/lasercut/internal/monitoring"
	"github.com/banshee-data/lasercut/internal/timeutil"
)

// CancelCode is the GRBL soft-reset byte. A real-time line containing it
// discards all queued normal work.
const CancelCode = "\x18"

// DefaultBufferSize is the GRBL serial receive buffer.
const DefaultBufferSize = 128

var (
	// ErrDesync means an "ok" arrived with nothing in flight. The sender
	// stops and the connection is closed.
	ErrDesync = errors.New("protocol desync: acknowledgment with nothing in flight")
	// ErrLineTooLong is returned by Write when a line could never fit the
	// device buffer.
	ErrLineTooLong = errors.New("line exceeds device buffer")
	// ErrStopped is reported by Err after Stop.
	ErrStopped = errors.New("controller stopped")
)

// Mode selects the flow-control protocol.
type Mode int

const (
	// ModeBuffered keeps the device buffer as full as its capacity allows.
	ModeBuffered Mode = iota
	// ModeSync sends one line and waits for its acknowledgment.
	ModeSync
)

func (m Mode) String() string {
	if m == ModeSync {
		return "sync"
	}
	return "buffered"
}

// ParseMode accepts "sync" and "buffered". Empty means buffered.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "buffered":
		return ModeBuffered, nil
	case "sync":
		return ModeSync, nil
	}
	return ModeBuffered, fmt.Errorf("unknown buffer mode %q: expected sync or buffered", s)
}

// Options configures a Controller.
type Options struct {
	// BufferSize is the device receive buffer in characters.
	BufferSize int
	Mode       Mode
	// HandshakeTimeout bounds the wait for the board's banner after
	// connecting. Zero skips the wait.
	HandshakeTimeout time.Duration
	Clock            timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Controller owns one Connection and the single sender goroutine writing
// to it.
type Controller struct {
	conn connection.Connection
	opts Options

	// lifeMu serializes Start and Stop.
	lifeMu sync.Mutex

	// mu guards the queues, the in-flight record and sender state.
	mu       sync.Mutex
	realtime []string
	normal   []string
	inFlight []string
	buffered int
	// stale counts the acknowledgements still owed for lines discarded by
	// the last soft reset.
	stale    int
	running  bool
	stopping bool
	done     chan struct{}
	err      error

	// wake has capacity one so a signal sent while the sender is busy is
	// seen on its next idle check.
	wake chan struct{}

	subscriberMu sync.Mutex
	subscribers  map[string]chan Event

	state   *monitoring.Channel
	console *monitoring.Channel
	send    *monitoring.Channel
	recv    *monitoring.Channel
}

// New returns a stopped controller for conn.
func New(conn connection.Connection, opts Options) *Controller {
	return &Controller{
		conn:        conn,
		opts:        opts.withDefaults(),
		wake:        make(chan struct{}, 1),
		subscribers: make(map[string]chan Event),
		state:       monitoring.Open("grbl_state"),
		console:     monitoring.Open("console"),
		send:        monitoring.Open("send"),
		recv:        monitoring.Open("recv"),
	}
}

// Options returns the effective options.
func (c *Controller) Options() Options { return c.opts }

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Write queues a normal line and starts the sender if needed. The line is
// sent verbatim, so protocol lines carry their own newline.
func (c *Controller) Write(data string) error {
	if c.opts.Mode == ModeBuffered && len(data) > c.opts.BufferSize {
		return fmt.Errorf("%w: %d > %d characters", ErrLineTooLong, len(data), c.opts.BufferSize)
	}
	c.mu.Lock()
	c.normal = append(c.normal, data)
	n := len(c.normal) + len(c.realtime)
	c.mu.Unlock()

	c.publish(Event{Kind: EventWrite, Line: data})
	c.publish(Event{Kind: EventBuffer, Len: n})
	c.signal()
	return c.Start()
}

// Realtime queues a line that preempts normal lines. If it contains
// CancelCode the normal queue is emptied in the same critical section.
func (c *Controller) Realtime(data string) error {
	c.mu.Lock()
	c.realtime = append(c.realtime, data)
	if strings.Contains(data, CancelCode) {
		c.normal = nil
	}
	n := len(c.normal) + len(c.realtime)
	c.mu.Unlock()

	c.publish(Event{Kind: EventWrite, Line: data})
	c.publish(Event{Kind: EventBuffer, Len: n})
	c.signal()
	return c.Start()
}

// Open is Start.
func (c *Controller) Open() error { return c.Start() }

// Close is Stop.
func (c *Controller) Close() error { return c.Stop() }

// Start connects if needed and launches the sender goroutine. It is a no-op
// while a sender is running. A connect failure is logged on the grbl_state
// channel and returned; Start may be retried.
func (c *Controller) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	alive := c.done != nil
	c.mu.Unlock()
	if alive {
		return nil
	}

	if !c.conn.Connected() {
		if err := c.conn.Connect(); err != nil {
			c.state.Printf("connection failed: %v", err)
			return fmt.Errorf("%w: %w", connection.ErrNotConnected, err)
		}
		// A fresh link means a fresh board buffer.
		c.mu.Lock()
		c.inFlight = nil
		c.buffered = 0
		c.stale = 0
		c.mu.Unlock()
		c.handshake()
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.err = nil
	c.stopping = false
	c.mu.Unlock()

	go c.run(done)
	return nil
}

// Stop ends the sender goroutine and closes the connection. Queued lines are
// kept and sent after the next Start.
func (c *Controller) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	done := c.done
	c.stopping = true
	c.mu.Unlock()

	err := c.conn.Disconnect()
	c.signal()
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.stopping = false
	c.mu.Unlock()
	return err
}

// handshake waits for the board to identify itself. A timeout is logged and
// otherwise ignored.
func (c *Controller) handshake() {
	if c.opts.HandshakeTimeout <= 0 {
		return
	}
	deadline := c.opts.Clock.Now().Add(c.opts.HandshakeTimeout)
	for c.opts.Clock.Now().Before(deadline) {
		line, err := c.conn.Read()
		if err != nil {
			c.state.Printf("handshake read failed: %v", err)
			return
		}
		if line == "" {
			continue
		}
		c.publish(Event{Kind: EventResponse, Line: line})
		if c.banner(line) {
			return
		}
		c.recv.Print(line)
	}
	c.state.Printf("no banner within %s", c.opts.HandshakeTimeout)
}

// banner reports whether line is a board greeting, and ends any reset
// resynchronisation if so.
func (c *Controller) banner(line string) bool {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "grbl"):
		c.state.Print("GRBL Connection Established.")
	case strings.Contains(lower, "marlin"):
		c.state.Print("Marlin Connection Established.")
	default:
		return false
	}
	c.mu.Lock()
	c.stale = 0
	c.mu.Unlock()
	return true
}

// Len returns the combined length of both queues.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.realtime) + len(c.normal)
}

// InFlight returns the number of sent but unacknowledged lines.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// BufferedCharacters returns the characters of sent but unacknowledged
// lines.
func (c *Controller) BufferedCharacters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

// Running reports whether the sender is working through queued lines.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Alive reports whether the sender goroutine exists.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

// Err returns why the last sender goroutine ended, or nil while it runs.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// WaitIdle blocks until both queues and the in-flight record are empty. It
// fails early if the sender ends with work outstanding.
func (c *Controller) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		idle := len(c.realtime)+len(c.normal)+len(c.inFlight) == 0
		alive := c.done != nil
		err := c.err
		c.mu.Unlock()
		if idle {
			return nil
		}
		if !alive {
			if err == nil {
				err = ErrStopped
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	Mode       string   `json:"mode"`
	BufferSize int      `json:"buffer_size"`
	Realtime   []string `json:"realtime"`
	Normal     int      `json:"normal"`
	InFlight   []string `json:"in_flight"`
	Buffered   int      `json:"buffered"`
	Running    bool     `json:"running"`
	Alive      bool     `json:"alive"`
	Connected  bool     `json:"connected"`
	Err        string   `json:"error,omitempty"`
}

// Status returns a snapshot of queue and protocol state.
func (c *Controller) Status() Status {
	connected := c.conn.Connected()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Mode:       c.opts.Mode.String(),
		BufferSize: c.opts.BufferSize,
		Realtime:   append([]string{}, c.realtime...),
		Normal:     len(c.normal),
		InFlight:   append([]string{}, c.inFlight...),
		Buffered:   c.buffered,
		Running:    c.running,
		Alive:      c.done != nil,
		Connected:  connected,
	}
	if c.err != nil {
		s.Err = c.err.Error()
	}
	return s
}
