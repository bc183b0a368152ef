package connection

import (
	"strings"
	"sync"
	"time"
)

// DefaultBanner is the greeting a GRBL 1.1 board prints after reset.
const DefaultBanner = "Grbl 1.1h ['$' for help]"

const mockReadTimeout = 10 * time.Millisecond

type mockPending struct {
	size    int
	replies []string
}

// MockConnection simulates a GRBL controller board. Every normal line is
// answered with "ok" unless Respond says otherwise. Real-time bytes (?, !, ~
// and 0x18) are picked out of the stream and never acknowledged.
type MockConnection struct {
	// Banner is sent on connect and after a soft reset. Empty sends nothing.
	Banner string
	// Respond, if set, returns the replies to one normal line.
	Respond func(line string) []string
	// ManualAck holds replies until Ack is called, as a board would while its
	// planner buffer is busy.
	ManualAck bool
	// BufferSize, if positive, is the simulated receive buffer. Unacknowledged
	// bytes beyond it are recorded as an overflow.
	BufferSize int
	// ConnectError fails Connect when set.
	ConnectError error
	// WriteError fails the next Write when set.
	WriteError error
	// ReadTimeout bounds how long Read waits for a line.
	ReadTimeout time.Duration

	mu         sync.Mutex
	wake       chan struct{}
	connected  bool
	partial    strings.Builder
	inbound    []string
	written    []string
	lines      []string
	pending    []mockPending
	unacked    int
	maxUnacked int
	overflow   bool
	held       bool
	resets     int
}

// NewMockConnection returns a simulated GRBL board with the default banner.
func NewMockConnection() *MockConnection {
	return &MockConnection{Banner: DefaultBanner, ReadTimeout: mockReadTimeout}
}

func (m *MockConnection) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// push must be called with mu held.
func (m *MockConnection) push(lines ...string) {
	m.inbound = append(m.inbound, lines...)
	m.signal()
}

// Connect opens the simulated link and queues the banner after any lines
// injected while closed.
func (m *MockConnection) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectError != nil {
		return m.ConnectError
	}
	if m.connected {
		return nil
	}
	if m.wake == nil {
		m.wake = make(chan struct{}, 1)
	}
	m.connected = true
	m.pending = nil
	m.unacked = 0
	m.partial.Reset()
	if m.Banner != "" {
		m.push(m.Banner)
	}
	return nil
}

// Disconnect closes the simulated link and wakes a blocked Read.
func (m *MockConnection) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.inbound = nil
	if m.wake != nil {
		m.signal()
	}
	return nil
}

// Connected reports whether the link is open.
func (m *MockConnection) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Read returns the next queued reply, or "" after ReadTimeout.
func (m *MockConnection) Read() (string, error) {
	timeout := m.ReadTimeout
	if timeout <= 0 {
		timeout = mockReadTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		m.mu.Lock()
		if !m.connected {
			m.mu.Unlock()
			return "", ErrNotConnected
		}
		if len(m.inbound) > 0 {
			line := m.inbound[0]
			m.inbound = m.inbound[1:]
			m.mu.Unlock()
			return line, nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return "", nil
		}
	}
}

// Write feeds data to the simulated board.
func (m *MockConnection) Write(data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.WriteError != nil {
		err := m.WriteError
		m.WriteError = nil
		return err
	}
	m.written = append(m.written, data)
	for _, c := range []byte(data) {
		switch c {
		case '?':
			state := "Idle"
			if m.held {
				state = "Hold:0"
			}
			m.push("<" + state + "|MPos:0.000,0.000,0.000|FS:0,0>")
		case '!':
			m.held = true
		case '~':
			m.held = false
		case 0x18:
			m.reset()
		case '\n':
			m.receive(strings.TrimRight(m.partial.String(), "\r"))
			m.partial.Reset()
		default:
			m.partial.WriteByte(c)
		}
	}
	return nil
}

func (m *MockConnection) reset() {
	m.resets++
	m.partial.Reset()
	m.pending = nil
	m.unacked = 0
	m.held = false
	if m.Banner != "" {
		m.push(m.Banner)
	}
}

func (m *MockConnection) receive(line string) {
	m.lines = append(m.lines, line)
	replies := []string{"ok"}
	if m.Respond != nil {
		replies = m.Respond(line)
	}
	if !m.ManualAck {
		m.push(replies...)
		return
	}
	size := len(line) + 1
	m.pending = append(m.pending, mockPending{size: size, replies: replies})
	m.unacked += size
	m.maxUnacked = max(m.maxUnacked, m.unacked)
	if m.BufferSize > 0 && m.unacked > m.BufferSize {
		m.overflow = true
	}
}

// Ack releases the replies of the oldest held line. It reports false when
// nothing is held.
func (m *MockConnection) Ack() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return false
	}
	p := m.pending[0]
	m.pending = m.pending[1:]
	m.unacked -= p.size
	m.push(p.replies...)
	return true
}

// AckAll releases every held line and returns how many there were.
func (m *MockConnection) AckAll() int {
	n := 0
	for m.Ack() {
		n++
	}
	return n
}

// Inject queues raw inbound lines, as if the board printed them.
func (m *MockConnection) Inject(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wake == nil {
		m.wake = make(chan struct{}, 1)
	}
	m.push(lines...)
}

// Written returns every Write payload in order.
func (m *MockConnection) Written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

// Lines returns the normal lines received, without terminators.
func (m *MockConnection) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// Held returns the number of lines waiting for Ack.
func (m *MockConnection) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Unacked returns the bytes of held lines.
func (m *MockConnection) Unacked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unacked
}

// MaxUnacked returns the high-water mark of Unacked.
func (m *MockConnection) MaxUnacked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxUnacked
}

// Overflowed reports whether the simulated receive buffer was ever exceeded.
func (m *MockConnection) Overflowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overflow
}

// FeedHeld reports whether a feed hold is active.
func (m *MockConnection) FeedHeld() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Resets returns how many soft resets the board received.
func (m *MockConnection) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}
