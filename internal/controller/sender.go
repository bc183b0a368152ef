package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

func (c *Controller) run(done chan struct{}) {
	err := c.loop()
	if errors.Is(err, ErrDesync) {
		c.conn.Disconnect()
	}

	c.mu.Lock()
	if c.stopping {
		err = ErrStopped
	}
	c.err = err
	c.running = false
	c.done = nil
	c.mu.Unlock()

	switch {
	case errors.Is(err, ErrStopped):
	case errors.Is(err, ErrDesync):
		c.state.Printf("%v; connection closed", err)
	default:
		c.state.Printf("sender stopped: %v", err)
	}
	close(done)
	c.publish(Event{Kind: EventStopped, Err: err})
}

func (c *Controller) loop() error {
	for {
		if err := c.awaitWork(); err != nil {
			return err
		}
		var err error
		if c.opts.Mode == ModeSync {
			err = c.syncPass()
		} else {
			err = c.bufferedPass()
		}
		if err != nil {
			return err
		}
	}
}

// awaitWork blocks while both queues are empty.
func (c *Controller) awaitWork() error {
	for {
		c.mu.Lock()
		if c.stopping {
			c.mu.Unlock()
			return ErrStopped
		}
		pending := len(c.realtime)+len(c.normal) > 0
		changed := c.running != pending
		c.running = pending
		c.mu.Unlock()

		if changed {
			c.publish(Event{Kind: EventRunning, Running: pending})
		}
		if pending {
			return nil
		}
		<-c.wake
	}
}

// syncPass sends at most one normal line and reads until it is acknowledged.
func (c *Controller) syncPass() error {
	if err := c.drainRealtime(); err != nil {
		return err
	}
	c.mu.Lock()
	if len(c.normal) == 0 {
		c.mu.Unlock()
		return nil
	}
	line := c.popNormal()
	c.mu.Unlock()

	if err := c.transmit(line); err != nil {
		return err
	}
	return c.drainAcks()
}

// bufferedPass fills the device buffer with as many normal lines as fit and
// then collects every outstanding acknowledgment.
func (c *Controller) bufferedPass() error {
	for {
		if err := c.drainRealtime(); err != nil {
			return err
		}
		c.mu.Lock()
		if len(c.normal) == 0 || c.buffered+len(c.normal[0]) > c.opts.BufferSize {
			c.mu.Unlock()
			break
		}
		line := c.popNormal()
		c.mu.Unlock()

		if err := c.transmit(line); err != nil {
			return err
		}
	}
	return c.drainAcks()
}

// popNormal moves the head of the normal queue to the in-flight record. It
// must be called with mu held and a non-empty normal queue.
func (c *Controller) popNormal() string {
	line := c.normal[0]
	c.normal = c.normal[1:]
	c.inFlight = append(c.inFlight, line)
	c.buffered += len(line)
	return line
}

// drainRealtime sends every queued real-time line. Sending CancelCode resets
// the in-flight record because the board discards its buffer.
func (c *Controller) drainRealtime() error {
	for {
		c.mu.Lock()
		if len(c.realtime) == 0 {
			c.mu.Unlock()
			return nil
		}
		line := c.realtime[0]
		c.realtime = c.realtime[1:]
		if strings.Contains(line, CancelCode) {
			c.stale += len(c.inFlight)
			c.inFlight = nil
			c.buffered = 0
		}
		c.mu.Unlock()

		if err := c.transmit(line); err != nil {
			return err
		}
	}
}

func (c *Controller) transmit(line string) error {
	if err := c.conn.Write(line); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	c.send.Print(strings.TrimRight(line, "\r\n"))
	c.publish(Event{Kind: EventSend, Line: line})
	return nil
}

// drainAcks reads responses until nothing is in flight. Real-time lines
// queued meanwhile are sent between reads.
func (c *Controller) drainAcks() error {
	for {
		if err := c.drainRealtime(); err != nil {
			return err
		}
		c.mu.Lock()
		outstanding := len(c.inFlight)
		stopping := c.stopping
		c.mu.Unlock()
		if stopping {
			return ErrStopped
		}
		if outstanding == 0 {
			return nil
		}
		line, err := c.conn.Read()
		if err != nil {
			return err
		}
		if err := c.handleResponse(line); err != nil {
			return err
		}
	}
}

// handleResponse classifies one inbound line. Only "ok" releases an
// in-flight entry.
func (c *Controller) handleResponse(line string) error {
	if line == "" {
		return nil
	}
	c.publish(Event{Kind: EventResponse, Line: line})
	switch {
	case line == "ok":
		c.mu.Lock()
		if len(c.inFlight) == 0 {
			if c.stale > 0 {
				c.stale--
				c.mu.Unlock()
				c.recv.Print("ok (after reset)")
				return nil
			}
			c.mu.Unlock()
			return ErrDesync
		}
		acked := c.inFlight[0]
		c.inFlight = c.inFlight[1:]
		c.buffered -= len(acked)
		c.mu.Unlock()
		c.recv.Printf("ok (%s)", strings.TrimRight(acked, "\r\n"))
	case strings.HasPrefix(line, "echo:"):
		msg := strings.TrimSpace(strings.TrimPrefix(line, "echo:"))
		c.console.Print(msg)
		c.publish(Event{Kind: EventEcho, Line: msg})
	case strings.HasPrefix(line, "ALARM"):
		code := parseCode(line)
		c.state.Printf("alarm %d: %s", code, AlarmMessage(code))
		c.publish(Event{Kind: EventAlarm, Line: line, Code: code})
	case strings.HasPrefix(line, "error"):
		code := parseCode(line)
		c.state.Printf("error %d: %s", code, ErrorMessage(code))
		c.publish(Event{Kind: EventError, Line: line, Code: code})
	default:
		if c.banner(line) {
			return nil
		}
		c.recv.Print(line)
		c.publish(Event{Kind: EventData, Line: line})
	}
	return nil
}

// parseCode returns the number after the first ':' in line, or -1.
func parseCode(line string) int {
	_, rest, ok := strings.Cut(line, ":")
	if !ok {
		return -1
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return -1
	}
	return code
}
