package controller

import (
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventWrite: a line was queued. Line is set.
	EventWrite EventKind = iota
	// EventBuffer: combined queue length changed. Len is set.
	EventBuffer
	// EventRunning: the sender went busy or idle. Running is set.
	EventRunning
	// EventSend: a line was written to the connection.
	EventSend
	// EventResponse: any non-empty inbound line.
	EventResponse
	// EventEcho: an "echo:" line, with the prefix removed.
	EventEcho
	// EventAlarm: an ALARM line. Code is set.
	EventAlarm
	// EventError: an "error:n" line. Code is n, or -1.
	EventError
	// EventData: an unclassified inbound line.
	EventData
	// EventStopped: the sender goroutine ended. Err is set.
	EventStopped
)

var eventNames = [...]string{
	EventWrite:    "write",
	EventBuffer:   "buffer",
	EventRunning:  "running",
	EventSend:     "send",
	EventResponse: "response",
	EventEcho:     "echo",
	EventAlarm:    "alarm",
	EventError:    "error",
	EventData:     "data",
	EventStopped:  "stopped",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is one controller notification.
type Event struct {
	Kind    EventKind
	Line    string
	Code    int
	Len     int
	Running bool
	Err     error
}

func (e Event) String() string {
	switch e.Kind {
	case EventBuffer:
		return fmt.Sprintf("%s %d", e.Kind, e.Len)
	case EventRunning:
		return fmt.Sprintf("%s %t", e.Kind, e.Running)
	case EventAlarm, EventError:
		return fmt.Sprintf("%s %d %q", e.Kind, e.Code, e.Line)
	case EventStopped:
		return fmt.Sprintf("%s %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s %q", e.Kind, e.Line)
	}
}

// subscriberBuffer is the per-subscriber channel capacity. Events for a
// full subscriber are dropped.
const subscriberBuffer = 256

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving controller events. The ID is used to
// Unsubscribe.
func (c *Controller) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Controller) Unsubscribe(id string) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

func (c *Controller) publish(e Event) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- e:
		default:
			// if the channel is full skip so as not to block the sender
		}
	}
}
