package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Channel is a named operator-facing message sink. Messages sent on a channel
// are prefixed with the channel name and forwarded to Logf, and to any
// listeners attached with Watch.
type Channel struct {
	name string

	mu       sync.Mutex
	nextID   int
	watchers map[int]func(string)
}

var (
	channelsMu sync.Mutex
	channels   = map[string]*Channel{}
)

// Open returns the channel registered under name, creating it on first use.
func Open(name string) *Channel {
	channelsMu.Lock()
	defer channelsMu.Unlock()
	if ch, ok := channels[name]; ok {
		return ch
	}
	ch := &Channel{name: name}
	channels[name] = ch
	return ch
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Printf formats a message and delivers it to the channel.
func (c *Channel) Printf(format string, v ...interface{}) {
	c.Print(fmt.Sprintf(format, v...))
}

// Print delivers msg to the channel.
func (c *Channel) Print(msg string) {
	Logf("[%s] %s", c.name, msg)

	c.mu.Lock()
	watchers := make([]func(string), 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.mu.Unlock()
	for _, w := range watchers {
		w(msg)
	}
}

// Watch registers fn to receive every message printed to the channel. The
// returned function removes the registration.
func (c *Channel) Watch(fn func(string)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers == nil {
		c.watchers = make(map[int]func(string))
	}
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}
