// Package grbl encodes driver motion as GRBL 1.1 G-code in laser mode.
package grbl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/lasercut/internal/cutcode"
	"github.com/banshee-data/lasercut/internal/driver"
	"github.com/banshee-data/lasercut/internal/units"
)

// GRBL real-time commands. They bypass the line buffer.
const (
	RealtimeReset  = "\x18"
	RealtimeHold   = "!"
	RealtimeResume = "~"
	RealtimeStatus = "?"
)

// LineWriter is the controller surface the encoder needs.
type LineWriter interface {
	Write(line string) error
	Realtime(data string) error
	WaitIdle(ctx context.Context) error
}

// Config configures an Encoder.
type Config struct {
	// MaxSpindle is the S value for full power, GRBL setting $30.
	MaxSpindle float64
	// RapidSpeed is the travel feed rate in mm/min.
	RapidSpeed float64
	// DefaultPower in per-mille applies when settings carry none.
	DefaultPower float64
	// Units converts device coordinates back to millimetres.
	Units units.Converter
}

func (c Config) withDefaults() Config {
	if c.MaxSpindle <= 0 {
		c.MaxSpindle = 1000
	}
	if c.RapidSpeed <= 0 {
		c.RapidSpeed = 3000
	}
	if c.DefaultPower <= 0 {
		c.DefaultPower = 1000
	}
	return c
}

// Encoder implements driver.Device for a GRBL board.
type Encoder struct {
	w   LineWriter
	cfg Config

	mu      sync.Mutex
	x, y    float64
	ready   bool
	program bool
	laser   bool
	// Modal feed and spindle values last written, or -1 when unknown.
	feed  float64
	power float64
	// syncCtx is cancelled by Abort to release a blocked Sync.
	syncCtx    context.Context
	cancelSync context.CancelFunc
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w LineWriter, cfg Config) *Encoder {
	e := &Encoder{w: w, cfg: cfg.withDefaults(), feed: -1, power: -1}
	e.syncCtx, e.cancelSync = context.WithCancel(context.Background())
	return e
}

func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

// send writes lines in order. The first send after construction or Abort
// is preceded by the preamble. It must be called with mu held.
func (e *Encoder) send(lines ...string) error {
	if !e.ready {
		for _, l := range []string{"G21", "G90", "M5"} {
			if err := e.w.Write(l + "\n"); err != nil {
				return err
			}
		}
		e.ready = true
	}
	for _, l := range lines {
		if err := e.w.Write(l + "\n"); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) mm(x, y float64) (string, string) {
	return num(e.cfg.Units.DeviceToMM(x)), num(e.cfg.Units.DeviceToMM(y))
}

// spindle converts a power percentage to an S word value.
func (e *Encoder) spindle(percent float64) float64 {
	percent = min(max(percent, 0), 100)
	return percent / 100 * e.cfg.MaxSpindle
}

// ProgramMode enables dynamic laser power. Repeated calls are free.
func (e *Encoder) ProgramMode() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.program {
		return nil
	}
	if err := e.send("M4 S0"); err != nil {
		return err
	}
	e.program = true
	e.power = 0
	return nil
}

// RapidMode turns the laser off for travel.
func (e *Encoder) RapidMode() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.program {
		return nil
	}
	if err := e.send("M5"); err != nil {
		return err
	}
	e.program = false
	return nil
}

// Sync waits for the controller to drain. An Abort meanwhile ends the wait
// without error, since the reset discards whatever was outstanding.
func (e *Encoder) Sync() error {
	e.mu.Lock()
	ctx := e.syncCtx
	e.mu.Unlock()
	if err := e.w.WaitIdle(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// LastXY returns the last commanded position in device units.
func (e *Encoder) LastXY() (float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.x, e.y
}

// Goto travels to (x, y) at the rapid rate.
func (e *Encoder) Goto(x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	mx, my := e.mm(x, y)
	if err := e.send(fmt.Sprintf("G0 X%s Y%s", mx, my)); err != nil {
		return err
	}
	e.x, e.y = x, y
	return nil
}

// SetXY jogs to (x, y).
func (e *Encoder) SetXY(x, y float64) error {
	return e.Goto(x, y)
}

// Mark cuts to (x, y). Feed and power words are only written when they
// change.
func (e *Encoder) Mark(x, y float64, s *cutcode.Settings, power float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s == nil {
		s = cutcode.DefaultSettings()
	}
	if power < 0 {
		power = s.PowerOr(e.cfg.DefaultPower) / 10
	}
	feed := s.Speed * 60
	spindle := e.spindle(power)

	mx, my := e.mm(x, y)
	line := fmt.Sprintf("G1 X%s Y%s", mx, my)
	if feed != e.feed && feed > 0 {
		line += " F" + num(feed)
	}
	if spindle != e.power {
		line += " S" + num(spindle)
	}
	if err := e.send(line); err != nil {
		return err
	}
	if feed > 0 {
		e.feed = feed
	}
	e.power = spindle
	e.x, e.y = x, y
	return nil
}

func seconds(d time.Duration) string {
	return num(d.Seconds())
}

// fire runs the laser in place at default power for d. M3 is used because
// dynamic mode does not fire without motion.
func (e *Encoder) fire(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := num(e.spindle(e.cfg.DefaultPower / 10))
	lines := []string{"M3 S" + s, "G4 P" + seconds(d), "M5"}
	if e.program {
		lines = append(lines, "M4 S0")
	}
	e.power = 0
	return e.send(lines...)
}

// Dwell fires in place for d.
func (e *Encoder) Dwell(d time.Duration) error { return e.fire(d) }

// Pulse fires a single pulse of length d.
func (e *Encoder) Pulse(d time.Duration) error { return e.fire(d) }

// Wait pauses motion for d.
func (e *Encoder) Wait(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send("G4 P" + seconds(d))
}

// Home runs the homing cycle. The origin becomes the current position.
func (e *Encoder) Home() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.send("$H"); err != nil {
		return err
	}
	e.x, e.y = 0, 0
	return nil
}

// LaserOn fires continuously at default power until LaserOff.
func (e *Encoder) LaserOn() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.send("M3 S" + num(e.spindle(e.cfg.DefaultPower/10))); err != nil {
		return err
	}
	e.laser = true
	return nil
}

// LaserOff stops the laser.
func (e *Encoder) LaserOff() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.send("M5"); err != nil {
		return err
	}
	e.laser = false
	e.program = false
	return nil
}

// Abort soft-resets the board. The controller drops queued lines and the
// board forgets its modal state, so the preamble is sent again next time.
func (e *Encoder) Abort() error {
	e.mu.Lock()
	e.ready = false
	e.program = false
	e.laser = false
	e.feed, e.power = -1, -1
	e.mu.Unlock()
	err := e.w.Realtime(RealtimeReset)

	e.mu.Lock()
	e.cancelSync()
	e.syncCtx, e.cancelSync = context.WithCancel(context.Background())
	e.mu.Unlock()
	return err
}

// Pause issues a feed hold.
func (e *Encoder) Pause() error { return e.w.Realtime(RealtimeHold) }

// Resume releases a feed hold.
func (e *Encoder) Resume() error { return e.w.Realtime(RealtimeResume) }

var _ driver.Device = (*Encoder)(nil)

// QueryStatus asks the board for a status report.
func (e *Encoder) QueryStatus() error { return e.w.Realtime(RealtimeStatus) }
