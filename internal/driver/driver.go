// Package driver executes cut primitives on a Device. It owns the machine
// mode, laser state and the pause and abort flags that the plot loop polls
// between samples.
package driver

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lasercut/internal/connection"
	"github.com/banshee-data/lasercut/internal/cutcode"
	"github.com/banshee-data/lasercut/internal/monitoring"
	"github.com/banshee-data/lasercut/internal/timeutil"
	"github.com/banshee-data/lasercut/internal/units"
)

const (
	// DefaultInterpolate is the number of samples per Bezier segment.
	DefaultInterpolate = 50
	// DefaultPower is full power in per-mille.
	DefaultPower = 1000
	// PausePoll is how often a paused plot loop checks for resume.
	PausePoll = 50 * time.Millisecond
)

// Config is the read-only configuration a Driver is built with.
type Config struct {
	// Interpolate is the number of marks per Bezier segment.
	Interpolate int
	SwapXY      bool
	// DefaultPower in per-mille applies to plots whose settings carry none.
	DefaultPower float64
	Units        units.Converter
	Clock        timeutil.Clock
	// Console runs an operator command. Nil logs it on the console channel.
	Console func(command string) error
	// Signal receives named notifications. Nil logs them.
	Signal func(name string, args ...any)
}

func (c Config) withDefaults() Config {
	if c.Interpolate <= 0 {
		c.Interpolate = DefaultInterpolate
	}
	if c.DefaultPower <= 0 {
		c.DefaultPower = DefaultPower
	}
	if c.Units.UnitsPerMM == 0 {
		c.Units.UnitsPerMM = units.DefaultUnitsPerMM
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	return c
}

// Driver drives one Device. Plot, PlotStart and the motion commands belong
// to the job-processing goroutine; Pause, Resume, Abort, Reset and Status
// may be called from anywhere.
type Driver struct {
	dev Device

	// cfgMu guards cfg, which Set may change between jobs.
	cfgMu sync.Mutex
	cfg   Config

	// stateMu guards the primitive queue and the mode flags, which Status
	// reads from other goroutines.
	stateMu sync.Mutex
	queue   []*cutcode.CutObject
	program bool
	laser   bool

	job *Job

	paused   atomic.Bool
	aborting atomic.Bool
	aborted  atomic.Bool

	observerMu sync.Mutex
	observers  []JobObserver

	console *monitoring.Channel
	state   *monitoring.Channel
}

// New returns a driver in rapid mode with the laser off.
func New(dev Device, cfg Config) *Driver {
	return &Driver{
		dev:     dev,
		cfg:     cfg.withDefaults(),
		console: monitoring.Open("console"),
		state:   monitoring.Open("driver"),
	}
}

func (d *Driver) config() Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.cfg
}

// Observe registers o for job start and finish notifications.
func (d *Driver) Observe(o JobObserver) {
	d.observerMu.Lock()
	defer d.observerMu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Driver) notify(f func(JobObserver)) {
	d.observerMu.Lock()
	obs := append([]JobObserver(nil), d.observers...)
	d.observerMu.Unlock()
	for _, o := range obs {
		f(o)
	}
}

// JobStart begins job. Any abort left over from an earlier job is cleared.
func (d *Driver) JobStart(job *Job) {
	d.aborting.Store(false)
	d.aborted.Store(false)
	job.Started = d.config().Clock.Now()
	job.Status = JobRunning
	d.job = job
	d.notify(func(o JobObserver) { o.JobStarted(job) })
}

// JobFinish closes job. A job still marked running becomes aborted if an
// abort was requested during it and completed otherwise.
func (d *Driver) JobFinish(job *Job) {
	job.Finished = d.config().Clock.Now()
	if job.Status == JobRunning {
		if d.aborted.Load() {
			job.Status = JobAborted
		} else {
			job.Status = JobCompleted
		}
	}
	if d.job == job {
		d.job = nil
	}
	d.notify(func(o JobObserver) { o.JobFinished(job) })
}

func (d *Driver) fail(err error) {
	if d.job != nil && d.job.Status == JobRunning {
		d.job.Status = JobFailed
		d.job.Err = err
	}
}

// HoldWork reports whether the spooler should hold work of the given
// priority. While paused only positive-priority work runs, so a resume can
// get through.
func (d *Driver) HoldWork(priority int) bool {
	return priority <= 0 && d.paused.Load()
}

// Plot queues one primitive. Nothing is sent until PlotStart.
func (d *Driver) Plot(o *cutcode.CutObject) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.queue = append(d.queue, o)
}

// PlotGroup queues every object of g in order.
func (d *Driver) PlotGroup(g *cutcode.CutGroup) {
	for _, o := range g.Objects() {
		d.Plot(o)
	}
}

// Pending returns the number of queued primitives.
func (d *Driver) Pending() int {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return len(d.queue)
}

// Paused reports whether the driver is paused.
func (d *Driver) Paused() bool { return d.paused.Load() }

// InProgramMode reports whether the machine is in program mode.
func (d *Driver) InProgramMode() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.program
}

// LaserIsOn reports the laser state set by LaserOn and LaserOff.
func (d *Driver) LaserIsOn() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.laser
}

// Position returns the last commanded device position.
func (d *Driver) Position() (float64, float64) { return d.dev.LastXY() }

// swallow reports whether err is a transport failure that followed an abort
// request and can be ignored.
func (d *Driver) swallow(err error) bool {
	return err != nil && d.aborted.Load() && connection.IsDisconnect(err)
}

// MoveAbs moves to the physical position (x, y) in millimetres.
func (d *Driver) MoveAbs(x, y float64) error {
	cfg := d.config()
	if cfg.SwapXY {
		x, y = y, x
	}
	if err := d.dev.Sync(); err != nil && !d.swallow(err) {
		return err
	}
	dx, dy := cfg.Units.PhysicalToDevicePosition(x, y)
	if err := d.dev.SetXY(dx, dy); err != nil && !d.swallow(err) {
		return err
	}
	return nil
}

// MoveRel moves by (dx, dy) millimetres from the last commanded position.
func (d *Driver) MoveRel(dx, dy float64) error {
	cfg := d.config()
	if cfg.SwapXY {
		dx, dy = dy, dx
	}
	ux, uy := cfg.Units.PhysicalToDeviceLength(dx, dy)
	if err := d.dev.Sync(); err != nil && !d.swallow(err) {
		return err
	}
	lx, ly := d.dev.LastXY()
	if err := d.dev.SetXY(lx+ux, ly+uy); err != nil && !d.swallow(err) {
		return err
	}
	return nil
}

// MoveAbsText is MoveAbs with lengths such as "10mm" or "0.5in".
func (d *Driver) MoveAbsText(x, y string) error {
	lx, err := units.ParseLength(x)
	if err != nil {
		return err
	}
	ly, err := units.ParseLength(y)
	if err != nil {
		return err
	}
	return d.MoveAbs(lx.MM(), ly.MM())
}

// Home returns to the origin.
func (d *Driver) Home() error {
	if err := d.dev.Sync(); err != nil {
		return err
	}
	if err := d.dev.Home(); err != nil {
		return err
	}
	return d.dev.Sync()
}

// PhysicalHome runs the homing cycle against the end stops.
func (d *Driver) PhysicalHome() error {
	return d.Home()
}

// Origin moves to physical (0, 0).
func (d *Driver) Origin() error {
	return d.MoveAbsText("0", "0")
}

// RapidMode switches to fast positioning.
func (d *Driver) RapidMode() error {
	if err := d.dev.RapidMode(); err != nil {
		return err
	}
	d.setProgram(false)
	return nil
}

// ProgramMode switches to controlled-speed cutting.
func (d *Driver) ProgramMode() error {
	if err := d.dev.ProgramMode(); err != nil {
		return err
	}
	d.setProgram(true)
	return nil
}

func (d *Driver) setProgram(on bool) {
	d.stateMu.Lock()
	d.program = on
	d.stateMu.Unlock()
}

// Pause toggles the paused state. Pausing while paused resumes.
func (d *Driver) Pause() error {
	if d.paused.Load() {
		return d.Resume()
	}
	d.paused.Store(true)
	return d.dev.Pause()
}

// Resume clears the paused state.
func (d *Driver) Resume() error {
	d.paused.Store(false)
	return d.dev.Resume()
}

// Abort resets the device at once, discarding everything already handed to
// it, and asks the running plot loop to stop at its next sample. The loop
// resets the device again and returns to rapid mode.
func (d *Driver) Abort() error {
	d.aborted.Store(true)
	d.aborting.Store(true)
	return d.dev.Abort()
}

// Reset aborts the device immediately. The paused state is kept.
func (d *Driver) Reset() error {
	d.aborted.Store(true)
	return d.dev.Abort()
}

// WaitFinished blocks until the device has run every issued command. A
// failure marks the running job failed.
func (d *Driver) WaitFinished() error {
	err := d.dev.Sync()
	if err == nil || d.swallow(err) {
		return nil
	}
	d.fail(err)
	return err
}

// Dwell fires the laser in place for ms milliseconds.
func (d *Driver) Dwell(ms float64) error {
	return d.dev.Dwell(millis(ms))
}

// Wait idles the machine for ms milliseconds.
func (d *Driver) Wait(ms float64) error {
	return d.dev.Wait(millis(ms))
}

// Pulse fires a single laser pulse of ms milliseconds.
func (d *Driver) Pulse(ms float64) error {
	return d.dev.Pulse(millis(ms))
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// LaserOn starts firing in place.
func (d *Driver) LaserOn() error {
	if err := d.dev.LaserOn(); err != nil {
		return err
	}
	d.setLaser(true)
	return nil
}

// LaserOff stops firing.
func (d *Driver) LaserOff() error {
	if err := d.dev.LaserOff(); err != nil {
		return err
	}
	d.setLaser(false)
	return nil
}

func (d *Driver) setLaser(on bool) {
	d.stateMu.Lock()
	d.laser = on
	d.stateMu.Unlock()
}

// Function runs f in spool order.
func (d *Driver) Function(f func()) {
	f()
}

// Signal forwards a named notification.
func (d *Driver) Signal(name string, args ...any) {
	if sig := d.config().Signal; sig != nil {
		sig(name, args...)
		return
	}
	monitoring.Logf("signal %s %v", name, args)
}

// Console runs an operator command in spool order. "pulse <ms>", "dwell
// <ms>" and "wait <ms>" are handled here; anything else goes to the
// configured console. A malformed number is reported and ignored.
func (d *Driver) Console(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 2 {
		var op func(float64) error
		switch fields[0] {
		case "pulse":
			op = d.Pulse
		case "dwell":
			op = d.Dwell
		case "wait":
			op = d.Wait
		}
		if op != nil {
			ms, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				d.console.Printf("%s: invalid duration %q", fields[0], fields[1])
				return nil
			}
			return op(ms)
		}
	}
	if c := d.config().Console; c != nil {
		return c(command)
	}
	d.console.Print(command)
	return nil
}

// Beep asks the console to beep.
func (d *Driver) Beep() error {
	return d.Console("beep")
}

// Set changes a configuration value by name. Unknown keys are an error; a
// value that does not parse is ignored and the prior value kept.
func (d *Driver) Set(key, value string) error {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	switch key {
	case "interpolate":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			d.cfg.Interpolate = n
		}
	case "power", "default_power":
		if p, err := strconv.ParseFloat(value, 64); err == nil && p > 0 {
			d.cfg.DefaultPower = p
		}
	case "swap_xy":
		if b, err := strconv.ParseBool(value); err == nil {
			d.cfg.SwapXY = b
		}
	default:
		return fmt.Errorf("unknown driver setting %q", key)
	}
	return nil
}

// Status describes the driver state for operators.
func (d *Driver) Status() string {
	d.stateMu.Lock()
	program, laser, queued := d.program, d.laser, len(d.queue)
	d.stateMu.Unlock()

	mode := "rapid"
	if program {
		mode = "program"
	}
	x, y := d.dev.LastXY()
	s := fmt.Sprintf("%s mode, laser %s, at (%.0f, %.0f)", mode, onOff(laser), x, y)
	if d.paused.Load() {
		s += ", paused"
	}
	if queued > 0 {
		s += fmt.Sprintf(", %d queued", queued)
	}
	return s
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
