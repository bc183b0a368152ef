package driver

import (
	"time"

	"github.com/banshee-data/lasercut/internal/cutcode"
)

// SettingsPower asks Mark to use the power in the cut's settings.
const SettingsPower = -1

// Device turns driver motion into device commands. All coordinates are
// device units. Implementations are used from one goroutine, except Abort,
// Pause and Resume which may be called concurrently.
type Device interface {
	// ProgramMode selects controlled-speed cutting.
	ProgramMode() error
	// RapidMode selects fast positioning with the laser off.
	RapidMode() error
	// Sync blocks until every previously issued command has completed.
	Sync() error
	// LastXY returns the last position the device was commanded to.
	LastXY() (x, y float64)
	// Goto moves to (x, y) with the laser off.
	Goto(x, y float64) error
	// SetXY moves to an absolute position outside of a job.
	SetXY(x, y float64) error
	// Mark moves to (x, y) with the laser firing. power is a percentage of
	// full power, or SettingsPower.
	Mark(x, y float64, s *cutcode.Settings, power float64) error
	Dwell(d time.Duration) error
	Wait(d time.Duration) error
	Pulse(d time.Duration) error
	Home() error
	LaserOn() error
	LaserOff() error
	// Abort stops the device immediately and discards queued work.
	Abort() error
	Pause() error
	Resume() error
}
