package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/lasercut/internal/connection"
	"github.com/banshee-data/lasercut/internal/controller"
	"github.com/banshee-data/lasercut/internal/driver"
	"github.com/banshee-data/lasercut/internal/grbl"
	"github.com/banshee-data/lasercut/internal/operation"
	"github.com/banshee-data/lasercut/internal/units"
)

// DefaultConfigPath is the device configuration read when --config is not
// given and the file exists.
const DefaultConfigPath = "config/device.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// DeviceConfig describes one laser and how to reach it. Fields left out of
// a config file fall back to the Get* defaults, so partial files are safe.
type DeviceConfig struct {
	// Connection
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty" yaml:"parity,omitempty"`
	Mock     *bool   `json:"mock,omitempty" yaml:"mock,omitempty"`

	// Controller
	BufferSize       *int    `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	BufferMode       *string `json:"buffer_mode,omitempty" yaml:"buffer_mode,omitempty"`
	HandshakeTimeout *string `json:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty"` // duration string like "5s"

	// Driver
	Interpolate  *int     `json:"interpolate,omitempty" yaml:"interpolate,omitempty"`
	SwapXY       *bool    `json:"swap_xy,omitempty" yaml:"swap_xy,omitempty"`
	DefaultPower *float64 `json:"default_power,omitempty" yaml:"default_power,omitempty"`

	// Bed geometry
	FlipX       *bool    `json:"flip_x,omitempty" yaml:"flip_x,omitempty"`
	FlipY       *bool    `json:"flip_y,omitempty" yaml:"flip_y,omitempty"`
	BedWidthMM  *float64 `json:"bed_width_mm,omitempty" yaml:"bed_width_mm,omitempty"`
	BedHeightMM *float64 `json:"bed_height_mm,omitempty" yaml:"bed_height_mm,omitempty"`
	UnitsPerMM  *float64 `json:"units_per_mm,omitempty" yaml:"units_per_mm,omitempty"`

	// GRBL
	MaxSpindle *float64 `json:"max_spindle,omitempty" yaml:"max_spindle,omitempty"`
	RapidSpeed *float64 `json:"rapid_speed,omitempty" yaml:"rapid_speed,omitempty"`

	ClosedDistance *float64 `json:"closed_distance,omitempty" yaml:"closed_distance,omitempty"`

	// Service
	DBPath *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	// JobsDir holds job files that /debug/job-api can run by name.
	JobsDir *string `json:"jobs_dir,omitempty" yaml:"jobs_dir,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyDeviceConfig returns a DeviceConfig with every field unset.
func EmptyDeviceConfig() *DeviceConfig {
	return &DeviceConfig{}
}

// LoadDeviceConfig reads a .json, .yaml or .yml file.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyDeviceConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *DeviceConfig) Validate() error {
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	if c.BufferSize != nil && *c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", *c.BufferSize)
	}
	if c.BufferMode != nil {
		if _, err := controller.ParseMode(*c.BufferMode); err != nil {
			return err
		}
	}
	if c.HandshakeTimeout != nil && *c.HandshakeTimeout != "" {
		d, err := time.ParseDuration(*c.HandshakeTimeout)
		if err != nil {
			return fmt.Errorf("invalid handshake_timeout '%s': %w", *c.HandshakeTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("handshake_timeout must be non-negative, got %s", d)
		}
	}
	if c.Interpolate != nil && *c.Interpolate <= 0 {
		return fmt.Errorf("interpolate must be positive, got %d", *c.Interpolate)
	}
	if c.DefaultPower != nil && (*c.DefaultPower < 0 || *c.DefaultPower > 1000) {
		return fmt.Errorf("default_power must be between 0 and 1000, got %f", *c.DefaultPower)
	}
	if c.UnitsPerMM != nil && *c.UnitsPerMM <= 0 {
		return fmt.Errorf("units_per_mm must be positive, got %f", *c.UnitsPerMM)
	}
	if (c.GetFlipX() || c.GetFlipY()) && (c.GetBedWidthMM() <= 0 || c.GetBedHeightMM() <= 0) {
		return fmt.Errorf("flip_x and flip_y require bed_width_mm and bed_height_mm")
	}
	if c.MaxSpindle != nil && *c.MaxSpindle <= 0 {
		return fmt.Errorf("max_spindle must be positive, got %f", *c.MaxSpindle)
	}
	if c.ClosedDistance != nil && *c.ClosedDistance < 0 {
		return fmt.Errorf("closed_distance must be non-negative, got %f", *c.ClosedDistance)
	}
	return nil
}

// GetPort returns the serial port path, empty if unset.
func (c *DeviceConfig) GetPort() string {
	if c.Port == nil {
		return ""
	}
	return *c.Port
}

// GetMock reports whether to drive the simulated board.
func (c *DeviceConfig) GetMock() bool {
	return c.Mock != nil && *c.Mock
}

func (c *DeviceConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return controller.DefaultBufferSize
	}
	return *c.BufferSize
}

func (c *DeviceConfig) GetBufferMode() controller.Mode {
	if c.BufferMode == nil {
		return controller.ModeBuffered
	}
	m, err := controller.ParseMode(*c.BufferMode)
	if err != nil {
		return controller.ModeBuffered
	}
	return m
}

// GetHandshakeTimeout parses HandshakeTimeout, defaulting to 5s.
func (c *DeviceConfig) GetHandshakeTimeout() time.Duration {
	if c.HandshakeTimeout == nil || *c.HandshakeTimeout == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.HandshakeTimeout)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

func (c *DeviceConfig) GetInterpolate() int {
	if c.Interpolate == nil {
		return driver.DefaultInterpolate
	}
	return *c.Interpolate
}

func (c *DeviceConfig) GetSwapXY() bool {
	return c.SwapXY != nil && *c.SwapXY
}

func (c *DeviceConfig) GetDefaultPower() float64 {
	if c.DefaultPower == nil {
		return driver.DefaultPower
	}
	return *c.DefaultPower
}

func (c *DeviceConfig) GetFlipX() bool { return c.FlipX != nil && *c.FlipX }
func (c *DeviceConfig) GetFlipY() bool { return c.FlipY != nil && *c.FlipY }

func (c *DeviceConfig) GetBedWidthMM() float64 {
	if c.BedWidthMM == nil {
		return 0
	}
	return *c.BedWidthMM
}

func (c *DeviceConfig) GetBedHeightMM() float64 {
	if c.BedHeightMM == nil {
		return 0
	}
	return *c.BedHeightMM
}

// GetUnitsPerMM returns the device resolution; the default is mils.
func (c *DeviceConfig) GetUnitsPerMM() float64 {
	if c.UnitsPerMM == nil {
		return units.DefaultUnitsPerMM
	}
	return *c.UnitsPerMM
}

func (c *DeviceConfig) GetMaxSpindle() float64 {
	if c.MaxSpindle == nil {
		return 1000 // default, GRBL $30
	}
	return *c.MaxSpindle
}

func (c *DeviceConfig) GetRapidSpeed() float64 {
	if c.RapidSpeed == nil {
		return 3000 // default, mm/min
	}
	return *c.RapidSpeed
}

func (c *DeviceConfig) GetClosedDistance() float64 {
	if c.ClosedDistance == nil {
		return operation.DefaultClosedDistance
	}
	return *c.ClosedDistance
}

func (c *DeviceConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "lasercut.db"
	}
	return *c.DBPath
}

func (c *DeviceConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return "localhost:8090"
	}
	return *c.Listen
}

func (c *DeviceConfig) GetJobsDir() string {
	if c.JobsDir == nil || *c.JobsDir == "" {
		return "jobs"
	}
	return *c.JobsDir
}

// PortOptions returns the serial line settings. Unset fields are left zero
// for connection.PortOptions.Normalize to fill.
func (c *DeviceConfig) PortOptions() connection.PortOptions {
	var opts connection.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// Converter returns the physical to device coordinate mapping.
func (c *DeviceConfig) Converter() units.Converter {
	return units.Converter{
		UnitsPerMM:  c.GetUnitsPerMM(),
		FlipX:       c.GetFlipX(),
		FlipY:       c.GetFlipY(),
		BedWidthMM:  c.GetBedWidthMM(),
		BedHeightMM: c.GetBedHeightMM(),
	}
}

func (c *DeviceConfig) ControllerOptions() controller.Options {
	return controller.Options{
		BufferSize:       c.GetBufferSize(),
		Mode:             c.GetBufferMode(),
		HandshakeTimeout: c.GetHandshakeTimeout(),
	}
}

func (c *DeviceConfig) DriverConfig() driver.Config {
	return driver.Config{
		Interpolate:  c.GetInterpolate(),
		SwapXY:       c.GetSwapXY(),
		DefaultPower: c.GetDefaultPower(),
		Units:        c.Converter(),
	}
}

func (c *DeviceConfig) EncoderConfig() grbl.Config {
	return grbl.Config{
		MaxSpindle:   c.GetMaxSpindle(),
		RapidSpeed:   c.GetRapidSpeed(),
		DefaultPower: c.GetDefaultPower(),
		Units:        c.Converter(),
	}
}

// Override applies command-line values on top of the file. Empty strings
// leave the field alone.
func (c *DeviceConfig) Override(port, listen, dbPath string, mock, sync bool) {
	if port != "" {
		c.Port = ptrString(port)
	}
	if listen != "" {
		c.Listen = ptrString(listen)
	}
	if dbPath != "" {
		c.DBPath = ptrString(dbPath)
	}
	if mock {
		c.Mock = ptrBool(true)
	}
	if sync {
		c.BufferMode = ptrString(controller.ModeSync.String())
	}
}
