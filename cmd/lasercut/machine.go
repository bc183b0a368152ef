package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lasercut/internal/config"
	"github.com/banshee-data/lasercut/internal/connection"
	"github.com/banshee-data/lasercut/internal/controller"
	"github.com/banshee-data/lasercut/internal/cutcode"
	"github.com/banshee-data/lasercut/internal/db"
	"github.com/banshee-data/lasercut/internal/driver"
	"github.com/banshee-data/lasercut/internal/grbl"
	"github.com/banshee-data/lasercut/internal/jobfile"
	"github.com/banshee-data/lasercut/internal/monitoring"
)

// machine is one connected laser: transport, controller, encoder and driver.
type machine struct {
	cfg  *config.DeviceConfig
	conn connection.Connection
	ctl  *controller.Controller
	enc  *grbl.Encoder
	drv  *driver.Driver
	// jobs and helpers serialise work onto the driver, which is not safe
	// for concurrent callers.
	jobs    chan jobRequest
	helpers chan helperRequest
}

type jobRequest struct {
	job    *driver.Job
	groups []*cutcode.CutGroup
	done   chan error
}

// helperRequest is a short interactive action such as homing. Helpers run
// while jobs are held by a pause.
type helperRequest struct {
	action func() error
	done   chan error
}

func newMachine(cfg *config.DeviceConfig) (*machine, error) {
	var conn connection.Connection
	if cfg.GetMock() {
		conn = connection.NewMockConnection()
	} else {
		if cfg.GetPort() == "" {
			return nil, errors.New("no serial port configured: set port in the config file, pass --port, or use --mock")
		}
		conn = connection.NewSerialConnection(cfg.GetPort(), cfg.PortOptions(), nil)
	}

	ctl := controller.New(conn, cfg.ControllerOptions())
	enc := grbl.NewEncoder(ctl, cfg.EncoderConfig())

	dcfg := cfg.DriverConfig()
	signals := monitoring.Open("signal")
	dcfg.Console = func(command string) error {
		if command == "beep" {
			signals.Print("beep")
			return nil
		}
		return ctl.Write(command + "\n")
	}
	dcfg.Signal = func(name string, args ...any) {
		signals.Printf("%s %v", name, args)
	}

	return &machine{
		cfg:     cfg,
		conn:    conn,
		ctl:     ctl,
		enc:     enc,
		drv:     driver.New(enc, dcfg),
		jobs:    make(chan jobRequest),
		helpers: make(chan helperRequest),
	}, nil
}

// start connects to the board and optionally sends the default settings.
func (m *machine) start(writeSettings bool) error {
	if err := m.ctl.Start(); err != nil {
		return err
	}
	if writeSettings {
		if err := m.enc.WriteSettings(grbl.DefaultSettings); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) stop() {
	if err := m.ctl.Stop(); err != nil && !errors.Is(err, controller.ErrStopped) {
		monitoring.Logf("controller stopped: %v", err)
	}
}

// work runs queued jobs and helpers one at a time until ctx is done. A job
// waits while the driver is paused; helpers do not.
func (m *machine) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-m.helpers:
			req.done <- req.action()
		case req := <-m.jobs:
			if err := m.hold(ctx, req.job); err != nil {
				req.done <- err
				return nil
			}
			req.done <- driver.RunJob(m.drv, req.job, req.groups)
		}
	}
}

// hold blocks while the driver holds normal work, running helpers
// meanwhile.
func (m *machine) hold(ctx context.Context, job *driver.Job) error {
	if !m.drv.HoldWork(0) {
		return nil
	}
	monitoring.Logf("job %s held while paused", job.Name)
	ticker := time.NewTicker(driver.PausePoll)
	defer ticker.Stop()
	for m.drv.HoldWork(0) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.helpers:
			req.done <- req.action()
		case <-ticker.C:
		}
	}
	return nil
}

// do runs action on the worker and waits for it.
func (m *machine) do(ctx context.Context, action func() error) error {
	req := helperRequest{action: action, done: make(chan error, 1)}
	select {
	case m.helpers <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit hands a job to the worker without waiting for it to run.
func (m *machine) submit(ctx context.Context, f *jobfile.File) (*driver.Job, <-chan error, error) {
	groups := f.Groups(m.cfg.Converter(), m.cfg.GetClosedDistance())
	req := jobRequest{job: driver.NewJob(f.Name), groups: groups, done: make(chan error, 1)}
	select {
	case m.jobs <- req:
		return req.job, req.done, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// runJob plots f on the calling goroutine and waits for the board to
// finish. Cancelling ctx resets the board and unwinds the job.
func (m *machine) runJob(ctx context.Context, f *jobfile.File) (*driver.Job, error) {
	job := driver.NewJob(f.Name)
	groups := f.Groups(m.cfg.Converter(), m.cfg.GetClosedDistance())

	stopAbort := context.AfterFunc(ctx, func() {
		if err := m.drv.Abort(); err != nil {
			monitoring.Logf("abort on cancel: %v", err)
		}
	})
	defer stopAbort()

	if err := driver.RunJob(m.drv, job, groups); err != nil {
		return job, fmt.Errorf("job %s: %w", job.Name, err)
	}
	return job, nil
}

// record attaches job history to the machine.
func (m *machine) record(ctx context.Context, database *db.DB) (*db.Recorder, func() error) {
	rec := db.NewRecorder(database, nil)
	m.drv.Observe(rec)
	id, events := m.ctl.Subscribe()
	return rec, func() error {
		defer m.ctl.Unsubscribe(id)
		return rec.Run(ctx, events)
	}
}
