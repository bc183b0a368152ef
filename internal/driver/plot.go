package driver

import (
	"errors"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/lasercut/internal/cutcode"
	"github.com/banshee-data/lasercut/internal/plotplanner"
)

// PlotStart sends every queued primitive in order and returns to rapid
// mode. An abort request stops it at the next primitive or sample: the
// device is aborted, rapid mode restored and nil returned.
func (d *Driver) PlotStart() error {
	d.stateMu.Lock()
	queue := d.queue
	d.queue = nil
	d.stateMu.Unlock()
	cfg := d.config()

	for _, q := range queue {
		if err := d.ProgramMode(); err != nil {
			return d.stop(err)
		}
		if d.checkpoint() {
			return d.unwind()
		}
		var err error
		switch q.Kind {
		case cutcode.KindLine:
			if err = d.moveTo(q); err == nil {
				err = d.dev.Mark(q.End.X, q.End.Y, q.Settings, SettingsPower)
			}
		case cutcode.KindQuad, cutcode.KindCubic:
			err = d.plotCurve(q, cfg.Interpolate)
		case cutcode.KindPlot:
			err = d.plotSamples(q, cfg.DefaultPower)
		case cutcode.KindRaster:
			err = d.plotRaster(q, cfg.DefaultPower)
		case cutcode.KindDwell:
			err = d.dev.Dwell(q.Duration)
		case cutcode.KindWait:
			err = d.dev.Wait(q.Duration)
		case cutcode.KindHome, cutcode.KindGoto:
			err = d.dev.Goto(q.End.X, q.End.Y)
		case cutcode.KindInput, cutcode.KindOutput:
			// Signal passthrough is not wired to any device yet.
		}
		if errors.Is(err, errAborted) {
			return d.unwind()
		}
		if err != nil {
			return d.stop(err)
		}
	}
	return d.RapidMode()
}

var errAborted = errors.New("plot aborted")

// checkpoint runs between samples. It waits while paused and reports
// whether an abort was requested, consuming the request.
func (d *Driver) checkpoint() bool {
	clock := d.config().Clock
	for d.paused.Load() && !d.aborting.Load() {
		clock.Sleep(PausePoll)
	}
	return d.aborting.CompareAndSwap(true, false)
}

// unwind finishes an aborted plot. The second reset discards anything the
// loop wrote after Abort's. Transport errors are expected here and only
// logged.
func (d *Driver) unwind() error {
	d.aborted.Store(true)
	if err := d.dev.Abort(); err != nil {
		d.state.Printf("abort: %v", err)
	}
	if err := d.RapidMode(); err != nil {
		if !d.swallow(err) {
			return err
		}
		d.state.Printf("rapid mode after abort: %v", err)
	}
	return nil
}

// stop handles a failed plot. Failures after an abort are treated as the
// abort itself.
func (d *Driver) stop(err error) error {
	if d.swallow(err) {
		d.state.Printf("plot stopped after abort: %v", err)
		if err := d.RapidMode(); err != nil {
			d.state.Printf("rapid mode after abort: %v", err)
		}
		return nil
	}
	d.fail(err)
	return err
}

// moveTo positions the head at the start of q if it is not already there.
func (d *Driver) moveTo(q *cutcode.CutObject) error {
	x, y := d.dev.LastXY()
	if x == q.Start.X && y == q.Start.Y {
		return nil
	}
	return d.dev.Goto(q.Start.X, q.Start.Y)
}

// curveSteps returns n evenly spaced parameters ending at 1. The curve start
// is not sampled because the head is already there.
func curveSteps(n int) []float64 {
	if n <= 1 {
		return []float64{1}
	}
	return floats.Span(make([]float64, n), 1/float64(n), 1)
}

func (d *Driver) plotCurve(q *cutcode.CutObject, interpolate int) error {
	if err := d.moveTo(q); err != nil {
		return err
	}
	for _, t := range curveSteps(interpolate) {
		if d.checkpoint() {
			return errAborted
		}
		p := q.Point(t)
		if err := d.dev.Mark(p.X, p.Y, q.Settings, SettingsPower); err != nil {
			return err
		}
	}
	return nil
}

// plotSamples marks each sample at the plot's power scaled by the sample's
// intensity.
func (d *Driver) plotSamples(q *cutcode.CutObject, defaultPower float64) error {
	if err := d.moveTo(q); err != nil {
		return err
	}
	percent := q.Settings.PowerOr(defaultPower) / 10
	for _, s := range q.Plot {
		if d.checkpoint() {
			return errAborted
		}
		if err := d.dev.Mark(s.X, s.Y, q.Settings, percent*s.On); err != nil {
			return err
		}
	}
	return nil
}

// plotRaster expands a raster into plot cuts and marks them.
func (d *Driver) plotRaster(q *cutcode.CutObject, defaultPower float64) error {
	if q.Raster == nil {
		return nil
	}
	cfg := plotplanner.Config{Settings: q.Settings}
	for plot := range plotplanner.Plan(cfg, q.Raster.Samples()) {
		if err := d.plotSamples(&plot, defaultPower); err != nil {
			return err
		}
	}
	return nil
}
