// Package plotplanner groups raw plot samples into plot cuts sized for
// efficient transmission.
//
// Consecutive samples that continue in the same direction at the same
// intensity are merged into one step, and the resulting steps are cut into
// batches of at most MaxBatch samples. Each batch becomes one KindPlot cut
// object for the driver.
package plotplanner

import (
	"iter"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/banshee-data/lasercut/internal/cutcode"
)

// DefaultMaxBatch bounds the number of samples in one plot cut.
const DefaultMaxBatch = 256

const tolerance = 1e-9

// Config configures a Planner.
type Config struct {
	// MaxBatch is the largest number of samples per plot cut.
	MaxBatch int
	// Settings is attached to every emitted cut.
	Settings *cutcode.Settings
	// NoMerge disables collinear step merging; every sample is kept.
	NoMerge bool
}

// Planner accumulates samples and emits plot cuts.
type Planner struct {
	cfg     Config
	pending []cutcode.PlotSample
	ready   []cutcode.CutObject
}

// New returns a planner.
func New(cfg Config) *Planner {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	return &Planner{cfg: cfg}
}

// Push adds one raw sample at device position (x, y) with intensity on.
// Intensity is clamped to [0, 1].
func (p *Planner) Push(x, y, on float64) {
	on = clamp(on)
	s := cutcode.PlotSample{X: x, Y: y, On: on}
	if n := len(p.pending); n > 0 {
		last := p.pending[n-1]
		if last.X == x && last.Y == y {
			// Same position: the latest intensity wins.
			p.pending[n-1].On = on
			return
		}
		if !p.cfg.NoMerge && n >= 2 && p.extends(p.pending[n-2], last, s) {
			p.pending[n-1] = s
			return
		}
	}
	p.pending = append(p.pending, s)
	if len(p.pending) >= p.cfg.MaxBatch {
		p.cut()
	}
}

// extends reports whether c continues the straight step a->b at b's intensity.
func (p *Planner) extends(a, b, c cutcode.PlotSample) bool {
	if !scalar.EqualWithinAbs(a.On, b.On, tolerance) || !scalar.EqualWithinAbs(b.On, c.On, tolerance) {
		return false
	}
	abx, aby := b.X-a.X, b.Y-a.Y
	bcx, bcy := c.X-b.X, c.Y-b.Y
	cross := abx*bcy - aby*bcx
	dot := abx*bcx + aby*bcy
	return scalar.EqualWithinAbs(cross, 0, tolerance) && dot > 0
}

func (p *Planner) cut() {
	if len(p.pending) == 0 {
		return
	}
	batch := make([]cutcode.PlotSample, len(p.pending))
	copy(batch, p.pending)
	p.ready = append(p.ready, cutcode.NewPlot(batch, p.cfg.Settings))
	// The next batch starts where this one ended so the head does not
	// travel between batches.
	last := p.pending[len(p.pending)-1]
	p.pending = p.pending[:0]
	p.pending = append(p.pending, cutcode.PlotSample{X: last.X, Y: last.Y, On: 0})
}

// Ready drains the cuts completed so far.
func (p *Planner) Ready() []cutcode.CutObject {
	out := p.ready
	p.ready = nil
	return out
}

// Flush completes the pending batch and drains all cuts.
func (p *Planner) Flush() []cutcode.CutObject {
	if len(p.pending) > 1 || (len(p.pending) == 1 && p.pending[0].On > 0) {
		p.cut()
	}
	p.pending = p.pending[:0]
	return p.Ready()
}

// Plan runs samples through a fresh planner and yields the resulting cuts.
func Plan(cfg Config, samples iter.Seq[cutcode.PlotSample]) iter.Seq[cutcode.CutObject] {
	return func(yield func(cutcode.CutObject) bool) {
		p := New(cfg)
		for s := range samples {
			p.Push(s.X, s.Y, s.On)
			for _, c := range p.Ready() {
				if !yield(c) {
					return
				}
			}
		}
		for _, c := range p.Flush() {
			if !yield(c) {
				return
			}
		}
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
