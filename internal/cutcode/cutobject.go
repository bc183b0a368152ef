package cutcode

import (
	"image"
	"iter"
	"time"

	"github.com/gogpu/gg"
)

// Kind identifies the variant held by a CutObject.
type Kind int

const (
	KindLine Kind = iota
	KindQuad
	KindCubic
	KindDwell
	KindWait
	KindHome
	KindGoto
	KindPlot
	KindRaster
	KindInput
	KindOutput
)

var kindNames = [...]string{
	KindLine:   "line",
	KindQuad:   "quad",
	KindCubic:  "cubic",
	KindDwell:  "dwell",
	KindWait:   "wait",
	KindHome:   "home",
	KindGoto:   "goto",
	KindPlot:   "plot",
	KindRaster: "raster",
	KindInput:  "input",
	KindOutput: "output",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// NoLink marks an absent Next or Previous link.
const NoLink = -1

// PlotSample is one step of a plot primitive: a device position and an
// intensity weight in [0, 1].
type PlotSample struct {
	X, Y float64
	On   float64
}

// Raster is a greyscale image burned line by line. Darker pixels get more
// power. Step is the device-unit distance between pixels.
type Raster struct {
	Image         *image.Gray
	Origin        gg.Point
	Step          float64
	Bidirectional bool
}

// Samples walks the image row by row and yields one sample per pixel, with
// intensity 1 for black and 0 for white. Bidirectional rasters reverse every
// other row.
func (r *Raster) Samples() iter.Seq[PlotSample] {
	return func(yield func(PlotSample) bool) {
		if r == nil || r.Image == nil {
			return
		}
		b := r.Image.Bounds()
		for row := 0; row < b.Dy(); row++ {
			y := r.Origin.Y + float64(row)*r.Step
			reverse := r.Bidirectional && row%2 == 1
			for i := 0; i < b.Dx(); i++ {
				col := i
				if reverse {
					col = b.Dx() - 1 - i
				}
				gray := r.Image.GrayAt(b.Min.X+col, b.Min.Y+row).Y
				s := PlotSample{
					X:  r.Origin.X + float64(col)*r.Step,
					Y:  y,
					On: 1 - float64(gray)/255,
				}
				if !yield(s) {
					return
				}
			}
		}
	}
}

// CutObject is a single device-level primitive. Which fields are meaningful
// depends on Kind:
//
//	Line           Start, End
//	Quad           Start, Control1, End
//	Cubic          Start, Control1, Control2, End
//	Dwell          Start (position), Duration
//	Wait           Duration
//	Home, Goto     End (target)
//	Plot           Start, Plot
//	Raster         Raster
//	Input, Output  Mask, Value
type CutObject struct {
	Kind Kind

	Start    gg.Point
	Control1 gg.Point
	Control2 gg.Point
	End      gg.Point

	Settings *Settings
	Passes   int

	Closed bool
	First  bool
	Last   bool

	// Next and Previous index siblings in the owning CutGroup.
	Next     int
	Previous int

	Duration time.Duration
	Plot     []PlotSample
	Raster   *Raster
	Mask     uint32
	Value    uint32
}

func newObject(k Kind, s *Settings) CutObject {
	return CutObject{Kind: k, Settings: s, Passes: 1, Next: NoLink, Previous: NoLink}
}

// NewLine returns a straight cut from start to end.
func NewLine(start, end gg.Point, s *Settings) CutObject {
	o := newObject(KindLine, s)
	o.Start, o.End = start, end
	return o
}

// NewQuad returns a quadratic Bezier cut.
func NewQuad(start, control, end gg.Point, s *Settings) CutObject {
	o := newObject(KindQuad, s)
	o.Start, o.Control1, o.End = start, control, end
	return o
}

// NewCubic returns a cubic Bezier cut.
func NewCubic(start, c1, c2, end gg.Point, s *Settings) CutObject {
	o := newObject(KindCubic, s)
	o.Start, o.Control1, o.Control2, o.End = start, c1, c2, end
	return o
}

// NewDwell fires the laser in place at pos for d.
func NewDwell(pos gg.Point, d time.Duration, s *Settings) CutObject {
	o := newObject(KindDwell, s)
	o.Start, o.End, o.Duration = pos, pos, d
	return o
}

// NewWait holds the machine idle for d.
func NewWait(d time.Duration) CutObject {
	o := newObject(KindWait, nil)
	o.Duration = d
	return o
}

// NewHome returns the head to pos, normally the origin.
func NewHome(pos gg.Point) CutObject {
	o := newObject(KindHome, nil)
	o.End = pos
	return o
}

// NewGoto moves the head to pos with the laser off.
func NewGoto(pos gg.Point) CutObject {
	o := newObject(KindGoto, nil)
	o.End = pos
	return o
}

// NewPlot returns a plot primitive covering samples.
func NewPlot(samples []PlotSample, s *Settings) CutObject {
	o := newObject(KindPlot, s)
	o.Plot = samples
	if len(samples) > 0 {
		o.Start = gg.Pt(samples[0].X, samples[0].Y)
		last := samples[len(samples)-1]
		o.End = gg.Pt(last.X, last.Y)
	}
	return o
}

// NewRaster returns a raster primitive.
func NewRaster(r *Raster, s *Settings) CutObject {
	o := newObject(KindRaster, s)
	o.Raster = r
	if r != nil {
		o.Start = r.Origin
		o.End = r.Origin
	}
	return o
}

// NewInput waits for the masked input bits to match value.
func NewInput(mask, value uint32) CutObject {
	o := newObject(KindInput, nil)
	o.Mask, o.Value = mask, value
	return o
}

// NewOutput sets the masked output bits to value.
func NewOutput(mask, value uint32) CutObject {
	o := newObject(KindOutput, nil)
	o.Mask, o.Value = mask, value
	return o
}

// IsCurve reports whether the object is a Bezier segment.
func (o *CutObject) IsCurve() bool {
	return o.Kind == KindQuad || o.Kind == KindCubic
}

// Point evaluates the geometric primitive at parameter t in [0, 1]. For
// non-geometric kinds it returns End.
func (o *CutObject) Point(t float64) gg.Point {
	switch o.Kind {
	case KindLine:
		return gg.NewLine(o.Start, o.End).Eval(t)
	case KindQuad:
		return gg.NewQuadBez(o.Start, o.Control1, o.End).Eval(t)
	case KindCubic:
		return gg.NewCubicBez(o.Start, o.Control1, o.Control2, o.End).Eval(t)
	default:
		return o.End
	}
}

// Length is the straight-line span from start to end.
func (o *CutObject) Length() float64 {
	return o.Start.Distance(o.End)
}

// Bounds returns the bounding box of the primitive.
func (o *CutObject) Bounds() gg.Rect {
	switch o.Kind {
	case KindQuad:
		return gg.NewQuadBez(o.Start, o.Control1, o.End).BoundingBox()
	case KindCubic:
		return gg.NewCubicBez(o.Start, o.Control1, o.Control2, o.End).BoundingBox()
	case KindPlot:
		r := gg.NewRect(o.Start, o.End)
		for _, p := range o.Plot {
			r = r.Union(gg.NewRect(gg.Pt(p.X, p.Y), gg.Pt(p.X, p.Y)))
		}
		return r
	case KindRaster:
		if o.Raster == nil || o.Raster.Image == nil {
			return gg.NewRect(o.Start, o.Start)
		}
		b := o.Raster.Image.Bounds()
		w := float64(b.Dx()) * o.Raster.Step
		h := float64(b.Dy()) * o.Raster.Step
		return gg.NewRect(o.Raster.Origin, o.Raster.Origin.Add(gg.Pt(w, h)))
	default:
		return gg.NewRect(o.Start, o.End)
	}
}
