// Package operation converts job operations (vector geometry and utility
// steps) into cut groups ready for the driver.
package operation

import (
	"image"
	"iter"

	"github.com/gogpu/gg"

	"github.com/banshee-data/lasercut/internal/cutcode"
)

// Operation type tags recorded on each produced group.
const (
	TypeEngrave = "op engrave"
	TypeCut     = "op cut"
	TypeHome    = "util home"
)

// DefaultClosedDistance is the endpoint gap, in device units, under which a
// subpath is treated as closed.
const DefaultClosedDistance = 15.0

// Source is anything that can be expanded into cut groups.
type Source interface {
	CutGroups(closedDistance float64) iter.Seq[*cutcode.CutGroup]
}

// Node is a geometry child of an Operation.
type Node interface {
	// AsPath returns the node's geometry in absolute device coordinates.
	// Circular arcs are already approximated by cubic segments.
	AsPath() *gg.Path
	// StrokeColor is the colour recorded on the group's settings.
	StrokeColor() string
}

// PathNode is a vector path with an optional transform.
type PathNode struct {
	Path      *gg.Path
	Transform *gg.Matrix
	Stroke    string
}

func (n PathNode) AsPath() *gg.Path {
	if n.Path == nil {
		return gg.NewPath()
	}
	if n.Transform == nil {
		return n.Path
	}
	return n.Path.Transform(*n.Transform)
}

func (n PathNode) StrokeColor() string { return n.Stroke }

// RectNode is an axis-aligned rectangle with optional corner radius.
type RectNode struct {
	X, Y, W, H float64
	Radius     float64
	Stroke     string
}

func (n RectNode) AsPath() *gg.Path {
	p := gg.NewPath()
	if n.Radius > 0 {
		p.RoundedRectangle(n.X, n.Y, n.W, n.H, n.Radius)
	} else {
		p.Rectangle(n.X, n.Y, n.W, n.H)
	}
	return p
}

func (n RectNode) StrokeColor() string { return n.Stroke }

// EllipseNode is an ellipse centred on (CX, CY).
type EllipseNode struct {
	CX, CY, RX, RY float64
	Stroke         string
}

func (n EllipseNode) AsPath() *gg.Path {
	p := gg.NewPath()
	p.Ellipse(n.CX, n.CY, n.RX, n.RY)
	return p
}

func (n EllipseNode) StrokeColor() string { return n.Stroke }

// ImageNode is a raster image placed on the bed. A vector operation cuts
// its bounding rectangle.
type ImageNode struct {
	Image     image.Image
	Transform *gg.Matrix
}

func (n ImageNode) AsPath() *gg.Path {
	p := gg.NewPath()
	if n.Image == nil {
		return p
	}
	b := n.Image.Bounds()
	corners := []gg.Point{
		gg.Pt(float64(b.Min.X), float64(b.Min.Y)),
		gg.Pt(float64(b.Min.X), float64(b.Max.Y)),
		gg.Pt(float64(b.Max.X), float64(b.Max.Y)),
		gg.Pt(float64(b.Max.X), float64(b.Min.Y)),
	}
	if n.Transform != nil {
		for i, c := range corners {
			corners[i] = n.Transform.TransformPoint(c)
		}
	}
	box := gg.NewRect(corners[0], corners[0])
	for _, c := range corners[1:] {
		box = box.Union(gg.NewRect(c, c))
	}
	p.MoveTo(box.Min.X, box.Min.Y)
	p.LineTo(box.Min.X, box.Max.Y)
	p.LineTo(box.Max.X, box.Max.Y)
	p.LineTo(box.Max.X, box.Min.Y)
	p.Close()
	return p
}

func (n ImageNode) StrokeColor() string { return "" }

// Operation is a vector operation (engrave or cut) over geometry children.
type Operation struct {
	Type     string
	Settings *cutcode.Settings
	Passes   int
	Children []Node
}

// HomeOperation returns the head to a fixed position.
type HomeOperation struct {
	X, Y float64
}

// CutGroups yields a single group holding one Home cut.
func (h HomeOperation) CutGroups(float64) iter.Seq[*cutcode.CutGroup] {
	return func(yield func(*cutcode.CutGroup) bool) {
		g := cutcode.NewGroup(false, nil, TypeHome)
		g.Append(cutcode.NewHome(gg.Pt(h.X, h.Y)))
		g.Link()
		yield(g)
	}
}
