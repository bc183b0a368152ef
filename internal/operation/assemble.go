package operation

import (
	"iter"

	"github.com/gogpu/gg"

	"github.com/banshee-data/lasercut/internal/cutcode"
)

// subpath is one MoveTo-delimited run of path elements.
type subpath struct {
	start    gg.Point
	elements []gg.PathElement
}

// splitSubpaths breaks a path at every MoveTo and after every Close.
func splitSubpaths(p *gg.Path) []subpath {
	var out []subpath
	var cur *subpath
	var pos gg.Point
	flush := func() {
		if cur != nil && len(cur.elements) > 0 {
			out = append(out, *cur)
		}
		cur = nil
	}
	for _, el := range p.Elements() {
		switch e := el.(type) {
		case gg.MoveTo:
			flush()
			pos = e.Point
			cur = &subpath{start: pos}
		case gg.Close:
			if cur == nil {
				continue
			}
			cur.elements = append(cur.elements, e)
			pos = cur.start
			flush()
		default:
			if cur == nil {
				cur = &subpath{start: pos}
			}
			cur.elements = append(cur.elements, el)
			switch s := el.(type) {
			case gg.LineTo:
				pos = s.Point
			case gg.QuadTo:
				pos = s.Point
			case gg.CubicTo:
				pos = s.Point
			}
		}
	}
	flush()
	return out
}

// end returns the current point after the last element of sp.
func (sp subpath) end() gg.Point {
	pos := sp.start
	for _, el := range sp.elements {
		switch e := el.(type) {
		case gg.LineTo:
			pos = e.Point
		case gg.QuadTo:
			pos = e.Point
		case gg.CubicTo:
			pos = e.Point
		case gg.Close:
			pos = sp.start
		}
	}
	return pos
}

func (sp subpath) closed(closedDistance float64) bool {
	if n := len(sp.elements); n > 0 {
		if _, ok := sp.elements[n-1].(gg.Close); ok {
			return true
		}
	}
	return sp.start.Distance(sp.end()) <= closedDistance
}

func (sp subpath) path() *gg.Path {
	p := gg.NewPath()
	p.MoveTo(sp.start.X, sp.start.Y)
	for _, el := range sp.elements {
		switch e := el.(type) {
		case gg.LineTo:
			p.LineTo(e.Point.X, e.Point.Y)
		case gg.QuadTo:
			p.QuadraticTo(e.Control.X, e.Control.Y, e.Point.X, e.Point.Y)
		case gg.CubicTo:
			p.CubicTo(e.Control1.X, e.Control1.Y, e.Control2.X, e.Control2.Y, e.Point.X, e.Point.Y)
		case gg.Close:
			p.Close()
		}
	}
	return p
}

// buildGroup maps the subpath's segments onto cut objects. Zero-length
// straight segments are dropped.
func buildGroup(sp subpath, closed bool, s *cutcode.Settings, passes int, opType string) *cutcode.CutGroup {
	g := cutcode.NewGroup(closed, s, opType)
	g.Passes = passes
	g.Path = sp.path()
	pos := sp.start
	for _, el := range sp.elements {
		var o cutcode.CutObject
		ok := true
		switch e := el.(type) {
		case gg.LineTo:
			ok = pos != e.Point
			o = cutcode.NewLine(pos, e.Point, s)
			pos = e.Point
		case gg.Close:
			ok = pos != sp.start
			o = cutcode.NewLine(pos, sp.start, s)
			pos = sp.start
		case gg.QuadTo:
			o = cutcode.NewQuad(pos, e.Control, e.Point, s)
			pos = e.Point
		case gg.CubicTo:
			o = cutcode.NewCubic(pos, e.Control1, e.Control2, e.Point, s)
			pos = e.Point
		default:
			ok = false
		}
		if !ok {
			continue
		}
		o.Passes = passes
		g.Append(o)
	}
	g.Link()
	return g
}

// CutGroups yields one group per non-empty subpath of every child, in child
// order. Each call walks the children afresh.
func (op *Operation) CutGroups(closedDistance float64) iter.Seq[*cutcode.CutGroup] {
	return func(yield func(*cutcode.CutGroup) bool) {
		passes := op.Passes
		if passes < 1 {
			passes = 1
		}
		opType := op.Type
		if opType == "" {
			opType = TypeEngrave
		}
		for _, child := range op.Children {
			if child == nil {
				continue
			}
			s := op.Settings
			if stroke := child.StrokeColor(); stroke != "" {
				s = s.Clone()
				s.LineColor = stroke
			} else if s == nil {
				s = cutcode.DefaultSettings()
			}
			for _, sp := range splitSubpaths(child.AsPath()) {
				g := buildGroup(sp, sp.closed(closedDistance), s, passes, opType)
				if g.Len() == 0 {
					continue
				}
				if !yield(g) {
					return
				}
			}
		}
	}
}

// Collect expands every source in order into a flat list of groups.
func Collect(closedDistance float64, sources ...Source) []*cutcode.CutGroup {
	var groups []*cutcode.CutGroup
	for _, src := range sources {
		for g := range src.CutGroups(closedDistance) {
			groups = append(groups, g)
		}
	}
	return groups
}
