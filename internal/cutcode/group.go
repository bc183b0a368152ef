package cutcode

import (
	"errors"
	"fmt"

	"github.com/gogpu/gg"
)

// ErrBrokenLinks is returned by Validate when a group's first/last flags or
// next/previous indices do not describe a single chain or ring.
var ErrBrokenLinks = errors.New("cut group links are inconsistent")

// CutGroup is one contour: an ordered run of cut objects sharing settings.
type CutGroup struct {
	objects []CutObject

	Closed   bool
	Settings *Settings
	Passes   int

	// OriginalOp names the operation type the group was derived from.
	OriginalOp string

	// Path is the source subpath, kept for bounds and hull queries.
	Path *gg.Path
}

// NewGroup returns an empty group.
func NewGroup(closed bool, s *Settings, originalOp string) *CutGroup {
	return &CutGroup{Closed: closed, Settings: s, OriginalOp: originalOp, Passes: 1}
}

// Append adds an object to the end of the group. Links are not valid until
// Link is called.
func (g *CutGroup) Append(o CutObject) {
	g.objects = append(g.objects, o)
}

// Len returns the number of objects in the group.
func (g *CutGroup) Len() int { return len(g.objects) }

// At returns the object at index i.
func (g *CutGroup) At(i int) *CutObject { return &g.objects[i] }

// Objects returns the members in order. The returned pointers alias the
// group's storage.
func (g *CutGroup) Objects() []*CutObject {
	out := make([]*CutObject, len(g.objects))
	for i := range g.objects {
		out[i] = &g.objects[i]
	}
	return out
}

// Following returns the object linked after index i, if any.
func (g *CutGroup) Following(i int) (*CutObject, bool) {
	n := g.objects[i].Next
	if n == NoLink {
		return nil, false
	}
	return &g.objects[n], true
}

// Preceding returns the object linked before index i, if any.
func (g *CutGroup) Preceding(i int) (*CutObject, bool) {
	p := g.objects[i].Previous
	if p == NoLink {
		return nil, false
	}
	return &g.objects[p], true
}

// Link sets the first/last flags, the closed flag and the next/previous
// indices on every member. It is run once, after the group is built.
func (g *CutGroup) Link() {
	n := len(g.objects)
	for i := range g.objects {
		o := &g.objects[i]
		o.Closed = g.Closed
		o.First = i == 0
		o.Last = i == n-1
		o.Next = i + 1
		o.Previous = i - 1
		if o.Last {
			o.Next = NoLink
			if g.Closed {
				o.Next = 0
			}
		}
		if o.First {
			o.Previous = NoLink
			if g.Closed {
				o.Previous = n - 1
			}
		}
	}
}

// Validate checks the linkage invariant: exactly one first and one last
// member, and wrap links present exactly when the group is closed.
func (g *CutGroup) Validate() error {
	n := len(g.objects)
	if n == 0 {
		return nil
	}
	firsts, lasts := 0, 0
	for i := range g.objects {
		o := &g.objects[i]
		if o.First {
			firsts++
		}
		if o.Last {
			lasts++
		}
		if o.Next != NoLink && (o.Next < 0 || o.Next >= n) {
			return fmt.Errorf("%w: object %d next index %d out of range", ErrBrokenLinks, i, o.Next)
		}
		if o.Previous != NoLink && (o.Previous < 0 || o.Previous >= n) {
			return fmt.Errorf("%w: object %d previous index %d out of range", ErrBrokenLinks, i, o.Previous)
		}
	}
	if firsts != 1 || lasts != 1 {
		return fmt.Errorf("%w: %d first and %d last members", ErrBrokenLinks, firsts, lasts)
	}
	if !g.objects[0].First || !g.objects[n-1].Last {
		return fmt.Errorf("%w: first/last flags not at the ends", ErrBrokenLinks)
	}
	head, tail := g.objects[0], g.objects[n-1]
	if g.Closed {
		if tail.Next != 0 || head.Previous != n-1 {
			return fmt.Errorf("%w: closed group does not wrap", ErrBrokenLinks)
		}
	} else if tail.Next != NoLink || head.Previous != NoLink {
		return fmt.Errorf("%w: open group has a wrap link", ErrBrokenLinks)
	}
	return nil
}

// Vertices replays the group's primitives and returns the start point of the
// first object followed by the end point of every object.
func (g *CutGroup) Vertices() []gg.Point {
	if len(g.objects) == 0 {
		return nil
	}
	pts := make([]gg.Point, 0, len(g.objects)+1)
	pts = append(pts, g.objects[0].Start)
	for i := range g.objects {
		pts = append(pts, g.objects[i].End)
	}
	return pts
}

// Bounds returns the union of the members' bounding boxes.
func (g *CutGroup) Bounds() gg.Rect {
	if len(g.objects) == 0 {
		return gg.Rect{}
	}
	r := g.objects[0].Bounds()
	for i := 1; i < len(g.objects); i++ {
		r = r.Union(g.objects[i].Bounds())
	}
	return r
}
