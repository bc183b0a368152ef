package cutcode

import (
	"image"
	"image/color"
	"slices"
	"testing"
	"time"

	"github.com/gogpu/gg"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(closed bool) *CutGroup {
	s := DefaultSettings()
	g := NewGroup(closed, s, "op engrave")
	pts := []gg.Point{gg.Pt(0, 0), gg.Pt(10, 0), gg.Pt(10, 10), gg.Pt(0, 10), gg.Pt(0, 0)}
	for i := 0; i+1 < len(pts); i++ {
		g.Append(NewLine(pts[i], pts[i+1], s))
	}
	g.Link()
	return g
}

func TestLinkClosedRing(t *testing.T) {
	t.Parallel()
	g := square(true)
	require.NoError(t, g.Validate())

	n := g.Len()
	assert.True(t, g.At(0).First)
	assert.True(t, g.At(n-1).Last)
	assert.Equal(t, 0, g.At(n-1).Next)
	assert.Equal(t, n-1, g.At(0).Previous)

	next, ok := g.Following(n - 1)
	require.True(t, ok)
	assert.Same(t, g.At(0), next)

	prev, ok := g.Preceding(0)
	require.True(t, ok)
	assert.Same(t, g.At(n-1), prev)

	for _, o := range g.Objects() {
		assert.True(t, o.Closed)
	}
}

func TestLinkOpenChain(t *testing.T) {
	t.Parallel()
	g := square(false)
	require.NoError(t, g.Validate())

	_, ok := g.Following(g.Len() - 1)
	assert.False(t, ok, "open contour must not wrap")
	_, ok = g.Preceding(0)
	assert.False(t, ok)

	next, ok := g.Following(1)
	require.True(t, ok)
	assert.Same(t, g.At(2), next)
}

func TestLinkSingleObject(t *testing.T) {
	t.Parallel()
	for _, closed := range []bool{true, false} {
		g := NewGroup(closed, nil, "op cut")
		g.Append(NewLine(gg.Pt(0, 0), gg.Pt(1, 1), nil))
		g.Link()
		require.NoError(t, g.Validate())
		o := g.At(0)
		assert.True(t, o.First)
		assert.True(t, o.Last)
		if closed {
			assert.Equal(t, 0, o.Next)
			assert.Equal(t, 0, o.Previous)
		} else {
			assert.Equal(t, NoLink, o.Next)
			assert.Equal(t, NoLink, o.Previous)
		}
	}
}

func TestValidateDetectsBrokenLinks(t *testing.T) {
	t.Parallel()

	g := square(true)
	g.At(2).First = true
	assert.ErrorIs(t, g.Validate(), ErrBrokenLinks)

	g = square(false)
	g.At(g.Len() - 1).Next = 0
	assert.ErrorIs(t, g.Validate(), ErrBrokenLinks)

	g = square(true)
	g.At(1).Next = 99
	assert.ErrorIs(t, g.Validate(), ErrBrokenLinks)

	assert.NoError(t, NewGroup(false, nil, "").Validate())
}

func TestVerticesReplay(t *testing.T) {
	t.Parallel()
	g := square(true)
	want := []gg.Point{gg.Pt(0, 0), gg.Pt(10, 0), gg.Pt(10, 10), gg.Pt(0, 10), gg.Pt(0, 0)}
	if diff := cmp.Diff(want, g.Vertices()); diff != "" {
		t.Errorf("Vertices mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, NewGroup(false, nil, "").Vertices())
}

func TestGroupBounds(t *testing.T) {
	t.Parallel()
	b := square(true).Bounds()
	assert.Equal(t, gg.Pt(0, 0), b.Min)
	assert.Equal(t, gg.Pt(10, 10), b.Max)
}

func TestCutObjectPoint(t *testing.T) {
	t.Parallel()

	line := NewLine(gg.Pt(0, 0), gg.Pt(10, 0), nil)
	assert.Equal(t, gg.Pt(5, 0), line.Point(0.5))

	quad := NewQuad(gg.Pt(0, 0), gg.Pt(5, 10), gg.Pt(10, 0), nil)
	assert.Equal(t, gg.Pt(5, 5), quad.Point(0.5))
	assert.Equal(t, gg.Pt(10, 0), quad.Point(1))

	cubic := NewCubic(gg.Pt(0, 0), gg.Pt(0, 10), gg.Pt(10, 10), gg.Pt(10, 0), nil)
	assert.Equal(t, gg.Pt(0, 0), cubic.Point(0))
	assert.Equal(t, gg.Pt(10, 0), cubic.Point(1))
	assert.InDelta(t, 7.5, cubic.Point(0.5).Y, 1e-9)

	home := NewHome(gg.Pt(3, 4))
	assert.Equal(t, gg.Pt(3, 4), home.Point(0.2))
	assert.False(t, home.IsCurve())
	assert.True(t, cubic.IsCurve())
}

func TestConstructors(t *testing.T) {
	t.Parallel()

	d := NewDwell(gg.Pt(1, 2), 250*time.Millisecond, nil)
	assert.Equal(t, KindDwell, d.Kind)
	assert.Equal(t, 250*time.Millisecond, d.Duration)
	assert.Equal(t, NoLink, d.Next)

	p := NewPlot([]PlotSample{{X: 1, Y: 1, On: 1}, {X: 4, Y: 5, On: 0.5}}, nil)
	assert.Equal(t, gg.Pt(1, 1), p.Start)
	assert.Equal(t, gg.Pt(4, 5), p.End)
	assert.Equal(t, 5.0, p.Length())

	out := NewOutput(0x3, 0x1)
	assert.Equal(t, KindOutput, out.Kind)
	assert.Equal(t, uint32(0x3), out.Mask)

	assert.Equal(t, "cubic", KindCubic.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestSettingsClone(t *testing.T) {
	t.Parallel()

	s := &Settings{Speed: 10, Power: 500, Extra: map[string]string{"air": "on"}}
	c := s.Clone()
	c.Extra["air"] = "off"
	v, ok := s.Get("air")
	require.True(t, ok)
	assert.Equal(t, "on", v)

	var nilSettings *Settings
	assert.Equal(t, DefaultSettings(), nilSettings.Clone())
	assert.Equal(t, 1000.0, nilSettings.PowerOr(1000))
	assert.Equal(t, 500.0, s.PowerOr(1000))
}

func TestRasterSamples(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(1, 0, color.Gray{Y: 255})
	img.SetGray(0, 1, color.Gray{Y: 255})
	img.SetGray(1, 1, color.Gray{Y: 0})

	r := &Raster{Image: img, Origin: gg.Pt(100, 200), Step: 10, Bidirectional: true}
	got := slices.Collect(r.Samples())
	want := []PlotSample{
		{X: 100, Y: 200, On: 1},
		{X: 110, Y: 200, On: 0},
		{X: 110, Y: 210, On: 1},
		{X: 100, Y: 210, On: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Samples() mismatch (-want +got):\n%s", diff)
	}

	o := NewRaster(r, nil)
	assert.Equal(t, gg.Pt(120, 220), o.Bounds().Max)

	var nilRaster *Raster
	assert.Empty(t, slices.Collect(nilRaster.Samples()))
}
