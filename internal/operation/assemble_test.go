package operation

import (
	"image"
	"testing"

	"github.com/gogpu/gg"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lasercut/internal/cutcode"
)

func openSquare(gap float64) *gg.Path {
	p := gg.NewPath()
	p.MoveTo(0, 0)
	p.LineTo(100, 0)
	p.LineTo(100, 100)
	p.LineTo(0, 100)
	p.LineTo(0, gap)
	return p
}

func TestClosedDistanceClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		gap    float64
		closed bool
	}{
		{"gap 10 within tolerance", 10, true},
		{"gap 20 beyond tolerance", 20, false},
		{"gap equal to tolerance", 15, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			op := &Operation{Type: TypeCut, Children: []Node{PathNode{Path: openSquare(tt.gap)}}}
			groups := Collect(15, op)
			require.Len(t, groups, 1)
			g := groups[0]
			assert.Equal(t, 4, g.Len())
			assert.Equal(t, tt.closed, g.Closed)
			require.NoError(t, g.Validate())
			for _, o := range g.Objects() {
				assert.Equal(t, cutcode.KindLine, o.Kind)
				assert.Equal(t, tt.closed, o.Closed)
			}
		})
	}
}

func TestRectangleRoundTrip(t *testing.T) {
	t.Parallel()

	op := &Operation{Type: TypeEngrave, Children: []Node{RectNode{X: 10, Y: 20, W: 30, H: 40}}}
	groups := Collect(DefaultClosedDistance, op)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.True(t, g.Closed)
	assert.Equal(t, TypeEngrave, g.OriginalOp)
	require.NoError(t, g.Validate())

	want := []gg.Point{
		gg.Pt(10, 20), gg.Pt(40, 20), gg.Pt(40, 60), gg.Pt(10, 60), gg.Pt(10, 20),
	}
	if diff := cmp.Diff(want, g.Vertices()); diff != "" {
		t.Errorf("rectangle vertices mismatch (-want +got):\n%s", diff)
	}

	last, ok := g.Following(g.Len() - 1)
	require.True(t, ok)
	assert.Same(t, g.At(0), last)
}

func TestCurvesMapToCurvePrimitives(t *testing.T) {
	t.Parallel()

	p := gg.NewPath()
	p.MoveTo(0, 0)
	p.QuadraticTo(5, 10, 10, 0)
	p.CubicTo(15, -10, 20, 10, 30, 0)
	op := &Operation{Children: []Node{PathNode{Path: p}}}

	groups := Collect(DefaultClosedDistance, op)
	require.Len(t, groups, 1)
	g := groups[0]
	require.Equal(t, 2, g.Len())
	assert.False(t, g.Closed)

	assert.Equal(t, cutcode.KindQuad, g.At(0).Kind)
	assert.Equal(t, gg.Pt(5, 10), g.At(0).Control1)
	assert.Equal(t, cutcode.KindCubic, g.At(1).Kind)
	assert.Equal(t, gg.Pt(10, 0), g.At(1).Start)
	assert.Equal(t, gg.Pt(30, 0), g.At(1).End)
	assert.Equal(t, TypeEngrave, g.OriginalOp)
}

func TestSubpathsAndMoves(t *testing.T) {
	t.Parallel()

	p := gg.NewPath()
	p.MoveTo(0, 0)
	p.LineTo(50, 0)
	p.LineTo(50, 0) // zero length, dropped
	p.MoveTo(100, 100)
	p.MoveTo(200, 200) // move-only subpath, no group
	p.LineTo(300, 200)
	p.LineTo(300, 300)
	p.Close()

	op := &Operation{Children: []Node{PathNode{Path: p}}}
	groups := Collect(DefaultClosedDistance, op)
	require.Len(t, groups, 2)

	assert.Equal(t, 1, groups[0].Len())
	assert.False(t, groups[0].Closed)

	assert.Equal(t, 3, groups[1].Len())
	assert.True(t, groups[1].Closed)
	assert.Equal(t, gg.Pt(200, 200), groups[1].At(2).End, "close segment returns to the subpath start")
}

func TestImageNodeCutsBoundingBox(t *testing.T) {
	t.Parallel()

	img := image.NewGray(image.Rect(0, 0, 8, 4))
	m := gg.Translate(100, 50)
	op := &Operation{Children: []Node{ImageNode{Image: img, Transform: &m}}}

	groups := Collect(DefaultClosedDistance, op)
	require.Len(t, groups, 1)
	g := groups[0]
	assert.True(t, g.Closed)
	want := []gg.Point{
		gg.Pt(100, 50), gg.Pt(100, 54), gg.Pt(108, 54), gg.Pt(108, 50), gg.Pt(100, 50),
	}
	if diff := cmp.Diff(want, g.Vertices()); diff != "" {
		t.Errorf("image outline mismatch (-want +got):\n%s", diff)
	}
}

func TestEllipseIsCubic(t *testing.T) {
	t.Parallel()

	op := &Operation{Children: []Node{EllipseNode{CX: 50, CY: 50, RX: 20, RY: 10}}}
	groups := Collect(DefaultClosedDistance, op)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Closed)
	for _, o := range groups[0].Objects() {
		assert.Equal(t, cutcode.KindCubic, o.Kind)
	}
}

func TestSettingsPropagation(t *testing.T) {
	t.Parallel()

	s := &cutcode.Settings{Speed: 30, Power: 600, Passes: 2}
	op := &Operation{
		Type:     TypeCut,
		Settings: s,
		Passes:   2,
		Children: []Node{
			RectNode{W: 10, H: 10, Stroke: "#ff0000"},
			RectNode{X: 20, W: 10, H: 10},
		},
	}
	groups := Collect(DefaultClosedDistance, op)
	require.Len(t, groups, 2)

	red := groups[0]
	assert.Equal(t, "#ff0000", red.Settings.LineColor)
	assert.Equal(t, 600.0, red.Settings.Power)
	assert.Empty(t, s.LineColor, "operation settings must not be mutated")
	for _, o := range red.Objects() {
		assert.Same(t, red.Settings, o.Settings)
		assert.Equal(t, 2, o.Passes)
	}

	assert.Same(t, s, groups[1].Settings)
}

func TestCutGroupsIsRestartable(t *testing.T) {
	t.Parallel()

	op := &Operation{Children: []Node{RectNode{W: 10, H: 10}, RectNode{X: 20, W: 10, H: 10}}}
	seq := op.CutGroups(DefaultClosedDistance)

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 2, count())
	assert.Equal(t, 2, count())

	// Early exit stops the walk.
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestHomeOperation(t *testing.T) {
	t.Parallel()

	groups := Collect(DefaultClosedDistance, HomeOperation{X: 5, Y: 7})
	require.Len(t, groups, 1)
	g := groups[0]
	require.Equal(t, 1, g.Len())
	assert.Equal(t, cutcode.KindHome, g.At(0).Kind)
	assert.Equal(t, gg.Pt(5, 7), g.At(0).End)
	assert.Equal(t, TypeHome, g.OriginalOp)
}
