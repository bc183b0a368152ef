package plotplanner

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lasercut/internal/cutcode"
)

func TestCollinearStepsMerge(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	for x := 0; x <= 10; x++ {
		p.Push(float64(x), 0, 1)
	}
	cuts := p.Flush()
	require.Len(t, cuts, 1)

	want := []cutcode.PlotSample{{X: 0, Y: 0, On: 1}, {X: 10, Y: 0, On: 1}}
	if diff := cmp.Diff(want, cuts[0].Plot); diff != "" {
		t.Errorf("merged samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, cutcode.KindPlot, cuts[0].Kind)
}

func TestIntensityChangeBreaksRun(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	p.Push(0, 0, 1)
	p.Push(1, 0, 1)
	p.Push(2, 0, 0.5)
	p.Push(3, 0, 0.5)
	p.Push(3, 1, 0.5) // direction change
	cuts := p.Flush()
	require.Len(t, cuts, 1)

	want := []cutcode.PlotSample{
		{X: 0, Y: 0, On: 1},
		{X: 1, Y: 0, On: 1},
		{X: 2, Y: 0, On: 0.5},
		{X: 3, Y: 0, On: 0.5},
		{X: 3, Y: 1, On: 0.5},
	}
	if diff := cmp.Diff(want, cuts[0].Plot); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestNoMergeKeepsEverySample(t *testing.T) {
	t.Parallel()

	p := New(Config{NoMerge: true})
	for x := 0; x < 5; x++ {
		p.Push(float64(x), 0, 1)
	}
	cuts := p.Flush()
	require.Len(t, cuts, 1)
	assert.Len(t, cuts[0].Plot, 5)
}

func TestBatchesCarryPosition(t *testing.T) {
	t.Parallel()

	s := &cutcode.Settings{Power: 500}
	p := New(Config{MaxBatch: 3, NoMerge: true, Settings: s})
	for x := 0; x < 5; x++ {
		p.Push(float64(x), 0, 1)
	}
	ready := p.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, []float64{0, 1, 2}, xs(ready[0].Plot))
	assert.Equal(t, []float64{2, 3, 4}, xs(ready[1].Plot))
	assert.Equal(t, 0.0, ready[1].Plot[0].On, "carried start sample is unpowered")
	assert.Same(t, s, ready[0].Settings)

	assert.Empty(t, p.Flush(), "only the carried sample remains")
}

func TestSamePositionKeepsLatestIntensity(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	p.Push(1, 1, 0.2)
	p.Push(1, 1, 2) // clamped to 1
	cuts := p.Flush()
	require.Len(t, cuts, 1)
	assert.Equal(t, []cutcode.PlotSample{{X: 1, Y: 1, On: 1}}, cuts[0].Plot)
}

func TestPlanIterator(t *testing.T) {
	t.Parallel()

	samples := slices.Values([]cutcode.PlotSample{
		{X: 0, Y: 0, On: 1}, {X: 0, Y: 1, On: 1}, {X: 0, Y: 2, On: 1}, {X: 5, Y: 5, On: -1},
	})
	var cuts []cutcode.CutObject
	for c := range Plan(Config{MaxBatch: 2, NoMerge: true}, samples) {
		cuts = append(cuts, c)
	}
	require.Len(t, cuts, 3)
	assert.Equal(t, 0.0, cuts[2].Plot[1].On, "negative intensity clamps to zero")
}

func xs(samples []cutcode.PlotSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.X
	}
	return out
}
