package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrowProcessNoise_UnobservedStaysUnobserved(t *testing.T) {
	g := newTestGrid(t, 3, 3, 1)
	g.Fuse(Index{1, 1}, 0.5, 0.3, 0)

	for i := 0; i < 50; i++ {
		g.GrowProcessNoise(DefaultProcessNoiseDelta, 0.001, 0.5)
	}

	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			if r == 1 && c == 1 {
				continue
			}
			cell := g.Cell(Index{r, c})
			assert.False(t, cell.Observed)
			assert.True(t, math.IsNaN(cell.Elevation))
			assert.True(t, math.IsNaN(cell.Variance))
			assert.True(t, math.IsNaN(cell.VarianceX))
			assert.True(t, math.IsNaN(cell.VarianceY))
		}
	}
}

func TestGrowProcessNoise_ClampsOnlyVariance(t *testing.T) {
	const (
		minVar = 0.001
		maxVar = 0.32
		delta  = 0.005
	)
	g := newTestGrid(t, 2, 2, 1)
	idx := Index{0, 0}
	g.Fuse(idx, 1.0, 0.3, 0)

	prev := g.Cell(idx)
	for i := 1; i <= 20; i++ {
		g.GrowProcessNoise(delta, minVar, maxVar)
		cell := g.Cell(idx)

		assert.GreaterOrEqual(t, cell.Variance, minVar)
		assert.LessOrEqual(t, cell.Variance, maxVar)
		assert.InDelta(t, prev.VarianceX+delta, cell.VarianceX, 1e-12, "cycle %d", i)
		assert.InDelta(t, prev.VarianceY+delta, cell.VarianceY, 1e-12, "cycle %d", i)
		assert.Equal(t, 1.0, cell.Elevation)
		prev = cell
	}

	assert.Equal(t, maxVar, g.Cell(idx).Variance)
	assert.InDelta(t, 0.3+20*delta, g.Cell(idx).VarianceX, 1e-9)
}

func TestGrowProcessNoise_RaisesToMinVariance(t *testing.T) {
	g := newTestGrid(t, 2, 2, 1)
	idx := Index{1, 1}
	g.Fuse(idx, 1.0, 1e-6, 0)

	g.GrowProcessNoise(0, 0.01, 0.5)
	assert.Equal(t, 0.01, g.Cell(idx).Variance)
	assert.Equal(t, 1e-6, g.Cell(idx).VarianceX)
}
