package grid

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGrid(t *testing.T, lx, ly, res float64) *Grid {
	t.Helper()
	g, err := New(Length{X: lx, Y: ly}, res)
	require.NoError(t, err)
	return g
}

func TestNew_Dimensions(t *testing.T) {
	tests := []struct {
		name       string
		length     Length
		resolution float64
		rows, cols int
	}{
		{"square", Length{2, 2}, 1.0, 2, 2},
		{"rectangular", Length{3, 1.5}, 0.5, 6, 3},
		{"remainder floors", Length{2.7, 1.2}, 1.0, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGrid(t, tt.length.X, tt.length.Y, tt.resolution)
			assert.Equal(t, tt.rows, g.Rows())
			assert.Equal(t, tt.cols, g.Cols())

			layers := g.Layers()
			n := tt.rows * tt.cols
			assert.Len(t, layers.Elevation, n)
			assert.Len(t, layers.Variance, n)
			assert.Len(t, layers.VarianceX, n)
			assert.Len(t, layers.VarianceY, n)
			assert.Len(t, layers.Color, n)
		})
	}
}

func TestNew_InvalidGeometry(t *testing.T) {
	_, err := New(Length{2, 2}, 0)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))

	_, err = New(Length{0.5, 2}, 1.0)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
}

func TestReset_AllUnobserved(t *testing.T) {
	g := newTestGrid(t, 2, 2, 1)
	g.Fuse(Index{0, 1}, 1.0, 0.3, PackRGB(1, 2, 3))
	require.Equal(t, 1, g.ObservedCount())

	g.Reset()
	assert.Equal(t, 0, g.ObservedCount())
	for r := 0; r < g.Rows(); r++ {
		for c := 0; c < g.Cols(); c++ {
			cell := g.Cell(Index{r, c})
			assert.False(t, cell.Observed)
			assert.True(t, math.IsNaN(cell.Elevation))
			assert.True(t, math.IsNaN(cell.Variance))
			assert.True(t, math.IsNaN(cell.VarianceX))
			assert.True(t, math.IsNaN(cell.VarianceY))
			assert.Zero(t, cell.Color)
		}
	}
}

func TestResize_ReallocatesAllLayers(t *testing.T) {
	g := newTestGrid(t, 2, 2, 1)
	require.NoError(t, g.Resize(Length{4, 3}))
	g.Reset()

	assert.Equal(t, 4, g.Rows())
	assert.Equal(t, 3, g.Cols())
	assert.Equal(t, Length{4, 3}, g.Length())

	layers := g.Layers()
	assert.Len(t, layers.Elevation, 12)
	assert.Len(t, layers.Color, 12)
	assert.True(t, g.Contains(Index{3, 2}))
	assert.False(t, g.Contains(Index{4, 0}))
}

func TestResize_InvalidKeepsGrid(t *testing.T) {
	g := newTestGrid(t, 2, 2, 1)
	err := g.Resize(Length{0.2, 2})
	require.Error(t, err)
	assert.Equal(t, 2, g.Rows())
	assert.Equal(t, Length{2, 2}, g.Length())
}

func TestLayers_RowMajorCopy(t *testing.T) {
	g := newTestGrid(t, 2, 3, 1)
	g.Fuse(Index{1, 2}, 4.0, 0.3, 7)

	layers := g.Layers()
	assert.Equal(t, 4.0, layers.Elevation[1*3+2])
	assert.Equal(t, uint32(7), layers.Color[5])

	// Mutating the copy must not touch the grid.
	layers.Elevation[5] = 99
	assert.Equal(t, 4.0, g.Cell(Index{1, 2}).Elevation)
}

func TestParseAxisVarianceMode(t *testing.T) {
	m, err := ParseAxisVarianceMode("independent")
	require.NoError(t, err)
	assert.Equal(t, AxisVarianceIndependent, m)
	assert.Equal(t, "independent", m.String())

	m, err = ParseAxisVarianceMode("")
	require.NoError(t, err)
	assert.Equal(t, AxisVarianceSequential, m)

	_, err = ParseAxisVarianceMode("averaged")
	assert.Error(t, err)
}
