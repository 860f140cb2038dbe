package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidGeometry is returned when a length/resolution pair cannot hold
// at least one cell.
var ErrInvalidGeometry = errors.New("invalid grid geometry")

// Length is the grid extent in metres along the local x and y axes.
type Length struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AxisVarianceMode selects how varianceX/varianceY are updated when a cell
// that already holds data is fused with a new point.
type AxisVarianceMode int

const (
	// AxisVarianceSequential sets the axis variances by applying the fusion
	// formula to the already-fused combined variance. They do not carry
	// their own history.
	AxisVarianceSequential AxisVarianceMode = iota
	// AxisVarianceIndependent fuses each axis variance from its own prior.
	AxisVarianceIndependent
)

// String returns the config name of the mode.
func (m AxisVarianceMode) String() string {
	switch m {
	case AxisVarianceSequential:
		return "sequential"
	case AxisVarianceIndependent:
		return "independent"
	default:
		return fmt.Sprintf("AxisVarianceMode(%d)", int(m))
	}
}

// ParseAxisVarianceMode maps a config name to a mode.
func ParseAxisVarianceMode(s string) (AxisVarianceMode, error) {
	switch s {
	case "", "sequential":
		return AxisVarianceSequential, nil
	case "independent":
		return AxisVarianceIndependent, nil
	default:
		return 0, fmt.Errorf("unknown axis variance mode %q", s)
	}
}

// Grid is a fixed-size elevation map centred on its local frame origin.
//
// Cells are addressed (row, col) where rows run along x and cols along y.
// Observation state is held in an explicit bitmap; the float layers carry
// NaN for unobserved cells so that exported layers keep the usual "no data"
// encoding, but no arithmetic is ever applied to an unobserved cell.
type Grid struct {
	length     Length
	resolution float64
	rows       int
	cols       int

	elevation *mat.Dense
	variance  *mat.Dense
	varianceX *mat.Dense
	varianceY *mat.Dense
	color     []uint32
	observed  []bool

	mode AxisVarianceMode
}

// New creates a grid with the given extent and resolution and resets it.
func New(length Length, resolution float64) (*Grid, error) {
	if !(resolution > 0) {
		return nil, fmt.Errorf("%w: resolution must be positive, got %v", ErrInvalidGeometry, resolution)
	}
	g := &Grid{resolution: resolution}
	if err := g.Resize(length); err != nil {
		return nil, err
	}
	g.Reset()
	return g, nil
}

// SetAxisVarianceMode selects the axis-variance update used by Fuse.
func (g *Grid) SetAxisVarianceMode(m AxisVarianceMode) { g.mode = m }

// AxisVarianceMode returns the current axis-variance update mode.
func (g *Grid) AxisVarianceMode() AxisVarianceMode { return g.mode }

// Resize recomputes the dimensions from length and the grid resolution and
// reallocates every layer. Cell contents are undefined until Reset is called.
// Allocation failure panics: a half-allocated grid must never be served.
func (g *Grid) Resize(length Length) error {
	rows := int(math.Floor(length.X / g.resolution))
	cols := int(math.Floor(length.Y / g.resolution))
	if rows < 1 || cols < 1 {
		return fmt.Errorf("%w: length (%v, %v) at resolution %v gives %dx%d cells",
			ErrInvalidGeometry, length.X, length.Y, g.resolution, rows, cols)
	}

	g.length = length
	g.rows = rows
	g.cols = cols
	g.elevation = mat.NewDense(rows, cols, nil)
	g.variance = mat.NewDense(rows, cols, nil)
	g.varianceX = mat.NewDense(rows, cols, nil)
	g.varianceY = mat.NewDense(rows, cols, nil)
	g.color = make([]uint32, rows*cols)
	g.observed = make([]bool, rows*cols)
	return nil
}

// Reset marks every cell unobserved and clears the color layer.
func (g *Grid) Reset() {
	for _, m := range []*mat.Dense{g.elevation, g.variance, g.varianceX, g.varianceY} {
		data := m.RawMatrix().Data
		for i := range data {
			data[i] = math.NaN()
		}
	}
	clear(g.color)
	clear(g.observed)
}

// Rows returns the number of cells along x.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of cells along y.
func (g *Grid) Cols() int { return g.cols }

// Length returns the grid extent in metres.
func (g *Grid) Length() Length { return g.length }

// Resolution returns the cell edge length in metres.
func (g *Grid) Resolution() float64 { return g.resolution }

// Contains reports whether idx addresses a cell of this grid.
func (g *Grid) Contains(idx Index) bool {
	return idx.Row >= 0 && idx.Row < g.rows && idx.Col >= 0 && idx.Col < g.cols
}

// Cell is a copy of one grid cell.
type Cell struct {
	Observed  bool
	Elevation float64
	Variance  float64
	VarianceX float64
	VarianceY float64
	Color     uint32
}

// Cell returns a copy of the cell at idx. Unobserved cells report NaN for
// every float field.
func (g *Grid) Cell(idx Index) Cell {
	return Cell{
		Observed:  g.observed[g.flat(idx)],
		Elevation: g.elevation.At(idx.Row, idx.Col),
		Variance:  g.variance.At(idx.Row, idx.Col),
		VarianceX: g.varianceX.At(idx.Row, idx.Col),
		VarianceY: g.varianceY.At(idx.Row, idx.Col),
		Color:     g.color[g.flat(idx)],
	}
}

// ObservedCount returns the number of cells holding data.
func (g *Grid) ObservedCount() int {
	n := 0
	for _, o := range g.observed {
		if o {
			n++
		}
	}
	return n
}

// Layers is a row-major copy of every grid layer.
type Layers struct {
	Rows      int
	Cols      int
	Elevation []float64
	Variance  []float64
	VarianceX []float64
	VarianceY []float64
	Color     []uint32
}

// Layers copies the grid layers out in row-major order.
func (g *Grid) Layers() Layers {
	return Layers{
		Rows:      g.rows,
		Cols:      g.cols,
		Elevation: denseCopy(g.elevation),
		Variance:  denseCopy(g.variance),
		VarianceX: denseCopy(g.varianceX),
		VarianceY: denseCopy(g.varianceY),
		Color:     append([]uint32(nil), g.color...),
	}
}

func denseCopy(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

func (g *Grid) flat(idx Index) int { return idx.Row*g.cols + idx.Col }
