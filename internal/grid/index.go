package grid

import "math"

// Position is a planar position in the grid's local frame, in metres.
type Position struct {
	X float64
	Y float64
}

// Index addresses one grid cell.
type Index struct {
	Row int
	Col int
}

// PositionToIndex maps a local-frame position to the cell containing it.
//
// The grid is centred on the local origin, so the valid range on each axis
// is [-length/2, +length/2). The second return value is false when the
// position falls outside the grid.
func PositionToIndex(pos Position, length Length, resolution float64) (Index, bool) {
	rows := int(math.Floor(length.X / resolution))
	cols := int(math.Floor(length.Y / resolution))

	fr := math.Floor((pos.X + length.X/2) / resolution)
	fc := math.Floor((pos.Y + length.Y/2) / resolution)
	// Compare as floats first so huge or non-finite positions cannot overflow int.
	if !(fr >= 0 && fr < float64(rows) && fc >= 0 && fc < float64(cols)) {
		return Index{}, false
	}
	return Index{Row: int(fr), Col: int(fc)}, true
}

// IndexToPosition returns the local-frame position of the centre of idx.
func IndexToPosition(idx Index, length Length, resolution float64) Position {
	return Position{
		X: -length.X/2 + (float64(idx.Row)+0.5)*resolution,
		Y: -length.Y/2 + (float64(idx.Col)+0.5)*resolution,
	}
}

// Index maps pos onto this grid.
func (g *Grid) Index(pos Position) (Index, bool) {
	return PositionToIndex(pos, g.length, g.resolution)
}
