package grid

// DefaultMeasurementVariance is the constant variance assigned to every
// point observation. It does not depend on range or incidence angle.
const DefaultMeasurementVariance = 0.3

// Observation is one point to fuse, already expressed in the grid frame.
type Observation struct {
	Position Position
	Z        float64
	Color    uint32
}

// PackRGB packs 8-bit channels into the 24-bit color layer encoding.
func PackRGB(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// UnpackRGB splits a packed color back into channels.
func UnpackRGB(c uint32) (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Fuse applies one height measurement z with variance m to the cell at idx.
// idx must be inside the grid.
//
// A cell without data takes the measurement as is. Otherwise elevation and
// variance follow the one-dimensional Kalman update using the cell variance
// and m as the two weights. The color is always overwritten.
func (g *Grid) Fuse(idx Index, z, m float64, color uint32) {
	i := g.flat(idx)
	r, c := idx.Row, idx.Col

	if !g.observed[i] {
		g.observed[i] = true
		g.elevation.Set(r, c, z)
		g.variance.Set(r, c, m)
		g.varianceX.Set(r, c, m)
		g.varianceY.Set(r, c, m)
		g.color[i] = color
		return
	}

	e := g.elevation.At(r, c)
	v := g.variance.At(r, c)

	e = (v*z + m*e) / (v + m)
	v = (m * v) / (m + v)
	g.elevation.Set(r, c, e)
	g.variance.Set(r, c, v)

	switch g.mode {
	case AxisVarianceIndependent:
		vx := g.varianceX.At(r, c)
		vy := g.varianceY.At(r, c)
		g.varianceX.Set(r, c, (m*vx)/(m+vx))
		g.varianceY.Set(r, c, (m*vy)/(m+vy))
	default:
		// The axis variances are derived from the variance that was just
		// written, so the fused value goes through the formula a second time.
		g.varianceX.Set(r, c, (m*v)/(m+v))
		g.varianceY.Set(r, c, (m*v)/(m+v))
	}

	g.color[i] = color
}

// FuseResult counts the outcome of FuseAll.
type FuseResult struct {
	Fused       int
	OutOfBounds int
}

// FuseAll fuses observations in order. Points outside the grid are skipped
// and counted; they do not affect the others. Several points landing in the
// same cell are fused one after another.
func (g *Grid) FuseAll(obs []Observation, m float64) FuseResult {
	var res FuseResult
	for _, o := range obs {
		idx, ok := g.Index(o.Position)
		if !ok {
			res.OutOfBounds++
			continue
		}
		g.Fuse(idx, o.Z, m, o.Color)
		res.Fused++
	}
	return res
}
