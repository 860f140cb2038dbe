package grid

// DefaultProcessNoiseDelta is the variance added to every observed cell per
// update cycle.
const DefaultProcessNoiseDelta = 0.005

// GrowProcessNoise inflates the variance layers of every observed cell by
// delta to model confidence decay between updates. Only the combined
// variance is clamped into [minVariance, maxVariance]; varianceX and
// varianceY grow without bound. Unobserved cells are left unobserved.
func (g *Grid) GrowProcessNoise(delta, minVariance, maxVariance float64) {
	v := g.variance.RawMatrix()
	vx := g.varianceX.RawMatrix()
	vy := g.varianceY.RawMatrix()

	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			if !g.observed[r*g.cols+c] {
				continue
			}
			v.Data[r*v.Stride+c] = clamp(v.Data[r*v.Stride+c]+delta, minVariance, maxVariance)
			vx.Data[r*vx.Stride+c] += delta
			vy.Data[r*vy.Stride+c] += delta
		}
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
