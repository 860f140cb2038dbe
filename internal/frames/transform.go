package frames

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidTransform is returned for transforms with non-finite values or
// a rotation that cannot be normalised.
var ErrInvalidTransform = errors.New("invalid transform")

// Transform is a rigid transform: p_parent = Rotation * p_child + Translation.
// Rotation is a unit quaternion.
type Transform struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// Identity returns the transform that leaves every point unchanged.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// FromTranslation returns a pure translation.
func FromTranslation(x, y, z float64) Transform {
	return Transform{Translation: r3.Vec{X: x, Y: y, Z: z}, Rotation: quat.Number{Real: 1}}
}

// FromEuler builds a transform from a translation and roll/pitch/yaw in
// radians, applied in Z-Y-X order (yaw first).
func FromEuler(x, y, z, roll, pitch, yaw float64) Transform {
	sr, cr := math.Sincos(roll / 2)
	sp, cp := math.Sincos(pitch / 2)
	sy, cy := math.Sincos(yaw / 2)
	return Transform{
		Translation: r3.Vec{X: x, Y: y, Z: z},
		Rotation: quat.Number{
			Real: cr*cp*cy + sr*sp*sy,
			Imag: sr*cp*cy - cr*sp*sy,
			Jmag: cr*sp*cy + sr*cp*sy,
			Kmag: cr*cp*sy - sr*sp*cy,
		},
	}
}

// Apply maps p from the child frame into the parent frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(t.Rotation).Rotate(p), t.Translation)
}

// Compose returns t∘o: the transform that applies o first and then t.
func (t Transform) Compose(o Transform) Transform {
	return Transform{
		Translation: t.Apply(o.Translation),
		Rotation:    quat.Mul(t.Rotation, o.Rotation),
	}
}

// Inverse returns the transform mapping parent points back into the child frame.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Translation: r3.Scale(-1, r3.Rotation(inv).Rotate(t.Translation)),
		Rotation:    inv,
	}
}

// Normalize checks t for non-finite values and rescales the rotation to
// unit length.
func (t Transform) Normalize() (Transform, error) {
	for _, v := range []float64{
		t.Translation.X, t.Translation.Y, t.Translation.Z,
		t.Rotation.Real, t.Rotation.Imag, t.Rotation.Jmag, t.Rotation.Kmag,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Transform{}, fmt.Errorf("%w: non-finite component", ErrInvalidTransform)
		}
	}
	n := quat.Abs(t.Rotation)
	if n < 1e-9 {
		return Transform{}, fmt.Errorf("%w: zero rotation quaternion", ErrInvalidTransform)
	}
	t.Rotation = quat.Scale(1/n, t.Rotation)
	return t, nil
}

// Interpolate blends a and b. Translation is linear; rotation uses a
// normalised linear blend along the shorter arc. ratio 0 gives a, 1 gives b.
func Interpolate(a, b Transform, ratio float64) Transform {
	qb := b.Rotation
	if dot(a.Rotation, qb) < 0 {
		qb = quat.Scale(-1, qb)
	}
	q := quat.Add(quat.Scale(1-ratio, a.Rotation), quat.Scale(ratio, qb))
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	return Transform{
		Translation: r3.Add(r3.Scale(1-ratio, a.Translation), r3.Scale(ratio, b.Translation)),
		Rotation:    q,
	}
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}
