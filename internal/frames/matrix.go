package frames

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance bounds how far the rotation determinant may
// drift from 1 before a matrix is rejected.
const MatrixValidationTolerance = 0.01

// Matrix returns t as a 4x4 row-major homogeneous matrix:
// m00,m01,m02,m03, m10,... with the translation in the last column.
func (t Transform) Matrix() [16]float64 {
	rot := r3.Rotation(t.Rotation)
	ex := rot.Rotate(r3.Vec{X: 1})
	ey := rot.Rotate(r3.Vec{Y: 1})
	ez := rot.Rotate(r3.Vec{Z: 1})
	return [16]float64{
		ex.X, ey.X, ez.X, t.Translation.X,
		ex.Y, ey.Y, ez.Y, t.Translation.Y,
		ex.Z, ey.Z, ez.Z, t.Translation.Z,
		0, 0, 0, 1,
	}
}

// ApplyMatrix applies a 4x4 row-major transform T to point (x,y,z).
func ApplyMatrix(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform:
// every entry finite, rotation determinant ≈ 1 (no reflection or scale) and
// last row [0 0 0 1].
func IsValidTransformMatrix(T [16]float64) bool {
	for _, v := range T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}
	return true
}
