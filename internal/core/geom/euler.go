package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Euler is an XYZ intrinsic rotation in radians, the order scene origins are authored in.
type Euler struct {
	X, Y, Z float64
}

// Quat converts the Euler angles into a quaternion.
func (e Euler) Quat() mgl64.Quat {
	return NormalizeQuat(mgl64.AnglesToQuat(e.X, e.Y, e.Z, mgl64.XYZ))
}

// EulerFromQuat recovers XYZ intrinsic angles from q.
func EulerFromQuat(q mgl64.Quat) Euler {
	m := NormalizeQuat(q).Mat4()
	// m is column-major; m.At(row, col).
	sy := m.At(0, 2)
	if sy > 1 {
		sy = 1
	} else if sy < -1 {
		sy = -1
	}
	y := math.Asin(sy)
	if math.Abs(sy) < 0.9999999 {
		return Euler{
			X: math.Atan2(-m.At(1, 2), m.At(2, 2)),
			Y: y,
			Z: math.Atan2(-m.At(0, 1), m.At(0, 0)),
		}
	}
	// Gimbal lock: fold Z into X.
	return Euler{
		X: math.Atan2(m.At(2, 1), m.At(1, 1)),
		Y: y,
		Z: 0,
	}
}
