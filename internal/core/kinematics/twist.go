// Package kinematics extracts signed joint rotations from body orientations using
// swing-twist decomposition.
package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
)

// WrapAngle folds a into (-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// TwistQuat returns the component of the rotation from start to end that turns about
// axis, where axis is expressed in start's local frame and end = start·delta.
// ok is false when the twist is undefined (zero axis, or a half-turn swing that leaves
// no twist component); the identity is returned in that case.
func TwistQuat(start, end mgl64.Quat, axis mgl64.Vec3) (mgl64.Quat, bool) {
	a, ok := geom.NormalizeVec(axis)
	if !ok {
		return mgl64.QuatIdent(), false
	}
	delta := geom.NormalizeQuat(start.Conjugate().Mul(end))
	proj := a.Mul(delta.V.Dot(a))
	twist := mgl64.Quat{W: delta.W, V: proj}
	l := twist.Len()
	if l < geom.Epsilon {
		return mgl64.QuatIdent(), false
	}
	return mgl64.Quat{W: twist.W / l, V: twist.V.Mul(1 / l)}, true
}

// Twist returns the signed angle in radians that a body rotated about axis (local to
// start) between start and end, ignoring rotation about the other axes.
// The result lies in (-π, π].
func Twist(start, end mgl64.Quat, axis mgl64.Vec3) float64 {
	twist, ok := TwistQuat(start, end, axis)
	if !ok {
		return 0
	}
	// 2·atan2(|v|, w) is 2·acos(w) for a unit quaternion, without acos's loss of
	// precision near w = ±1.
	angle := 2 * math.Atan2(twist.V.Len(), twist.W)
	if angle > math.Pi {
		angle -= 2 * math.Pi
	}
	if twist.V.Dot(axis) < 0 {
		angle = -angle
	}
	if angle == -math.Pi {
		angle = math.Pi
	}
	return angle
}
