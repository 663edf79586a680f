package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Epsilon is the tolerance used for degenerate vector and quaternion checks.
const Epsilon = 1e-12

// Pose is a rigid transform: rotation followed by translation.
type Pose struct {
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{Rotation: mgl64.QuatIdent()}
}

// NewPose builds a pose with a normalized rotation.
func NewPose(position mgl64.Vec3, rotation mgl64.Quat) Pose {
	return Pose{Position: position, Rotation: NormalizeQuat(rotation)}
}

// Mul composes p and child: the result maps child-local points into p's parent frame.
func (p Pose) Mul(child Pose) Pose {
	return Pose{
		Position: p.Position.Add(p.Rotation.Rotate(child.Position)),
		Rotation: NormalizeQuat(p.Rotation.Mul(child.Rotation)),
	}
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	inv := p.Rotation.Conjugate()
	return Pose{
		Position: inv.Rotate(p.Position.Mul(-1)),
		Rotation: inv,
	}
}

// RelativeTo expresses p in the frame of parent.
func (p Pose) RelativeTo(parent Pose) Pose {
	return parent.Inverse().Mul(p)
}

// Transform maps a local point into the pose's parent frame.
func (p Pose) Transform(v mgl64.Vec3) mgl64.Vec3 {
	return p.Position.Add(p.Rotation.Rotate(v))
}

// InverseTransform maps a parent-frame point into the pose's local frame.
func (p Pose) InverseTransform(v mgl64.Vec3) mgl64.Vec3 {
	return p.Rotation.Conjugate().Rotate(v.Sub(p.Position))
}

// NormalizeQuat returns q with unit length, or identity for a zero quaternion.
func NormalizeQuat(q mgl64.Quat) mgl64.Quat {
	l := q.Len()
	if l < Epsilon || math.IsNaN(l) {
		return mgl64.QuatIdent()
	}
	return mgl64.Quat{W: q.W / l, V: q.V.Mul(1 / l)}
}

// NormalizeVec returns v with unit length and false when v is degenerate.
func NormalizeVec(v mgl64.Vec3) (mgl64.Vec3, bool) {
	l := v.Len()
	if l < Epsilon {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

// RelativeRotation returns child's orientation expressed in parent's frame.
func RelativeRotation(parent, child mgl64.Quat) mgl64.Quat {
	return NormalizeQuat(parent.Conjugate().Mul(child))
}

// AngleBetween returns the smallest rotation angle taking a onto b, in [0, π].
func AngleBetween(a, b mgl64.Quat) float64 {
	d := math.Abs(NormalizeQuat(a).Dot(NormalizeQuat(b)))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// MulElem multiplies two vectors component-wise.
func MulElem(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// AbsVec returns the component-wise absolute value.
func AbsVec(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{math.Abs(v[0]), math.Abs(v[1]), math.Abs(v[2])}
}

// SignVec returns -1 for negative components and 1 otherwise.
func SignVec(v mgl64.Vec3) mgl64.Vec3 {
	s := mgl64.Vec3{1, 1, 1}
	for i := range v {
		if v[i] < 0 {
			s[i] = -1
		}
	}
	return s
}
