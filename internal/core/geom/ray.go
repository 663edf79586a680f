package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Ray is a half-line with a unit direction.
type Ray struct {
	Origin    mgl64.Vec3
	Direction mgl64.Vec3
}

// NewRay normalizes dir; ok is false for a zero direction.
func NewRay(origin, dir mgl64.Vec3) (Ray, bool) {
	d, ok := NormalizeVec(dir)
	return Ray{Origin: origin, Direction: d}, ok
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) mgl64.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// IntersectSphere returns the nearest non-negative hit distance with a sphere.
func (r Ray) IntersectSphere(center mgl64.Vec3, radius float64) (float64, bool) {
	oc := r.Origin.Sub(center)
	b := oc.Dot(r.Direction)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}

// IntersectBox returns the nearest non-negative hit distance with an oriented box
// given by its pose and half extents.
func (r Ray) IntersectBox(box Pose, half mgl64.Vec3) (float64, bool) {
	o := box.InverseTransform(r.Origin)
	d := box.Rotation.Conjugate().Rotate(r.Direction)
	tmin, tmax := math.Inf(-1), math.Inf(1)
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < Epsilon {
			if o[i] < -half[i] || o[i] > half[i] {
				return 0, false
			}
			continue
		}
		t1 := (-half[i] - o[i]) / d[i]
		t2 := (half[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	if tmax < 0 {
		return 0, false
	}
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min, Max mgl64.Vec3
}

// BoundsOf returns the bounds of points; ok is false for an empty set.
func BoundsOf(points []mgl64.Vec3) (AABB, bool) {
	if len(points) == 0 {
		return AABB{}, false
	}
	b := AABB{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			b.Min[i] = math.Min(b.Min[i], p[i])
			b.Max[i] = math.Max(b.Max[i], p[i])
		}
	}
	return b, true
}

// Center of the box.
func (b AABB) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// HalfExtents of the box.
func (b AABB) HalfExtents() mgl64.Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}
