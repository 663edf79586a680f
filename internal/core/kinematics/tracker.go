package kinematics

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
)

// Tracker follows one joint's relative orientation between frames.
type Tracker struct {
	axis     mgl64.Vec3
	baseline mgl64.Quat
	previous mgl64.Quat
}

// NewTracker starts tracking at baseline, the joint's zero reference.
func NewTracker(baseline mgl64.Quat, axis mgl64.Vec3) *Tracker {
	b := geom.NormalizeQuat(baseline)
	return &Tracker{axis: axis, baseline: b, previous: b}
}

// Axis returns the tracked twist axis.
func (t *Tracker) Axis() mgl64.Vec3 { return t.axis }

// Baseline returns the zero reference orientation.
func (t *Tracker) Baseline() mgl64.Quat { return t.baseline }

// Step returns the signed rotation since the previous call and remembers current.
func (t *Tracker) Step(current mgl64.Quat) float64 {
	d := Twist(t.previous, current, t.axis)
	t.previous = geom.NormalizeQuat(current)
	return d
}

// Angle returns the rotation of current relative to the baseline.
func (t *Tracker) Angle(current mgl64.Quat) float64 {
	return Twist(t.baseline, current, t.axis)
}

// Rebase sets previous to current without reporting a delta, used after teleports.
func (t *Tracker) Rebase(current mgl64.Quat) {
	t.previous = geom.NormalizeQuat(current)
}
