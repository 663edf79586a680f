// Package physics is the seam between the rig core and a rigid-body engine. Bodies and
// joints live in an arena keyed by stable string ids; nothing above this package holds
// engine-specific handles.
package physics

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
)

// BodyID identifies a rigid body in the arena.
type BodyID string

// JointID identifies a joint in the arena.
type JointID string

// Shape is a collider primitive.
type Shape uint8

const (
	ShapeBox Shape = iota
	ShapeSphere
)

func (s Shape) String() string {
	switch s {
	case ShapeBox:
		return "box"
	case ShapeSphere:
		return "sphere"
	default:
		return "unknown"
	}
}

// ParseShape maps manifest names onto shapes.
func ParseShape(name string) (Shape, bool) {
	switch name {
	case "box":
		return ShapeBox, true
	case "sphere":
		return ShapeSphere, true
	default:
		return 0, false
	}
}

// Collider is one collision shape rigidly attached to a body.
type Collider struct {
	Name        string
	Shape       Shape
	HalfExtents mgl64.Vec3
	Radius      float64
	Mass        float64
	Local       geom.Pose
}

// BodyDef describes a rigid body. A zero Mass makes the body static.
type BodyDef struct {
	Pose        geom.Pose
	Mass        float64
	Friction    float64
	Restitution float64
	Colliders   []Collider
}

// HingeDef is a one-axis rotational constraint between two bodies. Pivots and axes are
// expressed in each body's local frame.
type HingeDef struct {
	Main           BodyID
	Connected      BodyID
	MainPivot      mgl64.Vec3
	ConnectedPivot mgl64.Vec3
	MainAxis       mgl64.Vec3
	ConnectedAxis  mgl64.Vec3
}

// Motor is the drive currently applied to a hinge.
type Motor struct {
	Speed    float64
	MaxForce float64
}

// Hit is a raycast result.
type Hit struct {
	Body     BodyID
	Collider string
	Distance float64
	Point    mgl64.Vec3
}

// Bodies is the read/write surface over rigid body state.
type Bodies interface {
	HasBody(id BodyID) bool
	Pose(id BodyID) (geom.Pose, error)
	SetPose(id BodyID, pose geom.Pose) error
	Velocity(id BodyID) (linear, angular mgl64.Vec3, err error)
	SetVelocity(id BodyID, linear, angular mgl64.Vec3) error
}

// Joints drives hinge motors.
type Joints interface {
	Hinge(id JointID) (HingeDef, error)
	SetMotor(id JointID, speed, maxForce float64) error
	Motor(id JointID) (Motor, error)
}

// Caster answers ray queries against the live world.
type Caster interface {
	Raycast(ray geom.Ray, maxDistance float64, filter func(BodyID) bool) (Hit, bool)
}

// World is the full engine adapter.
type World interface {
	Bodies
	Joints
	Caster

	AddBody(id BodyID, def BodyDef) error
	RemoveBody(id BodyID) error
	AddHinge(id JointID, def HingeDef) error
	RemoveJoint(id JointID) error
	BodyIDs() []BodyID
	Step(dt float64)
}
