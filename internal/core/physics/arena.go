package physics

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/kinematics"
	"github.com/zeusync/rigsim/internal/core/observability/log"
)

var _ World = (*Arena)(nil)

// AngMotionMax is the largest rotation a free body may take in one step.
const AngMotionMax = math.Pi / 4

type body struct {
	def     BodyDef
	pose    geom.Pose
	linear  mgl64.Vec3
	angular mgl64.Vec3
}

type hinge struct {
	def   HingeDef
	rest  mgl64.Quat // connected relative to main when the hinge was created
	angle float64
	speed float64 // current joint rate, rad/s
	motor Motor
}

// Arena is the in-process reference backend. It is kinematic: free dynamic bodies
// integrate their velocities, hinge joints keep the connected body on its pivot and turn
// it about the hinge axis at the motor rate. There is no gravity and no contact response.
type Arena struct {
	mu     sync.RWMutex
	bodies map[BodyID]*body
	joints map[JointID]*hinge
	order  []JointID
	logger log.Log
}

// NewArena creates an empty arena.
func NewArena(logger log.Log) *Arena {
	return &Arena{
		bodies: make(map[BodyID]*body),
		joints: make(map[JointID]*hinge),
		logger: logger.With(log.Component("physics")),
	}
}

func (a *Arena) AddBody(id BodyID, def BodyDef) error {
	if id == "" || def.Mass < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidBody, id)
	}
	for _, c := range def.Colliders {
		if c.Shape == ShapeSphere && c.Radius <= 0 {
			return fmt.Errorf("%w: %q collider %q has no radius", ErrInvalidBody, id, c.Name)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bodies[id]; ok {
		return fmt.Errorf("%w: %q", ErrBodyExists, id)
	}
	def.Pose.Rotation = geom.NormalizeQuat(def.Pose.Rotation)
	a.bodies[id] = &body{def: def, pose: def.Pose}
	return nil
}

func (a *Arena) RemoveBody(id BodyID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bodies[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBody, id)
	}
	for jid, j := range a.joints {
		if j.def.Main == id || j.def.Connected == id {
			return fmt.Errorf("%w: %q by %q", ErrBodyInUse, id, jid)
		}
	}
	delete(a.bodies, id)
	return nil
}

func (a *Arena) HasBody(id BodyID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.bodies[id]
	return ok
}

func (a *Arena) BodyIDs() []BodyID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]BodyID, 0, len(a.bodies))
	for id := range a.bodies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (a *Arena) Pose(id BodyID) (geom.Pose, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.bodies[id]
	if !ok {
		return geom.Pose{}, fmt.Errorf("%w: %q", ErrUnknownBody, id)
	}
	return b.pose, nil
}

// SetPose teleports a body. Bodies hanging off it through hinges follow immediately.
// Teleporting a hinge-driven body sets the joint angle to the twist of the new pose
// about the hinge axis; the body is then snapped back onto its pivot.
func (a *Arena) SetPose(id BodyID, pose geom.Pose) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bodies[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBody, id)
	}
	b.pose = geom.NewPose(pose.Position, pose.Rotation)
	if j := a.drivingJointLocked(id); j != nil {
		main := a.bodies[j.def.Main]
		rel := geom.RelativeRotation(main.pose.Rotation, b.pose.Rotation)
		j.angle = kinematics.Twist(j.rest, rel, j.def.ConnectedAxis)
	}
	a.solveLocked(0)
	return nil
}

func (a *Arena) Velocity(id BodyID) (mgl64.Vec3, mgl64.Vec3, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.bodies[id]
	if !ok {
		return mgl64.Vec3{}, mgl64.Vec3{}, fmt.Errorf("%w: %q", ErrUnknownBody, id)
	}
	if j := a.drivingJointLocked(id); j != nil {
		return b.linear, a.jointAngularLocked(j), nil
	}
	return b.linear, b.angular, nil
}

// SetVelocity sets a body's velocities. For a body driven by a hinge, the angular
// component along the hinge axis becomes the joint's current rate.
func (a *Arena) SetVelocity(id BodyID, linear, angular mgl64.Vec3) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bodies[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBody, id)
	}
	b.linear = linear
	b.angular = angular
	if j := a.drivingJointLocked(id); j != nil {
		parent := a.bodies[j.def.Main]
		axis := b.pose.Rotation.Rotate(j.def.ConnectedAxis)
		j.speed = angular.Sub(parent.angular).Dot(axis)
	}
	return nil
}

func (a *Arena) AddHinge(id JointID, def HingeDef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.joints[id]; ok {
		return fmt.Errorf("%w: %q", ErrJointExists, id)
	}
	main, ok := a.bodies[def.Main]
	if !ok {
		return fmt.Errorf("%w: %q main %q", ErrUnknownBody, id, def.Main)
	}
	conn, ok := a.bodies[def.Connected]
	if !ok {
		return fmt.Errorf("%w: %q connected %q", ErrUnknownBody, id, def.Connected)
	}
	if def.Main == def.Connected || a.drivingJointLocked(def.Connected) != nil {
		return fmt.Errorf("%w: %q", ErrInvalidHinge, id)
	}
	mainAxis, ok1 := geom.NormalizeVec(def.MainAxis)
	connAxis, ok2 := geom.NormalizeVec(def.ConnectedAxis)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: %q has a zero axis", ErrInvalidHinge, id)
	}
	def.MainAxis, def.ConnectedAxis = mainAxis, connAxis
	a.joints[id] = &hinge{
		def:  def,
		rest: geom.RelativeRotation(main.pose.Rotation, conn.pose.Rotation),
	}
	a.order = append(a.order, id)
	a.sortJointsLocked()
	return nil
}

func (a *Arena) RemoveJoint(id JointID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.joints[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJoint, id)
	}
	delete(a.joints, id)
	for i, jid := range a.order {
		if jid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

func (a *Arena) Hinge(id JointID) (HingeDef, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	j, ok := a.joints[id]
	if !ok {
		return HingeDef{}, fmt.Errorf("%w: %q", ErrUnknownJoint, id)
	}
	return j.def, nil
}

func (a *Arena) SetMotor(id JointID, speed, maxForce float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.joints[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJoint, id)
	}
	j.motor = Motor{Speed: speed, MaxForce: maxForce}
	return nil
}

func (a *Arena) Motor(id JointID) (Motor, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	j, ok := a.joints[id]
	if !ok {
		return Motor{}, fmt.Errorf("%w: %q", ErrUnknownJoint, id)
	}
	return j.motor, nil
}

// Step advances the arena by dt seconds.
func (a *Arena) Step(dt float64) {
	if dt <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, b := range a.bodies {
		if b.def.Mass == 0 || a.drivingJointLocked(id) != nil {
			continue
		}
		b.pose.Position = b.pose.Position.Add(b.linear.Mul(dt))
		b.pose.Rotation = integrateRotation(b.pose.Rotation, b.angular, dt)
	}
	a.solveLocked(dt)
}

func (a *Arena) Raycast(ray geom.Ray, maxDistance float64, filter func(BodyID) bool) (Hit, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	best := Hit{Distance: math.Inf(1)}
	found := false
	for id, b := range a.bodies {
		if filter != nil && !filter(id) {
			continue
		}
		for _, c := range b.def.Colliders {
			world := b.pose.Mul(c.Local)
			var (
				d   float64
				hit bool
			)
			switch c.Shape {
			case ShapeSphere:
				d, hit = ray.IntersectSphere(world.Position, c.Radius)
			default:
				d, hit = ray.IntersectBox(world, c.HalfExtents)
			}
			if hit && d <= maxDistance && d < best.Distance {
				best = Hit{Body: id, Collider: c.Name, Distance: d, Point: ray.At(d)}
				found = true
			}
		}
	}
	return best, found
}

// solveLocked advances hinge angles by dt and re-places connected bodies, parents first.
func (a *Arena) solveLocked(dt float64) {
	for _, id := range a.order {
		j := a.joints[id]
		main := a.bodies[j.def.Main]
		conn := a.bodies[j.def.Connected]
		if dt > 0 {
			j.speed = approach(j.speed, j.motor.Speed, j.motor.MaxForce, conn.def.Mass, dt)
			j.angle = math.Mod(j.angle+j.speed*dt, 2*math.Pi)
		}
		rot := main.pose.Rotation.Mul(j.rest).Mul(mgl64.QuatRotate(j.angle, j.def.ConnectedAxis))
		conn.pose.Rotation = geom.NormalizeQuat(rot)
		pivot := main.pose.Transform(j.def.MainPivot)
		conn.pose.Position = pivot.Sub(conn.pose.Rotation.Rotate(j.def.ConnectedPivot))
		conn.linear = main.linear
	}
}

// approach moves the joint rate toward target. With a force limit the change per step is
// bounded by maxForce/mass; without one the motor reaches its target immediately.
func approach(current, target, maxForce, mass float64, dt float64) float64 {
	if maxForce <= 0 {
		return target
	}
	if mass <= 0 {
		mass = 1
	}
	limit := maxForce / mass * dt
	diff := target - current
	if math.Abs(diff) <= limit {
		return target
	}
	return current + math.Copysign(limit, diff)
}

func (a *Arena) drivingJointLocked(id BodyID) *hinge {
	for _, j := range a.joints {
		if j.def.Connected == id {
			return j
		}
	}
	return nil
}

func (a *Arena) jointAngularLocked(j *hinge) mgl64.Vec3 {
	parent := a.bodies[j.def.Main]
	conn := a.bodies[j.def.Connected]
	axis := conn.pose.Rotation.Rotate(j.def.ConnectedAxis)
	return parent.angular.Add(axis.Mul(j.speed))
}

// sortJointsLocked orders joints so a joint runs after the joint that moves its main body.
func (a *Arena) sortJointsLocked() {
	placed := make(map[BodyID]bool)
	sorted := make([]JointID, 0, len(a.order))
	pending := append([]JointID(nil), a.order...)
	for len(pending) > 0 {
		progress := false
		rest := pending[:0]
		for _, id := range pending {
			j := a.joints[id]
			if a.drivingJointLocked(j.def.Main) == nil || placed[j.def.Main] {
				sorted = append(sorted, id)
				placed[j.def.Connected] = true
				progress = true
				continue
			}
			rest = append(rest, id)
		}
		pending = rest
		if !progress {
			a.logger.Warn("hinge cycle detected", log.Int("joints", len(pending)))
			sorted = append(sorted, pending...)
			break
		}
	}
	a.order = sorted
}

// integrateRotation steps q by angular velocity w (world frame) over dt.
func integrateRotation(q mgl64.Quat, w mgl64.Vec3, dt float64) mgl64.Quat {
	ang := w.Len()
	if ang < geom.Epsilon {
		return q
	}
	if ang*dt > AngMotionMax {
		ang = AngMotionMax / dt
	}
	axis := w.Mul(1 / w.Len())
	return geom.NormalizeQuat(mgl64.QuatRotate(ang*dt, axis).Mul(q))
}
