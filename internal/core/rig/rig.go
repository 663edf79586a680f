// Package rig cuts an imported robot model into physics bodies joined by hinges.
package rig

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/mesh"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
)

const (
	RoleBody       = "body"
	RoleArm        = "arm"
	RoleClaw       = "claw"
	RoleLeftWheel  = "left_wheel"
	RoleRightWheel = "right_wheel"
)

// JointRole names one of the rig's four hinges.
type JointRole string

const (
	JointLeftWheel  JointRole = "left_wheel"
	JointRightWheel JointRole = "right_wheel"
	JointArm        JointRole = "arm"
	JointClaw       JointRole = "claw"
)

// JointRoles lists every hinge, parents before children.
var JointRoles = []JointRole{JointLeftWheel, JointRightWheel, JointArm, JointClaw}

// BodyPrefix namespaces rig bodies inside the shared physics world.
const BodyPrefix = "robot/"

// Joint is a built hinge and its zero-angle reference.
type Joint struct {
	ID        physics.JointID
	Role      JointRole
	Main      physics.BodyID
	Connected physics.BodyID
	// Axis is the hinge axis in the connected body's frame.
	Axis mgl64.Vec3
	// Baseline is the connected-relative-to-main rotation right after assembly.
	Baseline mgl64.Quat
}

// Mount is a sensor attachment point expressed in its body's frame.
type Mount struct {
	Body  physics.BodyID
	Local geom.Pose
}

// Rig is an assembled robot inside a physics world.
type Rig struct {
	world  physics.World
	meshes *mesh.Library
	bodies map[string]physics.BodyID
	joints map[JointRole]*Joint
	mounts map[string]Mount
	roots  map[string]physics.BodyID
	home   map[physics.BodyID]geom.Pose
	order  []physics.BodyID
	mass   map[physics.BodyID]float64
}

// BodyID returns the physics body for a rig role.
func (r *Rig) BodyID(role string) physics.BodyID { return r.bodies[role] }

// Joint returns the hinge for role.
func (r *Rig) Joint(role JointRole) *Joint { return r.joints[role] }

// Bodies returns every rig body, parents first.
func (r *Rig) Bodies() []physics.BodyID {
	return append([]physics.BodyID(nil), r.order...)
}

// Owns reports whether id belongs to this rig.
func (r *Rig) Owns(id physics.BodyID) bool {
	_, ok := r.home[id]
	return ok
}

// Mounts returns the sensor mounts keyed by sensor id.
func (r *Rig) Mounts() map[string]Mount {
	out := make(map[string]Mount, len(r.mounts))
	for k, v := range r.mounts {
		out[k] = v
	}
	return out
}

// Meshes returns the rig's private, surgically modified copy of the model.
func (r *Rig) Meshes() *mesh.Library { return r.meshes }

// Mass returns the mass assigned to a rig body.
func (r *Rig) Mass(id physics.BodyID) float64 { return r.mass[id] }

// Relative returns the current rotation of a hinge's connected body relative to its
// main body.
func (r *Rig) Relative(role JointRole) (mgl64.Quat, error) {
	j, ok := r.joints[role]
	if !ok {
		return mgl64.Quat{}, fmt.Errorf("unknown joint role %q", role)
	}
	main, err := r.world.Pose(j.Main)
	if err != nil {
		return mgl64.Quat{}, err
	}
	conn, err := r.world.Pose(j.Connected)
	if err != nil {
		return mgl64.Quat{}, err
	}
	return geom.RelativeRotation(main.Rotation, conn.Rotation), nil
}

// Pose returns the main body's world pose.
func (r *Rig) Pose() (geom.Pose, error) {
	return r.world.Pose(r.bodies[RoleBody])
}

// Place teleports the whole rig so its main body sits at origin. Joint angles return to
// their baselines and all velocities and motors are zeroed.
func (r *Rig) Place(origin geom.Pose) error {
	home := r.home[r.bodies[RoleBody]]
	shift := origin.Mul(home.Inverse())
	for _, id := range r.order {
		if err := r.world.SetPose(id, shift.Mul(r.home[id])); err != nil {
			return fmt.Errorf("place %s: %w", id, err)
		}
	}
	return r.Halt()
}

// Halt zeroes every rig velocity and motor.
func (r *Rig) Halt() error {
	for _, j := range r.joints {
		if err := r.world.SetMotor(j.ID, 0, 0); err != nil {
			return err
		}
	}
	for _, id := range r.order {
		if err := r.world.SetVelocity(id, mgl64.Vec3{}, mgl64.Vec3{}); err != nil {
			return err
		}
	}
	return nil
}

// Reset returns the rig to the pose it was assembled in.
func (r *Rig) Reset() error {
	return r.Place(r.home[r.bodies[RoleBody]])
}

// Dispose removes every joint and body the rig created.
func (r *Rig) Dispose() error {
	var errs []error
	for i := len(JointRoles) - 1; i >= 0; i-- {
		if j, ok := r.joints[JointRoles[i]]; ok {
			errs = append(errs, r.world.RemoveJoint(j.ID))
		}
	}
	for i := len(r.order) - 1; i >= 0; i-- {
		errs = append(errs, r.world.RemoveBody(r.order[i]))
	}
	r.joints = map[JointRole]*Joint{}
	r.order = nil
	return errors.Join(errs...)
}

// Builder assembles rigs into a world.
type Builder struct {
	world  physics.World
	tuning config.Tuning
	logger log.Log
}

// NewBuilder returns a builder for world.
func NewBuilder(world physics.World, tuning config.Tuning, logger log.Log) *Builder {
	return &Builder{world: world, tuning: tuning, logger: logger.With(log.Component("rig"))}
}

type compoundRole struct {
	role     string
	spec     CompoundSpec
	mass     float64
	friction float64
}

// Build cuts model into the rig described by manifest. model is not modified. On any
// error nothing the build created is left in the world.
func (b *Builder) Build(model *mesh.Library, manifest *Manifest) (rig *Rig, err error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	r := &Rig{
		world:  b.world,
		meshes: model.Clone(),
		bodies: make(map[string]physics.BodyID),
		joints: make(map[JointRole]*Joint),
		mounts: make(map[string]Mount),
		roots:  make(map[string]physics.BodyID),
		home:   make(map[physics.BodyID]geom.Pose),
		mass:   make(map[physics.BodyID]float64),
	}
	defer func() {
		if err != nil {
			if derr := r.Dispose(); derr != nil {
				b.logger.Warn("rig rollback incomplete", log.Error(derr))
			}
			rig = nil
		}
	}()

	compounds := []compoundRole{
		{RoleBody, manifest.Body, orDefault(manifest.Body.Mass, b.tuning.BodyMass), orDefault(manifest.Body.Friction, b.tuning.BodyFriction)},
		{RoleArm, manifest.Arm, orDefault(manifest.Arm.Mass, b.tuning.ArmMass), orDefault(manifest.Arm.Friction, b.tuning.ArmFriction)},
		{RoleClaw, manifest.Claw, orDefault(manifest.Claw.Mass, b.tuning.ClawMass), orDefault(manifest.Claw.Friction, b.tuning.ClawFriction)},
	}
	defs := make(map[string]physics.BodyDef, 5)
	for _, c := range compounds {
		def, err := b.compound(r.meshes, c)
		if err != nil {
			return nil, err
		}
		defs[c.role] = def
	}
	wheels := []struct {
		role string
		spec WheelSpec
	}{
		{RoleLeftWheel, manifest.Wheels.Left},
		{RoleRightWheel, manifest.Wheels.Right},
	}
	for _, w := range wheels {
		def, err := b.wheel(r.meshes, w.role, w.spec)
		if err != nil {
			return nil, err
		}
		defs[w.role] = def
	}

	for _, role := range []string{RoleBody, RoleLeftWheel, RoleRightWheel, RoleArm, RoleClaw} {
		id := physics.BodyID(BodyPrefix + role)
		if err := b.world.AddBody(id, defs[role]); err != nil {
			return nil, fmt.Errorf("add %s body: %w", role, err)
		}
		r.bodies[role] = id
		r.order = append(r.order, id)
		r.mass[id] = defs[role].Mass
	}
	for _, c := range compounds {
		r.roots[c.spec.Root] = r.bodies[c.role]
	}

	pairs := map[JointRole][2]string{
		JointLeftWheel:  {RoleBody, RoleLeftWheel},
		JointRightWheel: {RoleBody, RoleRightWheel},
		JointArm:        {RoleBody, RoleArm},
		JointClaw:       {RoleArm, RoleClaw},
	}
	specs := manifest.jointSpecs()
	for _, role := range JointRoles {
		pair := pairs[role]
		j, err := b.hinge(r, role, specs[role], r.bodies[pair[0]], r.bodies[pair[1]])
		if err != nil {
			return nil, err
		}
		r.joints[role] = j
	}

	for _, role := range JointRoles {
		rel, err := r.Relative(role)
		if err != nil {
			return nil, err
		}
		r.joints[role].Baseline = rel
	}
	for _, id := range r.order {
		pose, err := b.world.Pose(id)
		if err != nil {
			return nil, err
		}
		r.home[id] = pose
	}

	for sensorID, meshName := range manifest.Sensors {
		m, err := b.mount(r, meshName)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", sensorID, err)
		}
		r.mounts[sensorID] = m
	}

	b.logger.Info("rig built",
		log.Int("bodies", len(r.order)),
		log.Int("joints", len(r.joints)),
		log.Int("mounts", len(r.mounts)),
	)
	return r, nil
}

// compound detaches the root and every collider mesh, bakes mirrored scales, and wraps
// each collider in a shape positioned relative to the root.
func (b *Builder) compound(lib *mesh.Library, c compoundRole) (physics.BodyDef, error) {
	if _, ok := lib.Get(c.spec.Root); !ok {
		return physics.BodyDef{}, &MissingColliderError{Mesh: c.spec.Root, Role: c.role}
	}
	if err := lib.Detach(c.spec.Root); err != nil {
		return physics.BodyDef{}, err
	}
	rootPose, err := lib.WorldPose(c.spec.Root)
	if err != nil {
		return physics.BodyDef{}, err
	}

	def := physics.BodyDef{Pose: rootPose, Mass: c.mass, Friction: c.friction}
	for _, cs := range c.spec.Colliders {
		if _, ok := lib.Get(cs.Name); !ok {
			return physics.BodyDef{}, &MissingColliderError{Mesh: cs.Name, Role: c.role}
		}
		col, err := collider(lib, cs.Name, cs.Shape)
		if err != nil {
			return physics.BodyDef{}, fmt.Errorf("%s collider %s: %w", c.role, cs.Name, err)
		}
		pose, err := lib.WorldPose(cs.Name)
		if err != nil {
			return physics.BodyDef{}, err
		}
		col.Local = pose.RelativeTo(rootPose).Mul(col.Local)
		col.Mass = cs.Mass
		def.Colliders = append(def.Colliders, col)
		if err := lib.Reparent(cs.Name, c.spec.Root); err != nil {
			return physics.BodyDef{}, err
		}
	}
	return def, nil
}

func (b *Builder) wheel(lib *mesh.Library, role string, spec WheelSpec) (physics.BodyDef, error) {
	if _, ok := lib.Get(spec.Mesh); !ok {
		return physics.BodyDef{}, &MissingColliderError{Mesh: spec.Mesh, Role: role}
	}
	col, err := collider(lib, spec.Mesh, spec.Shape)
	if err != nil {
		return physics.BodyDef{}, fmt.Errorf("%s: %w", role, err)
	}
	pose, err := lib.WorldPose(spec.Mesh)
	if err != nil {
		return physics.BodyDef{}, err
	}
	return physics.BodyDef{
		Pose:      pose,
		Mass:      orDefault(spec.Mass, b.tuning.WheelMass),
		Friction:  orDefault(spec.Friction, b.tuning.WheelFriction),
		Colliders: []physics.Collider{col},
	}, nil
}

// collider detaches and bakes the named mesh, then fits a shape to its scaled vertices.
// The returned collider's Local pose is relative to the mesh's own frame.
func collider(lib *mesh.Library, name, shape string) (physics.Collider, error) {
	if err := lib.Detach(name); err != nil {
		return physics.Collider{}, err
	}
	if _, err := lib.BakeNegativeScale(name); err != nil {
		return physics.Collider{}, err
	}
	m, _ := lib.Get(name)
	points := make([]mgl64.Vec3, len(m.Vertices))
	for i, v := range m.Vertices {
		points[i] = geom.MulElem(m.Scale, v)
	}
	bounds, ok := geom.BoundsOf(points)
	if !ok {
		return physics.Collider{}, fmt.Errorf("mesh %q has no vertices", name)
	}
	s, _ := physics.ParseShape(shape)
	center := bounds.Center()
	col := physics.Collider{
		Name:  name,
		Shape: s,
		Local: geom.NewPose(center, mgl64.QuatIdent()),
	}
	switch s {
	case physics.ShapeSphere:
		for _, p := range points {
			col.Radius = math.Max(col.Radius, p.Sub(center).Len())
		}
		if col.Radius < geom.Epsilon {
			return physics.Collider{}, fmt.Errorf("mesh %q is degenerate", name)
		}
	default:
		col.HalfExtents = bounds.HalfExtents()
	}
	return col, nil
}

// hinge resolves the pivot and axis in world space, then expresses both in each body's
// frame.
func (b *Builder) hinge(r *Rig, role JointRole, spec JointSpec, main, conn physics.BodyID) (*Joint, error) {
	pivotPose, err := r.meshes.WorldPose(spec.Pivot)
	if err != nil {
		return nil, &MissingColliderError{Mesh: spec.Pivot, Role: string(role)}
	}
	var axis mgl64.Vec3
	if len(spec.Axis) == 3 {
		axis = vec3(spec.Axis)
	} else {
		hornPose, err := r.meshes.WorldPose(spec.Horn)
		if err != nil {
			return nil, &MissingColliderError{Mesh: spec.Horn, Role: string(role)}
		}
		axis = hornPose.Rotation.Rotate(vec3(spec.Reference))
	}
	axis, ok := geom.NormalizeVec(axis)
	if !ok {
		return nil, fmt.Errorf("%w: joint %s has a zero axis", ErrInvalidManifest, role)
	}

	mainPose, err := b.world.Pose(main)
	if err != nil {
		return nil, err
	}
	connPose, err := b.world.Pose(conn)
	if err != nil {
		return nil, err
	}
	def := physics.HingeDef{
		Main:           main,
		Connected:      conn,
		MainPivot:      mainPose.InverseTransform(pivotPose.Position),
		ConnectedPivot: connPose.InverseTransform(pivotPose.Position),
		MainAxis:       mainPose.Rotation.Inverse().Rotate(axis),
		ConnectedAxis:  connPose.Rotation.Inverse().Rotate(axis),
	}
	id := physics.JointID(BodyPrefix + string(role))
	if err := b.world.AddHinge(id, def); err != nil {
		return nil, fmt.Errorf("add %s hinge: %w", role, err)
	}
	return &Joint{
		ID:        id,
		Role:      role,
		Main:      main,
		Connected: conn,
		Axis:      def.ConnectedAxis,
	}, nil
}

// mount finds which compound the mesh hangs under and expresses its pose in that body.
// Meshes outside every compound mount on the main body.
func (b *Builder) mount(r *Rig, meshName string) (Mount, error) {
	pose, err := r.meshes.WorldPose(meshName)
	if err != nil {
		return Mount{}, &MissingColliderError{Mesh: meshName, Role: "sensor"}
	}
	owner := r.bodies[RoleBody]
	for name := meshName; name != ""; {
		if id, ok := r.roots[name]; ok {
			owner = id
			break
		}
		m, ok := r.meshes.Get(name)
		if !ok {
			break
		}
		name = m.Parent
	}
	return Mount{Body: owner, Local: pose.RelativeTo(r.home[owner])}, nil
}
