// Package sensor models the robot's physical sensors as ray probes against the live
// world.
package sensor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/robot"
)

// AnalogMax is the full-scale reading of an analog port.
const AnalogMax = 4095

// World is what sensors read each frame.
type World interface {
	Pose(id physics.BodyID) (geom.Pose, error)
	physics.Caster
}

// Object is one simulated sensor.
type Object interface {
	ID() string
	// Update samples the world. ignore reports bodies the probe passes through.
	Update(world World, ignore func(physics.BodyID) bool) error
	// UpdateVisual refreshes the debug segment from the last sample.
	UpdateVisual()
	IsVisible() bool
	SetVisible(visible bool)
	// Visual returns the debug segment in world space.
	Visual() Segment
	// ApplyToState writes the last sample into the robot state.
	ApplyToState(state *robot.State)
}

// Segment is a debug line from Start to End. Hit marks whether the probe touched
// anything.
type Segment struct {
	Start mgl64.Vec3
	End   mgl64.Vec3
	Hit   bool
}

// probe is the ray sampling shared by every variant.
type probe struct {
	id      string
	mount   physics.BodyID
	local   geom.Pose
	dir     mgl64.Vec3 // in mount frame
	rng     float64
	visible bool

	origin   mgl64.Vec3
	worldDir mgl64.Vec3
	hit      physics.Hit
	hasHit   bool
	visual   Segment
}

func (p *probe) ID() string              { return p.id }
func (p *probe) IsVisible() bool         { return p.visible }
func (p *probe) SetVisible(visible bool) { p.visible = visible }
func (p *probe) Visual() Segment         { return p.visual }

func (p *probe) Update(world World, ignore func(physics.BodyID) bool) error {
	body, err := world.Pose(p.mount)
	if err != nil {
		return err
	}
	at := body.Mul(p.local)
	p.origin = at.Position
	p.worldDir = at.Rotation.Rotate(p.dir)
	ray, ok := geom.NewRay(p.origin, p.worldDir)
	if !ok {
		p.hasHit = false
		return nil
	}
	filter := func(id physics.BodyID) bool { return ignore == nil || !ignore(id) }
	p.hit, p.hasHit = world.Raycast(ray, p.rng, filter)
	return nil
}

func (p *probe) UpdateVisual() {
	end := p.origin.Add(p.worldDir.Mul(p.rng))
	if p.hasHit {
		end = p.hit.Point
	}
	p.visual = Segment{Start: p.origin, End: end, Hit: p.hasHit}
}

// distance returns the sampled distance, or the range when nothing was hit.
func (p *probe) distance() float64 {
	if p.hasHit {
		return p.hit.Distance
	}
	return p.rng
}

func clampAnalog(v float64) float64 {
	return math.Max(0, math.Min(AnalogMax, math.Round(v)))
}

// ETSensor is a forward-looking distance sensor. Readings rise as obstacles get closer.
type ETSensor struct {
	probe
	port int
}

func (s *ETSensor) ApplyToState(state *robot.State) {
	if !s.hasHit {
		state.Analog[s.port] = 0
		return
	}
	state.Analog[s.port] = clampAnalog(AnalogMax * (1 - s.distance()/s.rng))
}

// ReflectanceSensor looks down at the floor. Readings are low over a near, bright
// surface and saturate when nothing reflects.
type ReflectanceSensor struct {
	probe
	port int
}

func (s *ReflectanceSensor) ApplyToState(state *robot.State) {
	state.Analog[s.port] = clampAnalog(AnalogMax * s.distance() / s.rng)
}

// TouchSensor is a short contact probe on a digital port.
type TouchSensor struct {
	probe
	port int
}

func (s *TouchSensor) ApplyToState(state *robot.State) {
	state.Digital[s.port] = s.hasHit
}
