// Package pick turns screen taps into scene selections.
package pick

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
)

var ErrViewport = errors.New("invalid viewport")

// Camera is a perspective camera in world space. FovY is in radians.
type Camera struct {
	Eye    mgl64.Vec3
	Target mgl64.Vec3
	Up     mgl64.Vec3
	FovY   float64
	Near   float64
	Far    float64
}

// Ray returns the world ray through pixel (x, y) of a w×h viewport with its origin at
// the top left.
func (c Camera) Ray(x, y float64, w, h int) (geom.Ray, error) {
	if w <= 0 || h <= 0 {
		return geom.Ray{}, fmt.Errorf("%w: %dx%d", ErrViewport, w, h)
	}
	view := mgl64.LookAtV(c.Eye, c.Target, c.Up)
	proj := mgl64.Perspective(c.FovY, float64(w)/float64(h), c.Near, c.Far)
	winY := float64(h) - y
	near, err := mgl64.UnProject(mgl64.Vec3{x, winY, 0}, view, proj, 0, 0, w, h)
	if err != nil {
		return geom.Ray{}, err
	}
	far, err := mgl64.UnProject(mgl64.Vec3{x, winY, 1}, view, proj, 0, 0, w, h)
	if err != nil {
		return geom.Ray{}, err
	}
	ray, ok := geom.NewRay(near, far.Sub(near))
	if !ok {
		return geom.Ray{}, fmt.Errorf("%w: degenerate ray at (%g, %g)", ErrViewport, x, y)
	}
	return ray, nil
}

// NodeMapper maps physics bodies to scene node ids.
type NodeMapper interface {
	NodeForBody(id physics.BodyID) (string, bool)
}

// Selection is published with selection.select events.
type Selection struct {
	NodeID string
	Body   physics.BodyID
	Point  mgl64.Vec3
}

// Picker ray-casts taps against the live world and publishes the outcome.
type Picker struct {
	world  physics.Caster
	nodes  NodeMapper
	bus    bus.EventBus
	logger log.Log
}

func NewPicker(world physics.Caster, nodes NodeMapper, b bus.EventBus, logger log.Log) *Picker {
	return &Picker{world: world, nodes: nodes, bus: b, logger: logger.With(log.Component("pick"))}
}

// Pick selects the nearest scene node under (x, y), or clears the selection when the
// tap hits nothing that maps to a node.
func (p *Picker) Pick(cam Camera, x, y float64, w, h int) (Selection, bool, error) {
	ray, err := cam.Ray(x, y, w, h)
	if err != nil {
		return Selection{}, false, err
	}
	mapped := func(id physics.BodyID) bool {
		_, ok := p.nodes.NodeForBody(id)
		return ok
	}
	var sel Selection
	hit, ok := p.world.Raycast(ray, cam.Far, mapped)
	if ok {
		sel.NodeID, ok = p.nodes.NodeForBody(hit.Body)
		sel.Body = hit.Body
		sel.Point = hit.Point
	}
	if !ok {
		return Selection{}, false, p.bus.PublishToTopic(bus.TopicSelection, bus.NewEvent(bus.TypeUnselect, bus.SourceUser, nil))
	}
	p.logger.Debug("node picked", log.String("node", sel.NodeID))
	return sel, true, p.bus.PublishToTopic(bus.TopicSelection, bus.NewEvent(bus.TypeSelect, bus.SourceUser, sel))
}
