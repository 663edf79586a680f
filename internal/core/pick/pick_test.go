package pick

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
)

type nodeMap map[physics.BodyID]string

func (m nodeMap) NodeForBody(id physics.BodyID) (string, bool) {
	n, ok := m[id]
	return n, ok
}

func camera() Camera {
	return Camera{
		Eye:    mgl64.Vec3{0, 0, 5},
		Target: mgl64.Vec3{},
		Up:     mgl64.Vec3{0, 1, 0},
		FovY:   mgl64.DegToRad(60),
		Near:   0.1,
		Far:    100,
	}
}

func TestCenterRayLooksAtTarget(t *testing.T) {
	ray, err := camera().Ray(400, 300, 800, 600)
	require.NoError(t, err)
	assert.InDelta(t, -1, ray.Direction[2], 1e-6)
	assert.InDelta(t, 0, ray.Direction[0], 1e-6)

	// upper half of the screen looks up
	up, err := camera().Ray(400, 100, 800, 600)
	require.NoError(t, err)
	assert.Greater(t, up.Direction[1], 0.0)

	_, err = camera().Ray(0, 0, 0, 600)
	assert.ErrorIs(t, err, ErrViewport)
}

func pickWorld(t *testing.T) *physics.Arena {
	t.Helper()
	world := physics.NewArena(log.NewNop())
	require.NoError(t, world.AddBody("scene/crate", physics.BodyDef{
		Pose:      geom.Identity(),
		Colliders: []physics.Collider{{Name: "crate", Shape: physics.ShapeBox, HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}, Local: geom.Identity()}},
	}))
	require.NoError(t, world.AddBody("debug/gizmo", physics.BodyDef{
		Pose:      geom.NewPose(mgl64.Vec3{0, 0, 2}, mgl64.QuatIdent()),
		Colliders: []physics.Collider{{Name: "gizmo", Shape: physics.ShapeSphere, Radius: 0.1, Local: geom.Identity()}},
	}))
	return world
}

func TestPickPublishesSelection(t *testing.T) {
	b := bus.New()
	var events []bus.Event
	_, err := b.SubscribeTopic(bus.TopicSelection, bus.TypeSelect, func(e bus.Event) error { events = append(events, e); return nil })
	require.NoError(t, err)
	_, err = b.SubscribeTopic(bus.TopicSelection, bus.TypeUnselect, func(e bus.Event) error { events = append(events, e); return nil })
	require.NoError(t, err)

	p := NewPicker(pickWorld(t), nodeMap{"scene/crate": "crate"}, b, log.NewNop())

	sel, ok, err := p.Pick(camera(), 400, 300, 800, 600)
	require.NoError(t, err)
	require.True(t, ok, "unmapped gizmo in front is skipped")
	assert.Equal(t, "crate", sel.NodeID)
	assert.InDelta(t, 0.5, sel.Point[2], 1e-6)

	_, ok, err = p.Pick(camera(), 5, 5, 800, 600)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, events, 2)
	assert.Equal(t, bus.TypeSelect, events[0].Type())
	assert.Equal(t, "crate", events[0].Data().(Selection).NodeID)
	assert.Equal(t, bus.TypeUnselect, events[1].Type())
	assert.Equal(t, bus.SourceUser, events[1].Source())
}
