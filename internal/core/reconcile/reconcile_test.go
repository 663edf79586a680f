package reconcile_test

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/reconcile"
	"github.com/zeusync/rigsim/internal/core/scene"
	"github.com/zeusync/rigsim/internal/core/units"
)

func crate() scene.Node {
	return scene.Node{
		ID:   "crate",
		Type: scene.NodeObject,
		Origin: scene.Origin{
			Position:    [3]units.Distance{units.M(1), units.Cm(20), units.Cm(0)},
			Orientation: [3]units.Angle{units.Deg(0), units.Deg(0), units.Deg(0)},
		},
		Physics: &scene.PhysicsProps{Mass: 1},
	}
}

func newReconciler(b bus.EventBus) *reconcile.Reconciler {
	return reconcile.New(b, config.Default().Reconcile, log.NewNop())
}

func TestPositionThresholdIsStrict(t *testing.T) {
	r := newReconciler(bus.New())
	n := crate()

	small := geom.NewPose(mgl64.Vec3{1.004, 0.2, 0}, mgl64.QuatIdent())
	assert.Empty(t, r.Diff([]scene.Node{n}, map[string]geom.Pose{"crate": small}))

	large := geom.NewPose(mgl64.Vec3{1.006, 0.2, 0}, mgl64.QuatIdent())
	patches := r.Diff([]scene.Node{n}, map[string]geom.Pose{"crate": large})
	require.Len(t, patches, 1)
	p := patches[0]
	require.NotNil(t, p.Position[0])
	assert.Equal(t, units.Meters, p.Position[0].Unit)
	assert.InDelta(t, 1.006, p.Position[0].Value, 1e-9)
	assert.Nil(t, p.Position[1])
	assert.Nil(t, p.Position[2])
	assert.Nil(t, p.Orientation)
}

func TestOrientationPatchKeepsUnits(t *testing.T) {
	r := newReconciler(bus.New())
	n := crate()

	tiny := geom.NewPose(mgl64.Vec3{1, 0.2, 0}, mgl64.QuatRotate(0.005, mgl64.Vec3{0, 1, 0}))
	assert.Empty(t, r.Diff([]scene.Node{n}, map[string]geom.Pose{"crate": tiny}))

	turned := geom.NewPose(mgl64.Vec3{1, 0.2, 0}, mgl64.QuatRotate(math.Pi/18, mgl64.Vec3{0, 1, 0}))
	patches := r.Diff([]scene.Node{n}, map[string]geom.Pose{"crate": turned})
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].Orientation)
	o := *patches[0].Orientation
	for _, a := range o {
		assert.Equal(t, units.Degrees, a.Unit)
	}
	assert.InDelta(t, 10, o[1].Value, 1e-6)
	assert.InDelta(t, 0, o[0].Value, 1e-6)
}

func TestNodesWithoutBodiesAreSkipped(t *testing.T) {
	r := newReconciler(bus.New())
	light := scene.Node{ID: "sun", Type: scene.NodeLight}
	assert.Empty(t, r.Diff([]scene.Node{light}, map[string]geom.Pose{}))
}

func TestReconcilePublishesPhysicsSourcedPatches(t *testing.T) {
	b := bus.New()
	store := scene.NewStore()
	require.NoError(t, store.Add(crate(), scene.SourceLoad))
	robot := scene.Node{ID: "robot", Type: scene.NodeRobot, Origin: scene.NewOrigin(mgl64.Vec3{0, 6, 0}, geom.Euler{})}
	require.NoError(t, store.Add(robot, scene.SourceLoad))
	_, err := store.Attach(b)
	require.NoError(t, err)

	var changes []scene.Change
	store.Subscribe(func(c scene.Change) { changes = append(changes, c) })

	r := newReconciler(b)
	poses := map[string]geom.Pose{
		"crate": geom.NewPose(mgl64.Vec3{1, 0.2, 0}, mgl64.QuatIdent()),
		"robot": geom.NewPose(mgl64.Vec3{0.3, 0.06, 0}, mgl64.QuatIdent()),
	}
	n, err := r.Reconcile(store.Snapshot().Nodes, poses)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, changes, 1)
	assert.Equal(t, scene.SourcePhysics, changes[0].Source)
	assert.Equal(t, []string{"robot"}, changes[0].NodeIDs)
	got, _ := store.Node("robot")
	assert.InDelta(t, 30, got.Origin.Position[0].Value, 1e-9)
	assert.Equal(t, units.Centimeters, got.Origin.Position[0].Unit)
}

func TestSuspendedReconcilerPublishesNothing(t *testing.T) {
	b := bus.New()
	calls := 0
	_, err := b.SubscribeTopic(bus.TopicScene, bus.TypeOriginUpdateRequest, func(bus.Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	r := newReconciler(b)
	r.Suspend()
	moved := map[string]geom.Pose{"crate": geom.NewPose(mgl64.Vec3{2, 0.2, 0}, mgl64.QuatIdent())}
	n, err := r.Reconcile([]scene.Node{crate()}, moved)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, calls)

	r.Resume()
	_, err = r.Reconcile([]scene.Node{crate()}, moved)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
