package sim_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/rigsim/internal/asset"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/mesh"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/reconcile"
	"github.com/zeusync/rigsim/internal/core/rig"
	"github.com/zeusync/rigsim/internal/core/robot"
	"github.com/zeusync/rigsim/internal/core/scene"
	"github.com/zeusync/rigsim/internal/core/sensor"
	"github.com/zeusync/rigsim/internal/core/sim"
	"github.com/zeusync/rigsim/internal/core/units"
)

const dt = 1.0 / 60

// gatedSource serves the embedded robot and blocks "gate://" imports until released.
type gatedSource struct {
	*asset.FileSource

	mu      sync.Mutex
	gates   map[string]chan struct{}
	imports map[string]int
	manErr  error
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		FileSource: asset.NewFileSource(log.NewNop()),
		gates:      make(map[string]chan struct{}),
		imports:    make(map[string]int),
	}
}

func (g *gatedSource) gate(uri string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[uri]
	if !ok {
		ch = make(chan struct{})
		g.gates[uri] = ch
	}
	return ch
}

func (g *gatedSource) release(uri string) { close(g.gate(uri)) }

func (g *gatedSource) count(uri string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.imports[uri]
}

func (g *gatedSource) Import(ctx context.Context, uri string) (*mesh.Library, error) {
	g.mu.Lock()
	g.imports[uri]++
	g.mu.Unlock()
	if !strings.HasPrefix(uri, "gate://") {
		return g.FileSource.Import(ctx, uri)
	}
	select {
	case <-g.gate(uri):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	lib := mesh.NewLibrary()
	verts, idx := asset.Box(mgl64.Vec3{0.1, 0.1, 0.1})
	err := lib.Add(&mesh.Mesh{Name: "crate", Rotation: mgl64.QuatIdent(), Scale: mgl64.Vec3{1, 1, 1}, Vertices: verts, Indices: idx, Visible: true})
	return lib, err
}

func (g *gatedSource) Manifest(ctx context.Context, uri string) (*rig.Manifest, error) {
	if g.manErr != nil {
		return nil, g.manErr
	}
	return g.FileSource.Manifest(ctx, uri)
}

type fixture struct {
	sim    *sim.Simulation
	world  *physics.Arena
	store  *scene.Store
	bus    bus.EventBus
	source *gatedSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	b := bus.New()
	f := &fixture{
		world:  physics.NewArena(log.NewNop()),
		store:  scene.NewStore(),
		bus:    b,
		source: newGatedSource(),
	}
	_, err := f.store.Attach(b)
	require.NoError(t, err)
	f.sim = sim.New(cfg, f.world, f.source, f.store, b, sensor.DefaultRegistry(),
		reconcile.New(b, cfg.Reconcile, log.NewNop()), log.NewNop())
	t.Cleanup(func() { _ = f.sim.Dispose() })
	return f
}

func robotNode(x float64) scene.Node {
	return scene.Node{ID: "robot", Type: scene.NodeRobot, Origin: scene.NewOrigin(mgl64.Vec3{x, 6, 0}, geom.Euler{})}
}

func crateScene(id, uri string) scene.Scene {
	return scene.Scene{
		Geometries: []scene.Geometry{{ID: "g-" + id, Kind: scene.GeometryFile, URI: uri}},
		Nodes: []scene.Node{
			robotNode(0),
			{
				ID:         id,
				Type:       scene.NodeObject,
				GeometryID: "g-" + id,
				Origin:     scene.NewOrigin(mgl64.Vec3{0, 10, 100}, geom.Euler{}),
				Physics:    &scene.PhysicsProps{Mass: 0},
			},
		},
	}
}

func (f *fixture) frameUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if err := f.sim.Frame(dt); err != nil && !errors.Is(err, sim.ErrSceneSuperseded) {
			t.Logf("frame: %v", err)
		}
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func TestInitIsIdempotentAndConcurrent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Add(robotNode(50), scene.SourceLoad))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.sim.Init(context.Background())
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, sim.Ready, f.sim.Lifecycle())
	assert.False(t, f.sim.PhysicsSuspended())
	assert.Equal(t, 1, f.source.count(asset.DemoModel))
	assert.Len(t, f.world.BodyIDs(), 5)
	assert.Len(t, f.sim.Sensors(), 3)

	pose, err := f.sim.Rig().Pose()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pose.Position[0], 1e-9)
	assert.InDelta(t, 0.06, pose.Position[1], 1e-9)
}

func TestInitFailureIsStickyAndLeavesNoBodies(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("manifest unavailable")
	f.source.manErr = boom

	assert.ErrorIs(t, f.sim.Init(context.Background()), boom)
	f.source.manErr = nil
	assert.ErrorIs(t, f.sim.Init(context.Background()), boom)
	assert.Equal(t, sim.Uninitialized, f.sim.Lifecycle())
	assert.Empty(t, f.world.BodyIDs())
	assert.ErrorIs(t, f.sim.Frame(dt), sim.ErrNotReady)
}

func TestFrameStageOrder(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		sim.StageScene, sim.StageCommand, sim.StageMotors, sim.StagePhysics,
		sim.StageEncoders, sim.StageSensors, sim.StageTelemetry, sim.StageReconcile,
	}, f.sim.StageOrder())
}

func TestSceneRequestsCoalesce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sim.Init(context.Background()))

	var mu sync.Mutex
	var loaded, discarded []sim.LoadEvent
	_, err := f.bus.SubscribeTopic(bus.TopicScene, bus.TypeSceneLoaded, func(e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		loaded = append(loaded, e.Data().(sim.LoadEvent))
		return nil
	})
	require.NoError(t, err)
	_, err = f.bus.SubscribeTopic(bus.TopicScene, bus.TypeSceneDiscarded, func(e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		discarded = append(discarded, e.Data().(sim.LoadEvent))
		return nil
	})
	require.NoError(t, err)

	idA := f.sim.RequestScene(crateScene("a", "gate://a"))
	f.sim.RequestScene(crateScene("b", "gate://b"))
	idC := f.sim.RequestScene(crateScene("c", "gate://c"))
	assert.True(t, f.sim.LoadInFlight())

	f.source.release("gate://a")
	f.frameUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(discarded) == 1
	})
	assert.Equal(t, idA, discarded[0].RequestID)
	assert.False(t, f.world.HasBody(sim.SceneBodyPrefix+"a"))

	f.source.release("gate://c")
	f.frameUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(loaded) == 1
	})
	assert.Equal(t, idC, loaded[0].RequestID)
	assert.True(t, f.world.HasBody(sim.SceneBodyPrefix+"c"))
	assert.Zero(t, f.source.count("gate://b"), "superseded pending request never runs")
	assert.False(t, f.sim.LoadInFlight())
}

func TestIdenticalSceneIsNotReloaded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sim.Init(context.Background()))

	sc := crateScene("a", "gate://a")
	f.source.release("gate://a")
	f.sim.RequestScene(sc)
	f.frameUntil(t, func() bool { return f.world.HasBody(sim.SceneBodyPrefix + "a") })

	f.sim.RequestScene(sc)
	assert.False(t, f.sim.LoadInFlight())
	assert.Equal(t, 1, f.source.count("gate://a"))
}

func boxScene() scene.Scene {
	return scene.Scene{
		Geometries: []scene.Geometry{{
			ID:   "box",
			Kind: scene.GeometryBox,
			Size: [3]units.Distance{units.Cm(10), units.Cm(10), units.Cm(10)},
		}},
		Nodes: []scene.Node{
			robotNode(0),
			{
				ID:         "crate",
				Type:       scene.NodeObject,
				GeometryID: "box",
				Origin:     scene.NewOrigin(mgl64.Vec3{0, 5, 100}, geom.Euler{}),
				Physics:    &scene.PhysicsProps{Mass: 2},
			},
		},
	}
}

func TestUserEditTeleportsBody(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Replace(boxScene(), scene.SourceLoad))
	require.NoError(t, f.sim.Init(context.Background()))
	require.True(t, f.world.HasBody(sim.SceneBodyPrefix+"crate"))

	moved := scene.NewOrigin(mgl64.Vec3{40, 5, 100}, geom.Euler{})
	require.NoError(t, f.store.UpdateOrigin("crate", moved, scene.SourceUser))
	require.NoError(t, f.sim.Frame(dt))

	pose, err := f.world.Pose(sim.SceneBodyPrefix + "crate")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, pose.Position[0], 1e-9)
	assert.False(t, f.sim.LoadInFlight(), "origin edits teleport without reloading")
}

func TestPhysicsWriteBackIsNotEchoed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Replace(boxScene(), scene.SourceLoad))
	require.NoError(t, f.sim.Init(context.Background()))

	var changes atomic.Int32
	f.store.Subscribe(func(c scene.Change) {
		if c.Source == scene.SourcePhysics {
			changes.Add(1)
		}
	})

	id := physics.BodyID(sim.SceneBodyPrefix + "crate")
	require.NoError(t, f.world.SetVelocity(id, mgl64.Vec3{0.6, 0, 0}, mgl64.Vec3{}))
	for i := 0; i < 6; i++ {
		require.NoError(t, f.sim.Frame(dt))
	}

	assert.Positive(t, changes.Load())
	n, _ := f.store.Node("crate")
	pose, err := f.world.Pose(id)
	require.NoError(t, err)
	assert.InDelta(t, pose.Position[0]*100, n.Origin.Position[0].Centimeters(), 0.5)
	assert.Greater(t, pose.Position[0], 0.05, "body kept moving; write-back did not teleport it")
	assert.False(t, f.sim.LoadInFlight(), "write-back did not request a reload")
}

func TestWheelCommandsAccumulateEncoderTicks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sim.Init(context.Background()))

	var last robot.Telemetry
	_, err := f.bus.SubscribeTopic(bus.TopicRobot, bus.TypeTelemetry, func(e bus.Event) error {
		last = e.Data().(robot.Telemetry)
		return nil
	})
	require.NoError(t, err)

	var cmd robot.Command
	cmd.MotorSpeeds[0] = 220
	cmd.MotorSpeeds[3] = 220
	cmd.ServoPositions = [robot.NumServos]float64{1024, 1024, 1024, 1024}
	f.sim.Commands().Submit(cmd)
	for i := 0; i < 60; i++ {
		require.NoError(t, f.sim.Frame(dt))
	}

	st := f.sim.State()
	assert.InDelta(t, 326, st.MotorPositions[0], 2)
	assert.InDelta(t, 326, st.MotorPositions[3], 2)
	assert.Equal(t, uint64(59), last.Frame)
	assert.Equal(t, st.MotorPositions, last.MotorPositions)

	f.sim.Commands().ClearPosition(0)
	require.NoError(t, f.sim.Frame(dt))
	st = f.sim.State()
	assert.InDelta(t, 0, st.MotorPositions[0], 10)
	assert.Greater(t, st.MotorPositions[3], int64(300))
}

func TestResetRobotReturnsToLoadedOrigin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Add(robotNode(20), scene.SourceLoad))
	require.NoError(t, f.sim.Init(context.Background()))

	body := f.sim.Rig().BodyID(rig.RoleBody)
	require.NoError(t, f.world.SetVelocity(body, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{}))
	for i := 0; i < 30; i++ {
		require.NoError(t, f.sim.Frame(dt))
	}
	pose, _ := f.sim.Rig().Pose()
	require.Greater(t, pose.Position[2], 0.4)

	f.sim.ResetRobot()
	require.NoError(t, f.sim.Frame(dt))
	pose, _ = f.sim.Rig().Pose()
	assert.InDelta(t, 0.2, pose.Position[0], 1e-9)
	assert.InDelta(t, 0, pose.Position[2], 1e-9)
	st := f.sim.State()
	assert.Zero(t, st.MotorPositions[0], "teleport is not wheel travel")
}

func TestLoadedSceneMovesRobotButUserEditsDoNot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Add(robotNode(0), scene.SourceLoad))
	require.NoError(t, f.sim.Init(context.Background()))

	require.NoError(t, f.store.Replace(scene.Scene{Nodes: []scene.Node{robotNode(50)}}, scene.SourceLoad))
	f.frameUntil(t, func() bool { return !f.sim.LoadInFlight() })
	for i := 0; i < 10; i++ {
		require.NoError(t, f.sim.Frame(dt))
	}
	pose, err := f.sim.Rig().Pose()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pose.Position[0], 1e-3)
	n, _ := f.store.Node("robot")
	assert.InDelta(t, 50, n.Origin.Position[0].Centimeters(), 0.5, "loaded origin survives write-back")

	body := f.sim.Rig().BodyID(rig.RoleBody)
	require.NoError(t, f.world.SetVelocity(body, mgl64.Vec3{0, 0, 1}, mgl64.Vec3{}))
	for i := 0; i < 30; i++ {
		require.NoError(t, f.sim.Frame(dt))
	}
	require.NoError(t, f.store.PutGeometry(scene.Geometry{ID: "ball", Kind: scene.GeometrySphere, Radius: units.Cm(5)}, scene.SourceUser))
	require.NoError(t, f.store.Add(scene.Node{
		ID:         "ball",
		Type:       scene.NodeObject,
		GeometryID: "ball",
		Origin:     scene.NewOrigin(mgl64.Vec3{-50, 5, 0}, geom.Euler{}),
		Physics:    &scene.PhysicsProps{Mass: 0},
	}, scene.SourceUser))
	f.frameUntil(t, func() bool { return f.world.HasBody(sim.SceneBodyPrefix + "ball") })

	pose, err = f.sim.Rig().Pose()
	require.NoError(t, err)
	assert.Greater(t, pose.Position[2], 0.4, "user structural edit kept the robot in place")
}

func TestStructuralChangeLoadsNewBody(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sim.Init(context.Background()))

	require.NoError(t, f.store.PutGeometry(scene.Geometry{ID: "ball", Kind: scene.GeometrySphere, Radius: units.Cm(5)}, scene.SourceUser))
	require.NoError(t, f.store.Add(scene.Node{
		ID:         "ball",
		Type:       scene.NodeObject,
		GeometryID: "ball",
		Origin:     scene.NewOrigin(mgl64.Vec3{0, 5, 50}, geom.Euler{}),
		Physics:    &scene.PhysicsProps{Mass: 1},
	}, scene.SourceUser))

	f.frameUntil(t, func() bool { return f.world.HasBody(sim.SceneBodyPrefix + "ball") })
	nodeID, ok := f.sim.NodeForBody(sim.SceneBodyPrefix + "ball")
	assert.True(t, ok)
	assert.Equal(t, "ball", nodeID)
}

func TestDisposeRemovesEverything(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Replace(boxScene(), scene.SourceLoad))
	require.NoError(t, f.sim.Init(context.Background()))
	require.NotEmpty(t, f.world.BodyIDs())

	require.NoError(t, f.sim.Dispose())
	assert.Empty(t, f.world.BodyIDs())
	assert.ErrorIs(t, f.sim.Frame(dt), sim.ErrDisposed)
	assert.NoError(t, f.sim.Dispose())
}
