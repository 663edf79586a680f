// Package sim owns the simulation lifecycle and the frame loop that ties the rig,
// the scene and the physics world together.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/asset"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/motor"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/reconcile"
	"github.com/zeusync/rigsim/internal/core/rig"
	"github.com/zeusync/rigsim/internal/core/robot"
	"github.com/zeusync/rigsim/internal/core/scene"
	"github.com/zeusync/rigsim/internal/core/sensor"
	"github.com/zeusync/rigsim/internal/core/systems"
)

// Simulation is the single owner of the physics world. Frame must be called from one
// goroutine; every other method is safe for concurrent use unless noted.
type Simulation struct {
	cfg        *config.Config
	world      physics.World
	assets     asset.Source
	store      *scene.Store
	bus        bus.EventBus
	registry   *sensor.Registry
	reconciler *reconcile.Reconciler
	systems    *systems.Manager
	logger     log.Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	initOnce  sync.Once
	initErr   error
	lifecycle atomic.Int32
	suspended atomic.Bool
	disposed  atomic.Bool

	// Owned by the frame loop.
	rig        *rig.Rig
	controller *motor.Controller
	encoders   *robot.Encoders
	probes     []sensor.Object
	state      *robot.State
	clear      [robot.NumMotors]bool
	frame      uint64
	robotHome  *geom.Pose
	commands   *robot.CommandBox

	bodyMu    sync.RWMutex
	bodies    map[string]physics.BodyID
	robotNode string

	mu         sync.Mutex
	generation uint64
	applied    uint64
	running    bool
	pending    *loadRequest
	results    chan loadResult
	edits      []string
	reset      bool
	// placeGen is the newest request that must put the robot at its authored origin;
	// placedGen is the last one that did.
	placeGen  uint64
	placedGen uint64

	unsubscribe func()
}

// New wires a simulation. Nothing touches the world until Init.
func New(
	cfg *config.Config,
	world physics.World,
	assets asset.Source,
	store *scene.Store,
	b bus.EventBus,
	registry *sensor.Registry,
	reconciler *reconcile.Reconciler,
	logger log.Log,
) *Simulation {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulation{
		cfg:        cfg,
		world:      world,
		assets:     assets,
		store:      store,
		bus:        b,
		registry:   registry,
		reconciler: reconciler,
		systems:    systems.NewManager(),
		logger:     logger.With(log.Component("sim")),
		ctx:        ctx,
		cancel:     cancel,
		state:      robot.NewState(cfg.Tuning.ServoMidTicks),
		commands:   robot.NewCommandBox(cfg.Tuning.ServoMidTicks),
		bodies:     make(map[string]physics.BodyID),
		results:    make(chan loadResult, 1),
	}
	s.registerSystems()
	s.systems.OnSystemError(func(name string, err error) {
		s.logger.Debug("frame stage failed", log.String("stage", name), log.Error(err))
	})
	s.unsubscribe = store.Subscribe(s.onSceneChange)
	return s
}

func (s *Simulation) Lifecycle() Lifecycle { return Lifecycle(s.lifecycle.Load()) }

// PhysicsSuspended reports whether stepping is paused for a load.
func (s *Simulation) PhysicsSuspended() bool { return s.suspended.Load() }

// Commands is the mailbox external programs write into.
func (s *Simulation) Commands() *robot.CommandBox { return s.commands }

// Rig returns the assembled rig, nil before Init.
func (s *Simulation) Rig() *rig.Rig { return s.rig }

// Sensors returns the instantiated sensors.
func (s *Simulation) Sensors() []sensor.Object { return s.probes }

// State returns a copy of the frame loop's robot state. Call between frames.
func (s *Simulation) State() robot.State { return *s.state }

// FrameCount returns the number of completed frames.
func (s *Simulation) FrameCount() uint64 { return s.frame }

func (s *Simulation) setLifecycle(to Lifecycle) {
	from := Lifecycle(s.lifecycle.Swap(int32(to)))
	if from == to {
		return
	}
	s.logger.Info("lifecycle changed", log.String("from", from.String()), log.String("to", to.String()))
	_ = s.bus.PublishToTopic(bus.TopicSim, bus.NewEvent(bus.TypeLifecycle, bus.SourceSim, LifecycleEvent{From: from, To: to}))
}

// Init builds the rig and loads the current scene. It runs once; every call returns the
// result of that single run, waiting for it if it is still in flight.
func (s *Simulation) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.init(ctx)
	})
	return s.initErr
}

func (s *Simulation) init(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	s.setLifecycle(Loading)
	s.suspended.Store(true)
	s.reconciler.Suspend()

	if err := s.buildRig(ctx); err != nil {
		s.setLifecycle(Uninitialized)
		s.logger.Error("initialization failed", log.Error(err))
		return err
	}

	sc := s.store.Snapshot()
	req := s.newRequest(sc)
	res := s.load(ctx, req)
	if res.err == nil {
		res.err = s.applyScene(res, true)
	}
	if res.err != nil {
		_ = s.rig.Dispose()
		s.setLifecycle(Uninitialized)
		s.logger.Error("initial scene load failed", log.Error(res.err))
		return res.err
	}
	s.dropPendingBefore(req.generation)

	s.suspended.Store(false)
	s.reconciler.Resume()
	s.setLifecycle(Ready)
	return nil
}

func (s *Simulation) buildRig(ctx context.Context) error {
	modelURI := orDefault(s.cfg.Assets.RobotModel, asset.DemoModel)
	manifestURI := orDefault(s.cfg.Assets.RigManifest, asset.DemoManifest)
	model, err := s.assets.Import(ctx, modelURI)
	if err != nil {
		return fmt.Errorf("import robot model: %w", err)
	}
	manifest, err := s.assets.Manifest(ctx, manifestURI)
	if err != nil {
		return fmt.Errorf("read rig manifest: %w", err)
	}
	r, err := rig.NewBuilder(s.world, s.cfg.Tuning, s.logger).Build(model, manifest)
	if err != nil {
		return err
	}
	probes, err := s.registry.Instantiate(r.Mounts())
	if err != nil {
		_ = r.Dispose()
		return fmt.Errorf("sensors: %w", err)
	}
	for _, p := range probes {
		p.SetVisible(s.cfg.Simulation.ShowSensorRays)
	}
	r.Meshes().SetCollidersVisible(s.cfg.Simulation.ShowColliders)
	encoders, err := robot.NewEncoders(r, s.cfg.Tuning)
	if err != nil {
		_ = r.Dispose()
		return err
	}
	s.rig = r
	s.probes = probes
	s.encoders = encoders
	s.controller = motor.NewController(s.world, r, s.cfg.Tuning)
	return nil
}

// OpenScene decodes a scene description and makes it the current scene.
func (s *Simulation) OpenScene(r io.Reader) error {
	sc, err := scene.Decode(r)
	if err != nil {
		return err
	}
	return s.store.Replace(sc, scene.SourceLoad)
}

// ResetRobot returns the robot to the origin it was last loaded or moved to, at the
// start of the next frame. Physics write-back does not change that origin.
func (s *Simulation) ResetRobot() {
	s.mu.Lock()
	s.reset = true
	s.mu.Unlock()
}

// SetCollidersVisible toggles the debug visibility of the rig's collider meshes.
func (s *Simulation) SetCollidersVisible(visible bool) error {
	if s.Lifecycle() != Ready {
		return ErrNotReady
	}
	s.rig.Meshes().SetCollidersVisible(visible)
	return nil
}

// SetSensorRaysVisible toggles every sensor's debug segment.
func (s *Simulation) SetSensorRaysVisible(visible bool) {
	for _, p := range s.probes {
		p.SetVisible(visible)
	}
}

// NodeForBody maps a physics body back to the scene node it represents.
func (s *Simulation) NodeForBody(id physics.BodyID) (string, bool) {
	s.bodyMu.RLock()
	defer s.bodyMu.RUnlock()
	if s.rig != nil && s.rig.Owns(id) {
		return s.robotNode, s.robotNode != ""
	}
	nodeID, ok := nodeOfBody(id)
	if !ok {
		return "", false
	}
	_, live := s.bodies[nodeID]
	return nodeID, live
}

// BodyForNode returns the physics body of a scene node.
func (s *Simulation) BodyForNode(nodeID string) (physics.BodyID, bool) {
	s.bodyMu.RLock()
	defer s.bodyMu.RUnlock()
	if nodeID == s.robotNode && s.rig != nil {
		return s.rig.BodyID(rig.RoleBody), true
	}
	id, ok := s.bodies[nodeID]
	return id, ok
}

// onSceneChange reacts to committed store changes. Physics-sourced changes are this
// simulation's own write-back and are ignored. Loaded scenes place the robot at their
// origin; user structural edits keep it where it is.
func (s *Simulation) onSceneChange(c scene.Change) {
	if c.Source == scene.SourcePhysics {
		return
	}
	if c.Kind.Structural() {
		s.requestScene(s.store.Snapshot(), c.Source == scene.SourceLoad)
		return
	}
	s.mu.Lock()
	s.edits = append(s.edits, c.NodeIDs...)
	s.mu.Unlock()
}

// Frame advances the simulation by dt seconds.
func (s *Simulation) Frame(dt float64) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if s.Lifecycle() != Ready {
		return ErrNotReady
	}
	if limit := s.cfg.Simulation.MaxStep.Seconds(); limit > 0 && dt > limit {
		dt = limit
	}
	err := errors.Join(
		s.systems.UpdatePhase(systems.PhasePreRender, dt),
		s.systems.UpdatePhase(systems.PhasePostRender, dt),
	)
	s.frame++
	return err
}

// Run drives Frame at the configured rate until ctx is done.
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	rate := s.cfg.Simulation.FrameRate
	if rate <= 0 {
		rate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := s.Frame(dt); err != nil {
				if errors.Is(err, ErrDisposed) {
					return err
				}
				s.logger.Warn("frame failed", log.Uint64("frame", s.frame), log.Error(err))
			}
		}
	}
}

// Dispose stops pending loads and removes everything this simulation added to the world.
func (s *Simulation) Dispose() error {
	if s.disposed.Swap(true) {
		return nil
	}
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()

	var errs []error
	s.bodyMu.Lock()
	for _, id := range s.bodies {
		errs = append(errs, s.world.RemoveBody(id))
	}
	s.bodies = make(map[string]physics.BodyID)
	s.bodyMu.Unlock()
	if s.rig != nil {
		errs = append(errs, s.rig.Dispose())
	}
	s.setLifecycle(Uninitialized)
	return errors.Join(errs...)
}

// teleport moves the live body of nodeID to its authored origin.
func (s *Simulation) teleport(nodeID string) error {
	n, ok := s.store.Node(nodeID)
	if !ok {
		return nil
	}
	if n.Type == scene.NodeRobot {
		s.bodyMu.Lock()
		s.robotNode = n.ID
		s.bodyMu.Unlock()
		return s.placeRobot(n.Origin.WorldPose())
	}
	id, ok := s.BodyForNode(nodeID)
	if !ok {
		return nil
	}
	if err := s.world.SetPose(id, n.Origin.WorldPose()); err != nil {
		return err
	}
	return s.world.SetVelocity(id, mgl64.Vec3{}, mgl64.Vec3{})
}

// placeRobot teleports the rig and rebases the encoders so the jump is not counted as
// wheel travel. origin becomes the pose ResetRobot returns to.
func (s *Simulation) placeRobot(origin geom.Pose) error {
	s.robotHome = &origin
	if err := s.rig.Place(origin); err != nil {
		return err
	}
	return s.encoders.Rebase()
}

func (s *Simulation) resetRobot() error {
	if s.robotHome == nil {
		if err := s.rig.Reset(); err != nil {
			return err
		}
		return s.encoders.Rebase()
	}
	return s.placeRobot(*s.robotHome)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
