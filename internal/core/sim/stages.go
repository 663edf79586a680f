package sim

import (
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/robot"
	"github.com/zeusync/rigsim/internal/core/systems"
)

// Frame stage names, in execution order.
const (
	StageScene     = "scene"
	StageCommand   = "command"
	StageMotors    = "motors"
	StagePhysics   = "physics"
	StageEncoders  = "encoders"
	StageSensors   = "sensors"
	StageTelemetry = "telemetry"
	StageReconcile = "reconcile"
)

func (s *Simulation) registerSystems() {
	for _, st := range []systems.Func{
		{ID: StageScene, Phase: systems.PhasePreRender, Prio: systems.PriorityHighest, Fn: s.sceneStage},
		{ID: StageCommand, Phase: systems.PhasePreRender, Prio: systems.PriorityHigh, Fn: s.commandStage},
		{ID: StageMotors, Phase: systems.PhasePreRender, Prio: systems.PriorityNormal, Fn: s.motorStage},
		{ID: StagePhysics, Phase: systems.PhasePreRender, Prio: systems.PriorityLow, Fn: s.physicsStage},
		{ID: StageEncoders, Phase: systems.PhasePostRender, Prio: systems.PriorityHighest, Fn: s.encoderStage},
		{ID: StageSensors, Phase: systems.PhasePostRender, Prio: systems.PriorityHigh, Fn: s.sensorStage},
		{ID: StageTelemetry, Phase: systems.PhasePostRender, Prio: systems.PriorityNormal, Fn: s.telemetryStage},
		{ID: StageReconcile, Phase: systems.PhasePostRender, Prio: systems.PriorityLow, Fn: s.reconcileStage},
	} {
		// names are unique
		_ = s.systems.RegisterSystem(st)
	}
}

// StageOrder returns the frame stages in execution order.
func (s *Simulation) StageOrder() []string { return s.systems.GetExecutionOrder() }

func (s *Simulation) sceneStage(float64) error {
	loadErr := s.drainLoads()

	s.mu.Lock()
	edits := s.edits
	s.edits = nil
	reset := s.reset
	s.reset = false
	s.mu.Unlock()

	seen := make(map[string]bool, len(edits))
	for _, id := range edits {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := s.teleport(id); err != nil {
			return err
		}
	}
	if reset {
		if err := s.resetRobot(); err != nil {
			return err
		}
	}
	return loadErr
}

func (s *Simulation) commandStage(float64) error {
	cmd := s.commands.Consume()
	s.state.ApplyCommand(cmd)
	s.clear = cmd.ClearPositions
	return nil
}

func (s *Simulation) motorStage(float64) error {
	if s.suspended.Load() {
		return nil
	}
	return s.controller.Drive(*s.state)
}

func (s *Simulation) physicsStage(dt float64) error {
	if s.suspended.Load() {
		return nil
	}
	s.world.Step(dt)
	return nil
}

func (s *Simulation) encoderStage(float64) error {
	err := s.encoders.Update(s.state, s.clear)
	s.clear = [robot.NumMotors]bool{}
	if err != nil {
		return err
	}
	pose, err := s.rig.Pose()
	if err != nil {
		return err
	}
	s.state.Pose = pose
	return nil
}

func (s *Simulation) sensorStage(float64) error {
	for _, p := range s.probes {
		if err := p.Update(s.world, s.rig.Owns); err != nil {
			return err
		}
		p.ApplyToState(s.state)
		if p.IsVisible() {
			p.UpdateVisual()
		}
	}
	return nil
}

func (s *Simulation) telemetryStage(float64) error {
	t := s.state.Telemetry(s.frame)
	return s.bus.PublishToTopic(bus.TopicRobot, bus.NewEvent(bus.TypeTelemetry, bus.SourceSim, t))
}

func (s *Simulation) reconcileStage(float64) error {
	if s.suspended.Load() || s.reconciler.Suspended() {
		return nil
	}
	poses := make(map[string]geom.Pose)
	s.bodyMu.RLock()
	for nodeID, id := range s.bodies {
		pose, err := s.world.Pose(id)
		if err != nil {
			s.bodyMu.RUnlock()
			return err
		}
		poses[nodeID] = pose
	}
	robotNode := s.robotNode
	s.bodyMu.RUnlock()
	if robotNode != "" {
		poses[robotNode] = s.state.Pose
	}
	_, err := s.reconciler.Reconcile(s.store.Snapshot().Nodes, poses)
	return err
}
