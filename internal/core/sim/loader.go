package sim

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/scene"
)

type loadRequest struct {
	id          string
	generation  uint64
	scene       scene.Scene
	fingerprint uint64
}

type loadResult struct {
	req  *loadRequest
	defs map[string]physics.BodyDef
	err  error
}

func (s *Simulation) newRequest(sc scene.Scene) *loadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newRequestLocked(sc)
}

func (s *Simulation) newRequestLocked(sc scene.Scene) *loadRequest {
	s.generation++
	sc = sc.Clone()
	return &loadRequest{
		id:          uuid.NewString(),
		generation:  s.generation,
		scene:       sc,
		fingerprint: sc.Fingerprint(),
	}
}

// RequestScene asks for sc to become the live scene. Requests coalesce: while a load is
// running only the newest request is kept, and a load that finishes after a newer
// request was made is discarded. The robot is placed at the scene's origin. It returns
// the request id.
func (s *Simulation) RequestScene(sc scene.Scene) string {
	return s.requestScene(sc, true)
}

func (s *Simulation) requestScene(sc scene.Scene, place bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.newRequestLocked(sc)
	if place {
		s.placeGen = req.generation
	}
	if s.disposed.Load() {
		return req.id
	}
	if s.running || s.Lifecycle() != Ready {
		if s.pending != nil {
			s.logger.Debug("scene request coalesced", log.String("dropped", s.pending.id), log.String("request", req.id))
		}
		s.pending = req
		return req.id
	}
	s.startLocked(req)
	return req.id
}

// LoadInFlight reports whether a scene load is running or queued.
func (s *Simulation) LoadInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running || s.pending != nil
}

func (s *Simulation) startLocked(req *loadRequest) {
	if req.fingerprint == s.applied {
		s.logger.Debug("scene unchanged, load skipped", log.String("request", req.id))
		if s.placeGen <= req.generation {
			s.placedGen = s.placeGen
		}
		if s.Lifecycle() == Ready {
			s.reconciler.Resume()
		}
		return
	}
	s.running = true
	s.reconciler.Suspend()
	s.logger.Info("scene load started", log.String("request", req.id), log.Int("nodes", len(req.scene.Nodes)))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.results <- s.load(s.ctx, req)
	}()
}

func (s *Simulation) load(ctx context.Context, req *loadRequest) loadResult {
	res := loadResult{req: req}
	shapes, err := s.importShapes(ctx, req.scene)
	if err != nil {
		res.err = err
		return res
	}
	res.defs, res.err = bodyDefs(req.scene, shapes)
	return res
}

// drainLoads applies at most one finished load on the frame loop and starts the next
// queued request.
func (s *Simulation) drainLoads() error {
	var err error
	select {
	case res := <-s.results:
		err = s.finishLoad(res)
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return err
	}
	if next := s.pending; next != nil {
		s.pending = nil
		s.startLocked(next)
	} else {
		s.reconciler.Resume()
	}
	return err
}

func (s *Simulation) finishLoad(res loadResult) error {
	s.mu.Lock()
	s.running = false
	stale := res.req.generation != s.generation
	s.mu.Unlock()

	var err error
	switch {
	case stale:
		s.logger.Info("scene load discarded", log.String("request", res.req.id))
		s.publishLoad(bus.TypeSceneDiscarded, res.req, ErrSceneSuperseded)
		return nil
	case res.err != nil:
		err = res.err
	default:
		err = s.applyScene(res, false)
	}
	if err != nil {
		s.logger.Warn("scene load failed", log.String("request", res.req.id), log.Error(err))
		s.publishLoad(bus.TypeSceneLoadFailed, res.req, err)
	}
	return err
}

// dropPendingBefore forgets a queued request older than generation.
func (s *Simulation) dropPendingBefore(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.generation < generation {
		s.pending = nil
	}
}

// applyScene swaps the scene bodies for the result's. Physics is suspended for the
// duration of the swap.
func (s *Simulation) applyScene(res loadResult, initial bool) error {
	s.suspended.Store(true)
	defer func() {
		if !initial {
			s.suspended.Store(false)
		}
	}()

	s.mu.Lock()
	place := s.placeGen > s.placedGen && s.placeGen <= res.req.generation
	if place {
		s.placedGen = s.placeGen
	}
	s.mu.Unlock()

	s.bodyMu.Lock()
	var errs []error
	for _, id := range s.bodies {
		errs = append(errs, s.world.RemoveBody(id))
	}
	s.bodies = make(map[string]physics.BodyID, len(res.defs))
	ids := make([]string, 0, len(res.defs))
	for nodeID := range res.defs {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)
	for _, nodeID := range ids {
		id := sceneBodyID(nodeID)
		if err := s.world.AddBody(id, res.defs[nodeID]); err != nil {
			errs = append(errs, err)
			continue
		}
		s.bodies[nodeID] = id
	}
	robotNode, hasRobot := res.req.scene.Robot()
	moveRobot := hasRobot && (initial || place || robotNode.ID != s.robotNode)
	if hasRobot {
		s.robotNode = robotNode.ID
	} else {
		s.robotNode = ""
	}
	s.bodyMu.Unlock()

	if moveRobot {
		errs = append(errs, s.placeRobot(robotNode.Origin.WorldPose()))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	s.applied = res.req.fingerprint
	s.mu.Unlock()
	s.logger.Info("scene loaded",
		log.String("request", res.req.id),
		log.Int("nodes", len(res.req.scene.Nodes)),
		log.Int("bodies", len(ids)))
	s.publishLoad(bus.TypeSceneLoaded, res.req, nil)
	return nil
}

func (s *Simulation) publishLoad(typ string, req *loadRequest, err error) {
	ev := LoadEvent{RequestID: req.id, Nodes: len(req.scene.Nodes), Err: err}
	_ = s.bus.PublishToTopic(bus.TopicScene, bus.NewEvent(typ, bus.SourceLoad, ev))
}
