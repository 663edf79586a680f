// Package reconcile writes live physics poses back into the declarative scene.
package reconcile

import (
	"math"
	"sync/atomic"

	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/scene"
	"github.com/zeusync/rigsim/internal/core/units"
)

const centimetersPerMeter = 1 / scene.MetersPerCentimeter

// Reconciler compares node origins against body poses and requests patches for the
// nodes that drifted past the configured thresholds.
type Reconciler struct {
	bus       bus.EventBus
	cfg       config.ReconcileConfig
	logger    log.Log
	suspended atomic.Bool
}

func New(b bus.EventBus, cfg config.ReconcileConfig, logger log.Log) *Reconciler {
	return &Reconciler{bus: b, cfg: cfg, logger: logger.With(log.Component("reconcile"))}
}

// Suspend stops publishing until Resume. Loads suspend the reconciler so a scene being
// replaced is not patched with poses from the old world.
func (r *Reconciler) Suspend() { r.suspended.Store(true) }

func (r *Reconciler) Resume() { r.suspended.Store(false) }

func (r *Reconciler) Suspended() bool { return r.suspended.Load() }

// Diff returns one patch per node whose live pose differs from its origin. poses is
// keyed by node id; nodes without a pose are skipped.
func (r *Reconciler) Diff(nodes []scene.Node, poses map[string]geom.Pose) []scene.OriginPatch {
	var patches []scene.OriginPatch
	for _, n := range nodes {
		pose, ok := poses[n.ID]
		if !ok {
			continue
		}
		if p, changed := r.diffNode(n, pose); changed {
			patches = append(patches, p)
		}
	}
	return patches
}

func (r *Reconciler) diffNode(n scene.Node, pose geom.Pose) (scene.OriginPatch, bool) {
	patch := scene.OriginPatch{NodeID: n.ID}
	changed := false

	live := pose.Position.Mul(centimetersPerMeter)
	authored := n.Origin.Centimeters()
	for i := 0; i < 3; i++ {
		if math.Abs(live[i]-authored[i]) > r.cfg.PositionThreshold {
			d := n.Origin.Position[i].WithCentimeters(live[i])
			patch.Position[i] = &d
			changed = true
		}
	}

	if geom.AngleBetween(n.Origin.Euler().Quat(), pose.Rotation) > r.cfg.AngleThreshold {
		e := geom.EulerFromQuat(pose.Rotation)
		o := n.Origin.Orientation
		orientation := [3]units.Angle{o[0].WithRadians(e.X), o[1].WithRadians(e.Y), o[2].WithRadians(e.Z)}
		patch.Orientation = &orientation
		changed = true
	}
	return patch, changed
}

// Reconcile diffs nodes against poses and publishes the patches as one physics-sourced
// origin update request. It returns the number of patched nodes.
func (r *Reconciler) Reconcile(nodes []scene.Node, poses map[string]geom.Pose) (int, error) {
	if r.Suspended() {
		return 0, nil
	}
	patches := r.Diff(nodes, poses)
	if len(patches) == 0 {
		return 0, nil
	}
	err := r.bus.PublishToTopic(bus.TopicScene, bus.NewEvent(bus.TypeOriginUpdateRequest, bus.SourcePhysics, patches))
	if err != nil {
		r.logger.Warn("origin update request failed", log.Int("nodes", len(patches)), log.Error(err))
		return 0, err
	}
	return len(patches), nil
}
