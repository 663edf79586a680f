package robot

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/kinematics"
	"github.com/zeusync/rigsim/internal/core/rig"
)

// JointSource exposes the rig's hinges and their live relative rotations.
type JointSource interface {
	Joint(role rig.JointRole) *rig.Joint
	Relative(role rig.JointRole) (mgl64.Quat, error)
}

type wheelEncoder struct {
	role    rig.JointRole
	port    int
	sign    float64
	tracker *kinematics.Tracker
	ticks   float64
}

// Encoders integrates per-frame wheel rotation into motor position ticks.
type Encoders struct {
	source         JointSource
	ticksPerRadian float64
	wheels         []*wheelEncoder
}

// NewEncoders tracks both wheels from their recorded baselines. The right wheel's
// hinge is authored on a mirrored axis, so its sign is flipped back.
func NewEncoders(source JointSource, tuning config.Tuning) (*Encoders, error) {
	e := &Encoders{source: source, ticksPerRadian: tuning.WheelTicksPerRadian}
	for _, w := range []struct {
		role rig.JointRole
		port int
		sign float64
	}{
		{rig.JointLeftWheel, tuning.LeftWheelPort, 1},
		{rig.JointRightWheel, tuning.RightWheelPort, -1},
	} {
		j := source.Joint(w.role)
		if j == nil {
			return nil, fmt.Errorf("encoder: no %s joint", w.role)
		}
		e.wheels = append(e.wheels, &wheelEncoder{
			role:    w.role,
			port:    w.port,
			sign:    w.sign,
			tracker: kinematics.NewTracker(j.Baseline, j.Axis),
		})
	}
	if err := e.Rebase(); err != nil {
		return nil, err
	}
	return e, nil
}

// Update adds this frame's wheel rotation to state.MotorPositions. Ports flagged in
// clear are zeroed first.
func (e *Encoders) Update(state *State, clear [NumMotors]bool) error {
	for port, c := range clear {
		if c {
			e.Clear(port)
			state.MotorPositions[port] = 0
		}
	}
	for _, w := range e.wheels {
		rel, err := e.source.Relative(w.role)
		if err != nil {
			return fmt.Errorf("encoder %s: %w", w.role, err)
		}
		w.ticks += w.sign * w.tracker.Step(rel) * e.ticksPerRadian
		state.MotorPositions[w.port] = int64(math.Round(w.ticks))
	}
	return nil
}

// Clear zeroes the counter for port.
func (e *Encoders) Clear(port int) {
	for _, w := range e.wheels {
		if w.port == port {
			w.ticks = 0
		}
	}
}

// Rebase makes the current joint rotations the reference for the next Update, so a
// teleport is not counted as wheel travel.
func (e *Encoders) Rebase() error {
	for _, w := range e.wheels {
		rel, err := e.source.Relative(w.role)
		if err != nil {
			return fmt.Errorf("encoder %s: %w", w.role, err)
		}
		w.tracker.Rebase(rel)
	}
	return nil
}
