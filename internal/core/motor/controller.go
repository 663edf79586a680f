// Package motor turns commanded wheel speeds and servo goals into hinge motor drives.
package motor

import (
	"fmt"
	"math"

	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/kinematics"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/rig"
	"github.com/zeusync/rigsim/internal/core/robot"
)

// Tier names the servo control band a drive fell into.
type Tier uint8

const (
	TierStop Tier = iota
	TierLow
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierStop:
		return "stop"
	case TierLow:
		return "low"
	default:
		return "high"
	}
}

// Actuation is one motor command for a hinge.
type Actuation struct {
	Joint    rig.JointRole
	Speed    float64
	MaxForce float64
	Tier     Tier
	// ZeroSpin asks for the connected body's spin about the hinge to be cleared.
	ZeroSpin bool
}

// Engine is the part of the physics world the controller drives.
type Engine interface {
	physics.Bodies
	physics.Joints
}

// Controller maps robot commands onto the rig's four hinges.
type Controller struct {
	engine Engine
	joints robot.JointSource
	tuning config.Tuning
}

func NewController(engine Engine, joints robot.JointSource, tuning config.Tuning) *Controller {
	return &Controller{engine: engine, joints: joints, tuning: tuning}
}

// Wheel converts a commanded wheel speed into a joint rate. The right wheel's hinge is
// mirrored, so its rate is negated.
func (c *Controller) Wheel(role rig.JointRole, commanded float64) Actuation {
	v := math.Max(-c.tuning.MaxMotorSpeed, math.Min(c.tuning.MaxMotorSpeed, commanded))
	speed := v / c.tuning.WheelSpeedDivisor
	if role == rig.JointRightWheel {
		speed = -speed
	}
	return Actuation{Joint: role, Speed: speed, ZeroSpin: commanded == 0}
}

// GoalAngle converts servo goal ticks into radians relative to the joint baseline.
func (c *Controller) GoalAngle(ticks float64) float64 {
	return c.tuning.ServoDefaultAngle + (ticks-c.tuning.ServoMidTicks)/c.tuning.ServoTicksPerRadian
}

// ServoAngle returns the joint's current rotation relative to its baseline.
func (c *Controller) ServoAngle(role rig.JointRole) (float64, error) {
	j := c.joints.Joint(role)
	if j == nil {
		return 0, fmt.Errorf("no %s joint", role)
	}
	rel, err := c.joints.Relative(role)
	if err != nil {
		return 0, err
	}
	return kinematics.Twist(j.Baseline, rel, j.Axis), nil
}

// ServoTier picks the drive for a signed angular error.
func (c *Controller) ServoTier(role rig.JointRole, delta float64) Actuation {
	t := c.tuning
	a := Actuation{Joint: role, MaxForce: t.ServoMaxForce}
	d := math.Abs(delta)
	switch {
	case d < t.ServoStopBand:
		a.Tier = TierStop
	case d >= t.ServoFineBandLow && d <= t.ServoFineBandHigh:
		a.Tier = TierLow
		a.Speed = math.Copysign(t.ServoLowSpeed, delta)
	default:
		a.Tier = TierHigh
		a.Speed = math.Copysign(t.ServoHighSpeed, delta)
	}
	return a
}

// Servo computes the drive that moves role toward goal ticks. Disabled servos stop.
func (c *Controller) Servo(role rig.JointRole, goalTicks float64, enabled bool) (Actuation, error) {
	if !enabled {
		return Actuation{Joint: role, MaxForce: c.tuning.ServoMaxForce, Tier: TierStop}, nil
	}
	current, err := c.ServoAngle(role)
	if err != nil {
		return Actuation{}, err
	}
	return c.ServoTier(role, kinematics.WrapAngle(c.GoalAngle(goalTicks)-current)), nil
}

// Plan computes the four actuations for state without touching the world.
func (c *Controller) Plan(state robot.State) ([]Actuation, error) {
	t := c.tuning
	arm, err := c.Servo(rig.JointArm, state.ServoPositions[t.ArmServoPort], state.ServoEnabled[t.ArmServoPort])
	if err != nil {
		return nil, err
	}
	claw, err := c.Servo(rig.JointClaw, state.ServoPositions[t.ClawServoPort], state.ServoEnabled[t.ClawServoPort])
	if err != nil {
		return nil, err
	}
	return []Actuation{
		c.Wheel(rig.JointLeftWheel, state.MotorSpeeds[t.LeftWheelPort]),
		c.Wheel(rig.JointRightWheel, state.MotorSpeeds[t.RightWheelPort]),
		arm,
		claw,
	}, nil
}

// Drive plans and applies this frame's motor commands. state is read only.
func (c *Controller) Drive(state robot.State) error {
	plan, err := c.Plan(state)
	if err != nil {
		return err
	}
	for _, a := range plan {
		if err := c.Apply(a); err != nil {
			return err
		}
	}
	return nil
}

// Apply writes one actuation to the engine.
func (c *Controller) Apply(a Actuation) error {
	j := c.joints.Joint(a.Joint)
	if j == nil {
		return fmt.Errorf("no %s joint", a.Joint)
	}
	if err := c.engine.SetMotor(j.ID, a.Speed, a.MaxForce); err != nil {
		return err
	}
	if a.ZeroSpin {
		return c.zeroSpin(j)
	}
	return nil
}

// zeroSpin removes the connected body's angular velocity about the hinge axis so a
// stopped wheel does not creep.
func (c *Controller) zeroSpin(j *rig.Joint) error {
	pose, err := c.engine.Pose(j.Connected)
	if err != nil {
		return err
	}
	linear, angular, err := c.engine.Velocity(j.Connected)
	if err != nil {
		return err
	}
	axis := pose.Rotation.Rotate(j.Axis)
	angular = angular.Sub(axis.Mul(angular.Dot(axis)))
	return c.engine.SetVelocity(j.Connected, linear, angular)
}
