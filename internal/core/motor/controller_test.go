package motor_test

import (
	"context"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/rigsim/internal/asset"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/motor"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/rig"
	"github.com/zeusync/rigsim/internal/core/robot"
)

func setup(t *testing.T) (*physics.Arena, *rig.Rig, *motor.Controller) {
	t.Helper()
	src := asset.NewFileSource(log.NewNop())
	lib, err := src.Import(context.Background(), asset.DemoModel)
	require.NoError(t, err)
	manifest, err := src.Manifest(context.Background(), asset.DemoManifest)
	require.NoError(t, err)
	world := physics.NewArena(log.NewNop())
	r, err := rig.NewBuilder(world, config.DefaultTuning(), log.NewNop()).Build(lib, manifest)
	require.NoError(t, err)
	return world, r, motor.NewController(world, r, config.DefaultTuning())
}

func TestWheelClamping(t *testing.T) {
	_, _, c := setup(t)
	limit := 1500.0 / 220.0
	tests := []struct {
		commanded float64
		want      float64
	}{
		{5000, limit},
		{-5000, -limit},
		{1500, limit},
		{220, 1},
		{0, 0},
	}
	for _, tt := range tests {
		a := c.Wheel(rig.JointLeftWheel, tt.commanded)
		assert.InDelta(t, tt.want, a.Speed, 1e-12, "commanded %v", tt.commanded)
		assert.LessOrEqual(t, math.Abs(a.Speed), limit)
	}
}

func TestWheelMirroredSigns(t *testing.T) {
	_, _, c := setup(t)
	for _, v := range []float64{1, 300, 1499, 4000} {
		left := c.Wheel(rig.JointLeftWheel, v)
		right := c.Wheel(rig.JointRightWheel, v)
		assert.InDelta(t, left.Speed, -right.Speed, 1e-12)

		// Opposite commands give equal joint rates: the right hinge axis is mirrored,
		// so equal rates turn the wheels in opposite directions.
		spin := c.Wheel(rig.JointRightWheel, -v)
		assert.InDelta(t, left.Speed, spin.Speed, 1e-12)
	}
}

func TestZeroWheelCommandStopsCreep(t *testing.T) {
	world, r, c := setup(t)
	left := r.Joint(rig.JointLeftWheel)
	require.NoError(t, world.SetMotor(left.ID, 5, 0))
	world.Step(0.1)

	state := *robot.NewState(1024)
	require.NoError(t, c.Drive(state))

	_, angular, err := world.Velocity(left.Connected)
	require.NoError(t, err)
	pose, err := world.Pose(left.Connected)
	require.NoError(t, err)
	assert.InDelta(t, 0, angular.Dot(pose.Rotation.Rotate(left.Axis)), 1e-9)
	assert.True(t, c.Wheel(rig.JointLeftWheel, 0).ZeroSpin)
	assert.False(t, c.Wheel(rig.JointLeftWheel, 1).ZeroSpin)
}

func TestServoTiers(t *testing.T) {
	_, _, c := setup(t)
	tests := []struct {
		delta float64
		tier  motor.Tier
		speed float64
	}{
		{0, motor.TierStop, 0},
		{0.0005, motor.TierStop, 0},
		{-0.009, motor.TierStop, 0},
		{0.02, motor.TierLow, 1.2},
		{-0.04, motor.TierLow, -1.2},
		{0.041, motor.TierHigh, 6},
		{-2, motor.TierHigh, -6},
	}
	for _, tt := range tests {
		a := c.ServoTier(rig.JointArm, tt.delta)
		assert.Equal(t, tt.tier, a.Tier, "delta %v", tt.delta)
		assert.InDelta(t, tt.speed, a.Speed, 1e-12, "delta %v", tt.delta)
		assert.InDelta(t, 8000, a.MaxForce, 1e-12)
	}
}

func TestServoAtGoalStops(t *testing.T) {
	_, _, c := setup(t)
	a, err := c.Servo(rig.JointArm, 1024, true)
	require.NoError(t, err)
	assert.Equal(t, motor.TierStop, a.Tier)
	assert.Zero(t, a.Speed)

	a, err = c.Servo(rig.JointClaw, 2047, false)
	require.NoError(t, err)
	assert.Equal(t, motor.TierStop, a.Tier, "disabled servos hold")
}

func TestServoDrivesClawToGoal(t *testing.T) {
	world, _, c := setup(t)
	tuning := config.DefaultTuning()
	state := *robot.NewState(tuning.ServoMidTicks)
	state.ServoEnabled[tuning.ClawServoPort] = true
	state.ServoPositions[tuning.ClawServoPort] = tuning.ServoMidTicks + 0.5*tuning.ServoTicksPerRadian

	for i := 0; i < 120; i++ {
		require.NoError(t, c.Drive(state))
		world.Step(1.0 / 60)
	}
	angle, err := c.ServoAngle(rig.JointClaw)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, angle, 0.04)

	arm, err := c.ServoAngle(rig.JointArm)
	require.NoError(t, err)
	assert.InDelta(t, 0, arm, 1e-9, "disabled arm servo stays put")
}

func TestDriveLeavesStateUntouched(t *testing.T) {
	_, _, c := setup(t)
	state := robot.NewState(1024)
	state.MotorSpeeds[0] = 9000
	before := *state
	require.NoError(t, c.Drive(*state))
	assert.Equal(t, before, *state)
	assert.Equal(t, mgl64.Vec3{}, state.Pose.Position)
}
