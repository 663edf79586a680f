package robot

import (
	"math"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/rig"
)

type fakeJoints struct {
	joints map[rig.JointRole]*rig.Joint
	rel    map[rig.JointRole]mgl64.Quat
}

func newFakeJoints() *fakeJoints {
	return &fakeJoints{
		joints: map[rig.JointRole]*rig.Joint{
			rig.JointLeftWheel:  {Role: rig.JointLeftWheel, Axis: mgl64.Vec3{1, 0, 0}, Baseline: mgl64.QuatIdent()},
			rig.JointRightWheel: {Role: rig.JointRightWheel, Axis: mgl64.Vec3{-1, 0, 0}, Baseline: mgl64.QuatIdent()},
		},
		rel: map[rig.JointRole]mgl64.Quat{
			rig.JointLeftWheel:  mgl64.QuatIdent(),
			rig.JointRightWheel: mgl64.QuatIdent(),
		},
	}
}

func (f *fakeJoints) Joint(role rig.JointRole) *rig.Joint { return f.joints[role] }

func (f *fakeJoints) Relative(role rig.JointRole) (mgl64.Quat, error) { return f.rel[role], nil }

func (f *fakeJoints) turn(role rig.JointRole, angle float64) {
	f.rel[role] = f.rel[role].Mul(mgl64.QuatRotate(angle, f.joints[role].Axis))
}

func TestEncodersAccumulateTicksWithMirroredRightWheel(t *testing.T) {
	tuning := config.DefaultTuning()
	joints := newFakeJoints()
	enc, err := NewEncoders(joints, tuning)
	require.NoError(t, err)

	state := NewState(tuning.ServoMidTicks)
	for i := 0; i < 20; i++ {
		joints.turn(rig.JointLeftWheel, 0.1)
		// the right hinge axis is mirrored, so forward travel turns it negatively
		joints.turn(rig.JointRightWheel, -0.1)
		require.NoError(t, enc.Update(state, [NumMotors]bool{}))
	}

	want := int64(math.Round(2 * tuning.WheelTicksPerRadian))
	assert.Equal(t, want, state.MotorPositions[tuning.LeftWheelPort])
	assert.Equal(t, want, state.MotorPositions[tuning.RightWheelPort])
}

func TestEncodersWrapLargeFrameRotation(t *testing.T) {
	tuning := config.DefaultTuning()
	joints := newFakeJoints()
	enc, err := NewEncoders(joints, tuning)
	require.NoError(t, err)

	state := NewState(tuning.ServoMidTicks)
	joints.turn(rig.JointLeftWheel, 3*math.Pi/2)
	require.NoError(t, enc.Update(state, [NumMotors]bool{}))
	assert.Equal(t, int64(-512), state.MotorPositions[tuning.LeftWheelPort])
}

func TestEncodersClearAndRebase(t *testing.T) {
	tuning := config.DefaultTuning()
	joints := newFakeJoints()
	enc, err := NewEncoders(joints, tuning)
	require.NoError(t, err)
	state := NewState(tuning.ServoMidTicks)

	joints.turn(rig.JointLeftWheel, 1)
	require.NoError(t, enc.Update(state, [NumMotors]bool{}))
	require.NotZero(t, state.MotorPositions[0])

	var clear [NumMotors]bool
	clear[tuning.LeftWheelPort] = true
	require.NoError(t, enc.Update(state, clear))
	assert.Zero(t, state.MotorPositions[tuning.LeftWheelPort])

	joints.turn(rig.JointLeftWheel, 2)
	require.NoError(t, enc.Rebase())
	require.NoError(t, enc.Update(state, [NumMotors]bool{}))
	assert.Zero(t, state.MotorPositions[tuning.LeftWheelPort], "teleports are not travel")
}

func TestNewEncodersNeedsWheelJoints(t *testing.T) {
	joints := newFakeJoints()
	delete(joints.joints, rig.JointRightWheel)
	_, err := NewEncoders(joints, config.DefaultTuning())
	assert.Error(t, err)
}

func TestMailboxLatestWins(t *testing.T) {
	m := NewMailbox(1)
	v, changed := m.Take()
	assert.Equal(t, 1, v)
	assert.False(t, changed)

	m.Set(2)
	m.Set(3)
	assert.True(t, m.IsDirty())
	v, changed = m.Take()
	assert.Equal(t, 3, v)
	assert.True(t, changed)
	assert.Equal(t, uint64(3), m.Version())
	_, changed = m.Take()
	assert.False(t, changed)
}

func TestMailboxConcurrentUpdates(t *testing.T) {
	m := NewMailbox(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Update(func(v int) int { return v + 1 })
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, m.Get())
}

func TestCommandBoxKeepsClearRequestsUntilConsumed(t *testing.T) {
	box := NewCommandBox(1024)
	assert.Equal(t, 1024.0, box.Get().ServoPositions[2])

	box.ClearPosition(3)
	box.ClearPosition(9)
	box.Submit(Command{MotorSpeeds: [NumMotors]float64{100}})

	c := box.Consume()
	assert.Equal(t, 100.0, c.MotorSpeeds[0])
	assert.True(t, c.ClearPositions[3])

	c = box.Consume()
	assert.False(t, c.ClearPositions[3])
	assert.Equal(t, 100.0, c.MotorSpeeds[0])
}

func TestTelemetrySnapshot(t *testing.T) {
	s := NewState(1024)
	s.MotorPositions[0] = 42
	s.Digital[3] = true
	s.Pose.Rotation = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0})
	tel := s.Telemetry(7)
	assert.Equal(t, uint64(7), tel.Frame)
	assert.Equal(t, int64(42), tel.MotorPositions[0])
	assert.True(t, tel.Digital[3])
	assert.InDelta(t, math.Pi/2, tel.Heading, 1e-9)

	s.ApplyCommand(Command{MotorSpeeds: [NumMotors]float64{1, 2, 3, 4}, ServoEnabled: [NumServos]bool{true}})
	assert.Equal(t, [NumMotors]float64{1, 2, 3, 4}, s.MotorSpeeds)
	assert.True(t, s.ServoEnabled[0])
}
