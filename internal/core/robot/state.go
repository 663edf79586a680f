// Package robot holds the robot's command and telemetry records and the encoder pass
// that turns joint motion into motor ticks.
package robot

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
)

const (
	NumMotors  = 4
	NumServos  = 4
	NumAnalog  = 6
	NumDigital = 16
)

// Command is what the external program asks of the robot. Speeds are signed ticks/s,
// servo positions are goal ticks.
type Command struct {
	MotorSpeeds    [NumMotors]float64 `json:"motor_speeds"`
	ServoPositions [NumServos]float64 `json:"servo_positions"`
	ServoEnabled   [NumServos]bool    `json:"servo_enabled"`
	// ClearPositions requests a one-shot reset of a motor's position counter.
	ClearPositions [NumMotors]bool `json:"clear_positions,omitempty"`
}

// State is the frame loop's working record. Only the frame loop writes it.
type State struct {
	MotorSpeeds    [NumMotors]float64
	MotorPositions [NumMotors]int64
	ServoPositions [NumServos]float64
	ServoEnabled   [NumServos]bool
	Analog         [NumAnalog]float64
	Digital        [NumDigital]bool
	Pose           geom.Pose
}

// NewState returns a state with the servos at mid-range.
func NewState(servoMid float64) *State {
	s := &State{Pose: geom.Identity()}
	for i := range s.ServoPositions {
		s.ServoPositions[i] = servoMid
	}
	return s
}

// ApplyCommand copies the commanded fields into the state.
func (s *State) ApplyCommand(c Command) {
	s.MotorSpeeds = c.MotorSpeeds
	s.ServoPositions = c.ServoPositions
	s.ServoEnabled = c.ServoEnabled
}

// Telemetry is the per-frame snapshot published to the outside.
type Telemetry struct {
	Frame          uint64             `json:"frame"`
	MotorPositions [NumMotors]int64   `json:"motor_positions"`
	ServoPositions [NumServos]float64 `json:"servo_positions"`
	Analog         [NumAnalog]float64 `json:"analog"`
	Digital        [NumDigital]bool   `json:"digital"`
	Position       mgl64.Vec3         `json:"position"`
	Heading        float64            `json:"heading"`
}

// Telemetry snapshots the state.
func (s *State) Telemetry(frame uint64) Telemetry {
	fwd := s.Pose.Rotation.Rotate(mgl64.Vec3{0, 0, 1})
	return Telemetry{
		Frame:          frame,
		MotorPositions: s.MotorPositions,
		ServoPositions: s.ServoPositions,
		Analog:         s.Analog,
		Digital:        s.Digital,
		Position:       s.Pose.Position,
		Heading:        math.Atan2(fwd[0], fwd[2]),
	}
}
