// Package config loads the simulator configuration. Every empirically tuned constant of
// the rig lives here rather than in code.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Simulation SimulationConfig `yaml:"simulation"`
	Tuning     Tuning           `yaml:"tuning"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Assets     AssetsConfig     `yaml:"assets"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type SimulationConfig struct {
	// FrameRate is the render/physics tick rate of the frame loop.
	FrameRate int `yaml:"frame_rate"`
	// MaxStep caps the dt handed to the physics step after a stall.
	MaxStep time.Duration `yaml:"max_step"`
	// ShowSensorRays makes sensor debug visuals visible.
	ShowSensorRays bool `yaml:"show_sensor_rays"`
	// ShowColliders makes collider_ meshes visible.
	ShowColliders bool `yaml:"show_colliders"`
}

// Tuning holds the rig's empirical constants. They were chosen for stability of the
// reference model and are not physically meaningful.
type Tuning struct {
	BodyMass      float64 `yaml:"body_mass"`
	BodyFriction  float64 `yaml:"body_friction"`
	ArmMass       float64 `yaml:"arm_mass"`
	ArmFriction   float64 `yaml:"arm_friction"`
	ClawMass      float64 `yaml:"claw_mass"`
	ClawFriction  float64 `yaml:"claw_friction"`
	WheelMass     float64 `yaml:"wheel_mass"`
	WheelFriction float64 `yaml:"wheel_friction"`

	// MaxMotorSpeed is V_max, the bound on commanded wheel speed (ticks/s).
	MaxMotorSpeed float64 `yaml:"max_motor_speed"`
	// WheelSpeedDivisor converts a commanded wheel speed into joint rad/s.
	WheelSpeedDivisor float64 `yaml:"wheel_speed_divisor"`
	// WheelTicksPerRadian converts wheel rotation into encoder ticks.
	WheelTicksPerRadian float64 `yaml:"wheel_ticks_per_radian"`

	// ServoTicksPerRadian converts servo goal ticks into radians.
	ServoTicksPerRadian float64 `yaml:"servo_ticks_per_radian"`
	// ServoMidTicks is the tick value at the mid-range angle.
	ServoMidTicks float64 `yaml:"servo_mid_ticks"`
	ServoMaxTicks float64 `yaml:"servo_max_ticks"`
	// ServoDefaultAngle is the mid-range angle (rad) relative to the baseline pose.
	ServoDefaultAngle float64 `yaml:"servo_default_angle"`
	ServoStopBand     float64 `yaml:"servo_stop_band"`
	ServoFineBandLow  float64 `yaml:"servo_fine_band_low"`
	ServoFineBandHigh float64 `yaml:"servo_fine_band_high"`
	ServoLowSpeed     float64 `yaml:"servo_low_speed"`
	ServoHighSpeed    float64 `yaml:"servo_high_speed"`
	ServoMaxForce     float64 `yaml:"servo_max_force"`

	LeftWheelPort  int `yaml:"left_wheel_port"`
	RightWheelPort int `yaml:"right_wheel_port"`
	ArmServoPort   int `yaml:"arm_servo_port"`
	ClawServoPort  int `yaml:"claw_servo_port"`
}

type ReconcileConfig struct {
	// PositionThreshold is in centimeters.
	PositionThreshold float64 `yaml:"position_threshold_cm"`
	// AngleThreshold is in radians.
	AngleThreshold float64 `yaml:"angle_threshold_rad"`
}

type BridgeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

type AssetsConfig struct {
	// RobotModel is a mesh-library file; empty uses the embedded demo robot.
	RobotModel string `yaml:"robot_model"`
	// RigManifest is a rig manifest file; empty uses the embedded demo manifest.
	RigManifest string `yaml:"rig_manifest"`
	// Scene is the initial scene file; empty loads the embedded demo scene.
	Scene string `yaml:"scene"`
}

// Default returns the reference tuning.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Simulation: SimulationConfig{
			FrameRate: 60,
			MaxStep:   50 * time.Millisecond,
		},
		Tuning: DefaultTuning(),
		Reconcile: ReconcileConfig{
			PositionThreshold: 0.5,
			AngleThreshold:    0.00872665,
		},
		Bridge: BridgeConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8765",
			Path:       "/robot",
		},
	}
}

// DefaultTuning returns the reference rig constants.
func DefaultTuning() Tuning {
	return Tuning{
		BodyMass:      1126,
		BodyFriction:  5,
		ArmMass:       132,
		ArmFriction:   5,
		ClawMass:      17,
		ClawFriction:  5,
		WheelMass:     14,
		WheelFriction: 25,

		MaxMotorSpeed:       1500,
		WheelSpeedDivisor:   220,
		WheelTicksPerRadian: 2048 / (2 * 3.141592653589793),

		ServoTicksPerRadian: 2048 / 3.141592653589793,
		ServoMidTicks:       1024,
		ServoMaxTicks:       2047,
		ServoDefaultAngle:   0,
		ServoStopBand:       0.01,
		ServoFineBandLow:    0.001,
		ServoFineBandHigh:   0.04,
		ServoLowSpeed:       1.2,
		ServoHighSpeed:      6,
		ServoMaxForce:       8000,

		LeftWheelPort:  0,
		RightWheelPort: 3,
		ArmServoPort:   0,
		ClawServoPort:  3,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(r io.Reader) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks ranges that would break the frame loop or the controllers.
func (c *Config) Validate() error {
	if c.Simulation.FrameRate <= 0 {
		return fmt.Errorf("%w: simulation.frame_rate must be positive", ErrInvalidConfig)
	}
	t := c.Tuning
	if t.MaxMotorSpeed <= 0 || t.WheelSpeedDivisor <= 0 {
		return fmt.Errorf("%w: wheel drive constants must be positive", ErrInvalidConfig)
	}
	if t.WheelTicksPerRadian <= 0 || t.ServoTicksPerRadian <= 0 {
		return fmt.Errorf("%w: ticks per radian must be positive", ErrInvalidConfig)
	}
	if t.ServoFineBandLow > t.ServoFineBandHigh {
		return fmt.Errorf("%w: servo fine band is inverted", ErrInvalidConfig)
	}
	for _, p := range []int{t.LeftWheelPort, t.RightWheelPort, t.ArmServoPort, t.ClawServoPort} {
		if p < 0 || p > 3 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, p)
		}
	}
	if t.LeftWheelPort == t.RightWheelPort || t.ArmServoPort == t.ClawServoPort {
		return fmt.Errorf("%w: ports must be distinct", ErrInvalidConfig)
	}
	if c.Reconcile.PositionThreshold <= 0 || c.Reconcile.AngleThreshold <= 0 {
		return fmt.Errorf("%w: reconcile thresholds must be positive", ErrInvalidConfig)
	}
	return nil
}

// FrameDuration is the nominal time between frames.
func (c *Config) FrameDuration() time.Duration {
	return time.Second / time.Duration(c.Simulation.FrameRate)
}
