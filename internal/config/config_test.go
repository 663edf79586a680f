package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 1126.0, c.Tuning.BodyMass)
	assert.Equal(t, 0.5, c.Reconcile.PositionThreshold)
	assert.Equal(t, time.Second/60, c.FrameDuration())
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse(strings.NewReader(`
log:
  level: debug
simulation:
  frame_rate: 30
  max_step: 100ms
tuning:
  wheel_speed_divisor: 300
bridge:
  enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 30, c.Simulation.FrameRate)
	assert.Equal(t, 100*time.Millisecond, c.Simulation.MaxStep)
	assert.Equal(t, 300.0, c.Tuning.WheelSpeedDivisor)
	assert.Equal(t, 1500.0, c.Tuning.MaxMotorSpeed)
	assert.False(t, c.Bridge.Enabled)
}

func TestParseEmptyDocument(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field": "tuning:\n  warp_drive: 1\n",
		"bad rate":      "simulation:\n  frame_rate: 0\n",
		"same ports":    "tuning:\n  right_wheel_port: 0\n",
		"port range":    "tuning:\n  claw_servo_port: 7\n",
		"bad band":      "tuning:\n  servo_fine_band_low: 0.5\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconcile:\n  position_threshold_cm: 1.5\n"), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1.5, c.Reconcile.PositionThreshold)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
