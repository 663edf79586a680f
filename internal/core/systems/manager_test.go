package systems

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerOrdersByPhaseThenPriority(t *testing.T) {
	m := NewManager()
	var ran []string
	add := func(name string, phase ExecutionPhase, prio Priority) {
		require.NoError(t, m.RegisterSystem(Func{ID: name, Phase: phase, Prio: prio, Fn: func(float64) error {
			ran = append(ran, name)
			return nil
		}}))
	}
	add("encoders", PhasePostRender, PriorityHighest)
	add("step", PhasePreRender, PriorityLow)
	add("drive", PhasePreRender, PriorityNormal)
	add("loads", PhasePreRender, PriorityHighest)

	assert.Equal(t, []string{"loads", "drive", "step", "encoders"}, m.GetExecutionOrder())

	require.NoError(t, m.UpdatePhase(PhasePreRender, 1.0/60))
	assert.Equal(t, []string{"loads", "drive", "step"}, ran)
}

func TestManagerKeepsRunningAfterError(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")
	after := false
	require.NoError(t, m.RegisterSystem(Func{ID: "bad", Prio: PriorityHigh, Fn: func(float64) error { return boom }}))
	require.NoError(t, m.RegisterSystem(Func{ID: "good", Prio: PriorityLow, Fn: func(float64) error { after = true; return nil }}))

	var reported string
	m.OnSystemError(func(name string, _ error) { reported = name })

	err := m.UpdatePhase(PhasePreRender, 0)
	assert.ErrorIs(t, err, boom)
	assert.True(t, after)
	assert.Equal(t, "bad", reported)

	mt, ok := m.GetSystemMetrics("bad")
	require.True(t, ok)
	assert.Equal(t, uint64(1), mt.ExecutionCount)
	assert.Equal(t, uint64(1), mt.ErrorCount)
}

func TestManagerDisableAndDuplicate(t *testing.T) {
	m := NewManager()
	calls := 0
	s := Func{ID: "reconcile", Phase: PhasePostRender, Fn: func(float64) error { calls++; return nil }}
	require.NoError(t, m.RegisterSystem(s))
	assert.ErrorIs(t, m.RegisterSystem(s), ErrDuplicateSystem)

	require.NoError(t, m.SetEnabled("reconcile", false))
	require.NoError(t, m.UpdatePhase(PhasePostRender, 0))
	assert.Zero(t, calls)
	assert.Error(t, m.SetEnabled("missing", true))
}
