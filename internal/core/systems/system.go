// Package systems orders the per-frame work of the simulation into phases and
// priorities.
package systems

import (
	"time"
)

// System is one unit of per-frame work.
type System interface {
	Name() string
	Priority() Priority
	ExecutionPhase() ExecutionPhase
	Update(deltaTime float64) error
}

// Priority defines execution order within a phase. Higher runs first.
type Priority uint16

// System priorities
const (
	PriorityLowest  Priority = 200
	PriorityLow     Priority = 500
	PriorityNormal  Priority = 600
	PriorityHigh    Priority = 1000
	PriorityHighest Priority = 1300
)

// ExecutionPhase defines when a system runs relative to rendering.
type ExecutionPhase uint8

const (
	// PhasePreRender runs before the renderer draws the frame: inputs and physics.
	PhasePreRender ExecutionPhase = iota
	// PhasePostRender runs after the frame is drawn: readback and write-back.
	PhasePostRender
)

func (p ExecutionPhase) String() string {
	switch p {
	case PhasePreRender:
		return "pre_render"
	case PhasePostRender:
		return "post_render"
	default:
		return "unknown"
	}
}

// Metrics provides runtime metrics for a system
type Metrics struct {
	ExecutionCount       uint64
	TotalExecutionTime   time.Duration
	AverageExecutionTime time.Duration
	MaxExecutionTime     time.Duration
	ErrorCount           uint64
	LastError            error
	LastExecutionTime    time.Time
}

// Func adapts a plain function into a System.
type Func struct {
	ID    string
	Prio  Priority
	Phase ExecutionPhase
	Fn    func(deltaTime float64) error
}

func (f Func) Name() string                   { return f.ID }
func (f Func) Priority() Priority             { return f.Prio }
func (f Func) ExecutionPhase() ExecutionPhase { return f.Phase }
func (f Func) Update(deltaTime float64) error { return f.Fn(deltaTime) }
