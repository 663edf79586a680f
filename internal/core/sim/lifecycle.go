package sim

// Lifecycle is the coarse state of the simulation.
type Lifecycle int32

const (
	Uninitialized Lifecycle = iota
	Loading
	Ready
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// LifecycleEvent is published on the sim topic on every transition.
type LifecycleEvent struct {
	From Lifecycle
	To   Lifecycle
}

// LoadEvent reports the outcome of a scene load.
type LoadEvent struct {
	RequestID string
	Nodes     int
	Err       error
}
