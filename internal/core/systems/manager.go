package systems

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrDuplicateSystem = errors.New("system already registered")

// Manager runs registered systems phase by phase in priority order. A failing system
// does not stop the rest of its phase; errors are joined.
type Manager struct {
	mu      sync.RWMutex
	systems []System
	enabled map[string]bool
	metrics map[string]*Metrics
	onError func(name string, err error)
}

func NewManager() *Manager {
	return &Manager{
		enabled: make(map[string]bool),
		metrics: make(map[string]*Metrics),
	}
}

// RegisterSystem adds s, enabled.
func (m *Manager) RegisterSystem(s System) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enabled[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSystem, s.Name())
	}
	m.systems = append(m.systems, s)
	m.enabled[s.Name()] = true
	m.metrics[s.Name()] = &Metrics{}
	sort.SliceStable(m.systems, func(i, j int) bool {
		a, b := m.systems[i], m.systems[j]
		if a.ExecutionPhase() != b.ExecutionPhase() {
			return a.ExecutionPhase() < b.ExecutionPhase()
		}
		return a.Priority() > b.Priority()
	})
	return nil
}

func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enabled[name]; !ok {
		return fmt.Errorf("unknown system: %s", name)
	}
	m.enabled[name] = enabled
	return nil
}

// OnSystemError registers a callback for failed updates.
func (m *Manager) OnSystemError(fn func(name string, err error)) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// UpdatePhase runs every enabled system of phase.
func (m *Manager) UpdatePhase(phase ExecutionPhase, deltaTime float64) error {
	m.mu.RLock()
	var run []System
	for _, s := range m.systems {
		if s.ExecutionPhase() == phase && m.enabled[s.Name()] {
			run = append(run, s)
		}
	}
	onError := m.onError
	m.mu.RUnlock()

	var errs []error
	for _, s := range run {
		start := time.Now()
		err := s.Update(deltaTime)
		m.record(s.Name(), start, err)
		if err != nil {
			err = fmt.Errorf("%s: %w", s.Name(), err)
			errs = append(errs, err)
			if onError != nil {
				onError(s.Name(), err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) record(name string, start time.Time, err error) {
	elapsed := time.Since(start)
	m.mu.Lock()
	defer m.mu.Unlock()
	mt := m.metrics[name]
	mt.ExecutionCount++
	mt.TotalExecutionTime += elapsed
	mt.AverageExecutionTime = mt.TotalExecutionTime / time.Duration(mt.ExecutionCount)
	if elapsed > mt.MaxExecutionTime {
		mt.MaxExecutionTime = elapsed
	}
	mt.LastExecutionTime = start
	if err != nil {
		mt.ErrorCount++
		mt.LastError = err
	}
}

// GetExecutionOrder returns system names in the order they run.
func (m *Manager) GetExecutionOrder() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.systems))
	for i, s := range m.systems {
		out[i] = s.Name()
	}
	return out
}

func (m *Manager) GetSystemMetrics(name string) (Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.metrics[name]
	if !ok {
		return Metrics{}, false
	}
	return *mt, true
}
