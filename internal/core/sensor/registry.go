package sensor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/rig"
	"github.com/zeusync/rigsim/internal/core/robot"
)

type Kind string

const (
	KindET          Kind = "et"
	KindReflectance Kind = "reflectance"
	KindTouch       Kind = "touch"
)

// Descriptor is the static description of a sensor id. Direction is in the mount frame;
// Range is in meters.
type Descriptor struct {
	Kind      Kind
	Port      int
	Direction mgl64.Vec3
	Range     float64
}

// Factory builds a sensor of one kind from its mount.
type Factory func(id string, d Descriptor, m rig.Mount) (Object, error)

// Registry maps sensor ids to descriptors and kinds to factories.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	factories   map[Kind]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		factories:   make(map[Kind]Factory),
	}
}

// DefaultRegistry returns the built-in kinds and the demo robot's sensor ids.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	r.Describe("et", Descriptor{Kind: KindET, Port: 0, Direction: mgl64.Vec3{0, 0, 1}, Range: 0.8})
	r.Describe("reflectance", Descriptor{Kind: KindReflectance, Port: 1, Direction: mgl64.Vec3{0, 0, 1}, Range: 0.05})
	r.Describe("touch", Descriptor{Kind: KindTouch, Port: 0, Direction: mgl64.Vec3{0, 0, 1}, Range: 0.01})
	return r
}

func (r *Registry) Describe(id string, d Descriptor) {
	r.mu.Lock()
	r.descriptors[id] = d
	r.mu.Unlock()
}

func (r *Registry) Register(kind Kind, f Factory) {
	r.mu.Lock()
	r.factories[kind] = f
	r.mu.Unlock()
}

// New builds the sensor id mounted at m.
func (r *Registry) New(id string, m rig.Mount) (Object, error) {
	r.mu.RLock()
	d, ok := r.descriptors[id]
	f := r.factories[d.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sensor id: %s", id)
	}
	if f == nil {
		return nil, fmt.Errorf("unknown sensor kind: %s", d.Kind)
	}
	return f(id, d, m)
}

// Instantiate builds every mounted sensor, ordered by id.
func (r *Registry) Instantiate(mounts map[string]rig.Mount) ([]Object, error) {
	ids := make([]string, 0, len(mounts))
	for id := range mounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Object, 0, len(ids))
	for _, id := range ids {
		obj, err := r.New(id, mounts[id])
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func newProbe(id string, d Descriptor, m rig.Mount) (probe, error) {
	if d.Range <= 0 {
		return probe{}, fmt.Errorf("sensor %s requires a positive range", id)
	}
	dir := d.Direction
	if dir.Len() == 0 {
		dir = mgl64.Vec3{0, 0, 1}
	}
	return probe{
		id:    id,
		mount: m.Body,
		local: m.Local,
		dir:   dir.Normalize(),
		rng:   d.Range,
	}, nil
}

// RegisterBuiltins registers the ET, reflectance and touch kinds.
func RegisterBuiltins(r *Registry) {
	r.Register(KindET, func(id string, d Descriptor, m rig.Mount) (Object, error) {
		if d.Port < 0 || d.Port >= robot.NumAnalog {
			return nil, fmt.Errorf("sensor %s: analog port %d out of range", id, d.Port)
		}
		p, err := newProbe(id, d, m)
		if err != nil {
			return nil, err
		}
		return &ETSensor{probe: p, port: d.Port}, nil
	})
	r.Register(KindReflectance, func(id string, d Descriptor, m rig.Mount) (Object, error) {
		if d.Port < 0 || d.Port >= robot.NumAnalog {
			return nil, fmt.Errorf("sensor %s: analog port %d out of range", id, d.Port)
		}
		p, err := newProbe(id, d, m)
		if err != nil {
			return nil, err
		}
		return &ReflectanceSensor{probe: p, port: d.Port}, nil
	})
	r.Register(KindTouch, func(id string, d Descriptor, m rig.Mount) (Object, error) {
		if d.Port < 0 || d.Port >= robot.NumDigital {
			return nil, fmt.Errorf("sensor %s: digital port %d out of range", id, d.Port)
		}
		p, err := newProbe(id, d, m)
		if err != nil {
			return nil, err
		}
		return &TouchSensor{probe: p, port: d.Port}, nil
	})
}
