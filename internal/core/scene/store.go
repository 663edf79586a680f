package scene

import (
	"fmt"
	"sync"

	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/units"
)

// Source tags where a change originated. Consumers use it instead of a suppression
// flag to avoid reacting to their own writes.
type Source string

const (
	SourceUser    Source = bus.SourceUser
	SourcePhysics Source = bus.SourcePhysics
	SourceLoad    Source = bus.SourceLoad
)

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeOrigin   ChangeKind = "origin"
	ChangeGeometry ChangeKind = "geometry"
	ChangeReplaced ChangeKind = "replaced"
)

// Structural reports whether the change alters which bodies must exist.
func (k ChangeKind) Structural() bool {
	return k != ChangeOrigin
}

// Change describes one committed store mutation.
type Change struct {
	Kind    ChangeKind
	Source  Source
	NodeIDs []string
}

type Listener func(Change)

// OriginUpdate replaces a node's whole origin.
type OriginUpdate struct {
	NodeID string
	Origin Origin
}

// OriginPatch carries only the origin fields that changed. Nil fields are left alone.
type OriginPatch struct {
	NodeID      string
	Position    [3]*units.Distance
	Orientation *[3]units.Angle
}

// Apply returns o with the patch's fields written over it.
func (p OriginPatch) Apply(o Origin) Origin {
	for i, d := range p.Position {
		if d != nil {
			o.Position[i] = *d
		}
	}
	if p.Orientation != nil {
		o.Orientation = *p.Orientation
	}
	return o
}

// Store is the single declarative scene state. Listeners run synchronously after each
// committed change, outside the store lock, in subscription order.
type Store struct {
	mu         sync.RWMutex
	nodes      map[string]Node
	order      []string
	geometries map[string]Geometry
	geomOrder  []string

	lmu       sync.Mutex
	listeners []*listener
}

type listener struct {
	fn     Listener
	active bool
}

func NewStore() *Store {
	return &Store{
		nodes:      make(map[string]Node),
		geometries: make(map[string]Geometry),
	}
}

// Subscribe registers l and returns a cancel func.
func (s *Store) Subscribe(l Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	entry := &listener{fn: l, active: true}
	s.listeners = append(s.listeners, entry)
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		entry.active = false
		for i, e := range s.listeners {
			if e == entry {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) notify(c Change) {
	s.lmu.Lock()
	ls := append([]*listener(nil), s.listeners...)
	s.lmu.Unlock()
	for _, l := range ls {
		if l.active {
			l.fn(c)
		}
	}
}

// Node returns a copy of the node with id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n.clone(), ok
}

// Len returns the node count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Snapshot returns a deep copy of the current scene in insertion order.
func (s *Store) Snapshot() Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Scene{Nodes: make([]Node, 0, len(s.order))}
	for _, id := range s.order {
		out.Nodes = append(out.Nodes, s.nodes[id].clone())
	}
	for _, id := range s.geomOrder {
		out.Geometries = append(out.Geometries, s.geometries[id])
	}
	return out
}

// PutGeometry adds or replaces a geometry.
func (s *Store) PutGeometry(g Geometry, src Source) error {
	if err := g.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.geometries[g.ID]; !ok {
		s.geomOrder = append(s.geomOrder, g.ID)
	}
	s.geometries[g.ID] = g
	var users []string
	for _, id := range s.order {
		if s.nodes[id].GeometryID == g.ID {
			users = append(users, id)
		}
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeGeometry, Source: src, NodeIDs: users})
	return nil
}

// Add inserts a node.
func (s *Store) Add(n Node, src Source) error {
	if err := n.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.nodes[n.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	if n.GeometryID != "" {
		if _, ok := s.geometries[n.GeometryID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s references geometry %q", ErrInvalidNode, n.ID, n.GeometryID)
		}
	}
	s.nodes[n.ID] = n.clone()
	s.order = append(s.order, n.ID)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeAdded, Source: src, NodeIDs: []string{n.ID}})
	return nil
}

// Remove deletes a node.
func (s *Store) Remove(id string, src Source) error {
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	delete(s.nodes, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeRemoved, Source: src, NodeIDs: []string{id}})
	return nil
}

// UpdateOrigin replaces one node's origin.
func (s *Store) UpdateOrigin(id string, o Origin, src Source) error {
	return s.BatchUpdate([]OriginUpdate{{NodeID: id, Origin: o}}, src)
}

// BatchUpdate replaces several origins atomically: either every update is applied and a
// single change is emitted, or none is.
func (s *Store) BatchUpdate(updates []OriginUpdate, src Source) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, u := range updates {
		if _, ok := s.nodes[u.NodeID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownNode, u.NodeID)
		}
		if err := u.Origin.validate(); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s %v", ErrInvalidNode, u.NodeID, err)
		}
	}
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		n := s.nodes[u.NodeID]
		n.Origin = u.Origin
		s.nodes[u.NodeID] = n
		ids = append(ids, u.NodeID)
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeOrigin, Source: src, NodeIDs: ids})
	return nil
}

// ApplyPatches writes partial origin patches as one batch. Patches for nodes that no
// longer exist are skipped; the scene may have changed since they were computed.
func (s *Store) ApplyPatches(patches []OriginPatch, src Source) error {
	s.mu.RLock()
	updates := make([]OriginUpdate, 0, len(patches))
	for _, p := range patches {
		n, ok := s.nodes[p.NodeID]
		if !ok {
			continue
		}
		updates = append(updates, OriginUpdate{NodeID: p.NodeID, Origin: p.Apply(n.Origin)})
	}
	s.mu.RUnlock()
	return s.BatchUpdate(updates, src)
}

// Replace swaps the whole scene.
func (s *Store) Replace(sc Scene, src Source) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	sc = sc.Clone()
	s.mu.Lock()
	s.nodes = make(map[string]Node, len(sc.Nodes))
	s.order = s.order[:0]
	s.geometries = make(map[string]Geometry, len(sc.Geometries))
	s.geomOrder = s.geomOrder[:0]
	ids := make([]string, 0, len(sc.Nodes))
	for _, g := range sc.Geometries {
		s.geometries[g.ID] = g
		s.geomOrder = append(s.geomOrder, g.ID)
	}
	for _, n := range sc.Nodes {
		s.nodes[n.ID] = n
		s.order = append(s.order, n.ID)
		ids = append(ids, n.ID)
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeReplaced, Source: src, NodeIDs: ids})
	return nil
}

// Attach applies origin update requests published on the scene topic. The event's
// Source becomes the change's Source.
func (s *Store) Attach(b bus.EventBus) (bus.Subscription, error) {
	return b.SubscribeTopic(bus.TopicScene, bus.TypeOriginUpdateRequest, func(e bus.Event) error {
		patches, ok := e.Data().([]OriginPatch)
		if !ok {
			return fmt.Errorf("origin update request carries %T", e.Data())
		}
		return s.ApplyPatches(patches, Source(e.Source()))
	})
}
