// Package mesh holds the named-mesh hierarchy produced by the asset importer and the
// transform surgery the rig builder performs on it.
package mesh

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
)

// ColliderPrefix marks physics-only meshes; they are hidden from view by default.
const ColliderPrefix = "collider_"

// Mesh is a named node with geometry. Position, Rotation and Scale are local to Parent.
type Mesh struct {
	Name     string
	Parent   string
	Position mgl64.Vec3
	Rotation mgl64.Quat
	Scale    mgl64.Vec3
	Vertices []mgl64.Vec3
	Indices  []uint32
	Visible  bool
}

// LocalPose returns the mesh's rigid local transform without scale.
func (m *Mesh) LocalPose() geom.Pose {
	return geom.NewPose(m.Position, m.Rotation)
}

// Library is a set of meshes keyed by name.
type Library struct {
	meshes map[string]*Mesh
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{meshes: make(map[string]*Mesh)}
}

// Add inserts m. Zero rotation/scale are defaulted and collider meshes are hidden.
func (l *Library) Add(m *Mesh) error {
	if m.Name == "" {
		return fmt.Errorf("mesh without a name")
	}
	if _, ok := l.meshes[m.Name]; ok {
		return fmt.Errorf("duplicate mesh %q", m.Name)
	}
	if m.Rotation == (mgl64.Quat{}) {
		m.Rotation = mgl64.QuatIdent()
	}
	if m.Scale == (mgl64.Vec3{}) {
		m.Scale = mgl64.Vec3{1, 1, 1}
	}
	if strings.HasPrefix(m.Name, ColliderPrefix) {
		m.Visible = false
	}
	l.meshes[m.Name] = m
	return nil
}

// Get returns the mesh named name.
func (l *Library) Get(name string) (*Mesh, bool) {
	m, ok := l.meshes[name]
	return m, ok
}

// Names returns all mesh names sorted.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.meshes))
	for n := range l.meshes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of meshes.
func (l *Library) Len() int { return len(l.meshes) }

// Clone deep-copies the library so a rig build never mutates imported assets.
func (l *Library) Clone() *Library {
	out := NewLibrary()
	for name, m := range l.meshes {
		c := *m
		c.Vertices = append([]mgl64.Vec3(nil), m.Vertices...)
		c.Indices = append([]uint32(nil), m.Indices...)
		out.meshes[name] = &c
	}
	return out
}

// SetCollidersVisible toggles the debug visibility of every collider_ mesh.
func (l *Library) SetCollidersVisible(visible bool) {
	for name, m := range l.meshes {
		if strings.HasPrefix(name, ColliderPrefix) {
			m.Visible = visible
		}
	}
}

// chain returns the mesh and its ancestors, root last.
func (l *Library) chain(name string) ([]*Mesh, error) {
	var out []*Mesh
	seen := make(map[string]bool)
	for name != "" {
		if seen[name] {
			return nil, fmt.Errorf("mesh hierarchy cycle at %q", name)
		}
		seen[name] = true
		m, ok := l.meshes[name]
		if !ok {
			return nil, fmt.Errorf("unknown mesh %q", name)
		}
		out = append(out, m)
		name = m.Parent
	}
	return out, nil
}

// WorldPose returns the mesh's rigid world transform. Ancestor scale is applied to
// descendant offsets but not carried in the result.
func (l *Library) WorldPose(name string) (geom.Pose, error) {
	c, err := l.chain(name)
	if err != nil {
		return geom.Pose{}, err
	}
	pose := geom.Identity()
	scale := mgl64.Vec3{1, 1, 1}
	for i := len(c) - 1; i >= 0; i-- {
		m := c[i]
		offset := pose.Rotation.Rotate(geom.MulElem(scale, m.Position))
		pose = geom.Pose{
			Position: pose.Position.Add(offset),
			Rotation: geom.NormalizeQuat(pose.Rotation.Mul(m.Rotation)),
		}
		scale = geom.MulElem(scale, m.Scale)
	}
	return pose, nil
}

// AccumulatedScale is the product of the mesh's scale and all ancestor scales.
func (l *Library) AccumulatedScale(name string) (mgl64.Vec3, error) {
	c, err := l.chain(name)
	if err != nil {
		return mgl64.Vec3{}, err
	}
	s := mgl64.Vec3{1, 1, 1}
	for _, m := range c {
		s = geom.MulElem(s, m.Scale)
	}
	return s, nil
}

// WorldVertices returns the mesh's vertices in world space.
func (l *Library) WorldVertices(name string) ([]mgl64.Vec3, error) {
	m, ok := l.meshes[name]
	if !ok {
		return nil, fmt.Errorf("unknown mesh %q", name)
	}
	pose, err := l.WorldPose(name)
	if err != nil {
		return nil, err
	}
	scale, err := l.AccumulatedScale(name)
	if err != nil {
		return nil, err
	}
	out := make([]mgl64.Vec3, len(m.Vertices))
	for i, v := range m.Vertices {
		out[i] = pose.Transform(geom.MulElem(scale, v))
	}
	return out, nil
}

// Detach unparents the mesh, baking the parent chain into its local transform and scale.
func (l *Library) Detach(name string) error {
	m, ok := l.meshes[name]
	if !ok {
		return fmt.Errorf("unknown mesh %q", name)
	}
	if m.Parent == "" {
		return nil
	}
	pose, err := l.WorldPose(name)
	if err != nil {
		return err
	}
	scale, err := l.AccumulatedScale(name)
	if err != nil {
		return err
	}
	m.Parent = ""
	m.Position = pose.Position
	m.Rotation = pose.Rotation
	m.Scale = scale
	return nil
}

// BakeNegativeScale moves the sign of a mirrored scale into the vertex data and leaves
// the scale all-positive. World-space vertex positions are unchanged. An odd number of
// mirrored axes flips triangle winding, so indices are swapped to keep faces outward.
// It reports whether anything changed.
func (l *Library) BakeNegativeScale(name string) (bool, error) {
	m, ok := l.meshes[name]
	if !ok {
		return false, fmt.Errorf("unknown mesh %q", name)
	}
	sign := geom.SignVec(m.Scale)
	if sign == (mgl64.Vec3{1, 1, 1}) {
		return false, nil
	}
	for i, v := range m.Vertices {
		m.Vertices[i] = geom.MulElem(v, sign)
	}
	m.Scale = geom.AbsVec(m.Scale)
	if sign[0]*sign[1]*sign[2] < 0 {
		for i := 0; i+2 < len(m.Indices); i += 3 {
			m.Indices[i+1], m.Indices[i+2] = m.Indices[i+2], m.Indices[i+1]
		}
	}
	return true, nil
}

// Reparent moves child under parent keeping its world transform. The child must be
// detached (its scale is kept as-is, so parents are expected to be unscaled roots).
func (l *Library) Reparent(child, parent string) error {
	c, ok := l.meshes[child]
	if !ok {
		return fmt.Errorf("unknown mesh %q", child)
	}
	pp, err := l.WorldPose(parent)
	if err != nil {
		return err
	}
	cp, err := l.WorldPose(child)
	if err != nil {
		return err
	}
	rel := cp.RelativeTo(pp)
	c.Parent = parent
	c.Position = rel.Position
	c.Rotation = rel.Rotation
	return nil
}
