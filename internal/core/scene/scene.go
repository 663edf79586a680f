// Package scene holds the declarative scene description: nodes with authored origins,
// the geometries they reference, and a store that tags every change with its origin.
package scene

import (
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/units"
	"gopkg.in/yaml.v3"
)

// MetersPerCentimeter converts authored scene lengths into physics world units.
const MetersPerCentimeter = 0.01

var (
	ErrInvalidNode     = errors.New("invalid scene node")
	ErrInvalidGeometry = errors.New("invalid geometry")
	ErrUnknownNode     = errors.New("unknown scene node")
	ErrDuplicateNode   = errors.New("duplicate scene node")
)

type NodeType string

const (
	NodeObject NodeType = "object"
	NodeRobot  NodeType = "robot"
	NodeLight  NodeType = "light"
	NodeEmpty  NodeType = "empty"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeObject, NodeRobot, NodeLight, NodeEmpty:
		return true
	}
	return false
}

// Origin is a node's authored placement. Orientation is XYZ Euler.
type Origin struct {
	Position    [3]units.Distance `yaml:"position"`
	Orientation [3]units.Angle    `yaml:"orientation"`
	Scale       [3]float64        `yaml:"scale,omitempty"`
}

// NewOrigin builds an origin in centimeters and radians.
func NewOrigin(position mgl64.Vec3, orientation geom.Euler) Origin {
	return Origin{
		Position:    [3]units.Distance{units.Cm(position[0]), units.Cm(position[1]), units.Cm(position[2])},
		Orientation: [3]units.Angle{units.Rad(orientation.X), units.Rad(orientation.Y), units.Rad(orientation.Z)},
	}
}

// Centimeters returns the position in centimeters.
func (o Origin) Centimeters() mgl64.Vec3 {
	return mgl64.Vec3{o.Position[0].Centimeters(), o.Position[1].Centimeters(), o.Position[2].Centimeters()}
}

// Euler returns the orientation in radians.
func (o Origin) Euler() geom.Euler {
	return geom.Euler{X: o.Orientation[0].Radians(), Y: o.Orientation[1].Radians(), Z: o.Orientation[2].Radians()}
}

// WorldPose converts the origin into a physics world pose.
func (o Origin) WorldPose() geom.Pose {
	return geom.NewPose(o.Centimeters().Mul(MetersPerCentimeter), o.Euler().Quat())
}

// ScaleOrOne returns Scale, treating an unset scale as unit.
func (o Origin) ScaleOrOne() mgl64.Vec3 {
	if o.Scale == ([3]float64{}) {
		return mgl64.Vec3{1, 1, 1}
	}
	return mgl64.Vec3(o.Scale)
}

func (o Origin) validate() error {
	for _, d := range o.Position {
		if !d.Unit.Valid() {
			return fmt.Errorf("length unit %q", d.Unit)
		}
	}
	for _, a := range o.Orientation {
		if !a.Unit.Valid() {
			return fmt.Errorf("angle unit %q", a.Unit)
		}
	}
	return nil
}

// PhysicsProps makes a node a live rigid body. A zero Mass makes it static.
type PhysicsProps struct {
	Mass        float64 `yaml:"mass"`
	Friction    float64 `yaml:"friction,omitempty"`
	Restitution float64 `yaml:"restitution,omitempty"`
}

type Node struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name,omitempty"`
	Type       NodeType      `yaml:"type"`
	Origin     Origin        `yaml:"origin"`
	GeometryID string        `yaml:"geometry,omitempty"`
	Physics    *PhysicsProps `yaml:"physics,omitempty"`
	Editable   bool          `yaml:"editable,omitempty"`
}

func (n Node) validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: %s has type %q", ErrInvalidNode, n.ID, n.Type)
	}
	if err := n.Origin.validate(); err != nil {
		return fmt.Errorf("%w: %s %v", ErrInvalidNode, n.ID, err)
	}
	if n.Physics != nil && n.Physics.Mass < 0 {
		return fmt.Errorf("%w: %s has negative mass", ErrInvalidNode, n.ID)
	}
	return nil
}

type GeometryKind string

const (
	GeometryBox    GeometryKind = "box"
	GeometrySphere GeometryKind = "sphere"
	GeometryFile   GeometryKind = "file"
)

// Geometry is a shape a node can reference. Box Size is the full extent; File geometry
// is imported through the asset source.
type Geometry struct {
	ID     string            `yaml:"id"`
	Kind   GeometryKind      `yaml:"kind"`
	Size   [3]units.Distance `yaml:"size,omitempty"`
	Radius units.Distance    `yaml:"radius,omitempty"`
	URI    string            `yaml:"uri,omitempty"`
}

func (g Geometry) validate() error {
	if g.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidGeometry)
	}
	switch g.Kind {
	case GeometryBox:
		for _, d := range g.Size {
			if d.Value <= 0 || !d.Unit.Valid() {
				return fmt.Errorf("%w: %s box size %v", ErrInvalidGeometry, g.ID, g.Size)
			}
		}
	case GeometrySphere:
		if g.Radius.Value <= 0 || !g.Radius.Unit.Valid() {
			return fmt.Errorf("%w: %s sphere radius %v", ErrInvalidGeometry, g.ID, g.Radius)
		}
	case GeometryFile:
		if g.URI == "" {
			return fmt.Errorf("%w: %s has no uri", ErrInvalidGeometry, g.ID)
		}
	default:
		return fmt.Errorf("%w: %s has kind %q", ErrInvalidGeometry, g.ID, g.Kind)
	}
	return nil
}

// Scene is a complete, serializable description.
type Scene struct {
	Nodes      []Node     `yaml:"nodes"`
	Geometries []Geometry `yaml:"geometries,omitempty"`
}

// Validate checks every node and geometry and that references resolve.
func (s Scene) Validate() error {
	geoms := make(map[string]bool, len(s.Geometries))
	for _, g := range s.Geometries {
		if err := g.validate(); err != nil {
			return err
		}
		if geoms[g.ID] {
			return fmt.Errorf("%w: duplicate geometry %s", ErrInvalidGeometry, g.ID)
		}
		geoms[g.ID] = true
	}
	ids := make(map[string]bool, len(s.Nodes))
	robots := 0
	for _, n := range s.Nodes {
		if err := n.validate(); err != nil {
			return err
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		ids[n.ID] = true
		if n.GeometryID != "" && !geoms[n.GeometryID] {
			return fmt.Errorf("%w: %s references geometry %q", ErrInvalidNode, n.ID, n.GeometryID)
		}
		if n.Type == NodeRobot {
			robots++
		}
	}
	if robots > 1 {
		return fmt.Errorf("%w: %d robot nodes", ErrInvalidNode, robots)
	}
	return nil
}

// Geometry returns the geometry with id.
func (s Scene) Geometry(id string) (Geometry, bool) {
	for _, g := range s.Geometries {
		if g.ID == id {
			return g, true
		}
	}
	return Geometry{}, false
}

// Robot returns the robot node, if any.
func (s Scene) Robot() (Node, bool) {
	for _, n := range s.Nodes {
		if n.Type == NodeRobot {
			return n, true
		}
	}
	return Node{}, false
}

// Fingerprint hashes the canonical encoding of the scene.
func (s Scene) Fingerprint() uint64 {
	data, err := yaml.Marshal(s)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

// Clone deep-copies the scene.
func (s Scene) Clone() Scene {
	out := Scene{
		Nodes:      make([]Node, len(s.Nodes)),
		Geometries: append([]Geometry(nil), s.Geometries...),
	}
	for i, n := range s.Nodes {
		out.Nodes[i] = n.clone()
	}
	return out
}

func (n Node) clone() Node {
	if n.Physics != nil {
		p := *n.Physics
		n.Physics = &p
	}
	return n
}

// Decode reads and validates a YAML scene.
func Decode(r io.Reader) (Scene, error) {
	var s Scene
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Scene{}, fmt.Errorf("decode scene: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scene{}, err
	}
	return s, nil
}

// Encode writes the scene as YAML.
func (s Scene) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
