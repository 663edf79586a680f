package rig

import (
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/physics"
	"gopkg.in/yaml.v3"
)

// ColliderSpec declares a named sub-mesh to wrap in a collider of the given shape.
// A zero Mass attaches it as a static child of its compound.
type ColliderSpec struct {
	Name  string  `yaml:"name"`
	Shape string  `yaml:"shape"`
	Mass  float64 `yaml:"mass,omitempty"`
}

// CompoundSpec is a root transform that owns a set of colliders. Zero Mass or Friction
// fall back to the configured tuning.
type CompoundSpec struct {
	Root      string         `yaml:"root"`
	Mass      float64        `yaml:"mass,omitempty"`
	Friction  float64        `yaml:"friction,omitempty"`
	Colliders []ColliderSpec `yaml:"colliders"`
}

// WheelSpec is a single-mesh wheel body.
type WheelSpec struct {
	Mesh     string  `yaml:"mesh"`
	Shape    string  `yaml:"shape"`
	Mass     float64 `yaml:"mass,omitempty"`
	Friction float64 `yaml:"friction,omitempty"`
}

// JointSpec places a hinge. Axis is a fixed world axis; when it is empty the axis is
// Reference rotated by the Horn mesh's world orientation.
type JointSpec struct {
	Pivot     string    `yaml:"pivot"`
	Axis      []float64 `yaml:"axis,omitempty"`
	Horn      string    `yaml:"horn,omitempty"`
	Reference []float64 `yaml:"reference,omitempty"`
}

// Manifest describes how to cut a mesh library into a jointed rig.
type Manifest struct {
	Body   CompoundSpec `yaml:"body"`
	Arm    CompoundSpec `yaml:"arm"`
	Claw   CompoundSpec `yaml:"claw"`
	Wheels struct {
		Left  WheelSpec `yaml:"left"`
		Right WheelSpec `yaml:"right"`
	} `yaml:"wheels"`
	Joints struct {
		LeftWheel  JointSpec `yaml:"left_wheel"`
		RightWheel JointSpec `yaml:"right_wheel"`
		Arm        JointSpec `yaml:"arm"`
		Claw       JointSpec `yaml:"claw"`
	} `yaml:"joints"`
	// Sensors maps a sensor id onto the mesh it is mounted at.
	Sensors map[string]string `yaml:"sensors,omitempty"`
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest is structurally complete.
func (m *Manifest) Validate() error {
	for role, c := range map[string]CompoundSpec{RoleBody: m.Body, RoleArm: m.Arm, RoleClaw: m.Claw} {
		if c.Root == "" {
			return fmt.Errorf("%w: %s has no root", ErrInvalidManifest, role)
		}
		if c.Mass < 0 || c.Friction < 0 {
			return fmt.Errorf("%w: %s has negative mass or friction", ErrInvalidManifest, role)
		}
		for _, col := range c.Colliders {
			if col.Name == "" {
				return fmt.Errorf("%w: %s has an unnamed collider", ErrInvalidManifest, role)
			}
			if _, ok := physics.ParseShape(col.Shape); !ok {
				return fmt.Errorf("%w: %s collider %q has shape %q", ErrInvalidManifest, role, col.Name, col.Shape)
			}
			if col.Mass < 0 {
				return fmt.Errorf("%w: %s collider %q has negative mass", ErrInvalidManifest, role, col.Name)
			}
		}
	}
	for role, w := range map[string]WheelSpec{RoleLeftWheel: m.Wheels.Left, RoleRightWheel: m.Wheels.Right} {
		if w.Mesh == "" {
			return fmt.Errorf("%w: %s has no mesh", ErrInvalidManifest, role)
		}
		if _, ok := physics.ParseShape(w.Shape); !ok {
			return fmt.Errorf("%w: %s has shape %q", ErrInvalidManifest, role, w.Shape)
		}
		if w.Mass < 0 || w.Friction < 0 {
			return fmt.Errorf("%w: %s has negative mass or friction", ErrInvalidManifest, role)
		}
	}
	for role, j := range m.jointSpecs() {
		if j.Pivot == "" {
			return fmt.Errorf("%w: joint %s has no pivot", ErrInvalidManifest, role)
		}
		if len(j.Axis) == 0 {
			if j.Horn == "" || len(j.Reference) != 3 {
				return fmt.Errorf("%w: joint %s needs an axis or a horn with a reference axis", ErrInvalidManifest, role)
			}
		} else if len(j.Axis) != 3 {
			return fmt.Errorf("%w: joint %s axis must have 3 components", ErrInvalidManifest, role)
		}
	}
	return nil
}

func (m *Manifest) jointSpecs() map[JointRole]JointSpec {
	return map[JointRole]JointSpec{
		JointLeftWheel:  m.Joints.LeftWheel,
		JointRightWheel: m.Joints.RightWheel,
		JointArm:        m.Joints.Arm,
		JointClaw:       m.Joints.Claw,
	}
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func vec3(v []float64) mgl64.Vec3 {
	if len(v) != 3 {
		return mgl64.Vec3{}
	}
	return mgl64.Vec3{v[0], v[1], v[2]}
}
