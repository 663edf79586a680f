// Package asset imports named-mesh libraries and rig manifests.
package asset

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/mesh"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/rig"
	"gopkg.in/yaml.v3"
)

const (
	// EmbedScheme prefixes URIs served from the binary.
	EmbedScheme = "embed://"

	DemoModel    = EmbedScheme + "demobot/model.yaml"
	DemoManifest = EmbedScheme + "demobot/rig.yaml"
	DemoScene    = EmbedScheme + "demobot/scene.yaml"
)

var (
	ErrNotFound  = errors.New("asset not found")
	ErrMalformed = errors.New("malformed asset")
)

//go:embed demobot/*.yaml
var embedded embed.FS

// Source is the mesh-import collaborator.
type Source interface {
	Import(ctx context.Context, uri string) (*mesh.Library, error)
	Manifest(ctx context.Context, uri string) (*rig.Manifest, error)
}

type sphereDoc struct {
	Radius   float64 `yaml:"radius"`
	Rings    int     `yaml:"rings"`
	Segments int     `yaml:"segments"`
}

type meshDoc struct {
	Name     string       `yaml:"name"`
	Parent   string       `yaml:"parent,omitempty"`
	Position []float64    `yaml:"position,omitempty"`
	Rotation []float64    `yaml:"rotation,omitempty"`
	Scale    []float64    `yaml:"scale,omitempty"`
	Hidden   bool         `yaml:"hidden,omitempty"`
	Box      []float64    `yaml:"box,omitempty"`
	Sphere   *sphereDoc   `yaml:"sphere,omitempty"`
	Vertices [][3]float64 `yaml:"vertices,omitempty"`
	Indices  []uint32     `yaml:"indices,omitempty"`
}

type libraryDoc struct {
	Meshes []meshDoc `yaml:"meshes"`
}

// FileSource reads YAML mesh libraries from disk or from the embedded demo assets.
type FileSource struct {
	logger log.Log
}

var _ Source = (*FileSource)(nil)

// NewFileSource returns a Source backed by the filesystem and the embedded assets.
func NewFileSource(logger log.Log) *FileSource {
	return &FileSource{logger: logger.With(log.Component("asset"))}
}

// Import reads the library at uri.
func (s *FileSource) Import(ctx context.Context, uri string) (*mesh.Library, error) {
	data, err := s.read(ctx, uri)
	if err != nil {
		return nil, err
	}
	lib, err := ParseLibrary(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	s.logger.Debug("mesh library imported", log.String("uri", uri), log.Int("meshes", lib.Len()))
	return lib, nil
}

// Manifest reads the rig manifest at uri.
func (s *FileSource) Manifest(ctx context.Context, uri string) (*rig.Manifest, error) {
	data, err := s.read(ctx, uri)
	if err != nil {
		return nil, err
	}
	m, err := rig.ParseManifest(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	return m, nil
}

// Open returns the raw contents at uri, such as a scene file.
func (s *FileSource) Open(ctx context.Context, uri string) (io.Reader, error) {
	data, err := s.read(ctx, uri)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (s *FileSource) read(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		data []byte
		err  error
	)
	if name, ok := strings.CutPrefix(uri, EmbedScheme); ok {
		data, err = embedded.ReadFile(name)
	} else {
		data, err = os.ReadFile(strings.TrimPrefix(uri, "file://"))
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return data, nil
}

// ParseLibrary decodes a YAML mesh library, expanding box and sphere primitives into
// triangle meshes.
func ParseLibrary(r io.Reader) (*mesh.Library, error) {
	var doc libraryDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	lib := mesh.NewLibrary()
	for _, d := range doc.Meshes {
		m, err := d.mesh()
		if err != nil {
			return nil, err
		}
		if err := lib.Add(m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	for _, name := range lib.Names() {
		if _, err := lib.WorldPose(name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return lib, nil
}

func (d meshDoc) mesh() (*mesh.Mesh, error) {
	m := &mesh.Mesh{Name: d.Name, Parent: d.Parent, Visible: !d.Hidden}
	var err error
	if m.Position, err = optVec(d.Position, mgl64.Vec3{}); err != nil {
		return nil, fmt.Errorf("%w: mesh %q position: %v", ErrMalformed, d.Name, err)
	}
	if m.Scale, err = optVec(d.Scale, mgl64.Vec3{1, 1, 1}); err != nil {
		return nil, fmt.Errorf("%w: mesh %q scale: %v", ErrMalformed, d.Name, err)
	}
	deg, err := optVec(d.Rotation, mgl64.Vec3{})
	if err != nil {
		return nil, fmt.Errorf("%w: mesh %q rotation: %v", ErrMalformed, d.Name, err)
	}
	m.Rotation = geom.Euler{
		X: mgl64.DegToRad(deg[0]),
		Y: mgl64.DegToRad(deg[1]),
		Z: mgl64.DegToRad(deg[2]),
	}.Quat()

	switch {
	case len(d.Box) > 0:
		half, err := optVec(d.Box, mgl64.Vec3{})
		if err != nil {
			return nil, fmt.Errorf("%w: mesh %q box: %v", ErrMalformed, d.Name, err)
		}
		m.Vertices, m.Indices = Box(half)
	case d.Sphere != nil:
		if d.Sphere.Radius <= 0 {
			return nil, fmt.Errorf("%w: mesh %q sphere radius must be positive", ErrMalformed, d.Name)
		}
		m.Vertices, m.Indices = Sphere(d.Sphere.Radius, d.Sphere.Rings, d.Sphere.Segments)
	default:
		for _, v := range d.Vertices {
			m.Vertices = append(m.Vertices, mgl64.Vec3(v))
		}
		m.Indices = append(m.Indices, d.Indices...)
		for _, i := range m.Indices {
			if int(i) >= len(m.Vertices) {
				return nil, fmt.Errorf("%w: mesh %q index %d out of range", ErrMalformed, d.Name, i)
			}
		}
	}
	return m, nil
}

func optVec(v []float64, def mgl64.Vec3) (mgl64.Vec3, error) {
	switch len(v) {
	case 0:
		return def, nil
	case 3:
		return mgl64.Vec3{v[0], v[1], v[2]}, nil
	default:
		return def, fmt.Errorf("expected 3 components, got %d", len(v))
	}
}

// Box returns an axis-aligned box with the given half extents, counter-clockwise
// winding seen from outside.
func Box(half mgl64.Vec3) ([]mgl64.Vec3, []uint32) {
	x, y, z := half[0], half[1], half[2]
	verts := []mgl64.Vec3{
		{-x, -y, -z}, {x, -y, -z}, {x, y, -z}, {-x, y, -z},
		{-x, -y, z}, {x, -y, z}, {x, y, z}, {-x, y, z},
	}
	idx := []uint32{
		0, 2, 1, 0, 3, 2, // -z
		4, 5, 6, 4, 6, 7, // +z
		0, 1, 5, 0, 5, 4, // -y
		3, 7, 6, 3, 6, 2, // +y
		0, 4, 7, 0, 7, 3, // -x
		1, 2, 6, 1, 6, 5, // +x
	}
	return verts, idx
}

// Sphere returns a UV sphere. rings and segments are raised to usable minimums.
func Sphere(radius float64, rings, segments int) ([]mgl64.Vec3, []uint32) {
	if rings < 2 {
		rings = 2
	}
	if segments < 3 {
		segments = 3
	}
	var verts []mgl64.Vec3
	for r := 0; r <= rings; r++ {
		phi := math.Pi * float64(r) / float64(rings)
		for s := 0; s <= segments; s++ {
			theta := 2 * math.Pi * float64(s) / float64(segments)
			verts = append(verts, mgl64.Vec3{
				radius * math.Sin(phi) * math.Cos(theta),
				radius * math.Cos(phi),
				radius * math.Sin(phi) * math.Sin(theta),
			})
		}
	}
	var idx []uint32
	row := uint32(segments + 1)
	for r := uint32(0); r < uint32(rings); r++ {
		for s := uint32(0); s < uint32(segments); s++ {
			a := r*row + s
			b := a + row
			idx = append(idx, a, a+1, b, a+1, b+1, b)
		}
	}
	return verts, idx
}
