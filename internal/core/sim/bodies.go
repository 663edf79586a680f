package sim

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/zeusync/rigsim/internal/core/geom"
	"github.com/zeusync/rigsim/internal/core/physics"
	"github.com/zeusync/rigsim/internal/core/scene"
	"golang.org/x/sync/errgroup"
)

// SceneBodyPrefix namespaces physics bodies created for scene nodes.
const SceneBodyPrefix = "scene/"

// importParallelism bounds concurrent geometry imports per load.
const importParallelism = 4

func sceneBodyID(nodeID string) physics.BodyID {
	return physics.BodyID(SceneBodyPrefix + nodeID)
}

func nodeOfBody(id physics.BodyID) (string, bool) {
	return strings.CutPrefix(string(id), SceneBodyPrefix)
}

// importShapes resolves every geometry of sc into colliders in meters, importing file
// geometries concurrently.
func (s *Simulation) importShapes(ctx context.Context, sc scene.Scene) (map[string][]physics.Collider, error) {
	shapes := make(map[string][]physics.Collider, len(sc.Geometries))
	files := make(map[string][]physics.Collider)
	for _, g := range sc.Geometries {
		switch g.Kind {
		case scene.GeometryBox:
			half := mgl64.Vec3{g.Size[0].Centimeters(), g.Size[1].Centimeters(), g.Size[2].Centimeters()}.
				Mul(scene.MetersPerCentimeter / 2)
			shapes[g.ID] = []physics.Collider{{Name: g.ID, Shape: physics.ShapeBox, HalfExtents: half, Local: geom.Identity()}}
		case scene.GeometrySphere:
			shapes[g.ID] = []physics.Collider{{
				Name:   g.ID,
				Shape:  physics.ShapeSphere,
				Radius: g.Radius.Centimeters() * scene.MetersPerCentimeter,
				Local:  geom.Identity(),
			}}
		case scene.GeometryFile:
			files[g.URI] = nil
		}
	}

	if len(files) > 0 {
		uris := make([]string, 0, len(files))
		for uri := range files {
			uris = append(uris, uri)
		}
		results := make([][]physics.Collider, len(uris))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(importParallelism)
		for i, uri := range uris {
			g.Go(func() error {
				cols, err := s.importFile(gctx, uri)
				if err != nil {
					return err
				}
				results[i] = cols
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, uri := range uris {
			files[uri] = results[i]
		}
		for _, g := range sc.Geometries {
			if g.Kind == scene.GeometryFile {
				shapes[g.ID] = files[g.URI]
			}
		}
	}
	return shapes, nil
}

// importFile fits one box around every vertex of an imported library.
func (s *Simulation) importFile(ctx context.Context, uri string) ([]physics.Collider, error) {
	lib, err := s.assets.Import(ctx, uri)
	if err != nil {
		return nil, err
	}
	var points []mgl64.Vec3
	for _, name := range lib.Names() {
		vs, err := lib.WorldVertices(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", uri, err)
		}
		points = append(points, vs...)
	}
	bounds, ok := geom.BoundsOf(points)
	if !ok {
		return nil, fmt.Errorf("%s: no vertices", uri)
	}
	return []physics.Collider{{
		Name:        uri,
		Shape:       physics.ShapeBox,
		HalfExtents: bounds.HalfExtents(),
		Local:       geom.NewPose(bounds.Center(), mgl64.QuatIdent()),
	}}, nil
}

// bodyDefs resolves the physics bodies sc needs, keyed by node id. Robot nodes are
// served by the rig and skipped.
func bodyDefs(sc scene.Scene, shapes map[string][]physics.Collider) (map[string]physics.BodyDef, error) {
	defs := make(map[string]physics.BodyDef)
	for _, n := range sc.Nodes {
		if n.Type == scene.NodeRobot || n.Physics == nil || n.GeometryID == "" {
			continue
		}
		cols, ok := shapes[n.GeometryID]
		if !ok {
			return nil, fmt.Errorf("%w: %s on node %s", ErrUnknownGeometry, n.GeometryID, n.ID)
		}
		scale := n.Origin.ScaleOrOne()
		scaled := make([]physics.Collider, len(cols))
		for i, c := range cols {
			c.Local.Position = geom.MulElem(scale, c.Local.Position)
			c.HalfExtents = geom.MulElem(geom.AbsVec(scale), c.HalfExtents)
			c.Radius *= math.Max(math.Abs(scale[0]), math.Max(math.Abs(scale[1]), math.Abs(scale[2])))
			scaled[i] = c
		}
		defs[n.ID] = physics.BodyDef{
			Pose:        n.Origin.WorldPose(),
			Mass:        n.Physics.Mass,
			Friction:    n.Physics.Friction,
			Restitution: n.Physics.Restitution,
			Colliders:   scaled,
		}
	}
	return defs, nil
}
