// Package kgfile is a concrete, file-backed implementation of the
// knowledge-graph query surface (internal/kg.Graph). The KG crawling and
// scoring pipeline itself remains an external collaborator; this package
// only answers the read-only query contract from a pre-extracted JSON
// snapshot, the same way golang-dep's manifest.go/lock.go decode an
// on-disk JSON representation of project state rather than querying a
// live service.
package kgfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/sdboyer/envinfer/internal/kg"
	"github.com/sdboyer/envinfer/internal/model"
)

// snapshotFile is the on-disk JSON schema read from <langdir>/kg.json.
type snapshotFile struct {
	Interpreters []string                  `json:"interpreters"`
	Packages     map[string]packageRecord  `json:"packages"`
	Modules      map[string][]moduleTarget `json:"modules"`
	StdlibAttrs  map[string][]string       `json:"stdlib_attrs"`
}

type packageRecord struct {
	Versions []versionRecord `json:"versions"`
}

type versionRecord struct {
	Version      string           `json:"version"`
	MetaSpec     string           `json:"meta_spec,omitempty"`
	ReposSpec    string           `json:"repos_spec,omitempty"`
	UploadedAt   string           `json:"uploaded_at,omitempty"`
	Dependencies []dependencyEdge `json:"dependencies,omitempty"`
}

type dependencyEdge struct {
	Target     string `json:"target"`
	Specifier  string `json:"specifier,omitempty"`
	Extras     []string `json:"extras,omitempty"`
	Marker     string `json:"marker,omitempty"`
	Order      int    `json:"order"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

type moduleTarget struct {
	Package string `json:"package"`
	Version string `json:"version"`
}

// Graph is a kg.Graph backed by an in-memory decode of a JSON snapshot.
type Graph struct {
	interpreters []model.InterpreterVersion
	packages     map[model.PackageName][]kg.VersionConstraintPair
	edges        map[string][]kg.DependencyEdge
	modules      map[string][]kg.PackageVersionRef
	stdlibAttrs  map[string][]kg.ModuleAttribute
}

// Load reads <dir>/kg.json and decodes it into a Graph. Malformed
// individual version or dependency entries are skipped rather than
// failing the whole load, matching spec §4.A's "callers are expected to
// skip invalid entries rather than fail the whole query."
func Load(dir string) (*Graph, error) {
	data, err := os.ReadFile(filepath.Join(dir, "kg.json"))
	if err != nil {
		return nil, errors.Wrap(err, "reading knowledge graph snapshot")
	}
	var raw snapshotFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding knowledge graph snapshot")
	}

	g := &Graph{
		packages:    make(map[model.PackageName][]kg.VersionConstraintPair),
		edges:       make(map[string][]kg.DependencyEdge),
		modules:     make(map[string][]kg.PackageVersionRef),
		stdlibAttrs: make(map[string][]kg.ModuleAttribute),
	}

	for _, raw := range raw.Interpreters {
		v, err := model.ParseInterpreterVersion(raw)
		if err != nil {
			continue
		}
		g.interpreters = append(g.interpreters, v)
	}
	model.SortInterpreterVersions(g.interpreters)

	for name, rec := range raw.Packages {
		pkg := model.Canonicalize(name)
		for _, vr := range rec.Versions {
			v, err := model.ParseVersion(vr.Version)
			if err != nil {
				continue
			}
			g.packages[pkg] = append(g.packages[pkg], kg.VersionConstraintPair{
				Version:    v,
				Constraint: model.InterpreterConstraint{MetaSpec: vr.MetaSpec, ReposSpec: vr.ReposSpec},
				UploadedAt: parseTimeOrZero(vr.UploadedAt),
			})

			var depEdges []kg.DependencyEdge
			for _, d := range vr.Dependencies {
				spec, err := model.ParseVersionSpecifierSet(d.Specifier)
				if err != nil {
					continue
				}
				depEdges = append(depEdges, kg.DependencyEdge{
					Target:     model.Canonicalize(d.Target),
					Specifier:  spec,
					Extras:     model.NewExtrasSet(d.Extras...),
					Marker:     kg.AlwaysTrueMarker{},
					Order:      d.Order,
					UploadedAt: parseTimeOrZero(d.UploadedAt),
				})
			}
			g.edges[string(pkg)+"@"+v.String()] = depEdges
		}
	}

	for moduleID, targets := range raw.Modules {
		for _, t := range targets {
			v, err := model.ParseVersion(t.Version)
			if err != nil {
				continue
			}
			g.modules[moduleID] = append(g.modules[moduleID], kg.PackageVersionRef{
				Package: model.Canonicalize(t.Package),
				Version: v,
			})
		}
	}

	for interp, attrs := range raw.StdlibAttrs {
		for _, a := range attrs {
			g.stdlibAttrs[interp] = append(g.stdlibAttrs[interp], kg.ModuleAttribute{Path: a})
		}
	}

	return g, nil
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func (g *Graph) AllPackages(ctx context.Context) ([]model.PackageName, error) {
	out := make([]model.PackageName, 0, len(g.packages))
	for p := range g.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (g *Graph) AllInterpreterReleases(ctx context.Context) ([]model.InterpreterVersion, error) {
	return append([]model.InterpreterVersion(nil), g.interpreters...), nil
}

func (g *Graph) ModuleAttributes(ctx context.Context, interp model.InterpreterVersion) ([]kg.ModuleAttribute, error) {
	return g.stdlibAttrs[interp.String()], nil
}

func (g *Graph) PackagesForModule(ctx context.Context, moduleID string) ([]kg.PackageVersionRef, error) {
	return g.modules[moduleID], nil
}

func (g *Graph) VersionsWithConstraints(ctx context.Context, pkg model.PackageName) ([]kg.VersionConstraintPair, error) {
	return g.packages[pkg], nil
}

func (g *Graph) Versions(ctx context.Context, pkg model.PackageName) ([]model.Version, error) {
	pairs := g.packages[pkg]
	out := make([]model.Version, len(pairs))
	for i, p := range pairs {
		out[i] = p.Version
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (g *Graph) DependencyEdges(ctx context.Context, pkg model.PackageName, v model.Version) ([]kg.DependencyEdge, error) {
	return g.edges[string(pkg)+"@"+v.String()], nil
}
