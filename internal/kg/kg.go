// Package kg declares the read-only knowledge-graph query surface (spec
// §6). The KG itself -- crawling, scoring, storage -- is an external
// collaborator; this package only states its contract so the core
// dependency-solving engine has something concrete to depend on and to
// fake in tests.
package kg

import (
	"context"
	"time"

	"github.com/sdboyer/envinfer/internal/model"
)

// DependencyEdge is one dependency of a specific package version: the
// target package, its specifier/extras, an environment marker expression,
// an ordering integer (the order the KG observed multiple same-target
// edges declared at different times), and the upload timestamp of the
// edge's source metadata.
type DependencyEdge struct {
	Target     model.PackageName
	Specifier  model.VersionSpecifierSet
	Extras     model.ExtrasSet
	Marker     MarkerExpr
	Order      int
	UploadedAt time.Time
}

// MarkerExpr is an opaque, environment-evaluable marker expression (spec
// §9: "represent them as an opaque evaluator consumed by the resolver").
// Environment evaluation happens over {interpreter_version, extra}.
type MarkerExpr interface {
	// Evaluate reports whether the marker holds for the given interpreter
	// version and extra (empty string if none).
	Evaluate(interp model.InterpreterVersion, extra string) bool
}

// AlwaysTrueMarker is the trivial marker that always evaluates true; most
// dependency edges carry no marker at all.
type AlwaysTrueMarker struct{}

// Evaluate always returns true.
func (AlwaysTrueMarker) Evaluate(model.InterpreterVersion, string) bool { return true }

// ModuleAttribute names one exported sub-module or attribute surface a
// package version exposes, used to compute matching degree against a
// program's observed imports.
type ModuleAttribute struct {
	Path string // dotted path, e.g. "numpy.linalg.info"
}

// Graph is the read-only query interface a Version Store (internal/
// versionstore) is built against. Every method may perform network or
// disk I/O and should be assumed blocking (spec §5).
type Graph interface {
	// AllPackages returns every known canonical package name.
	AllPackages(ctx context.Context) ([]model.PackageName, error)

	// AllInterpreterReleases returns every known interpreter release,
	// ascending.
	AllInterpreterReleases(ctx context.Context) ([]model.InterpreterVersion, error)

	// ModuleAttributes returns the modules/attributes exposed by a
	// specific interpreter release (its standard library surface).
	ModuleAttributes(ctx context.Context, interp model.InterpreterVersion) ([]ModuleAttribute, error)

	// PackagesForModule returns the (package, version) pairs whose KG
	// module node matches moduleID, used by candidate discovery (out of
	// scope here, but the Version Store re-exposes the same query shape
	// for the similarity-fallback path in Component D).
	PackagesForModule(ctx context.Context, moduleID string) ([]PackageVersionRef, error)

	// VersionsWithConstraints returns all non-removed versions of pkg
	// along with the InterpreterConstraint recorded for each.
	VersionsWithConstraints(ctx context.Context, pkg model.PackageName) ([]VersionConstraintPair, error)

	// Versions returns all non-removed versions of pkg, without
	// constraint data, ascending by version order.
	Versions(ctx context.Context, pkg model.PackageName) ([]model.Version, error)

	// DependencyEdges returns the dependency edges declared by a specific
	// package version.
	DependencyEdges(ctx context.Context, pkg model.PackageName, v model.Version) ([]DependencyEdge, error)
}

// PackageVersionRef names a single package-version pair returned by a
// module lookup.
type PackageVersionRef struct {
	Package model.PackageName
	Version model.Version
}

// VersionConstraintPair pairs a version with its recorded
// InterpreterConstraint.
type VersionConstraintPair struct {
	Version    model.Version
	Constraint model.InterpreterConstraint
	UploadedAt time.Time
}
