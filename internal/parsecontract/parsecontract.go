// Package parsecontract declares the two external collaborators spec §1
// calls "out of scope": source parsing (produces per-file import and
// syntax-feature sets) and candidate discovery (queries the knowledge
// graph, scores matching degree, produces per-module candidate maps).
// This file states their contracts, mirroring golang-dep's
// source_manager.go, where SourceManager is defined once as an interface
// and implemented outside the solver package; default.go adds simple
// heuristic implementations (LineScanParser, KGDiscovery,
// StdlibInterpreterDiscovery) so the command-line tool runs end to end.
package parsecontract

import (
	"context"

	"github.com/sdboyer/envinfer/internal/model"
)

// ImportSet is the result of statically parsing a program: the top
// modules it imports, the dotted sub-module/attribute paths observed per
// top module, and the language-syntax features it uses (spec §2's "A,B,C
// are pure functions of their inputs"; ImportSet is the input A and B
// never have to compute themselves).
type ImportSet struct {
	TopModules     []string
	Attributes     map[string][]string
	SyntaxFeatures []string
}

// Parser extracts an ImportSet from a program's source tree.
type Parser interface {
	Parse(ctx context.Context, programDir string) (ImportSet, error)
}

// ModuleCandidate is one package offered as a candidate implementation of
// a top module: its candidate versions (already filtered/ordered per spec
// §3's CandidateVersionList contract) and the module-level similarity
// score the Package Optimizer and Environment Generator need.
type ModuleCandidate struct {
	Package    model.PackageName
	Versions   model.CandidateVersionList
	Similarity float64
}

// Discovery resolves top modules to ranked candidate packages.
type Discovery interface {
	// CandidatesForModule returns the ranked candidate packages for a
	// single top module, scored against the sub-module/attribute surface
	// observed for it.
	CandidatesForModule(ctx context.Context, topModule string, observed []string) ([]ModuleCandidate, error)

	// SimilarPackages resolves an "unknown module" (spec's term: a top
	// module with no module-attribute candidates) by package-name
	// similarity against the KG's package index, independent of any
	// module-attribute matching.
	SimilarPackages(ctx context.Context, topModule string) ([]ModuleCandidate, error)
}

// InterpreterDiscovery resolves a set of observed language-syntax
// features to the interpreter versions that support them, used by the
// Adjustment Controller's "re-run interpreter discovery" narrowing step
// (spec §4.E).
type InterpreterDiscovery interface {
	InterpretersSupporting(ctx context.Context, syntaxFeatures []string) (model.VersionSpecifierSet, error)
}
