package generator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sdboyer/envinfer/internal/model"
	"github.com/sdboyer/envinfer/internal/parsecontract"
	"github.com/sdboyer/envinfer/internal/resolver"
	"github.com/sdboyer/envinfer/internal/versionstore"
	golog "github.com/sdboyer/envinfer/log"
)

// Generator is the stateful façade of Component D. It is not safe for
// concurrent use: a job holds exclusive ownership of its Generator, and
// no method is reentrant (spec §5).
type Generator struct {
	store     *versionstore.Store
	resolve   *resolver.Resolver
	discovery parsecontract.Discovery
	log       *golog.Logger

	state *State
}

// Option configures a Generator at construction time.
type Option func(*Generator)

// WithLogger attaches a diagnostic logger.
func WithLogger(l *golog.Logger) Option {
	return func(g *Generator) { g.log = l.With("generator") }
}

// New constructs a Generator. discovery may be nil if the caller never
// intends to exercise the similarity-fallback path (spec §4.D step 4);
// with a nil discovery that path is skipped: the module is marked unknown
// and left without candidates, and no error is returned.
func New(store *versionstore.Store, resolve *resolver.Resolver, discovery parsecontract.Discovery, opts ...Option) *Generator {
	g := &Generator{store: store, resolve: resolve, discovery: discovery, state: newEmptyState()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Backup returns a deep-copy snapshot of the current GeneratorState
// (spec §8 invariant 6: "backup_state(); mutate_that_fails; restore_state
// (backup) leaves the GeneratorState observationally identical").
func (g *Generator) Backup() *State {
	return g.state.clone()
}

// Restore replaces the live state with a previously captured snapshot.
func (g *Generator) Restore(snap *State) {
	g.state = snap.clone()
}

// State returns the live GeneratorState for read-only inspection (tests,
// diagnostics). Callers must not mutate the returned maps directly.
func (g *Generator) State() *State { return g.state }

// SetCandidates implements spec §4.D's set_candidates: clears
// intermediate state, adopts the candidate maps, and seeds used_pkgs from
// the candidate packages. If existingEnv is non-nil, the pinned
// interpreter must be among interpreterCandidates (otherwise SetCandidates
// fails and returns false), the candidate list is restricted to that
// single interpreter, and existing packages are protected per spec §4.D
// and DESIGN.md's Open Question 1 decision (retain only the pinned
// version; absence retains nothing).
func (g *Generator) SetCandidates(interpreterCandidates []model.InterpreterVersion, pv PVCandidates, sim Similarity, existingEnv *ExistingEnv) bool {
	st := newEmptyState()
	st.InterpreterCandidates = append([]model.InterpreterVersion(nil), interpreterCandidates...)

	for m, pkgs := range pv {
		cp := make(map[model.PackageName]model.CandidateVersionList, len(pkgs))
		for p, cvl := range pkgs {
			cvlCopy := append(model.CandidateVersionList(nil), cvl...)
			cvlCopy.Sort()
			cp[p] = cvlCopy
		}
		st.PVCandidates[m] = cp

		used := make(map[model.PackageName]struct{}, len(pkgs))
		for p := range pkgs {
			used[p] = struct{}{}
		}
		st.UsedPkgs[m] = used
	}
	for m, scores := range sim {
		cp := make(map[model.PackageName]float64, len(scores))
		for p, v := range scores {
			cp[p] = v
		}
		st.Similarity[m] = cp
	}

	if existingEnv != nil {
		if !containsInterpreter(interpreterCandidates, existingEnv.Interpreter) {
			return false
		}
		st.InterpreterCandidates = []model.InterpreterVersion{existingEnv.Interpreter}
		st.ExistingInterpreter = existingEnv.Interpreter
		for p, v := range existingEnv.Packages {
			st.ExistingPVs[p] = v
		}
		protectExistingPackages(st, existingEnv.Packages)
	}

	g.state = st
	return true
}

// SelectModule runs select_pvs_for_module for a single top module. The
// orchestrator (the CLI, or a test) calls this once per module returned
// by source parsing after SetCandidates, before the first
// GenerateCandidateEnvironment call populates an install list from them.
func (g *Generator) SelectModule(ctx context.Context, topModule string) error {
	return g.selectPVsForModule(ctx, topModule)
}

// containsInterpreter reports whether candidates includes v.
func containsInterpreter(candidates []model.InterpreterVersion, v model.InterpreterVersion) bool {
	for _, c := range candidates {
		if c.Equal(v) {
			return true
		}
	}
	return false
}

// protectExistingPackages implements spec §4.D's existing-env protection:
// for each top module, if any of its candidate packages intersects the
// pinned set, mark the module "unknown" (so it will not be re-chosen by
// similarity later), discard all non-pinned packages from it, and for
// each retained package keep only the CandidateVersion matching the
// pinned version.
func protectExistingPackages(st *State, pinned map[model.PackageName]model.Version) {
	for m, pkgs := range st.PVCandidates {
		intersects := false
		for p := range pkgs {
			if _, ok := pinned[p]; ok {
				intersects = true
				break
			}
		}
		if !intersects {
			continue
		}

		st.UnknownModules[m] = struct{}{}

		retained := make(map[model.PackageName]model.CandidateVersionList)
		for p, cvl := range pkgs {
			pinnedVersion, ok := pinned[p]
			if !ok {
				continue
			}
			var keep model.CandidateVersionList
			for _, cv := range cvl {
				if cv.Version.Equal(pinnedVersion) {
					keep = append(keep, cv)
					break
				}
			}
			// DESIGN.md Open Question 1: absence of the pinned version in
			// the candidate list retains nothing for that package.
			if len(keep) > 0 {
				retained[p] = keep
			}
		}
		st.PVCandidates[m] = retained
	}
}

// AddPythonConstraint implements spec §4.D's add_python_constraint:
// rejected if an interpreter is pre-pinned (existing_env set it). It
// snapshots state, intersects interpreter_candidates with spec, re-selects
// any module whose admissible set no longer overlaps the new candidates,
// and recomputes selected_interpreters, committing only if the top choice
// changed.
func (g *Generator) AddPythonConstraint(ctx context.Context, spec model.VersionSpecifierSet) (bool, error) {
	if !g.state.ExistingInterpreter.IsZero() {
		return false, nil
	}

	before := g.Backup()
	previousTop, hadPrevious := firstInterpreter(g.state.SelectedInterpreters)

	var narrowed []model.InterpreterVersion
	for _, v := range g.state.InterpreterCandidates {
		if spec.IsAny() || spec.Contains(toPackageVersion(v)) {
			narrowed = append(narrowed, v)
		}
	}
	g.state.InterpreterCandidates = narrowed

	for m := range g.state.SelectedPVs {
		avail := g.state.AvailableInterpreters[m]
		if intersectsAny(avail, narrowed) {
			continue
		}
		// The module's current batch is no longer viable under the
		// narrowed interpreter set; clear its selection and re-run
		// select_pvs_for_module so it picks a fresh batch (or exhausts
		// into the similarity fallback).
		delete(g.state.SelectedPVs, m)
		if err := g.selectPVsForModule(ctx, m); err != nil {
			g.Restore(before)
			return false, err
		}
	}

	g.calSelectedInterpreters(false)

	newTop, hasNew := firstInterpreter(g.state.SelectedInterpreters)
	changed := hasNew != hadPrevious || (hasNew && !newTop.Equal(previousTop))
	if !changed {
		g.Restore(before)
		return false, nil
	}
	return true, nil
}

func firstInterpreter(vs []model.InterpreterVersion) (model.InterpreterVersion, bool) {
	if len(vs) == 0 {
		return model.InterpreterVersion{}, false
	}
	return vs[0], true
}

func intersectsAny(set InterpreterSet, candidates []model.InterpreterVersion) bool {
	if len(set) == 0 {
		return false
	}
	for _, c := range candidates {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

// toPackageVersion adapts an InterpreterVersion into the model.Version
// specifier-matching machinery, since both are backed by the same
// underlying semver ordering (spec §3 keeps the types distinct only so
// interpreter and package pins are never mixed at the type level).
func toPackageVersion(v model.InterpreterVersion) model.Version {
	return model.MustParseVersion(v.String())
}

// AddPVConstraint implements spec §4.D's add_pv_constraint, resolved per
// DESIGN.md's Open Question 2 decision: process every top module in the
// new candidate map, not just the first. For each module: merge
// similarity; if the module was not previously unknown, intersect its
// selected_pvs and pv_candidates with the new per-package version set (by
// version); if newly introduced, adopt the full block. If parent is
// non-empty, record extra_deps[parent] += {top_module}. Re-select each
// affected module.
func (g *Generator) AddPVConstraint(ctx context.Context, newPV PVCandidates, newSim Similarity, parent model.PackageName) error {
	for m, pkgs := range newPV {
		if g.state.Similarity[m] == nil {
			g.state.Similarity[m] = make(map[model.PackageName]float64)
		}
		for p, score := range newSim[m] {
			g.state.Similarity[m][p] = score
		}

		_, wasUnknown := g.state.UnknownModules[m]
		_, hadModule := g.state.PVCandidates[m]

		if !hadModule || wasUnknown {
			cp := make(map[model.PackageName]model.CandidateVersionList, len(pkgs))
			for p, cvl := range pkgs {
				cvlCopy := append(model.CandidateVersionList(nil), cvl...)
				cvlCopy.Sort()
				cp[p] = cvlCopy
			}
			g.state.PVCandidates[m] = cp
			delete(g.state.UnknownModules, m)
		} else {
			intersectPVByVersion(g.state.PVCandidates[m], pkgs)
			intersectPVByVersion(g.state.SelectedPVs[m], pkgs)
		}

		if used := g.state.UsedPkgs[m]; used == nil {
			g.state.UsedPkgs[m] = make(map[model.PackageName]struct{})
		}
		for p := range pkgs {
			g.state.UsedPkgs[m][p] = struct{}{}
		}

		if parent != "" {
			if g.state.ExtraDeps[parent] == nil {
				g.state.ExtraDeps[parent] = make(map[string]struct{})
			}
			g.state.ExtraDeps[parent][m] = struct{}{}
		}

		delete(g.state.SelectedPVs, m)
		if err := g.selectPVsForModule(ctx, m); err != nil {
			return errors.Wrapf(err, "re-selecting module %s after add_pv_constraint", m)
		}
	}
	return nil
}

// intersectPVByVersion filters existing in place to only those
// CandidateVersion entries whose version appears in the corresponding
// package's entry in update (by version, not by matching degree).
func intersectPVByVersion(existing map[model.PackageName]model.CandidateVersionList, update map[model.PackageName]model.CandidateVersionList) {
	if existing == nil {
		return
	}
	for p, cvl := range existing {
		newVersions, ok := update[p]
		if !ok {
			continue
		}
		allowed := make(map[string]struct{}, len(newVersions))
		for _, cv := range newVersions {
			allowed[cv.Version.String()] = struct{}{}
		}
		var filtered model.CandidateVersionList
		for _, cv := range cvl {
			if _, ok := allowed[cv.Version.String()]; ok {
				filtered = append(filtered, cv)
			}
		}
		existing[p] = filtered
	}
}
