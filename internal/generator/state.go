// Package generator implements Component D, the Environment Generator
// (spec §4.D): a stateful façade that holds the candidate state, selects
// an interpreter, drives the Package Optimizer and Transitive Resolver,
// produces a concrete install list, and supports snapshot/restore.
//
// Grounded on golang-dep's rootdata.go (a stateful façade deriving solver
// inputs from normalized root manifest/lock state) and context.go
// (explicit setter methods over process-wide state, the model for
// snapshot/restore by deep copy).
package generator

import "github.com/sdboyer/envinfer/internal/model"

// PVCandidates is {top_module -> {package -> ordered candidate
// versions}}, the per-module-per-package shape spec §3 describes.
type PVCandidates map[string]map[model.PackageName]model.CandidateVersionList

// Similarity is {top_module -> {package -> score}}.
type Similarity map[string]map[model.PackageName]float64

// InterpreterSet is an unordered set of InterpreterVersion, used for the
// per-module "available interpreters" bookkeeping.
type InterpreterSet map[model.InterpreterVersion]struct{}

// ExistingEnv is the caller-supplied existing environment to preserve
// (spec §4.D's existing_env parameter, and spec §6's "Existing environment
// JSON": an array [interpreter_version, {package: version, ...}]).
type ExistingEnv struct {
	Interpreter model.InterpreterVersion
	Packages    map[model.PackageName]model.Version
}

// State is the GeneratorState record of spec §3. The Generator
// exclusively owns every map here; Criterion/Candidate/Requirement
// values it contains are value-like and may be shared freely.
type State struct {
	InterpreterCandidates []model.InterpreterVersion
	PVCandidates          PVCandidates
	Similarity            Similarity
	SelectedPVs           PVCandidates
	AvailableInterpreters map[string]InterpreterSet
	SelectedInterpreters  []model.InterpreterVersion
	InstalledModulePkgs   map[string]map[model.PackageName]struct{}
	ExtraDeps             map[model.PackageName]map[string]struct{}
	UsedPkgs              map[string]map[model.PackageName]struct{}
	UnknownModules        map[string]struct{}
	ExistingInterpreter   model.InterpreterVersion // zero value (IsZero()) means unset
	ExistingPVs           map[model.PackageName]model.Version
}

// newEmptyState returns a State with every map initialized but empty.
func newEmptyState() *State {
	return &State{
		PVCandidates:          make(PVCandidates),
		Similarity:            make(Similarity),
		SelectedPVs:           make(PVCandidates),
		AvailableInterpreters: make(map[string]InterpreterSet),
		InstalledModulePkgs:   make(map[string]map[model.PackageName]struct{}),
		ExtraDeps:             make(map[model.PackageName]map[string]struct{}),
		UsedPkgs:              make(map[string]map[model.PackageName]struct{}),
		UnknownModules:        make(map[string]struct{}),
		ExistingPVs:           make(map[model.PackageName]model.Version),
	}
}

// clone performs the deep copy spec §9 calls for ("backup_state/
// restore_state duplicate the nested maps"). CandidateVersion and
// Candidate are value-like, so copying a []CandidateVersion slice header
// by re-slicing an append is sufficient; every map gets a fresh backing
// store so a mutation after clone never reaches back into the original.
func (s *State) clone() *State {
	out := newEmptyState()

	out.InterpreterCandidates = append([]model.InterpreterVersion(nil), s.InterpreterCandidates...)
	out.SelectedInterpreters = append([]model.InterpreterVersion(nil), s.SelectedInterpreters...)
	out.ExistingInterpreter = s.ExistingInterpreter

	for m, pkgs := range s.PVCandidates {
		cp := make(map[model.PackageName]model.CandidateVersionList, len(pkgs))
		for p, cvl := range pkgs {
			cp[p] = append(model.CandidateVersionList(nil), cvl...)
		}
		out.PVCandidates[m] = cp
	}
	for m, pkgs := range s.SelectedPVs {
		cp := make(map[model.PackageName]model.CandidateVersionList, len(pkgs))
		for p, cvl := range pkgs {
			cp[p] = append(model.CandidateVersionList(nil), cvl...)
		}
		out.SelectedPVs[m] = cp
	}
	for m, scores := range s.Similarity {
		cp := make(map[model.PackageName]float64, len(scores))
		for p, v := range scores {
			cp[p] = v
		}
		out.Similarity[m] = cp
	}
	for m, set := range s.AvailableInterpreters {
		cp := make(InterpreterSet, len(set))
		for v := range set {
			cp[v] = struct{}{}
		}
		out.AvailableInterpreters[m] = cp
	}
	for m, set := range s.InstalledModulePkgs {
		cp := make(map[model.PackageName]struct{}, len(set))
		for p := range set {
			cp[p] = struct{}{}
		}
		out.InstalledModulePkgs[m] = cp
	}
	for parent, mods := range s.ExtraDeps {
		cp := make(map[string]struct{}, len(mods))
		for m := range mods {
			cp[m] = struct{}{}
		}
		out.ExtraDeps[parent] = cp
	}
	for m, set := range s.UsedPkgs {
		cp := make(map[model.PackageName]struct{}, len(set))
		for p := range set {
			cp[p] = struct{}{}
		}
		out.UsedPkgs[m] = cp
	}
	for m := range s.UnknownModules {
		out.UnknownModules[m] = struct{}{}
	}
	for p, v := range s.ExistingPVs {
		out.ExistingPVs[p] = v
	}

	return out
}
