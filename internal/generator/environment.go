package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sdboyer/envinfer/internal/model"
	"github.com/sdboyer/envinfer/internal/optimizer"
	"github.com/sdboyer/envinfer/internal/resolver"
)

// defaultResolveMaxRounds is the round budget passed down to the
// Transitive Resolver from generate_candidate_environment (spec §4.C's
// orchestrator-facing default).
const defaultResolveMaxRounds = 10000

// CandidateEnvironment is the concrete output of
// generate_candidate_environment: a chosen interpreter and a
// topologically ordered install list. ResolverUsed is false when the
// Transitive Resolver returned no result and the environment is a
// best-effort pin of each package at its highest-degree, highest-version
// candidate (spec §4.D's final fallback).
type CandidateEnvironment struct {
	Interpreter  model.InterpreterVersion
	InstallPairs []resolver.InstallPair
	ResolverUsed bool

	// InputsDigest is resolver.HashInputs over the requirement set and
	// interpreter this environment was generated from. A caller driving
	// repeated generate/validate rounds (the Adjustment Controller) can
	// compare successive digests to detect that narrowing produced no
	// effective change before paying for another sandbox validation.
	InputsDigest string
}

// GenerateCandidateEnvironment implements spec §4.D's
// generate_candidate_environment. ok is false when no interpreter
// candidate remains, or when the Package Optimizer reports a module with
// no candidates at all (an unsatisfiable instance, distinct from ordinary
// optimizer-search failure, which falls back to per-module argmax per
// spec §4.B).
func (g *Generator) GenerateCandidateEnvironment(ctx context.Context, allowOldMajor bool) (*CandidateEnvironment, bool) {
	g.calSelectedInterpreters(allowOldMajor)
	if len(g.state.SelectedInterpreters) == 0 {
		return nil, false
	}
	interp := g.state.SelectedInterpreters[0]

	pkgDict := make(optimizer.ModuleCandidates, len(g.state.SelectedPVs))
	for m, pkgs := range g.state.SelectedPVs {
		var cands []optimizer.Candidate
		for p := range pkgs {
			cands = append(cands, optimizer.Candidate{Package: p, Similarity: g.state.Similarity[m][p]})
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].Package < cands[j].Package })
		pkgDict[m] = cands
	}

	chosen, ok := resolveSelection(pkgDict)
	if !ok {
		return nil, false
	}

	g.state.InstalledModulePkgs = make(map[string]map[model.PackageName]struct{}, len(chosen.ChosenFor))
	for m, pkgs := range g.state.SelectedPVs {
		installed := make(map[model.PackageName]struct{})
		for p := range pkgs {
			if _, ok := chosen.Packages[p]; ok {
				installed[p] = struct{}{}
			}
		}
		if len(installed) > 0 {
			g.state.InstalledModulePkgs[m] = installed
		}
	}

	union := unionCandidateVersionsByPackage(g.state.SelectedPVs, chosen.Packages)

	var requirements []model.Requirement
	for p, v := range g.state.ExistingPVs {
		if _, installed := chosen.Packages[p]; !installed {
			continue
		}
		spec, err := model.ParseVersionSpecifierSet("==" + v.String())
		if err != nil {
			continue
		}
		requirements = append(requirements, model.Requirement{Name: p, Specifiers: spec})
	}
	for p := range chosen.Packages {
		if _, pinned := g.state.ExistingPVs[p]; pinned {
			continue
		}
		full, _ := g.store.Versions(ctx, p)
		spec := g.requirementSpecifier(p, union[p], full)
		requirements = append(requirements, model.Requirement{Name: p, Specifiers: spec})
	}
	sort.Slice(requirements, func(i, j int) bool { return requirements[i].Name < requirements[j].Name })

	extraDeps := make(map[model.PackageName][]string)
	for parent, mods := range g.state.ExtraDeps {
		if _, installed := chosen.Packages[parent]; !installed {
			continue
		}
		for m := range mods {
			extraDeps[parent] = append(extraDeps[parent], m)
		}
	}

	digest := resolver.HashInputs(requirements, interp)
	if g.log != nil {
		g.log.LogTracef("generated requirement set digest %s for %d requirement(s)", digest, len(requirements))
	}

	deadline := time.Now().Add(300 * time.Second)
	if pairs, ok := g.resolve.Main(ctx, requirements, interp, extraDeps, deadline, defaultResolveMaxRounds); ok {
		return &CandidateEnvironment{Interpreter: interp, InstallPairs: pairs, ResolverUsed: true, InputsDigest: digest}, true
	}

	return &CandidateEnvironment{Interpreter: interp, InstallPairs: bestEffortPairs(chosen.Packages, union), ResolverUsed: false, InputsDigest: digest}, true
}

// resolveSelection calls the Package Optimizer and applies its §4.B
// fallback contract: a module reduced to zero candidates (even after the
// 20-candidate truncation) is a hard infeasibility (ok=false, no
// fallback); any other solver failure degrades to per-module argmax.
func resolveSelection(pkgDict optimizer.ModuleCandidates) (optimizer.Selection, bool) {
	sel, ok := optimizer.Select(pkgDict)
	if ok {
		return sel, true
	}
	for _, cands := range pkgDict {
		if len(cands) == 0 {
			return optimizer.Selection{}, false
		}
	}
	chosenFor := optimizer.Fallback(pkgDict)
	packages := make(map[model.PackageName]struct{}, len(chosenFor))
	for _, p := range chosenFor {
		packages[p] = struct{}{}
	}
	return optimizer.Selection{Packages: packages, ChosenFor: chosenFor}, true
}

// unionCandidateVersionsByPackage computes, for every installed package,
// the candidate-version list to union across every top module that
// includes it (spec §4.D: "prefer intersection of version sets when
// non-empty, otherwise union").
func unionCandidateVersionsByPackage(selected PVCandidates, installed map[model.PackageName]struct{}) map[model.PackageName]model.CandidateVersionList {
	perPackage := make(map[model.PackageName][]model.CandidateVersionList)
	for _, pkgs := range selected {
		for p, cvl := range pkgs {
			if _, ok := installed[p]; !ok {
				continue
			}
			perPackage[p] = append(perPackage[p], cvl)
		}
	}

	out := make(map[model.PackageName]model.CandidateVersionList, len(perPackage))
	for p, lists := range perPackage {
		if len(lists) == 1 {
			out[p] = lists[0]
			continue
		}
		inter := intersectCandidateLists(lists)
		if len(inter) > 0 {
			out[p] = inter
		} else {
			out[p] = unionCandidateLists(lists)
		}
	}
	return out
}

func intersectCandidateLists(lists []model.CandidateVersionList) model.CandidateVersionList {
	counts := make(map[string]int)
	byVersion := make(map[string]model.CandidateVersion)
	for _, l := range lists {
		seen := make(map[string]bool)
		for _, cv := range l {
			key := cv.Version.String()
			if !seen[key] {
				counts[key]++
				seen[key] = true
				byVersion[key] = cv
			}
		}
	}
	var out model.CandidateVersionList
	for key, n := range counts {
		if n == len(lists) {
			out = append(out, byVersion[key])
		}
	}
	out.Sort()
	return out
}

func unionCandidateLists(lists []model.CandidateVersionList) model.CandidateVersionList {
	byVersion := make(map[string]model.CandidateVersion)
	for _, l := range lists {
		for _, cv := range l {
			key := cv.Version.String()
			if existing, ok := byVersion[key]; !ok || cv.MatchingDegree > existing.MatchingDegree {
				byVersion[key] = cv
			}
		}
	}
	var out model.CandidateVersionList
	for _, cv := range byVersion {
		out = append(out, cv)
	}
	out.Sort()
	return out
}

// requirementSpecifier implements the §4.D/§6 "version range" requirement
// grammar: empty batch -> bare name (AnySpecifierSet); singleton -> ==v;
// otherwise ">=min,<=max" plus "!=x" for every version in [min,max] (per
// full) that is not in the batch.
func (g *Generator) requirementSpecifier(pkg model.PackageName, batch model.CandidateVersionList, full []model.Version) model.VersionSpecifierSet {
	if len(batch) == 0 {
		return model.AnySpecifierSet()
	}
	if len(batch) == 1 {
		spec, err := model.ParseVersionSpecifierSet("==" + batch[0].Version.String())
		if err != nil {
			return model.AnySpecifierSet()
		}
		return spec
	}

	versions := make([]model.Version, len(batch))
	for i, cv := range batch {
		versions[i] = cv.Version
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })
	min, max := versions[0], versions[len(versions)-1]

	inBatch := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		inBatch[v.String()] = struct{}{}
	}

	var parts []string
	parts = append(parts, ">="+min.String(), "<="+max.String())
	for _, v := range full {
		if v.Less(min) || max.Less(v) {
			continue
		}
		if _, ok := inBatch[v.String()]; ok {
			continue
		}
		parts = append(parts, "!="+v.String())
	}

	spec, err := model.ParseVersionSpecifierSet(strings.Join(parts, ","))
	if err != nil {
		return model.AnySpecifierSet()
	}
	return spec
}

// bestEffortPairs builds a non-resolved install list when the Transitive
// Resolver returned no result (spec §4.D's final fallback): each package
// at its highest-degree, highest-version candidate, in ascending name
// order for determinism (spec §5's bit-identical-output contract applies
// to this path too, since it never touches the resolver's own ordering).
func bestEffortPairs(installed map[model.PackageName]struct{}, union map[model.PackageName]model.CandidateVersionList) []resolver.InstallPair {
	names := make([]model.PackageName, 0, len(installed))
	for p := range installed {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	pairs := make([]resolver.InstallPair, 0, len(names))
	for _, p := range names {
		cvl := union[p]
		if len(cvl) == 0 {
			continue
		}
		pairs = append(pairs, resolver.InstallPair{Name: p, Version: cvl[0].Version.String()})
	}
	return pairs
}

// RequirementString renders a requirement per the §6 grammar: name |
// name==V | name>=Vmin,<=Vmax(,!=Vi)*.
func RequirementString(name model.PackageName, spec model.VersionSpecifierSet) string {
	if spec.IsAny() {
		return string(name)
	}
	return fmt.Sprintf("%s%s", name, spec.String())
}
