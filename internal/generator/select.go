package generator

import (
	"context"
	"sort"

	"github.com/sdboyer/envinfer/internal/model"
)

// selectPVsForModule implements spec §4.D's select_pvs_for_module: pick
// the highest-matching-degree batch from pv_candidates[topModule] that
// admits at least one interpreter.
func (g *Generator) selectPVsForModule(ctx context.Context, topModule string) error {
	delete(g.state.AvailableInterpreters, topModule)

	if existing := g.state.SelectedPVs[topModule]; len(existing) > 0 {
		avail := admissibleInterpreters(existing, g.state.InterpreterCandidates)
		if len(avail) > 0 {
			g.state.AvailableInterpreters[topModule] = avail
			return nil
		}
	}

	for {
		batch, ok := g.nextTier(topModule)
		if ok {
			avail := admissibleInterpreters(batch, g.state.InterpreterCandidates)
			if len(avail) > 0 {
				mergeBatch(g.state.SelectedPVs, topModule, batch)
				g.state.AvailableInterpreters[topModule] = avail
				return nil
			}
			// This tier admits no candidate interpreter at all; merge it
			// into the module's selection anyway (so later tiers can
			// still combine with it) and keep looking for a tier that
			// does admit one.
			mergeBatch(g.state.SelectedPVs, topModule, batch)
			continue
		}

		// pv_candidates[topModule] is now exhausted. If the module has
		// never been tried via similarity, fall back to it once (spec
		// §4.D step 4 / §8 invariant 9: "exactly once").
		if _, tried := g.state.UnknownModules[topModule]; tried {
			return nil
		}
		if g.discovery == nil {
			g.state.UnknownModules[topModule] = struct{}{}
			return nil
		}

		g.state.UnknownModules[topModule] = struct{}{}
		if g.log != nil {
			g.log.LogTracef("module %s has no direct candidates, querying similar packages", topModule)
		}
		candidates, err := g.discovery.SimilarPackages(ctx, topModule)
		if err != nil {
			return err
		}

		used := g.state.UsedPkgs[topModule]
		if used == nil {
			used = make(map[model.PackageName]struct{})
			g.state.UsedPkgs[topModule] = used
		}

		fresh := make(map[model.PackageName]model.CandidateVersionList)
		freshSim := make(map[model.PackageName]float64)
		for _, c := range candidates {
			if _, already := used[c.Package]; already {
				continue
			}
			used[c.Package] = struct{}{}
			cvl := append(model.CandidateVersionList(nil), c.Versions...)
			cvl.Sort()
			fresh[c.Package] = cvl
			freshSim[c.Package] = c.Similarity
		}
		if len(fresh) == 0 {
			// Nothing new came back from the similarity query; the
			// module truly has no candidates.
			return nil
		}

		if g.state.PVCandidates[topModule] == nil {
			g.state.PVCandidates[topModule] = make(map[model.PackageName]model.CandidateVersionList)
		}
		for p, cvl := range fresh {
			g.state.PVCandidates[topModule][p] = cvl
		}
		if g.state.Similarity[topModule] == nil {
			g.state.Similarity[topModule] = make(map[model.PackageName]float64)
		}
		for p, s := range freshSim {
			g.state.Similarity[topModule][p] = s
		}
		// Loop back around to try tiers again now that fresh candidates
		// exist.
	}
}

// nextTier implements step 3 of select_pvs_for_module: find the maximum
// matching degree across the first element of every per-package version
// list for topModule, slice off the prefix of versions at that degree
// from each package (removing them from pv_candidates so they are never
// offered again), and return the accumulated batch. ok is false once
// pv_candidates[topModule] has no packages with any versions left.
func (g *Generator) nextTier(topModule string) (map[model.PackageName]model.CandidateVersionList, bool) {
	pkgs := g.state.PVCandidates[topModule]
	if len(pkgs) == 0 {
		return nil, false
	}

	maxScore := -1.0
	anyLeft := false
	for _, cvl := range pkgs {
		if len(cvl) == 0 {
			continue
		}
		anyLeft = true
		if s := cvl.TopScore(); s > maxScore {
			maxScore = s
		}
	}
	if !anyLeft {
		return nil, false
	}

	batch := make(map[model.PackageName]model.CandidateVersionList)
	names := sortedPackageNames(pkgs)
	for _, p := range names {
		cvl := pkgs[p]
		if len(cvl) == 0 || cvl.TopScore() != maxScore {
			continue
		}
		prefix := cvl.SplitPrefix(maxScore)
		pkgs[p] = cvl
		if len(prefix) > 0 {
			batch[p] = prefix
		}
	}
	return batch, true
}

func sortedPackageNames(m map[model.PackageName]model.CandidateVersionList) []model.PackageName {
	out := make([]model.PackageName, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// mergeBatch adds batch's packages into selectedPVs[module], appending to
// any existing per-package candidate list.
func mergeBatch(selected PVCandidates, module string, batch map[model.PackageName]model.CandidateVersionList) {
	if selected[module] == nil {
		selected[module] = make(map[model.PackageName]model.CandidateVersionList)
	}
	for p, cvl := range batch {
		selected[module][p] = append(selected[module][p], cvl...)
	}
}

// admissibleInterpreters returns the interpreters (drawn from candidates)
// that at least one CandidateVersion across any package in batch admits:
// a module is satisfied by any one of its candidate packages, so
// admissibility is a union across packages (any one may end up chosen by
// the optimizer), while spec §4.D's selected_interpreters computation
// intersects this set across modules (every module must be simultaneously
// satisfiable by one interpreter).
func admissibleInterpreters(batch map[model.PackageName]model.CandidateVersionList, candidates []model.InterpreterVersion) InterpreterSet {
	out := make(InterpreterSet)
	for _, cvl := range batch {
		for _, cv := range cvl {
			for _, interp := range candidates {
				if cv.InterpreterConstraint.Satisfies(interp) {
					out[interp] = struct{}{}
				}
			}
		}
	}
	return out
}

// calSelectedInterpreters implements spec §4.D's
// _cal_selected_interpreters: selected = interpreter_candidates ∩
// (intersection over modules of available_interpreters[m]). When
// allowOldMajor is true, the result is additionally restricted to the
// oldest major-version family present in interpreter_candidates (the
// Adjustment Controller's "probe the older family" narrowing, spec §4.E).
// If the intersection is empty, degrades to the first interpreter
// candidate so the pipeline can still produce an artifact. The result is
// sorted in interpreter_candidates order.
func (g *Generator) calSelectedInterpreters(allowOldMajor bool) {
	candidates := g.state.InterpreterCandidates
	if len(candidates) == 0 {
		g.state.SelectedInterpreters = nil
		return
	}

	allowed := make(map[model.InterpreterVersion]struct{}, len(candidates))
	for _, v := range candidates {
		allowed[v] = struct{}{}
	}
	for _, avail := range g.state.AvailableInterpreters {
		for v := range allowed {
			if _, ok := avail[v]; !ok {
				delete(allowed, v)
			}
		}
	}

	if allowOldMajor {
		oldest := candidates[0].Major()
		for _, v := range candidates {
			if v.Major() < oldest {
				oldest = v.Major()
			}
		}
		for v := range allowed {
			if v.Major() != oldest {
				delete(allowed, v)
			}
		}
	}

	var selected []model.InterpreterVersion
	for _, v := range candidates {
		if _, ok := allowed[v]; ok {
			selected = append(selected, v)
		}
	}

	if len(selected) == 0 {
		selected = []model.InterpreterVersion{candidates[0]}
	}

	g.state.SelectedInterpreters = selected
}
