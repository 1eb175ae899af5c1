// Package optimizer implements Component B, the Package Optimizer (spec
// §4.B): given, for each imported top module, a set of candidate packages
// with a similarity score, choose the smallest-weighted set of packages
// that covers every module.
//
// The objective is a weighted set-cover variant:
//
//	minimize 2*|S| - sum(similarity[m][p] for m, p in S if p in pkg_dict[m])
//
// grounded on golang-dep's constraint solver (solver.go), which walks
// variables in most-constrained-first order and backtracks on conflict;
// here the "variables" are top modules and the "domain" is each module's
// candidate packages, ordered by descending similarity so the most
// promising assignment is tried first.
package optimizer

import (
	"sort"

	radix "github.com/armon/go-radix"

	"github.com/sdboyer/envinfer/internal/model"
)

// MaxCandidatesPerModule is the hard cap on how many candidates a single
// module may offer the optimizer (spec §4.B edge case: "If a module has
// >= 20 candidates, only its single highest-similarity candidate is
// offered to the optimizer").
const MaxCandidatesPerModule = 20

// searchNodeBudget bounds the backtracking search so a pathological
// instance stops rather than hangs: the best cover found so far is kept,
// and only a search that found no complete cover before the budget ran
// out reports solver failure (triggering the argmax fallback).
const searchNodeBudget = 250000

// Candidate is one package offered as a cover for a top module, with its
// similarity score in [0,1].
type Candidate struct {
	Package    model.PackageName
	Similarity float64
}

// ModuleCandidates maps each top module to its candidate packages.
type ModuleCandidates map[string][]Candidate

// Selection is the optimizer's result: the chosen package set, and, for
// each module, which member of S was used to satisfy its coverage
// requirement (the first candidate, in descending-similarity order, that
// ended up in S).
type Selection struct {
	Packages  map[model.PackageName]struct{}
	ChosenFor map[string]model.PackageName
}

// Select runs the backtracking search for the minimum-weight covering set.
// ok is false when the instance is infeasible (a module has no candidates
// after truncation) or when the search exceeds its node budget before
// finding any complete cover; if the budget runs out after a cover was
// found, the best one so far is returned with ok true. Callers should
// fall back to Fallback when ok is false (spec §4.B: "On solver
// failure: same fallback -- pick argmax_p similarity[m][p] for each
// module").
func Select(pkgDict ModuleCandidates) (Selection, bool) {
	modules := truncate(pkgDict)

	order := make([]string, 0, len(modules))
	for m := range modules {
		order = append(order, m)
	}
	// Most-constrained-module-first: fewest candidates branch least, so
	// failure (or a tight bound) surfaces earliest.
	sort.Slice(order, func(i, j int) bool {
		li, lj := len(modules[order[i]]), len(modules[order[j]])
		if li != lj {
			return li < lj
		}
		return order[i] < order[j]
	})

	for _, m := range order {
		if len(modules[m]) == 0 {
			return Selection{}, false
		}
	}

	s := &searcher{
		modules: modules,
		order:   order,
		best:    nil,
		bestCost: 0,
		haveBest: false,
		budget:  searchNodeBudget,
	}
	s.search(0, map[model.PackageName]struct{}{}, 0)

	if !s.haveBest {
		return Selection{}, false
	}

	chosenFor := make(map[string]model.PackageName, len(order))
	for _, m := range order {
		for _, c := range modules[m] {
			if _, ok := s.best[c.Package]; ok {
				chosenFor[m] = c.Package
				break
			}
		}
	}
	return Selection{Packages: s.best, ChosenFor: chosenFor}, true
}

// Fallback selects, per module, the single highest-similarity candidate,
// independent of any sharing across modules. Ties break on ascending
// canonical package name for determinism.
func Fallback(pkgDict ModuleCandidates) map[string]model.PackageName {
	out := make(map[string]model.PackageName, len(pkgDict))
	for m, cands := range pkgDict {
		if len(cands) == 0 {
			continue
		}
		best := cands[0]
		for _, c := range cands[1:] {
			if c.Similarity > best.Similarity ||
				(c.Similarity == best.Similarity && c.Package < best.Package) {
				best = c
			}
		}
		out[m] = best.Package
	}
	return out
}

// truncate applies MaxCandidatesPerModule, keeping only the highest
// similarity candidate when a module exceeds the cap, and sorts each
// module's remaining candidates by descending similarity (then ascending
// name) so the search tries the most promising assignment first.
func truncate(pkgDict ModuleCandidates) ModuleCandidates {
	out := make(ModuleCandidates, len(pkgDict))
	for m, cands := range pkgDict {
		cs := append([]Candidate(nil), cands...)
		sort.Slice(cs, func(i, j int) bool {
			if cs[i].Similarity != cs[j].Similarity {
				return cs[i].Similarity > cs[j].Similarity
			}
			return cs[i].Package < cs[j].Package
		})
		if len(cs) >= MaxCandidatesPerModule {
			cs = cs[:1]
		}
		out[m] = cs
	}
	return out
}

type searcher struct {
	modules  ModuleCandidates
	order    []string
	best     map[model.PackageName]struct{}
	bestCost float64
	haveBest bool
	budget   int
}

// search explores assignments module-by-module. cur is the package set
// chosen so far; curSize*2 minus the accumulated similarity bonus is
// tracked incrementally as cost.
func (s *searcher) search(idx int, cur map[model.PackageName]struct{}, cost float64) {
	if s.budget <= 0 {
		return
	}
	s.budget--

	if idx == len(s.order) {
		if !s.haveBest || cost < s.bestCost {
			s.haveBest = true
			s.bestCost = cost
			s.best = cloneSet(cur)
		}
		return
	}

	// A partial solution can never cost more than it already does once
	// every remaining module reuses an already-chosen package (bonus only
	// goes up from here); if we're already worse than the best complete
	// solution found, prune.
	if s.haveBest && cost >= s.bestCost {
		return
	}

	m := s.order[idx]
	for _, c := range s.modules[m] {
		_, already := cur[c.Package]
		delta := s.bonusDelta(c.Package, cur)
		added := 0.0
		if !already {
			added = 2
			cur[c.Package] = struct{}{}
		}
		s.search(idx+1, cur, cost+added-delta)
		if !already {
			delete(cur, c.Package)
		}
	}
}

// bonusDelta returns the total similarity bonus gained across all modules
// by adding pkg to cur, for modules where pkg is a candidate and pkg was
// not already selected (the bonus from an already-selected package was
// already folded into cost when it was first added).
func (s *searcher) bonusDelta(pkg model.PackageName, cur map[model.PackageName]struct{}) float64 {
	if _, already := cur[pkg]; already {
		return 0
	}
	var total float64
	for _, cands := range s.modules {
		for _, c := range cands {
			if c.Package == pkg {
				total += c.Similarity
			}
		}
	}
	return total
}

func cloneSet(s map[model.PackageName]struct{}) map[model.PackageName]struct{} {
	out := make(map[model.PackageName]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// TopModuleIndex resolves a dotted module or attribute path (e.g.
// "numpy.linalg.info", observed from a synthetic third-party-discovery
// snippet per spec §4.D) back to the top module that declared it,
// by longest-prefix match. Grounded on golang-dep's rootdata.go, which
// builds a radix.Tree over import paths and uses LongestPrefix to find
// the applicable project root for a deeply nested import.
type TopModuleIndex struct {
	tree *radix.Tree
}

// NewTopModuleIndex builds an index over the given top modules.
func NewTopModuleIndex(topModules []string) *TopModuleIndex {
	t := radix.New()
	for _, m := range topModules {
		t.Insert(m, m)
	}
	return &TopModuleIndex{tree: t}
}

// Resolve returns the top module that is a prefix of path, if any.
func (idx *TopModuleIndex) Resolve(path string) (string, bool) {
	prefix, v, ok := idx.tree.LongestPrefix(path)
	if !ok {
		return "", false
	}
	if !isDottedPrefixOrEqual(prefix, path) {
		return "", false
	}
	return v.(string), true
}

// isDottedPrefixOrEqual reports whether prefix is path itself, or a
// proper ancestor of path in dotted-module terms (i.e. the next rune
// after the shared prefix is a '.'), so that "numpy" matches
// "numpy.linalg" but not "numpyx".
func isDottedPrefixOrEqual(prefix, path string) bool {
	if prefix == path {
		return true
	}
	if len(path) <= len(prefix) {
		return false
	}
	return path[len(prefix)] == '.'
}
