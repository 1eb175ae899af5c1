package resolver

import (
	"math"

	"github.com/sdboyer/envinfer/internal/model"
)

// preferenceTuple is the resolver's argmin key for picking which
// unsatisfied name to try pinning next (spec §4.C): lexicographically
// smaller sorts first, and every field must be computed identically by any
// conforming implementation so that two resolvers facing the same state
// pick the same name.
type preferenceTuple struct {
	delaySetuptools   bool
	notPinned         bool
	notBacktrackCause bool
	inferredDepth     float64
	requestedOrder    float64
	notUnfree         bool
	canonicalName     model.PackageName
}

func (a preferenceTuple) less(b preferenceTuple) bool {
	if a.delaySetuptools != b.delaySetuptools {
		return !a.delaySetuptools
	}
	if a.notPinned != b.notPinned {
		return !a.notPinned
	}
	if a.notBacktrackCause != b.notBacktrackCause {
		return !a.notBacktrackCause
	}
	if a.inferredDepth != b.inferredDepth {
		return a.inferredDepth < b.inferredDepth
	}
	if a.requestedOrder != b.requestedOrder {
		return a.requestedOrder < b.requestedOrder
	}
	if a.notUnfree != b.notUnfree {
		return !a.notUnfree
	}
	return a.canonicalName < b.canonicalName
}

// preferenceFor computes the tuple for name given the current round's
// state and the run's accumulated bookkeeping.
func (run *resolveRun) preferenceFor(name model.PackageName, crit model.Criterion) preferenceTuple {
	var pinned, unfree bool
	for _, info := range crit.Information {
		if info.Requirement.Specifiers.IsExact() {
			pinned = true
		}
		if info.Requirement.Specifiers.HasOperator() {
			unfree = true
		}
	}

	isBacktrackCause := false
	for _, cause := range run.backtrackCauses {
		if cause.Requirement.Name == name || cause.ParentName() == name {
			isBacktrackCause = true
			break
		}
	}

	order, ok := run.userRequested[name]
	requestedOrder := math.Inf(1)
	if ok {
		requestedOrder = float64(order)
	}

	return preferenceTuple{
		delaySetuptools:   name == "setuptools",
		notPinned:         !pinned,
		notBacktrackCause: !isBacktrackCause,
		inferredDepth:     run.depthFor(name),
		requestedOrder:    requestedOrder,
		notUnfree:         !unfree,
		canonicalName:     name,
	}
}

// pickUnsatisfied returns the most-preferred unsatisfied name in state, or
// ok=false if every criterion is satisfying.
func (run *resolveRun) pickUnsatisfied(state *model.State) (model.PackageName, bool) {
	var (
		best      model.PackageName
		bestTuple preferenceTuple
		found     bool
	)
	for name, crit := range state.Criteria {
		var pin *model.Candidate
		if p, ok := state.Mapping.Get(name); ok {
			pin = &p
		}
		if crit.IsSatisfying(pin) {
			continue
		}
		t := run.preferenceFor(name, crit)
		if !found || t.less(bestTuple) {
			best, bestTuple, found = name, t, true
		}
	}
	return best, found
}
