// Package resolver implements Component C, the Transitive Resolver (spec
// §4.C): a round-based backtracking pinner, shaped after golang-dep's CDCL
// constraint solver (solver.go/selection.go/version_queue.go) but working
// over package-version candidates and environment markers instead of Go
// import graphs.
package resolver

import (
	"context"
	"time"

	"github.com/sdboyer/envinfer/internal/kg"
	"github.com/sdboyer/envinfer/internal/model"
	"github.com/sdboyer/envinfer/internal/versionstore"
	golog "github.com/sdboyer/envinfer/log"
)

// defaultMaxRounds is the internal resolve's own round budget (spec §4.C).
// The orchestrator (Component D/E) passes its own, smaller 10,000-round
// budget down through Resolve's maxRounds parameter.
const defaultMaxRounds = 2000000

// defaultTimeout is the public entrypoint's wall-clock cap (spec §4.C).
const defaultTimeout = 300 * time.Second

// Resolver runs the transitive resolution round loop against a
// versionstore.Store (for candidate lookup) and a kg.Graph (for dependency
// edges of a pinned candidate).
type Resolver struct {
	store *versionstore.Store
	graph kg.Graph
	log   *golog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger attaches a trace logger (spec §4.C trace output is optional).
func WithLogger(l *golog.Logger) Option {
	return func(r *Resolver) { r.log = l.With("resolver") }
}

// New constructs a Resolver.
func New(store *versionstore.Store, graph kg.Graph, opts ...Option) *Resolver {
	r := &Resolver{store: store, graph: graph}
	for _, o := range opts {
		o(r)
	}
	return r
}

// resolveRun holds the bookkeeping that accumulates across rounds of a
// single Resolve call: the stack of States (the backtrack stack itself),
// the user-requested order index, the per-name depth cache, and the
// accumulated backtrack causes used both for preference ordering and for
// the final ImpossibleResolution error.
type resolveRun struct {
	r      *Resolver
	interp model.InterpreterVersion

	stack []*model.State

	userRequested   map[model.PackageName]int
	depthCache      map[model.PackageName]float64
	backtrackCauses []model.RequirementInfo
}

// tracef emits a per-round diagnostic line if the run's Resolver was built
// with a logger (spec §4.C's optional trace output); a nil logger makes
// this a no-op rather than requiring every call site to guard it.
func (run *resolveRun) tracef(format string, args ...interface{}) {
	if run.r.log != nil {
		run.r.log.LogTracef(format, args...)
	}
}

// depthFor should always hit the cache: every name with non-empty
// Information was introduced either as a user request (depth recorded at
// init) or as a dependency of an already-pinned, already-depth-recorded
// parent. The fallback only guards against that invariant being violated.
func (run *resolveRun) depthFor(name model.PackageName) float64 {
	if d, ok := run.depthCache[name]; ok {
		return d
	}
	return 1
}

// Resolve runs the round loop to completion, returning the resolved State,
// or an error (spec §7's RequirementsConflicted is never returned --
// it is always caught and converted to a backtrack cause or an
// ImpossibleResolution).
func (r *Resolver) Resolve(ctx context.Context, requirements []model.Requirement, interp model.InterpreterVersion, deadline time.Time, maxRounds int) (*model.State, error) {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	run := &resolveRun{
		r:             r,
		interp:        interp,
		stack:         []*model.State{model.NewRootState()},
		userRequested: make(map[model.PackageName]int),
		depthCache:    make(map[model.PackageName]float64),
	}

	root := run.stack[0]
	for i, req := range requirements {
		if _, ok := run.userRequested[req.Name]; !ok {
			run.userRequested[req.Name] = i
		}
		crit, err := run.addRequirement(ctx, root.Criteria, req.Name, req, nil, deadline)
		if err != nil {
			if rc, ok := err.(*RequirementsConflicted); ok {
				return nil, &ImpossibleResolution{Causes: rc.Criterion.Information}
			}
			return nil, err
		}
		root.Criteria[req.Name] = crit
		if _, ok := run.depthCache[req.Name]; !ok {
			run.depthCache[req.Name] = 1
		}
	}

	for round := 0; round < maxRounds; round++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, &TimeoutError{}
		}
		select {
		case <-ctx.Done():
			return nil, &TimeoutError{}
		default:
		}

		current := run.stack[len(run.stack)-1]
		name, has := run.pickUnsatisfied(current)
		if !has {
			if err := run.verifyConsistent(current); err != nil {
				return nil, err
			}
			run.tracef("round %d: resolution converged, %d package(s) pinned", round, current.Mapping.Len())
			return current, nil
		}

		crit := current.Criteria[name]
		run.tracef("round %d: selecting %s (%d candidate(s))", round, name, len(crit.Candidates))
		pinned := false
		for _, c := range crit.Candidates {
			criteria := cloneCriteriaMap(current.Criteria)
			if err := run.tryPin(ctx, criteria, name, c, deadline); err != nil {
				if rc, ok := err.(*RequirementsConflicted); ok {
					run.tracef("round %d: %s==%s conflicted, trying next candidate", round, name, c.Version)
					run.backtrackCauses = append(run.backtrackCauses, rc.Criterion.Information...)
					continue
				}
				return nil, err
			}

			mapping := current.Mapping.Clone()
			mapping.Insert(c)
			run.stack = append(run.stack, &model.State{
				Mapping:         mapping,
				Criteria:        criteria,
				BacktrackCauses: append([]model.RequirementInfo(nil), run.backtrackCauses...),
			})
			run.tracef("round %d: pinned %s==%s", round, name, c.Version)
			pinned = true
			break
		}

		if pinned {
			continue
		}

		run.tracef("round %d: no candidate satisfied %s, backtracking", round, name)
		newStack, ok := run.backtrack()
		if !ok {
			return nil, &ImpossibleResolution{Causes: run.backtrackCauses}
		}
		run.stack = newStack
	}

	return nil, &TooDeep{MaxRounds: maxRounds}
}

// verifyConsistent checks that every pinned candidate still satisfies its
// own criterion (spec §7's InconsistentCandidate -- a solver bug, not an
// ordinary resolution failure, if this ever trips).
func (run *resolveRun) verifyConsistent(state *model.State) error {
	for _, c := range state.Mapping.Ordered() {
		crit := state.Criteria[c.Name]
		pin := c
		if !crit.IsSatisfying(&pin) {
			return &InconsistentCandidate{Name: c.Name, Candidate: c}
		}
	}
	return nil
}

func cloneCriteriaMap(in map[model.PackageName]model.Criterion) map[model.PackageName]model.Criterion {
	out := make(map[model.PackageName]model.Criterion, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// addRequirement implements spec §4.C's "adding a requirement to criteria".
func (run *resolveRun) addRequirement(ctx context.Context, criteria map[model.PackageName]model.Criterion, id model.PackageName, req model.Requirement, parent *model.Candidate, deadline time.Time) (model.Criterion, error) {
	existing, ok := criteria[id]
	if ok {
		info := append(append([]model.RequirementInfo(nil), existing.Information...), model.RequirementInfo{Requirement: req, Parent: parent})
		candidates := filterByRequirement(existing.Candidates, req)
		crit := model.Criterion{
			Candidates:        candidates,
			Information:       info,
			Incompatibilities: existing.Incompatibilities,
		}
		if len(candidates) == 0 {
			return model.Criterion{}, &RequirementsConflicted{Criterion: crit}
		}
		return crit, nil
	}

	fetched, err := run.r.store.Candidates(ctx, id, run.interp, deadline)
	if err != nil {
		return model.Criterion{}, err
	}
	candidates := filterByRequirement(fetched, req)
	crit := model.Criterion{
		Candidates:  candidates,
		Information: []model.RequirementInfo{{Requirement: req, Parent: parent}},
	}
	if len(candidates) == 0 {
		return model.Criterion{}, &RequirementsConflicted{Criterion: crit}
	}
	return crit, nil
}

func filterByRequirement(in []model.Candidate, req model.Requirement) []model.Candidate {
	out := make([]model.Candidate, 0, len(in))
	for _, c := range in {
		if req.Specifiers.Contains(c.Version) {
			out = append(out, c)
		}
	}
	return out
}

// tryPin attempts to install candidate c for name into criteria, adding
// every dependency edge c declares (spec §4.C step 3). It mutates criteria
// in place and returns the first RequirementsConflicted encountered, or
// any harder error from the knowledge graph.
func (run *resolveRun) tryPin(ctx context.Context, criteria map[model.PackageName]model.Criterion, name model.PackageName, c model.Candidate, deadline time.Time) error {
	edges, err := run.r.graph.DependencyEdges(ctx, c.Name, c.Version)
	if err != nil {
		return err
	}
	run.tracef("tryPin: %s==%s declares %d dependency edge(s)", name, c.Version, len(edges))

	extras := requestedExtras(criteria[name])

	for _, edge := range edges {
		for _, extra := range extras {
			if !edge.Marker.Evaluate(run.interp, extra) {
				continue
			}
			req := model.Requirement{Name: edge.Target, Specifiers: edge.Specifier, Extras: edge.Extras}
			pc := c
			crit, err := run.addRequirement(ctx, criteria, edge.Target, req, &pc, deadline)
			if err != nil {
				return err
			}
			criteria[edge.Target] = crit
			run.recordDepth(name, edge.Target)
		}
	}
	return nil
}

// requestedExtras returns the union of extras requested of crit, or a
// single empty string if none were requested (spec §4.C: "for each e in
// the accumulated request extras, or "" if none").
func requestedExtras(crit model.Criterion) []string {
	seen := map[string]struct{}{}
	for _, info := range crit.Information {
		for e := range info.Requirement.Extras {
			seen[e] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return []string{""}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	return out
}

func (run *resolveRun) recordDepth(parent, child model.PackageName) {
	parentDepth, ok := run.depthCache[parent]
	if !ok {
		parentDepth = 1
	}
	candidate := parentDepth + 1
	if existing, ok := run.depthCache[child]; !ok || candidate < existing {
		run.depthCache[child] = candidate
	}
}

// backtrack implements spec §4.C's stack-walk: repeatedly drop the top two
// frames, mark the most recently pinned candidate (plus any
// already-recorded incompatibilities) as excluded, and retry from the
// frame beneath. It loops internally until a consistent frame is produced
// or the stack runs out.
func (run *resolveRun) backtrack() ([]*model.State, bool) {
	stack := run.stack
	for {
		if len(stack) < 3 {
			return nil, false
		}

		z := stack[len(stack)-1]
		y := stack[len(stack)-2]
		stack = stack[:len(stack)-2]

		lastCandidate, ok := y.Mapping.Last()
		if !ok {
			continue
		}
		lastName := lastCandidate.Name
		run.tracef("backtrack: dropping %s==%s, excluding it from future candidates", lastName, lastCandidate.Version)

		excluded := map[model.PackageName][]model.Candidate{
			lastName: {lastCandidate},
		}
		for n, crit := range z.Criteria {
			excluded[n] = append(excluded[n], crit.Incompatibilities...)
		}

		base := stack[len(stack)-1]
		fresh := base.Clone()

		failed := false
		for n, cands := range excluded {
			crit, ok := fresh.Criteria[n]
			if !ok {
				continue
			}
			crit.Incompatibilities = append(append([]model.Candidate(nil), crit.Incompatibilities...), cands...)
			crit.Candidates = excludeCandidates(crit.Candidates, crit.Incompatibilities)
			fresh.Criteria[n] = crit
			if len(crit.Candidates) == 0 {
				failed = true
			}
		}

		if failed {
			run.tracef("backtrack: exclusion emptied a criterion's candidates, unwinding further")
			continue
		}

		stack = append(stack, fresh)
		return stack, true
	}
}

func excludeCandidates(in []model.Candidate, excluded []model.Candidate) []model.Candidate {
	out := make([]model.Candidate, 0, len(in))
	for _, c := range in {
		skip := false
		for _, e := range excluded {
			if c.Equal(e) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, c)
		}
	}
	return out
}
