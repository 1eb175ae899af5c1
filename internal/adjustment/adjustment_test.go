package adjustment

import (
	"context"
	"testing"

	"github.com/sdboyer/envinfer/internal/errmatch"
	"github.com/sdboyer/envinfer/internal/generator"
	"github.com/sdboyer/envinfer/internal/kg"
	"github.com/sdboyer/envinfer/internal/model"
	"github.com/sdboyer/envinfer/internal/parsecontract"
	"github.com/sdboyer/envinfer/internal/resolver"
	"github.com/sdboyer/envinfer/internal/sandbox"
	"github.com/sdboyer/envinfer/internal/versionstore"
)

// fakeGraph mirrors the generator and resolver packages' test doubles.
type fakeGraph struct {
	versions map[model.PackageName][]model.Version
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{versions: map[model.PackageName][]model.Version{}}
}

func (g *fakeGraph) addVersion(pkg model.PackageName, v string) {
	g.versions[pkg] = append(g.versions[pkg], model.MustParseVersion(v))
}

func (g *fakeGraph) AllPackages(context.Context) ([]model.PackageName, error) { return nil, nil }
func (g *fakeGraph) AllInterpreterReleases(context.Context) ([]model.InterpreterVersion, error) {
	return nil, nil
}
func (g *fakeGraph) ModuleAttributes(context.Context, model.InterpreterVersion) ([]kg.ModuleAttribute, error) {
	return nil, nil
}
func (g *fakeGraph) PackagesForModule(context.Context, string) ([]kg.PackageVersionRef, error) {
	return nil, nil
}
func (g *fakeGraph) VersionsWithConstraints(ctx context.Context, pkg model.PackageName) ([]kg.VersionConstraintPair, error) {
	vs := g.versions[pkg]
	out := make([]kg.VersionConstraintPair, len(vs))
	for i, v := range vs {
		out[i] = kg.VersionConstraintPair{Version: v, Constraint: model.AnyInterpreterConstraint()}
	}
	return out, nil
}
func (g *fakeGraph) Versions(ctx context.Context, pkg model.PackageName) ([]model.Version, error) {
	return g.versions[pkg], nil
}
func (g *fakeGraph) DependencyEdges(ctx context.Context, pkg model.PackageName, v model.Version) ([]kg.DependencyEdge, error) {
	return nil, nil
}

func candVersion(v string, degree float64) model.CandidateVersion {
	return model.CandidateVersion{Version: model.MustParseVersion(v), MatchingDegree: degree}
}

// fakeValidator returns a scripted sequence of results, one per call.
type fakeValidator struct {
	results []sandbox.Result
	calls   int
}

func (v *fakeValidator) Validate(ctx context.Context, descriptor string, settings sandbox.Settings) (sandbox.Result, error) {
	if v.calls >= len(v.results) {
		return v.results[len(v.results)-1], nil
	}
	r := v.results[v.calls]
	v.calls++
	return r, nil
}

// fakeMatcher returns a scripted sequence of classifications, one per call.
type fakeMatcher struct {
	classifications []errmatch.Classification
	calls           int
}

func (m *fakeMatcher) Classify(ctx context.Context, log string) (errmatch.Classification, error) {
	if len(m.classifications) == 0 {
		return errmatch.Classification{Kind: errmatch.KindUnrelated}, nil
	}
	idx := m.calls
	if idx >= len(m.classifications) {
		idx = len(m.classifications) - 1
	}
	m.calls++
	return m.classifications[idx], nil
}

// noopDiscovery implements parsecontract.Discovery with no candidates.
type noopDiscovery struct{}

func (noopDiscovery) CandidatesForModule(ctx context.Context, topModule string, observed []string) ([]parsecontract.ModuleCandidate, error) {
	return nil, nil
}
func (noopDiscovery) SimilarPackages(ctx context.Context, topModule string) ([]parsecontract.ModuleCandidate, error) {
	return nil, nil
}

func newTestGenerator(g *fakeGraph) *generator.Generator {
	store := versionstore.New(g)
	r := resolver.New(store, g)
	return generator.New(store, r, noopDiscovery{})
}

// TestRunSuccessOnFirstValidation covers the zero-exit-status success path.
func TestRunSuccessOnFirstValidation(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")
	gen := newTestGenerator(g)
	gen.SetCandidates(
		[]model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")},
		generator.PVCandidates{"a": {"a": {candVersion("1.0", 1.0)}}},
		generator.Similarity{"a": {"a": 1.0}},
		nil,
	)
	if err := callSelect(gen, "a"); err != nil {
		t.Fatal(err)
	}

	validator := &fakeValidator{results: []sandbox.Result{{ExitCode: 0}}}
	matcher := &fakeMatcher{}
	c := New(gen, validator, matcher, noopDiscovery{}, nil)

	out, err := c.Run(context.Background(), sandbox.Settings{DockerfileDir: "/tmp", SourceName: "app.py", Cmd: []string{"python", "app.py"}})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Iterations != 1 {
		t.Errorf("expected 1 iteration, got %d", out.Iterations)
	}
}

// TestRunSuccessOnUnrelatedFailure covers spec §4.E's "absence of related
// exception classes is treated as success" branch.
func TestRunSuccessOnUnrelatedFailure(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")
	gen := newTestGenerator(g)
	gen.SetCandidates(
		[]model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")},
		generator.PVCandidates{"a": {"a": {candVersion("1.0", 1.0)}}},
		generator.Similarity{"a": {"a": 1.0}},
		nil,
	)
	if err := callSelect(gen, "a"); err != nil {
		t.Fatal(err)
	}

	validator := &fakeValidator{results: []sandbox.Result{{ExitCode: 1, Log: "KeyError: 'x'"}}}
	matcher := &fakeMatcher{classifications: []errmatch.Classification{{Kind: errmatch.KindUnrelated}}}
	c := New(gen, validator, matcher, noopDiscovery{}, nil)

	out, err := c.Run(context.Background(), sandbox.Settings{DockerfileDir: "/tmp", SourceName: "app.py", Cmd: []string{"python", "app.py"}})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("expected success on unrelated failure, got %+v", out)
	}
}

// TestRunNoProgressReportsFailure covers the "no mutation applies" exit.
func TestRunNoProgressReportsFailure(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")
	gen := newTestGenerator(g)
	gen.SetCandidates(
		[]model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")},
		generator.PVCandidates{"a": {"a": {candVersion("1.0", 1.0)}}},
		generator.Similarity{"a": {"a": 1.0}},
		nil,
	)
	if err := callSelect(gen, "a"); err != nil {
		t.Fatal(err)
	}

	validator := &fakeValidator{results: []sandbox.Result{{ExitCode: 1, Log: "ImportError: No module named foo"}}}
	matcher := &fakeMatcher{classifications: []errmatch.Classification{{Kind: errmatch.KindMissingPackage, Snippet: "foo"}}}
	c := New(gen, validator, matcher, noopDiscovery{}, nil, WithMaxIterations(3))

	out, err := c.Run(context.Background(), sandbox.Settings{DockerfileDir: "/tmp", SourceName: "app.py", Cmd: []string{"python", "app.py"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatalf("expected failure once no narrowing applies, got %+v", out)
	}
}

// TestRunDisabledSettingsSkipsValidation covers spec §6's "missing a
// required key disables validation" contract.
func TestRunDisabledSettingsSkipsValidation(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")
	gen := newTestGenerator(g)
	gen.SetCandidates(
		[]model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")},
		generator.PVCandidates{"a": {"a": {candVersion("1.0", 1.0)}}},
		generator.Similarity{"a": {"a": 1.0}},
		nil,
	)
	if err := callSelect(gen, "a"); err != nil {
		t.Fatal(err)
	}

	validator := &fakeValidator{}
	matcher := &fakeMatcher{}
	c := New(gen, validator, matcher, noopDiscovery{}, nil)

	out, err := c.Run(context.Background(), sandbox.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success {
		t.Fatalf("expected success with validation disabled, got %+v", out)
	}
	if validator.calls != 0 {
		t.Errorf("expected validator never called, got %d calls", validator.calls)
	}
}

// TestRunProbesOlderMajorFamilyOnNoProgress covers spec §4.E's final
// branch (scenario S5): when narrowing makes no progress but an older
// major interpreter family remains among the candidates, the controller
// adds the "<3" probe constraint and keeps iterating on that family
// instead of giving up immediately.
func TestRunProbesOlderMajorFamilyOnNoProgress(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")
	gen := newTestGenerator(g)
	gen.SetCandidates(
		[]model.InterpreterVersion{
			model.MustParseInterpreterVersion("3.8.0"),
			model.MustParseInterpreterVersion("2.7.0"),
		},
		generator.PVCandidates{"a": {"a": {candVersion("1.0", 1.0)}}},
		generator.Similarity{"a": {"a": 1.0}},
		nil,
	)
	if err := callSelect(gen, "a"); err != nil {
		t.Fatal(err)
	}

	// The classification never carries a snippet or failed-module set, so
	// narrow() cannot make progress on any of its three branches -- the
	// controller is forced down to the older-major probe every round.
	validator := &fakeValidator{results: []sandbox.Result{{ExitCode: 1, Log: "SegmentationFault"}}}
	matcher := &fakeMatcher{classifications: []errmatch.Classification{{Kind: errmatch.KindMissingPackage}}}
	c := New(gen, validator, matcher, noopDiscovery{}, nil, WithMaxIterations(5))

	out, err := c.Run(context.Background(), sandbox.Settings{DockerfileDir: "/tmp", SourceName: "app.py", Cmd: []string{"python", "app.py"}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatalf("expected eventual failure once the older major family is exhausted too, got %+v", out)
	}
	if out.Iterations != 2 {
		t.Fatalf("expected exactly 2 iterations (one per major family), got %d", out.Iterations)
	}
	if out.Env == nil || out.Env.Interpreter.Major() != 2 {
		t.Fatalf("expected the final attempt to have probed the 2.x family, got %+v", out.Env)
	}
	if len(gen.State().InterpreterCandidates) != 1 || gen.State().InterpreterCandidates[0].Major() != 2 {
		t.Errorf("expected interpreter candidates narrowed to the 2.x family, got %v", gen.State().InterpreterCandidates)
	}
}

// callSelect drives module selection through the Generator's exported
// SelectModule entry point, the same one the CLI uses after parsing a
// program's top modules.
func callSelect(gen *generator.Generator, module string) error {
	return gen.SelectModule(context.Background(), module)
}
