package generator

import (
	"context"
	"testing"

	"github.com/sdboyer/envinfer/internal/kg"
	"github.com/sdboyer/envinfer/internal/model"
	"github.com/sdboyer/envinfer/internal/resolver"
	"github.com/sdboyer/envinfer/internal/versionstore"
)

// fakeGraph is a tiny in-memory kg.Graph, same shape as the one
// internal/resolver tests against.
type fakeGraph struct {
	versions map[model.PackageName][]model.Version
	edges    map[string][]kg.DependencyEdge
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{versions: map[model.PackageName][]model.Version{}, edges: map[string][]kg.DependencyEdge{}}
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
	return g.edges[string(pkg)+"@"+v.String()], nil
}

func candVersion(v string, degree float64) model.CandidateVersion {
	return model.CandidateVersion{Version: model.MustParseVersion(v), MatchingDegree: degree}
}

func newTestGenerator(g *fakeGraph) *Generator {
	store := versionstore.New(g)
	r := resolver.New(store, g)
	return New(store, r, nil)
}

// TestGenerateTwoModulesNoConflict covers spec §8 scenario S1.
func TestGenerateTwoModulesNoConflict(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")
	g.addVersion("b", "2.0")

	gen := newTestGenerator(g)
	interps := []model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")}
	pv := PVCandidates{
		"a": {"a": {candVersion("1.0", 1.0)}},
		"b": {"b": {candVersion("2.0", 1.0)}},
	}
	sim := Similarity{"a": {"a": 1.0}, "b": {"b": 1.0}}

	if ok := gen.SetCandidates(interps, pv, sim, nil); !ok {
		t.Fatal("SetCandidates failed")
	}
	if err := gen.selectPVsForModule(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := gen.selectPVsForModule(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}

	env, ok := gen.GenerateCandidateEnvironment(context.Background(), false)
	if !ok {
		t.Fatal("expected a candidate environment")
	}
	if env.Interpreter.String() != "3.8.0" {
		t.Errorf("expected interpreter 3.8.0, got %s", env.Interpreter)
	}

	got := map[string]string{}
	for _, p := range env.InstallPairs {
		got[string(p.Name)] = p.Version
	}
	if got["a"] != "1.0" || got["b"] != "2.0" {
		t.Errorf("expected a==1.0, b==2.0, got %v", got)
	}
}

// TestGenerateSharedPackageCoversTwoModules covers spec §8 scenario S2.
func TestGenerateSharedPackageCoversTwoModules(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("p", "1.0")

	gen := newTestGenerator(g)
	interps := []model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")}
	pv := PVCandidates{
		"a": {"p": {candVersion("1.0", 1.0)}},
		"b": {"p": {candVersion("1.0", 0.9)}},
	}
	sim := Similarity{"a": {"p": 1.0}, "b": {"p": 0.9}}

	gen.SetCandidates(interps, pv, sim, nil)
	gen.selectPVsForModule(context.Background(), "a")
	gen.selectPVsForModule(context.Background(), "b")

	env, ok := gen.GenerateCandidateEnvironment(context.Background(), false)
	if !ok {
		t.Fatal("expected a candidate environment")
	}
	if len(env.InstallPairs) != 1 {
		t.Fatalf("expected a single shared pin, got %v", env.InstallPairs)
	}
	if env.InstallPairs[0].Name != "p" || env.InstallPairs[0].Version != "1.0" {
		t.Errorf("expected p==1.0, got %+v", env.InstallPairs[0])
	}
}

// TestRequirementSpecifierEmitsVersionRange covers spec §8 scenario S3.
func TestRequirementSpecifierEmitsVersionRange(t *testing.T) {
	gen := newTestGenerator(newFakeGraph())
	batch := model.CandidateVersionList{candVersion("1.0", 1), candVersion("1.2", 1), candVersion("1.4", 1)}
	full := []model.Version{
		model.MustParseVersion("1.0"), model.MustParseVersion("1.1"), model.MustParseVersion("1.2"),
		model.MustParseVersion("1.3"), model.MustParseVersion("1.4"), model.MustParseVersion("1.5"),
	}

	spec := gen.requirementSpecifier("q", batch, full)
	if spec.String() != ">=1.0,<=1.4,!=1.1,!=1.3" {
		t.Errorf("expected >=1.0,<=1.4,!=1.1,!=1.3, got %q", spec.String())
	}

	// And the re-parsed specifier must accept exactly the batch versions
	// (spec §8 invariant 8).
	for _, v := range []string{"1.0", "1.2", "1.4"} {
		if !spec.Contains(model.MustParseVersion(v)) {
			t.Errorf("expected specifier to accept %s", v)
		}
	}
	for _, v := range []string{"1.1", "1.3", "1.5"} {
		if spec.Contains(model.MustParseVersion(v)) {
			t.Errorf("expected specifier to reject %s", v)
		}
	}
}

// TestProtectedExistingEnv covers spec §8 scenario S6.
func TestProtectedExistingEnv(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("X", "4.2")
	g.addVersion("Y", "1.0")

	gen := newTestGenerator(g)
	interps := []model.InterpreterVersion{
		model.MustParseInterpreterVersion("3.8.0"),
		model.MustParseInterpreterVersion("3.9.0"),
	}
	pv := PVCandidates{
		"x": {
			"X": {candVersion("4.2", 1.0), candVersion("4.1", 0.9)},
			"Y": {candVersion("1.0", 0.5)},
		},
	}
	sim := Similarity{"x": {"X": 1.0, "Y": 0.5}}
	existing := &ExistingEnv{
		Interpreter: model.MustParseInterpreterVersion("3.9.0"),
		Packages:    map[model.PackageName]model.Version{"X": model.MustParseVersion("4.2")},
	}

	if ok := gen.SetCandidates(interps, pv, sim, existing); !ok {
		t.Fatal("SetCandidates with existing env failed")
	}
	if len(gen.state.InterpreterCandidates) != 1 || gen.state.InterpreterCandidates[0].String() != "3.9.0" {
		t.Fatalf("expected interpreter candidates restricted to 3.9.0, got %v", gen.state.InterpreterCandidates)
	}
	if _, ok := gen.state.PVCandidates["x"]["Y"]; ok {
		t.Errorf("expected non-pinned package Y discarded from module x")
	}
	if cvl, ok := gen.state.PVCandidates["x"]["X"]; !ok || len(cvl) != 1 || cvl[0].Version.String() != "4.2" {
		t.Errorf("expected X retained at only its pinned version 4.2, got %v", cvl)
	}

	if err := gen.selectPVsForModule(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	env, ok := gen.GenerateCandidateEnvironment(context.Background(), false)
	if !ok {
		t.Fatal("expected a candidate environment")
	}
	if len(env.InstallPairs) != 1 || env.InstallPairs[0].Name != "X" || env.InstallPairs[0].Version != "4.2" {
		t.Errorf("expected only X==4.2 installed, got %v", env.InstallPairs)
	}
}

// TestBackupRestoreRoundTrip covers spec §8 invariant 6.
func TestBackupRestoreRoundTrip(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")

	gen := newTestGenerator(g)
	interps := []model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")}
	pv := PVCandidates{"a": {"a": {candVersion("1.0", 1.0)}}}
	sim := Similarity{"a": {"a": 1.0}}
	gen.SetCandidates(interps, pv, sim, nil)
	gen.selectPVsForModule(context.Background(), "a")

	before := gen.Backup()
	gen.state.SelectedPVs["a"]["a"] = nil // simulate a failed mutation
	gen.Restore(before)

	if len(gen.state.SelectedPVs["a"]["a"]) != 1 {
		t.Errorf("expected restore to undo the mutation, got %v", gen.state.SelectedPVs["a"]["a"])
	}
}

// TestGenerateCandidateEnvironmentDeterministic covers spec §8 invariant 7.
func TestGenerateCandidateEnvironmentDeterministic(t *testing.T) {
	g := newFakeGraph()
	g.addVersion("a", "1.0")
	g.addVersion("b", "2.0")

	gen := newTestGenerator(g)
	interps := []model.InterpreterVersion{model.MustParseInterpreterVersion("3.8.0")}
	pv := PVCandidates{
		"a": {"a": {candVersion("1.0", 1.0)}},
		"b": {"b": {candVersion("2.0", 1.0)}},
	}
	sim := Similarity{"a": {"a": 1.0}, "b": {"b": 1.0}}
	gen.SetCandidates(interps, pv, sim, nil)
	gen.selectPVsForModule(context.Background(), "a")
	gen.selectPVsForModule(context.Background(), "b")

	env1, ok := gen.GenerateCandidateEnvironment(context.Background(), false)
	if !ok {
		t.Fatal("expected a candidate environment")
	}
	env2, ok := gen.GenerateCandidateEnvironment(context.Background(), false)
	if !ok {
		t.Fatal("expected a candidate environment")
	}

	if len(env1.InstallPairs) != len(env2.InstallPairs) {
		t.Fatalf("expected identical install lists, got %v vs %v", env1.InstallPairs, env2.InstallPairs)
	}
	for i := range env1.InstallPairs {
		if env1.InstallPairs[i] != env2.InstallPairs[i] {
			t.Errorf("non-deterministic install list at %d: %v vs %v", i, env1.InstallPairs[i], env2.InstallPairs[i])
		}
	}
}
