package optimizer

import "testing"

func TestSelectTwoModulesNoConflict(t *testing.T) {
	pkgDict := ModuleCandidates{
		"a": {{Package: "a-pkg", Similarity: 1.0}},
		"b": {{Package: "b-pkg", Similarity: 1.0}},
	}

	sel, ok := Select(pkgDict)
	if !ok {
		t.Fatal("expected feasible selection")
	}
	if len(sel.Packages) != 2 {
		t.Fatalf("expected 2 packages, got %d (%v)", len(sel.Packages), sel.Packages)
	}
	if _, ok := sel.Packages["a-pkg"]; !ok {
		t.Error("missing a-pkg")
	}
	if _, ok := sel.Packages["b-pkg"]; !ok {
		t.Error("missing b-pkg")
	}
}

func TestSelectSharedPackageCoversTwoModules(t *testing.T) {
	pkgDict := ModuleCandidates{
		"a": {{Package: "p", Similarity: 1.0}},
		"b": {{Package: "p", Similarity: 0.9}},
	}

	sel, ok := Select(pkgDict)
	if !ok {
		t.Fatal("expected feasible selection")
	}
	if len(sel.Packages) != 1 {
		t.Fatalf("expected single shared package, got %v", sel.Packages)
	}
	if _, ok := sel.Packages["p"]; !ok {
		t.Errorf("expected p to be selected, got %v", sel.Packages)
	}
}

func TestSelectPrefersSharedOverSeparate(t *testing.T) {
	// Sharing "shared" costs 2 - (0.6+0.6) = 0.8, cheaper than two
	// separate high-similarity packages at 2*2 - 2 = 2.
	pkgDict := ModuleCandidates{
		"a": {{Package: "a-only", Similarity: 1.0}, {Package: "shared", Similarity: 0.6}},
		"b": {{Package: "b-only", Similarity: 1.0}, {Package: "shared", Similarity: 0.6}},
	}

	sel, ok := Select(pkgDict)
	if !ok {
		t.Fatal("expected feasible selection")
	}
	if len(sel.Packages) != 1 {
		t.Fatalf("expected the shared package to win, got %v", sel.Packages)
	}
	if _, ok := sel.Packages["shared"]; !ok {
		t.Errorf("expected shared package selected, got %v", sel.Packages)
	}
}

func TestSelectInfeasibleModuleWithNoCandidates(t *testing.T) {
	pkgDict := ModuleCandidates{
		"a": {{Package: "a-pkg", Similarity: 1.0}},
		"b": {},
	}

	if _, ok := Select(pkgDict); ok {
		t.Fatal("expected infeasible result for empty-candidate module")
	}
}

func TestTruncateCapsAtMaxCandidates(t *testing.T) {
	var many []Candidate
	for i := 0; i < 25; i++ {
		many = append(many, Candidate{Package: "pkg", Similarity: float64(i) / 25})
	}
	many[24].Similarity = 0.99 // highest, but last in input order

	pkgDict := ModuleCandidates{"m": many}
	out := truncate(pkgDict)
	if len(out["m"]) != 1 {
		t.Fatalf("expected truncation to a single candidate, got %d", len(out["m"]))
	}
	if out["m"][0].Similarity != 0.99 {
		t.Errorf("expected the highest-similarity candidate retained, got %+v", out["m"][0])
	}
}

func TestFallbackPicksArgmaxPerModule(t *testing.T) {
	pkgDict := ModuleCandidates{
		"a": {{Package: "low", Similarity: 0.2}, {Package: "high", Similarity: 0.9}},
	}
	out := Fallback(pkgDict)
	if out["a"] != "high" {
		t.Errorf("expected argmax 'high', got %s", out["a"])
	}
}

func TestTopModuleIndexResolvesByDottedPrefix(t *testing.T) {
	idx := NewTopModuleIndex([]string{"numpy", "requests"})

	if m, ok := idx.Resolve("numpy.linalg.info"); !ok || m != "numpy" {
		t.Errorf("expected numpy.linalg.info to resolve to numpy, got %q (%v)", m, ok)
	}
	if _, ok := idx.Resolve("numpyx.thing"); ok {
		t.Error("expected numpyx.thing not to match numpy")
	}
	if m, ok := idx.Resolve("requests"); !ok || m != "requests" {
		t.Errorf("expected exact match on requests, got %q (%v)", m, ok)
	}
}
