package model

import "testing"

func TestVersionCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.2.0", -1},
		{"1.4.0", "1.2.0", 1},
		{"1.0", "1.0.0", 0},
	}

	for _, c := range cases {
		a, err := ParseVersion(c.a)
		if err != nil {
			t.Fatalf("parse %q: %s", c.a, err)
		}
		b, err := ParseVersion(c.b)
		if err != nil {
			t.Fatalf("parse %q: %s", c.b, err)
		}
		if got := a.Compare(b); got != c.want {
			t.Errorf("%s.Compare(%s) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestVersionSpecifierSetContains(t *testing.T) {
	set, err := ParseVersionSpecifierSet(">=1.0,<=1.4,!=1.1")
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		v    string
		want bool
	}{
		{"1.0", true},
		{"1.1", false},
		{"1.2", true},
		{"1.4", true},
		{"1.5", false},
	} {
		v := MustParseVersion(tc.v)
		if got := set.Contains(v); got != tc.want {
			t.Errorf("Contains(%s) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestVersionSpecifierSetIsExact(t *testing.T) {
	exact, err := ParseVersionSpecifierSet("==1.0")
	if err != nil {
		t.Fatal(err)
	}
	if !exact.IsExact() {
		t.Error("==1.0 should be exact")
	}

	rng, err := ParseVersionSpecifierSet(">=1.0")
	if err != nil {
		t.Fatal(err)
	}
	if rng.IsExact() {
		t.Error(">=1.0 should not be exact")
	}

	if !AnySpecifierSet().IsAny() {
		t.Error("AnySpecifierSet should report IsAny")
	}
}

func TestInterpreterConstraintSatisfies(t *testing.T) {
	ic := InterpreterConstraint{
		MetaSpec:  ">=3.6",
		ReposSpec: "==3.7.*;==3.8.*",
	}

	for _, tc := range []struct {
		v    string
		want bool
	}{
		{"3.7.2", true},
		{"3.8.0", true},
		{"3.9.0", false}, // satisfies meta but no repos alternative
		{"3.5.0", false}, // fails meta
	} {
		v := MustParseInterpreterVersion(tc.v)
		if got := ic.Satisfies(v); got != tc.want {
			t.Errorf("Satisfies(%s) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]PackageName{
		"Foo_Bar":  "foo-bar",
		"foo.bar":  "foo-bar",
		"FooBar":   "foobar",
		" foo bar": "foo-bar",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCandidateVersionListSortAndSplitPrefix(t *testing.T) {
	list := CandidateVersionList{
		{Version: MustParseVersion("1.0"), MatchingDegree: 0.5},
		{Version: MustParseVersion("2.0"), MatchingDegree: 1.0},
		{Version: MustParseVersion("1.5"), MatchingDegree: 1.0},
	}
	list.Sort()

	if list[0].MatchingDegree != 1.0 || list[0].Version.String() != "2.0" {
		t.Fatalf("unexpected order: %+v", list)
	}

	prefix := list.SplitPrefix(1.0)
	if len(prefix) != 2 {
		t.Fatalf("expected 2-element prefix, got %d", len(prefix))
	}
	if len(list) != 1 || list[0].MatchingDegree != 0.5 {
		t.Fatalf("expected remainder with single 0.5 entry, got %+v", list)
	}
}
