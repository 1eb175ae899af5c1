package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// Version is an opaque, totally-ordered value parsed from a version string.
// The original string form is preserved for display and equality, per
// spec §3: two versions with different original spellings but the same
// parsed value are still distinguishable for display purposes, but compare
// and order identically.
type Version struct {
	sv  *semver.Version
	raw string
}

// ParseVersion parses a version string into a Version. An unparsable string
// is not necessarily malformed data from the KG; per spec §4.A, callers are
// expected to skip invalid entries rather than fail the whole query, so the
// error is returned for the caller to decide.
func ParseVersion(raw string) (Version, error) {
	sv, err := semver.NewVersion(raw)
	if err != nil {
		return Version{}, errors.Wrapf(err, "invalid version %q", raw)
	}
	return Version{sv: sv, raw: raw}, nil
}

// MustParseVersion panics on an invalid version string; used for literal
// versions baked into code (tests, defaults), never for KG-sourced data.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the preserved original spelling.
func (v Version) String() string { return v.raw }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.sv == nil }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	if v.sv == nil || o.sv == nil {
		return strings.Compare(v.raw, o.raw)
	}
	return v.sv.Compare(o.sv)
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// Equal reports whether v and o compare equal (same parsed value;
// differing original spellings, e.g. "1.0" vs "1.0.0", are still equal).
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// InterpreterVersion is a dotted numeric string with a total order
// consistent with standard version semantics (spec §3). It is kept
// distinct from Version, even though both are backed by the same semver
// ordering, because the two never compare against each other and keeping
// them as different types prevents mixing interpreter and package pins.
type InterpreterVersion struct {
	sv  *semver.Version
	raw string
}

// ParseInterpreterVersion parses a dotted numeric interpreter version.
func ParseInterpreterVersion(raw string) (InterpreterVersion, error) {
	sv, err := semver.NewVersion(raw)
	if err != nil {
		return InterpreterVersion{}, errors.Wrapf(err, "invalid interpreter version %q", raw)
	}
	return InterpreterVersion{sv: sv, raw: raw}, nil
}

// MustParseInterpreterVersion panics on an invalid version string.
func MustParseInterpreterVersion(raw string) InterpreterVersion {
	v, err := ParseInterpreterVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v InterpreterVersion) String() string { return v.raw }

func (v InterpreterVersion) Compare(o InterpreterVersion) int {
	if v.sv == nil || o.sv == nil {
		return strings.Compare(v.raw, o.raw)
	}
	return v.sv.Compare(o.sv)
}

func (v InterpreterVersion) Less(o InterpreterVersion) bool { return v.Compare(o) < 0 }
func (v InterpreterVersion) Equal(o InterpreterVersion) bool { return v.Compare(o) == 0 }

// Major returns the interpreter's major version number, used by the
// Adjustment Controller's "probe the older major family" narrowing (spec
// §4.E).
func (v InterpreterVersion) Major() int64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Major()
}

// SortInterpreterVersions sorts in ascending order, in place.
func SortInterpreterVersions(vs []InterpreterVersion) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Less(vs[j]) })
}

// VersionSpecifierSet is a set of version-range expressions, ANDed
// together, that a candidate Version must satisfy (spec §3's Requirement).
// Pre-releases are allowed, matching the teacher's semver.Constraint
// (which, unlike strict semver, does not reject pre-release candidates
// out of hand -- see NewSemverConstraint in constraints.go).
type VersionSpecifierSet struct {
	raw string
	c   semver.Constraint
}

// AnySpecifierSet is the open, always-satisfied specifier set.
func AnySpecifierSet() VersionSpecifierSet { return VersionSpecifierSet{raw: ""} }

// ParseVersionSpecifierSet parses a comma-separated set of specifiers, e.g.
// ">=1.0,<=1.4,!=1.1". An empty string means "any version".
func ParseVersionSpecifierSet(raw string) (VersionSpecifierSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AnySpecifierSet(), nil
	}
	c, err := semver.NewConstraint(normalizeSpecifier(raw))
	if err != nil {
		return VersionSpecifierSet{}, errors.Wrapf(err, "invalid version specifier %q", raw)
	}
	return VersionSpecifierSet{raw: raw, c: c}, nil
}

// normalizeSpecifier rewrites "name==V"-style exact pins (no space after
// the operator is fine for semver.NewConstraint) and tolerates "===" as a
// stricter synonym for "==", per spec §3's Requirement grammar.
func normalizeSpecifier(raw string) string {
	return strings.ReplaceAll(raw, "===", "==")
}

// Contains reports whether v satisfies every specifier in the set.
func (s VersionSpecifierSet) Contains(v Version) bool {
	if s.c == nil {
		return true
	}
	return s.c.Admits(v.sv) == nil
}

// String returns the original specifier text.
func (s VersionSpecifierSet) String() string { return s.raw }

// IsAny reports whether the set imposes no constraint at all.
func (s VersionSpecifierSet) IsAny() bool { return s.c == nil }

// IsExact reports whether the specifier pins a single exact version
// (begins with "==" or "===" per the resolver's preference tuple, spec
// §4.C).
func (s VersionSpecifierSet) IsExact() bool {
	trimmed := strings.TrimSpace(s.raw)
	return strings.HasPrefix(trimmed, "==") || strings.HasPrefix(trimmed, "===")
}

// HasOperator reports whether the specifier carries any operator at all
// (spec §4.C's "unfree" preference-tuple field).
func (s VersionSpecifierSet) HasOperator() bool {
	return strings.TrimSpace(s.raw) != ""
}

// Intersect returns the conjunction of two specifier sets.
func (s VersionSpecifierSet) Intersect(o VersionSpecifierSet) (VersionSpecifierSet, error) {
	switch {
	case s.IsAny():
		return o, nil
	case o.IsAny():
		return s, nil
	}
	combined := strings.TrimSpace(s.raw) + "," + strings.TrimSpace(o.raw)
	return ParseVersionSpecifierSet(combined)
}

// InterpreterConstraint is the pair (meta_spec, repos_spec) from spec §3:
// meta_spec is a single version-range expression, repos_spec is a
// semicolon-separated list of alternative version-range expressions. An
// interpreter v satisfies the constraint iff v is in meta_spec AND v is in
// some alternative of repos_spec.
type InterpreterConstraint struct {
	MetaSpec  string
	ReposSpec string
}

// AnyInterpreterConstraint is unconstrained: every interpreter satisfies it.
func AnyInterpreterConstraint() InterpreterConstraint { return InterpreterConstraint{} }

// Satisfies reports whether v satisfies the constraint.
func (ic InterpreterConstraint) Satisfies(v InterpreterVersion) bool {
	if !matchesSpec(ic.MetaSpec, v) {
		return false
	}
	if strings.TrimSpace(ic.ReposSpec) == "" {
		return true
	}
	for _, alt := range strings.Split(ic.ReposSpec, ";") {
		if matchesSpec(alt, v) {
			return true
		}
	}
	return false
}

func matchesSpec(spec string, v InterpreterVersion) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return true
	}
	c, err := semver.NewConstraint(normalizeSpecifier(spec))
	if err != nil {
		// An unparsable constraint from the KG is treated as "does not
		// admit this interpreter" rather than propagating an error through
		// every candidate filter; callers that care about malformed KG
		// data should validate it at ingestion time, not here.
		return false
	}
	return c.Admits(v.sv) == nil
}

func (ic InterpreterConstraint) String() string {
	if ic.ReposSpec == "" {
		return ic.MetaSpec
	}
	return fmt.Sprintf("%s [%s]", ic.MetaSpec, ic.ReposSpec)
}
