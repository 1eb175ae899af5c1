// Package model holds the value-like data types shared by every component
// of the dependency-solving engine: interpreter and package versions,
// requirements, candidates, and the resolver's Criterion/State records.
//
// These are deliberately dumb data holders (spec §9: "replace ad-hoc
// dictionaries with explicit records"); the solving logic that operates on
// them lives in internal/resolver, internal/optimizer and internal/generator.
package model

import "strings"

// PackageName is a canonicalized package identifier: lowercase, with
// underscores and whitespace runs normalized to a single hyphen. Equality of
// packages is equality of canonical names.
type PackageName string

// Canonicalize lowercases name and normalizes runs of '_', '.', and
// whitespace into single hyphens, matching the way package indexes
// normally fold distinct-looking names onto the same canonical identity.
func Canonicalize(name string) PackageName {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r == '_' || r == '.' || r == ' ' || r == '\t' || r == '-':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		default:
			b.WriteRune(r)
			lastHyphen = false
		}
	}
	return PackageName(strings.TrimSuffix(b.String(), "-"))
}

func (n PackageName) String() string { return string(n) }

// ExtrasSet is an unordered set of extras (optional-dependency markers)
// requested alongside a package.
type ExtrasSet map[string]struct{}

// NewExtrasSet builds an ExtrasSet from a slice of extra names.
func NewExtrasSet(extras ...string) ExtrasSet {
	s := make(ExtrasSet, len(extras))
	for _, e := range extras {
		s[e] = struct{}{}
	}
	return s
}

// Superset reports whether s contains every member of other.
func (s ExtrasSet) Superset(other ExtrasSet) bool {
	for e := range other {
		if _, ok := s[e]; !ok {
			return false
		}
	}
	return true
}

// Union returns a new set containing the members of both sets.
func (s ExtrasSet) Union(other ExtrasSet) ExtrasSet {
	out := make(ExtrasSet, len(s)+len(other))
	for e := range s {
		out[e] = struct{}{}
	}
	for e := range other {
		out[e] = struct{}{}
	}
	return out
}

// Slice returns the sorted members of the set, for deterministic output.
func (s ExtrasSet) Slice() []string {
	out := make([]string, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	// small, allocation-free insertion sort; extras sets are tiny in
	// practice.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
