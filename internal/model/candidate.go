package model

import "fmt"

// CandidateVersion is a per-top-module, per-package candidate version (spec
// §3): the version itself, the interpreter constraint the KG recorded for
// it, a repos constraint string (kept opaque -- the Version Store is the
// only component that needs to interpret it further), and a matching
// degree in [0.0, 1.0] measuring how well this version's exported surface
// covers what the source actually imports.
type CandidateVersion struct {
	Version               Version
	InterpreterConstraint InterpreterConstraint
	ReposConstraint       string
	MatchingDegree        float64
}

// CandidateVersionList is a list of CandidateVersion ordered by
// (matching_degree desc, version desc), as required by spec §3.
type CandidateVersionList []CandidateVersion

// Sort orders the list by (matching_degree desc, version desc), in place.
func (l CandidateVersionList) Sort() {
	insertionSortCandidates(l)
}

func insertionSortCandidates(l CandidateVersionList) {
	less := func(a, b CandidateVersion) bool {
		if a.MatchingDegree != b.MatchingDegree {
			return a.MatchingDegree > b.MatchingDegree
		}
		return a.Version.Compare(b.Version) > 0
	}
	for i := 1; i < len(l); i++ {
		for j := i; j > 0 && less(l[j], l[j-1]); j-- {
			l[j-1], l[j] = l[j], l[j-1]
		}
	}
}

// TopScore returns the matching degree of the first (best) entry, or 0 if
// the list is empty.
func (l CandidateVersionList) TopScore() float64 {
	if len(l) == 0 {
		return 0
	}
	return l[0].MatchingDegree
}

// SplitPrefix removes and returns the leading run of entries whose
// MatchingDegree equals score, leaving the remainder in place. Used by the
// Environment Generator's select_pvs_for_module (spec §4.D step 3): "slice
// off the prefix of versions whose matching degree equals max_score
// (removing them from pv_candidates)".
func (l *CandidateVersionList) SplitPrefix(score float64) CandidateVersionList {
	cur := *l
	i := 0
	for i < len(cur) && cur[i].MatchingDegree == score {
		i++
	}
	prefix := cur[:i:i]
	*l = cur[i:]
	return prefix
}

// Requirement is (canonical_name, version_specifier_set, extras_set) from
// spec §3.
type Requirement struct {
	Name       PackageName
	Specifiers VersionSpecifierSet
	Extras     ExtrasSet
}

func (r Requirement) String() string {
	if r.Specifiers.IsAny() {
		return string(r.Name)
	}
	return fmt.Sprintf("%s%s", r.Name, r.Specifiers.String())
}

// Candidate is (canonical_name, version, extras_set, installed_flag) from
// spec §3. Two candidates are equal iff name and version match; extras do
// not participate in equality.
type Candidate struct {
	Name      PackageName
	Version   Version
	Extras    ExtrasSet
	Installed bool
}

// Equal implements the name+version-only equality spec §3 requires.
func (c Candidate) Equal(o Candidate) bool {
	return c.Name == o.Name && c.Version.Equal(o.Version)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s@%s", c.Name, c.Version)
}

// RequirementInfo pairs a Requirement with the Candidate that introduced it
// (the "parent"), or a nil parent for root/user-supplied requirements. This
// is the (Requirement, parent Candidate or ⊥) pair from spec §3's
// Criterion.
type RequirementInfo struct {
	Requirement Requirement
	Parent      *Candidate
}

// ParentName returns the parent's package name, or "" for a root
// requirement.
func (ri RequirementInfo) ParentName() PackageName {
	if ri.Parent == nil {
		return ""
	}
	return ri.Parent.Name
}

// Criterion is the resolver's per-package summary of what requirements
// apply, what candidates remain, and what has been ruled out (spec §3).
// Criterion values are treated as immutable by convention: every mutating
// operation in internal/resolver produces a new Criterion rather than
// editing one in place, so that a State can be captured by a shallow copy
// of its Criteria map.
type Criterion struct {
	Candidates        []Candidate
	Information       []RequirementInfo
	Incompatibilities []Candidate
}

// IsSatisfying reports whether pinned (nil if the name is not pinned)
// meets every requirement in the criterion's information: version in the
// specifier and extras a superset. An empty, just-constructed Criterion
// (no information at all) is vacuously satisfying per spec §4.C's
// pin-satisfaction rule.
func (c Criterion) IsSatisfying(pinned *Candidate) bool {
	if len(c.Information) == 0 {
		return true
	}
	if pinned == nil {
		return false
	}
	for _, info := range c.Information {
		if !info.Requirement.Specifiers.Contains(pinned.Version) {
			return false
		}
		if !pinned.Extras.Superset(info.Requirement.Extras) {
			return false
		}
	}
	return true
}

// HasIncompatibility reports whether c already excludes the given
// candidate.
func (c Criterion) HasIncompatibility(cand Candidate) bool {
	for _, inc := range c.Incompatibilities {
		if inc.Equal(cand) {
			return true
		}
	}
	return false
}
