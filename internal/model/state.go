package model

// Mapping is the resolver's insertion-ordered name→Candidate map (spec §3's
// State.mapping). Insertion order is load-bearing: it is "the" backtrack
// stack (spec §4.C step 3), so this type exposes ordered iteration and
// last-element access rather than being a bare Go map.
type Mapping struct {
	order []PackageName
	by    map[PackageName]Candidate
}

// NewMapping returns an empty Mapping.
func NewMapping() *Mapping {
	return &Mapping{by: make(map[PackageName]Candidate)}
}

// Clone returns a deep copy (new backing slice and map, same Candidate
// values since Candidate is itself value-like).
func (m *Mapping) Clone() *Mapping {
	n := &Mapping{
		order: append([]PackageName(nil), m.order...),
		by:    make(map[PackageName]Candidate, len(m.by)),
	}
	for k, v := range m.by {
		n.by[k] = v
	}
	return n
}

// Get returns the pinned candidate for name, if any.
func (m *Mapping) Get(name PackageName) (Candidate, bool) {
	c, ok := m.by[name]
	return c, ok
}

// Insert pins a candidate, appending it to the insertion order if it's not
// already present (re-pinning an existing name updates the value in place
// without moving its position).
func (m *Mapping) Insert(c Candidate) {
	if _, exists := m.by[c.Name]; !exists {
		m.order = append(m.order, c.Name)
	}
	m.by[c.Name] = c
}

// Remove drops name from the mapping entirely.
func (m *Mapping) Remove(name PackageName) {
	if _, exists := m.by[name]; !exists {
		return
	}
	delete(m.by, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Last returns the most recently inserted candidate, and whether the
// mapping is non-empty.
func (m *Mapping) Last() (Candidate, bool) {
	if len(m.order) == 0 {
		return Candidate{}, false
	}
	return m.by[m.order[len(m.order)-1]], true
}

// PopLast removes and returns the most recently inserted candidate.
func (m *Mapping) PopLast() (Candidate, bool) {
	c, ok := m.Last()
	if ok {
		m.Remove(c.Name)
	}
	return c, ok
}

// Len returns the number of pinned names.
func (m *Mapping) Len() int { return len(m.order) }

// Ordered returns the pinned candidates in insertion order.
func (m *Mapping) Ordered() []Candidate {
	out := make([]Candidate, len(m.order))
	for i, n := range m.order {
		out[i] = m.by[n]
	}
	return out
}

// Names returns the pinned names in insertion order.
func (m *Mapping) Names() []PackageName {
	return append([]PackageName(nil), m.order...)
}

// State is one round of the resolver: the current pin set, the per-package
// criteria, and the accumulated backtrack causes (spec §3).
type State struct {
	Mapping         *Mapping
	Criteria        map[PackageName]Criterion
	BacktrackCauses []RequirementInfo
}

// NewRootState returns the sentinel initial state the resolver pushes
// before processing any requirements (spec §4.C "Initialization").
func NewRootState() *State {
	return &State{
		Mapping:  NewMapping(),
		Criteria: make(map[PackageName]Criterion),
	}
}

// Clone performs the deep copy spec §9 calls for: duplicate nested maps,
// fresh Mapping. Criterion and RequirementInfo values are copied by value
// (their slice fields are never mutated in place by internal/resolver --
// every update replaces the whole Criterion), so a shallow copy of the
// Criteria map plus a cloned Mapping is a faithful deep copy of observable
// state.
func (s *State) Clone() *State {
	criteria := make(map[PackageName]Criterion, len(s.Criteria))
	for k, v := range s.Criteria {
		criteria[k] = v
	}
	return &State{
		Mapping:         s.Mapping.Clone(),
		Criteria:        criteria,
		BacktrackCauses: append([]RequirementInfo(nil), s.BacktrackCauses...),
	}
}
