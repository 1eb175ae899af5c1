package resolver

import (
	"bytes"
	"fmt"

	"github.com/sdboyer/envinfer/internal/model"
)

// RequirementsConflicted means a requirement, once intersected with the
// candidates already known for its name, left no candidate standing. It is
// local to the round loop: callers catch it, record the carried Criterion's
// Information as a backtrack cause, and try the next candidate (spec §4.C,
// §7).
type RequirementsConflicted struct {
	Criterion model.Criterion
}

func (e *RequirementsConflicted) Error() string {
	return fmt.Sprintf("requirements conflicted: %d requirement(s), 0 candidates remain", len(e.Criterion.Information))
}

// InconsistentCandidate means a candidate already pinned in the mapping
// failed satisfaction of its own criterion -- a solver invariant violation,
// not an ordinary resolution failure. It always surfaces out of Resolve.
type InconsistentCandidate struct {
	Name      model.PackageName
	Candidate model.Candidate
}

func (e *InconsistentCandidate) Error() string {
	return fmt.Sprintf("candidate %s no longer satisfies its own criterion for %s", e.Candidate, e.Name)
}

// ImpossibleResolution means the backtracking search exhausted every
// alternative without finding a consistent pin set. It carries the
// requirement/parent pairs that caused every backtrack, for diagnostics.
type ImpossibleResolution struct {
	Causes []model.RequirementInfo
}

func (e *ImpossibleResolution) Error() string {
	if len(e.Causes) == 0 {
		return "impossible resolution: no consistent candidate set found"
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "impossible resolution, %d contributing requirement(s):", len(e.Causes))
	for _, c := range e.Causes {
		fmt.Fprintf(&buf, "\n\t%s (from %s)", c.Requirement, parentLabel(c))
	}
	return buf.String()
}

func parentLabel(ri model.RequirementInfo) string {
	if ri.Parent == nil {
		return "user request"
	}
	return string(ri.Parent.Name)
}

// TooDeep means the round budget (max_rounds) was exhausted before the
// round loop converged.
type TooDeep struct {
	MaxRounds int
}

func (e *TooDeep) Error() string {
	return fmt.Sprintf("resolution did not converge within %d rounds", e.MaxRounds)
}

// TimeoutError means the wall-clock deadline passed before the round loop
// converged.
type TimeoutError struct{}

func (e *TimeoutError) Error() string { return "resolution deadline exceeded" }
