package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/sdboyer/envinfer/internal/model"
)

// defaultMainTimeout is the public entrypoint's own wall-clock cap (spec
// §4.C), independent of any deadline the caller supplies for candidate
// freshness filtering.
const defaultMainTimeout = 300 * time.Second

// defaultMainMaxRounds is the orchestrator-facing round budget (spec
// §4.C), 200 times smaller than the internal resolve's own
// defaultMaxRounds -- the orchestrator would rather get "no result"
// quickly than let one stuck resolve burn its whole job budget.
const defaultMainMaxRounds = 10000

// Main is the resolver's public entry point (spec §4.C): it enforces a
// wall-clock cap and converts every failure mode -- conflict, timeout,
// round exhaustion, or any other error -- into "no result" rather than
// propagating an error, on the theory that a caller two layers up
// (Component D) can always fall back to offering its own top candidates.
// The returned bool is false whenever ok should be treated as "the
// resolver did not help".
func (r *Resolver) Main(ctx context.Context, requirements []model.Requirement, interp model.InterpreterVersion, extraDeps map[model.PackageName][]string, deadline time.Time, maxRounds int) ([]InstallPair, bool) {
	if maxRounds <= 0 {
		maxRounds = defaultMainMaxRounds
	}

	runCtx, cancel := context.WithTimeout(ctx, defaultMainTimeout)
	defer cancel()

	userRequested := make(map[model.PackageName]int, len(requirements))
	for i, req := range requirements {
		if _, ok := userRequested[req.Name]; !ok {
			userRequested[req.Name] = i
		}
	}

	state, err := r.resolveRecovered(runCtx, requirements, interp, deadline, maxRounds)
	if err != nil || state == nil {
		return nil, false
	}

	flatExtra := make(map[model.PackageName][]string, len(extraDeps))
	for parent, mods := range extraDeps {
		if _, ok := state.Mapping.Get(parent); ok {
			flatExtra[parent] = mods
		}
	}

	return GenerateInstallPairs(state, flatExtra, userRequested), true
}

// HashInputs computes a digest of the normalized, sorted requirement list
// plus the interpreter version -- the cheapest input set that fully
// determines Resolve's output for a given Version Store content, modeled
// on gps.Solver.HashInputs()'s contract of hashing inputs, not outputs
// (SPEC_FULL.md "Supplemented from original_source/ and teacher idiom").
// A caller driving repeated generate/validate rounds (the Adjustment
// Controller) can compare two digests to detect that narrowing produced
// no effective change before paying for another sandbox validation.
func HashInputs(requirements []model.Requirement, interp model.InterpreterVersion) string {
	reqStrings := make([]string, len(requirements))
	for i, r := range requirements {
		reqStrings[i] = requirementDigestLine(r)
	}
	sort.Strings(reqStrings)

	h := sha256.New()
	h.Write([]byte(interp.String()))
	h.Write([]byte{'\n'})
	for _, line := range reqStrings {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func requirementDigestLine(r model.Requirement) string {
	extras := r.Extras.Slice()
	return strings.Join([]string{string(r.Name), r.Specifiers.String(), strings.Join(extras, "+")}, "|")
}

// resolveRecovered calls Resolve but also converts a panic (which should
// never happen, but a defensive boundary here keeps one malformed KG
// response from taking down the whole inference job) into the same "no
// result" contract as an ordinary error.
func (r *Resolver) resolveRecovered(ctx context.Context, requirements []model.Requirement, interp model.InterpreterVersion, deadline time.Time, maxRounds int) (state *model.State, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			state, err = nil, &TimeoutError{}
		}
	}()
	return r.Resolve(ctx, requirements, interp, deadline, maxRounds)
}
