// Package adjustment implements Component E, the Adjustment Controller
// (spec §4.E): a bounded validate -> classify-error -> narrow-constraints
// -> regenerate loop driven on top of Component D.
//
// Grounded on golang-dep's ensure.go ("compute a solution, write it out,
// report", generalized into a programmatic retry loop) and solver.go's
// SolveParameters.Trace for per-iteration diagnostics.
package adjustment

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sdboyer/constext"

	"github.com/sdboyer/envinfer/internal/errmatch"
	"github.com/sdboyer/envinfer/internal/generator"
	"github.com/sdboyer/envinfer/internal/model"
	"github.com/sdboyer/envinfer/internal/parsecontract"
	"github.com/sdboyer/envinfer/internal/sandbox"
	golog "github.com/sdboyer/envinfer/log"
)

// DefaultMaxIterations is the bound on validate/repair rounds (spec
// §4.E's VALIDATION_NUM).
const DefaultMaxIterations = 10

// DefaultIterationBudget caps the whole Run loop's wall-clock time,
// independent of the caller's own ctx, the same way internal/resolver's
// Main enforces its own timeout on top of a caller deadline.
const DefaultIterationBudget = 30 * time.Minute

// Controller drives the Adjustment loop over a Generator. It is not safe
// for concurrent use, matching the Generator it wraps (spec §5).
type Controller struct {
	gen             *generator.Generator
	validator       sandbox.Validator
	matcher         errmatch.Matcher
	discovery       parsecontract.Discovery
	interpDiscovery parsecontract.InterpreterDiscovery
	log             *golog.Logger
	maxIterations   int
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithLogger attaches a diagnostic logger.
func WithLogger(l *golog.Logger) Option {
	return func(c *Controller) { c.log = l.With("adjustment") }
}

// New constructs a Controller. discovery and interpDiscovery may be nil
// if the caller never expects a package- or interpreter-narrowing
// iteration to be needed; a nil collaborator just makes that narrowing
// path report "no progress" instead of panicking.
func New(gen *generator.Generator, validator sandbox.Validator, matcher errmatch.Matcher, discovery parsecontract.Discovery, interpDiscovery parsecontract.InterpreterDiscovery, opts ...Option) *Controller {
	c := &Controller{
		gen:             gen,
		validator:       validator,
		matcher:         matcher,
		discovery:       discovery,
		interpDiscovery: interpDiscovery,
		maxIterations:   DefaultMaxIterations,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Outcome is the Adjustment Controller's result (spec §7: "Adjustment-
// controller failures are represented as (success=false, final_env,
// iteration_count)").
type Outcome struct {
	Success    bool
	Env        *generator.CandidateEnvironment
	Iterations int
}

// Run drives the loop. If settings does not carry everything validation
// needs (spec §6: missing required key disables validation), Run
// generates one environment and reports success without ever calling the
// sandbox.
func (c *Controller) Run(ctx context.Context, settings sandbox.Settings) (Outcome, error) {
	if !settings.Enabled() {
		env, ok := c.gen.GenerateCandidateEnvironment(ctx, false)
		if !ok {
			return Outcome{}, nil
		}
		return Outcome{Success: true, Env: env}, nil
	}

	budgetCtx, cancelBudget := context.WithTimeout(context.Background(), DefaultIterationBudget)
	defer cancelBudget()
	ctx, cancel := constext.Cons(ctx, budgetCtx)
	defer cancel()

	var lastDigest string
	for i := 0; i < c.maxIterations; i++ {
		env, ok := c.gen.GenerateCandidateEnvironment(ctx, false)
		if !ok {
			return Outcome{Iterations: i}, nil
		}

		if i > 0 && env.InputsDigest != "" && env.InputsDigest == lastDigest {
			// The last narrowing round produced a byte-identical
			// requirement set and interpreter (spec SPEC_FULL.md's
			// HashInputs contract) -- re-running the sandbox would just
			// reproduce the same failure, so stop here instead of
			// burning another validation round.
			if c.log != nil {
				c.log.LogTracef("iteration %d: resolver inputs unchanged since last round (digest %s), stopping", i+1, env.InputsDigest)
			}
			return Outcome{Success: false, Env: env, Iterations: i}, nil
		}
		lastDigest = env.InputsDigest

		res, err := c.validator.Validate(ctx, RenderDescriptor(env), settings)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "sandbox validation")
		}
		if res.Succeeded() {
			return Outcome{Success: true, Env: env, Iterations: i + 1}, nil
		}

		cls, err := c.matcher.Classify(ctx, res.Log)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "classifying validation log")
		}
		if cls.Kind == errmatch.KindUnrelated {
			// spec §4.E: "absence of related exception classes" is
			// treated as success -- the failure is not this system's
			// concern to repair.
			return Outcome{Success: true, Env: env, Iterations: i + 1}, nil
		}
		if c.log != nil {
			c.log.LogTracef("iteration %d: validation failed, narrowing from classified log", i+1)
		}

		progressed, err := c.narrow(ctx, cls, env)
		if err != nil {
			return Outcome{}, err
		}
		if !progressed {
			if c.probeOlderMajorFamily(env) {
				if ok, _ := c.gen.AddPythonConstraint(ctx, olderMajorProbe()); ok {
					continue
				}
			}
			return Outcome{Success: false, Env: env, Iterations: i + 1}, nil
		}
	}

	return Outcome{Success: false, Iterations: c.maxIterations}, nil
}

// narrow implements spec §4.E's three-way branch on a classified log,
// returning whether a mutation was actually applied to the Generator's
// state.
func (c *Controller) narrow(ctx context.Context, cls errmatch.Classification, env *generator.CandidateEnvironment) (bool, error) {
	switch cls.Kind {
	case errmatch.KindSyntaxFeature:
		return c.narrowInterpreter(ctx, cls)
	default:
		if progressed, err := c.narrowFailedModules(ctx, cls); progressed || err != nil {
			return progressed, err
		}
		return c.narrowFromSnippet(ctx, cls)
	}
}

// narrowInterpreter re-runs interpreter discovery over an extracted
// language-syntax-feature snippet and narrows the interpreter candidates
// accordingly.
func (c *Controller) narrowInterpreter(ctx context.Context, cls errmatch.Classification) (bool, error) {
	if c.interpDiscovery == nil {
		return false, nil
	}
	spec, err := c.interpDiscovery.InterpretersSupporting(ctx, []string{cls.Snippet})
	if err != nil {
		return false, err
	}
	return c.gen.AddPythonConstraint(ctx, spec)
}

// narrowFailedModules implements spec §4.E's second branch: "examine the
// build log per failed package: if all installed packages for a top
// module failed, recurse on the sub-log with that package as parent."
// Each such package is treated as its own top module and re-discovered,
// with the original failing package recorded as its extra_deps parent so
// install ordering still reflects it being pulled in on that package's
// behalf.
func (c *Controller) narrowFailedModules(ctx context.Context, cls errmatch.Classification) (bool, error) {
	if c.discovery == nil || len(cls.FailedTopModules) == 0 {
		return false, nil
	}

	progressed := false
	for module, failed := range cls.FailedTopModules {
		installed := c.gen.State().InstalledModulePkgs[module]
		if len(installed) == 0 || len(failed) < len(installed) {
			continue
		}
		for _, pkg := range failed {
			candidates, err := c.discovery.CandidatesForModule(ctx, pkg, nil)
			if err != nil {
				return progressed, err
			}
			candidates = stripToMaxDegree(candidates)
			if len(candidates) == 0 {
				continue
			}
			newPV, newSim := toModuleCandidateMaps(pkg, candidates)
			if err := c.gen.AddPVConstraint(ctx, newPV, newSim, model.PackageName(pkg)); err != nil {
				return progressed, err
			}
			progressed = true
		}
	}
	return progressed, nil
}

// narrowFromSnippet implements spec §4.E's third branch: run third-party
// discovery on the synthetic snippet, strip all-but-max-degree
// candidates, resolve unknown modules by name similarity (handled inside
// Generator.selectPVsForModule), and add_pv_constraint.
func (c *Controller) narrowFromSnippet(ctx context.Context, cls errmatch.Classification) (bool, error) {
	if c.discovery == nil || cls.Snippet == "" {
		return false, nil
	}

	module := syntheticModuleName(cls.Snippet)
	candidates, err := c.discovery.CandidatesForModule(ctx, module, []string{cls.Snippet})
	if err != nil {
		return false, err
	}
	candidates = stripToMaxDegree(candidates)
	if len(candidates) == 0 {
		return false, nil
	}

	newPV, newSim := toModuleCandidateMaps(module, candidates)
	if err := c.gen.AddPVConstraint(ctx, newPV, newSim, ""); err != nil {
		return false, err
	}
	return true, nil
}

// syntheticModuleName takes the first dotted segment of an extracted
// snippet as its top module, matching the glossary's "top module: the
// first dotted segment of an import name".
func syntheticModuleName(snippet string) string {
	for i, r := range snippet {
		if r == '.' {
			return snippet[:i]
		}
	}
	return snippet
}

// stripToMaxDegree keeps only the candidates sharing the highest
// similarity score seen, per spec §4.E: "strip all-but-max-degree
// candidates".
func stripToMaxDegree(candidates []parsecontract.ModuleCandidate) []parsecontract.ModuleCandidate {
	if len(candidates) == 0 {
		return candidates
	}
	max := candidates[0].Similarity
	for _, c := range candidates[1:] {
		if c.Similarity > max {
			max = c.Similarity
		}
	}
	var out []parsecontract.ModuleCandidate
	for _, c := range candidates {
		if c.Similarity == max {
			out = append(out, c)
		}
	}
	return out
}

func toModuleCandidateMaps(module string, candidates []parsecontract.ModuleCandidate) (generator.PVCandidates, generator.Similarity) {
	pv := generator.PVCandidates{module: make(map[model.PackageName]model.CandidateVersionList)}
	sim := generator.Similarity{module: make(map[model.PackageName]float64)}
	for _, c := range candidates {
		pv[module][c.Package] = c.Versions
		sim[module][c.Package] = c.Similarity
	}
	return pv, sim
}

// probeOlderMajorFamily reports whether env's interpreter belongs to the
// newest major family among the Generator's remaining interpreter
// candidates, meaning there is an older major family left to probe (spec
// §4.E's final branch).
func (c *Controller) probeOlderMajorFamily(env *generator.CandidateEnvironment) bool {
	cur := env.Interpreter.Major()
	for _, v := range c.gen.State().InterpreterCandidates {
		if v.Major() < cur {
			return true
		}
	}
	return false
}

// olderMajorProbe is the literal "<3" constraint spec §4.E names for
// probing the pre-3.x interpreter family.
func olderMajorProbe() model.VersionSpecifierSet {
	spec, err := model.ParseVersionSpecifierSet("<3")
	if err != nil {
		return model.AnySpecifierSet()
	}
	return spec
}
