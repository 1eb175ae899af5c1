package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/sdboyer/envinfer/internal/adjustment"
	"github.com/sdboyer/envinfer/internal/errmatch"
	"github.com/sdboyer/envinfer/internal/generator"
	"github.com/sdboyer/envinfer/internal/kgfile"
	"github.com/sdboyer/envinfer/internal/model"
	"github.com/sdboyer/envinfer/internal/parsecontract"
	"github.com/sdboyer/envinfer/internal/resolver"
	"github.com/sdboyer/envinfer/internal/sandbox"
	"github.com/sdboyer/envinfer/internal/versionstore"
	golog "github.com/sdboyer/envinfer/log"
)

// command mirrors golang-dep's cmd.go command interface, collapsed to the
// single subcommand spec.md describes; kept as an interface so a second
// subcommand (e.g. a future "explain" or "cache-clear") drops in without
// restructuring main's dispatch.
type command interface {
	Name() string
	Args() string
	ShortHelp() string
	Register(*flag.FlagSet)
	Run([]string) error
}

// inferCommand implements spec §6's command-line contract.
type inferCommand struct {
	langdir string
	program string
	setting string
	output  string
	env     string
}

func (c *inferCommand) Name() string      { return "infer" }
func (c *inferCommand) Args() string      { return "--langdir <dir> --program <path> [--setting <path>] [--output <path>] [--env <path>]" }
func (c *inferCommand) ShortHelp() string { return "Infer a runnable runtime environment for a program" }

func (c *inferCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.langdir, "langdir", "", "path to the language's knowledge-graph snapshot directory (required)")
	fs.StringVar(&c.program, "program", "", "path to the program's source tree (required)")
	fs.StringVar(&c.setting, "setting", "", "path to a JSON validation settings file (optional)")
	fs.StringVar(&c.output, "output", "", "path to write the environment descriptor (default: stdout)")
	fs.StringVar(&c.env, "env", "", "path to a JSON existing-environment file to preserve (optional)")
}

// missingRequiredArgs implements spec §6's "exit -1 on missing required
// arguments" contract.
func (c *inferCommand) missingRequiredArgs() bool {
	return c.langdir == "" || c.program == ""
}

func (c *inferCommand) Run(args []string) error {
	tunables := loadTunables()
	log := golog.New(os.Stderr)

	graph, err := kgfile.Load(c.langdir)
	if err != nil {
		return errors.Wrap(err, "loading knowledge graph")
	}

	settings, err := loadSettings(c.setting)
	if err != nil {
		return err
	}
	existingEnv, err := loadExistingEnv(c.env)
	if err != nil {
		return err
	}

	ctx := context.Background()

	programDir, err := parsecontract.ProgramRoot(c.program)
	if err != nil {
		return errors.Wrap(err, "resolving program path")
	}
	imports, err := parsecontract.LineScanParser{}.Parse(ctx, programDir)
	if err != nil {
		return errors.Wrap(err, "parsing program source")
	}

	storeOpts := append([]versionstore.Option{versionstore.WithLogger(log)}, maybeResidentCacheOption(tunables)...)
	store := versionstore.New(graph, storeOpts...)
	defer store.Close()

	res := resolver.New(store, graph, resolver.WithLogger(log))
	discovery := parsecontract.KGDiscovery{Graph: graph}
	interpDiscovery := parsecontract.StdlibInterpreterDiscovery{Graph: graph}

	gen := generator.New(store, res, discovery, generator.WithLogger(log))

	interps, err := graph.AllInterpreterReleases(ctx)
	if err != nil {
		return errors.Wrap(err, "loading interpreter releases")
	}

	pv, sim, err := candidatesForImports(ctx, discovery, imports)
	if err != nil {
		return errors.Wrap(err, "discovering module candidates")
	}

	if !gen.SetCandidates(interps, pv, sim, existingEnv) {
		return errors.New("existing environment's interpreter is not among the known releases")
	}
	for _, m := range imports.TopModules {
		if err := gen.SelectModule(ctx, m); err != nil {
			return errors.Wrapf(err, "selecting candidates for module %s", m)
		}
	}

	ctrl := adjustment.New(gen, validatorFor(settings), matcherFor(), discovery, interpDiscovery,
		adjustment.WithMaxIterations(tunables.MaxIterations), adjustment.WithLogger(log))

	outcome, err := ctrl.Run(ctx, settings)
	if err != nil {
		return errors.Wrap(err, "running adjustment loop")
	}
	if !outcome.Success || outcome.Env == nil {
		return fmt.Errorf("Fail to infer runtime environment for %s", c.program)
	}

	return writeDescriptor(c.output, adjustment.RenderDescriptor(outcome.Env))
}

func candidatesForImports(ctx context.Context, discovery parsecontract.Discovery, imports parsecontract.ImportSet) (generator.PVCandidates, generator.Similarity, error) {
	pv := make(generator.PVCandidates, len(imports.TopModules))
	sim := make(generator.Similarity, len(imports.TopModules))
	for _, m := range imports.TopModules {
		candidates, err := discovery.CandidatesForModule(ctx, m, imports.Attributes[m])
		if err != nil {
			return nil, nil, err
		}
		pkgs := make(map[model.PackageName]model.CandidateVersionList, len(candidates))
		scores := make(map[model.PackageName]float64, len(candidates))
		for _, c := range candidates {
			pkgs[c.Package] = c.Versions
			scores[c.Package] = c.Similarity
		}
		pv[m] = pkgs
		sim[m] = scores
	}
	return pv, sim, nil
}

func loadSettings(path string) (sandbox.Settings, error) {
	if path == "" {
		return sandbox.Settings{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return sandbox.Settings{}, errors.Wrap(err, "reading validation settings")
	}
	var s sandbox.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return sandbox.Settings{}, errors.Wrap(err, "decoding validation settings")
	}
	return s, nil
}

// loadExistingEnv decodes the array [interpreter_version, {package:
// version, ...}] grammar from spec §6.
func loadExistingEnv(path string) (*generator.ExistingEnv, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading existing environment")
	}
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding existing environment")
	}
	var interpRaw string
	if err := json.Unmarshal(raw[0], &interpRaw); err != nil {
		return nil, errors.Wrap(err, "decoding existing environment interpreter")
	}
	interp, err := model.ParseInterpreterVersion(interpRaw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing existing environment interpreter")
	}
	var pkgsRaw map[string]string
	if err := json.Unmarshal(raw[1], &pkgsRaw); err != nil {
		return nil, errors.Wrap(err, "decoding existing environment packages")
	}
	pkgs := make(map[model.PackageName]model.Version, len(pkgsRaw))
	for name, v := range pkgsRaw {
		version, err := model.ParseVersion(v)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing existing environment package %s", name)
		}
		pkgs[model.Canonicalize(name)] = version
	}
	return &generator.ExistingEnv{Interpreter: interp, Packages: pkgs}, nil
}

func writeDescriptor(path, text string) error {
	if path == "" {
		_, err := fmt.Fprint(os.Stdout, text)
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// noopValidator is wired only when settings are disabled, in which case
// adjustment.Controller.Run never calls Validate at all; it exists purely
// to satisfy the constructor's required sandbox.Validator argument.
type noopValidator struct{}

func (noopValidator) Validate(ctx context.Context, descriptor string, settings sandbox.Settings) (sandbox.Result, error) {
	return sandbox.Result{ExitCode: 0}, nil
}

func validatorFor(settings sandbox.Settings) sandbox.Validator {
	if !settings.Enabled() {
		return noopValidator{}
	}
	return sandbox.DockerValidator{}
}

func matcherFor() errmatch.Matcher { return errmatch.RegexMatcher{} }

// tunablesFile is the optional envinfer.toml path checked relative to the
// working directory, mirroring golang-dep's manifest.json discovery.
const tunablesFile = "envinfer.toml"

// loadTunables reads envinfer.toml the way golang-dep's toml.go reads
// manifest.json's TOML predecessor: via a *toml.TomlTree and per-key
// GetDefault lookups, rather than a reflection-based Unmarshal (go-toml
// v1.2.0 does not export one).
func loadTunables() adjustment.Tunables {
	t := adjustment.DefaultTunables()
	data, err := os.ReadFile(tunablesFile)
	if err != nil {
		return t
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "envinfer: ignoring malformed %s: %v\n", tunablesFile, err)
		return t
	}
	if v, ok := tree.GetDefault("max_iterations", nil).(int64); ok {
		t.MaxIterations = int(v)
	}
	if v, ok := tree.GetDefault("resolve_max_rounds", nil).(int64); ok {
		t.ResolveMaxRounds = int(v)
	}
	if v, ok := tree.GetDefault("max_resident_cached_packages", nil).(int64); ok {
		t.MaxResidentCached = int(v)
	}
	return t
}

func maybeResidentCacheOption(t adjustment.Tunables) []versionstore.Option {
	if t.MaxResidentCached <= 0 {
		return nil
	}
	return []versionstore.Option{versionstore.WithMaxResidentPackages(t.MaxResidentCached)}
}
