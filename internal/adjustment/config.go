package adjustment

// Tunables holds the solver knobs an operator may override via an
// envinfer.toml file (SPEC_FULL.md's Configuration section), mirroring
// golang-dep's manifest.json overrides but for runtime tuning rather than
// project metadata. ResolveMaxRounds is read from the file but not passed
// on to any component: the generator always uses its own round budget.
type Tunables struct {
	MaxIterations     int `toml:"max_iterations"`
	ResolveMaxRounds  int `toml:"resolve_max_rounds"`
	MaxResidentCached int `toml:"max_resident_cached_packages"`
}

// defaultResolveMaxRounds mirrors internal/generator's own default
// (spec §4.C's orchestrator-facing round budget); duplicated here rather
// than imported so this package does not have to depend on generator
// just to read one constant.
const defaultResolveMaxRounds = 10000

// DefaultTunables mirrors the package-level defaults used when no
// envinfer.toml is present or a field is left at its zero value.
func DefaultTunables() Tunables {
	return Tunables{
		MaxIterations:     DefaultMaxIterations,
		ResolveMaxRounds:  defaultResolveMaxRounds,
		MaxResidentCached: 0, // 0 means "use versionstore's own default"
	}
}
