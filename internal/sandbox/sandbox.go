// Package sandbox declares the sandbox-validator external collaborator
// (spec §1): it builds and runs an environment image and returns
// structured logs. The build/run machinery itself is out of scope here;
// this package states the contract the Adjustment Controller drives.
package sandbox

import "context"

// Settings is the decoded form of the --setting JSON file (spec §6):
// required keys dockerfile_dir, source_name, cmd, and an optional
// extra_cmd list. A zero Settings (no dockerfile_dir) means validation is
// disabled for the run.
type Settings struct {
	DockerfileDir string   `json:"dockerfile_dir"`
	SourceName    string   `json:"source_name"`
	Cmd           []string `json:"cmd"`
	ExtraCmd      []string `json:"extra_cmd,omitempty"`
}

// Enabled reports whether settings carries everything validation needs
// (spec §6: "missing any required key disables validation").
func (s Settings) Enabled() bool {
	return s.DockerfileDir != "" && s.SourceName != "" && len(s.Cmd) > 0
}

// Result is the structured outcome of one validation attempt: the
// process exit status and the combined build+run log text the error-log
// template matcher classifies.
type Result struct {
	ExitCode int
	Log      string
}

// Succeeded reports whether the validation attempt needs no further
// repair (spec §4.E: "zero exit status... return success").
func (r Result) Succeeded() bool { return r.ExitCode == 0 }

// Validator builds and runs an environment image described by a
// descriptor (spec §6's FROM/RUN recipe) against settings, returning the
// structured result. Implementations may perform network and filesystem
// I/O and should be assumed blocking (spec §5).
type Validator interface {
	Validate(ctx context.Context, descriptor string, settings Settings) (Result, error)
}
