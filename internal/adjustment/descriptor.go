package adjustment

import (
	"fmt"
	"strings"

	"github.com/sdboyer/envinfer/internal/generator"
)

// RenderDescriptor renders the primary output artifact of spec §6: a
// textual Dockerfile-shaped recipe naming the interpreter image, an
// installer self-upgrade, one RUN line per requirement in topological
// order, and a trailing marker comment for the caller to fill in the
// program's execution commands.
func RenderDescriptor(env *generator.CandidateEnvironment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM python:%s\n", env.Interpreter)
	b.WriteString("RUN pip install --upgrade pip\n")
	for _, pair := range env.InstallPairs {
		fmt.Fprintf(&b, "RUN pip install %s==%s\n", pair.Name, pair.Version)
	}
	b.WriteString("# Please complete the execution commands\n")
	return b.String()
}
