package parsecontract

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/sdboyer/envinfer/internal/kg"
	"github.com/sdboyer/envinfer/internal/model"
)

// importLine matches "import x[, y]" and "from x import y" statements.
// It is a heuristic line scanner, not a real parser: spec §1 scopes
// source parsing out as an external collaborator, so this default exists
// only to make the command-line tool runnable end to end on well-behaved
// source without requiring a caller to supply their own Parser.
var importLine = regexp.MustCompile(`^\s*(?:import\s+([\w.]+)|from\s+([\w.]+)\s+import)`)

// syntaxFeaturePatterns maps a regexp to the syntax-feature name it
// signals when matched, used to populate ImportSet.SyntaxFeatures.
var syntaxFeaturePatterns = []struct {
	re      *regexp.Regexp
	feature string
}{
	{regexp.MustCompile(`:=\s*walrus|:=`), "walrus-operator"},
	{regexp.MustCompile(`\basync\s+def\b`), "async-def"},
	{regexp.MustCompile(`\bmatch\s+.+:\s*$`), "match-statement"},
	{regexp.MustCompile(`f(['"])`), "f-string"},
}

// LineScanParser is the default Parser: a regex-based import and
// syntax-feature scanner over every source file under a program
// directory.
type LineScanParser struct{}

// Parse walks programDir with godirwalk (the same walker
// internal/versionstore's disk cache uses) and extracts a best-effort
// ImportSet.
func (LineScanParser) Parse(ctx context.Context, programDir string) (ImportSet, error) {
	modules := make(map[string]struct{})
	attrs := make(map[string]map[string]struct{})
	features := make(map[string]struct{})

	err := godirwalk.Walk(programDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(path, ".py") {
				return nil
			}
			return scanFile(path, modules, attrs, features)
		},
		Unsorted: true,
	})
	if err != nil {
		return ImportSet{}, errors.Wrapf(err, "scanning %s", programDir)
	}

	out := ImportSet{Attributes: make(map[string][]string)}
	for m := range modules {
		out.TopModules = append(out.TopModules, m)
	}
	sort.Strings(out.TopModules)
	for m, set := range attrs {
		var a []string
		for path := range set {
			a = append(a, path)
		}
		sort.Strings(a)
		out.Attributes[m] = a
	}
	for f := range features {
		out.SyntaxFeatures = append(out.SyntaxFeatures, f)
	}
	sort.Strings(out.SyntaxFeatures)
	return out, nil
}

func scanFile(path string, modules map[string]struct{}, attrs map[string]map[string]struct{}, features map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := importLine.FindStringSubmatch(line); m != nil {
			dotted := m[1]
			if dotted == "" {
				dotted = m[2]
			}
			top := dotted
			if i := strings.IndexByte(dotted, '.'); i >= 0 {
				top = dotted[:i]
			}
			modules[top] = struct{}{}
			if attrs[top] == nil {
				attrs[top] = make(map[string]struct{})
			}
			attrs[top][dotted] = struct{}{}
		}
		for _, p := range syntaxFeaturePatterns {
			if p.re.MatchString(line) {
				features[p.feature] = struct{}{}
			}
		}
	}
	return scanner.Err()
}

// KGDiscovery is the default Discovery: it resolves top modules and
// similarity queries directly against a kg.Graph. Module candidates are
// scored by module-node membership alone: every package version listed
// under the module node gets matching degree and similarity 1.0, and the
// program's observed attribute paths are not compared.
type KGDiscovery struct {
	Graph kg.Graph
}

// CandidatesForModule implements Discovery.CandidatesForModule by looking
// up topModule as a KG module node id and building one ModuleCandidate per
// matching package, carrying all of that package's matching versions.
func (d KGDiscovery) CandidatesForModule(ctx context.Context, topModule string, observed []string) ([]ModuleCandidate, error) {
	refs, err := d.Graph.PackagesForModule(ctx, topModule)
	if err != nil {
		return nil, err
	}
	return refsToCandidates(refs, 1.0), nil
}

// SimilarPackages implements Discovery.SimilarPackages by canonical-name
// matching against every known package: an exact match scores 1.0 and a
// package named "<module>-..." scores 0.6. It is a conservative fallback
// when module-attribute lookup found nothing.
func (d KGDiscovery) SimilarPackages(ctx context.Context, topModule string) ([]ModuleCandidate, error) {
	all, err := d.Graph.AllPackages(ctx)
	if err != nil {
		return nil, err
	}
	target := model.Canonicalize(topModule)
	var matches []model.PackageName
	for _, p := range all {
		if p == target || strings.HasPrefix(string(p), string(target)+"-") {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var out []ModuleCandidate
	for _, p := range matches {
		pairs, err := d.Graph.VersionsWithConstraints(ctx, p)
		if err != nil {
			return nil, err
		}
		var cvl model.CandidateVersionList
		for _, pair := range pairs {
			degree := 1.0
			if p != target {
				degree = 0.6
			}
			cvl = append(cvl, model.CandidateVersion{
				Version:               pair.Version,
				InterpreterConstraint: pair.Constraint,
				MatchingDegree:        degree,
			})
		}
		cvl.Sort()
		if len(cvl) > 0 {
			sim := 1.0
			if p != target {
				sim = 0.6
			}
			out = append(out, ModuleCandidate{Package: p, Versions: cvl, Similarity: sim})
		}
	}
	return out, nil
}

func refsToCandidates(refs []kg.PackageVersionRef, degree float64) []ModuleCandidate {
	byPackage := make(map[model.PackageName]model.CandidateVersionList)
	for _, r := range refs {
		byPackage[r.Package] = append(byPackage[r.Package], model.CandidateVersion{
			Version:        r.Version,
			MatchingDegree: degree,
		})
	}
	out := make([]ModuleCandidate, 0, len(byPackage))
	for p, cvl := range byPackage {
		cvl.Sort()
		out = append(out, ModuleCandidate{Package: p, Versions: cvl, Similarity: degree})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}

// StdlibInterpreterDiscovery is the default InterpreterDiscovery: it
// narrows to the interpreter releases whose stdlib module-attribute
// surface exposes every syntax-feature token, treated as a synthetic
// module attribute by convention ("syntax:<feature>"). If the graph
// records no such attributes, every known release is assumed to support
// the feature (a permissive default, since syntax-feature metadata is
// genuinely KG content this repository does not originate).
type StdlibInterpreterDiscovery struct {
	Graph kg.Graph
}

func (d StdlibInterpreterDiscovery) InterpretersSupporting(ctx context.Context, syntaxFeatures []string) (model.VersionSpecifierSet, error) {
	releases, err := d.Graph.AllInterpreterReleases(ctx)
	if err != nil {
		return model.AnySpecifierSet(), err
	}
	if len(releases) == 0 || len(syntaxFeatures) == 0 {
		return model.AnySpecifierSet(), nil
	}

	var supporting []model.InterpreterVersion
	for _, interp := range releases {
		attrs, err := d.Graph.ModuleAttributes(ctx, interp)
		if err != nil {
			return model.AnySpecifierSet(), err
		}
		exposed := make(map[string]struct{}, len(attrs))
		for _, a := range attrs {
			exposed[a.Path] = struct{}{}
		}
		if len(exposed) == 0 {
			supporting = append(supporting, interp)
			continue
		}
		ok := true
		for _, f := range syntaxFeatures {
			if _, has := exposed["syntax:"+f]; !has {
				ok = false
				break
			}
		}
		if ok {
			supporting = append(supporting, interp)
		}
	}
	if len(supporting) == 0 {
		return model.AnySpecifierSet(), nil
	}

	min := supporting[0]
	for _, v := range supporting[1:] {
		if v.Less(min) {
			min = v
		}
	}
	spec, err := model.ParseVersionSpecifierSet(">=" + min.String())
	if err != nil {
		return model.AnySpecifierSet(), nil
	}
	return spec, nil
}

// programRoot resolves a program path to the directory LineScanParser
// should walk (the program itself, if it is already a directory; its
// parent directory, if it names a single file).
func programRoot(program string) (string, error) {
	info, err := os.Stat(program)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return program, nil
	}
	return filepath.Dir(program), nil
}

// ProgramRoot exposes programRoot for the command-line tool.
func ProgramRoot(program string) (string, error) { return programRoot(program) }
