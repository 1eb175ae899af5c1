package errmatch

import (
	"context"
	"regexp"
	"strings"
)

// missingModulePattern matches CPython's two historical spellings of a
// failed top-level import.
var missingModulePattern = regexp.MustCompile(`(?:No module named '?([\w.]+)'?|ImportError: cannot import name '([\w.]+)')`)

// syntaxErrorPattern matches a SyntaxError traceback line naming the
// offending construct, when the interpreter's own message includes one
// (e.g. "SyntaxError: invalid syntax (f-strings require 3.6+)" is not
// standard CPython text, so this is a best-effort extraction of whatever
// token follows the colon).
var syntaxErrorPattern = regexp.MustCompile(`SyntaxError: (.+)`)

// RegexMatcher is the default Matcher: it scans a validation log line by
// line for the exception classes named in RelatedExceptions, classifying
// the first related line it finds. It is a line-oriented heuristic, not a
// template-matching system; spec §1 scopes the latter out as an external
// collaborator this package only states the contract for.
type RegexMatcher struct{}

func (RegexMatcher) Classify(ctx context.Context, log string) (Classification, error) {
	lines := strings.Split(log, "\n")
	for _, line := range lines {
		if !containsAny(line, RelatedExceptions) {
			continue
		}

		if m := missingModulePattern.FindStringSubmatch(line); m != nil {
			module := m[1]
			if module == "" {
				module = m[2]
			}
			return Classification{Kind: KindMissingPackage, Snippet: module}, nil
		}

		if strings.Contains(line, "SyntaxError") {
			snippet := line
			if m := syntaxErrorPattern.FindStringSubmatch(line); m != nil {
				snippet = strings.TrimSpace(m[1])
			}
			return Classification{Kind: KindSyntaxFeature, Snippet: snippet}, nil
		}

		// AttributeError and other related-but-unpatterned lines: no
		// snippet to extract, but still a "missing package" class of
		// failure the general narrowing branch should attempt.
		return Classification{Kind: KindMissingPackage}, nil
	}
	return Classification{Kind: KindUnrelated}, nil
}

func containsAny(line string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(line, n) {
			return true
		}
	}
	return false
}
