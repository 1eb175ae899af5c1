// Package errmatch declares the error-log template matcher external
// collaborator (spec §1): it classifies a sandbox validation failure log
// and extracts a synthetic import/syntax snippet the Adjustment
// Controller can feed back through the source parser.
package errmatch

import "context"

// RelatedExceptions are the exception classes spec §4.E treats as
// "related to environment inference" -- their presence in a failure log
// is what distinguishes a repairable environment problem from an
// unrelated program bug.
var RelatedExceptions = []string{"ImportError", "ModuleNotFoundError", "SyntaxError", "AttributeError"}

// FailureKind distinguishes the two narrowing paths spec §4.E drives from
// a classified log: a language-syntax-feature mismatch narrows the
// interpreter candidates, anything else narrows package candidates.
type FailureKind int

const (
	// KindUnrelated means the log carries none of RelatedExceptions; the
	// Adjustment Controller should report success (an unrelated program
	// failure is not this system's concern) rather than keep adjusting.
	KindUnrelated FailureKind = iota
	// KindSyntaxFeature means the extracted snippet is a language-syntax
	// feature (spec: "re-run interpreter discovery over them").
	KindSyntaxFeature
	// KindMissingPackage means the extracted snippet is an import/attribute
	// reference the environment failed to satisfy.
	KindMissingPackage
)

// Classification is the matcher's structured output.
type Classification struct {
	Kind FailureKind

	// Snippet is the synthetic import/syntax fragment extracted from the
	// log, meant to be re-run through the source parser to recover an
	// import/syntax signature (spec §4.E).
	Snippet string

	// FailedTopModules lists, per top module, the packages that were
	// installed for it but failed at build or run time, letting the
	// Adjustment Controller detect "all installed packages for a module
	// failed" (spec §4.E's second narrowing branch).
	FailedTopModules map[string][]string
}

// Matcher classifies a sandbox Result's log text.
type Matcher interface {
	Classify(ctx context.Context, log string) (Classification, error)
}
