package log

import (
	"fmt"
	"io"
	"time"
)

// Logger is a minimal wrapper around an io.Writer, scoped to a named
// component. The versionstore, resolver, generator and adjustment
// components each get their own scoped Logger via With (the CLI hands
// them an unscoped root Logger), so a line in the combined stderr
// stream can always be traced back to the subsystem that emitted it
// without threading a component string through every call site.
type Logger struct {
	io.Writer
	component string
}

// New returns a root logger which writes to w, with no component scope.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// With returns a derived Logger that writes to the same underlying
// io.Writer but tags every line with component (e.g. "resolver",
// "generator"). Calling With on an already-scoped Logger replaces its
// component rather than nesting prefixes.
func (l *Logger) With(component string) *Logger {
	return &Logger{Writer: l.Writer, component: component}
}

// Logln logs a line, prefixed with the logger's timestamp and component
// scope if one was set via With.
func (l *Logger) Logln(args ...interface{}) {
	fmt.Fprint(l, l.prefix())
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string, prefixed the same way as Logln.
func (l *Logger) Logf(f string, args ...interface{}) {
	fmt.Fprint(l, l.prefix())
	fmt.Fprintf(l, f, args...)
}

// LogTracef logs a formatted, component-scoped diagnostic line, meant for
// the resolver's optional per-round trace output (spec §4.C) and the
// Adjustment Controller's per-iteration narrowing log (spec §4.E).
func (l *Logger) LogTracef(format string, args ...interface{}) {
	fmt.Fprint(l, l.prefix())
	fmt.Fprintf(l, format+"\n", args...)
}

// prefix renders "HH:MM:SS envinfer[component]: " (or "HH:MM:SS envinfer: "
// for an unscoped root logger).
func (l *Logger) prefix() string {
	stamp := time.Now().UTC().Format("15:04:05")
	if l.component == "" {
		return fmt.Sprintf("%s envinfer: ", stamp)
	}
	return fmt.Sprintf("%s envinfer[%s]: ", stamp, l.component)
}
