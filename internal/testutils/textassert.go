//go:build test

package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// TextAssertOptions tune how command output is normalized before comparison.
type TextAssertOptions struct {
	// TrimTrailingSpace removes padding left by tabwriter at line ends.
	TrimTrailingSpace bool `default:"true"`
	// IgnoreEmptyLines drops blank lines on both sides.
	IgnoreEmptyLines bool `default:"false"`
	// StripANSI removes color escape sequences from actual.
	StripANSI bool `default:"true"`
	// Colorize renders the diff with colors.
	Colorize bool `default:"false"`
}

// TextOption changes one TextAssertOptions field.
type TextOption func(*TextAssertOptions)

func WithTrimTrailingSpace(v bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimTrailingSpace = v }
}

func WithIgnoreEmptyLines(v bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = v }
}

func WithStripANSI(v bool) TextOption {
	return func(o *TextAssertOptions) { o.StripANSI = v }
}

func WithColorize(v bool) TextOption {
	return func(o *TextAssertOptions) { o.Colorize = v }
}

// TextAsserter compares command output line by line and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates an asserter with default options.
func NewTextAsserter(t TestingT) *TextAsserter {
	a := &TextAsserter{t: t}
	defaults.SetDefaults(&a.options)
	return a
}

// WithOptions applies opts and returns the asserter.
func (a *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&a.options)
	}
	return a
}

// Options returns the effective options.
func (a *TextAsserter) Options() TextAssertOptions {
	return a.options
}

// Assert fails the test when actual differs from expected after normalization.
func (a *TextAsserter) Assert(actual, expected string) bool {
	a.t.Helper()
	if d := a.Diff(actual, expected); d != "" {
		a.t.Errorf("text mismatch:\n%s", d)
		return false
	}
	return true
}

// Diff returns a unified diff from expected to actual, or "" when they match.
func (a *TextAsserter) Diff(actual, expected string) string {
	if a.options.StripANSI {
		actual = ansiEscape.ReplaceAllString(actual, "")
	}
	want, got := a.normalize(expected), a.normalize(actual)
	if want == got {
		return ""
	}

	edits := myers.ComputeEdits("", want, got)
	diff := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits))
	if !a.options.Colorize {
		return diff
	}
	return colorize(diff)
}

func (a *TextAsserter) normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if a.options.TrimTrailingSpace {
			l = strings.TrimRight(l, " \t")
		}
		if a.options.IgnoreEmptyLines && strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
}

func colorize(diff string) string {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	hunk := color.New(color.FgCyan)
	added.EnableColor()
	removed.EnableColor()
	hunk.EnableColor()

	var b strings.Builder
	for _, l := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(l, "@@"):
			b.WriteString(hunk.Sprint(l))
		case strings.HasPrefix(l, "+"):
			b.WriteString(added.Sprint(l))
		case strings.HasPrefix(l, "-"):
			b.WriteString(removed.Sprint(l))
		default:
			b.WriteString(l)
		}
	}
	return b.String()
}
