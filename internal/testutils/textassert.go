package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAssertOptions controls how CLI output is normalized before comparing.
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares multi-line text and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options.
func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, options: o}
}

// Options returns a copy of the current options.
func (ta *TextAsserter) Options() TextAssertOptions {
	return ta.options
}

// Assert reports a diff through t when actual differs from expected.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	if d := ta.Diff(actual, expected); d != "" {
		ta.t.Errorf("Text assertion failed - unified diff:\n%s", d)
		return false
	}
	return true
}

// Diff returns the unified diff from expected to actual after
// normalization, or "" when they match.
func (ta *TextAsserter) Diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !ta.options.EnableColors {
		return unified
	}
	return colorize(unified)
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// colorize paints a unified diff; changed lines show whitespace as · and →.
func colorize(diff string) string {
	header := color.New(color.FgYellow)
	hunk := color.New(color.FgCyan)
	removed := color.New(color.FgRed)
	added := color.New(color.FgGreen)
	for _, c := range []*color.Color{header, hunk, removed, added} {
		c.EnableColor()
	}
	visible := strings.NewReplacer(" ", "·", "\t", "→")

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			lines[i] = header.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunk.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removed.Sprint(visible.Replace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = added.Sprint(visible.Replace(line))
		}
	}
	return strings.Join(lines, "\n")
}

// WithTrimSpace sets whether the whole text is trimmed
func WithTrimSpace(trim bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = trim }
}

// WithIgnoreTrailingWhitespace sets whether trailing whitespace on each line is ignored
func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = ignore }
}

// WithIgnoreEmptyLines sets whether blank lines are dropped
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = ignore }
}

// WithEnableColors sets whether the diff is colored
func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = enable }
}
