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

// TestingT is the part of testing.T the asserters report through.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

var (
	ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
	columnGap    = regexp.MustCompile(` {2,}`)
)

// TextAssertOptions tunes how rendered CLI output is compared.
//
// CollapseColumns folds every run of two or more spaces into a single tab, so tables compare
// equal regardless of the column widths tabwriter picked.
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	StripANSI                bool `default:"true"`
	CollapseColumns          bool `default:"false"`
	EnableColors             bool `default:"false"`
}

// TextOption configures a TextAsserter.
type TextOption func(*TextAssertOptions)

// WithIgnoreEmptyLines drops blank lines before comparing.
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = ignore }
}

// WithCollapseColumns compares tables by cell content only.
func WithCollapseColumns(collapse bool) TextOption {
	return func(o *TextAssertOptions) { o.CollapseColumns = collapse }
}

// WithStripANSI controls whether terminal escape sequences are removed from both sides.
func WithStripANSI(strip bool) TextOption {
	return func(o *TextAssertOptions) { o.StripANSI = strip }
}

// WithEnableColors colours the reported diff.
func WithEnableColors(enable bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = enable }
}

// TextAsserter compares CLI output and reports a unified diff on mismatch.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with the default options.
func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	options := TextAssertOptions{}
	defaults.SetDefaults(&options)
	for _, opt := range opts {
		opt(&options)
	}
	return &TextAsserter{t: t, options: options}
}

// Options returns a copy of the active options.
func (ta *TextAsserter) Options() TextAssertOptions {
	return ta.options
}

// Assert reports a failure on ta's TestingT when actual differs from expected.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	if diff := ta.Diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed:\n%s", diff)
		return false
	}
	return true
}

// Diff returns the unified diff from expected to actual after normalization, or "" when
// they match.
func (ta *TextAsserter) Diff(actual, expected string) string {
	want, got := ta.normalize(expected), ta.normalize(actual)
	if want == got {
		return ""
	}
	edits := myers.ComputeEdits("", want, got)
	return ta.colorize(fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits)))
}

func (ta *TextAsserter) normalize(text string) string {
	o := ta.options
	if o.StripANSI {
		text = ansiSequence.ReplaceAllString(text, "")
	}
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if o.IgnoreTrailingWhitespace || o.CollapseColumns {
			line = strings.TrimRight(line, " \t")
		}
		if o.CollapseColumns {
			line = columnGap.ReplaceAllString(strings.ReplaceAll(line, "\t", "  "), "\t")
		}
		if o.IgnoreEmptyLines && line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}
	header, removed, added := color.New(color.FgCyan), color.New(color.FgRed), color.New(color.FgGreen)
	for _, c := range []*color.Color{header, removed, added} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = header.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removed.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+"):
			lines[i] = added.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}
