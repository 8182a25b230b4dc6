package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures Errorf calls so asserter failures can be checked.
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb", match: true},
		{name: "inner indentation kept", actual: "  a\n  b", expected: "a\nb", match: false},
		{name: "outer newlines trimmed", actual: "\na\nb\n", expected: "a\nb", match: true},
		{name: "trailing spaces ignored", actual: "a   \nb\t", expected: "a\nb", match: true},
		{
			name:     "trailing spaces significant",
			opts:     []TextOption{WithIgnoreTrailingWhitespace(false)},
			actual:   "a   \nb",
			expected: "a\nb",
			match:    false,
		},
		{
			name:     "empty lines dropped",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\n\nb",
			expected: "a\nb",
			match:    true,
		},
		{
			name:     "no trim",
			opts:     []TextOption{WithTrimSpace(false)},
			actual:   "a\n",
			expected: "a",
			match:    false,
		},
		{name: "different line", actual: "a\nc", expected: "a\nb", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewTextAsserter(t, tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, d)
			} else {
				assert.NotEmpty(t, d)
			}
		})
	}
}

func TestTextAsserter_Assert(t *testing.T) {
	rt := &recordingT{}
	ta := NewTextAsserter(rt)

	assert.True(t, ta.Assert("same", "same"))
	assert.Empty(t, rt.errors)

	assert.False(t, ta.Assert("line one\nline 2", "line one\nline two"))
	if assert.Len(t, rt.errors, 1) {
		assert.Contains(t, rt.errors[0], "-line two")
		assert.Contains(t, rt.errors[0], "+line 2")
		assert.Contains(t, rt.errors[0], "--- expected")
	}
}

func TestTextAsserter_Colors(t *testing.T) {
	d := NewTextAsserter(t, WithEnableColors(true)).Diff("a b", "a c")

	assert.Contains(t, d, "\x1b[", "colored diff MUST carry ANSI escapes")
	assert.Contains(t, d, "a·b", "changed lines MUST show spaces")
}
