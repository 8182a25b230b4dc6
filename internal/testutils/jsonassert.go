package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value under the
// same key.
const PresencePlaceholder = "<<PRESENCE>>"

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions controls how actual JSON is reduced before comparing.
type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a
// gojsondiff listing.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options.
func NewJSONAsserter(t TestingT, opts ...Option) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Options returns a copy of the current options.
func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert reports a diff through t when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", d)
		return false
	}
	return true
}

// AssertValue marshals v and compares it with expectedJSON.
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) bool {
	return ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns "" when the documents match, otherwise a readable listing.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := expected.([]any); ok {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	ja.reduce(expected, actual)

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)
	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// reduce walks both documents together, applying every option in place.
func (ja *JSONAsserter) reduce(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for _, f := range ja.options.IgnoredFields {
			delete(exp, f)
			delete(act, f)
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, ok := exp[k]; !ok {
					delete(act, k)
				}
			}
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder && ja.options.AllowPresencePlaceholder {
				if av, present := act[k]; present {
					exp[k] = av
				}
				continue
			}
			ja.reduce(v, act[k])
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				ja.reduce(exp[i], act[i])
			}
		}
	}
}

// WithIgnoreExtraKeys sets whether keys missing from expected are ignored
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithAllowPresencePlaceholder sets whether PresencePlaceholder is honored
func WithAllowPresencePlaceholder(allow bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = allow }
}

// WithIgnoredFields drops the named keys at every level of both documents
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}
