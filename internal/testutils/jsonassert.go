//go:build test

package testutils

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// AnyValue in expected JSON matches any actual value as long as the key is present.
const AnyValue = "<<ANY>>"

// TestingT is the part of testing.T the asserters report to.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// JSONAssertOptions tune how expected and actual JSON are compared.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys that expected does not mention.
	IgnoreExtraKeys bool `default:"true"`
	// NullAsEmpty treats null and [] as equal.
	NullAsEmpty bool `default:"true"`
	// IgnoreArrayOrder compares arrays as multisets.
	IgnoreArrayOrder bool `default:"false"`
	// IgnoredFields are removed at every depth on both sides.
	IgnoredFields []string
}

// JSONOption changes one JSONAssertOptions field.
type JSONOption func(*JSONAssertOptions)

func WithIgnoreExtraKeys(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = v }
}

func WithNullAsEmpty(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.NullAsEmpty = v }
}

func WithIgnoreArrayOrder(v bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = v }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares command output against expected JSON and reports a
// readable diff on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates an asserter with default options.
func NewJSONAsserter(t TestingT) *JSONAsserter {
	a := &JSONAsserter{t: t}
	defaults.SetDefaults(&a.options)
	return a
}

// WithOptions applies opts and returns the asserter.
func (a *JSONAsserter) WithOptions(opts ...JSONOption) *JSONAsserter {
	for _, opt := range opts {
		opt(&a.options)
	}
	return a
}

// Options returns the effective options.
func (a *JSONAsserter) Options() JSONAssertOptions {
	return a.options
}

// Assert fails the test when actualJSON does not match expectedJSON.
func (a *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	a.t.Helper()
	if d := a.Diff(actualJSON, expectedJSON); d != "" {
		a.t.Errorf("JSON mismatch:\n%s", d)
		return false
	}
	return true
}

// AssertValue marshals v and compares it against expectedJSON.
func (a *JSONAsserter) AssertValue(v any, expectedJSON string) bool {
	a.t.Helper()
	return a.Assert(MustJSON(v), expectedJSON)
}

// AssertLines compares JSON-lines output as one array, one element per non-empty line.
func (a *JSONAsserter) AssertLines(actualLines, expectedJSON string) bool {
	a.t.Helper()
	var items []json.RawMessage
	sc := bufio.NewScanner(strings.NewReader(actualLines))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			a.t.Errorf("invalid JSON line: %s", line)
			return false
		}
		items = append(items, json.RawMessage(line))
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return a.Assert(MustJSON(items), expectedJSON)
}

// Diff returns a textual diff, or "" when the documents match.
func (a *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v\n%s", err, actualJSON)
	}

	// Fields are stripped before sorting so they cannot change the order.
	strip(expected, a.options.IgnoredFields)
	strip(actual, a.options.IgnoredFields)
	if a.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	expected, actual = a.reconcile(expected, actual)

	// gojsondiff compares objects only.
	left := map[string]any{"$": expected}
	right := map[string]any{"$": actual}
	d := gojsondiff.New().CompareObjects(left, right)
	if !d.Modified() {
		return ""
	}
	out, err := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(d)
	if err != nil {
		return fmt.Sprintf("failed to format diff: %v", err)
	}
	return out
}

// reconcile walks both documents together and applies the options,
// returning the values to compare.
func (a *JSONAsserter) reconcile(exp, act any) (any, any) {
	if s, ok := exp.(string); ok && s == AnyValue {
		return act, act
	}
	if a.options.NullAsEmpty && isEmptyOrNull(exp) && isEmptyOrNull(act) {
		return []any{}, []any{}
	}

	switch e := exp.(type) {
	case map[string]any:
		m, ok := act.(map[string]any)
		if !ok {
			return exp, act
		}
		for k, v := range m {
			ev, present := e[k]
			if !present {
				if a.options.IgnoreExtraKeys {
					delete(m, k)
				}
				continue
			}
			e[k], m[k] = a.reconcile(ev, v)
		}
		if a.options.NullAsEmpty {
			for k, ev := range e {
				if _, present := m[k]; !present && isEmptyOrNull(ev) {
					delete(e, k)
				}
			}
		}
	case []any:
		l, ok := act.([]any)
		if !ok {
			return exp, act
		}
		for i := range e {
			if i < len(l) {
				e[i], l[i] = a.reconcile(e[i], l[i])
			}
		}
	}
	return exp, act
}

func isEmptyOrNull(v any) bool {
	if v == nil {
		return true
	}
	l, ok := v.([]any)
	return ok && len(l) == 0
}

// strip removes fields from every object in v.
func strip(v any, fields []string) {
	if len(fields) == 0 {
		return
	}
	switch x := v.(type) {
	case map[string]any:
		for _, f := range fields {
			delete(x, f)
		}
		for _, child := range x {
			strip(child, fields)
		}
	case []any:
		for _, child := range x {
			strip(child, fields)
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements.
func sortArrays(v any) {
	switch x := v.(type) {
	case map[string]any:
		for _, child := range x {
			sortArrays(child)
		}
	case []any:
		for _, child := range x {
			sortArrays(child)
		}
		sort.SliceStable(x, func(i, j int) bool {
			return MustJSON(x[i]) < MustJSON(x[j])
		})
	}
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
