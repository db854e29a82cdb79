package cucumber

import (
	"fmt"
	"reflect"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pmezard/go-difflib/difflib"
)

// JSONMustMatch fails unless actual and the (expanded) expected document are
// structurally equal.
func (s *TestScenario) JSONMustMatch(actual, expected string, expand bool) error {
	got, want, err := s.parsePair(actual, expected, expand)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("actual does not match expected, diff:\n%s", jsonDiff(want, got))
	}
	return nil
}

// JSONMustContain fails unless every field of expected is present in actual
// with the same value. Arrays must have equal length.
func (s *TestScenario) JSONMustContain(actual, expected string, expand bool) error {
	got, want, err := s.parsePair(actual, expected, expand)
	if err != nil {
		return err
	}
	if err := jsonSubset(want, got, "$"); err != nil {
		return fmt.Errorf("actual does not contain expected: %w\ndiff:\n%s", err, jsonDiff(want, got))
	}
	return nil
}

func (s *TestScenario) parsePair(actual, expected string, expand bool) (got, want interface{}, err error) {
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		return nil, nil, fmt.Errorf("actual is not json: %w\n%s", err, actual)
	}
	if expand {
		if expected, err = s.Expand(expected); err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(expected) == "" {
		return nil, nil, fmt.Errorf("no expected json given, actual was:\n%s", indent(got))
	}
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		return nil, nil, fmt.Errorf("expected is not json: %w\n%s", err, expected)
	}
	return got, want, nil
}

func jsonSubset(want, got interface{}, at string) error {
	switch w := want.(type) {
	case map[string]interface{}:
		g, ok := got.(map[string]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", at, got)
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok {
				return fmt.Errorf("at %s: missing key %q", at, k)
			}
			if err := jsonSubset(wv, gv, at+"."+k); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		g, ok := got.([]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", at, got)
		}
		if len(w) != len(g) {
			return fmt.Errorf("at %s: expected %d elements, got %d", at, len(w), len(g))
		}
		for i := range w {
			if err := jsonSubset(w[i], g[i], fmt.Sprintf("%s[%d]", at, i)); err != nil {
				return err
			}
		}
		return nil
	default:
		if !reflect.DeepEqual(want, got) {
			return fmt.Errorf("at %s: expected %v, got %v", at, want, got)
		}
		return nil
	}
}

func indent(v interface{}) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

func jsonDiff(want, got interface{}) string {
	return textDiff(indent(want), indent(got))
}

func textDiff(want, got string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}
