package cucumber

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/itchyny/gojq"
)

// Expand replaces every ${expr} in value with the resolved expression.
func (s *TestScenario) Expand(value string) (string, error) {
	var firstErr error
	out := os.Expand(value, func(expr string) string {
		res, err := s.ResolveString(expr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return res
	})
	return out, firstErr
}

func (s *TestScenario) ResolveString(expr string) (string, error) {
	value, err := s.Resolve(expr)
	if err != nil {
		return "", err
	}
	return formatValue(value)
}

// Resolve evaluates expr, a jq path rooted at a variable name or at
// "response", followed by optional "| pipe" stages.
func (s *TestScenario) Resolve(expr string) (interface{}, error) {
	stages := strings.Split(expr, "|")
	path := strings.TrimSpace(stages[0])

	root := path
	if i := strings.IndexAny(root, ".["); i >= 0 {
		root = root[:i]
	}

	input := map[string]interface{}{}
	if root == "response" {
		doc, err := s.Session().RespJSON()
		if err != nil {
			return nil, err
		}
		input[root] = doc
	} else {
		v, ok := s.Variables[root]
		if !ok {
			return nil, fmt.Errorf("variable ${%s} not defined yet", root)
		}
		input[root] = v
	}

	value, err := selectOne("."+path, input)
	if err != nil {
		return nil, err
	}
	for _, stage := range stages[1:] {
		fn, ok := pipes[strings.TrimSpace(stage)]
		if !ok {
			return nil, fmt.Errorf("unknown pipe: %s", strings.TrimSpace(stage))
		}
		if value, err = fn(value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

var pipes = map[string]func(interface{}) (interface{}, error){
	"json": func(v interface{}) (interface{}, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		return string(data), err
	},
	"string": func(v interface{}) (interface{}, error) {
		return fmt.Sprintf("%v", v), nil
	},
}

// selectOne returns the first result of the jq selector against input.
// Bare field names are treated as ".name".
func selectOne(selector string, input interface{}) (interface{}, error) {
	if !strings.HasPrefix(selector, ".") && !strings.HasPrefix(selector, "[") {
		selector = "." + selector
	}
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	v, ok := query.Run(input).Next()
	if !ok {
		return nil, fmt.Errorf("selector %q matched nothing", selector)
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	return v, nil
}

func formatValue(v interface{}) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
