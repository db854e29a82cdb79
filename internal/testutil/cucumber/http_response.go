package cucumber

import (
	"fmt"
	"strings"

	"github.com/cucumber/godog"
	json "github.com/goccy/go-json"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSON)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSON)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionAs)
		ctx.Step(`^the "([^"]*)" selection from the response should match "([^"]*)"$`, s.theSelectionShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionShouldMatchJSON)
		ctx.Step(`^\${([^}]*)} is not empty$`, s.variableIsNotEmpty)
		ctx.Step(`^\${([^}]*)} should match "([^"]*)"$`, s.variableShouldMatch)
	})
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	session := s.Session()
	if session.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	if actual := session.Resp.StatusCode; actual != expected {
		return fmt.Errorf("expected response code %d, got %d, body: %s", expected, actual, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) responseBody() (string, error) {
	session := s.Session()
	if len(session.RespBytes) == 0 {
		return "", fmt.Errorf("the response body is empty, expected json")
	}
	return string(session.RespBytes), nil
}

func (s *TestScenario) theResponseShouldMatchJSON(expected *godog.DocString) error {
	body, err := s.responseBody()
	if err != nil {
		return err
	}
	return s.JSONMustMatch(body, expected.Content, true)
}

func (s *TestScenario) theResponseShouldContainJSON(expected *godog.DocString) error {
	body, err := s.responseBody()
	if err != nil {
		return err
	}
	return s.JSONMustContain(body, expected.Content, true)
}

func (s *TestScenario) theResponseShouldContain(text string) error {
	expanded, err := s.Expand(text)
	if err != nil {
		return err
	}
	if body := string(s.Session().RespBytes); !strings.Contains(body, expanded) {
		return fmt.Errorf("response does not contain %q: %s", expanded, body)
	}
	return nil
}

func (s *TestScenario) selectFromResponse(selector string) (interface{}, error) {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return nil, err
	}
	return selectOne(selector, doc)
}

func (s *TestScenario) iStoreTheSelectionAs(selector, name string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	s.Variables[name] = value
	return nil
}

func (s *TestScenario) theSelectionShouldMatch(selector, expected string) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	actual := "null"
	if value != nil {
		if actual, err = formatValue(value); err != nil {
			return err
		}
	}
	if actual != expected {
		return fmt.Errorf("selection %q: expected %q, got %q", selector, expected, actual)
	}
	return nil
}

func (s *TestScenario) theSelectionShouldMatchJSON(selector string, expected *godog.DocString) error {
	value, err := s.selectFromResponse(selector)
	if err != nil {
		return err
	}
	actual, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(actual), expected.Content, true)
}

func (s *TestScenario) variableIsNotEmpty(expr string) error {
	value, err := s.Resolve(expr)
	if err != nil {
		return err
	}
	if value == nil || value == "" {
		return fmt.Errorf("${%s} is empty", expr)
	}
	return nil
}

func (s *TestScenario) variableShouldMatch(expr, expected string) error {
	actual, err := s.ResolveString(expr)
	if err != nil {
		return err
	}
	if expected, err = s.Expand(expected); err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("${%s} does not match, diff:\n%s", expr, textDiff(expected, actual))
	}
	return nil
}
