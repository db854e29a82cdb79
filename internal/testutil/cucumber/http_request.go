package cucumber

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/cucumber/godog"
)

// HeaderOwnerID mirrors the header the API uses to scope threads to an owner.
const HeaderOwnerID = "X-Owner-ID"

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the path prefix is "([^"]*)"$`, s.thePathPrefixIs)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" without an owner$`, s.sendHTTPRequestWithoutOwner)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
	})
}

func (s *TestScenario) thePathPrefixIs(prefix string) error {
	s.PathPrefix = prefix
	return nil
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

func (s *TestScenario) sendHTTPRequestWithoutOwner(method, path string) error {
	session := s.Session()
	saved := session.TestUser
	session.TestUser = nil
	defer func() { session.TestUser = saved }()
	return s.sendHTTPRequest(method, path)
}

// SendHTTPRequestWithJSONBody sends body (after ${} expansion) as the current
// user and records the response in the session.
func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, body *godog.DocString) error {
	session := s.Session()

	var payload []byte
	if body != nil {
		expanded, err := s.Expand(body.Content)
		if err != nil {
			return err
		}
		payload = []byte(expanded)
	}

	target, err := s.resolveURL(path)
	if err != nil {
		return err
	}

	session.Resp = nil
	session.SetRespBytes(nil)

	req, err := http.NewRequestWithContext(context.Background(), method, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	// Headers set by steps apply to the next request only.
	req.Header = session.Header
	session.Header = http.Header{}
	if req.Header.Get(HeaderOwnerID) == "" && session.TestUser != nil {
		req.Header.Set(HeaderOwnerID, session.TestUser.Name)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.Resp = resp
	session.SetRespBytes(data)
	return nil
}

func (s *TestScenario) resolveURL(path string) (string, error) {
	expanded, err := s.Expand(path)
	if err != nil {
		return "", err
	}
	if u, err := url.Parse(expanded); err == nil && u.Scheme != "" {
		return expanded, nil
	}
	return s.Suite.APIURL + s.PathPrefix + expanded, nil
}

// Do sends a one-off request as owner without touching session state. It is
// safe for concurrent use.
func (s *TestScenario) Do(method, path, owner string, body []byte) (int, []byte, error) {
	target, err := s.resolveURL(path)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(context.Background(), method, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(HeaderOwnerID, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}
