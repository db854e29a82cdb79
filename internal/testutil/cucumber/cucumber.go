// Package cucumber runs godog feature files against a live HTTP server.
//
// Each scenario owns its variables. HTTP response state lives in a per-user
// session, and requests carry the current user as the X-Owner-ID header.
// Step text may reference ${name} placeholders, resolved as jq paths over the
// scenario variables or, for ${response...}, over the last JSON response.
package cucumber

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	json "github.com/goccy/go-json"
)

func NewTestSuite() *TestSuite {
	return &TestSuite{
		APIURL: "http://localhost:8080",
		Extra:  map[string]interface{}{},
	}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions switches opts to junit output written under
// GODOG_REPORT_DIR, when that variable is set. The returned func closes the
// report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestDB gives steps direct access to the backing store.
type TestDB interface {
	// ClearAll removes every thread and version record.
	ClearAll(ctx context.Context) error
	// ExecSQL runs a raw query. Backends without SQL return (nil, nil) and
	// the SQL assertions become no-ops.
	ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error)
}

// TestSuite is shared by every scenario of a run.
type TestSuite struct {
	Context  interface{}
	APIURL   string
	Mu       sync.Mutex
	TestingT *testing.T
	Extra    map[string]interface{}
	DB       TestDB
}

// TestUser is a document owner.
type TestUser struct {
	Name string
	Mu   sync.Mutex
}

// TestScenario is the state of one scenario. Steps of a scenario run
// sequentially, so it needs no locking of its own.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	PathPrefix  string
	Variables   map[string]interface{}
	Users       map[string]*TestUser
	sessions    map[string]*TestSession
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

func (s *TestScenario) User() *TestUser {
	s.Suite.Mu.Lock()
	defer s.Suite.Mu.Unlock()
	return s.Users[s.CurrentUser]
}

// Session returns the HTTP session of the current user, creating it on first use.
func (s *TestScenario) Session() *TestSession {
	if session, ok := s.sessions[s.CurrentUser]; ok {
		return session
	}
	session := &TestSession{
		TestUser: s.User(),
		Client:   &http.Client{Timeout: 30 * time.Second},
		Header:   http.Header{},
	}
	s.sessions[s.CurrentUser] = session
	return session
}

// TestSession is the HTTP state of one user.
type TestSession struct {
	TestUser  *TestUser
	Client    *http.Client
	Resp      *http.Response
	RespBytes []byte
	Header    http.Header
	respJSON  interface{}
}

// RespJSON decodes the last response body, caching the result.
func (s *TestSession) RespJSON() (interface{}, error) {
	if s.respJSON != nil {
		return s.respJSON, nil
	}
	if s.RespBytes == nil {
		return nil, fmt.Errorf("no response body")
	}
	if err := json.Unmarshal(s.RespBytes, &s.respJSON); err != nil {
		return nil, fmt.Errorf("response is not json: %w\n%s", err, s.RespBytes)
	}
	return s.respJSON, nil
}

// SetRespBytes replaces the response body that later assertions inspect.
func (s *TestSession) SetRespBytes(data []byte) {
	s.RespBytes = data
	s.respJSON = nil
}

// StepModules register step definitions for each new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Users:     map[string]*TestUser{},
		Variables: map[string]interface{}{},
		sessions:  map[string]*TestSession{},
	}
	for _, register := range StepModules {
		register(ctx, s)
	}
}
