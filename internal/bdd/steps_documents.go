package bdd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/chirino/resume-chat/internal/model"
	"github.com/chirino/resume-chat/internal/plugin/assistant/local"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		d := &documentSteps{s: s}
		ctx.Step(`^I have a new document stored as \${([^}]*)}$`, d.iHaveANewDocument)
		ctx.Step(`^I apply an edit to document "([^"]*)" with body:$`, d.iApplyAnEdit)
		ctx.Step(`^(\d+) concurrent edits are applied to document "([^"]*)" with body:$`, d.concurrentEditsAreApplied)
		ctx.Step(`^all concurrent edits should respond with code (\d+)$`, d.allConcurrentEditsShouldRespondWith)
		ctx.Step(`^all concurrent edits should share one "([^"]*)"$`, d.allConcurrentEditsShouldShare)
		ctx.Step(`^the concurrent edits should have version numbers 1 through (\d+)$`, d.concurrentVersionNumbers)
		ctx.Step(`^there should be (\d+) active threads? for document "([^"]*)"$`, d.thereShouldBeActiveThreads)
		ctx.Step(`^there should be (\d+) thread records? for document "([^"]*)"$`, d.thereShouldBeThreadRecords)
		ctx.Step(`^the assistant forgets the active thread for document "([^"]*)"$`, d.theAssistantForgetsTheActiveThread)
		ctx.Step(`^the assistant fails the next "(create|validate)" call with a "([^"]*)" error$`, d.theAssistantFailsTheNextCall)
		ctx.Step(`^the assistant should hold (\d+) live conversations?$`, d.theAssistantShouldHoldLiveConversations)
	})
}

type documentSteps struct {
	s          *cucumber.TestScenario
	concurrent []concurrentResult
}

type concurrentResult struct {
	status int
	body   map[string]any
	raw    []byte
}

func (d *documentSteps) store() (registrystore.ResumeStore, error) {
	store, ok := d.s.Suite.Extra["store"].(registrystore.ResumeStore)
	if !ok {
		return nil, fmt.Errorf("no store configured for this suite")
	}
	return store, nil
}

func (d *documentSteps) assistant() (*local.LocalAssistant, error) {
	a, ok := d.s.Suite.Extra["assistant"].(*local.LocalAssistant)
	if !ok {
		return nil, fmt.Errorf("suite is not running the local assistant")
	}
	return a, nil
}

func (d *documentSteps) owner() string {
	if u := d.s.User(); u != nil {
		return u.Name
	}
	return ""
}

func (d *documentSteps) documentID(raw string) (uuid.UUID, error) {
	expanded, err := d.s.Expand(raw)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(expanded)
}

func (d *documentSteps) iHaveANewDocument(name string) error {
	d.s.Variables[name] = uuid.NewString()
	return nil
}

func (d *documentSteps) iApplyAnEdit(document string, body *godog.DocString) error {
	return d.s.SendHTTPRequestWithJSONBody(http.MethodPost, "/v1/documents/"+document+"/edits", body)
}

func (d *documentSteps) concurrentEditsAreApplied(n int, document string, body *godog.DocString) error {
	path := "/v1/documents/" + document + "/edits"
	payload, err := d.s.Expand(body.Content)
	if err != nil {
		return err
	}
	owner := d.owner()

	results := make([]concurrentResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			status, raw, err := d.s.Do(http.MethodPost, path, owner, []byte(payload))
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = concurrentResult{status: status, raw: raw}
			_ = json.Unmarshal(raw, &results[i].body)
		}(i)
	}
	close(start)
	wg.Wait()

	d.concurrent = results
	return errors.Join(errs...)
}

func (d *documentSteps) allConcurrentEditsShouldRespondWith(code int) error {
	if len(d.concurrent) == 0 {
		return fmt.Errorf("no concurrent edits were sent")
	}
	for i, r := range d.concurrent {
		if r.status != code {
			return fmt.Errorf("edit %d: expected response code %d, got %d: %s", i, code, r.status, string(r.raw))
		}
	}
	return nil
}

func (d *documentSteps) allConcurrentEditsShouldShare(field string) error {
	seen := map[string]bool{}
	for _, r := range d.concurrent {
		seen[fmt.Sprintf("%v", r.body[field])] = true
	}
	if len(seen) != 1 {
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		return fmt.Errorf("expected one %q across concurrent edits, got %s", field, strings.Join(values, ", "))
	}
	return nil
}

func (d *documentSteps) concurrentVersionNumbers(n int) error {
	var numbers []int
	for _, r := range d.concurrent {
		v, ok := r.body["versionNumber"].(float64)
		if !ok {
			return fmt.Errorf("response has no versionNumber: %s", string(r.raw))
		}
		numbers = append(numbers, int(v))
	}
	sort.Ints(numbers)
	if len(numbers) != n {
		return fmt.Errorf("expected %d version numbers, got %v", n, numbers)
	}
	for i, v := range numbers {
		if v != i+1 {
			return fmt.Errorf("expected version numbers 1..%d, got %v", n, numbers)
		}
	}
	return nil
}

func (d *documentSteps) threads(document string) ([]model.ConversationThread, error) {
	store, err := d.store()
	if err != nil {
		return nil, err
	}
	docID, err := d.documentID(document)
	if err != nil {
		return nil, err
	}
	return store.ListThreads(context.Background(), docID, d.owner())
}

func (d *documentSteps) thereShouldBeActiveThreads(n int, document string) error {
	threads, err := d.threads(document)
	if err != nil {
		return err
	}
	active := 0
	for _, t := range threads {
		if t.Status == model.ThreadStatusActive {
			active++
		}
	}
	if active != n {
		return fmt.Errorf("expected %d active thread(s), got %d of %d records", n, active, len(threads))
	}
	return nil
}

func (d *documentSteps) thereShouldBeThreadRecords(n int, document string) error {
	threads, err := d.threads(document)
	if err != nil {
		return err
	}
	if len(threads) != n {
		return fmt.Errorf("expected %d thread record(s), got %d", n, len(threads))
	}
	return nil
}

func (d *documentSteps) theAssistantForgetsTheActiveThread(document string) error {
	assistant, err := d.assistant()
	if err != nil {
		return err
	}
	store, err := d.store()
	if err != nil {
		return err
	}
	docID, err := d.documentID(document)
	if err != nil {
		return err
	}
	active, err := store.FindActiveThread(context.Background(), docID, d.owner())
	if err != nil {
		return err
	}
	if active == nil {
		return fmt.Errorf("document %s has no active thread", docID)
	}
	assistant.Forget(active.ExternalHandle)
	return nil
}

func (d *documentSteps) theAssistantFailsTheNextCall(op, kind string) error {
	assistant, err := d.assistant()
	if err != nil {
		return err
	}
	apiErr := &registryassistant.APIError{Kind: registryassistant.ErrorKind(kind), Op: op, Err: errors.New("injected failure")}
	switch apiErr.Kind {
	case registryassistant.KindRateLimit:
		apiErr.StatusCode = http.StatusTooManyRequests
	case registryassistant.KindAuth:
		apiErr.StatusCode = http.StatusUnauthorized
	}
	assistant.FailNext(op, apiErr)
	return nil
}

func (d *documentSteps) theAssistantShouldHoldLiveConversations(n int) error {
	assistant, err := d.assistant()
	if err != nil {
		return err
	}
	if got := assistant.LiveCount(); got != n {
		return fmt.Errorf("expected %d live conversation(s), got %d", n, got)
	}
	return nil
}
