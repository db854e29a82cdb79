package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/config"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

func init() {
	registryassistant.Register(registryassistant.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registryassistant.Assistant, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai assistant: RESUME_CHAT_OPENAI_API_KEY is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.OpenAIBaseURL, "/")
	}
	clientCfg.OrgID = cfg.OpenAIOrgID

	limit := rate.Inf
	if cfg.AssistantRequestsPerSecond > 0 {
		limit = rate.Limit(cfg.AssistantRequestsPerSecond)
	}
	burst := cfg.AssistantBurst
	if burst < 1 {
		burst = 1
	}
	log.Info("OpenAI assistant configured", "baseURL", clientCfg.BaseURL, "rps", cfg.AssistantRequestsPerSecond)
	return New(clientCfg, rate.NewLimiter(limit, burst)), nil
}

// New creates an assistant backed by the OpenAI Threads API. A nil limiter
// disables outbound rate limiting.
func New(clientCfg goopenai.ClientConfig, limiter *rate.Limiter) *OpenAIAssistant {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &OpenAIAssistant{
		client:  goopenai.NewClientWithConfig(clientCfg),
		limiter: limiter,
	}
}

// OpenAIAssistant maps conversation handles to OpenAI thread IDs.
type OpenAIAssistant struct {
	client  *goopenai.Client
	limiter *rate.Limiter
}

func (a *OpenAIAssistant) CreateConversation(ctx context.Context) (string, error) {
	if err := a.wait(ctx, "create"); err != nil {
		return "", err
	}
	thread, err := a.client.CreateThread(ctx, goopenai.ThreadRequest{
		Metadata: map[string]any{"purpose": "resume-edit"},
	})
	if err != nil {
		return "", classify("create", err)
	}
	if thread.ID == "" {
		return "", &registryassistant.APIError{Kind: registryassistant.KindUnknown, Op: "create", Err: errors.New("empty thread id")}
	}
	return thread.ID, nil
}

func (a *OpenAIAssistant) ValidateConversation(ctx context.Context, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return fmt.Errorf("%w: empty handle", registryassistant.ErrInvalidHandle)
	}
	if err := a.wait(ctx, "validate"); err != nil {
		return err
	}
	_, err := a.client.RetrieveThread(ctx, handle)
	if err == nil {
		return nil
	}
	if status := statusOf(err); status == http.StatusNotFound {
		return fmt.Errorf("%w: thread not found (status %d)", registryassistant.ErrInvalidHandle, status)
	}
	return classify("validate", err)
}

func (a *OpenAIAssistant) DeleteConversation(ctx context.Context, handle string) error {
	if err := a.wait(ctx, "delete"); err != nil {
		return err
	}
	_, err := a.client.DeleteThread(ctx, handle)
	if err == nil || statusOf(err) == http.StatusNotFound {
		return nil
	}
	return classify("delete", err)
}

func (a *OpenAIAssistant) wait(ctx context.Context, op string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return registryassistant.Classify(op, ctx.Err())
		}
		// the budget cannot be met before the caller's deadline
		return &registryassistant.APIError{Kind: registryassistant.KindRateLimit, Op: op, Err: err}
	}
	return nil
}

func statusOf(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func classify(op string, err error) error {
	if status := statusOf(err); status != 0 {
		return &registryassistant.APIError{
			Kind:       registryassistant.KindForStatus(status),
			Op:         op,
			StatusCode: status,
			Err:        err,
		}
	}
	return registryassistant.Classify(op, err)
}

var _ registryassistant.Assistant = (*OpenAIAssistant)(nil)
