package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeThreadsAPI struct {
	created atomic.Int32
	status  atomic.Int32 // forced status for every request when non-zero
}

func (f *fakeThreadsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s := int(f.status.Load()); s != 0 {
		w.WriteHeader(s)
		_, _ = w.Write([]byte(`{"error":{"message":"forced failure for sk-secret","type":"server_error"}}`))
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/threads":
		f.created.Add(1)
		_, _ = w.Write([]byte(`{"id":"thread_live","object":"thread","created_at":1700000000,"metadata":{}}`))
	case strings.HasPrefix(r.URL.Path, "/v1/threads/thread_live"):
		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`{"id":"thread_live","object":"thread.deleted","deleted":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"thread_live","object":"thread","created_at":1700000000,"metadata":{}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No thread found","type":"invalid_request_error"}}`))
	}
}

func newTestAssistant(t *testing.T, limiter *rate.Limiter) (*OpenAIAssistant, *fakeThreadsAPI) {
	t.Helper()
	api := &fakeThreadsAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := goopenai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	return New(cfg, limiter), api
}

func TestCreateValidateDelete(t *testing.T) {
	a, api := newTestAssistant(t, nil)
	ctx := context.Background()

	handle, err := a.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread_live", handle)
	assert.Equal(t, int32(1), api.created.Load())

	require.NoError(t, a.ValidateConversation(ctx, handle))
	require.NoError(t, a.DeleteConversation(ctx, handle))
	// deleting an unknown thread is not an error
	require.NoError(t, a.DeleteConversation(ctx, "thread_gone"))
}

func TestValidate_UnknownHandleIsInvalid(t *testing.T) {
	a, _ := newTestAssistant(t, nil)

	err := a.ValidateConversation(context.Background(), "thread_gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registryassistant.ErrInvalidHandle))

	err = a.ValidateConversation(context.Background(), "  ")
	assert.True(t, errors.Is(err, registryassistant.ErrInvalidHandle))
}

func TestErrorsAreClassified(t *testing.T) {
	cases := map[int]registryassistant.ErrorKind{
		http.StatusTooManyRequests:     registryassistant.KindRateLimit,
		http.StatusUnauthorized:        registryassistant.KindAuth,
		http.StatusBadRequest:          registryassistant.KindInvalidRequest,
		http.StatusServiceUnavailable:  registryassistant.KindNetwork,
		http.StatusInternalServerError: registryassistant.KindUnknown,
	}
	for status, kind := range cases {
		a, api := newTestAssistant(t, nil)
		api.status.Store(int32(status))

		_, err := a.CreateConversation(context.Background())
		var apiErr *registryassistant.APIError
		require.True(t, errors.As(err, &apiErr), "status %d: %v", status, err)
		assert.Equal(t, kind, apiErr.Kind, "status %d", status)
		assert.Equal(t, status, apiErr.StatusCode)
		assert.NotContains(t, apiErr.SafeMessage(), "sk-secret")

		// transient validation failures never look like an invalid handle
		err = a.ValidateConversation(context.Background(), "thread_live")
		assert.False(t, errors.Is(err, registryassistant.ErrInvalidHandle), "status %d", status)
	}
}

func TestTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	cfg := goopenai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	a := New(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.ValidateConversation(ctx, "thread_live")
	require.Error(t, err)
	assert.Equal(t, registryassistant.KindNetwork, registryassistant.KindOf(err))
	assert.False(t, errors.Is(err, registryassistant.ErrInvalidHandle))
}

func TestRateLimiterBudgetExceeded(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	a, api := newTestAssistant(t, limiter)

	_, err := a.CreateConversation(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.CreateConversation(ctx)
	assert.Equal(t, registryassistant.KindRateLimit, registryassistant.KindOf(err))
	assert.Equal(t, int32(1), api.created.Load())
}

func TestRateLimiterExpiredDeadlineIsNetworkError(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	a, api := newTestAssistant(t, limiter)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := a.CreateConversation(ctx)
	require.Error(t, err)
	assert.Equal(t, registryassistant.KindNetwork, registryassistant.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, api.created.Load())
}
