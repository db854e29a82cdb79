package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	cases := map[int]ErrorKind{
		http.StatusTooManyRequests:     KindRateLimit,
		http.StatusUnauthorized:        KindAuth,
		http.StatusForbidden:           KindAuth,
		http.StatusBadRequest:          KindInvalidRequest,
		http.StatusNotFound:            KindInvalidRequest,
		http.StatusServiceUnavailable:  KindNetwork,
		http.StatusGatewayTimeout:      KindNetwork,
		http.StatusInternalServerError: KindUnknown,
	}
	for status, want := range cases {
		assert.Equal(t, want, KindForStatus(status), "status %d", status)
	}
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify("create", nil))

	err := Classify("validate", fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	err = Classify("create", errors.New("boom"))
	assert.Equal(t, KindUnknown, KindOf(err))

	original := &APIError{Kind: KindAuth, Op: "create", StatusCode: 401, Err: errors.New("bad key sk-123")}
	assert.Same(t, original, Classify("validate", original))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestAPIError_RetryableAndSafeMessage(t *testing.T) {
	for _, kind := range []ErrorKind{KindRateLimit, KindNetwork} {
		assert.True(t, (&APIError{Kind: kind}).Retryable(), kind)
	}
	for _, kind := range []ErrorKind{KindAuth, KindInvalidRequest, KindUnknown} {
		assert.False(t, (&APIError{Kind: kind}).Retryable(), kind)
	}

	err := &APIError{Kind: KindAuth, Op: "create", StatusCode: 401, Err: errors.New("invalid key sk-secret thread_abc")}
	assert.NotContains(t, err.SafeMessage(), "sk-secret")
	assert.NotContains(t, err.SafeMessage(), "thread_abc")
	assert.Contains(t, err.Error(), "status 401")
}
