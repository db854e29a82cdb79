package serve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chirino/resume-chat/internal/config"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware_EnforcesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/documents/:documentId/edits", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/x/edits", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMaxBodySizeMiddleware_AllowsSmallBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(64))
	router.POST("/v1/documents/:documentId/edits", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/x/edits", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func TestStartServer_ServesEditsAndManagementRoutes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "serve.db")
	cfg.AssistantType = "local"
	cfg.ScoreCacheType = "memory"
	cfg.Listener.Port = 0
	cfg.ThreadJanitorInterval = 50 * time.Millisecond
	cfg.MetricsLabels = "service=resume-chat-test"

	ctx := config.WithContext(context.Background(), &cfg)
	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(shutdownCtx))
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)
	client := &http.Client{Timeout: 5 * time.Second}

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := client.Get(base + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	// Testing mode does not require the owner header.
	doc := uuid.NewString()
	resp, err := client.Post(base+"/v1/documents/"+doc+"/edits", "application/json", strings.NewReader(`{
		"operation": {"kind": "replace", "path": "summary", "value": "Platform engineer"}
	}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Equal(t, float64(1), body["versionNumber"])
	require.Equal(t, map[string]any{"summary": "Platform engineer"}, body["document"])
}

func TestStartServer_RejectsUnknownStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "nope"
	cfg.DatastoreMigrateAtStart = false
	cfg.MetricsLabels = "service=resume-chat-test"

	_, err := StartServer(config.WithContext(context.Background(), &cfg), &cfg)
	require.ErrorContains(t, err, "unknown store")
}
