// Package edits serves the chat-turn edit API, version history and thread
// status for a document.
package edits

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/resume-chat/internal/document"
	"github.com/chirino/resume-chat/internal/model"
	registryassistant "github.com/chirino/resume-chat/internal/registry/assistant"
	registrystore "github.com/chirino/resume-chat/internal/registry/store"
	"github.com/chirino/resume-chat/internal/security"
	"github.com/chirino/resume-chat/internal/service"
	"github.com/chirino/resume-chat/internal/thread"
	"github.com/chirino/resume-chat/internal/versionlog"
	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Deps are the services behind the routes.
type Deps struct {
	Turns    *service.TurnService
	Threads  *thread.Manager
	Versions *versionlog.Log
	Scores   *service.ScoreService
	Store    registrystore.ResumeStore
}

// MountRoutes mounts the edit API. owner resolves the X-Owner-ID header.
func MountRoutes(r *gin.Engine, deps Deps, owner gin.HandlerFunc) {
	g := r.Group("/v1", owner)

	g.POST("/documents/:documentId/edits", func(c *gin.Context) {
		applyEdit(c, deps)
	})
	g.POST("/documents/:documentId/score", func(c *gin.Context) {
		scoreLatest(c, deps)
	})
	g.GET("/documents/:documentId/versions", func(c *gin.Context) {
		listVersions(c, deps)
	})
	g.DELETE("/documents/:documentId/versions", func(c *gin.Context) {
		purgeDocument(c, deps)
	})
	g.GET("/documents/:documentId/versions/latest", func(c *gin.Context) {
		latestVersion(c, deps)
	})
	g.GET("/documents/:documentId/versions/:versionNumber", func(c *gin.Context) {
		getVersion(c, deps)
	})
	g.GET("/documents/:documentId/thread", func(c *gin.Context) {
		getThread(c, deps)
	})
	g.DELETE("/documents/:documentId/thread", func(c *gin.Context) {
		closeThread(c, deps)
	})
	g.GET("/score-cache/stats", func(c *gin.Context) {
		cacheStats(c, deps)
	})
	g.DELETE("/score-cache", func(c *gin.Context) {
		clearCache(c, deps)
	})
}

type editRequest struct {
	Operation    json.RawMessage   `json:"operation"`
	Criteria     *service.Criteria `json:"criteria,omitempty"`
	BaseDocument json.RawMessage   `json:"baseDocument,omitempty"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func applyEdit(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "body_too_large", "error": "request body too large"})
		return
	}
	var req editRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_json", "error": "request body is not valid JSON"})
		return
	}
	if !present(req.Operation) {
		c.JSON(http.StatusBadRequest, gin.H{"code": string(document.CodeInvalidOperation), "error": "operation is required"})
		return
	}
	var op document.Operation
	if err := op.UnmarshalJSON(req.Operation); err != nil {
		var docErr *document.Error
		if errors.As(err, &docErr) {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": string(document.CodeInvalidOperation), "error": "operation must be a JSON object"})
		return
	}
	var base document.Document
	if present(req.BaseDocument) {
		base, err = document.ParseDocument(req.BaseDocument)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "baseDocument must be a JSON object", "field": "baseDocument"})
			return
		}
	}

	result, err := deps.Turns.ApplyEdit(c.Request.Context(), service.EditRequest{
		DocumentID:   documentID,
		OwnerID:      security.GetOwnerID(c),
		Operation:    op,
		Criteria:     req.Criteria,
		BaseDocument: base,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	resp := gin.H{
		"threadId":      result.Thread.ID,
		"versionNumber": result.Version.VersionNumber,
		"createdAt":     result.Version.CreatedAt,
		"document":      result.Document,
	}
	if result.Score != nil {
		resp["score"] = result.Score
	}
	c.JSON(http.StatusOK, resp)
}

func scoreLatest(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	var criteria service.Criteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if criteria.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "keywords or description is required"})
		return
	}
	latest, err := deps.Versions.GetLatest(c.Request.Context(), documentID)
	if err != nil {
		handleError(c, err)
		return
	}
	doc, err := versionlog.Snapshot(latest)
	if err != nil {
		handleError(c, err)
		return
	}
	res, err := deps.Scores.Score(c.Request.Context(), doc, criteria)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versionNumber": latest.VersionNumber, "score": res})
}

func listVersions(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	versions, err := deps.Versions.GetHistory(c.Request.Context(), documentID)
	if err != nil {
		handleError(c, err)
		return
	}
	if versions == nil {
		versions = []model.ResumeVersion{}
	}
	c.JSON(http.StatusOK, gin.H{"data": versions})
}

func latestVersion(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	v, err := deps.Versions.GetLatest(c.Request.Context(), documentID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func getVersion(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("versionNumber"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid version number", "field": "versionNumber"})
		return
	}
	v, err := deps.Versions.GetByNumber(c.Request.Context(), documentID, n)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// purgeDocument removes the document's versions and the threads of every
// owner, not only the caller's.
func purgeDocument(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	if err := deps.Store.PurgeDocument(c.Request.Context(), documentID); err != nil {
		handleError(c, err)
		return
	}
	log.Info("Document history purged", "documentId", documentID, "ownerId", security.GetOwnerID(c))
	c.Status(http.StatusNoContent)
}

func getThread(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	owner := security.GetOwnerID(c)
	history, err := deps.Threads.History(ctx, documentID, owner)
	if err != nil {
		handleError(c, err)
		return
	}
	var active any
	for i := range history {
		if history[i].IsActive() {
			active = history[i]
			break
		}
	}
	if history == nil {
		history = []model.ConversationThread{}
	}
	c.JSON(http.StatusOK, gin.H{"active": active, "history": history})
}

func closeThread(c *gin.Context, deps Deps) {
	documentID, ok := documentParam(c)
	if !ok {
		return
	}
	th, err := deps.Threads.CloseThread(c.Request.Context(), documentID, security.GetOwnerID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, th)
}

func cacheStats(c *gin.Context, deps Deps) {
	stats, err := deps.Scores.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"size":     stats.Size,
		"capacity": stats.Capacity,
		"hitRate":  stats.HitRate(),
	})
}

func clearCache(c *gin.Context, deps Deps) {
	if err := deps.Scores.Clear(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func documentParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid document id", "field": "documentId"})
		return uuid.Nil, false
	}
	return id, true
}

func handleError(c *gin.Context, err error) {
	var docErr *document.Error
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var versionConflict *versionlog.VersionConflictError
	var apiErr *registryassistant.APIError

	switch {
	case errors.As(err, &docErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": string(docErr.Code), "error": docErr.Error(), "path": docErr.Path})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &versionConflict):
		c.JSON(http.StatusConflict, gin.H{"code": "version_conflict", "error": "the document changed concurrently, retry the edit"})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": conflict.Code, "error": err.Error()})
	case errors.As(err, &apiErr):
		status := http.StatusBadGateway
		if apiErr.Kind == registryassistant.KindRateLimit {
			status = http.StatusTooManyRequests
		}
		log.Warn("Assistant request failed", "kind", apiErr.Kind, "op", apiErr.Op, "status", apiErr.StatusCode)
		c.JSON(status, gin.H{"code": "assistant_" + string(apiErr.Kind), "error": apiErr.SafeMessage()})
	default:
		log.Error("Request failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
