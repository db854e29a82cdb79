package security

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderOwnerID carries the tenant/user identifier that scopes conversation threads.
	HeaderOwnerID = "X-Owner-ID"
	// ContextKeyOwnerID is the gin context key for the resolved owner ID.
	ContextKeyOwnerID = "ownerID"

	// TestingOwnerID is assumed in testing mode when no owner header is sent.
	TestingOwnerID = "testing"

	maxOwnerIDLength = 255
)

// GetOwnerID returns the owner ID resolved by OwnerMiddleware.
func GetOwnerID(c *gin.Context) string {
	return c.GetString(ContextKeyOwnerID)
}

// OwnerMiddleware requires an X-Owner-ID header and stores it in the gin
// context. Authenticating the owner is left to the fronting gateway.
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(HeaderOwnerID))
		if owner == "" {
			log.Info("Request rejected: missing owner", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderOwnerID + " header"})
			return
		}
		if !ValidOwnerID(owner) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + HeaderOwnerID + " header"})
			return
		}
		c.Set(ContextKeyOwnerID, owner)
		c.Next()
	}
}

// OptionalOwnerMiddleware behaves like OwnerMiddleware but falls back to
// fallback when the header is absent.
func OptionalOwnerMiddleware(fallback string) gin.HandlerFunc {
	required := OwnerMiddleware()
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetHeader(HeaderOwnerID)) == "" {
			c.Set(ContextKeyOwnerID, fallback)
			c.Next()
			return
		}
		required(c)
	}
}

// ValidOwnerID reports whether owner is non-empty, bounded and printable.
func ValidOwnerID(owner string) bool {
	if owner == "" || len(owner) > maxOwnerIDLength {
		return false
	}
	for _, r := range owner {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
