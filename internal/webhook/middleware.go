package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Context keys set by the API key middleware.
const (
	ContextWorkspaceIDKey = "webhookWorkspaceID"
	ContextKeyIDKey       = "webhookKeyID"
)

// APIKeyAuthMiddleware validates the X-Webhook-API-Key header and sets the
// workspace context on the gin context.
func APIKeyAuthMiddleware(repo *Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-Webhook-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		keyHash := HashKey(apiKey)
		key, err := repo.GetByHash(c.Request.Context(), keyHash)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(ContextWorkspaceIDKey, key.WorkspaceID)
		c.Set(ContextKeyIDKey, key.ID)
		c.Next()
	}
}
