package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/strata-ai/model-registry/internal/core/domain"
)

// Auth checks for a valid Bearer token in the Authorization header against
// the configured access keys. Credential issuance lives outside this
// service; the keys arrive through configuration.
func Auth(keys []string) gin.HandlerFunc {
	keyMap := make(map[string]bool, len(keys))
	for _, k := range keys {
		keyMap[k] = true
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Missing Authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "Invalid Authorization header format")
			return
		}

		if !keyMap[parts[1]] {
			abortUnauthorized(c, "Invalid access key")
			return
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, domain.NewProblem(
		http.StatusUnauthorized,
		"Unauthorized",
		detail,
	))
}
