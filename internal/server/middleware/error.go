package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/strata-ai/model-registry/internal/core/domain"
	"go.uber.org/zap"
)

// ErrorHandler converts errors attached by handlers into their JSON shapes.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if problem, ok := err.(*domain.Problem); ok {
			if problem.Log != nil {
				logger.Error("Request failed", zap.Error(problem.Log))
			}

			// RFC 9457 dictates the json is at the root
			c.JSON(problem.Status, problem)
			c.Abort()
			return
		}

		if appErr, ok := err.(*domain.Error); ok {
			if appErr.Log != nil {
				logger.Error("Request failed", zap.Error(appErr.Log))
			}
			c.JSON(appErr.Code, domain.NewProblem(appErr.Code, http.StatusText(appErr.Code), appErr.Message))
			c.Abort()
			return
		}

		// unknown error, catch-all 500
		logger.Error("Unhandled request error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.NewProblem(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
		))
		c.Abort()
	}
}
