package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/store"
)

type ModelHandler struct {
	repo store.Repository
}

func NewModelHandler(repo store.Repository) *ModelHandler {
	return &ModelHandler{repo: repo}
}

// ListModels returns the registry, optionally filtered by category.
//
// GET /v1/models
func (h *ModelHandler) ListModels(c *gin.Context) {
	category := c.Query("category")

	var (
		models interface{}
		err    error
	)
	if category != "" {
		cat, ok := domain.ParseCategory(category)
		if !ok {
			_ = c.Error(domain.BadRequestError("Invalid 'category' parameter"))
			return
		}
		models, err = h.repo.Models().ListByCategory(c.Request.Context(), cat.String())
	} else {
		models, err = h.repo.Models().List(c.Request.Context())
	}
	if err != nil {
		_ = c.Error(domain.InternalError("Failed to list models", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   models,
	})
}
