package v1

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/core/resolver"
	"github.com/strata-ai/model-registry/internal/server/validator"
	"github.com/strata-ai/model-registry/pkg/api"
)

type ResolveHandler struct {
	engine *resolver.Engine
}

func NewResolveHandler(engine *resolver.Engine) *ResolveHandler {
	return &ResolveHandler{engine: engine}
}

// Resolve picks a concrete model id for one routing request.
//
// POST /v1/resolve
func (h *ResolveHandler) Resolve(c *gin.Context) {
	var req api.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.ValidationError(validator.ParseValidationError(err)))
		return
	}

	category, ok := domain.ParseCategory(req.Category)
	if !ok {
		_ = c.Error(domain.BadRequestError(fmt.Sprintf("unknown category %q", req.Category)))
		return
	}

	// Past this point the request cannot fail: the engine degrades to the
	// emergency mapping rather than surfacing internal faults.
	decision := h.engine.Resolve(c.Request.Context(), resolver.Input{
		Category: category,
		Project:  req.Project,
		Role:     req.Role,
	})

	resp := api.ResolveResponse{
		Model:      decision.ModelID,
		Category:   decision.Category.String(),
		Provenance: string(decision.Provenance),
		Fallback:   decision.Fallback,
	}
	if decision.Experiment != nil {
		resp.Experiment = &api.ExperimentInfo{
			ID:      decision.Experiment.ID,
			Name:    decision.Experiment.Name,
			Variant: decision.Experiment.Variant,
		}
	}

	c.JSON(http.StatusOK, resp)
}
