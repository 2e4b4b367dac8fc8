package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/core/usage"
	"github.com/strata-ai/model-registry/internal/server/validator"
	"github.com/strata-ai/model-registry/pkg/api"
)

type UsageHandler struct {
	aggregator *usage.Aggregator
}

func NewUsageHandler(aggregator *usage.Aggregator) *UsageHandler {
	return &UsageHandler{aggregator: aggregator}
}

// Ingest records one completed-call telemetry event.
//
// POST /v1/usage
func (h *UsageHandler) Ingest(c *gin.Context) {
	var req api.UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(domain.ValidationError(validator.ParseValidationError(err)))
		return
	}

	res, err := h.aggregator.Record(c.Request.Context(), usage.Event{
		Project:      req.Project,
		ModelID:      req.Model,
		Endpoint:     req.Endpoint,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		ResponseMS:   req.ResponseMS,
		Success:      *req.Success,
		Error:        req.Error,
		ExperimentID: req.ExperimentID,
		Variant:      req.Variant,
	})
	if err != nil {
		_ = c.Error(domain.InternalError("Failed to record usage event", err))
		return
	}

	ack := api.UsageAck{Recorded: true, Cost: res.Cost}
	if res.UnknownModel {
		ack.Warning = "model is unknown to the registry; event recorded without cost attribution"
	}

	c.JSON(http.StatusOK, ack)
}
