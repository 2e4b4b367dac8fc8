package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/core/reconciler"
	"github.com/strata-ai/model-registry/internal/store"
)

type ReconcileHandler struct {
	reconciler *reconciler.Reconciler
	repo       store.Repository
}

func NewReconcileHandler(r *reconciler.Reconciler, repo store.Repository) *ReconcileHandler {
	return &ReconcileHandler{reconciler: r, repo: repo}
}

// Trigger runs a reconciliation immediately. The response is always 200 with
// the run's own success flag: the caller (and the scheduler) must never see a
// retryable error status here.
//
// POST /v1/reconcile
func (h *ReconcileHandler) Trigger(c *gin.Context) {
	result := h.reconciler.Run(c.Request.Context(), reconciler.TriggerManual)
	c.JSON(http.StatusOK, result)
}

// Logs returns the recent reconciliation audit trail.
//
// GET /v1/reconcile/logs
func (h *ReconcileHandler) Logs(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		_ = c.Error(domain.BadRequestError("Invalid 'limit' parameter"))
		return
	}

	logs, err := h.repo.ReconciliationLogs().Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(domain.InternalError("Failed to fetch reconciliation logs", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   logs,
	})
}
