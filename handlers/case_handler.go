package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"prevdraft-backend/models"
	"prevdraft-backend/provider"
	"prevdraft-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CaseHandler handles HTTP requests for cases, extractions, drafts and
// pipeline runs
type CaseHandler struct {
	consolidationService *service.ConsolidationService
	pipelineService      *service.PipelineService
	watcher              *service.RunWatcher
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(consolidation *service.ConsolidationService, pipeline *service.PipelineService, watcher *service.RunWatcher) *CaseHandler {
	return &CaseHandler{
		consolidationService: consolidation,
		pipelineService:      pipeline,
		watcher:              watcher,
	}
}

// RegisterRoutes registers all case routes on the router group
func (h *CaseHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/cases/:id/extractions", h.SubmitExtractions)
	api.GET("/cases/:id", h.GetCaseRecord)
	api.POST("/cases/:id/pipeline/run", h.RunPipeline)
	api.GET("/pipeline/runs/:runId", h.GetRun)
	api.GET("/cases/:id/pipeline/latest", h.GetLatestRun)
	api.GET("/cases/:id/draft/latest", h.GetLatestDraft)
	api.GET("/cases/:id/draft/history", h.GetDraftHistory)
	api.POST("/cases/:id/findings/:findingId/apply", h.ApplyFinding)
	api.POST("/cases/:id/corrections/apply-batch", h.ApplyFindingsBatch)
	api.GET("/cases/:id/quality", h.GetQualityReport)
	api.GET("/cases/:id/history", h.GetCorrectionHistory)
}

// ExtractionPayload is one extraction in a submission request
type ExtractionPayload struct {
	DocumentID       string              `json:"document_id" binding:"required"`
	Entities         models.EntityMap    `json:"entities"`
	AutoFilledFields models.EntityMap    `json:"auto_filled_fields"`
	RuralPeriods     models.RuralPeriods `json:"rural_periods"`
	ExtractedAt      time.Time           `json:"extracted_at"`
}

// SubmitExtractionsRequest represents the request body for submitting
// extractions
type SubmitExtractionsRequest struct {
	Extractions []ExtractionPayload `json:"extractions" binding:"required"`
}

// SubmitExtractions handles POST /api/cases/:id/extractions
func (h *CaseHandler) SubmitExtractions(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	var req SubmitExtractionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}
	if len(req.Extractions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NO_EXTRACTIONS",
				"message": "At least one extraction is required",
			},
		})
		return
	}

	inputs := make([]service.ExtractionInput, 0, len(req.Extractions))
	for _, payload := range req.Extractions {
		documentID, err := uuid.Parse(payload.DocumentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_DOCUMENT_ID",
					"message": "Invalid document_id format: " + payload.DocumentID,
				},
			})
			return
		}
		extractedAt := payload.ExtractedAt
		if extractedAt.IsZero() {
			extractedAt = time.Now()
		}
		inputs = append(inputs, service.ExtractionInput{
			DocumentID:       documentID,
			Entities:         payload.Entities,
			AutoFilledFields: payload.AutoFilledFields,
			RuralPeriods:     payload.RuralPeriods,
			ExtractedAt:      extractedAt,
		})
	}

	result, err := h.consolidationService.SubmitExtractions(c.Request.Context(), service.SubmitExtractionsRequest{
		CaseID:      caseID,
		Extractions: inputs,
	})
	if err != nil {
		var batchErr *service.BatchError
		if errors.As(err, &batchErr) && result != nil {
			// Partial ingest: the record reflects what made it in.
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"data": gin.H{
					"record":           result.Record,
					"failed_documents": batchErr.Failed,
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CONSOLIDATION_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"record": result.Record,
		},
	})
}

// GetCaseRecord handles GET /api/cases/:id
func (h *CaseHandler) GetCaseRecord(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	result, err := h.consolidationService.GetCaseRecord(c.Request.Context(), service.GetCaseRecordRequest{CaseID: caseID})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CASE_NOT_FOUND",
				"message": "No consolidated record for case " + caseID.String(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"record": result.Record,
		},
	})
}

// RunPipeline handles POST /api/cases/:id/pipeline/run. With ?wait=true the
// response is held until the run terminates or the wait window elapses.
func (h *CaseHandler) RunPipeline(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	handle, err := h.pipelineService.StartRun(c.Request.Context(), caseID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"data": gin.H{
				"run_id": handle.Run.ID,
				"status": handle.Run.Status,
			},
		})
		return
	}

	run, err := h.watcher.Wait(c.Request.Context(), handle.Run.ID)
	if err != nil {
		if errors.Is(err, service.ErrWaitTimeout) {
			// The run keeps going in the background; this is not a failure.
			c.JSON(http.StatusAccepted, gin.H{
				"success": true,
				"data": gin.H{
					"run_id":  handle.Run.ID,
					"status":  models.RunRunning,
					"message": "run still in progress, poll GET /api/pipeline/runs/" + handle.Run.ID.String(),
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "WAIT_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"run": run,
		},
	})
}

// GetRun handles GET /api/pipeline/runs/:runId
func (h *CaseHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_RUN_ID",
				"message": "Invalid run ID format",
			},
		})
		return
	}

	result, err := h.pipelineService.GetRun(c.Request.Context(), service.GetRunRequest{RunID: runID})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RUN_NOT_FOUND",
				"message": "Pipeline run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"run": result.Run,
		},
	})
}

// GetLatestRun handles GET /api/cases/:id/pipeline/latest
func (h *CaseHandler) GetLatestRun(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	result, err := h.pipelineService.GetLatestRun(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RUN_NOT_FOUND",
				"message": "No pipeline run for case " + caseID.String(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"run": result.Run,
		},
	})
}

// GetLatestDraft handles GET /api/cases/:id/draft/latest
func (h *CaseHandler) GetLatestDraft(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	result, err := h.pipelineService.GetLatestDraft(c.Request.Context(), service.LatestDraftRequest{CaseID: caseID})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DRAFT_NOT_FOUND",
				"message": "No draft version for case " + caseID.String(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"draft":    result.Draft,
			"is_stale": result.IsStale,
		},
	})
}

// GetDraftHistory handles GET /api/cases/:id/draft/history
func (h *CaseHandler) GetDraftHistory(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	versions, err := h.pipelineService.GetDraftHistory(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "HISTORY_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"versions": versions,
			"count":    len(versions),
		},
	})
}

// ApplyFinding handles POST /api/cases/:id/findings/:findingId/apply
func (h *CaseHandler) ApplyFinding(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	findingID, err := uuid.Parse(c.Param("findingId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_FINDING_ID",
				"message": "Invalid finding ID format",
			},
		})
		return
	}

	result, err := h.pipelineService.ApplyFinding(c.Request.Context(), service.ApplyFindingRequest{
		CaseID:    caseID,
		FindingID: findingID,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"draft":              result.Draft,
			"risk_score":         result.RiskScore,
			"remaining_findings": result.RemainingFindings,
		},
	})
}

// ApplyFindingsBatchRequest represents the request body for a batch apply
type ApplyFindingsBatchRequest struct {
	FindingIDs []string `json:"finding_ids" binding:"required"`
}

// ApplyFindingsBatch handles POST /api/cases/:id/corrections/apply-batch
func (h *CaseHandler) ApplyFindingsBatch(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	var req ApplyFindingsBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	findingIDs := make([]uuid.UUID, 0, len(req.FindingIDs))
	for _, raw := range req.FindingIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_FINDING_ID",
					"message": "Invalid finding ID format: " + raw,
				},
			})
			return
		}
		findingIDs = append(findingIDs, id)
	}

	result, err := h.pipelineService.ApplyFindingsBatch(c.Request.Context(), service.ApplyFindingsBatchRequest{
		CaseID:     caseID,
		FindingIDs: findingIDs,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"draft":              result.Draft,
			"risk_score":         result.RiskScore,
			"remaining_findings": result.RemainingFindings,
		},
	})
}

// GetQualityReport handles GET /api/cases/:id/quality
func (h *CaseHandler) GetQualityReport(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	report, err := h.pipelineService.GetQualityReport(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "REPORT_NOT_FOUND",
				"message": "No quality report for case " + caseID.String(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"report": report,
		},
	})
}

// GetCorrectionHistory handles GET /api/cases/:id/history
func (h *CaseHandler) GetCorrectionHistory(c *gin.Context) {
	caseID, ok := h.parseCaseID(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := h.pipelineService.GetCorrectionHistory(c.Request.Context(), caseID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "HISTORY_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"entries": entries,
			"count":   len(entries),
		},
	})
}

func (h *CaseHandler) parseCaseID(c *gin.Context) (uuid.UUID, bool) {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_CASE_ID",
				"message": "Invalid case ID format",
			},
		})
		return uuid.Nil, false
	}
	return caseID, true
}

// writeServiceError maps service and provider errors to HTTP responses
func (h *CaseHandler) writeServiceError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrCaseBusy):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CASE_BUSY",
				"message": err.Error(),
			},
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error": gin.H{
				"code":           "VALIDATION_FAILED",
				"message":        err.Error(),
				"missing_fields": validationErr.MissingFields,
			},
		})
	case errors.Is(err, service.ErrRunNotFound),
		errors.Is(err, service.ErrDraftNotFound),
		errors.Is(err, service.ErrFindingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": err.Error(),
			},
		})
	case errors.Is(err, service.ErrNoPendingFindings):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NO_PENDING_FINDINGS",
				"message": err.Error(),
			},
		})
	case errors.Is(err, provider.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RATE_LIMITED",
				"message": err.Error(),
			},
		})
	case errors.Is(err, provider.ErrQuotaExhausted):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "QUOTA_EXHAUSTED",
				"message": err.Error(),
			},
		})
	case errors.Is(err, provider.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PROVIDER_TIMEOUT",
				"message": err.Error(),
			},
		})
	case provider.IsProviderFailure(err):
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PROVIDER_FAILED",
				"message": err.Error(),
			},
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
	}
}
