package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/spoolhq/content-service/internal/services"
)

type IngestionHandler struct {
	ingestion *services.IngestionService
}

func NewIngestionHandler(ingestion *services.IngestionService) *IngestionHandler {
	return &IngestionHandler{ingestion: ingestion}
}

// POST /api/content/upload
func (h *IngestionHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field 'file' required: %w", err))
		return
	}
	title := c.PostForm("title")

	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()

	run, err := h.ingestion.Submit(c.Request.Context(), title, fileHeader.Filename, fileHeader.Size, f)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "upload_rejected", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": run.ID,
		"status": run.Status,
	})
}

// GET /api/content/status/:job_id
func (h *IngestionHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	view, err := h.ingestion.Status(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "status_read_failed", err)
		return
	}
	if view == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", fmt.Errorf("job %s not found", id))
		return
	}
	RespondOK(c, gin.H{"job": view})
}

// GET /api/content/jobs
func (h *IngestionHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	views, err := h.ingestion.List(c.Request.Context(), limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": views})
}

// POST /api/content/jobs/:job_id/cancel
func (h *IngestionHandler) CancelJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("job_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	accepted, err := h.ingestion.Cancel(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	if !accepted {
		RespondError(c, http.StatusConflict, "not_cancelable", fmt.Errorf("job %s is finished or unknown", id))
		return
	}
	RespondOK(c, gin.H{"job_id": id, "cancel_requested": true})
}
