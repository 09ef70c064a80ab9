package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/hatchery-backend/internal/http/response"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	job, err := h.jobs.GetByID(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
		return
	}
	if job == nil {
		response.RespondError(c, http.StatusNotFound, "JOB_NOT_FOUND", fmt.Errorf("job %s not found", jobID))
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
