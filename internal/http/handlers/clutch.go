package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/hatchery-backend/internal/http/response"
	"github.com/yungbote/hatchery-backend/internal/platform/dbctx"
	"github.com/yungbote/hatchery-backend/internal/services"
)

type ClutchHandler struct {
	clutches services.ClutchService
	reads    services.ClutchReadService
}

func NewClutchHandler(clutches services.ClutchService, reads services.ClutchReadService) *ClutchHandler {
	return &ClutchHandler{clutches: clutches, reads: reads}
}

type initiateUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type storageEventRequest struct {
	Bucket    string `json:"bucket"`
	ObjectKey string `json:"objectKey"`
}

// POST /api/clutches
func (h *ClutchHandler) InitiateUpload(c *gin.Context) {
	var req initiateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	ticket, err := h.clutches.InitiateUpload(dbc, req.FileName, req.ContentType)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, ticket)
}

// POST /api/storage-events
func (h *ClutchHandler) StorageEvent(c *gin.Context) {
	var req storageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, err := h.clutches.HandleStorageEvent(dbc, req.Bucket, req.ObjectKey)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	out := gin.H{"accepted": true}
	if job != nil {
		out["jobId"] = job.ID
	}
	response.RespondOK(c, out)
}

// GET /api/clutches/:id
func (h *ClutchHandler) GetClutch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "INVALID_CLUTCH_ID", fmt.Errorf("invalid clutch id %q", c.Param("id")))
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	detail, err := h.reads.Get(dbc, id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, detail)
}

// GET /api/clutches
func (h *ClutchHandler) ListClutches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	out, err := h.reads.List(dbc, limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"clutches": out})
}
