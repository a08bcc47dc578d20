package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/tupyy/log-collector-agent/api/v1"
	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/internal/services"
	"github.com/tupyy/log-collector-agent/internal/store"
)

// StartCollection schedules a collection job
// (POST /collector)
func (h *Handler) StartCollection(c *gin.Context) {
	var req v1.StartCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	filter, err := filterFromRequest(req.Filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	collectionReq := services.CollectionRequest{
		Filter:             filter,
		Paths:              req.Paths,
		Compress:           req.Compress,
		DeleteAfterCollect: req.DeleteAfterCollect,
		DestinationRoot:    req.DestinationRoot,
	}
	for _, s := range req.Sources {
		collectionReq.Sources = append(collectionReq.Sources, s.ToModel())
	}

	jobID, err := h.collectorSrv.Start(c.Request.Context(), collectionReq)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCollectionInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrChannelUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, v1.StartCollectionResponse{JobID: jobID})
}

// CancelCollection cancels the active job
// (DELETE /collector)
func (h *Handler) CancelCollection(c *gin.Context) {
	if err := h.collectorSrv.Cancel(c.Query("jobId")); err != nil {
		if errors.Is(err, services.ErrNoActiveJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// GetCollectorStatus returns the active or last finished job
// (GET /collector)
func (h *Handler) GetCollectorStatus(c *gin.Context) {
	job, ok := h.collectorSrv.Status()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no collection job"})
		return
	}

	var resp v1.Job
	resp.FromModel(job)
	c.JSON(http.StatusOK, resp)
}

// ListJobs returns the persisted job history, newest first
// (GET /jobs)
func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.store.Jobs().List(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := v1.JobList{Jobs: make([]v1.Job, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i].FromModel(j)
	}
	c.JSON(http.StatusOK, resp)
}

// GetJob returns one job by id, checking the active job first
// (GET /jobs/:id)
func (h *Handler) GetJob(c *gin.Context) {
	id := c.Param("id")

	if active, ok := h.collectorSrv.Status(); ok && active.ID == id {
		var resp v1.Job
		resp.FromModel(active)
		c.JSON(http.StatusOK, resp)
		return
	}

	job, err := h.store.Jobs().Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var resp v1.Job
	resp.FromModel(*job)
	c.JSON(http.StatusOK, resp)
}

func filterFromRequest(f v1.Filter) (models.FilterConfig, error) {
	cfg := models.FilterConfig{
		Mode:    models.FilterMode(f.Mode),
		Pattern: f.Pattern,
	}
	if cfg.Mode == "" {
		cfg.Mode = models.FilterModeAll
	}
	if f.Since != "" {
		since, err := services.ParseSince(f.Since)
		if err != nil {
			return cfg, err
		}
		cfg.Since = since
	}
	return cfg, nil
}
