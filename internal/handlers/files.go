package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/tupyy/log-collector-agent/api/v1"
	"github.com/tupyy/log-collector-agent/internal/services"
)

// QueryFiles runs discovery over one source and returns the matching files
// (POST /files/query)
func (h *Handler) QueryFiles(c *gin.Context) {
	var req v1.FileQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	filter, err := filterFromRequest(req.Filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, discoveryErrs, err := h.collectorSrv.ListFiles(c.Request.Context(), req.Source.ToModel(), filter)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChannelUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrRootInaccessible):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	resp := v1.FileQueryResponse{Files: make([]v1.FileEntry, len(entries))}
	for i, e := range entries {
		resp.Files[i].FromModel(e)
	}
	for _, de := range discoveryErrs {
		var apiErr v1.CollectionError
		apiErr.FromModel(de)
		resp.Errors = append(resp.Errors, apiErr)
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteFiles removes files from a source
// (POST /files/delete)
func (h *Handler) DeleteFiles(c *gin.Context) {
	var req v1.DeleteFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	deleted, failed, err := h.collectorSrv.DeleteFiles(c.Request.Context(), req.Source.ToModel(), req.Paths)
	if err != nil {
		if errors.Is(err, services.ErrChannelUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, v1.DeleteFilesResponse{Deleted: deleted, Failed: failed})
}
