package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	v1 "github.com/tupyy/log-collector-agent/api/v1"
	"github.com/tupyy/log-collector-agent/internal/models"
	"github.com/tupyy/log-collector-agent/internal/services"
)

// Connect configures the connection profile and opens the session
// (PUT /connection)
func (h *Handler) Connect(c *gin.Context) {
	var req v1.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	profile, err := profileFromRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessionSrv.Connect(c.Request.Context(), *profile); err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyConnected):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAuthFailed):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrConnectTimeout), errors.Is(err, services.ErrNetwork):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	if h.store != nil {
		if err := h.store.Profiles().Save(c.Request.Context(), profile); err != nil {
			zap.S().Errorw("failed to persist connection profile", "error", err)
		}
	}

	h.GetConnectionStatus(c)
}

// Disconnect closes the session
// (DELETE /connection)
func (h *Handler) Disconnect(c *gin.Context) {
	h.sessionSrv.Disconnect()
	c.Status(http.StatusNoContent)
}

// GetConnectionStatus returns the session state
// (GET /connection)
func (h *Handler) GetConnectionStatus(c *gin.Context) {
	var resp v1.ConnectionStatus
	resp.FromModel(h.sessionSrv.State(), h.sessionSrv.Profile())
	c.JSON(http.StatusOK, resp)
}

func profileFromRequest(req v1.ConnectRequest) (*models.ConnectionProfile, error) {
	if req.Port == 0 {
		req.Port = 22
	}

	profile := &models.ConnectionProfile{
		Host:              req.Host,
		Port:              req.Port,
		Username:          req.Username,
		Password:          req.Password,
		PrivateKeyPath:    req.PrivateKeyPath,
		ReconnectAttempts: req.ReconnectAttempts,
	}

	var err error
	if profile.ConnectTimeout, err = parseDuration(req.ConnectTimeout, "connectTimeout"); err != nil {
		return nil, err
	}
	if profile.KeepAliveInterval, err = parseDuration(req.KeepAliveInterval, "keepAliveInterval"); err != nil {
		return nil, err
	}
	if profile.ReconnectBackoff, err = parseDuration(req.ReconnectBackoff, "reconnectBackoff"); err != nil {
		return nil, err
	}
	return profile, nil
}

func parseDuration(value, name string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
