package handlers

import (
	"github.com/tupyy/log-collector-agent/internal/services"
	"github.com/tupyy/log-collector-agent/internal/store"
	"github.com/tupyy/log-collector-agent/pkg/events"
)

// Handler bundles the services behind the HTTP API.
type Handler struct {
	sessionSrv   *services.Session
	collectorSrv *services.CollectorService
	store        *store.Store
	bus          *events.Bus
}

func New(sessionSrv *services.Session, collectorSrv *services.CollectorService, s *store.Store, bus *events.Bus) *Handler {
	return &Handler{
		sessionSrv:   sessionSrv,
		collectorSrv: collectorSrv,
		store:        s,
		bus:          bus,
	}
}
