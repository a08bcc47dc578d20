package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
)

// StreamEvents bridges the event bus to the client over server-sent events
// (GET /events)
func (h *Handler) StreamEvents(c *gin.Context) {
	ch, unsubscribe := h.bus.Subscribe(32)
	defer unsubscribe()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}
