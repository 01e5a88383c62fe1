package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

// heartbeatInterval keeps idle SSE connections from being reaped by proxies.
const heartbeatInterval = 30 * time.Second

// EventsHandler serves the per-session SSE stream.
type EventsHandler struct {
	store store.Store
	bus   *events.Bus
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(st store.Store, bus *events.Bus) *EventsHandler {
	return &EventsHandler{store: st, bus: bus}
}

// Stream handles GET /api/sessions/:sid/stream. Standard SSE framing, one
// event name per bus kind; no replay on reconnect.
func (h *EventsHandler) Stream(c *gin.Context) {
	sid := c.Param("sid")
	if _, err := h.store.Session().GetByID(sid); err != nil {
		fail(c, errors.ErrNotFound("session"))
		return
	}

	sub := h.bus.Subscribe(sid, 0)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", evt.Kind, payload)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
