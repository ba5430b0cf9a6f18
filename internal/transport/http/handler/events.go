package handler

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/podworks/podworks/internal/events"
)

// subscriberBuffer bounds how far a slow SSE client may lag before it
// starts losing events.
const subscriberBuffer = 64

// EventsHandler streams job lifecycle events over server-sent events.
type EventsHandler struct {
	bus    *events.Bus
	logger *slog.Logger
}

func NewEventsHandler(bus *events.Bus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger.With("component", "events_handler")}
}

func (h *EventsHandler) Stream(ctx *gin.Context) {
	ch, cancel := h.bus.Subscribe(subscriberBuffer)
	defer cancel()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")

	clientGone := ctx.Request.Context().Done()
	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			ctx.SSEvent(string(e.Type), e)
			return true
		}
	})
}
