package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/swap2you/chakraops-sub000/internal/events"
)

// Per-connection subscriber buffer. A client that falls this far behind
// starts losing events rather than stalling the publishers.
const streamBuffer = 64

// EventsStreamHandler bridges the in-process event bus to websocket clients.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates the stream handler.
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeWS upgrades the connection and forwards bus events as JSON text
// frames until the client disconnects.
// GET /api/events
func (h *EventsStreamHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	sub, cancel := h.bus.Subscribe(streamBuffer)
	defer cancel()

	ctx := r.Context()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Event stream client connected")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case event, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "bus closed")
				return
			}
			if err := h.writeEvent(ctx, conn, event); err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					h.log.Debug().Err(err).Msg("Event stream write failed; dropping client")
				}
				return
			}
		}
	}
}

func (h *EventsStreamHandler) writeEvent(ctx context.Context, conn *websocket.Conn, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to encode event")
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
