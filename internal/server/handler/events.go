package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/service"
)

// EventReader replays recent ledger events from the durable event stream.
type EventReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves the event replay endpoint.
type EventsHandler struct {
	bus    EventReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler with the given bus and logger.
func NewEventsHandler(bus EventReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logger.With(slog.String("component", "events_handler")),
	}
}

// streamEvent is one replayed event with its stream cursor, so clients can
// resume from the last ID they saw.
type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents replays recent ledger events from the durable stream.
// GET /api/events?after=<stream-id>&limit=<n>
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	msgs, err := h.bus.StreamRead(r.Context(), service.EventStream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "events_handler: stream read",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "event stream unavailable")
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, streamEvent{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
