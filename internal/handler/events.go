package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/edo-homes/portal/internal/middleware"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/pkg/logger"
)

// EventReader reads the inbox activity log.
type EventReader interface {
	RecentEvents(ctx context.Context, actor model.UserID, afterSequence uint64, limit int) ([]model.InboxEvent, uint64, error)
}

// EventHandler serves the inbox activity log.
type EventHandler struct {
	events EventReader
	logger *logger.Logger
}

// NewEventHandler creates a new event handler. events may be nil when the
// event stream is disabled.
func NewEventHandler(events EventReader, log *logger.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: log.Named("events"),
	}
}

type eventList struct {
	Events       []model.InboxEvent `json:"events"`
	LastSequence uint64             `json:"last_sequence"`
}

// List handles GET /api/v1/events
// Supports ?after_sequence=N for resuming and ?limit=N.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	ctx := r.Context()

	var afterSequence uint64
	if raw := r.URL.Query().Get("after_sequence"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
			return
		}
		afterSequence = seq
	}
	limit, err := middleware.ParsePage(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, last, err := h.events.RecentEvents(ctx, middleware.GetUserID(ctx), afterSequence, limit)
	if err != nil {
		writeClientError(w, middleware.RequestLogger(ctx, h.logger), err)
		return
	}
	if events == nil {
		events = []model.InboxEvent{}
	}
	writeJSON(w, http.StatusOK, eventList{Events: events, LastSequence: last})
}
