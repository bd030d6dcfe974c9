package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/conversation"
	"github.com/edo-homes/portal/internal/middleware"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/pkg/logger"
	"github.com/edo-homes/portal/pkg/metrics"
)

// DefaultHeartbeatInterval keeps idle SSE connections open through proxies.
const DefaultHeartbeatInterval = 30 * time.Second

// StreamHandler pushes the conversation list over SSE.
type StreamHandler struct {
	pollInterval time.Duration
	heartbeat    time.Duration
	logger       *logger.Logger
}

// NewStreamHandler creates a new stream handler that re-syncs the inbox
// every pollInterval.
func NewStreamHandler(pollInterval time.Duration, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		pollInterval: pollInterval,
		heartbeat:    DefaultHeartbeatInterval,
		logger:       log.Named("stream"),
	}
}

type snapshotEvent struct {
	Conversations []model.Conversation `json:"conversations"`
	Unread        int                  `json:"unread"`
}

type heartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

type errorEvent struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
}

// Stream handles GET /api/v1/conversations/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := middleware.GetUserID(ctx)
	log := middleware.RequestLogger(ctx, h.logger)

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]int64{"user_id": int64(actor)})

	var last []byte
	push := func(refresh bool) bool {
		convs, err := inbox.Conversations(ctx, actor, refresh)
		if err != nil {
			ev := &errorEvent{Code: "sync_error", Message: apiclient.UserMessage(err)}
			if isSessionError(err) {
				ev.Code, ev.Redirect = "session_expired", apiclient.SignInPath
				sendSSEEvent(w, flusher, "error", ev)
				return false
			}
			log.Warn("inbox sync failed", zap.Error(err))
			sendSSEEvent(w, flusher, "error", ev)
			return true
		}
		if convs == nil {
			convs = []model.Conversation{}
		}
		data, err := json.Marshal(&snapshotEvent{
			Conversations: convs,
			Unread:        conversation.UnreadCount(convs),
		})
		if err != nil {
			log.Error("failed to encode snapshot", zap.Error(err))
			return true
		}
		if bytes.Equal(data, last) {
			return true
		}
		last = data
		writeSSE(w, flusher, "conversations", data)
		return true
	}

	if !push(false) {
		return
	}

	var poll <-chan time.Time
	if h.pollInterval > 0 {
		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case <-poll:
			if !push(true) {
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &heartbeatEvent{
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	writeSSE(w, flusher, event, jsonData)
	return nil
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
