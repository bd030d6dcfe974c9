// Package handler provides HTTP handlers for the portal.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/conversation"
	"github.com/edo-homes/portal/internal/middleware"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/pkg/logger"
)

// ConversationHandler handles the chat view endpoints.
type ConversationHandler struct {
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		logger: log.Named("conversations"),
	}
}

type conversationList struct {
	Conversations []model.Conversation `json:"conversations"`
	Unread        int                  `json:"unread"`
	SyncedAt      time.Time            `json:"synced_at"`
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	refresh := r.URL.Query().Get("refresh") == "true"
	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	convs, err := inbox.Conversations(ctx, middleware.GetUserID(ctx), refresh)
	if err != nil {
		writeClientError(w, middleware.RequestLogger(ctx, h.logger), err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	writeJSON(w, http.StatusOK, conversationList{
		Conversations: convs,
		Unread:        conversation.UnreadCount(convs),
		SyncedAt:      inbox.SyncedAt(),
	})
}

// Get handles GET /api/v1/conversations/{tenantID}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := middleware.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	conv, err := inbox.Conversation(ctx, middleware.GetUserID(ctx), tenantID)
	if err != nil {
		writeClientError(w, middleware.RequestLogger(ctx, h.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Send handles POST /api/v1/conversations/{tenantID}/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := middleware.RequestLogger(ctx, h.logger)

	tenantID, err := middleware.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	conv, err := inbox.SendMessage(ctx, middleware.GetUserID(ctx), tenantID, req.Message)
	if err != nil {
		writeClientError(w, log, err)
		return
	}

	log.Debug("message sent", zap.Int64("tenant_id", tenantID))
	writeJSON(w, http.StatusCreated, conv)
}

// MarkRead handles POST /api/v1/conversations/{tenantID}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := middleware.RequestLogger(ctx, h.logger)

	tenantID, err := middleware.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	conv, err := inbox.MarkRead(ctx, middleware.GetUserID(ctx), tenantID)
	if err != nil {
		writeClientError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
