package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/conversation"
	"github.com/edo-homes/portal/internal/middleware"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/internal/service"
	"github.com/edo-homes/portal/pkg/logger"
)

// MessageHandler handles the email-style inbox endpoints.
type MessageHandler struct {
	pageSize int
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(pageSize int, log *logger.Logger) *MessageHandler {
	if pageSize <= 0 {
		pageSize = conversation.DefaultPageSize
	}
	return &MessageHandler{
		pageSize: pageSize,
		logger:   log.Named("messages"),
	}
}

type deleteMessagesRequest struct {
	IDs []int64 `json:"ids"`
}

type deleteMessagesResponse struct {
	Deleted []int64 `json:"deleted"`
	Failed  []int64 `json:"failed,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// List handles GET /api/v1/messages
//
// Query parameters: box (all|received|sent), q, status (all|read|unread),
// property, start and end (YYYY-MM-DD), sort (latest|oldest), page,
// per_page.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params := r.URL.Query()

	q := conversation.Query{
		Box:      conversation.Box(params.Get("box")),
		Search:   params.Get("q"),
		Status:   model.ReadStatus(params.Get("status")),
		Property: params.Get("property"),
		Sort:     conversation.SortOrder(params.Get("sort")),
	}

	switch q.Box {
	case "", conversation.BoxAll, conversation.BoxReceived, conversation.BoxSent:
	default:
		writeError(w, http.StatusBadRequest, "box must be all, received or sent")
		return
	}
	switch q.Status {
	case "", "all", model.StatusRead, model.StatusUnread:
	default:
		writeError(w, http.StatusBadRequest, "status must be all, read or unread")
		return
	}
	switch q.Sort {
	case "", conversation.SortLatest, conversation.SortOldest:
	default:
		writeError(w, http.StatusBadRequest, "sort must be latest or oldest")
		return
	}

	var err error
	if q.StartDate, err = middleware.ParseDate(params.Get("start")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.EndDate, err = middleware.ParseDate(params.Get("end")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := middleware.ParsePage(params.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage, err := middleware.ParsePage(params.Get("per_page"), h.pageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if perPage > conversation.MaxPageSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("per_page must be at most %d", conversation.MaxPageSize))
		return
	}

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	result, err := inbox.Rows(ctx, middleware.GetUserID(ctx), q, page, perPage)
	if err != nil {
		writeClientError(w, middleware.RequestLogger(ctx, h.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Delete handles DELETE /api/v1/messages
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deleteMessagesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ParseMessageIDs(req.IDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	deleted, err := inbox.DeleteMessages(ctx, middleware.GetUserID(ctx), req.IDs)
	if deleted == nil {
		deleted = []int64{}
	}

	var delErr *service.DeleteError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, deleteMessagesResponse{Deleted: deleted})
	case len(deleted) > 0 && !isSessionError(err) && errors.As(err, &delErr):
		// Partial delete: the deleted ids are already gone locally.
		writeJSON(w, http.StatusMultiStatus, deleteMessagesResponse{
			Deleted: deleted,
			Failed:  delErr.Failed,
			Error:   failureMessage(err),
		})
	default:
		writeClientError(w, middleware.RequestLogger(ctx, h.logger), err)
	}
}

// failureMessage is the backend's own message for err when it has one.
func failureMessage(err error) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return apiclient.UserMessage(err)
}
