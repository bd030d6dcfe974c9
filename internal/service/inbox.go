// Package service provides the landlord inbox on top of the backend API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/conversation"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/pkg/logger"
	"github.com/edo-homes/portal/pkg/metrics"
)

var (
	// ErrTenantNotFound is returned for a tenant id outside the directory.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantNotLinked is returned when a tenant has no user account to
	// receive messages.
	ErrTenantNotLinked = errors.New("tenant has no linked user account")

	// ErrConversationNotFound is returned for a tenant without a conversation.
	ErrConversationNotFound = errors.New("conversation not found")
)

// BackendAPI is the part of the backend client the inbox needs.
type BackendAPI interface {
	ChatMessages(ctx context.Context) ([]model.ChatMessage, error)
	Tenants(ctx context.Context) ([]model.Tenant, error)
	SendChatMessage(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error)
	MarkChatMessageRead(ctx context.Context, id int64) error
	DeleteChatMessage(ctx context.Context, id int64) error
}

// EventPublisher receives inbox events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.InboxEvent) (uint64, error)
}

// snapshot is one aggregated view of the inbox. It is replaced, never
// modified in place.
type snapshot struct {
	actor         model.UserID
	conversations []model.Conversation
	tenants       []model.Tenant
	syncedAt      time.Time
}

// InboxService keeps the landlord's aggregated inbox and applies changes
// both locally and on the backend.
type InboxService struct {
	api       BackendAPI
	publisher EventPublisher
	logger    *logger.Logger
	now       func() time.Time

	mu   sync.RWMutex
	view *snapshot
}

// NewInboxService creates an inbox service. publisher may be nil.
func NewInboxService(api BackendAPI, publisher EventPublisher, log *logger.Logger) *InboxService {
	if log == nil {
		log = logger.Global()
	}
	return &InboxService{
		api:       api,
		publisher: publisher,
		logger:    log.Named("inbox"),
		now:       time.Now,
	}
}

// Sync fetches messages and tenants and rebuilds the inbox for actor.
func (s *InboxService) Sync(ctx context.Context, actor model.UserID) ([]model.Conversation, error) {
	view, err := s.sync(ctx, actor)
	if err != nil {
		return nil, err
	}
	return view.conversations, nil
}

// sync builds and stores a new snapshot and returns it, so callers never
// read back a view that a concurrent Reset or Sync has replaced.
func (s *InboxService) sync(ctx context.Context, actor model.UserID) (*snapshot, error) {
	var (
		wg       sync.WaitGroup
		messages []model.ChatMessage
		tenants  []model.Tenant
		msgErr   error
		tErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		messages, msgErr = s.api.ChatMessages(ctx)
	}()
	go func() {
		defer wg.Done()
		tenants, tErr = s.api.Tenants(ctx)
	}()
	wg.Wait()

	if msgErr != nil {
		return nil, fmt.Errorf("failed to fetch chat messages: %w", msgErr)
	}
	if tErr != nil {
		return nil, fmt.Errorf("failed to fetch tenants: %w", tErr)
	}

	convs, stats := (&conversation.Aggregator{CurrentUserID: actor}).Aggregate(messages, tenants)
	for reason, n := range stats.Skipped {
		metrics.AggregationSkippedTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
	if skipped := stats.TotalSkipped(); skipped > 0 {
		s.logger.Debug("chat messages skipped during aggregation",
			zap.Int("skipped", skipped),
			zap.Int("attributed", stats.Attributed),
		)
	}

	view := &snapshot{
		actor:         actor,
		conversations: convs,
		tenants:       tenants,
		syncedAt:      s.now(),
	}
	s.store(view)

	s.logger.Info("inbox synced",
		zap.Int64("user_id", int64(actor)),
		zap.Int("conversations", len(convs)),
		zap.Int("messages", stats.Attributed),
	)
	s.publish(ctx, &model.InboxEvent{
		Type:  model.EventInboxSynced,
		Actor: actor,
		Count: len(convs),
	})

	return view, nil
}

// Conversations returns the cached inbox, syncing first when there is no
// view for actor or refresh is set.
func (s *InboxService) Conversations(ctx context.Context, actor model.UserID, refresh bool) ([]model.Conversation, error) {
	view, err := s.current(ctx, actor, refresh)
	if err != nil {
		return nil, err
	}
	return view.conversations, nil
}

// Conversation returns the conversation with one tenant.
func (s *InboxService) Conversation(ctx context.Context, actor model.UserID, tenantID int64) (*model.Conversation, error) {
	view, err := s.current(ctx, actor, false)
	if err != nil {
		return nil, err
	}
	for i := range view.conversations {
		if view.conversations[i].ID == tenantID {
			c := view.conversations[i]
			return &c, nil
		}
	}
	return nil, ErrConversationNotFound
}

// SyncedAt returns when the inbox was last fetched from the backend.
func (s *InboxService) SyncedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.view == nil {
		return time.Time{}
	}
	return s.view.syncedAt
}

// Rows returns one page of the email-style inbox.
func (s *InboxService) Rows(ctx context.Context, actor model.UserID, q conversation.Query, page, perPage int) (model.Page, error) {
	view, err := s.current(ctx, actor, false)
	if err != nil {
		return model.Page{}, err
	}
	rows := conversation.Filter(conversation.ToTableRows(view.conversations), q)
	return conversation.Paginate(rows, page, perPage), nil
}

// Properties returns the property names the inbox can be filtered on.
func (s *InboxService) Properties(ctx context.Context, actor model.UserID) ([]string, error) {
	view, err := s.current(ctx, actor, false)
	if err != nil {
		return nil, err
	}
	return conversation.Properties(conversation.ToTableRows(view.conversations)), nil
}

// SearchTenants searches the tenant directory.
func (s *InboxService) SearchTenants(ctx context.Context, actor model.UserID, q string) ([]model.TenantOption, error) {
	view, err := s.current(ctx, actor, false)
	if err != nil {
		return nil, err
	}
	return conversation.SearchTenants(view.tenants, q), nil
}

// SendMessage sends content to a tenant and appends it to their
// conversation once the backend has stored it.
func (s *InboxService) SendMessage(ctx context.Context, actor model.UserID, tenantID int64, content string) (*model.Conversation, error) {
	view, err := s.current(ctx, actor, false)
	if err != nil {
		return nil, err
	}

	tenant, ok := conversation.FindTenant(view.tenants, tenantID)
	if !ok {
		return nil, ErrTenantNotFound
	}
	if tenant.User == 0 {
		return nil, ErrTenantNotLinked
	}

	stored, err := s.api.SendChatMessage(ctx, model.SendMessageRequest{
		Recipient: tenant.User,
		Message:   content,
		Property:  tenant.PropertyID(),
		Unit:      tenant.UnitID(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	sent := model.OrderedMessage{
		ID:        stored.ID,
		Content:   content,
		Timestamp: s.now().UTC(),
		Read:      stored.IsRead,
	}
	if stored.Message != "" {
		sent.Content = stored.Message
	}
	if ts, err := conversation.ParseTimestamp(stored.Timestamp); err == nil {
		sent.Timestamp = ts
	}

	var updated model.Conversation
	pick := func(convs []model.Conversation) {
		for _, c := range convs {
			if c.ID == tenantID {
				updated = c
			}
		}
	}
	applied := s.update(actor, func(v *snapshot) {
		v.conversations = conversation.ApplyLocalSend(v.conversations, tenantID, sent, v.tenants)
		pick(v.conversations)
	})
	if !applied {
		pick(conversation.ApplyLocalSend(view.conversations, tenantID, sent, view.tenants))
	}

	metrics.MessagesSentTotal.Inc()
	s.logger.Info("message sent",
		zap.Int64("tenant_id", tenantID),
		zap.Int64("message_id", stored.ID),
	)
	s.publish(ctx, &model.InboxEvent{
		Type:           model.EventMessageSent,
		Actor:          actor,
		ConversationID: tenantID,
		MessageIDs:     []int64{stored.ID},
	})

	return &updated, nil
}

// MarkRead marks a conversation read locally, then persists the read flag
// of its unread tenant messages. The local change is kept when persisting
// fails.
func (s *InboxService) MarkRead(ctx context.Context, actor model.UserID, tenantID int64) (*model.Conversation, error) {
	view, err := s.current(ctx, actor, false)
	if err != nil {
		return nil, err
	}

	var (
		updated model.Conversation
		pending []int64
		found   bool
	)
	markRead := func(in []model.Conversation) []model.Conversation {
		convs := conversation.MarkRead(in, tenantID)
		for i := range convs {
			if convs[i].ID != tenantID {
				continue
			}
			convs[i], pending = readAll(convs[i])
			updated, found = convs[i], true
		}
		return convs
	}
	applied := s.update(actor, func(v *snapshot) {
		v.conversations = markRead(v.conversations)
	})
	if !applied {
		markRead(view.conversations)
	}
	if !found {
		return nil, ErrConversationNotFound
	}

	var errs []error
	for _, id := range pending {
		if err := s.api.MarkChatMessageRead(ctx, id); err != nil {
			s.logger.Warn("failed to persist read flag", zap.Int64("message_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("message %d: %w", id, err))
		}
	}

	s.publish(ctx, &model.InboxEvent{
		Type:           model.EventConversationRead,
		Actor:          actor,
		ConversationID: tenantID,
		MessageIDs:     pending,
	})

	if len(errs) > 0 {
		return &updated, fmt.Errorf("failed to persist read state: %w", errors.Join(errs...))
	}
	return &updated, nil
}

// readAll returns c with every tenant message flagged read, and the ids
// that changed.
func readAll(c model.Conversation) (model.Conversation, []int64) {
	var ids []int64
	msgs := make([]model.OrderedMessage, len(c.Messages))
	copy(msgs, c.Messages)
	for i := range msgs {
		if msgs[i].Sender == model.SenderTenant && !msgs[i].Read {
			msgs[i].Read = true
			ids = append(ids, msgs[i].ID)
		}
	}
	c.Messages = msgs
	return c, ids
}

// DeleteError reports the messages of a bulk delete the backend refused.
type DeleteError struct {
	Failed []int64
	Err    error
}

func (e *DeleteError) Error() string {
	return "failed to delete messages: " + e.Err.Error()
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

// DeleteMessages deletes messages on the backend and drops the ones that
// were deleted from the inbox. It returns the deleted ids, also when some
// deletes failed.
func (s *InboxService) DeleteMessages(ctx context.Context, actor model.UserID, ids []int64) ([]int64, error) {
	if _, err := s.current(ctx, actor, false); err != nil {
		return nil, err
	}

	var (
		deleted []int64
		failed  []int64
		errs    []error
	)
	for _, id := range ids {
		if err := s.api.DeleteChatMessage(ctx, id); err != nil {
			s.logger.Warn("failed to delete message", zap.Int64("message_id", id), zap.Error(err))
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("message %d: %w", id, err))
			continue
		}
		deleted = append(deleted, id)
	}

	if len(deleted) > 0 {
		s.update(actor, func(v *snapshot) {
			v.conversations = conversation.RemoveMessages(v.conversations, deleted)
		})
		s.publish(ctx, &model.InboxEvent{
			Type:       model.EventMessagesDeleted,
			Actor:      actor,
			MessageIDs: deleted,
			Count:      len(deleted),
		})
	}

	if len(errs) > 0 {
		return deleted, &DeleteError{Failed: failed, Err: errors.Join(errs...)}
	}
	return deleted, nil
}

// Reset drops the cached inbox, e.g. on logout.
func (s *InboxService) Reset() {
	s.mu.Lock()
	s.view = nil
	s.mu.Unlock()
	metrics.RecordInbox(0, 0)
}

func (s *InboxService) current(ctx context.Context, actor model.UserID, refresh bool) (*snapshot, error) {
	if !refresh {
		s.mu.RLock()
		view := s.view
		s.mu.RUnlock()
		if view != nil && view.actor == actor {
			return view, nil
		}
	}
	return s.sync(ctx, actor)
}

func (s *InboxService) store(view *snapshot) {
	s.mu.Lock()
	s.view = view
	s.mu.Unlock()
	metrics.RecordInbox(len(view.conversations), conversation.UnreadCount(view.conversations))
}

// update replaces the view with a modified copy. Changes for a different
// actor than the cached one are dropped and update reports false.
func (s *InboxService) update(actor model.UserID, fn func(v *snapshot)) bool {
	s.mu.Lock()
	if s.view == nil || s.view.actor != actor {
		s.mu.Unlock()
		return false
	}
	next := *s.view
	fn(&next)
	s.view = &next
	convs := next.conversations
	s.mu.Unlock()

	metrics.RecordInbox(len(convs), conversation.UnreadCount(convs))
	return true
}

func (s *InboxService) publish(ctx context.Context, event *model.InboxEvent) {
	if s.publisher == nil {
		return
	}
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.CreatedAt = s.now().UTC()

	outcome := "success"
	if _, err := s.publisher.PublishEvent(ctx, event); err != nil {
		outcome = "error"
		s.logger.Warn("failed to publish inbox event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
	}
	metrics.EventsPublishedTotal.WithLabelValues(string(event.Type), outcome).Inc()
}
