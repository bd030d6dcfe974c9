package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/conversation"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/pkg/logger"
)

const landlord model.UserID = 99

type fakeAPI struct {
	mu        sync.Mutex
	messages  []model.ChatMessage
	tenants   []model.Tenant
	listErr   error
	sendErr   error
	readErr   error
	deleteErr map[int64]error

	fetches int
	sent    []model.SendMessageRequest
	read    []int64
	deleted []int64
}

func (f *fakeAPI) ChatMessages(ctx context.Context) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.ChatMessage(nil), f.messages...), nil
}

func (f *fakeAPI) Tenants(ctx context.Context) ([]model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Tenant(nil), f.tenants...), nil
}

func (f *fakeAPI) SendChatMessage(ctx context.Context, req model.SendMessageRequest) (*model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	return &model.ChatMessage{
		ID:        500 + int64(len(f.sent)),
		Sender:    landlord,
		Recipient: req.Recipient,
		Message:   req.Message,
		Timestamp: "2024-03-10T08:00:00Z",
	}, nil
}

func (f *fakeAPI) MarkChatMessageRead(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	f.read = append(f.read, id)
	return nil
}

func (f *fakeAPI) DeleteChatMessage(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	events    []model.InboxEvent
	err       error
	onPublish func()
}

func (p *fakePublisher) PublishEvent(ctx context.Context, event *model.InboxEvent) (uint64, error) {
	p.mu.Lock()
	p.events = append(p.events, *event)
	seq, err, hook := uint64(len(p.events)), p.err, p.onPublish
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return seq, err
}

func (p *fakePublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tenants: []model.Tenant{
			{ID: 1, User: 11, FirstName: "Ann", LastName: "Lee",
				Unit: &model.TenantUnit{ID: 100, UnitID: "1A", Property: &model.PropertyRef{ID: 50, Name: "Maple Court"}}},
			{ID: 2, User: 12, FirstName: "Bo", LastName: "Chan"},
			{ID: 3, FirstName: "No", LastName: "Account"},
		},
		messages: []model.ChatMessage{
			{ID: 1, Sender: 11, Recipient: landlord, Message: "leak", Timestamp: "2024-03-01T09:00:00Z", IsRead: false},
			{ID: 2, Sender: landlord, Recipient: 11, Message: "on it", Timestamp: "2024-03-01T10:00:00Z", IsRead: false},
			{ID: 3, Sender: 11, Recipient: landlord, Message: "thanks", Timestamp: "2024-03-02T09:00:00Z", IsRead: false},
			{ID: 4, Sender: 12, Recipient: landlord, Message: "rent", Timestamp: "2024-03-01T08:00:00Z", IsRead: true},
			{ID: 5, Sender: 77, Recipient: landlord, Message: "spam", Timestamp: "2024-03-01T08:00:00Z"},
		},
	}
}

func newTestService(api *fakeAPI, pub EventPublisher) *InboxService {
	s := NewInboxService(api, pub, logger.Nop())
	s.now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestSyncBuildsInbox(t *testing.T) {
	api := newFakeAPI()
	pub := &fakePublisher{}
	s := newTestService(api, pub)

	convs, err := s.Sync(context.Background(), landlord)
	require.NoError(t, err)

	require.Len(t, convs, 2)
	assert.Equal(t, int64(1), convs[0].ID)
	assert.True(t, convs[0].Unread)
	assert.Equal(t, "thanks", convs[0].LastMessage)
	assert.Equal(t, model.SenderLandlord, convs[0].Messages[1].Sender)
	assert.Equal(t, int64(2), convs[1].ID)
	assert.False(t, convs[1].Unread)

	assert.Equal(t, []model.EventType{model.EventInboxSynced}, pub.types())
	assert.NotEmpty(t, pub.events[0].ID)
	assert.Equal(t, 2, pub.events[0].Count)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), s.SyncedAt())
}

func TestConversationsUsesCache(t *testing.T) {
	api := newFakeAPI()
	s := newTestService(api, nil)
	ctx := context.Background()

	_, err := s.Conversations(ctx, landlord, false)
	require.NoError(t, err)
	_, err = s.Conversations(ctx, landlord, false)
	require.NoError(t, err)
	assert.Equal(t, 1, api.fetches)

	_, err = s.Conversations(ctx, landlord, true)
	require.NoError(t, err)
	assert.Equal(t, 2, api.fetches)

	_, err = s.Conversations(ctx, 5, false)
	require.NoError(t, err)
	assert.Equal(t, 3, api.fetches, "another user never sees the cached view")
}

func TestSyncPropagatesBackendErrors(t *testing.T) {
	api := newFakeAPI()
	api.listErr = apiclient.ErrSessionExpired
	s := newTestService(api, nil)

	_, err := s.Conversations(context.Background(), landlord, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, apiclient.ErrSessionExpired)
}

func TestSendMessage(t *testing.T) {
	api := newFakeAPI()
	pub := &fakePublisher{}
	s := newTestService(api, pub)
	ctx := context.Background()

	conv, err := s.SendMessage(ctx, landlord, 1, "plumber at 9")
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	req := api.sent[0]
	assert.Equal(t, model.UserID(11), req.Recipient)
	assert.Equal(t, "plumber at 9", req.Message)
	require.NotNil(t, req.Property)
	require.NotNil(t, req.Unit)
	assert.Equal(t, int64(50), *req.Property)
	assert.Equal(t, int64(100), *req.Unit)

	assert.Equal(t, "plumber at 9", conv.LastMessage)
	assert.False(t, conv.Unread)
	assert.Len(t, conv.Messages, 4)
	assert.Equal(t, int64(501), conv.Messages[3].ID)
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), conv.LastMessageTime)

	convs, err := s.Conversations(ctx, landlord, false)
	require.NoError(t, err)
	assert.Len(t, convs[0].Messages, 4)
	assert.Equal(t, 1, api.fetches, "the send is applied locally")

	assert.Equal(t, []model.EventType{model.EventInboxSynced, model.EventMessageSent}, pub.types())
}

func TestSendMessageStartsConversation(t *testing.T) {
	api := newFakeAPI()
	api.messages = nil
	s := newTestService(api, nil)

	conv, err := s.SendMessage(context.Background(), landlord, 2, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bo Chan", conv.Tenant)
	assert.Nil(t, api.sent[0].Property)

	convs, err := s.Conversations(context.Background(), landlord, false)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, int64(2), convs[0].ID)
}

func TestSendMessageErrors(t *testing.T) {
	ctx := context.Background()

	s := newTestService(newFakeAPI(), nil)
	_, err := s.SendMessage(ctx, landlord, 404, "x")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = s.SendMessage(ctx, landlord, 3, "x")
	assert.ErrorIs(t, err, ErrTenantNotLinked)

	api := newFakeAPI()
	api.sendErr = apiclient.ErrTimeout
	s = newTestService(api, nil)
	_, err = s.SendMessage(ctx, landlord, 1, "x")
	assert.ErrorIs(t, err, apiclient.ErrTimeout)

	convs, err := s.Conversations(ctx, landlord, false)
	require.NoError(t, err)
	assert.Len(t, convs[0].Messages, 3, "a failed send leaves the inbox unchanged")
}

func TestMarkRead(t *testing.T) {
	api := newFakeAPI()
	pub := &fakePublisher{}
	s := newTestService(api, pub)
	ctx := context.Background()

	before, err := s.Conversations(ctx, landlord, false)
	require.NoError(t, err)

	conv, err := s.MarkRead(ctx, landlord, 1)
	require.NoError(t, err)
	assert.False(t, conv.Unread)
	assert.Equal(t, model.StatusRead, conv.Status)
	assert.ElementsMatch(t, []int64{1, 3}, api.read, "only tenant messages are persisted")
	for _, m := range conv.Messages {
		if m.Sender == model.SenderTenant {
			assert.True(t, m.Read)
		}
	}

	assert.True(t, before[0].Unread, "earlier views are not modified")
	assert.False(t, before[0].Messages[0].Read)

	page, err := s.Rows(ctx, landlord, conversation.Query{Status: model.StatusUnread}, 1, 5)
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	assert.Contains(t, pub.types(), model.EventConversationRead)
}

func TestMarkReadKeepsLocalStateOnFailure(t *testing.T) {
	api := newFakeAPI()
	api.readErr = errors.New("boom")
	s := newTestService(api, nil)
	ctx := context.Background()

	conv, err := s.MarkRead(ctx, landlord, 1)
	require.Error(t, err)
	require.NotNil(t, conv)
	assert.False(t, conv.Unread)

	got, err := s.Conversation(ctx, landlord, 1)
	require.NoError(t, err)
	assert.False(t, got.Unread)
}

func TestMarkReadUnknownConversation(t *testing.T) {
	s := newTestService(newFakeAPI(), nil)
	_, err := s.MarkRead(context.Background(), landlord, 3)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = s.Conversation(context.Background(), landlord, 3)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestDeleteMessages(t *testing.T) {
	api := newFakeAPI()
	api.deleteErr = map[int64]error{2: errors.New("forbidden")}
	pub := &fakePublisher{}
	s := newTestService(api, pub)
	ctx := context.Background()

	deleted, err := s.DeleteMessages(ctx, landlord, []int64{3, 2})
	require.Error(t, err)
	assert.Equal(t, []int64{3}, deleted)

	var delErr *DeleteError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, []int64{2}, delErr.Failed)
	assert.ErrorContains(t, err, "forbidden")

	conv, err := s.Conversation(ctx, landlord, 1)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
	assert.Equal(t, "on it", conv.LastMessage)

	assert.Contains(t, pub.types(), model.EventMessagesDeleted)
}

func TestRowsPropertiesAndTenantSearch(t *testing.T) {
	s := newTestService(newFakeAPI(), nil)
	ctx := context.Background()

	page, err := s.Rows(ctx, landlord, conversation.Query{Box: conversation.BoxReceived}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, "1-3", page.Rows[0].ID)

	props, err := s.Properties(ctx, landlord)
	require.NoError(t, err)
	assert.Equal(t, []string{"Maple Court"}, props)

	opts, err := s.SearchTenants(ctx, landlord, "chan")
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, int64(2), opts[0].ID)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	s := newTestService(newFakeAPI(), pub)

	_, err := s.SendMessage(context.Background(), landlord, 1, "hi")
	require.NoError(t, err)
}

func TestReset(t *testing.T) {
	api := newFakeAPI()
	s := newTestService(api, nil)
	ctx := context.Background()

	_, err := s.Conversations(ctx, landlord, false)
	require.NoError(t, err)
	s.Reset()
	assert.True(t, s.SyncedAt().IsZero())

	_, err = s.Conversations(ctx, landlord, false)
	require.NoError(t, err)
	assert.Equal(t, 2, api.fetches)
}

func TestResetDuringSyncKeepsCallerView(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestService(newFakeAPI(), pub)
	pub.onPublish = s.Reset
	ctx := context.Background()

	page, err := s.Rows(ctx, landlord, conversation.Query{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)

	props, err := s.Properties(ctx, landlord)
	require.NoError(t, err)
	assert.Equal(t, []string{"Maple Court"}, props)

	conv, err := s.Conversation(ctx, landlord, 1)
	require.NoError(t, err)
	assert.Equal(t, "thanks", conv.LastMessage)

	conv, err = s.MarkRead(ctx, landlord, 1)
	require.NoError(t, err)
	assert.False(t, conv.Unread)

	conv, err = s.SendMessage(ctx, landlord, 2, "see you")
	require.NoError(t, err)
	assert.Equal(t, "see you", conv.LastMessage)
}

func TestConcurrentResetAndReads(t *testing.T) {
	s := newTestService(newFakeAPI(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Rows(ctx, landlord, conversation.Query{}, 1, 5)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			s.Reset()
		}()
	}
	wg.Wait()
}
